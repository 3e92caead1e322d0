// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

/*
Package pipeline runs two cooperating stages joined by a single byte stream.

A Pipeline has a producer and a consumer. The producer's standard output is
connected to the consumer's standard input through an OS pipe, and the
consumer's standard output is written to the destination supplied by the
caller. Data never passes through this process's memory, so memory use is
bounded by the kernel pipe buffer regardless of how large the stream gets.

	producer (pg_dumpall) --pipe--> consumer (gzip) --> destination file

Each stage's standard error is captured separately into a bounded tail buffer
for diagnostics. Capturing stderr never blocks a stage: once the buffer is
full, older bytes are discarded.

# Completion

A run succeeds only when both stages exit with status zero. If the producer
fails, the run fails with the producer's exit code and the consumer is killed.
If the consumer fails, the run fails with the consumer's exit code. A consumer
that exits zero after a producer that exited non-zero is still a failure: the
compressed stream is very likely truncated.

# Stages

Stage is an interface so that tests can substitute in-process fakes for real
executables. Command is the production implementation, backed by os/exec.

	p := pipeline.NewDump(pipeline.DefaultTools(), conn)
	result, err := p.Run(ctx, artifactFile)
	if err != nil {
	    var stageErr *pipeline.StageError
	    if errors.As(err, &stageErr) {
	        log.Printf("%s exited %d: %s", stageErr.Stage, stageErr.Code, stageErr.Stderr)
	    }
	}
*/
package pipeline
