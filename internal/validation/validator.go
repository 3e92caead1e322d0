// pgbackupd - Scheduled PostgreSQL Backup Orchestrator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pgbackupd

// Package validation provides struct validation using go-playground/validator v10.
//
// A single validator instance is shared by the process. It carries the custom
// tags used by configuration structs:
//
//	cron  a five-field cron expression or descriptor (@daily, @every 1h)
//
// Example usage:
//
//	type BackupConfig struct {
//	    CronExpression string `validate:"cron"`
//	    KeepLastAmount uint   `validate:"min=1"`
//	}
//
//	if err := validation.ValidateStruct(&cfg); err != nil {
//	    return fmt.Errorf("invalid configuration: %w", err)
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/pgbackupd/internal/scheduler"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single failed rule on one field.
type FieldError struct {
	Namespace string
	Field     string
	Tag       string
	Param     string
	Value     interface{}
	message   string
}

// Error returns a human-readable message.
func (e FieldError) Error() string {
	return e.message
}

// Error is returned by ValidateStruct and lists every failed field.
type Error struct {
	Fields []FieldError
}

func (ve *Error) Error() string {
	if len(ve.Fields) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		messages = append(messages, f.Error())
	}
	return strings.Join(messages, "; ")
}

// GetValidator returns the shared validator, creating it on first use.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report fields by their configuration key.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("koanf"), ",")
			switch name {
			case "-":
				return ""
			case "":
				return fld.Name
			}
			return name
		})

		// Registration only fails for an empty tag or a nil func.
		_ = validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool { //nolint:errcheck // static registration
			return scheduler.ValidateCronExpression(fl.Field().String()) == nil
		})
	})
	return validate
}

// ValidateStruct validates s. It returns nil or an *Error.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &Error{Fields: []FieldError{{Field: "unknown", Tag: "unknown", message: err.Error()}}}
	}

	fields := make([]FieldError, len(validationErrs))
	for i, fe := range validationErrs {
		fields[i] = FieldError{
			Namespace: fe.Namespace(),
			Field:     fe.Field(),
			Tag:       fe.Tag(),
			Param:     fe.Param(),
			Value:     fe.Value(),
			message:   translateError(fe),
		}
	}
	return &Error{Fields: fields}
}

var errorMessageTemplates = map[string]string{
	"required": "%s is required",
	"cron":     "%s must be a valid cron expression",
	"url":      "%s must be a valid URL",
	"hostname": "%s must be a valid hostname",
	"file":     "%s must be an existing file",
	"dir":      "%s must be an existing directory",
}

var errorMessageWithParam = map[string]string{
	"oneof":       "%s must be one of: %s",
	"required_if": "%s is required when %s",
	"gte":         "%s must be greater than or equal to %s",
	"lte":         "%s must be less than or equal to %s",
	"gt":          "%s must be greater than %s",
	"lt":          "%s must be less than %s",
}

// translateError turns a FieldError into a message that names the config path.
func translateError(fe validator.FieldError) string {
	// Drop the root struct name: Config.backup.database.enabled
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	tag := fe.Tag()
	param := fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}

	isString := fe.Kind().String() == "string"
	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
