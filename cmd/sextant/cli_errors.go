// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jllopis/sextant/pkg/errors"
)

// CLIError wraps SextantError with a hint for the user.
type CLIError struct {
	*errors.SextantError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(se *errors.SextantError, hint string) *CLIError {
	return &CLIError{SextantError: se, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.SextantError == nil {
		return "unknown error"
	}
	msg := e.SextantError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error { return e.SextantError }

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	se := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)
	hint := "check the configuration and SEXTANT_ environment variables"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(se, hint)
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	se := errors.New(errors.CodeInvalidInput, "invalid argument: "+reason, nil).
		WithContext("argument", arg)
	return NewCLIError(se, "run 'sextant help' for usage information")
}

// hintFor suggests a next step for run failures.
func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeBudgetExceeded:
		return "raise agent.max_iterations or narrow the request"
	case errors.CodeLLMError:
		return "check the models section and that the model backend is reachable"
	case errors.CodeConnection, errors.CodeConnectionLost:
		return "check the providers section and that the provider is running"
	default:
		return ""
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// printError writes err as text or as a JSON object.
func printError(w io.Writer, err error, asJSON bool) {
	body := errorBody{Code: "UNKNOWN", Message: err.Error()}
	if ce, ok := err.(*CLIError); ok && ce.SextantError != nil {
		body = errorBody{Code: string(ce.Code), Message: ce.SextantError.Error(), Hint: ce.Hint}
	} else if errors.CodeOf(err) != "" {
		se := errors.AsSextantError(err)
		body = errorBody{Code: string(se.Code), Message: se.Error(), Hint: hintFor(se.Code)}
	}

	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]errorBody{"error": body})
		return
	}
	fmt.Fprintf(w, "Error: %s\n", body.Message)
	if body.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", body.Hint)
	}
}

func lookupEnv(key string) string { return os.Getenv(key) }
