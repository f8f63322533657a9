// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"

	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/llm"
)

// WrapLLMError wraps a model error with the model name. Only unavailability
// is recoverable.
func WrapLLMError(err error, model string) *errors.SextantError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeLLMError, "model call failed", err).
		WithContext("model", model).
		WithAttribute("llm.model", model).
		WithRecoverable(llm.IsUnavailable(err))
}

// WrapToolError wraps a failed capability call.
func WrapToolError(err error, capability, callID string) *errors.SextantError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeToolFailure, "capability call failed", err).
		WithContext("capability", capability).
		WithContext("call_id", callID).
		WithAttribute("capability.name", capability).
		WithRecoverable(true)
}

// WrapMemoryError wraps an episodic memory failure.
func WrapMemoryError(err error, operation string) *errors.SextantError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeMemoryError, "memory operation failed", err).
		WithContext("operation", operation).
		WithAttribute("memory.operation", operation).
		WithRecoverable(true)
}

// NewBudgetExceededError reports an exhausted iteration budget.
func NewBudgetExceededError(maxIterations int) *errors.SextantError {
	return errors.New(errors.CodeBudgetExceeded, "iteration budget exhausted", nil).
		WithContext("max_iterations", maxIterations).
		WithRecoverable(false)
}

// NewCancelledError reports a caller abort.
func NewCancelledError(cause error) *errors.SextantError {
	if cause == nil {
		cause = context.Canceled
	}
	return errors.New(errors.CodeCancelled, "run cancelled", cause).
		WithRecoverable(false)
}

// NewInvalidInputError creates a new invalid input error.
func NewInvalidInputError(msg string) *errors.SextantError {
	return errors.New(errors.CodeInvalidInput, msg, nil).
		WithRecoverable(false)
}

// isCancellation reports whether err stems from the caller abandoning the
// run rather than a deadline.
func isCancellation(ctx context.Context, err error) bool {
	if stderrors.Is(ctx.Err(), context.Canceled) {
		return true
	}
	return stderrors.Is(err, context.Canceled)
}
