// Package handler provides type-erased handler execution for the jobs package.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

// DecodeFunc fills the value pointed to by v from a stored payload.
type DecodeFunc func(v any) error

// Handler holds a registered job handler with its argument type erased.
type Handler struct {
	Type    core.JobType
	Timeout time.Duration

	exec func(ctx context.Context, decode DecodeFunc) (core.ResultRef, error)
}

// New wraps a typed handler function.
func New[T any](typ core.JobType, timeout time.Duration, fn func(ctx context.Context, args T) (core.ResultRef, error)) (*Handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler function cannot be nil")
	}
	if timeout < 0 {
		return nil, fmt.Errorf("handler timeout must not be negative")
	}

	return &Handler{
		Type:    typ,
		Timeout: timeout,
		exec: func(ctx context.Context, decode DecodeFunc) (core.ResultRef, error) {
			var args T
			if err := decode(&args); err != nil {
				// A payload that cannot be decoded never will be.
				return "", core.Permanent(fmt.Errorf("failed to decode args: %w", err))
			}
			return fn(ctx, args)
		},
	}, nil
}

// Execute decodes the arguments and runs the handler. A panic becomes a
// retryable error; a configured timeout bounds ctx.
func (h *Handler) Execute(ctx context.Context, decode DecodeFunc) (ref core.ResultRef, err error) {
	if h == nil || h.exec == nil {
		return "", fmt.Errorf("%w: handler is nil", core.ErrInternal)
	}

	defer func() {
		if r := recover(); r != nil {
			ref = ""
			err = core.Retryable(fmt.Errorf("panic: %v", r))
		}
	}()

	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	ref, err = h.exec(ctx, decode)
	if err != nil && h.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) && !core.IsPermanent(err) {
		err = core.Retryable(fmt.Errorf("handler timed out after %v: %w", h.Timeout, err))
	}
	return ref, err
}
