// Package context provides internal context helpers for job execution.
//
// This package is internal and should not be imported directly.
// The worker stores a JobContext on the handler's context; package jobctx
// exposes read-only accessors over it.
package context
