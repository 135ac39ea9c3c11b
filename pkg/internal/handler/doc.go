// Package handler provides the type-erased form of registered job handlers.
//
// This package is internal and should not be imported directly.
// It provides:
//   - Handler: a closure that decodes arguments into the handler's own type and runs it
//   - Panic recovery around handler execution
package handler
