// Package registry maps job types to their handlers.
//
// Each job type is declared once with a typed Definition; the registry keeps a
// type-erased entry so that the only runtime dispatch in the worker hot path is
// the lookup by type tag. The registry is built during startup, passed
// explicitly to the queue and the workers, and frozen once workers start.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jdziat/tenant-jobs/pkg/codec"
	"github.com/jdziat/tenant-jobs/pkg/core"
	"github.com/jdziat/tenant-jobs/pkg/internal/handler"
	"github.com/jdziat/tenant-jobs/pkg/security"
)

// Definition declares a job type.
type Definition[T any] struct {
	Type core.JobType

	// Defaults applied to every message of this type; enqueue options override them.
	Codec      core.CodecID   // json/v1 when empty
	Queue      core.QueueName // backend default when empty
	Priority   core.Priority
	MaxRetries int

	// Timeout, when set, bounds the handler's context. It is not a ledger
	// deadline; the lease is.
	Timeout time.Duration

	// IdempotencyKey derives the de-duplication key from the arguments.
	IdempotencyKey func(args T) string

	Handler func(ctx context.Context, args T) (core.ResultRef, error)
}

// Descriptor is the type-independent part of a Definition.
type Descriptor struct {
	Type       core.JobType
	Codec      core.CodecID
	Queue      core.QueueName
	Priority   core.Priority
	MaxRetries int
	Timeout    time.Duration
}

// Entry is a registered job type.
type Entry struct {
	Descriptor
	handler *handler.Handler
}

// Execute decodes msg's payload with the codec named on the message and runs the handler.
func (e *Entry) Execute(ctx context.Context, codecs *codec.Registry, msg core.JobMessage) (core.ResultRef, error) {
	c, err := codecs.Lookup(msg.Codec)
	if err != nil {
		return "", core.Permanent(err)
	}
	return e.handler.Execute(ctx, func(v any) error {
		return c.Decode(msg.Payload, v)
	})
}

// Registry holds the registered job types.
type Registry struct {
	mu      sync.RWMutex
	entries map[core.JobType]*Entry
	frozen  bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[core.JobType]*Entry)}
}

// Register adds a job type and returns its typed handle.
func Register[T any](r *Registry, def Definition[T]) (*Kind[T], error) {
	if err := security.ValidateJobTypeName(string(def.Type)); err != nil {
		return nil, fmt.Errorf("jobs: invalid job type %q: %w", def.Type, err)
	}
	if def.Queue != "" {
		if err := security.ValidateQueueName(string(def.Queue)); err != nil {
			return nil, fmt.Errorf("jobs: job type %q: %w", def.Type, err)
		}
	}
	if def.MaxRetries < 0 {
		return nil, fmt.Errorf("jobs: job type %q: %w", def.Type, core.ErrInvalidMaxRetries)
	}
	if !def.Priority.Valid() {
		return nil, fmt.Errorf("jobs: job type %q: %w", def.Type, core.ErrInvalidPriority)
	}

	h, err := handler.New(def.Type, def.Timeout, def.Handler)
	if err != nil {
		return nil, fmt.Errorf("jobs: handler for %q: %w", def.Type, err)
	}

	desc := Descriptor{
		Type:       def.Type,
		Codec:      def.Codec,
		Queue:      def.Queue,
		Priority:   def.Priority,
		MaxRetries: security.ClampRetries(def.MaxRetries),
		Timeout:    def.Timeout,
	}
	if desc.Codec == "" {
		desc.Codec = core.CodecJSON
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil, core.ErrRegistryFrozen
	}
	if _, exists := r.entries[def.Type]; exists {
		return nil, fmt.Errorf("%w: %q", core.ErrDuplicateJobType, def.Type)
	}
	r.entries[def.Type] = &Entry{Descriptor: desc, handler: h}

	return &Kind[T]{desc: desc, key: def.IdempotencyKey}, nil
}

// MustRegister is Register that panics on error. Intended for init-time wiring.
func MustRegister[T any](r *Registry, def Definition[T]) *Kind[T] {
	k, err := Register(r, def)
	if err != nil {
		panic(err)
	}
	return k
}

// Lookup returns the entry for a job type.
func (r *Registry) Lookup(t core.JobType) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e, ok
}

// Types lists the registered job types in sorted order.
func (r *Registry) Types() []core.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.JobType, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Freeze rejects further registrations. Workers call it when they start.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
