// Package core provides the domain models and interfaces for the jobs package.
package core

import (
	"time"
)

// Identifiers. All of them are opaque to callers.
type (
	TenantID   string
	JobID      string
	LeaseToken string
	QueueName  string
	JobType    string
	CodecID    string

	// ResultRef points at a job result kept outside the queue (blob key, URL, row id).
	ResultRef string
)

// Built-in codec identifiers. See package codec.
const (
	CodecJSON  CodecID = "json/v1"
	CodecProto CodecID = "proto/v1"
	CodecRaw   CodecID = "raw/v1"
)

// DefaultQueue is used when neither the message nor the backend names a queue.
const DefaultQueue QueueName = "default"

// Priority orders eligible jobs inside one queue; higher runs first.
// The zero value is PriorityNormal.
type Priority int

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the three defined priorities.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// QueueCtx identifies the caller of every backend operation.
type QueueCtx struct {
	TenantID TenantID
	TraceID  string
}

// JobMessage is the immutable submission payload. It is also the wire shape used
// when moving jobs between backends.
type JobMessage struct {
	Type       JobType   `json:"job_type"`
	Payload    []byte    `json:"payload_bytes"`
	Codec      CodecID   `json:"codec"`
	Queue      QueueName `json:"queue"`
	Priority   Priority  `json:"priority"`
	MaxRetries int       `json:"max_retries"`
	RunAt      time.Time `json:"run_at"`

	// IdempotencyKey de-duplicates submissions within (tenant, queue, type).
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// JobRecord is the runtime state of a job. Backends own it; callers only ever
// see copies.
type JobRecord struct {
	ID         JobID
	TenantID   TenantID
	Message    JobMessage
	Status     JobStatus
	Attempt    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastError  string
	LeaseToken LeaseToken
	LeaseUntil *time.Time
	Result     ResultRef
}

// Clone returns a deep copy safe to hand outside the backend.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Message.Payload != nil {
		c.Message.Payload = append([]byte(nil), r.Message.Payload...)
	}
	c.Status = r.Status.clone()
	if r.LeaseUntil != nil {
		t := *r.LeaseUntil
		c.LeaseUntil = &t
	}
	return &c
}

// RetriesLeft reports whether a failure on the current attempt may be retried.
// MaxRetries counts re-tries after the first attempt.
func (r *JobRecord) RetriesLeft() bool {
	return r.Attempt <= r.Message.MaxRetries
}

// LeasedJob is what Dequeue hands a worker.
type LeasedJob struct {
	Job        *JobRecord
	Token      LeaseToken
	LeaseUntil time.Time
}

// Capabilities describes optional backend features so callers can branch
// instead of assuming.
type Capabilities struct {
	LeaseExtension    bool
	DelayedRun        bool
	Priorities        bool
	IdempotentEnqueue bool
	EventStream       bool
	MaxPayloadBytes   int
}
