// Package queue provides the Queue type for submitting and tracking jobs.
//
// This package includes:
//   - Queue: encodes typed arguments and submits them to a backend
//   - Enqueue: the typed submission entry point
//   - Option: per-submission overrides (queue, priority, retries, delay, idempotency)
//   - Status, Cancel and event subscription
//
// Most users should import the root package github.com/jdziat/tenant-jobs
// which re-exports Queue and all option functions.
package queue
