// Package storage provides the reference backend for the jobs package.
//
// MemoryStore keeps the job ledger, the idempotency index, the per-queue
// ordering index and the lease grants behind a single mutex, so every
// operation is one atomic transition. It implements core.Backend together
// with the optional LeaseExtender, Reclaimer and Inspector interfaces.
//
// Durable backends are validated against the same behavior with the
// conformance suite in package storagetest.
package storage
