// Package events fans job lifecycle events out to subscribers.
//
// Topics are per tenant. Publishing never blocks: each subscription owns a
// bounded buffer and, when the buffer is full, the oldest buffered event is
// discarded to make room. Subscribers detect losses through Dropped or gaps in
// JobEvent.Seq.
package events
