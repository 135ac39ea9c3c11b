package registry

import (
	"github.com/jdziat/tenant-jobs/pkg/codec"
	"github.com/jdziat/tenant-jobs/pkg/core"
)

// Kind is the typed handle returned by Register. Producers use it to build
// messages whose payload type matches the handler at compile time.
type Kind[T any] struct {
	desc Descriptor
	key  func(T) string
}

// Type returns the job type tag.
func (k *Kind[T]) Type() core.JobType { return k.desc.Type }

// Descriptor returns the registered defaults.
func (k *Kind[T]) Descriptor() Descriptor { return k.desc }

// Message encodes args and fills the message from the registered defaults.
func (k *Kind[T]) Message(codecs *codec.Registry, args T) (core.JobMessage, error) {
	payload, err := codecs.Encode(k.desc.Codec, args)
	if err != nil {
		return core.JobMessage{}, err
	}

	msg := core.JobMessage{
		Type:       k.desc.Type,
		Payload:    payload,
		Codec:      k.desc.Codec,
		Queue:      k.desc.Queue,
		Priority:   k.desc.Priority,
		MaxRetries: k.desc.MaxRetries,
	}
	if k.key != nil {
		msg.IdempotencyKey = k.key(args)
	}
	return msg, nil
}
