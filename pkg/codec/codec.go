package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"google.golang.org/protobuf/proto"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

// Codec encodes job arguments to payload bytes and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	// Decode fills the value pointed to by v.
	Decode(data []byte, v any) error
}

// Registry holds codecs keyed by id. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[core.CodecID]Codec
}

// NewRegistry creates a registry preloaded with the built-in codecs.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[core.CodecID]Codec)}
	r.codecs[core.CodecJSON] = JSON{}
	r.codecs[core.CodecProto] = Proto{}
	r.codecs[core.CodecRaw] = Raw{}
	return r
}

// Register adds or replaces the codec for id.
func (r *Registry) Register(id core.CodecID, c Codec) error {
	if id == "" {
		return fmt.Errorf("jobs: codec id is required")
	}
	if c == nil {
		return fmt.Errorf("jobs: codec %q is nil", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[id] = c
	return nil
}

// Lookup returns the codec registered for id.
func (r *Registry) Lookup(id core.CodecID) (Codec, error) {
	r.mu.RLock()
	c, ok := r.codecs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrCodecNotFound, id)
	}
	return c, nil
}

// Encode encodes v with the codec registered for id.
func (r *Registry) Encode(id core.CodecID, v any) ([]byte, error) {
	c, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	data, err := c.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode with %s: %w", id, err)
	}
	return data, nil
}

// Decode decodes data into v with the codec registered for id.
func (r *Registry) Decode(id core.CodecID, data []byte, v any) error {
	c, err := r.Lookup(id)
	if err != nil {
		return err
	}
	if err := c.Decode(data, v); err != nil {
		return fmt.Errorf("jobs: decode with %s: %w", id, err)
	}
	return nil
}

// JSON is the json/v1 codec.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }

// Proto is the proto/v1 codec. Values must be proto messages; Decode also
// accepts a pointer to a nil message pointer and allocates it.
type Proto struct{}

func (Proto) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%T is not a proto.Message", v)
	}
	return proto.Marshal(m)
}

func (Proto) Decode(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Pointer {
		msg := reflect.New(rv.Elem().Type().Elem())
		if m, ok := msg.Interface().(proto.Message); ok {
			if err := proto.Unmarshal(data, m); err != nil {
				return err
			}
			rv.Elem().Set(msg)
			return nil
		}
	}
	return fmt.Errorf("%T is not a proto.Message target", v)
}

// Raw is the raw/v1 codec. It only accepts []byte values.
type Raw struct{}

func (Raw) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return append([]byte(nil), b...), nil
	case *[]byte:
		return append([]byte(nil), (*b)...), nil
	default:
		return nil, fmt.Errorf("raw codec needs []byte, got %T", v)
	}
}

func (Raw) Decode(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec needs *[]byte, got %T", v)
	}
	*b = append([]byte(nil), data...)
	return nil
}
