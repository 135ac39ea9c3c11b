// Package codec maps codec identifiers to payload encoders.
//
// Every stored JobMessage carries the id of the codec that produced its payload,
// so new formats can be introduced under new ids (for example "json/v2") while
// jobs enqueued under older ids keep decoding.
//
// Built-in codecs:
//   - json/v1: encoding/json
//   - proto/v1: protocol buffers wire format for proto.Message values
//   - raw/v1: []byte passthrough
package codec
