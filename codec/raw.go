package codec

import "fmt"

// Bytes is an identity codec for []byte values. Encode returns the input
// unchanged and rejects anything that is not a byte slice. Useful when your
// values are already raw bytes and you only need the cache's namespacing and
// validation.
type Bytes struct{}

var _ Codec = Bytes{}

func (Bytes) Encode(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("bytes codec: cannot encode %T", v)
	}
	return b, nil
}
func (Bytes) Decode(b []byte) (any, error) { return b, nil }

// String is a trivial codec for Go string values. By convention this assumes
// UTF-8 and performs no validation.
type String struct{}

var _ Codec = String{}

func (String) Encode(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("string codec: cannot encode %T", v)
	}
	return []byte(s), nil
}
func (String) Decode(b []byte) (any, error) { return string(b), nil }
