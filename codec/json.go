package codec

import "encoding/json"

// JSON is the default codec. The zero value is ready to use.
//
// Decode follows encoding/json's dynamic mapping: objects become
// map[string]any, arrays []any, numbers float64. A counter written as "5"
// therefore reads back as float64(5).
type JSON struct{}

var _ Codec = JSON{}

func (JSON) Encode(v any) ([]byte, error) { return json.Marshal(v) }
func (JSON) Decode(b []byte) (any, error) {
	var v any
	err := json.Unmarshal(b, &v)
	return v, err
}
