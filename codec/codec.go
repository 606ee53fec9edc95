// Package codec defines how cache values turn into stored bytes and back.
//
// Values are dynamically typed: Decode returns whatever shape the encoding
// naturally produces for Go (JSON-style maps, slices and scalars unless a
// codec documents otherwise). Callers that need concrete types assert on the
// result.
package codec

// Codec encodes/decodes values to []byte for storage.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}
