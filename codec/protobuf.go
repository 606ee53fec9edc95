package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Protobuf serializes proto.Message values. Unlike the dynamic codecs it is
// bound to one concrete message type through its constructor; Decode returns
// a freshly constructed message.
type Protobuf struct {
	new func() proto.Message // e.g. func() proto.Message { return &mypb.User{} }
}

var _ Codec = Protobuf{}

func NewProtobuf(ctor func() proto.Message) Protobuf {
	return Protobuf{new: ctor}
}

func (c Protobuf) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("protobuf codec: cannot encode %T", v)
	}
	return proto.Marshal(m)
}

func (c Protobuf) Decode(b []byte) (any, error) {
	if c.new == nil {
		return nil, fmt.Errorf("protobuf codec: no message constructor; use NewProtobuf")
	}
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}
