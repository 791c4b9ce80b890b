package mqtt

import (
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes/wrappers"
)

// EncodePayload wraps a packet payload as google.protobuf.BytesValue.
func EncodePayload(payload []byte) ([]byte, error) {
	return proto.Marshal(&wrappers.BytesValue{Value: payload})
}

// DecodePayload unwraps a google.protobuf.BytesValue message.
func DecodePayload(data []byte) ([]byte, error) {
	var msg wrappers.BytesValue
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return msg.Value, nil
}
