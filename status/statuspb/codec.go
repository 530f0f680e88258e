package statuspb

import (
	"encoding/json"
	"fmt"
)

// Codec is the gRPC message codec for the status channel: plain JSON.  It
// is forced on both ends (grpc.ForceCodec on dial options,
// grpc.ForceServerCodec on the server), so neither side needs protobuf
// message types.
type Codec struct{}

// Marshal encodes v as JSON.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("statuspb: marshal %T: %w", v, err)
	}
	return b, nil
}

// Unmarshal decodes JSON data into v.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("statuspb: unmarshal into %T: %w", v, err)
	}
	return nil
}

// Name identifies the codec in gRPC content subtype negotiation.
func (Codec) Name() string { return "json" }
