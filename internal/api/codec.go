package api

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec marshals plain Go structs. The connect default JSON codec only
// accepts protobuf messages.
type jsonCodec struct {
	name string
}

func (c jsonCodec) Name() string { return c.name }

func (c jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (c jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

// WithJSON registers the JSON codec under both content-type names connect
// negotiates for JSON.
func WithJSON() connect.Option {
	return connect.WithOptions(
		connect.WithCodec(jsonCodec{name: "json"}),
		connect.WithCodec(jsonCodec{name: "json; charset=utf-8"}),
	)
}
