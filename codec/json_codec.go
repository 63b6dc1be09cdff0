package codec

import (
	"encoding/json"
)

// JSONCodec is the default JobEnvelope codec (GetCodec's fallback):
// human-readable, at the cost of repeating field names on every envelope.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
