package codec

import (
	"encoding/json"
)

// JSONCodec uses encoding/json for serialization.
// Human-readable and handy when eyeballing a captured pipe, but lossy about
// numeric types: every number decodes as float64, relying on the dispatch
// layer's numeric conversion.
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
