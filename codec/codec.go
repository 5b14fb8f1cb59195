// Package codec provides the serialization layer for wire envelopes.
//
// Gob is the default: it round-trips arbitrary value-typed payloads (including
// values held in interface fields, once registered) and fails deterministically
// at encode time on non-transmissible values such as channels and functions.
// JSON is available for debugging; note it widens all numbers to float64.
package codec

type CodecType byte

const (
	CodecTypeGob  CodecType = 0
	CodecTypeJSON CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &GobCodec{}
}
