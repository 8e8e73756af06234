// Package codec centralizes the wire encoding of tensor values.
//
// A frame is self-describing: it records the codec name alongside shape,
// dtype, storage kind and row indices, and decoding rejects unknown tags, so
// frames round-trip exactly between processes built against the same codec
// set.
package codec

import "fmt"

// Codec compresses and decompresses frame payloads.
// Implementations must be safe for concurrent use.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Name() string
}

// Default is the codec used when none is configured.
var Default Codec = Raw{}

// ByName returns a built-in codec by its stable name.
//
// Frames store the codec name in their header; decoding resolves it here.
func ByName(name string) (Codec, bool) {
	switch name {
	case "raw":
		return Raw{}, true
	case "zstd":
		return Zstd{}, true
	case "lz4":
		return LZ4{}, true
	default:
		return nil, false
	}
}

// MustCompress is a helper for internal tests/benchmarks.
func MustCompress(c Codec, data []byte) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Compress(data)
	if err != nil {
		panic(fmt.Errorf("codec %s compress failed: %w", c.Name(), err))
	}
	return b
}

// Raw passes payloads through unmodified.
type Raw struct{}

// Name implements Codec.
func (Raw) Name() string { return "raw" }

// Compress implements Codec.
func (Raw) Compress(data []byte) ([]byte, error) { return data, nil }

// Decompress implements Codec.
func (Raw) Decompress(data []byte) ([]byte, error) { return data, nil }
