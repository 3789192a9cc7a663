package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"remem/internal/embedding"
)

// encodeVector serializes an embedding as little-endian float32 bytes, the
// layout sqlite-vec and the in-process distance function both read.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// decodeVector deserializes little-endian float32 bytes.
func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// cosineDistance returns 1 - cosine(a, b), in [0, 2]. Zero-magnitude or
// mismatched vectors are treated as orthogonal (distance 1).
func cosineDistance(a, b []float32) float64 {
	cos, err := embedding.CosineSimilarity(a, b)
	if err != nil {
		return 1
	}
	return 1 - cos
}
