package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embedding vectors are stored as fixed-length binary blobs of little-endian
// IEEE-754 float32 values. The same wire format is used on every database
// backend.

// EncodeVector serializes an embedding to its binary blob form.
func EncodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector deserializes an embedding blob, validating it against the
// recorded dimensionality. A corrupt or truncated blob is an error, never a
// silently shortened vector.
func DecodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	n := len(blob) / 4
	if dim > 0 && n != dim {
		return nil, fmt.Errorf("embedding blob holds %d floats, expected %d", n, dim)
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
