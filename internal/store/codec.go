package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeEmbedding lays out values as 512 little-endian float32s, the raw
// 2048-byte representation spec.md §4.4 encrypts and stores.
func encodeEmbedding(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding reverses encodeEmbedding. It accepts any length that is
// a multiple of 4 bytes so legacy and current rows decode the same way;
// the dimension mismatch invariant (512) is the caller's concern.
func decodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("store: embedding blob length %d is not a multiple of 4", len(buf))
	}
	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return values, nil
}
