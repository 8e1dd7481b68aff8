package index

import (
	"encoding/binary"
	"math"
)

// Vectors are stored as little-endian float64 BLOBs.

func vectorToBytes(v []float64) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func bytesToVector(data []byte) []float64 {
	if len(data) == 0 {
		return nil
	}
	v := make([]float64, len(data)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return v
}
