package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SamplesFromPCM16 decodes little-endian 16-bit PCM bytes into normalized
// float32 samples in [-1, 1].
func SamplesFromPCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM-16 data length must be even (got %d bytes)", len(data))
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		raw := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(raw) / 32768.0
	}

	return samples, nil
}

// SamplesToPCM16 encodes normalized float32 samples into little-endian
// 16-bit PCM bytes. Out-of-range samples are clipped.
func SamplesToPCM16(samples []float32) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		scaled := float64(s) * 32768.0
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(scaled)))
	}
	return data
}
