package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root mean square of a block of int16 PCM, normalized to
// [0,1]. An odd trailing byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += s * s
	}
	v := math.Sqrt(sum / float64(n))
	if v > 1 {
		v = 1
	}
	return v
}

// encodeSamples converts int16 samples to little-endian bytes.
func encodeSamples(samples []int16) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

func decodeSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
