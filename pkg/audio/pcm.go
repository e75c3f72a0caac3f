package audio

import "math"

// Int16ToFloat32 converts 16-bit PCM samples to float32 in [-1, 1].
// Negative samples divide by 0x8000 and positive by 0x7FFF so both extremes
// map exactly to -1 and +1.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		if s < 0 {
			out[i] = float32(s) / 0x8000
		} else {
			out[i] = float32(s) / 0x7FFF
		}
	}
	return out
}

// Float32ToInt16Bytes converts float32 samples to little-endian 16-bit PCM.
func Float32ToInt16Bytes(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// applyFades ramps the chunk in over fade samples and, when the chunk is
// long enough to fit both ramps, out over its last fade samples. The ramps
// remove the clicks otherwise audible at chunk boundaries.
func applyFades(chunk []float32, fade int) {
	if fade <= 0 || len(chunk) == 0 {
		return
	}
	n := fade
	if n > len(chunk) {
		n = len(chunk)
	}
	for i := 0; i < n; i++ {
		chunk[i] *= float32(i) / float32(fade)
	}
	if len(chunk) > 2*fade {
		for i := 0; i < fade; i++ {
			chunk[len(chunk)-1-i] *= float32(i) / float32(fade)
		}
	}
}

// rms returns the root mean square level of the chunk.
func rms(chunk []float32) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for _, s := range chunk {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(chunk)))
}
