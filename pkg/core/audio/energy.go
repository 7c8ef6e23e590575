package audio

import "math"

// RMSEnergy computes the root-mean-square energy of signed 16-bit
// little-endian PCM, normalized to 0.0..1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(uint16(pcm[i])|uint16(pcm[i+1])<<8)) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the largest absolute sample, normalized to 0.0..1.0.
func PeakAmplitude(pcm []byte) float64 {
	var peak float64
	for i := 0; i+1 < len(pcm); i += 2 {
		// float64 so that -32768 does not overflow on negation
		v := math.Abs(float64(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)))
		if v > peak {
			peak = v
		}
	}
	return peak / 32768.0
}
