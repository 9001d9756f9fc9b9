package audio

import "math"

// RMSEnergy computes the root-mean-square amplitude of 16-bit LE PCM
// in raw sample units (0..32768). Silence measures near zero; caller
// speech at normal telephone levels lands in the hundreds, which is
// what the barge-in threshold is calibrated against.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(samples))
}
