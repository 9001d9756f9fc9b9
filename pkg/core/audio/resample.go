package audio

// Upsample8kTo16k doubles the sample rate of 16-bit LE PCM by linear
// interpolation: each source sample is followed by the midpoint to its
// successor. The final sample is duplicated. Output is twice the input
// length.
func Upsample8kTo16k(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		cur := sampleAt(pcm, i)
		next := cur
		if i+1 < n {
			next = sampleAt(pcm, i+1)
		}
		mid := int16((int(cur) + int(next)) / 2)
		out = appendSample(out, cur)
		out = appendSample(out, mid)
	}
	return out
}

// Downsample16kTo8k halves the sample rate of 16-bit LE PCM by
// averaging adjacent sample pairs. An odd trailing sample passes
// through unchanged.
func Downsample16kTo8k(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]byte, 0, (n+1)/2*2)
	for i := 0; i+1 < n; i += 2 {
		a := int(sampleAt(pcm, i))
		b := int(sampleAt(pcm, i+1))
		out = appendSample(out, int16((a+b)/2))
	}
	if n%2 == 1 {
		out = appendSample(out, sampleAt(pcm, n-1))
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
}

func appendSample(dst []byte, s int16) []byte {
	return append(dst, byte(s), byte(s>>8))
}
