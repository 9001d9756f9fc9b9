// Package audio implements the PCM plumbing between the telephone line
// and the speech services: G.711 μ-law companding, 8/16 kHz resampling,
// fixed-size line framing, and RMS energy measurement.
//
// Linear audio is always 16-bit signed little-endian mono PCM.
package audio

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// DecodeMuLaw expands 8-bit μ-law bytes into 16-bit LE linear PCM.
// The output is exactly twice the input length.
func DecodeMuLaw(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, u := range in {
		s := decodeSample(u)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// EncodeMuLaw compresses 16-bit LE linear PCM into 8-bit μ-law bytes.
// An odd trailing byte is ignored; the output is len(pcm)/2.
func EncodeMuLaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		out[i/2] = encodeSample(s)
	}
	return out
}

func decodeSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	value := (int(mantissa) << 3) + ulawBias
	value <<= exponent
	value -= ulawBias
	if sign != 0 {
		value = -value
	}
	return int16(value)
}

func encodeSample(s int16) byte {
	var sign byte
	value := int(s)
	if value < 0 {
		value = -value
		sign = 0x80
	}
	if value > ulawClip {
		value = ulawClip
	}
	value += ulawBias

	exponent := 7
	for mask := 0x4000; exponent > 0 && value&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := (value >> (exponent + 3)) & 0x0F
	return ^(sign | byte(exponent)<<4 | byte(mantissa))
}
