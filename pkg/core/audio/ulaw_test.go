package audio

import (
	"bytes"
	"testing"
)

func pcmBytes(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestDecodeMuLawKnownValues(t *testing.T) {
	tests := []struct {
		name     string
		in       byte
		expected int16
	}{
		{name: "positive zero", in: 0xFF, expected: 0},
		{name: "negative zero", in: 0x7F, expected: 0},
		{name: "max positive", in: 0x80, expected: 32124},
		{name: "max negative", in: 0x00, expected: -32124},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := DecodeMuLaw([]byte{tt.in})
			if len(out) != 2 {
				t.Fatalf("expected 2 bytes, got %d", len(out))
			}
			got := int16(out[0]) | int16(out[1])<<8
			if got != tt.expected {
				t.Errorf("decode(0x%02X): expected %d, got %d", tt.in, tt.expected, got)
			}
		})
	}
}

func TestDecodeMuLawLength(t *testing.T) {
	in := make([]byte, 160)
	out := DecodeMuLaw(in)
	if len(out) != 320 {
		t.Errorf("expected 320 bytes, got %d", len(out))
	}
}

func TestEncodeMuLawSilence(t *testing.T) {
	out := EncodeMuLaw(pcmBytes(0, 0, 0, 0))
	if !bytes.Equal(out, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("expected 0xFF silence bytes, got %v", out)
	}
}

func TestEncodeMuLawClipping(t *testing.T) {
	// Values beyond the clip point land in the top quantization bucket.
	out := EncodeMuLaw(pcmBytes(32767, -32768))
	if out[0] != 0x80 {
		t.Errorf("expected 0x80 for max positive, got 0x%02X", out[0])
	}
	if out[1] != 0x00 {
		t.Errorf("expected 0x00 for max negative, got 0x%02X", out[1])
	}
}

func TestMuLawRoundTrip(t *testing.T) {
	// Quantization error grows with the segment; allow the standard
	// companding tolerance of roughly 1/16 of the magnitude.
	values := []int16{0, 1, -1, 7, -7, 100, -100, 941, -941, 8000, -8000, 20000, -20000, 32124, -32124}
	in := pcmBytes(values...)

	decoded := DecodeMuLaw(EncodeMuLaw(in))
	if len(decoded) != len(in) {
		t.Fatalf("expected %d bytes, got %d", len(in), len(decoded))
	}

	for i, want := range values {
		got := int16(decoded[i*2]) | int16(decoded[i*2+1])<<8
		tolerance := int32(16)
		if mag := int32(want); mag < 0 {
			mag = -mag
			if mag/16 > tolerance {
				tolerance = mag / 16
			}
		} else if mag/16 > tolerance {
			tolerance = mag / 16
		}
		diff := int32(got) - int32(want)
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			t.Errorf("sample %d: expected %d within %d, got %d", i, want, tolerance, got)
		}
	}
}

func TestEncodeMuLawOddTrailingByte(t *testing.T) {
	out := EncodeMuLaw([]byte{0x00, 0x00, 0x12})
	if len(out) != 1 {
		t.Errorf("expected 1 byte, got %d", len(out))
	}
}
