package audio

import (
	"bytes"
	"testing"
)

func TestUpsample8kTo16k(t *testing.T) {
	in := pcmBytes(0, 100, 200)
	out := Upsample8kTo16k(in)

	// Each source sample followed by the midpoint to the next; the
	// final sample repeats.
	expected := pcmBytes(0, 50, 100, 150, 200, 200)
	if !bytes.Equal(out, expected) {
		t.Errorf("expected %v, got %v", expected, out)
	}
}

func TestUpsampleDoublesLength(t *testing.T) {
	in := make([]byte, 320)
	out := Upsample8kTo16k(in)
	if len(out) != 640 {
		t.Errorf("expected 640 bytes, got %d", len(out))
	}
}

func TestUpsampleEmpty(t *testing.T) {
	if out := Upsample8kTo16k(nil); out != nil {
		t.Errorf("expected nil, got %v", out)
	}
}

func TestDownsample16kTo8k(t *testing.T) {
	in := pcmBytes(0, 100, 200, 300)
	out := Downsample16kTo8k(in)

	expected := pcmBytes(50, 250)
	if !bytes.Equal(out, expected) {
		t.Errorf("expected %v, got %v", expected, out)
	}
}

func TestDownsampleNegativePairs(t *testing.T) {
	in := pcmBytes(-100, -300, 500, -500)
	out := Downsample16kTo8k(in)

	expected := pcmBytes(-200, 0)
	if !bytes.Equal(out, expected) {
		t.Errorf("expected %v, got %v", expected, out)
	}
}

func TestDownsampleOddTrailingSample(t *testing.T) {
	in := pcmBytes(100, 200, 300)
	out := Downsample16kTo8k(in)

	expected := pcmBytes(150, 300)
	if !bytes.Equal(out, expected) {
		t.Errorf("expected %v, got %v", expected, out)
	}
}

func TestResampleRoundTripLength(t *testing.T) {
	in := make([]byte, 320) // 20ms at 8kHz linear
	up := Upsample8kTo16k(in)
	down := Downsample16kTo8k(up)
	if len(down) != len(in) {
		t.Errorf("expected %d bytes after round trip, got %d", len(in), len(down))
	}
}
