package audio

import (
	"bytes"
	"testing"
)

func TestFrameChunkerExactFrames(t *testing.T) {
	c := NewFrameChunker(4)
	frames := c.Push([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{1, 2, 3, 4}) || !bytes.Equal(frames[1], []byte{5, 6, 7, 8}) {
		t.Errorf("unexpected frames: %v", frames)
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending bytes, got %d", c.Pending())
	}
}

func TestFrameChunkerBuffersPartial(t *testing.T) {
	c := NewFrameChunker(4)

	if frames := c.Push([]byte{1, 2}); frames != nil {
		t.Fatalf("expected no frames yet, got %d", len(frames))
	}
	if c.Pending() != 2 {
		t.Errorf("expected 2 pending, got %d", c.Pending())
	}

	frames := c.Push([]byte{3, 4, 5})
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte{1, 2, 3, 4}) {
		t.Errorf("expected one frame {1 2 3 4}, got %v", frames)
	}
	if c.Pending() != 1 {
		t.Errorf("expected 1 pending, got %d", c.Pending())
	}
}

func TestFrameChunkerFlushPads(t *testing.T) {
	c := NewFrameChunker(4)
	c.Push([]byte{9, 9})

	frame := c.Flush()
	if !bytes.Equal(frame, []byte{9, 9, 0, 0}) {
		t.Errorf("expected zero-padded frame, got %v", frame)
	}
	if c.Pending() != 0 {
		t.Errorf("expected empty chunker after flush, got %d pending", c.Pending())
	}
	if again := c.Flush(); again != nil {
		t.Errorf("expected nil on empty flush, got %v", again)
	}
}

func TestFrameChunkerReassembly(t *testing.T) {
	c := NewFrameChunker(160)

	var input []byte
	for i := 0; i < 1000; i++ {
		input = append(input, byte(i%251))
	}

	var output []byte
	// Push in uneven slabs to exercise buffering.
	for _, n := range []int{7, 303, 160, 530} {
		for _, f := range c.Push(input[:n]) {
			output = append(output, f...)
		}
		input = input[n:]
	}
	if tail := c.Flush(); tail != nil {
		output = append(output, tail...)
	}

	if len(output)%160 != 0 {
		t.Fatalf("output not frame-aligned: %d bytes", len(output))
	}
	// 1000 input bytes round up to 7 frames of 160.
	if len(output) != 1120 {
		t.Errorf("expected 1120 bytes, got %d", len(output))
	}
	for i := 0; i < 1000; i++ {
		if output[i] != byte(i%251) {
			t.Fatalf("byte %d: expected %d, got %d", i, byte(i%251), output[i])
		}
	}
	for i := 1000; i < len(output); i++ {
		if output[i] != 0 {
			t.Fatalf("padding byte %d not zero: %d", i, output[i])
		}
	}
}

func TestFrameChunkerDefaultSize(t *testing.T) {
	c := NewFrameChunker(0)
	frames := c.Push(make([]byte, DefaultFrameSize))
	if len(frames) != 1 || len(frames[0]) != DefaultFrameSize {
		t.Errorf("expected one %d-byte frame, got %v", DefaultFrameSize, len(frames))
	}
}
