package audio

// DefaultFrameSize is 20 ms of 8 kHz μ-law audio, the frame size the
// telephony media stream expects on its outbound leg.
const DefaultFrameSize = 160

// FrameChunker slices a byte stream into fixed-size frames. Partial
// input is buffered across pushes; the tail is zero-padded on flush so
// the line only ever receives whole frames.
type FrameChunker struct {
	size int
	buf  []byte
}

// NewFrameChunker returns a chunker producing frames of the given size.
// A non-positive size falls back to DefaultFrameSize.
func NewFrameChunker(size int) *FrameChunker {
	if size <= 0 {
		size = DefaultFrameSize
	}
	return &FrameChunker{size: size}
}

// Push appends data and returns every newly completed frame in order.
// Returned frames are copies; callers may retain them.
func (c *FrameChunker) Push(data []byte) [][]byte {
	c.buf = append(c.buf, data...)
	var frames [][]byte
	for len(c.buf) >= c.size {
		frame := make([]byte, c.size)
		copy(frame, c.buf[:c.size])
		frames = append(frames, frame)
		c.buf = c.buf[c.size:]
	}
	return frames
}

// Flush returns the buffered remainder zero-padded to a full frame, or
// nil if nothing is buffered. The chunker is empty afterwards.
func (c *FrameChunker) Flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}
	frame := make([]byte, c.size)
	copy(frame, c.buf)
	c.buf = nil
	return frame
}

// Pending reports how many bytes are buffered awaiting a full frame.
func (c *FrameChunker) Pending() int {
	return len(c.buf)
}
