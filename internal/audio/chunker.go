package audio

// chunker slices an arbitrary-length sample stream into fixed-size frames,
// carrying the remainder over to the next push. Returned frames are copies;
// callers may reuse their input buffers.
type chunker struct {
	size int
	rem  []int16
}

func newChunker(size int) *chunker {
	return &chunker{
		size: size,
		rem:  make([]int16, 0, size),
	}
}

func (c *chunker) push(samples []int16) [][]int16 {
	if len(samples) == 0 {
		return nil
	}

	combined := append(c.rem, samples...)

	var frames [][]int16
	for len(combined) >= c.size {
		frame := make([]int16, c.size)
		copy(frame, combined[:c.size])
		frames = append(frames, frame)
		combined = combined[c.size:]
	}

	c.rem = make([]int16, len(combined), c.size)
	copy(c.rem, combined)

	return frames
}
