package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func seq(start, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(start + i)
	}
	return out
}

func TestChunkerEmitsFixedSizeFrames(t *testing.T) {
	c := newChunker(4)

	frames := c.push(seq(0, 10))
	assert.Equal(t, [][]int16{{0, 1, 2, 3}, {4, 5, 6, 7}}, frames)

	// remainder {8, 9} carries into the next push
	frames = c.push(seq(10, 2))
	assert.Equal(t, [][]int16{{8, 9, 10, 11}}, frames)
}

func TestChunkerBuffersShortInput(t *testing.T) {
	c := newChunker(4)

	assert.Nil(t, c.push(seq(0, 3)))
	assert.Equal(t, [][]int16{{0, 1, 2, 3}}, c.push(seq(3, 1)))
}

func TestChunkerIgnoresEmptyInput(t *testing.T) {
	c := newChunker(4)
	assert.Nil(t, c.push(nil))
}

func TestChunkerFramesAreCopies(t *testing.T) {
	c := newChunker(2)

	in := seq(0, 4)
	frames := c.push(in)
	in[0] = 99

	assert.Equal(t, int16(0), frames[0][0])
}
