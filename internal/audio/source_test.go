package audio

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptReader serves preloaded RTP packets, then keeps returning err. The
// real track behaves the same way once the room connection drops.
type scriptReader struct {
	mu      sync.Mutex
	packets [][]byte
	err     error
}

func (r *scriptReader) Read(b []byte) (int, interceptor.Attributes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.packets) == 0 {
		return 0, nil, r.err
	}
	pkt := r.packets[0]
	r.packets = r.packets[1:]
	return copy(b, pkt), nil, nil
}

func marshalRTP(t *testing.T, seq uint16, payload []byte) []byte {
	t.Helper()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 960,
			SSRC:           0x1234,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	require.NoError(t, err)
	return data
}

func collectFrames(t *testing.T, src *TrackSource) [][]int16 {
	t.Helper()
	var frames [][]int16
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame, ok := <-src.Frames():
			if !ok {
				return frames
			}
			frames = append(frames, frame)
		case <-timeout:
			t.Fatal("frames channel was not closed")
		}
	}
}

func TestTrackSourceClosesFramesWhenReadFails(t *testing.T) {
	src, err := NewTrackSource("TR_1", &scriptReader{err: io.EOF})
	require.NoError(t, err)

	src.Start(context.Background())

	assert.Empty(t, collectFrames(t, src))
}

func TestTrackSourceSkipsDTXPackets(t *testing.T) {
	reader := &scriptReader{
		packets: [][]byte{
			marshalRTP(t, 1, nil),
			marshalRTP(t, 2, nil),
		},
		err: io.EOF,
	}

	src, err := NewTrackSource("TR_1", reader)
	require.NoError(t, err)

	src.Start(context.Background())

	assert.Empty(t, collectFrames(t, src))
}
