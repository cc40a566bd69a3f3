package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdleRelay(trackSID, identity string) (*Relay, *fakeStream) {
	source := newFakeSource()
	stream := newFakeStream()
	return New(trackSID, identity, source, stream, &fakeSink{}), stream
}

func TestRegistryDeduplicatesByTrackSID(t *testing.T) {
	reg := NewRegistry(context.Background())
	defer reg.Close()

	r1, _ := newIdleRelay("TR_1", "alice")
	r2, _ := newIdleRelay("TR_1", "alice")

	assert.True(t, reg.Start("TR_1", r1))
	assert.False(t, reg.Start("TR_1", r2))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryIsolatesRelays(t *testing.T) {
	reg := NewRegistry(context.Background())
	defer reg.Close()

	source1 := newFakeSource([]int16{1}, []int16{1})
	source1.close()
	stream1 := newFakeStream()

	source2 := newFakeSource([]int16{2})
	source2.close()
	stream2 := newFakeStream()

	require.True(t, reg.Start("TR_1", New("TR_1", "alice", source1, stream1, &fakeSink{})))
	require.True(t, reg.Start("TR_2", New("TR_2", "bob", source2, stream2, &fakeSink{})))

	waitFor(t, func() bool { return reg.Len() == 0 })

	assert.Equal(t, [][]int16{{1}, {1}}, stream1.pushes)
	assert.Equal(t, [][]int16{{2}}, stream2.pushes)
}

func TestRegistryStopCancelsRelay(t *testing.T) {
	reg := NewRegistry(context.Background())
	defer reg.Close()

	r, stream := newIdleRelay("TR_1", "alice")
	require.True(t, reg.Start("TR_1", r))

	reg.Stop("TR_1")

	waitFor(t, func() bool { return reg.Len() == 0 })
	assert.Equal(t, 1, stream.closes)
}

func TestRegistryReusesTrackSIDAfterRelayEnds(t *testing.T) {
	reg := NewRegistry(context.Background())
	defer reg.Close()

	source := newFakeSource()
	source.close()
	stream := newFakeStream()
	require.True(t, reg.Start("TR_1", New("TR_1", "alice", source, stream, &fakeSink{})))

	waitFor(t, func() bool { return reg.Len() == 0 })

	r2, _ := newIdleRelay("TR_1", "alice")
	assert.True(t, reg.Start("TR_1", r2))
}

func TestRegistryCloseWaitsForRelays(t *testing.T) {
	reg := NewRegistry(context.Background())

	r1, stream1 := newIdleRelay("TR_1", "alice")
	r2, stream2 := newIdleRelay("TR_2", "bob")
	require.True(t, reg.Start("TR_1", r1))
	require.True(t, reg.Start("TR_2", r2))

	reg.Close()

	assert.Equal(t, 1, stream1.closes)
	assert.Equal(t, 1, stream2.closes)
	assert.False(t, reg.Start("TR_3", mustIdle(t)))
}

func mustIdle(t *testing.T) *Relay {
	t.Helper()
	r, _ := newIdleRelay("TR_3", "carol")
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
