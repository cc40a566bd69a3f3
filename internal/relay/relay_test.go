package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/N23083/uritomo-transcriber/internal/stt"
	"github.com/N23083/uritomo-transcriber/internal/transcript"
)

// fakeSource feeds preloaded frames and, like the real track source, closes
// its frame channel when the context is cancelled.
type fakeSource struct {
	ch        chan []int16
	closeOnce sync.Once
}

func newFakeSource(frames ...[]int16) *fakeSource {
	ch := make(chan []int16, len(frames))
	for _, f := range frames {
		ch <- f
	}
	return &fakeSource{ch: ch}
}

func (f *fakeSource) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		f.close()
	}()
}

func (f *fakeSource) Frames() <-chan []int16 {
	return f.ch
}

func (f *fakeSource) close() {
	f.closeOnce.Do(func() { close(f.ch) })
}

// fakeStream records the order of pushes and close-send calls and closes its
// event channel on CloseSend, as real providers do once drained.
type fakeStream struct {
	mu      sync.Mutex
	ops     []string
	pushes  [][]int16
	pushErr error

	events    chan stt.SpeechEvent
	closeOnce sync.Once
	closes    int
}

func newFakeStream(events ...stt.SpeechEvent) *fakeStream {
	ch := make(chan stt.SpeechEvent, len(events)+1)
	for _, ev := range events {
		ch <- ev
	}
	return &fakeStream{events: ch}
}

func (f *fakeStream) Push(frame []int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.ops = append(f.ops, "push")
	f.pushes = append(f.pushes, frame)
	return nil
}

func (f *fakeStream) Events() <-chan stt.SpeechEvent {
	return f.events
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	f.ops = append(f.ops, "close")
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

type fakeSink struct {
	mu      sync.Mutex
	entries []transcript.Entry
}

func (f *fakeSink) Write(e transcript.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeSink) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Text)
	}
	return out
}

func finalEvent(texts ...string) stt.SpeechEvent {
	ev := stt.SpeechEvent{Type: stt.SpeechEventFinal}
	for _, t := range texts {
		ev.Alternatives = append(ev.Alternatives, stt.Alternative{Text: t})
	}
	return ev
}

func interimEvent(text string) stt.SpeechEvent {
	return stt.SpeechEvent{
		Type:         stt.SpeechEventInterim,
		Alternatives: []stt.Alternative{{Text: text}},
	}
}

func TestSenderPushesAllFramesThenClosesOnce(t *testing.T) {
	frames := [][]int16{{1}, {2}, {3}}
	source := newFakeSource(frames...)
	source.close() // end of track

	stream := newFakeStream()
	sink := &fakeSink{}

	r := New("TR_1", "alice", source, stream, sink)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"push", "push", "push", "close"}, stream.ops)
	assert.Equal(t, frames, stream.pushes)
	assert.Equal(t, 1, stream.closes)
}

func TestReceiverEmitsOnlyFinalTopAlternatives(t *testing.T) {
	source := newFakeSource()
	source.close()

	stream := newFakeStream(
		interimEvent("hel"),
		finalEvent("hello", "hallo"),
		interimEvent("wor"),
		finalEvent("world"),
	)
	sink := &fakeSink{}

	r := New("TR_1", "alice", source, stream, sink)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"hello", "world"}, sink.texts())
	for _, e := range sink.entries {
		assert.Equal(t, "alice", e.Participant)
		assert.Equal(t, "TR_1", e.TrackSID)
	}
}

func TestFinalEventWithoutAlternativesIsSkipped(t *testing.T) {
	source := newFakeSource()
	source.close()

	stream := newFakeStream(stt.SpeechEvent{Type: stt.SpeechEventFinal}, finalEvent("ok"))
	sink := &fakeSink{}

	r := New("TR_1", "alice", source, stream, sink)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"ok"}, sink.texts())
}

func TestPushFailureStillClosesStream(t *testing.T) {
	source := newFakeSource([]int16{1}, []int16{2})
	source.close()

	stream := newFakeStream()
	stream.pushErr = errors.New("provider gone")
	sink := &fakeSink{}

	r := New("TR_1", "alice", source, stream, sink)
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push frame")
	assert.Equal(t, 1, stream.closes)
}

func TestErrorEventSurfacesFromRun(t *testing.T) {
	source := newFakeSource()
	source.close()

	stream := newFakeStream(stt.SpeechEvent{
		Type: stt.SpeechEventError,
		Err:  errors.New("quota exceeded"),
	})
	sink := &fakeSink{}

	r := New("TR_1", "alice", source, stream, sink)
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestContextCancelEndsRelay(t *testing.T) {
	source := newFakeSource() // never closed by the test directly
	stream := newFakeStream()
	sink := &fakeSink{}

	ctx, cancel := context.WithCancel(context.Background())
	r := New("TR_1", "alice", source, stream, sink)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after context cancel")
	}
	assert.Equal(t, 1, stream.closes)
}
