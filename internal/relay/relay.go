// Package relay contains the per-track transcription pipeline: a sender that
// forwards PCM frames into a recognition stream and a receiver that turns
// finalized recognition events into transcript entries. A Registry supervises
// all relays for one room.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/N23083/uritomo-transcriber/internal/logging"
	"github.com/N23083/uritomo-transcriber/internal/stt"
	"github.com/N23083/uritomo-transcriber/internal/transcript"
)

// FrameSource provides the ordered PCM frames of one audio track. Frames is
// closed when the track ends.
type FrameSource interface {
	Start(ctx context.Context)
	Frames() <-chan []int16
}

// Relay forwards one track's audio into one recognition stream and emits the
// finalized transcripts. Relays share nothing; two relays never block each
// other.
type Relay struct {
	trackSID string
	identity string
	source   FrameSource
	stream   stt.Stream
	sink     transcript.Sink
}

// New creates a relay for one (track, participant) pair.
func New(trackSID, identity string, source FrameSource, stream stt.Stream, sink transcript.Sink) *Relay {
	return &Relay{
		trackSID: trackSID,
		identity: identity,
		source:   source,
		stream:   stream,
		sink:     sink,
	}
}

// Run starts the frame source and drives sender and receiver until both the
// frame stream and the event stream are exhausted.
func (r *Relay) Run(ctx context.Context) error {
	// Own cancel scope: a failure on either side shuts down the frame
	// source so the other side can finish.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.source.Start(ctx)

	var wg sync.WaitGroup
	var sendErr, recvErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		sendErr = r.send(cancel)
	}()
	go func() {
		defer wg.Done()
		recvErr = r.receive()
		if recvErr != nil {
			cancel()
		}
	}()
	wg.Wait()

	var mErr *multierror.Error
	mErr = multierror.Append(mErr, sendErr, recvErr)
	return mErr.ErrorOrNil()
}

// send pushes frames in source order and signals end-of-input exactly once,
// after the last frame.
func (r *Relay) send(cancel context.CancelFunc) error {
	for frame := range r.source.Frames() {
		if err := r.stream.Push(frame); err != nil {
			// Stop the source, drain its remaining frames, then still
			// close the stream so the receiver terminates.
			cancel()
			for range r.source.Frames() {
			}
			r.stream.CloseSend()
			return fmt.Errorf("push frame: %w", err)
		}
	}

	if err := r.stream.CloseSend(); err != nil {
		return fmt.Errorf("close recognition stream: %w", err)
	}
	return nil
}

// receive emits the top alternative of every final event, in emission order.
// Interim events are dropped.
func (r *Relay) receive() error {
	for ev := range r.stream.Events() {
		switch ev.Type {
		case stt.SpeechEventFinal:
			alt, ok := ev.Top()
			if !ok {
				continue
			}
			entry := transcript.Entry{
				Participant: r.identity,
				TrackSID:    r.trackSID,
				Text:        alt.Text,
				Confidence:  alt.Confidence,
				At:          time.Now(),
			}
			if err := r.sink.Write(entry); err != nil {
				logging.Warning(logging.CategoryRelay, "failed to write transcript participant=%s: %v", r.identity, err)
			}
		case stt.SpeechEventError:
			return fmt.Errorf("recognition stream failed: %w", ev.Err)
		}
	}
	return nil
}
