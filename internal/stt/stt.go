// Package stt defines the streaming speech-to-text interface the relay
// pipeline runs against. Providers (Google Cloud Speech, Deepgram) live in
// subpackages and only need to satisfy Provider and Stream.
package stt

import "context"

// SpeechEventType represents the type of speech recognition event.
type SpeechEventType int

const (
	// SpeechEventInterim represents partial transcription results that may change.
	SpeechEventInterim SpeechEventType = iota
	// SpeechEventFinal represents final transcription results that won't change.
	SpeechEventFinal
	// SpeechEventError represents a terminal provider failure.
	SpeechEventError
)

// Alternative is one ranked hypothesis for a resolved speech segment.
type Alternative struct {
	Text       string
	Confidence float32
}

// SpeechEvent is one event from a recognition stream. Final events carry one
// or more alternatives ranked best-first.
type SpeechEvent struct {
	Type         SpeechEventType
	Alternatives []Alternative
	Err          error
}

// Top returns the best-ranked alternative, if any.
func (e SpeechEvent) Top() (Alternative, bool) {
	if len(e.Alternatives) == 0 {
		return Alternative{}, false
	}
	return e.Alternatives[0], true
}

// StreamConfig describes the audio a stream will receive.
type StreamConfig struct {
	SampleRate  int
	NumChannels int
	Language    string
}

// Stream is one live recognition session. Push accepts s16 PCM frames at the
// configured sample rate, in order. CloseSend must be called exactly once,
// after the last frame; Events is closed once the provider has emitted its
// last event.
type Stream interface {
	Push(frame []int16) error
	Events() <-chan SpeechEvent
	CloseSend() error
}

// Provider creates recognition streams.
type Provider interface {
	Name() string
	NewStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}
