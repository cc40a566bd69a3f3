// Package transcript defines where finalized transcripts go. The worker
// always prints to the console; a JSONL file sink and an in-room data
// publisher can be layered on top with MultiSink.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Entry is one finalized transcript segment.
type Entry struct {
	Participant string    `json:"participant"`
	TrackSID    string    `json:"track_sid"`
	Text        string    `json:"text"`
	Confidence  float32   `json:"confidence"`
	At          time.Time `json:"at"`
}

// Sink consumes finalized transcript entries.
type Sink interface {
	Write(Entry) error
}

// ConsoleSink prints transcripts as human-readable lines.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleSink creates a console sink. A nil writer means stdout.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleSink{out: out}
}

// Write implements Sink.
func (s *ConsoleSink) Write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "%s: %s\n", e.Participant, e.Text)
	return err
}

// JSONLSink appends entries as JSON lines to a file.
type JSONLSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewJSONLSink opens (or creates) the file at path for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript file: %w", err)
	}
	return &JSONLSink{f: f, enc: json.NewEncoder(f)}, nil
}

// Write implements Sink.
func (s *JSONLSink) Write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(e); err != nil {
		return fmt.Errorf("encode transcript entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	return s.f.Close()
}

// MultiSink fans one entry out to several sinks. A failing sink does not
// stop the others; errors are aggregated.
type MultiSink []Sink

// Write implements Sink.
func (m MultiSink) Write(e Entry) error {
	var mErr *multierror.Error
	for _, s := range m {
		if err := s.Write(e); err != nil {
			mErr = multierror.Append(mErr, err)
		}
	}
	return mErr.ErrorOrNil()
}
