// Package deepgram implements the stt interfaces against the Deepgram live
// transcription websocket API.
package deepgram

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"

	"github.com/N23083/uritomo-transcriber/internal/logging"
	"github.com/N23083/uritomo-transcriber/internal/stt"
)

const defaultEndpoint = "wss://api.deepgram.com/v1/listen"

// closeStreamMessage tells Deepgram to flush remaining results and close.
const closeStreamMessage = `{"type":"CloseStream"}`

// Provider creates Deepgram live transcription streams.
type Provider struct {
	apiKey   string
	endpoint string
}

var _ stt.Provider = (*Provider)(nil)

// NewProvider creates a Deepgram provider using the given API key.
func NewProvider(apiKey string) *Provider {
	return &Provider{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
	}
}

// Name implements stt.Provider.
func (p *Provider) Name() string {
	return "deepgram"
}

// NewStream dials the live transcription endpoint. Audio is sent as binary
// linear16 messages; results arrive as JSON text messages.
func (p *Provider) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(cfg.NumChannels))
	q.Set("language", cfg.Language)
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial deepgram: %w", err)
	}
	resp.Body.Close()

	s := &stream{
		conn:   conn,
		events: make(chan stt.SpeechEvent, 64),
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

type stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan stt.SpeechEvent
	wg      sync.WaitGroup

	sendOnce sync.Once
}

// Push implements stt.Stream. The frame is serialized as little-endian s16.
func (s *stream) Push(frame []int16) error {
	buf := make([]byte, len(frame)*2)
	for i, sample := range frame {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return fmt.Errorf("write audio message: %w", err)
	}
	return nil
}

// Events implements stt.Stream.
func (s *stream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend implements stt.Stream. Deepgram flushes its remaining results
// after the CloseStream message and then closes the connection, which ends
// the read loop and the events channel.
func (s *stream) CloseSend() error {
	var mErr *multierror.Error
	s.sendOnce.Do(func() {
		s.writeMu.Lock()
		err := s.conn.WriteMessage(websocket.TextMessage, []byte(closeStreamMessage))
		s.writeMu.Unlock()
		mErr = multierror.Append(mErr, err)

		s.wg.Wait()
		mErr = multierror.Append(mErr, s.conn.Close())
	})
	return mErr.ErrorOrNil()
}

func (s *stream) readLoop() {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.events <- stt.SpeechEvent{Type: stt.SpeechEventError, Err: err}
			return
		}

		ev, ok, err := parseMessage(data)
		if err != nil {
			logging.Warning(logging.CategorySTT, "skipping unparseable deepgram message: %v", err)
			continue
		}
		if !ok {
			continue
		}
		s.events <- ev
	}
}
