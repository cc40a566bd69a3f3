// Package google implements the stt interfaces on top of the Google Cloud
// Speech streaming API. Credentials come from the ambient Google application
// default credentials.
package google

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/hashicorp/go-multierror"

	"github.com/N23083/uritomo-transcriber/internal/stt"
)

// Provider creates Google Cloud Speech streams.
type Provider struct{}

var _ stt.Provider = (*Provider)(nil)

// NewProvider creates a Google Cloud Speech provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Name implements stt.Provider.
func (p *Provider) Name() string {
	return "google"
}

// NewStream opens a StreamingRecognize session and sends the recognition
// configuration as the first request.
func (p *Provider) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	client, err := speech.NewClient(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	grpcStream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		cancel()
		return nil, fmt.Errorf("open recognition stream: %w", err)
	}

	err = grpcStream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:          speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:   int32(cfg.SampleRate),
					LanguageCode:      cfg.Language,
					AudioChannelCount: int32(cfg.NumChannels),
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		client.Close()
		cancel()
		return nil, fmt.Errorf("send recognition config: %w", err)
	}

	s := &stream{
		client:     client,
		grpcStream: grpcStream,
		events:     make(chan stt.SpeechEvent, 64),
		cancel:     cancel,
	}

	s.wg.Add(1)
	go s.recvLoop()

	return s, nil
}

type stream struct {
	client     *speech.Client
	grpcStream speechpb.Speech_StreamingRecognizeClient
	events     chan stt.SpeechEvent
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	sendOnce   sync.Once
}

// Push implements stt.Stream. The frame is serialized as little-endian s16.
func (s *stream) Push(frame []int16) error {
	buf := make([]byte, len(frame)*2)
	for i, sample := range frame {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}

	err := s.grpcStream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: buf,
		},
	})
	if err != nil {
		return fmt.Errorf("send audio content: %w", err)
	}
	return nil
}

// Events implements stt.Stream.
func (s *stream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend implements stt.Stream. The events channel closes once the server
// has flushed its remaining results.
func (s *stream) CloseSend() error {
	var mErr *multierror.Error
	s.sendOnce.Do(func() {
		mErr = multierror.Append(mErr, s.grpcStream.CloseSend())
		s.wg.Wait()
		mErr = multierror.Append(mErr, s.client.Close())
		s.cancel()
	})
	return mErr.ErrorOrNil()
}

func (s *stream) recvLoop() {
	defer s.wg.Done()
	defer close(s.events)

	for {
		resp, err := s.grpcStream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.events <- stt.SpeechEvent{Type: stt.SpeechEventError, Err: err}
			return
		}
		if resp.Error != nil {
			s.events <- stt.SpeechEvent{
				Type: stt.SpeechEventError,
				Err:  fmt.Errorf("recognition error %d: %s", resp.Error.GetCode(), resp.Error.GetMessage()),
			}
			return
		}

		for _, result := range resp.GetResults() {
			ev := stt.SpeechEvent{Type: stt.SpeechEventInterim}
			if result.GetIsFinal() {
				ev.Type = stt.SpeechEventFinal
			}
			for _, alt := range result.GetAlternatives() {
				ev.Alternatives = append(ev.Alternatives, stt.Alternative{
					Text:       alt.GetTranscript(),
					Confidence: alt.GetConfidence(),
				})
			}
			s.events <- ev
		}
	}
}
