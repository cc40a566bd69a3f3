// Package audio turns a subscribed LiveKit audio track into an ordered
// stream of fixed-size PCM frames suitable for streaming recognition. Opus
// payloads are decoded at 48kHz mono and resampled down to the recognition
// rate.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	soxr "github.com/zaf/resample"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/N23083/uritomo-transcriber/internal/logging"
)

// TrackReader is the read surface of webrtc.TrackRemote. Read blocks until
// the next RTP packet arrives or the underlying connection fails.
type TrackReader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

const (
	// DecodeSampleRate is the Opus decode rate for LiveKit audio tracks.
	DecodeSampleRate = 48000
	// SampleRate is the PCM rate frames are emitted at.
	SampleRate = 16000
	// FrameSamples is the emitted frame size: 20ms at 16kHz.
	FrameSamples = 320
)

// TrackSource reads RTP from one remote audio track and emits s16 PCM frames
// at SampleRate on Frames. The channel is closed when the track read loop
// ends (track removed, participant left, connection closed) or the context
// is cancelled.
type TrackSource struct {
	trackSID string
	track    TrackReader
	frames   chan []int16

	decoder      *opus.Decoder
	resampler    *soxr.Resampler
	resamplerBuf *bytes.Buffer
	chunk        *chunker

	// Preallocated buffers reused across resample calls
	inputBytesBuf    []byte
	outputSamplesBuf []int16

	startOnce sync.Once

	firstRTPLogged bool
}

// NewTrackSource creates a source for the given remote track.
func NewTrackSource(trackSID string, track TrackReader) (*TrackSource, error) {
	decoder, err := opus.NewDecoder(DecodeSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	// The resampler writes to the same buffer we read decoded output from.
	resamplerBuf := &bytes.Buffer{}
	resampler, err := soxr.New(resamplerBuf, float64(DecodeSampleRate), float64(SampleRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	return &TrackSource{
		trackSID:         trackSID,
		track:            track,
		frames:           make(chan []int16, 32),
		decoder:          decoder,
		resampler:        resampler,
		resamplerBuf:     resamplerBuf,
		chunk:            newChunker(FrameSamples),
		inputBytesBuf:    make([]byte, 0, 1920),
		outputSamplesBuf: make([]int16, 0, FrameSamples),
	}, nil
}

// Start launches the read loop. Safe to call once.
func (s *TrackSource) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.loop(ctx)
		logging.Info(logging.CategoryAudio, "started track source trackSID=%s", s.trackSID)
	})
}

// Frames returns the ordered PCM frame stream.
func (s *TrackSource) Frames() <-chan []int16 {
	return s.frames
}

func (s *TrackSource) loop(ctx context.Context) {
	defer close(s.frames)
	defer s.resampler.Close()

	buf := make([]byte, 1500)
	rtpPacket := &rtp.Packet{}
	pcmFrame48k := make([]int16, 960) // 20ms @ 48kHz

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := s.track.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				logging.Info(logging.CategoryAudio, "track read ended trackSID=%s: %v", s.trackSID, err)
			}
			return
		}

		if !s.firstRTPLogged {
			s.firstRTPLogged = true
			logging.Info(logging.CategoryAudio, "received first RTP packet trackSID=%s size=%d", s.trackSID, n)
		}

		if err := rtpPacket.Unmarshal(buf[:n]); err != nil {
			logging.Warning(logging.CategoryAudio, "failed to unmarshal RTP packet trackSID=%s: %v", s.trackSID, err)
			continue
		}

		opusPayload := rtpPacket.Payload
		if len(opusPayload) == 0 {
			continue // DTX packet
		}

		sampleCount, err := s.decoder.Decode(opusPayload, pcmFrame48k)
		if err != nil {
			if err.Error() == "opus: no data supplied" {
				continue // DTX packet
			}
			logging.Warning(logging.CategoryAudio, "failed to decode Opus trackSID=%s: %v", s.trackSID, err)
			continue
		}
		if sampleCount == 0 {
			continue
		}

		resampled, err := s.resampleToTarget(pcmFrame48k[:sampleCount])
		if err != nil {
			logging.Warning(logging.CategoryAudio, "failed to resample trackSID=%s: %v", s.trackSID, err)
			continue
		}
		if len(resampled) == 0 {
			// Resampler is buffering
			continue
		}

		for _, frame := range s.chunk.push(resampled) {
			select {
			case s.frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// resampleToTarget resamples PCM from the decode rate to SampleRate.
func (s *TrackSource) resampleToTarget(samples48k []int16) ([]int16, error) {
	inputSize := len(samples48k) * 2
	if cap(s.inputBytesBuf) < inputSize {
		s.inputBytesBuf = make([]byte, inputSize)
	}
	inputBytes := s.inputBytesBuf[:inputSize]
	for i, sample := range samples48k {
		binary.LittleEndian.PutUint16(inputBytes[i*2:], uint16(sample))
	}

	s.resamplerBuf.Reset()
	if _, err := s.resampler.Write(inputBytes); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	outputBytes := s.resamplerBuf.Bytes()
	if len(outputBytes) == 0 {
		return nil, nil
	}

	outputSize := len(outputBytes) / 2
	if cap(s.outputSamplesBuf) < outputSize {
		s.outputSamplesBuf = make([]int16, outputSize)
	}
	outputSamples := s.outputSamplesBuf[:outputSize]
	for i := 0; i < outputSize; i++ {
		outputSamples[i] = int16(binary.LittleEndian.Uint16(outputBytes[i*2:]))
	}

	return outputSamples, nil
}
