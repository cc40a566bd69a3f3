package job

import (
	"encoding/json"
	"fmt"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/N23083/uritomo-transcriber/internal/transcript"
)

// transcriptTopic is the data-packet topic in-room clients listen on for
// captions.
const transcriptTopic = "transcript"

// packetPublisher is the slice of lksdk.LocalParticipant the sink publishes
// through.
type packetPublisher interface {
	PublishDataPacket(packet lksdk.DataPacket, opts ...lksdk.DataPublishOption) error
}

// roomSink publishes finalized transcripts into the room as reliable data
// packets so connected clients can render captions. The sink is created
// before the room join and attached to the local participant once the join
// completes; entries written before that are dropped, they still reach the
// job's other sinks.
type roomSink struct {
	mu  sync.Mutex
	pub packetPublisher
}

func newRoomSink() *roomSink {
	return &roomSink{}
}

// attach sets the publisher the sink writes through.
func (s *roomSink) attach(pub packetPublisher) {
	s.mu.Lock()
	s.pub = pub
	s.mu.Unlock()
}

// Write implements transcript.Sink.
func (s *roomSink) Write(e transcript.Entry) error {
	s.mu.Lock()
	pub := s.pub
	s.mu.Unlock()
	if pub == nil {
		return nil
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	err = pub.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishTopic(transcriptTopic),
		lksdk.WithDataPublishReliable(true),
	)
	if err != nil {
		return fmt.Errorf("publish transcript data packet: %w", err)
	}
	return nil
}
