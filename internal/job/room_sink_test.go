package job

import (
	"encoding/json"
	"testing"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/N23083/uritomo-transcriber/internal/transcript"
)

type fakePublisher struct {
	payloads [][]byte
}

func (f *fakePublisher) PublishDataPacket(packet lksdk.DataPacket, opts ...lksdk.DataPublishOption) error {
	if user, ok := packet.(*lksdk.UserDataPacket); ok {
		f.payloads = append(f.payloads, user.Payload)
	}
	return nil
}

func TestRoomSinkDropsEntriesBeforeAttach(t *testing.T) {
	s := newRoomSink()

	require.NoError(t, s.Write(transcript.Entry{Participant: "alice", Text: "early"}))
}

func TestRoomSinkPublishesEntriesAfterAttach(t *testing.T) {
	pub := &fakePublisher{}
	s := newRoomSink()
	s.attach(pub)

	require.NoError(t, s.Write(transcript.Entry{Participant: "alice", TrackSID: "TR_1", Text: "hello"}))
	require.Len(t, pub.payloads, 1)

	var got transcript.Entry
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "alice", got.Participant)
	assert.Equal(t, "TR_1", got.TrackSID)
	assert.Equal(t, "hello", got.Text)
}
