package job

import (
	"context"
	"fmt"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/N23083/uritomo-transcriber/internal/audio"
	"github.com/N23083/uritomo-transcriber/internal/config"
	"github.com/N23083/uritomo-transcriber/internal/logging"
	"github.com/N23083/uritomo-transcriber/internal/relay"
	"github.com/N23083/uritomo-transcriber/internal/stt"
	"github.com/N23083/uritomo-transcriber/internal/transcript"
)

// Job represents a single room job execution. It connects to a LiveKit room
// subscribing to audio only and runs one relay per remote audio track.
type Job struct {
	JobID    string
	RoomName string
	Token    string
	URL      string
	Config   *config.Config
	Provider stt.Provider
	Sink     transcript.Sink
}

// Run executes the job: connect, transcribe every audio track until the
// context is cancelled.
func (j *Job) Run(ctx context.Context) error {
	logging.Info(logging.CategoryJob, "starting job jobID=%s room=%s provider=%s", j.JobID, j.RoomName, j.Provider.Name())

	registry := relay.NewRegistry(ctx)
	defer registry.Close()

	// In-room captions: final transcripts also go out as data packets. The
	// caption sink gets its publisher attached after the join completes; the
	// composed sink itself never changes, so the SDK callbacks below can
	// capture it before the connection exists.
	captions := newRoomSink()
	sink := transcript.MultiSink{j.Sink, captions}

	callbacks := &lksdk.RoomCallback{
		OnDisconnected: func() {
			logging.Info(logging.CategoryJob, "disconnected from room jobID=%s", j.JobID)
		},
		OnParticipantConnected: func(participant *lksdk.RemoteParticipant) {
			logging.Info(logging.CategoryJob, "participant connected identity=%s", participant.Identity())
		},
		OnParticipantDisconnected: func(participant *lksdk.RemoteParticipant) {
			logging.Info(logging.CategoryJob, "participant disconnected identity=%s", participant.Identity())
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				// Audio-only subscription policy: video and other kinds are
				// never subscribed.
				if pub.Kind() != lksdk.TrackKindAudio {
					return
				}
				if err := pub.SetSubscribed(true); err != nil {
					logging.Warning(logging.CategoryJob, "failed to subscribe to track trackSID=%s: %v", pub.SID(), err)
				}
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				startRelayIfAudio(track.Kind(), func() {
					logging.Info(logging.CategoryJob, "audio detected participant=%s trackSID=%s", rp.Identity(), pub.SID())
					j.startRelay(ctx, registry, sink, track, pub, rp)
				})
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				logging.Info(logging.CategoryJob, "track unsubscribed participant=%s trackSID=%s", rp.Identity(), pub.SID())
				registry.Stop(pub.SID())
			},
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(j.URL, j.Token, callbacks, lksdk.WithAutoSubscribe(false))
	if err != nil {
		return fmt.Errorf("connect to room: %w", err)
	}
	defer room.Disconnect()

	logging.Info(logging.CategoryJob, "connected to room room=%s identity=%s", room.Name(), room.LocalParticipant.Identity())

	captions.attach(room.LocalParticipant)

	// Cover the race where audio began before the worker joined: subscribe
	// to audio publications that already exist, and relay any track that is
	// already delivered. Later deliveries land in OnTrackSubscribed; the
	// registry dedupes by track SID.
	for _, p := range room.GetRemoteParticipants() {
		for _, pub := range p.TrackPublications() {
			if pub.Kind() != lksdk.TrackKindAudio {
				continue
			}
			remotePub, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok {
				continue
			}
			if !remotePub.IsSubscribed() {
				if err := remotePub.SetSubscribed(true); err != nil {
					logging.Warning(logging.CategoryJob, "failed to subscribe to existing track trackSID=%s: %v", remotePub.SID(), err)
					continue
				}
			}
			if track := remotePub.Track(); track != nil {
				if remoteTrack, ok := track.(*webrtc.TrackRemote); ok {
					logging.Info(logging.CategoryJob, "existing audio detected participant=%s trackSID=%s", p.Identity(), remotePub.SID())
					j.startRelay(ctx, registry, sink, remoteTrack, remotePub, p)
				}
			}
		}
	}

	<-ctx.Done()
	logging.Info(logging.CategoryJob, "context cancelled, exiting jobID=%s", j.JobID)

	// Disconnect before waiting on the relays: a source blocked in a track
	// read only unblocks when the connection drops and the read fails.
	room.Disconnect()
	registry.Close()

	logging.Info(logging.CategoryJob, "job completed jobID=%s", j.JobID)
	return nil
}

// startRelayIfAudio runs start only for audio tracks and reports whether it
// ran. Video and data tracks never get a recognition stream.
func startRelayIfAudio(kind webrtc.RTPCodecType, start func()) bool {
	if kind != webrtc.RTPCodecTypeAudio {
		return false
	}
	start()
	return true
}

// startRelay builds the frame source and recognition stream for one track
// and hands them to the registry. Duplicate track SIDs are no-ops.
func (j *Job) startRelay(ctx context.Context, registry *relay.Registry, sink transcript.Sink, track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	trackSID := pub.SID()
	identity := rp.Identity()

	source, err := audio.NewTrackSource(trackSID, track)
	if err != nil {
		logging.Error(logging.CategoryJob, "failed to create track source trackSID=%s: %v", trackSID, err)
		return
	}

	stream, err := j.Provider.NewStream(ctx, stt.StreamConfig{
		SampleRate:  audio.SampleRate,
		NumChannels: 1,
		Language:    j.Config.Language,
	})
	if err != nil {
		logging.Error(logging.CategoryJob, "failed to open recognition stream trackSID=%s: %v", trackSID, err)
		return
	}

	rel := relay.New(trackSID, identity, source, stream, sink)
	if !registry.Start(trackSID, rel) {
		// Already relaying this track (pre-existing enumeration raced the
		// subscription event). Release the unused stream.
		releaseStream(stream, trackSID)
	}
}

// releaseStream closes a recognition stream nobody will read. Its events are
// drained so a provider whose close handshake waits on event delivery cannot
// block.
func releaseStream(stream stt.Stream, trackSID string) {
	go func() {
		for range stream.Events() {
		}
	}()
	if err := stream.CloseSend(); err != nil {
		logging.Warning(logging.CategoryJob, "failed to release duplicate recognition stream trackSID=%s: %v", trackSID, err)
	}
}
