package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	req *livekit.CreateAgentDispatchRequest
	err error
}

func (f *fakeClient) CreateDispatch(ctx context.Context, req *livekit.CreateAgentDispatchRequest) (*livekit.AgentDispatch, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &livekit.AgentDispatch{Id: "AD_test", Room: req.Room, AgentName: req.AgentName}, nil
}

func TestBuildRequestPayload(t *testing.T) {
	req := BuildRequest("1", "Uritomo-Transcriber")
	assert.Equal(t, "1", req.Room)
	assert.Equal(t, "Uritomo-Transcriber", req.AgentName)
	assert.Empty(t, req.Metadata)
}

func TestRunSendsExactPayloadAndClosesClient(t *testing.T) {
	c := &fakeClient{}
	closes := 0
	d := &Dispatcher{client: c, closer: func() { closes++ }}

	require.NoError(t, d.Run(context.Background(), "room-1", "agent-a"))

	require.NotNil(t, c.req)
	assert.Equal(t, "room-1", c.req.Room)
	assert.Equal(t, "agent-a", c.req.AgentName)
	assert.Equal(t, 1, closes)
}

func TestRunReportsFailureAndStillClosesClient(t *testing.T) {
	c := &fakeClient{err: errors.New("no such room")}
	closes := 0
	d := &Dispatcher{client: c, closer: func() { closes++ }}

	err := d.Run(context.Background(), "room-1", "agent-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such room")
	assert.Equal(t, 1, closes)
}
