// Package dispatch issues the one-shot agent dispatch request that invites
// the transcriber into a room.
package dispatch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/N23083/uritomo-transcriber/internal/config"
	"github.com/N23083/uritomo-transcriber/internal/logging"
)

// client is the part of the agent dispatch API we call.
type client interface {
	CreateDispatch(ctx context.Context, req *livekit.CreateAgentDispatchRequest) (*livekit.AgentDispatch, error)
}

// Dispatcher sends a single dispatch request and releases its client
// afterwards. No retries: a failed attempt is terminal and reported to the
// operator.
type Dispatcher struct {
	client client
	closer func()
}

// New builds a dispatcher from the shared configuration.
func New(cfg *config.Config) *Dispatcher {
	c := lksdk.NewAgentDispatchServiceClient(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
	return &Dispatcher{
		client: c,
		closer: func() {
			http.DefaultClient.CloseIdleConnections()
		},
	}
}

// BuildRequest pairs the room with the agent name. Kept separate so the
// payload is testable.
func BuildRequest(room, agentName string) *livekit.CreateAgentDispatchRequest {
	return &livekit.CreateAgentDispatchRequest{
		Room:      room,
		AgentName: agentName,
	}
}

// Run issues the dispatch request. The client is released on both the
// success and the failure path.
func (d *Dispatcher) Run(ctx context.Context, room, agentName string) error {
	defer d.closer()

	logging.Info(logging.CategoryDispatch, "inviting agent '%s' into room '%s'", agentName, room)

	resp, err := d.client.CreateDispatch(ctx, BuildRequest(room, agentName))
	if err != nil {
		return fmt.Errorf("create dispatch: %w", err)
	}

	logging.Info(logging.CategoryDispatch, "dispatch created dispatchID=%s room=%s agentName=%s", resp.Id, room, agentName)
	return nil
}
