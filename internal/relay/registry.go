package relay

import (
	"context"
	"sync"

	"github.com/N23083/uritomo-transcriber/internal/logging"
)

// Registry owns every relay for one room, keyed by track SID. Starting a
// relay for an already-registered track is a no-op, which makes the
// pre-existing-track enumeration safe to race with the subscription event
// for the same track. Relay failures are logged here instead of vanishing
// into a detached goroutine.
type Registry struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry whose relays live within parent.
func NewRegistry(parent context.Context) *Registry {
	ctx, cancel := context.WithCancel(parent)
	return &Registry{
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]context.CancelFunc),
	}
}

// Start registers and launches a relay for trackSID. Returns false if a relay
// for that track is already registered or the registry is closed.
func (g *Registry) Start(trackSID string, r *Relay) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx.Err() != nil {
		return false
	}
	if _, exists := g.active[trackSID]; exists {
		logging.Debug(logging.CategoryRelay, "relay already registered trackSID=%s", trackSID)
		return false
	}

	ctx, cancel := context.WithCancel(g.ctx)
	g.active[trackSID] = cancel

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer cancel()

		err := r.Run(ctx)

		g.mu.Lock()
		delete(g.active, trackSID)
		g.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			logging.Error(logging.CategoryRelay, "relay failed trackSID=%s participant=%s: %v", trackSID, r.identity, err)
			return
		}
		logging.Info(logging.CategoryRelay, "relay finished trackSID=%s participant=%s", trackSID, r.identity)
	}()

	return true
}

// Stop cancels the relay for trackSID, if registered.
func (g *Registry) Stop(trackSID string) {
	g.mu.Lock()
	cancel, exists := g.active[trackSID]
	g.mu.Unlock()

	if exists {
		cancel()
	}
}

// Len returns the number of registered relays.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

// Close cancels all relays and waits for them to finish.
func (g *Registry) Close() {
	g.cancel()
	g.wg.Wait()
}
