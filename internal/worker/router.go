package worker

import (
	"context"
	"sync/atomic"

	"github.com/nautilabs/nautifier/internal/bus"
)

// Handler processes one event to completion. A nil return acks the task; an
// error return nacks it so the queue retries within its budget. Handlers
// that want no retry (permanent failures) deal with the failure themselves
// and return nil.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev bus.InboundEvent) error
}

// Router selects the handler for an event's origin channel. The routing
// table swaps atomically so config reloads never race in-flight lookups.
type Router struct {
	routes atomic.Pointer[map[string]Handler]
}

func NewRouter(routes map[string]Handler) *Router {
	r := &Router{}
	r.Update(routes)
	return r
}

// Update replaces the routing table.
func (r *Router) Update(routes map[string]Handler) {
	if routes == nil {
		routes = map[string]Handler{}
	}
	r.routes.Store(&routes)
}

// Resolve returns the handler bound to channelID.
func (r *Router) Resolve(channelID string) (Handler, bool) {
	m := *r.routes.Load()
	h, ok := m[channelID]
	return h, ok
}
