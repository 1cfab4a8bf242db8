package core

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ConnID identifies one live transport connection. Opaque, minted by the
// signal adapter, valid for the connection's lifetime.
type ConnID string

// SignalConnection abstracts the per-connection messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Registry maps connection ids to live connection handles. It is a lookup
// table only, never lifecycle authority over the connections it holds.
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnID]SignalConnection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[ConnID]SignalConnection)}
}

func (r *Registry) Bind(id ConnID, conn SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = conn
	log.Debug().Str("module", "core.registry").Str("conn", string(id)).Msg("connection bound")
}

func (r *Registry) Unbind(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	log.Debug().Str("module", "core.registry").Str("conn", string(id)).Msg("connection unbound")
}

func (r *Registry) Get(id ConnID) (SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SendTo unicasts a named event to one connection. Returns false when the
// target is no longer registered; callers decide whether that is an error.
func (r *Registry) SendTo(id ConnID, event string, data any) bool {
	conn, ok := r.Get(id)
	if !ok {
		return false
	}
	frame, err := Encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("module", "core.registry").Str("event", event).Msg("encode outbound frame")
		return false
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "core.registry").Str("conn", string(id)).Str("event", event).Msg("send failed")
		return false
	}
	return true
}
