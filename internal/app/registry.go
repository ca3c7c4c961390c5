package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
)

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry maps live signaling connections to their transport endpoint.
// A connection is bound before it joins and stays bound until the
// transport drops, so unjoined clients can still request the roster.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.SessionID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.SessionID]*connEntry)}
}

func (r *Registry) Bind(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sid] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind signal")
}

func (r *Registry) Get(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel stops the pumps of sid. The adapter reports the disconnect once
// its read loop has exited.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.conns[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled connection")
	return true
}
