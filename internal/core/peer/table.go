package peer

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// Table maps remote participant names to their live sessions.
// At most one session exists per name.
type Table struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Session
}

func NewTable(cfg Config) *Table {
	return &Table{cfg: cfg, sessions: make(map[string]*Session)}
}

// SetLocal changes the local name used for sessions created afterwards.
func (t *Table) SetLocal(name string) {
	t.mu.Lock()
	t.cfg.Local = name
	t.mu.Unlock()
}

// Ensure returns the session for peer, creating it when absent.
func (t *Table) Ensure(peer string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[peer]; ok {
		return s, false
	}
	s := NewSession(peer, t.cfg)
	t.sessions[peer] = s
	log.Debug().Str("module", "core.peer").Str("peer", peer).Msg("session created")
	return s, true
}

func (t *Table) Get(peer string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[peer]
	return s, ok
}

// Remove closes and forgets the session for peer.
func (t *Table) Remove(peer string) bool {
	t.mu.Lock()
	s, ok := t.sessions[peer]
	delete(t.sessions, peer)
	t.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	return true
}

// Drop removes s only if it is still the registered session for its peer.
func (t *Table) Drop(s *Session) bool {
	t.mu.Lock()
	cur, ok := t.sessions[s.peer]
	if ok && cur == s {
		delete(t.sessions, s.peer)
	}
	t.mu.Unlock()
	s.Close()
	return ok && cur == s
}

// CloseAll tears down every session and returns how many there were.
func (t *Table) CloseAll() int {
	t.mu.Lock()
	all := t.sessions
	t.sessions = make(map[string]*Session)
	t.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
	return len(all)
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Names returns the peers with a session, sorted.
func (t *Table) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.sessions))
	for name := range t.sessions {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (t *Table) Sessions() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}
