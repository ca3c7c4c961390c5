package core

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

// Roster is the relay-owned, ordered-by-arrival set of joined participants.
// It is a pure data authority: it never broadcasts and never touches
// transport resources. Callers announce joined/left/list after mutating it.
type Roster struct {
	mu    sync.RWMutex
	order []SessionID
	bySID map[SessionID]*domain.Participant
}

func NewRoster() *Roster {
	return &Roster{bySID: make(map[SessionID]*domain.Participant)}
}

// Add registers a participant under sid. A second Add for the same sid is an
// invariant violation and reports ErrDuplicateConnection.
func (r *Roster) Add(sid SessionID, name string) (*domain.Participant, error) {
	p, err := domain.NewParticipant(string(sid), name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; ok {
		return nil, fmt.Errorf("add %s: %w", sid, ErrDuplicateConnection)
	}
	r.bySID[sid] = p
	r.order = append(r.order, sid)
	log.Info().Str("module", "core.roster").Str("sid", string(sid)).Str("name", name).Msg("participant added")
	return p, nil
}

// Remove drops sid from the roster. It is idempotent.
func (r *Roster) Remove(sid SessionID) (*domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.bySID[sid]
	if !ok {
		return nil, false
	}
	delete(r.bySID, sid)
	if i := slices.Index(r.order, sid); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	log.Info().Str("module", "core.roster").Str("sid", string(sid)).Str("name", p.Name).Msg("participant removed")
	return p, true
}

// List returns the names in arrival order. The slice is a copy.
func (r *Roster) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, sid := range r.order {
		out = append(out, r.bySID[sid].Name)
	}
	return out
}

// Snapshot returns copies of every participant in arrival order.
func (r *Roster) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.order))
	for _, sid := range r.order {
		out = append(out, *r.bySID[sid])
	}
	return out
}

func (r *Roster) Lookup(sid SessionID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bySID[sid]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Resolve finds the connection currently holding name. When several
// connections joined under the same name the latest one wins.
func (r *Roster) Resolve(name string) (SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		sid := r.order[i]
		if r.bySID[sid].Name == name {
			return sid, true
		}
	}
	return "", false
}

// Members returns the connection ids in arrival order.
func (r *Roster) Members() []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Roster) SetMute(sid SessionID, kind domain.MuteKind, muted bool) bool {
	return r.update(sid, func(p *domain.Participant) { p.Mute.Set(kind, muted) })
}

func (r *Roster) SetSharing(sid SessionID, sharing bool) bool {
	return r.update(sid, func(p *domain.Participant) { p.Sharing = sharing })
}

// SetVoice records whether the participant has voice active. Stopping voice
// also ends any screen share since both ride on the same media session.
func (r *Roster) SetVoice(sid SessionID, active bool) bool {
	return r.update(sid, func(p *domain.Participant) {
		p.Voice = active
		if !active {
			p.Sharing = false
			p.Mute = domain.MuteState{}
		}
	})
}

func (r *Roster) update(sid SessionID, fn func(*domain.Participant)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.bySID[sid]
	if !ok {
		return false
	}
	fn(p)
	return true
}
