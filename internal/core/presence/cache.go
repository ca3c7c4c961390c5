// Package presence keeps the client-side view of what every participant is
// doing: muted, sharing, in voice. It is display state only and never
// drives media.
package presence

import (
	"sync"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

type State struct {
	Mic     bool
	Speaker bool
	Sharing bool
	Voice   bool
}

type Cache struct {
	mu    sync.RWMutex
	order []string
	state map[string]State
}

func NewCache() *Cache {
	return &Cache{state: make(map[string]State)}
}

// Rebuild replaces the whole cache with a roster snapshot. Names without
// participant details start from the zero state.
func (c *Cache) Rebuild(names []string, participants []domain.Participant) {
	byName := make(map[string]domain.Participant, len(participants))
	for _, p := range participants {
		byName[p.Name] = p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = make([]string, 0, len(names))
	c.state = make(map[string]State, len(names))
	for _, name := range names {
		if _, dup := c.state[name]; !dup {
			c.order = append(c.order, name)
		}
		st := State{}
		if p, ok := byName[name]; ok {
			st = State{Mic: p.Mute.Microphone, Speaker: p.Mute.Speaker, Sharing: p.Sharing, Voice: p.Voice}
		}
		c.state[name] = st
	}
}

func (c *Cache) ApplyMute(name string, kind domain.MuteKind, muted bool) {
	c.update(name, func(s *State) {
		switch kind {
		case domain.MuteMicrophone:
			s.Mic = muted
		case domain.MuteSpeaker:
			s.Speaker = muted
		}
	})
}

func (c *Cache) ApplySharing(name string, sharing bool) {
	c.update(name, func(s *State) { s.Sharing = sharing })
}

// ApplyVoice records a voice start or stop. Leaving voice clears sharing
// and mute since those only exist while the media session does.
func (c *Cache) ApplyVoice(name string, active bool) {
	c.update(name, func(s *State) {
		if active {
			s.Voice = true
			return
		}
		*s = State{}
	})
}

// Prune forgets a participant that left.
func (c *Cache) Prune(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state[name]; !ok {
		return
	}
	delete(c.state, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache) Get(name string) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.state[name]
	return s, ok
}

// Names returns the known participants in roster order.
func (c *Cache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// update ignores names the cache does not know; the next list rebuild
// brings them in.
func (c *Cache) update(name string, fn func(*State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state[name]
	if !ok {
		return
	}
	fn(&s)
	c.state[name] = s
}
