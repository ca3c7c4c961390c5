package presence

import (
	"slices"
	"testing"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

func TestRebuildFromSnapshot(t *testing.T) {
	c := NewCache()
	c.ApplyVoice("ghost", true)
	c.Rebuild([]string{"alice", "bob"}, []domain.Participant{
		{Name: "alice", Voice: true, Sharing: true, Mute: domain.MuteState{Microphone: true}},
	})

	if got := c.Names(); !slices.Equal(got, []string{"alice", "bob"}) {
		t.Fatalf("names = %v", got)
	}
	a, _ := c.Get("alice")
	if a != (State{Mic: true, Sharing: true, Voice: true}) {
		t.Fatalf("alice = %+v", a)
	}
	b, ok := c.Get("bob")
	if !ok || b != (State{}) {
		t.Fatalf("bob = %+v", b)
	}
}

func TestIncrementalUpdates(t *testing.T) {
	c := NewCache()
	c.Rebuild([]string{"alice"}, nil)

	c.ApplyVoice("alice", true)
	c.ApplyMute("alice", domain.MuteSpeaker, true)
	c.ApplySharing("alice", true)
	s, _ := c.Get("alice")
	if s != (State{Speaker: true, Sharing: true, Voice: true}) {
		t.Fatalf("state = %+v", s)
	}

	c.ApplyVoice("alice", false)
	s, _ = c.Get("alice")
	if s != (State{}) {
		t.Fatalf("after voice stop = %+v", s)
	}

	c.ApplyMute("carol", domain.MuteMicrophone, true)
	if _, ok := c.Get("carol"); ok {
		t.Fatal("unknown name was added")
	}
}

func TestPrune(t *testing.T) {
	c := NewCache()
	c.Rebuild([]string{"alice", "bob", "carol"}, nil)
	c.Prune("bob")
	c.Prune("bob")
	if got := c.Names(); !slices.Equal(got, []string{"alice", "carol"}) {
		t.Fatalf("names = %v", got)
	}
}
