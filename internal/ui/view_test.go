package ui

import (
	"errors"
	"strings"
	"testing"

	"github.com/dkeye/VoiceMesh/internal/app/mesh"
	"github.com/dkeye/VoiceMesh/internal/core/presence"
)

func TestNoticeView(t *testing.T) {
	chat := NoticeView(mesh.Notice{Kind: mesh.NoticeChat, From: "alice", Text: "hi"})
	if !strings.Contains(chat, "alice:") || !strings.Contains(chat, "hi") {
		t.Fatalf("chat line = %q", chat)
	}

	failed := NoticeView(mesh.Notice{Kind: mesh.NoticeError, Text: "voice failed", Err: errors.New("no device")})
	if !strings.Contains(failed, "voice failed: no device") {
		t.Fatalf("error line = %q", failed)
	}

	joined := NoticeView(mesh.Notice{Kind: mesh.NoticeInfo, From: "bob", Text: "joined"})
	if !strings.Contains(joined, "bob joined") {
		t.Fatalf("info line = %q", joined)
	}
}

func TestFlags(t *testing.T) {
	cases := []struct {
		state presence.State
		want  string
	}{
		{presence.State{}, ""},
		{presence.State{Voice: true}, IconMic},
		{presence.State{Voice: true, Mic: true}, IconMuted},
		{presence.State{Voice: true, Speaker: true, Sharing: true}, IconMic + " deaf " + IconScreen},
	}
	for _, c := range cases {
		if got := flags(c.state); got != c.want {
			t.Errorf("flags(%+v) = %q, want %q", c.state, got, c.want)
		}
	}
}

func TestRosterView(t *testing.T) {
	if got := RosterView(nil); !strings.Contains(got, "Nobody here") {
		t.Fatalf("empty roster = %q", got)
	}

	out := RosterView([]PeerRow{
		{Name: "alice", State: presence.State{Voice: true}, Detail: "connected"},
		{Name: "bob"},
	})
	for _, want := range []string{"Name", "Status", "alice", "bob", "connected"} {
		if !strings.Contains(out, want) {
			t.Errorf("roster table missing %q:\n%s", want, out)
		}
	}
}
