package mesh

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/core/media"
	"github.com/dkeye/VoiceMesh/internal/core/peer"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

func joinAll(t *testing.T, clients map[string]*Orchestrator, order ...string) {
	t.Helper()
	for i, name := range order {
		if err := clients[name].Join(name); err != nil {
			t.Fatal(err)
		}
		want := order[:i+1]
		eventually(t, name+" in roster", func() bool {
			return slices.Equal(clients[name].Presence.Names(), want)
		})
	}
}

func waitNotice(t *testing.T, o *Orchestrator, kind NoticeKind, from string) Notice {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case n := <-o.Notices():
			if n.Kind == kind && n.From == from {
				return n
			}
		case <-timeout:
			t.Fatalf("no %v notice from %q", kind, from)
		}
	}
}

func TestVoiceAndScreenShareScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.client("alice", true)
	b := h.client("bob", true)
	joinAll(t, map[string]*Orchestrator{"alice": a, "bob": b}, "alice", "bob")

	if err := a.StartVoice(ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "bob sees alice in voice", func() bool {
		st, _ := b.Presence.Get("alice")
		return st.Voice
	})
	if err := b.StartVoice(ctx); err != nil {
		t.Fatal(err)
	}

	eventually(t, "both sessions connected", func() bool {
		sa, sb := session(a, "bob"), session(b, "alice")
		return sa != nil && sb != nil && sa.State() == peer.Connected && sb.State() == peer.Connected
	})
	eventually(t, "audio both ways", func() bool {
		return inbound(session(a, "bob"), webrtc.RTPCodecTypeAudio) != nil &&
			inbound(session(b, "alice"), webrtc.RTPCodecTypeAudio) != nil
	})
	offers := h.fab.end("alice", "bob").offerCount() + h.fab.end("bob", "alice").offerCount()
	if offers != 1 {
		t.Fatalf("offers = %d, want 1", offers)
	}

	// bob shares: alice gets a video handle through in-place replacement.
	if err := b.StartScreenShare(ctx); err != nil {
		t.Fatal(err)
	}
	var screen *tInbound
	eventually(t, "alice receives bob's screen", func() bool {
		screen = inbound(session(a, "bob"), webrtc.RTPCodecTypeVideo)
		st, _ := a.Presence.Get("bob")
		return screen != nil && screen.Playing() && st.Sharing
	})
	if got := h.fab.end("alice", "bob").offerCount() + h.fab.end("bob", "alice").offerCount(); got != offers {
		t.Fatalf("screen share renegotiated: offers %d -> %d", offers, got)
	}
	if session(a, "bob").State() != peer.Connected || session(b, "alice").State() != peer.Connected {
		t.Fatal("screen share left the connected state")
	}

	b.StopScreenShare()
	eventually(t, "alice drops bob's screen", func() bool {
		_, released, _ := screen.state()
		st, _ := a.Presence.Get("bob")
		return released && !st.Sharing && inbound(session(a, "bob"), webrtc.RTPCodecTypeVideo) == nil
	})

	// alice's mic mute shows up in bob's presence cache.
	if muted, err := a.ToggleMicrophone(); err != nil || !muted {
		t.Fatalf("toggle = %v, %v", muted, err)
	}
	eventually(t, "bob sees alice muted", func() bool {
		st, _ := b.Presence.Get("alice")
		return st.Mic
	})

	sb := session(b, "alice")
	if err := b.StopVoice(); err != nil {
		t.Fatal(err)
	}
	if b.Sessions.Len() != 0 || !b.Media.Composition().Empty() {
		t.Fatal("bob kept sessions or outbound tracks")
	}
	if sb.State() != peer.Closed || len(sb.Inbound()) != 0 || len(sb.Senders()) != 0 {
		t.Fatal("bob's session kept media")
	}
	eventually(t, "alice drops bob", func() bool { return a.Sessions.Len() == 0 })
}

func TestDisconnectWhileNegotiating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.client("alice", true)
	b := h.client("bob", false)
	joinAll(t, map[string]*Orchestrator{"alice": a}, "alice")
	if err := b.Join("bob"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "alice sees bob", func() bool {
		return slices.Equal(a.Presence.Names(), []string{"alice", "bob"})
	})

	_ = a.StartVoice(ctx)
	_ = b.StartVoice(ctx)
	eventually(t, "alice offers bob", func() bool {
		s := session(a, "bob")
		return s != nil && s.State() == peer.Negotiating && h.fab.end("alice", "bob") != nil
	})
	stale := session(a, "bob")
	tr := h.fab.end("alice", "bob")

	h.relay.Disconnect("bob")
	eventually(t, "alice tears the session down", func() bool {
		return a.Sessions.Len() == 0 && tr.isClosed()
	})
	if stale.State() != peer.Closed {
		t.Fatalf("state = %v", stale.State())
	}

	sdp, _ := protocol.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "late"})
	frame, _ := protocol.Encode(protocol.Signal{Type: protocol.KindAnswer, From: "bob", Target: "alice", SDP: sdp})
	a.Handle(frame)
	offer, _ := protocol.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "replayed"})
	frame, _ = protocol.Encode(protocol.Signal{Type: protocol.KindOffer, From: "bob", Target: "alice", SDP: offer})
	a.Handle(frame)

	if a.Sessions.Len() != 0 {
		t.Fatalf("stale signaling resurrected %v", a.Sessions.Names())
	}
}

func TestStartVoiceRequiresJoin(t *testing.T) {
	h := newHarness(t)
	a := h.client("alice", true)
	if err := a.StartVoice(context.Background()); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("err = %v", err)
	}
	if err := a.Say("hi"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("err = %v", err)
	}
}

func TestStartVoiceDeviceFailure(t *testing.T) {
	h := newHarness(t)
	sid := core.SessionID("alice")
	p := &pipe{ch: make(chan []byte, 64)}
	a := New(relaySender{relay: h.relay, sid: sid}, linkFactory{fab: h.fab, local: "alice"}, tDevices{t: t, fail: true})
	h.relay.Connect(sid, p, func() {})
	go a.Run(h.ctx, p.ch)
	_ = a.Join("alice")

	if err := a.StartVoice(context.Background()); !errors.Is(err, core.ErrDevice) {
		t.Fatalf("err = %v", err)
	}
	if a.VoiceActive() {
		t.Fatal("voice marked active after device failure")
	}
	n := waitNotice(t, a, NoticeWarn, "")
	if !errors.Is(n.Err, core.ErrDevice) {
		t.Fatalf("notice err = %v", n.Err)
	}
}

func TestChatReachesOthers(t *testing.T) {
	h := newHarness(t)
	a := h.client("alice", true)
	b := h.client("bob", true)
	joinAll(t, map[string]*Orchestrator{"alice": a, "bob": b}, "alice", "bob")

	if err := a.Say("hello"); err != nil {
		t.Fatal(err)
	}
	n := waitNotice(t, b, NoticeChat, "alice")
	if n.Text != "hello" {
		t.Fatalf("text = %q", n.Text)
	}
}

func TestSpeakerMuteSilencesPlayback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.client("alice", true)
	b := h.client("bob", true)
	joinAll(t, map[string]*Orchestrator{"alice": a, "bob": b}, "alice", "bob")
	_ = a.StartVoice(ctx)
	eventually(t, "voice seen", func() bool {
		st, _ := b.Presence.Get("alice")
		return st.Voice
	})
	_ = b.StartVoice(ctx)
	eventually(t, "audio at alice", func() bool {
		return inbound(session(a, "bob"), webrtc.RTPCodecTypeAudio) != nil
	})

	a.SetIncomingVolume(0.6)
	if muted, _ := a.ToggleSpeaker(); !muted {
		t.Fatal("speaker not muted")
	}
	audio := inbound(session(a, "bob"), webrtc.RTPCodecTypeAudio)
	eventually(t, "playback silenced", func() bool {
		_, _, v := audio.state()
		return v == 0
	})
	_, _ = a.ToggleSpeaker()
	eventually(t, "playback restored", func() bool {
		_, _, v := audio.state()
		return v == 0.6
	})
	eventually(t, "bob sees alice's speaker state", func() bool {
		st, _ := b.Presence.Get("alice")
		return !st.Speaker
	})
}

func TestTransportLostIsTerminal(t *testing.T) {
	h := newHarness(t)
	a := h.client("alice", true)
	joinAll(t, map[string]*Orchestrator{"alice": a}, "alice")
	_ = a.StartVoice(context.Background())

	a.TransportLost(errors.New("dial refused"))
	n := waitNotice(t, a, NoticeError, "")
	if !errors.Is(n.Err, core.ErrTransportLoss) {
		t.Fatalf("err = %v", n.Err)
	}
	if a.VoiceActive() || a.Joined() || !a.Media.Composition().Empty() {
		t.Fatal("state left after transport loss")
	}
}

// inVoice brings alice and bob into voice and waits for audio both ways.
func inVoice(t *testing.T, a, b *Orchestrator) {
	t.Helper()
	ctx := context.Background()
	joinAll(t, map[string]*Orchestrator{"alice": a, "bob": b}, "alice", "bob")
	if err := a.StartVoice(ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "bob sees alice in voice", func() bool {
		st, _ := b.Presence.Get("alice")
		return st.Voice
	})
	if err := b.StartVoice(ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "audio both ways", func() bool {
		return inbound(session(a, "bob"), webrtc.RTPCodecTypeAudio) != nil &&
			inbound(session(b, "alice"), webrtc.RTPCodecTypeAudio) != nil
	})
}

func TestOfferAfterStopVoiceIsIgnored(t *testing.T) {
	h := newHarness(t)
	a := h.client("alice", true)
	b := h.client("bob", true)
	inVoice(t, a, b)

	if err := a.StopVoice(); err != nil {
		t.Fatal(err)
	}
	// bob's renegotiation crossed alice's teardown on the wire.
	sdp, _ := protocol.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "in flight"})
	frame, _ := protocol.Encode(protocol.Signal{Type: protocol.KindOffer, From: "bob", Target: "alice", SDP: sdp})
	a.Handle(frame)

	if a.VoiceActive() {
		t.Fatal("voice active after stop")
	}
	if names := a.Sessions.Names(); len(names) != 0 {
		t.Fatalf("offer after teardown created sessions %v", names)
	}
	eventually(t, "bob drops alice", func() bool { return b.Sessions.Len() == 0 })
}

func TestPeerVolumeOverridesIncoming(t *testing.T) {
	h := newHarness(t)
	a := h.client("alice", true)
	b := h.client("bob", true)
	inVoice(t, a, b)
	audio := inbound(session(a, "bob"), webrtc.RTPCodecTypeAudio)
	volume := func() float64 {
		_, _, v := audio.state()
		return v
	}

	if got := a.SetPeerVolume("bob", 3); got != media.MaxVolume {
		t.Fatalf("clamped = %v", got)
	}
	a.SetPeerVolume("bob", 0.3)
	eventually(t, "bob at 0.3", func() bool { return volume() == 0.3 })

	a.SetIncomingVolume(0.8)
	time.Sleep(20 * time.Millisecond)
	if v := volume(); v != 0.3 {
		t.Fatalf("global volume replaced the override: %v", v)
	}
	if v, ok := a.PeerVolume("bob"); !ok || v != 0.3 {
		t.Fatalf("PeerVolume = %v, %v", v, ok)
	}
	if v, ok := a.PeerVolume("carol"); ok || v != 0.8 {
		t.Fatalf("PeerVolume(carol) = %v, %v", v, ok)
	}

	_, _ = a.ToggleSpeaker()
	eventually(t, "speaker mute wins", func() bool { return volume() == 0 })
	_, _ = a.ToggleSpeaker()
	eventually(t, "override restored", func() bool { return volume() == 0.3 })
}

func TestReconnectRejoins(t *testing.T) {
	h := newHarness(t)
	a := h.client("alice", true)
	b := h.client("bob", true)
	inVoice(t, a, b)
	before := session(b, "alice")

	// alice comes back on a new connection before the relay has noticed
	// the old one is gone.
	p := &pipe{ch: make(chan []byte, 1024)}
	a.out = relaySender{relay: h.relay, sid: "alice-2"}
	h.relay.Connect("alice-2", p, func() {})
	go a.Run(h.ctx, p.ch)
	a.Reconnected()

	eventually(t, "media restored after rejoin", func() bool {
		sb, sa := session(b, "alice"), session(a, "bob")
		return sb != nil && sb != before && sa != nil &&
			sb.State() == peer.Connected && sa.State() == peer.Connected &&
			inbound(sb, webrtc.RTPCodecTypeAudio) != nil &&
			inbound(sa, webrtc.RTPCodecTypeAudio) != nil
	})
	if before.State() != peer.Closed {
		t.Fatalf("stale session state = %v", before.State())
	}
	current := session(b, "alice")

	// The old connection finally drops; alice still holds her name.
	h.relay.Disconnect("alice")
	eventually(t, "relay keeps alice", func() bool {
		return slices.Equal(h.relay.Roster.List(), []string{"bob", "alice"})
	})
	eventually(t, "bob sees the new roster", func() bool {
		return slices.Equal(b.Presence.Names(), []string{"bob", "alice"})
	})
	if session(b, "alice") != current || current.State() != peer.Connected {
		t.Fatal("bob lost the session with alice")
	}
	if !slices.Equal(a.Sessions.Names(), []string{"bob"}) || !a.VoiceActive() {
		t.Fatalf("alice sessions = %v, voice = %v", a.Sessions.Names(), a.VoiceActive())
	}
}
