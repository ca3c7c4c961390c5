// Package mesh coordinates one participant: the relay connection, the peer
// session table, the local media and the presence cache.
package mesh

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/core/media"
	"github.com/dkeye/VoiceMesh/internal/core/peer"
	"github.com/dkeye/VoiceMesh/internal/core/presence"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

var ErrNotJoined = errors.New("not joined")

// Sender queues one message to the relay.
type Sender interface {
	Send(v any) error
}

type Orchestrator struct {
	out      Sender
	Sessions *peer.Table
	Media    *media.Controller
	Presence *presence.Cache

	mu             sync.Mutex
	name           string
	joined         bool
	voice          bool
	speakerMuted   bool
	incomingVolume float64
	peerVolume     map[string]float64

	notices chan Notice
}

func New(out Sender, factory core.TransportFactory, devices core.Devices) *Orchestrator {
	o := &Orchestrator{
		out:            out,
		Presence:       presence.NewCache(),
		incomingVolume: 1,
		peerVolume:     make(map[string]float64),
		notices:        make(chan Notice, 128),
	}
	o.Media = media.NewController(devices, o)
	o.Media.OnScreenStopped = o.onScreenStopped
	o.Sessions = peer.NewTable(peer.Config{
		Factory:     factory,
		Signaler:    o,
		Composition: o.Media.Composition,
		Hooks: peer.Hooks{
			OnState:   o.onSessionState,
			OnTrack:   o.onSessionTrack,
			OnFailure: o.onSessionFailure,
		},
	})
	return o
}

func (o *Orchestrator) Name() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.name
}

func (o *Orchestrator) Joined() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.joined
}

func (o *Orchestrator) VoiceActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.voice
}

// Run feeds inbound relay frames to Handle until in is closed or ctx ends.
func (o *Orchestrator) Run(ctx context.Context, in <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-in:
			if !ok {
				return
			}
			o.Handle(data)
		}
	}
}

// Handle dispatches one frame received from the relay.
func (o *Orchestrator) Handle(data []byte) {
	kind, err := protocol.Peek(data)
	if err != nil {
		log.Warn().Str("module", "app.mesh").Err(err).Msg("bad frame from relay")
		return
	}
	if kind == protocol.KindPong {
		return
	}
	if kind == protocol.KindError {
		var e protocol.Error
		if protocol.Decode(data, &e) == nil {
			o.notify(Notice{Kind: NoticeWarn, Text: "relay: " + e.Error})
		}
		return
	}
	if !o.Joined() {
		return
	}

	switch kind {
	case protocol.KindJoined, protocol.KindLeft:
		o.onPresence(kind, data)
	case protocol.KindList:
		o.onList(data)
	case protocol.KindMessage:
		o.onText(data)
	case protocol.KindVoiceStarted, protocol.KindVoiceStopped:
		o.onVoice(kind, data)
	case protocol.KindMuteStatusUpdate:
		o.onMute(data)
	case protocol.KindScreenShareUpdate:
		o.onScreenShare(data)
	case protocol.KindOffer, protocol.KindAnswer, protocol.KindICECandidate:
		o.onSignal(kind, data)
	default:
		log.Debug().Str("module", "app.mesh").Str("type", string(kind)).Msg("unhandled frame")
	}
}

func (o *Orchestrator) send(v any) error {
	if err := o.out.Send(v); err != nil {
		log.Warn().Str("module", "app.mesh").Err(err).Msg("send to relay")
		return err
	}
	return nil
}

// SendOffer, SendAnswer and SendCandidate let the peer sessions reach the relay.

func (o *Orchestrator) SendOffer(to string, sdp webrtc.SessionDescription) error {
	raw, err := protocol.Marshal(sdp)
	if err != nil {
		return err
	}
	return o.send(protocol.Signal{Type: protocol.KindOffer, Target: to, SDP: raw})
}

func (o *Orchestrator) SendAnswer(to string, sdp webrtc.SessionDescription) error {
	raw, err := protocol.Marshal(sdp)
	if err != nil {
		return err
	}
	return o.send(protocol.Signal{Type: protocol.KindAnswer, Target: to, SDP: raw})
}

func (o *Orchestrator) SendCandidate(to string, c webrtc.ICECandidateInit) error {
	raw, err := protocol.Marshal(c)
	if err != nil {
		return err
	}
	return o.send(protocol.Signal{Type: protocol.KindICECandidate, Target: to, Candidate: raw})
}

func (o *Orchestrator) onSignal(kind protocol.Kind, data []byte) {
	var msg protocol.Signal
	if err := protocol.Decode(data, &msg); err != nil || msg.From == "" {
		log.Warn().Str("module", "app.mesh").Str("type", string(kind)).Msg("bad signal frame")
		return
	}
	if msg.From == o.Name() {
		return
	}

	switch kind {
	case protocol.KindOffer, protocol.KindAnswer:
		var sdp webrtc.SessionDescription
		if err := protocol.Unmarshal(msg.SDP, &sdp); err != nil {
			log.Warn().Str("module", "app.mesh").Str("peer", msg.From).Err(err).Msg("bad sdp")
			return
		}
		if kind == protocol.KindOffer {
			// A replayed offer from someone who already left must not
			// resurrect a session.
			if _, ok := o.Presence.Get(msg.From); !ok {
				log.Debug().Str("module", "app.mesh").Str("peer", msg.From).Msg("offer from unknown participant")
				return
			}
			// Only participants in voice offer, and only to others in
			// voice; an offer that crossed our teardown is stale.
			if !o.VoiceActive() {
				log.Debug().Str("module", "app.mesh").Str("peer", msg.From).Msg("offer while voice is off")
				return
			}
			s, created := o.ensure(msg.From)
			if created && !o.VoiceActive() {
				o.Sessions.Drop(s)
				return
			}
			s.HandleOffer(sdp)
			return
		}
		if s, ok := o.Sessions.Get(msg.From); ok {
			s.HandleAnswer(sdp)
			return
		}
		log.Debug().Str("module", "app.mesh").Str("peer", msg.From).Msg("answer without session")
	case protocol.KindICECandidate:
		var c webrtc.ICECandidateInit
		if err := protocol.Unmarshal(msg.Candidate, &c); err != nil {
			log.Warn().Str("module", "app.mesh").Str("peer", msg.From).Err(err).Msg("bad candidate")
			return
		}
		if s, ok := o.Sessions.Get(msg.From); ok {
			s.HandleCandidate(c)
			return
		}
		log.Debug().Str("module", "app.mesh").Str("peer", msg.From).Msg("candidate without session")
	}
}

// ensure returns the session for name, seeding new ones with the playback
// volume and the sharing flag known for that participant.
func (o *Orchestrator) ensure(name string) (*peer.Session, bool) {
	s, created := o.Sessions.Ensure(name)
	if created {
		s.SetVolume(o.playbackVolume(name))
		if st, ok := o.Presence.Get(name); ok && st.Sharing {
			s.SetScreenSharing(true)
		}
	}
	return s, created
}

func (o *Orchestrator) onSessionState(s *peer.Session, st peer.State) {
	if st == peer.Connected {
		o.notify(Notice{Kind: NoticeInfo, From: s.Peer(), Text: "connected"})
	}
}

func (o *Orchestrator) onSessionTrack(s *peer.Session, t core.InboundTrack) {
	switch t.Kind() {
	case webrtc.RTPCodecTypeAudio:
		o.notify(Notice{Kind: NoticeInfo, From: s.Peer(), Text: "receiving audio"})
	case webrtc.RTPCodecTypeVideo:
		o.notify(Notice{Kind: NoticeInfo, From: s.Peer(), Text: "receiving screen"})
	}
}

func (o *Orchestrator) onSessionFailure(s *peer.Session, err error) {
	o.Sessions.Drop(s)
	o.notify(Notice{Kind: NoticeWarn, From: s.Peer(), Text: "connection failed", Err: err})
}
