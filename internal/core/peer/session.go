// Package peer holds the per-peer media session of the local participant:
// one transport, its outbound senders, its inbound tracks and the
// connection state machine that drives negotiation over the relay.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
)

var errSessionClosed = errors.New("session closed")

// Signaler sends negotiation messages to one named peer through the relay.
type Signaler interface {
	SendOffer(peer string, sdp webrtc.SessionDescription) error
	SendAnswer(peer string, sdp webrtc.SessionDescription) error
	SendCandidate(peer string, c webrtc.ICECandidateInit) error
}

// Hooks are invoked from the session goroutine. They must not block on the
// session itself.
type Hooks struct {
	OnState   func(s *Session, st State)
	OnTrack   func(s *Session, t core.InboundTrack)
	OnFailure func(s *Session, err error)
}

type Config struct {
	Local       string
	Factory     core.TransportFactory
	Signaler    Signaler
	Composition func() core.Composition
	Hooks       Hooks
}

// Session is the connection with one remote participant. Every operation is
// executed on the session's own goroutine in arrival order; Close is the
// only call that acts immediately.
type Session struct {
	peer string
	cfg  Config

	mu        sync.Mutex
	state     State
	transport core.PeerTransport
	senders   map[webrtc.RTPCodecType]core.TrackSender
	inbound   map[webrtc.RTPCodecType]core.InboundTrack

	// owned by the session goroutine
	pendingOffer bool
	remoteSet    bool
	transportUp  bool
	renegotiate  bool
	descSent     bool
	remoteQueue  []webrtc.ICECandidateInit
	localQueue   []webrtc.ICECandidateInit
	sharing      bool
	volume       float64

	inbox     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(peer string, cfg Config) *Session {
	if cfg.Composition == nil {
		cfg.Composition = func() core.Composition { return core.Composition{} }
	}
	s := &Session{
		peer:    peer,
		cfg:     cfg,
		state:   Idle,
		senders: make(map[webrtc.RTPCodecType]core.TrackSender),
		inbound: make(map[webrtc.RTPCodecType]core.InboundTrack),
		volume:  1,
		inbox:   make(chan func(), 64),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) Peer() string { return s.peer }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Senders returns the outbound track per provisioned kind.
func (s *Session) Senders() map[webrtc.RTPCodecType]webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[webrtc.RTPCodecType]webrtc.TrackLocal, len(s.senders))
	for k, snd := range s.senders {
		out[k] = snd.Track()
	}
	return out
}

// Inbound returns the live inbound playback handles.
func (s *Session) Inbound() []core.InboundTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.InboundTrack, 0, len(s.inbound))
	for _, t := range s.inbound {
		out = append(out, t)
	}
	return out
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.done:
			return
		}
	}
}

func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// Connect starts negotiation as the initiator.
func (s *Session) Connect() {
	s.post(s.connect)
}

func (s *Session) HandleOffer(sdp webrtc.SessionDescription) {
	s.post(func() { s.handleOffer(sdp) })
}

func (s *Session) HandleAnswer(sdp webrtc.SessionDescription) {
	s.post(func() { s.handleAnswer(sdp) })
}

func (s *Session) HandleCandidate(c webrtc.ICECandidateInit) {
	s.post(func() { s.handleCandidate(c) })
}

// ApplyComposition moves the outbound senders from old to next and waits
// until the session has applied it. A closed session has nothing to apply.
func (s *Session) ApplyComposition(ctx context.Context, old, next core.Composition) error {
	res := make(chan error, 1)
	if !s.post(func() { res <- s.applyComposition(old, next) }) {
		return nil
	}
	select {
	case err := <-res:
		return err
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetScreenSharing mirrors the remote participant's sharing flag. Stopping
// releases the inbound video handle; starting again reattaches one.
func (s *Session) SetScreenSharing(sharing bool) {
	s.post(func() {
		s.sharing = sharing
		if !sharing {
			s.mu.Lock()
			h := s.inbound[webrtc.RTPCodecTypeVideo]
			delete(s.inbound, webrtc.RTPCodecTypeVideo)
			s.mu.Unlock()
			if h != nil {
				h.Release()
				log.Info().Str("module", "core.peer").Str("peer", s.peer).Msg("screen released")
			}
			return
		}
		if h := s.inboundTrack(webrtc.RTPCodecTypeVideo); h != nil {
			h.Play()
			return
		}
		t, ok := s.live()
		if !ok {
			return
		}
		if h, ok := t.Reattach(webrtc.RTPCodecTypeVideo); ok {
			s.onTrack(h)
		}
	})
}

// SetVolume sets the playback volume of the inbound audio.
func (s *Session) SetVolume(v float64) {
	s.post(func() {
		s.volume = v
		if t := s.inboundTrack(webrtc.RTPCodecTypeAudio); t != nil {
			t.SetVolume(v)
		}
	})
}

// Close tears the session down right away. Operations still in flight
// observe the closed state at their next step and discard their results.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	notify := s.state != Failed
	if notify {
		s.state = Closed
	}
	t, inbound := s.detachLocked()
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.done) })
	release(inbound)
	if t != nil {
		if err := t.Close(); err != nil {
			log.Debug().Str("module", "core.peer").Str("peer", s.peer).Err(err).Msg("transport close")
		}
	}
	if notify {
		log.Info().Str("module", "core.peer").Str("peer", s.peer).Msg("session closed")
		if s.cfg.Hooks.OnState != nil {
			s.cfg.Hooks.OnState(s, Closed)
		}
	}
}

func (s *Session) detachLocked() (core.PeerTransport, map[webrtc.RTPCodecType]core.InboundTrack) {
	t, inbound := s.transport, s.inbound
	s.transport = nil
	s.inbound = make(map[webrtc.RTPCodecType]core.InboundTrack)
	s.senders = make(map[webrtc.RTPCodecType]core.TrackSender)
	return t, inbound
}

func release(inbound map[webrtc.RTPCodecType]core.InboundTrack) {
	for _, t := range inbound {
		t.Release()
	}
}

// live returns the transport while the session is still usable.
func (s *Session) live() (core.PeerTransport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || s.transport == nil {
		return nil, false
	}
	return s.transport, true
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state.Terminal() || s.state == st {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = st
	s.mu.Unlock()

	log.Info().Str("module", "core.peer").Str("peer", s.peer).
		Str("from", prev.String()).Str("to", st.String()).Msg("state")
	if s.cfg.Hooks.OnState != nil {
		s.cfg.Hooks.OnState(s, st)
	}
}

func (s *Session) fail(op string, err error) {
	if errors.Is(err, errSessionClosed) {
		return
	}
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = Failed
	t, inbound := s.detachLocked()
	s.mu.Unlock()

	release(inbound)
	if t != nil {
		_ = t.Close()
	}
	perr := core.NewPeerError(s.peer, op, fmt.Errorf("%w: %w", core.ErrNegotiation, err))
	log.Warn().Str("module", "core.peer").Str("peer", s.peer).Err(perr).Msg("session failed")
	if s.cfg.Hooks.OnState != nil {
		s.cfg.Hooks.OnState(s, Failed)
	}
	if s.cfg.Hooks.OnFailure != nil {
		s.cfg.Hooks.OnFailure(s, perr)
	}
}

func (s *Session) inboundTrack(kind webrtc.RTPCodecType) core.InboundTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inbound[kind]
}
