package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
)

// open creates the transport and provisions one sender per media kind from
// the current composition. A video slot is reserved even when nothing is
// shared so a later screen share is an in-place replacement.
func (s *Session) open() (core.PeerTransport, error) {
	t, err := s.cfg.Factory.NewTransport(s.peer)
	if err != nil {
		return nil, fmt.Errorf("new transport: %w", err)
	}

	t.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.post(func() { s.onLocalCandidate(c) })
	})
	t.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.post(func() { s.onTransportState(st) })
	})
	t.OnTrack(func(in core.InboundTrack) {
		if !s.post(func() { s.onTrack(in) }) {
			in.Release()
		}
	})

	comp := s.cfg.Composition()
	senders := make(map[webrtc.RTPCodecType]core.TrackSender, len(core.MediaKinds))
	for _, kind := range core.MediaKinds {
		snd, err := t.AddSender(kind, comp.Track(kind))
		if err != nil {
			log.Warn().Str("module", "core.peer").Str("peer", s.peer).Str("kind", kind.String()).Err(err).Msg("sender slot unavailable")
			continue
		}
		senders[kind] = snd
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		_ = t.Close()
		return nil, errSessionClosed
	}
	s.transport = t
	s.senders = senders
	s.mu.Unlock()
	s.setState(Negotiating)
	return t, nil
}

func (s *Session) connect() {
	if s.State() != Idle {
		return
	}
	t, err := s.open()
	if err != nil {
		s.fail("connect", err)
		return
	}
	s.offer(t)
}

func (s *Session) offer(t core.PeerTransport) {
	offer, err := t.CreateOffer()
	if err != nil {
		s.fail("create offer", err)
		return
	}
	if err := t.SetLocalDescription(offer); err != nil {
		s.fail("set local offer", err)
		return
	}
	if _, ok := s.live(); !ok {
		return
	}
	s.pendingOffer = true
	s.descSent = false
	if err := s.cfg.Signaler.SendOffer(s.peer, offer); err != nil {
		s.fail("send offer", err)
		return
	}
	s.flushLocal()
}

// polite reports whether this side yields when both sides offer at once.
func (s *Session) polite() bool {
	return s.cfg.Local > s.peer
}

func (s *Session) handleOffer(sdp webrtc.SessionDescription) {
	switch s.State() {
	case Closed, Failed:
		return
	case Idle:
		t, err := s.open()
		if err != nil {
			s.fail("accept offer", err)
			return
		}
		s.answer(t, sdp)
		return
	}

	t, ok := s.live()
	if !ok {
		return
	}
	if s.pendingOffer {
		if !s.polite() {
			log.Debug().Str("module", "core.peer").Str("peer", s.peer).Msg("offer collision, keeping ours")
			return
		}
		if err := t.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			s.fail("rollback", err)
			return
		}
		s.pendingOffer = false
		if s.State() == Renegotiating {
			s.renegotiate = true
		}
		log.Debug().Str("module", "core.peer").Str("peer", s.peer).Msg("offer collision, rolled back")
	}
	s.answer(t, sdp)
}

func (s *Session) answer(t core.PeerTransport, offer webrtc.SessionDescription) {
	if err := t.SetRemoteDescription(offer); err != nil {
		s.fail("set remote offer", err)
		return
	}
	if _, ok := s.live(); !ok {
		return
	}
	s.remoteSet = true
	s.flushRemote(t)

	answer, err := t.CreateAnswer()
	if err != nil {
		s.fail("create answer", err)
		return
	}
	if err := t.SetLocalDescription(answer); err != nil {
		s.fail("set local answer", err)
		return
	}
	if _, ok := s.live(); !ok {
		return
	}
	s.descSent = false
	if err := s.cfg.Signaler.SendAnswer(s.peer, answer); err != nil {
		s.fail("send answer", err)
		return
	}
	s.flushLocal()
	if s.transportUp && s.State() == Renegotiating {
		s.setState(Connected)
	}
	s.maybeRenegotiate()
}

func (s *Session) handleAnswer(sdp webrtc.SessionDescription) {
	t, ok := s.live()
	if !ok || !s.pendingOffer {
		log.Debug().Str("module", "core.peer").Str("peer", s.peer).Msg("ignoring stale answer")
		return
	}
	if err := t.SetRemoteDescription(sdp); err != nil {
		s.fail("set remote answer", err)
		return
	}
	if _, ok := s.live(); !ok {
		return
	}
	s.pendingOffer = false
	s.remoteSet = true
	s.flushRemote(t)

	switch s.State() {
	case Renegotiating:
		s.setState(Connected)
	case Negotiating:
		if s.transportUp {
			s.setState(Connected)
		}
	}
	s.maybeRenegotiate()
}

func (s *Session) handleCandidate(c webrtc.ICECandidateInit) {
	if s.State().Terminal() {
		return
	}
	t, ok := s.live()
	if !ok || !s.remoteSet {
		s.remoteQueue = append(s.remoteQueue, c)
		return
	}
	if err := t.AddICECandidate(c); err != nil {
		log.Warn().Str("module", "core.peer").Str("peer", s.peer).Err(err).Msg("add candidate")
	}
}

func (s *Session) flushRemote(t core.PeerTransport) {
	queued := s.remoteQueue
	s.remoteQueue = nil
	for _, c := range queued {
		if err := t.AddICECandidate(c); err != nil {
			log.Warn().Str("module", "core.peer").Str("peer", s.peer).Err(err).Msg("add queued candidate")
		}
	}
}

// onLocalCandidate forwards a gathered candidate once the description it
// belongs to has been sent.
func (s *Session) onLocalCandidate(c webrtc.ICECandidateInit) {
	if _, ok := s.live(); !ok {
		return
	}
	if !s.descSent {
		s.localQueue = append(s.localQueue, c)
		return
	}
	if err := s.cfg.Signaler.SendCandidate(s.peer, c); err != nil {
		log.Warn().Str("module", "core.peer").Str("peer", s.peer).Err(err).Msg("send candidate")
	}
}

func (s *Session) flushLocal() {
	s.descSent = true
	queued := s.localQueue
	s.localQueue = nil
	for _, c := range queued {
		if _, ok := s.live(); !ok {
			return
		}
		if err := s.cfg.Signaler.SendCandidate(s.peer, c); err != nil {
			log.Warn().Str("module", "core.peer").Str("peer", s.peer).Err(err).Msg("send candidate")
		}
	}
}

func (s *Session) onTransportState(st webrtc.PeerConnectionState) {
	if s.State().Terminal() {
		return
	}
	log.Debug().Str("module", "core.peer").Str("peer", s.peer).Str("transport", st.String()).Msg("transport state")
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.transportUp = true
		if s.State() == Negotiating && !s.pendingOffer {
			s.setState(Connected)
		}
		s.maybeRenegotiate()
	case webrtc.PeerConnectionStateFailed:
		s.fail("transport", fmt.Errorf("transport %s", st))
	case webrtc.PeerConnectionStateClosed:
		s.fail("transport", fmt.Errorf("transport %s", st))
	}
}

func (s *Session) onTrack(in core.InboundTrack) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		in.Release()
		return
	}
	prev := s.inbound[in.Kind()]
	s.inbound[in.Kind()] = in
	s.mu.Unlock()

	if prev != nil && prev != in {
		prev.Release()
	}
	switch in.Kind() {
	case webrtc.RTPCodecTypeAudio:
		in.SetVolume(s.volume)
		in.Play()
	case webrtc.RTPCodecTypeVideo:
		// Media can overtake the sharing announcement; hold it until then.
		if s.sharing {
			in.Play()
		} else {
			in.Pause()
		}
	}
	log.Info().Str("module", "core.peer").Str("peer", s.peer).Str("kind", in.Kind().String()).Msg("inbound track")
	if s.cfg.Hooks.OnTrack != nil {
		s.cfg.Hooks.OnTrack(s, in)
	}
}

// applyComposition swaps tracks in existing senders in place. A kind with no
// sender gets one added, which costs exactly one renegotiation round.
func (s *Session) applyComposition(old, next core.Composition) error {
	if old == next {
		return nil
	}
	t, ok := s.live()
	if !ok {
		// Not opened yet: open reads the current composition.
		return nil
	}

	added := false
	for _, kind := range core.MediaKinds {
		track := next.Track(kind)
		s.mu.Lock()
		snd, has := s.senders[kind]
		s.mu.Unlock()

		if has {
			if snd.Track() == track {
				continue
			}
			if err := snd.ReplaceTrack(track); err != nil {
				return core.NewPeerError(s.peer, "replace "+kind.String(), err)
			}
			continue
		}
		if track == nil {
			continue
		}
		snd, err := t.AddSender(kind, track)
		if err != nil {
			return core.NewPeerError(s.peer, "add "+kind.String(), err)
		}
		s.mu.Lock()
		if s.state.Terminal() {
			s.mu.Unlock()
			return nil
		}
		s.senders[kind] = snd
		s.mu.Unlock()
		added = true
	}

	if added {
		s.renegotiate = true
		s.maybeRenegotiate()
	}
	return nil
}

// maybeRenegotiate runs a pending renegotiation once the session is connected
// and no offer is outstanding.
func (s *Session) maybeRenegotiate() {
	if !s.renegotiate || s.pendingOffer || s.State() != Connected {
		return
	}
	t, ok := s.live()
	if !ok {
		return
	}
	s.renegotiate = false
	s.setState(Renegotiating)
	s.offer(t)
}
