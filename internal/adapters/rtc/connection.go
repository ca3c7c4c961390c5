package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
)

var errKindMismatch = errors.New("track kind does not match sender")

// Transport is a pion PeerConnection seen through core.PeerTransport.
type Transport struct {
	peer string
	pc   *webrtc.PeerConnection
	sink Sink

	mu      sync.Mutex
	onTrack func(core.InboundTrack)
	remote  map[webrtc.RTPCodecType]*remoteTrack
}

var _ core.PeerTransport = (*Transport)(nil)

func newTransport(peer string, pc *webrtc.PeerConnection, sink Sink) *Transport {
	t := &Transport{
		peer:   peer,
		pc:     pc,
		sink:   sink,
		remote: make(map[webrtc.RTPCodecType]*remoteTrack),
	}
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "rtc").Str("peer", peer).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnTrack(t.handleTrack)
	return t
}

// Sender is one transceiver's sending half. An empty slot keeps pion's
// silent placeholder bound so the transceiver stays negotiable.
type Sender struct {
	kind webrtc.RTPCodecType
	rtp  *webrtc.RTPSender
	idle webrtc.TrackLocal

	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *Sender) Kind() webrtc.RTPCodecType { return s.kind }

func (s *Sender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(track webrtc.TrackLocal) error {
	if track != nil && track.Kind() != s.kind {
		return fmt.Errorf("%w: %s into %s", errKindMismatch, track.Kind(), s.kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bound := track
	if bound == nil {
		bound = s.idle
	}
	if err := s.rtp.ReplaceTrack(bound); err != nil {
		return err
	}
	s.track = track
	return nil
}

// AddSender adds a sendrecv transceiver. The receiving half is what carries
// the remote participant's media of the same kind.
func (t *Transport) AddSender(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (core.TrackSender, error) {
	if track != nil && track.Kind() != kind {
		return nil, fmt.Errorf("%w: %s into %s", errKindMismatch, track.Kind(), kind)
	}
	tr, err := t.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return nil, err
	}
	snd := &Sender{kind: kind, rtp: tr.Sender(), idle: tr.Sender().Track()}
	if track != nil {
		if err := snd.ReplaceTrack(track); err != nil {
			return nil, err
		}
	}

	// Read incoming RTCP packets
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := snd.rtp.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()
	return snd, nil
}

func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription accepts a bare rollback and fills in the pending
// offer it rolls back.
func (t *Transport) SetLocalDescription(d webrtc.SessionDescription) error {
	if d.Type == webrtc.SDPTypeRollback && d.SDP == "" {
		pending := t.pc.PendingLocalDescription()
		if pending == nil {
			return errors.New("rollback without a pending offer")
		}
		d.SDP = pending.SDP
	}
	return t.pc.SetLocalDescription(d)
}

func (t *Transport) SetRemoteDescription(d webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(d)
}

func (t *Transport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

func (t *Transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (t *Transport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", t.peer).Str("peer_connection_state", s.String()).Msg("Peer state")
		fn(s)
	})
}

func (t *Transport) OnTrack(fn func(core.InboundTrack)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrack = fn
}

func (t *Transport) handleTrack(src *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	log.Info().
		Str("module", "rtc").
		Str("peer", t.peer).
		Str("kind", src.Kind().String()).
		Str("track_id", src.ID()).
		Str("stream_id", src.StreamID()).
		Msg("OnTrack received")

	rt := newRemoteTrack(t.peer, src, t.sink)
	in := rt.attach()

	t.mu.Lock()
	if old := t.remote[src.Kind()]; old != nil {
		if cur := old.cur.Load(); cur != nil {
			cur.Release()
		}
	}
	t.remote[src.Kind()] = rt
	fn := t.onTrack
	t.mu.Unlock()

	go rt.loop()
	if fn != nil {
		fn(in)
	} else {
		in.Release()
	}
}

func (t *Transport) Reattach(kind webrtc.RTPCodecType) (core.InboundTrack, bool) {
	t.mu.Lock()
	rt := t.remote[kind]
	t.mu.Unlock()
	if rt == nil || !rt.alive() {
		return nil, false
	}
	return rt.attach(), true
}

func (t *Transport) Close() error {
	t.mu.Lock()
	for _, rt := range t.remote {
		if cur := rt.cur.Load(); cur != nil {
			cur.Release()
		}
	}
	t.mu.Unlock()

	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", t.peer).Msg("close error")
		return err
	}
	log.Info().Str("module", "rtc").Str("peer", t.peer).Msg("closed")
	return nil
}
