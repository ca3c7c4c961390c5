package mesh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceMesh/internal/app"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/core/peer"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

// fabric links the transports of every participant pair: once both ends
// hold local and remote descriptions they report connected, and whatever
// each sender carries shows up as an inbound track on the other side.
type fabric struct {
	mu   sync.Mutex
	ends map[string]*linkTransport
}

func newFabric() *fabric { return &fabric{ends: make(map[string]*linkTransport)} }

func (f *fabric) end(local, peer string) *linkTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ends[local+">"+peer]
}

type linkFactory struct {
	fab   *fabric
	local string
}

func (lf linkFactory) NewTransport(peer string) (core.PeerTransport, error) {
	t := &linkTransport{fab: lf.fab, local: lf.local, peer: peer, delivered: make(map[webrtc.RTPCodecType]bool)}
	lf.fab.mu.Lock()
	lf.fab.ends[lf.local+">"+peer] = t
	lf.fab.mu.Unlock()
	return t, nil
}

type linkSender struct {
	t     *linkTransport
	kind  webrtc.RTPCodecType
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *linkSender) Kind() webrtc.RTPCodecType { return s.kind }

func (s *linkSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *linkSender) ReplaceTrack(tr webrtc.TrackLocal) error {
	s.mu.Lock()
	s.track = tr
	s.mu.Unlock()
	if tr != nil {
		s.t.push(s.kind)
	}
	return nil
}

type linkTransport struct {
	fab         *fabric
	local, peer string

	mu        sync.Mutex
	senders   []*linkSender
	hasLocal  bool
	hasRemote bool
	up        bool
	closed    bool
	offers    int
	delivered map[webrtc.RTPCodecType]bool

	onCand  func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(core.InboundTrack)
}

func (t *linkTransport) other() *linkTransport { return t.fab.end(t.peer, t.local) }

func (t *linkTransport) AddSender(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (core.TrackSender, error) {
	s := &linkSender{t: t, kind: kind, track: track}
	t.mu.Lock()
	t.senders = append(t.senders, s)
	t.mu.Unlock()
	return s, nil
}

func (t *linkTransport) CreateOffer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("%s-%d", t.local, t.offers)}, nil
}

func (t *linkTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: t.local + "-answer"}, nil
}

func (t *linkTransport) SetLocalDescription(d webrtc.SessionDescription) error {
	t.mu.Lock()
	t.hasLocal = d.Type != webrtc.SDPTypeRollback
	cand := t.onCand
	t.mu.Unlock()
	if cand != nil && d.Type != webrtc.SDPTypeRollback {
		cand(webrtc.ICECandidateInit{Candidate: "host " + t.local})
	}
	t.sync()
	return nil
}

func (t *linkTransport) SetRemoteDescription(webrtc.SessionDescription) error {
	t.mu.Lock()
	t.hasRemote = true
	t.mu.Unlock()
	t.sync()
	return nil
}

func (t *linkTransport) ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasLocal && t.hasRemote && !t.closed
}

func (t *linkTransport) sync() {
	o := t.other()
	if o == nil || !t.ready() || !o.ready() {
		return
	}
	t.markUp()
	o.markUp()
	t.pushAll()
	o.pushAll()
}

func (t *linkTransport) markUp() {
	t.mu.Lock()
	if t.up {
		t.mu.Unlock()
		return
	}
	t.up = true
	cb := t.onState
	t.mu.Unlock()
	if cb != nil {
		go cb(webrtc.PeerConnectionStateConnected)
	}
}

func (t *linkTransport) pushAll() {
	t.mu.Lock()
	senders := slices.Clone(t.senders)
	t.mu.Unlock()
	for _, s := range senders {
		if s.Track() != nil {
			t.push(s.kind)
		}
	}
}

func (t *linkTransport) push(kind webrtc.RTPCodecType) {
	t.mu.Lock()
	up := t.up
	t.mu.Unlock()
	if o := t.other(); up && o != nil {
		o.deliver(kind)
	}
}

func (t *linkTransport) deliver(kind webrtc.RTPCodecType) {
	t.mu.Lock()
	if t.closed || t.delivered[kind] || t.onTrack == nil {
		t.mu.Unlock()
		return
	}
	t.delivered[kind] = true
	cb := t.onTrack
	t.mu.Unlock()
	go cb(&tInbound{kind: kind})
}

func (t *linkTransport) Reattach(kind webrtc.RTPCodecType) (core.InboundTrack, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.delivered[kind] || t.closed {
		return nil, false
	}
	return &tInbound{kind: kind}, true
}

func (t *linkTransport) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (t *linkTransport) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onCand = f
	t.mu.Unlock()
}

func (t *linkTransport) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = f
	t.mu.Unlock()
}

func (t *linkTransport) OnTrack(f func(core.InboundTrack)) {
	t.mu.Lock()
	t.onTrack = f
	t.mu.Unlock()
}

func (t *linkTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *linkTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *linkTransport) offerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offers
}

type tInbound struct {
	mu       sync.Mutex
	kind     webrtc.RTPCodecType
	playing  bool
	volume   float64
	released bool
}

func (i *tInbound) ID() string                { return i.kind.String() }
func (i *tInbound) Kind() webrtc.RTPCodecType { return i.kind }
func (i *tInbound) Play()                     { i.set(func() { i.playing = true }) }
func (i *tInbound) Pause()                    { i.set(func() { i.playing = false }) }
func (i *tInbound) SetVolume(v float64)       { i.set(func() { i.volume = v }) }
func (i *tInbound) Release()                  { i.set(func() { i.released, i.playing = true, false }) }

func (i *tInbound) Playing() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.playing
}

func (i *tInbound) set(fn func()) {
	i.mu.Lock()
	fn()
	i.mu.Unlock()
}

func (i *tInbound) state() (playing, released bool, volume float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.playing, i.released, i.volume
}

type tCapture struct {
	tracks []webrtc.TrackLocal
	ended  chan struct{}
}

func (c *tCapture) Tracks() []webrtc.TrackLocal { return c.tracks }
func (c *tCapture) Ended() <-chan struct{}      { return c.ended }
func (c *tCapture) Stop()                       {}

type tDevices struct {
	t    *testing.T
	fail bool
}

func (d tDevices) AcquireMicrophone(context.Context, core.GainStage) (core.Capture, error) {
	if d.fail {
		return nil, core.ErrDevice
	}
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU}, "mic", "mesh")
	if err != nil {
		d.t.Fatal(err)
	}
	return &tCapture{tracks: []webrtc.TrackLocal{tr}, ended: make(chan struct{})}, nil
}

func (d tDevices) AcquireScreen(context.Context) (core.Capture, error) {
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "mesh")
	if err != nil {
		d.t.Fatal(err)
	}
	return &tCapture{tracks: []webrtc.TrackLocal{tr}, ended: make(chan struct{})}, nil
}

type pipe struct{ ch chan []byte }

func (p *pipe) TrySend(f core.Frame) error {
	select {
	case p.ch <- slices.Clone(f):
		return nil
	default:
		return errors.New("pipe full")
	}
}

func (p *pipe) Close() {}

type relaySender struct {
	relay *app.Relay
	sid   core.SessionID
}

func (s relaySender) Send(v any) error {
	b, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	s.relay.Frame(s.sid, b)
	return nil
}

// harness runs a real relay in memory with every client attached to it.
type harness struct {
	t     *testing.T
	ctx   context.Context
	relay *app.Relay
	fab   *fabric
}

func newHarness(t *testing.T) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	relay := app.NewRelay(core.NewRoster(), app.NewRegistry(), app.SimplePolicy{}, nil, app.NewMetrics(nil))
	go relay.Run(ctx)
	return &harness{t: t, ctx: ctx, relay: relay, fab: newFabric()}
}

// client attaches a participant. With run false its inbound frames pile up
// unread, as if the process had stalled.
func (h *harness) client(name string, run bool) *Orchestrator {
	sid := core.SessionID(name)
	p := &pipe{ch: make(chan []byte, 1024)}
	o := New(relaySender{relay: h.relay, sid: sid}, linkFactory{fab: h.fab, local: name}, tDevices{t: h.t})
	h.relay.Connect(sid, p, func() {})
	if run {
		go o.Run(h.ctx, p.ch)
	}
	return o
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func session(o *Orchestrator, name string) *peer.Session {
	s, _ := o.Sessions.Get(name)
	return s
}

func inbound(s *peer.Session, kind webrtc.RTPCodecType) *tInbound {
	if s == nil {
		return nil
	}
	for _, h := range s.Inbound() {
		if h.Kind() == kind {
			return h.(*tInbound)
		}
	}
	return nil
}
