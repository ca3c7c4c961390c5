package peer

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceMesh/internal/core"
)

type fakeSender struct {
	mu       sync.Mutex
	kind     webrtc.RTPCodecType
	track    webrtc.TrackLocal
	replaced int
}

func (s *fakeSender) Kind() webrtc.RTPCodecType { return s.kind }

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	s.replaced++
	return nil
}

type fakeTransport struct {
	mu          sync.Mutex
	peer        string
	autoUp      bool
	rejectVideo int
	senders     []*fakeSender
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	offers      int
	answers     int
	rollbacks   int
	candidates  []webrtc.ICECandidateInit
	early       int
	closed      bool
	upFired     bool

	emitted map[webrtc.RTPCodecType]bool

	onCand  func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(core.InboundTrack)
}

func (t *fakeTransport) AddSender(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (core.TrackSender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if kind == webrtc.RTPCodecTypeVideo && t.rejectVideo > 0 {
		t.rejectVideo--
		return nil, errors.New("no video slot")
	}
	s := &fakeSender{kind: kind, track: track}
	t.senders = append(t.senders, s)
	return s, nil
}

func (t *fakeTransport) sender(kind webrtc.RTPCodecType) *fakeSender {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.senders {
		if s.kind == kind {
			return s
		}
	}
	return nil
}

func (t *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", t.peer, t.offers)}, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	t.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%s-%d", t.peer, t.answers)}, nil
}

func (t *fakeTransport) SetLocalDescription(d webrtc.SessionDescription) error {
	t.mu.Lock()
	if d.Type == webrtc.SDPTypeRollback {
		t.local = nil
		t.rollbacks++
		t.mu.Unlock()
		return nil
	}
	t.local = &d
	cand := t.onCand
	t.mu.Unlock()
	if cand != nil {
		cand(webrtc.ICECandidateInit{Candidate: "candidate-" + d.SDP})
	}
	t.maybeUp()
	return nil
}

func (t *fakeTransport) SetRemoteDescription(d webrtc.SessionDescription) error {
	t.mu.Lock()
	t.remote = &d
	t.mu.Unlock()
	t.maybeUp()
	return nil
}

func (t *fakeTransport) maybeUp() {
	t.mu.Lock()
	fire := t.autoUp && !t.upFired && t.local != nil && t.remote != nil
	if fire {
		t.upFired = true
	}
	cb := t.onState
	t.mu.Unlock()
	if fire && cb != nil {
		go cb(webrtc.PeerConnectionStateConnected)
	}
}

func (t *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		t.early++
		return errors.New("remote description not set")
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *fakeTransport) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onCand = f
	t.mu.Unlock()
}

func (t *fakeTransport) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = f
	t.mu.Unlock()
}

func (t *fakeTransport) OnTrack(f func(core.InboundTrack)) {
	t.mu.Lock()
	t.onTrack = f
	t.mu.Unlock()
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) fire(st webrtc.PeerConnectionState) {
	t.mu.Lock()
	cb := t.onState
	t.mu.Unlock()
	cb(st)
}

func (t *fakeTransport) Reattach(kind webrtc.RTPCodecType) (core.InboundTrack, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.emitted[kind] {
		return nil, false
	}
	return &fakeInbound{id: "reattached", kind: kind}, true
}

func (t *fakeTransport) emitTrack(in core.InboundTrack) {
	t.mu.Lock()
	if t.emitted == nil {
		t.emitted = make(map[webrtc.RTPCodecType]bool)
	}
	t.emitted[in.Kind()] = true
	cb := t.onTrack
	t.mu.Unlock()
	cb(in)
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) counts() (offers, answers int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offers, t.answers
}

type fakeFactory struct {
	mu          sync.Mutex
	autoUp      bool
	rejectVideo int
	made        map[string][]*fakeTransport
}

func newFactory(autoUp bool) *fakeFactory {
	return &fakeFactory{autoUp: autoUp, made: make(map[string][]*fakeTransport)}
}

func (f *fakeFactory) NewTransport(peer string) (core.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{peer: peer, autoUp: f.autoUp, rejectVideo: f.rejectVideo}
	f.made[peer] = append(f.made[peer], t)
	return t, nil
}

func (f *fakeFactory) last(peer string) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.made[peer]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

type fakeInbound struct {
	mu       sync.Mutex
	id       string
	kind     webrtc.RTPCodecType
	playing  bool
	volume   float64
	released bool
}

func (i *fakeInbound) ID() string                { return i.id }
func (i *fakeInbound) Kind() webrtc.RTPCodecType { return i.kind }

func (i *fakeInbound) Play() {
	i.mu.Lock()
	i.playing = true
	i.mu.Unlock()
}

func (i *fakeInbound) Pause() {
	i.mu.Lock()
	i.playing = false
	i.mu.Unlock()
}

func (i *fakeInbound) Playing() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.playing
}

func (i *fakeInbound) SetVolume(v float64) {
	i.mu.Lock()
	i.volume = v
	i.mu.Unlock()
}

func (i *fakeInbound) Release() {
	i.mu.Lock()
	i.released = true
	i.playing = false
	i.mu.Unlock()
}

func (i *fakeInbound) isReleased() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.released
}

type sent struct {
	kind string
	from string
	to   string
	sdp  string
}

// recSignaler records outgoing negotiation messages. When gate is set,
// SendOffer signals entered and waits for gate to close.
type recSignaler struct {
	mu      sync.Mutex
	msgs    []sent
	gate    chan struct{}
	entered chan struct{}
}

func (r *recSignaler) add(m sent) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recSignaler) SendOffer(peer string, d webrtc.SessionDescription) error {
	if r.gate != nil {
		close(r.entered)
		<-r.gate
	}
	r.add(sent{kind: "offer", to: peer, sdp: d.SDP})
	return nil
}

func (r *recSignaler) SendAnswer(peer string, d webrtc.SessionDescription) error {
	r.add(sent{kind: "answer", to: peer, sdp: d.SDP})
	return nil
}

func (r *recSignaler) SendCandidate(peer string, c webrtc.ICECandidateInit) error {
	r.add(sent{kind: "candidate", to: peer, sdp: c.Candidate})
	return nil
}

func (r *recSignaler) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.kind)
	}
	return out
}

// network wires several tables together the way the relay and the
// orchestrator do: offers create sessions, everything else needs one.
type network struct {
	mu     sync.Mutex
	tables map[string]*Table
	log    []sent
}

func newNetwork() *network {
	return &network{tables: make(map[string]*Table)}
}

type endpoint struct {
	net  *network
	from string
}

func (n *network) join(name string, f core.TransportFactory, comp func() core.Composition, hooks Hooks) *Table {
	t := NewTable(Config{
		Local:       name,
		Factory:     f,
		Signaler:    endpoint{net: n, from: name},
		Composition: comp,
		Hooks:       hooks,
	})
	n.mu.Lock()
	n.tables[name] = t
	n.mu.Unlock()
	return t
}

func (n *network) table(name string) *Table {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tables[name]
}

func (n *network) record(m sent, from string) {
	n.mu.Lock()
	m.from = from
	n.log = append(n.log, m)
	n.mu.Unlock()
}

func (n *network) sentBy(from string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.log {
		if m.from == from {
			out = append(out, m.kind)
		}
	}
	return out
}

func (e endpoint) SendOffer(peer string, d webrtc.SessionDescription) error {
	e.net.record(sent{kind: "offer", to: peer}, e.from)
	if t := e.net.table(peer); t != nil {
		s, _ := t.Ensure(e.from)
		s.HandleOffer(d)
	}
	return nil
}

func (e endpoint) SendAnswer(peer string, d webrtc.SessionDescription) error {
	e.net.record(sent{kind: "answer", to: peer}, e.from)
	if t := e.net.table(peer); t != nil {
		if s, ok := t.Get(e.from); ok {
			s.HandleAnswer(d)
		}
	}
	return nil
}

func (e endpoint) SendCandidate(peer string, c webrtc.ICECandidateInit) error {
	e.net.record(sent{kind: "candidate", to: peer}, e.from)
	if t := e.net.table(peer); t != nil {
		if s, ok := t.Get(e.from); ok {
			s.HandleCandidate(c)
		}
	}
	return nil
}

// flush waits until everything already queued on s has run.
func flush(t *testing.T, s *Session) {
	t.Helper()
	done := make(chan struct{})
	if !s.post(func() { close(done) }) {
		return
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not drain")
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func audioTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU}, id, "mesh")
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func videoTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "mesh")
	if err != nil {
		t.Fatal(err)
	}
	return tr
}
