package rtc

import (
	"math"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
)

// Sink is the playback stage behind inbound tracks. Decoding and output
// devices live there.
type Sink interface {
	WriteRTP(peer string, kind webrtc.RTPCodecType, pkt *rtp.Packet, volume float64) error
}

type TrackState int32

const (
	TrackPaused TrackState = iota
	TrackPlaying
	TrackReleased
)

// Inbound is one playback handle of a remote track. It starts paused.
type Inbound struct {
	id   string
	kind webrtc.RTPCodecType

	state   atomic.Int32 // Zero by default (TrackPaused)
	volume  atomic.Uint64
	packets atomic.Uint64
}

var _ core.InboundTrack = (*Inbound)(nil)

func newInbound(id string, kind webrtc.RTPCodecType) *Inbound {
	in := &Inbound{id: id, kind: kind}
	in.volume.Store(math.Float64bits(1))
	return in
}

func (in *Inbound) ID() string                { return in.id }
func (in *Inbound) Kind() webrtc.RTPCodecType { return in.kind }

func (in *Inbound) State() TrackState { return TrackState(in.state.Load()) }

func (in *Inbound) Play() {
	in.state.CompareAndSwap(int32(TrackPaused), int32(TrackPlaying))
}

func (in *Inbound) Pause() {
	in.state.CompareAndSwap(int32(TrackPlaying), int32(TrackPaused))
}

func (in *Inbound) Playing() bool { return in.State() == TrackPlaying }

func (in *Inbound) SetVolume(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	in.volume.Store(math.Float64bits(v))
}

func (in *Inbound) Volume() float64 { return math.Float64frombits(in.volume.Load()) }

// Release is final: a released handle never plays again.
func (in *Inbound) Release() { in.state.Store(int32(TrackReleased)) }

// Packets counts the packets handed to the sink while playing.
func (in *Inbound) Packets() uint64 { return in.packets.Load() }

// remoteTrack drains one remote track for the lifetime of the transport and
// forwards packets to whichever handle is current.
type remoteTrack struct {
	peer string
	src  *webrtc.TrackRemote
	sink Sink

	cur  atomic.Pointer[Inbound]
	done chan struct{}
}

func newRemoteTrack(peer string, src *webrtc.TrackRemote, sink Sink) *remoteTrack {
	return &remoteTrack{peer: peer, src: src, sink: sink, done: make(chan struct{})}
}

// attach makes a fresh handle current.
func (r *remoteTrack) attach() *Inbound {
	in := newInbound(r.src.ID(), r.src.Kind())
	if prev := r.cur.Swap(in); prev != nil {
		prev.Release()
	}
	return in
}

func (r *remoteTrack) alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *remoteTrack) loop() {
	logger := log.With().
		Str("module", "rtc").
		Str("peer", r.peer).
		Str("kind", r.src.Kind().String()).
		Logger()
	defer close(r.done)

	for {
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("remote track ended")
			if in := r.cur.Load(); in != nil {
				in.Release()
			}
			return
		}
		r.forward(pkt, &logger)
	}
}

func (r *remoteTrack) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	in := r.cur.Load()
	if in == nil || in.State() != TrackPlaying {
		return
	}
	in.packets.Add(1)
	if r.sink == nil {
		return
	}
	if err := r.sink.WriteRTP(r.peer, in.kind, pkt, in.Volume()); err != nil {
		logger.Error().Err(err).Msg("sink write error, releasing handle")
		in.Release()
	}
}
