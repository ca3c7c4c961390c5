package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
)

type eventKind int

const (
	evConnect eventKind = iota
	evFrame
	evDisconnect
)

type event struct {
	kind   eventKind
	sid    core.SessionID
	conn   core.SignalConnection
	cancel context.CancelFunc
	data   []byte
}

// Relay is the signaling hub. All roster mutations and all fan-out happen on
// the single Run goroutine, so every participant observes joined, left and
// list frames in the same order.
type Relay struct {
	Roster  *core.Roster
	Conns   *Registry
	Policy  Policy
	Limiter *RateLimiter
	Metrics *Metrics

	events chan event
	done   chan struct{}
}

func NewRelay(roster *core.Roster, conns *Registry, policy Policy, limiter *RateLimiter, metrics *Metrics) *Relay {
	if policy == nil {
		policy = SimplePolicy{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Relay{
		Roster:  roster,
		Conns:   conns,
		Policy:  policy,
		Limiter: limiter,
		Metrics: metrics,
		events:  make(chan event, 256),
		done:    make(chan struct{}),
	}
}

// Run processes events until ctx is canceled.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.done)
	log.Info().Str("module", "app.relay").Msg("relay started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.relay").Msg("relay stopped")
			return
		case ev := <-r.events:
			r.handle(ev)
		}
	}
}

// Connect registers a fresh signaling connection. cancel must stop the
// connection's pumps.
func (r *Relay) Connect(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.submit(event{kind: evConnect, sid: sid, conn: conn, cancel: cancel})
}

// Frame hands one inbound frame from sid to the relay.
func (r *Relay) Frame(sid core.SessionID, data []byte) {
	r.submit(event{kind: evFrame, sid: sid, data: data})
}

// Disconnect reports that the transport of sid is gone.
func (r *Relay) Disconnect(sid core.SessionID) {
	r.submit(event{kind: evDisconnect, sid: sid})
}

func (r *Relay) submit(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Relay) handle(ev event) {
	switch ev.kind {
	case evConnect:
		r.Conns.Bind(ev.sid, ev.conn, ev.cancel)
		r.Metrics.Connections.Set(float64(r.Conns.Len()))
	case evFrame:
		r.onFrame(ev.sid, ev.data)
	case evDisconnect:
		r.onDisconnect(ev.sid)
	}
}
