package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

func (r *Relay) onFrame(sid core.SessionID, data []byte) {
	kind, err := protocol.Peek(data)
	if err != nil {
		log.Debug().Str("module", "app.relay").Str("sid", string(sid)).Err(err).Msg("bad frame")
		r.replyError(sid, protocol.ErrCodeBadPayload)
		return
	}

	switch kind {
	case protocol.KindPing:
		r.sendTo(sid, protocol.Control{Type: protocol.KindPong})
		return
	case protocol.KindJoin:
		r.onJoin(sid, data)
		return
	case protocol.KindRequestList:
		r.sendTo(sid, r.listFrame())
		return
	}

	p, ok := r.Roster.Lookup(sid)
	if !ok {
		r.replyError(sid, protocol.ErrCodeNotJoined)
		return
	}

	switch {
	case kind.Targeted():
		r.onTargeted(p, kind, data)
	case kind == protocol.KindMessage:
		r.onText(p, data)
	case kind == protocol.KindVoiceStarted || kind == protocol.KindVoiceStopped:
		r.Roster.SetVoice(sid, kind == protocol.KindVoiceStarted)
		r.broadcast(sid, protocol.Presence{Type: kind, Name: p.Name})
	case kind == protocol.KindMuteStatus:
		r.onMute(p, data)
	case kind == protocol.KindScreenShareStatus:
		r.onScreenShare(p, data)
	default:
		r.replyError(sid, protocol.ErrCodeUnknownType)
		return
	}
	r.Metrics.Forwarded.WithLabelValues(string(kind)).Inc()
}

func (r *Relay) onJoin(sid core.SessionID, data []byte) {
	var req protocol.Join
	if err := protocol.Decode(data, &req); err != nil {
		r.replyError(sid, protocol.ErrCodeBadPayload)
		return
	}
	if _, ok := r.Roster.Lookup(sid); ok {
		r.replyError(sid, protocol.ErrCodeAlreadyJoined)
		return
	}
	if !r.Limiter.Allow(sid) {
		r.replyError(sid, protocol.ErrCodeRateLimited)
		return
	}
	p, err := r.Roster.Add(sid, req.Name)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateConnection) {
			log.Error().Str("module", "app.relay").Str("sid", string(sid)).Err(err).Msg("roster invariant violated")
			r.Conns.Cancel(sid)
			return
		}
		r.replyError(sid, protocol.ErrCodeInvalidName)
		return
	}
	r.Metrics.Roster.Set(float64(r.Roster.Len()))

	r.broadcast("", protocol.Presence{Type: protocol.KindJoined, Name: p.Name})
	r.broadcast("", r.listFrame())
}

func (r *Relay) onDisconnect(sid core.SessionID) {
	r.Conns.Unbind(sid)
	r.Limiter.Forget(sid)
	r.Metrics.Connections.Set(float64(r.Conns.Len()))

	p, ok := r.Roster.Remove(sid)
	if !ok {
		return
	}
	r.Metrics.Roster.Set(float64(r.Roster.Len()))
	// A reconnected participant may still hold the name under a newer sid;
	// the others only get the fresh list then.
	if _, held := r.Roster.Resolve(p.Name); !held {
		r.broadcast("", protocol.Presence{Type: protocol.KindLeft, Name: p.Name})
	}
	r.broadcast("", r.listFrame())
}

// onTargeted forwards offer, answer and ice-candidate frames to the current
// holder of the target name. Only "from" is rewritten; the rest of the frame
// is passed through untouched.
func (r *Relay) onTargeted(from domain.Participant, kind protocol.Kind, data []byte) {
	name, frame, err := protocol.StampFrom(data, from.Name)
	if err != nil {
		r.replyError(core.SessionID(from.SID), protocol.ErrCodeBadPayload)
		return
	}
	target, ok := r.Roster.Resolve(name)
	if !ok {
		r.Metrics.RouteMiss.Inc()
		log.Debug().
			Str("module", "app.relay").
			Str("from", from.Name).
			Str("target", name).
			Str("type", string(kind)).
			Err(core.ErrRouteMiss).
			Msg("dropped targeted frame")
		return
	}
	r.sendFrame(target, frame)
}

func (r *Relay) onText(from domain.Participant, data []byte) {
	sid := core.SessionID(from.SID)
	var msg protocol.Text
	if err := protocol.Decode(data, &msg); err != nil {
		r.replyError(sid, protocol.ErrCodeBadPayload)
		return
	}
	if msg.Text == "" {
		return
	}
	if !r.Limiter.Allow(sid) {
		r.replyError(sid, protocol.ErrCodeRateLimited)
		return
	}
	r.broadcast(sid, protocol.Text{Type: protocol.KindMessage, From: from.Name, Text: msg.Text})
}

func (r *Relay) onMute(from domain.Participant, data []byte) {
	sid := core.SessionID(from.SID)
	var msg protocol.MuteStatus
	if err := protocol.Decode(data, &msg); err != nil || !msg.Kind.Valid() {
		r.replyError(sid, protocol.ErrCodeBadPayload)
		return
	}
	r.Roster.SetMute(sid, msg.Kind, msg.Muted)
	r.broadcast(sid, protocol.MuteStatus{
		Type:     protocol.KindMuteStatusUpdate,
		Username: from.Name,
		Kind:     msg.Kind,
		Muted:    msg.Muted,
	})
}

func (r *Relay) onScreenShare(from domain.Participant, data []byte) {
	sid := core.SessionID(from.SID)
	var msg protocol.ScreenShare
	if err := protocol.Decode(data, &msg); err != nil {
		r.replyError(sid, protocol.ErrCodeBadPayload)
		return
	}
	r.Roster.SetSharing(sid, msg.Sharing)
	r.broadcast(sid, protocol.ScreenShare{
		Type:     protocol.KindScreenShareUpdate,
		Username: from.Name,
		Sharing:  msg.Sharing,
	})
}

func (r *Relay) listFrame() protocol.List {
	snap := r.Roster.Snapshot()
	names := make([]string, 0, len(snap))
	for _, p := range snap {
		names = append(names, p.Name)
	}
	return protocol.List{Type: protocol.KindList, Names: names, Participants: snap}
}

func (r *Relay) replyError(sid core.SessionID, code string) {
	r.sendTo(sid, protocol.Error{Type: protocol.KindError, Error: code})
}

// sendTo delivers v to one connection, joined or not.
func (r *Relay) sendTo(sid core.SessionID, v any) {
	frame, err := protocol.Encode(v)
	if err != nil {
		log.Error().Str("module", "app.relay").Err(err).Msg("encode failed")
		return
	}
	r.sendFrame(sid, frame)
}

func (r *Relay) sendFrame(sid core.SessionID, frame []byte) {
	if !r.deliver(sid, frame) {
		r.applyPolicy(sid)
	}
}

// broadcast delivers v to every joined participant except the one given.
// An empty except includes everybody.
func (r *Relay) broadcast(except core.SessionID, v any) {
	frame, err := protocol.Encode(v)
	if err != nil {
		log.Error().Str("module", "app.relay").Err(err).Msg("encode failed")
		return
	}
	var slow []core.SessionID
	for _, sid := range r.Roster.Members() {
		if sid == except {
			continue
		}
		if !r.deliver(sid, frame) {
			slow = append(slow, sid)
		}
	}
	for _, sid := range slow {
		r.applyPolicy(sid)
	}
}

func (r *Relay) deliver(sid core.SessionID, frame []byte) bool {
	conn, ok := r.Conns.Get(sid)
	if !ok {
		return true
	}
	if err := conn.TrySend(core.Frame(frame)); err != nil {
		r.Metrics.Dropped.Inc()
		log.Warn().Str("module", "app.relay").Str("sid", string(sid)).Err(err).Msg("send dropped")
		return false
	}
	return true
}

func (r *Relay) applyPolicy(sid core.SessionID) {
	switch r.Policy.OnBackPressure(sid) {
	case KickMember:
		log.Warn().Str("module", "app.relay").Str("sid", string(sid)).Msg("kicking slow consumer")
		r.Conns.Cancel(sid)
	case NoAction:
	}
}
