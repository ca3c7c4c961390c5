package mesh

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

// Join enters the room under name.
func (o *Orchestrator) Join(name string) error {
	if err := domain.ValidateName(name); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	o.mu.Lock()
	o.name = name
	o.joined = true
	o.mu.Unlock()
	o.Sessions.SetLocal(name)
	return o.send(protocol.Join{Type: protocol.KindJoin, Name: name})
}

// Say sends a chat line to everyone else.
func (o *Orchestrator) Say(text string) error {
	if !o.Joined() {
		return ErrNotJoined
	}
	if text == "" {
		return nil
	}
	return o.send(protocol.Text{Type: protocol.KindMessage, Text: text})
}

// RequestList asks the relay for a fresh roster snapshot.
func (o *Orchestrator) RequestList() error {
	return o.send(protocol.Control{Type: protocol.KindRequestList})
}

func (o *Orchestrator) onPresence(kind protocol.Kind, data []byte) {
	var msg protocol.Presence
	if err := protocol.Decode(data, &msg); err != nil {
		return
	}
	if kind == protocol.KindJoined {
		if msg.Name != o.Name() {
			o.notify(Notice{Kind: NoticeInfo, From: msg.Name, Text: "joined"})
		}
		return
	}
	o.Sessions.Remove(msg.Name)
	o.Presence.Prune(msg.Name)
	o.notify(Notice{Kind: NoticeInfo, From: msg.Name, Text: "left"})
}

// onList rebuilds the presence cache from scratch and closes sessions with
// participants the snapshot no longer contains.
func (o *Orchestrator) onList(data []byte) {
	var msg protocol.List
	if err := protocol.Decode(data, &msg); err != nil {
		return
	}
	o.Presence.Rebuild(msg.Names, msg.Participants)

	present := make(map[string]bool, len(msg.Names))
	for _, n := range msg.Names {
		present[n] = true
	}
	for _, n := range o.Sessions.Names() {
		if !present[n] {
			log.Debug().Str("module", "app.mesh").Str("peer", n).Msg("pruning session absent from roster")
			o.Sessions.Remove(n)
		}
	}
}

func (o *Orchestrator) onText(data []byte) {
	var msg protocol.Text
	if err := protocol.Decode(data, &msg); err != nil {
		return
	}
	o.notify(Notice{Kind: NoticeChat, From: msg.From, Text: msg.Text})
}

// onVoice starts a session towards a participant entering voice while we
// are in voice ourselves; the participant already in voice always offers.
// A session that already exists belongs to an earlier voice run of that
// participant (a reconnect the relay has not noticed yet) and is replaced.
func (o *Orchestrator) onVoice(kind protocol.Kind, data []byte) {
	var msg protocol.Presence
	if err := protocol.Decode(data, &msg); err != nil || msg.Name == "" || msg.Name == o.Name() {
		return
	}
	started := kind == protocol.KindVoiceStarted
	o.Presence.ApplyVoice(msg.Name, started)

	if !started {
		o.Sessions.Remove(msg.Name)
		o.notify(Notice{Kind: NoticeInfo, From: msg.Name, Text: "left voice"})
		return
	}
	o.notify(Notice{Kind: NoticeInfo, From: msg.Name, Text: "started voice"})
	if !o.VoiceActive() {
		return
	}
	if o.Sessions.Remove(msg.Name) {
		log.Debug().Str("module", "app.mesh").Str("peer", msg.Name).Msg("replacing stale session")
	}
	s, _ := o.ensure(msg.Name)
	s.Connect()
}

func (o *Orchestrator) onMute(data []byte) {
	var msg protocol.MuteStatus
	if err := protocol.Decode(data, &msg); err != nil || !msg.Kind.Valid() {
		return
	}
	o.Presence.ApplyMute(msg.Username, msg.Kind, msg.Muted)
	state := "unmuted"
	if msg.Muted {
		state = "muted"
	}
	o.notify(Notice{Kind: NoticeInfo, From: msg.Username, Text: fmt.Sprintf("%s %s", state, msg.Kind)})
}

func (o *Orchestrator) onScreenShare(data []byte) {
	var msg protocol.ScreenShare
	if err := protocol.Decode(data, &msg); err != nil {
		return
	}
	o.Presence.ApplySharing(msg.Username, msg.Sharing)
	if s, ok := o.Sessions.Get(msg.Username); ok {
		s.SetScreenSharing(msg.Sharing)
	}
	text := "stopped sharing"
	if msg.Sharing {
		text = "is sharing"
	}
	o.notify(Notice{Kind: NoticeInfo, From: msg.Username, Text: text})
}

// Reconnected restores room state after the relay connection came back:
// the relay forgot us, so rejoin, drop every session and announce voice
// again so the others offer anew.
func (o *Orchestrator) Reconnected() {
	o.mu.Lock()
	name, joined, voice := o.name, o.joined, o.voice
	o.mu.Unlock()
	if !joined {
		return
	}

	o.Sessions.CloseAll()
	_ = o.send(protocol.Join{Type: protocol.KindJoin, Name: name})
	if voice {
		_ = o.send(protocol.Presence{Type: protocol.KindVoiceStarted, Name: name})
		if o.Media.Muted() {
			_ = o.send(protocol.MuteStatus{Type: protocol.KindMuteStatus, Kind: domain.MuteMicrophone, Muted: true})
		}
		if o.Media.Sharing() {
			_ = o.send(protocol.ScreenShare{Type: protocol.KindScreenShareStatus, Sharing: true})
		}
	}
	o.notify(Notice{Kind: NoticeInfo, Text: "reconnected"})
}

// TransportLost ends the local session for good after the relay connection
// could not be restored.
func (o *Orchestrator) TransportLost(err error) {
	o.Sessions.CloseAll()
	o.Media.StopMicrophone()
	o.mu.Lock()
	o.voice = false
	o.joined = false
	o.mu.Unlock()
	o.notify(Notice{Kind: NoticeError, Text: "relay connection lost", Err: fmt.Errorf("%w: %w", core.ErrTransportLoss, err)})
}
