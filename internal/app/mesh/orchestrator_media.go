package mesh

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/core/media"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

// ApplyComposition pushes a composition change to every live session
// concurrently and waits for all of them.
func (o *Orchestrator) ApplyComposition(ctx context.Context, old, next core.Composition) error {
	p := pool.New().WithErrors().WithContext(ctx)
	for _, s := range o.Sessions.Sessions() {
		p.Go(func(ctx context.Context) error {
			return s.ApplyComposition(ctx, old, next)
		})
	}
	return p.Wait()
}

// StartVoice acquires the microphone and announces voice. Participants
// already in voice open the sessions towards us.
func (o *Orchestrator) StartVoice(ctx context.Context) error {
	o.mu.Lock()
	name, joined, active := o.name, o.joined, o.voice
	o.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}
	if active {
		return nil
	}
	if err := o.Media.StartMicrophone(ctx); err != nil {
		o.notify(Notice{Kind: NoticeWarn, Text: "microphone unavailable", Err: err})
		return err
	}

	o.mu.Lock()
	o.voice = true
	o.mu.Unlock()
	log.Info().Str("module", "app.mesh").Str("name", name).Msg("voice started")
	return o.send(protocol.Presence{Type: protocol.KindVoiceStarted, Name: name})
}

// StopVoice closes every session and releases all capture. Mute flags
// reset like a fresh start.
func (o *Orchestrator) StopVoice() error {
	o.mu.Lock()
	name, active := o.name, o.voice
	o.voice = false
	o.speakerMuted = false
	o.mu.Unlock()
	if !active {
		return nil
	}

	o.Sessions.CloseAll()
	o.Media.StopMicrophone()
	o.Media.SetMuted(false)
	log.Info().Str("module", "app.mesh").Str("name", name).Msg("voice stopped")
	return o.send(protocol.Presence{Type: protocol.KindVoiceStopped, Name: name})
}

// ToggleMicrophone flips the outbound mute and tells the room.
func (o *Orchestrator) ToggleMicrophone() (bool, error) {
	muted := o.Media.ToggleMute()
	return muted, o.send(protocol.MuteStatus{Type: protocol.KindMuteStatus, Kind: domain.MuteMicrophone, Muted: muted})
}

// ToggleSpeaker silences or restores every inbound audio track.
func (o *Orchestrator) ToggleSpeaker() (bool, error) {
	o.mu.Lock()
	o.speakerMuted = !o.speakerMuted
	muted := o.speakerMuted
	o.mu.Unlock()

	o.applyPlayback()
	return muted, o.send(protocol.MuteStatus{Type: protocol.KindMuteStatus, Kind: domain.MuteSpeaker, Muted: muted})
}

// SetMicVolume sets the outbound gain, clamped to [0, media.MaxVolume].
func (o *Orchestrator) SetMicVolume(v float64) float64 {
	return o.Media.SetVolume(v)
}

// SetIncomingVolume sets the playback volume of every peer without an
// override, clamped to [0, media.MaxVolume].
func (o *Orchestrator) SetIncomingVolume(v float64) float64 {
	v = clampVolume(v)
	o.mu.Lock()
	o.incomingVolume = v
	o.mu.Unlock()
	o.applyPlayback()
	return v
}

// SetPeerVolume overrides the playback volume of one participant, clamped
// to [0, media.MaxVolume]. It outlives that participant's sessions, so a
// screen share heard again later keeps its level. Speaker mute still wins.
func (o *Orchestrator) SetPeerVolume(name string, v float64) float64 {
	v = clampVolume(v)
	o.mu.Lock()
	o.peerVolume[name] = v
	o.mu.Unlock()
	if s, ok := o.Sessions.Get(name); ok {
		s.SetVolume(o.playbackVolume(name))
	}
	return v
}

// PeerVolume returns the volume set for name and whether it is an override.
func (o *Orchestrator) PeerVolume(name string) (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.peerVolume[name]; ok {
		return v, true
	}
	return o.incomingVolume, false
}

func clampVolume(v float64) float64 {
	return min(max(v, 0), media.MaxVolume)
}

func (o *Orchestrator) playbackVolume(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.speakerMuted {
		return 0
	}
	if v, ok := o.peerVolume[name]; ok {
		return v
	}
	return o.incomingVolume
}

func (o *Orchestrator) applyPlayback() {
	for _, s := range o.Sessions.Sessions() {
		s.SetVolume(o.playbackVolume(s.Peer()))
	}
}

func (o *Orchestrator) StartScreenShare(ctx context.Context) error {
	if err := o.Media.StartScreenShare(ctx); err != nil {
		o.notify(Notice{Kind: NoticeWarn, Text: "screen share unavailable", Err: err})
		return err
	}
	return o.send(protocol.ScreenShare{Type: protocol.KindScreenShareStatus, Sharing: true})
}

func (o *Orchestrator) StopScreenShare() {
	o.Media.StopScreenShare()
}

// VisibilityLost stops a running screen share when the local view of it
// is hidden.
func (o *Orchestrator) VisibilityLost() {
	o.Media.VisibilityLost()
}

// onScreenStopped is the single place that announces the end of a share,
// whatever stopped it.
func (o *Orchestrator) onScreenStopped(reason media.StopReason) {
	_ = o.send(protocol.ScreenShare{Type: protocol.KindScreenShareStatus, Sharing: false})
	o.notify(Notice{Kind: NoticeInfo, Text: "screen share ended: " + reason.String()})
}
