// Package media owns the local capture state: the microphone, the optional
// screen share and the outbound composition every peer session sends.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
)

const applyTimeout = 10 * time.Second

// Applier pushes a composition change to every live peer session and
// returns once all of them have applied it.
type Applier interface {
	ApplyComposition(ctx context.Context, old, next core.Composition) error
}

// StopReason tells why a screen share ended.
type StopReason int

const (
	StoppedByUser StopReason = iota
	CaptureEnded
	VisibilityLost
	VoiceStopped
)

func (r StopReason) String() string {
	switch r {
	case StoppedByUser:
		return "stopped"
	case CaptureEnded:
		return "capture ended"
	case VisibilityLost:
		return "visibility lost"
	case VoiceStopped:
		return "voice stopped"
	}
	return "unknown"
}

// Controller is the single writer of the outbound composition. Readers use
// Composition, which never blocks.
type Controller struct {
	devices core.Devices
	applier Applier
	gain    *Gain

	// OnScreenStopped runs after a screen share has been torn down,
	// whatever the reason. It is called without the controller lock.
	OnScreenStopped func(StopReason)

	comp atomic.Pointer[core.Composition]

	mu          sync.Mutex
	mic         core.Capture
	screen      core.Capture
	watchCancel context.CancelFunc
}

func NewController(devices core.Devices, applier Applier) *Controller {
	c := &Controller{devices: devices, applier: applier, gain: NewGain()}
	c.comp.Store(&core.Composition{})
	return c
}

func (c *Controller) Composition() core.Composition {
	return *c.comp.Load()
}

func (c *Controller) Gain() *Gain { return c.gain }

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mic != nil
}

func (c *Controller) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen != nil
}

// StartMicrophone acquires the microphone through the gain stage and makes
// its audio the outbound composition. It is a no-op when already running.
func (c *Controller) StartMicrophone(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mic != nil {
		return nil
	}
	capture, err := c.devices.AcquireMicrophone(ctx, c.gain)
	if err != nil {
		return deviceError("microphone", err)
	}
	c.mic = capture
	log.Info().Str("module", "core.media").Msg("microphone started")
	c.swapLocked(ctx, core.Composition{Audio: pick(capture, webrtc.RTPCodecTypeAudio)})
	return nil
}

// StopMicrophone ends any screen share first, then the microphone. The
// composition is empty afterwards.
func (c *Controller) StopMicrophone() {
	c.mu.Lock()
	stopped := c.stopScreenLocked()
	if c.mic != nil {
		c.mic.Stop()
		c.mic = nil
		log.Info().Str("module", "core.media").Msg("microphone stopped")
	}
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	c.swapLocked(ctx, core.Composition{})
	cancel()
	c.mu.Unlock()

	if stopped {
		c.notifyScreenStopped(VoiceStopped)
	}
}

// StartScreenShare replaces the outbound composition with the screen video
// and the screen audio when the capture has one, the microphone otherwise.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mic == nil {
		return core.ErrVoiceInactive
	}
	if c.screen != nil {
		return nil
	}
	capture, err := c.devices.AcquireScreen(ctx)
	if err != nil {
		return deviceError("screen", err)
	}
	audio := pick(capture, webrtc.RTPCodecTypeAudio)
	if audio == nil {
		audio = pick(c.mic, webrtc.RTPCodecTypeAudio)
	}
	c.screen = capture

	watchCtx, cancel := context.WithCancel(context.Background())
	c.watchCancel = cancel
	go c.watch(watchCtx, capture)

	log.Info().Str("module", "core.media").Msg("screen share started")
	c.swapLocked(ctx, core.Composition{Audio: audio, Video: pick(capture, webrtc.RTPCodecTypeVideo)})
	return nil
}

// StopScreenShare ends the share and reports whether one was running.
func (c *Controller) StopScreenShare() bool {
	return c.stopScreen(StoppedByUser)
}

// VisibilityLost ends the share when the local view of it goes away.
func (c *Controller) VisibilityLost() bool {
	return c.stopScreen(VisibilityLost)
}

func (c *Controller) watch(ctx context.Context, capture core.Capture) {
	select {
	case <-capture.Ended():
		log.Info().Str("module", "core.media").Msg("screen capture ended")
		c.stopScreen(CaptureEnded)
	case <-ctx.Done():
	}
}

func (c *Controller) stopScreen(reason StopReason) bool {
	c.mu.Lock()
	if !c.stopScreenLocked() {
		c.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	c.swapLocked(ctx, core.Composition{Audio: pick(c.mic, webrtc.RTPCodecTypeAudio)})
	cancel()
	c.mu.Unlock()

	c.notifyScreenStopped(reason)
	return true
}

func (c *Controller) stopScreenLocked() bool {
	if c.screen == nil {
		return false
	}
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	c.screen.Stop()
	c.screen = nil
	log.Info().Str("module", "core.media").Msg("screen share stopped")
	return true
}

func (c *Controller) notifyScreenStopped(reason StopReason) {
	if c.OnScreenStopped != nil {
		c.OnScreenStopped(reason)
	}
}

// swapLocked publishes next and applies it to all sessions. c.mu must be held.
func (c *Controller) swapLocked(ctx context.Context, next core.Composition) {
	old := *c.comp.Load()
	c.comp.Store(&next)
	if c.applier == nil || old == next {
		return
	}
	if err := c.applier.ApplyComposition(ctx, old, next); err != nil {
		log.Warn().Str("module", "core.media").Err(err).Msg("apply composition")
	}
}

// SetVolume sets the outbound volume and returns the clamped value.
func (c *Controller) SetVolume(v float64) float64 {
	return c.gain.SetVolume(v)
}

func (c *Controller) SetMuted(muted bool) {
	c.gain.SetMuted(muted)
}

// ToggleMute flips the outbound mute and returns the new state.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	muted := !c.gain.Muted()
	c.gain.SetMuted(muted)
	return muted
}

func (c *Controller) Muted() bool {
	return c.gain.Muted()
}

func pick(capture core.Capture, kind webrtc.RTPCodecType) webrtc.TrackLocal {
	if capture == nil {
		return nil
	}
	for _, t := range capture.Tracks() {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func deviceError(what string, err error) error {
	if errors.Is(err, core.ErrDevice) {
		return fmt.Errorf("acquire %s: %w", what, err)
	}
	return fmt.Errorf("acquire %s: %w: %w", what, core.ErrDevice, err)
}
