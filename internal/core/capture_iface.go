package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// GainStage scales PCM samples before they are encoded and sent.
type GainStage interface {
	Apply(pcm []int16)
}

// Capture is a running capture session (microphone or screen).
type Capture interface {
	Tracks() []webrtc.TrackLocal
	// Ended is closed when the capture stops on its own, e.g. the user
	// revoked screen sharing at the OS level.
	Ended() <-chan struct{}
	Stop()
}

// Devices is the capture capability the media controller consumes.
// Both methods fail with an error wrapping ErrDevice.
type Devices interface {
	AcquireMicrophone(ctx context.Context, gain GainStage) (Capture, error)
	AcquireScreen(ctx context.Context) (Capture, error)
}
