package capture

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	"github.com/zaf/g711"

	"github.com/dkeye/VoiceMesh/internal/core"
)

const (
	sampleRate    = 8000
	frameDuration = 20 * time.Millisecond
	frameSamples  = sampleRate * int(frameDuration/time.Millisecond) / 1000
	toneAmplitude = 8000
)

// Devices is the headless capture backend.
type Devices struct {
	// ToneHz is the microphone pitch; zero means 440.
	ToneHz float64
	// ScreenFile is the IVF (VP8) file shared as the screen.
	ScreenFile string
}

var _ core.Devices = (*Devices)(nil)

// AcquireMicrophone starts a PCMU track carrying a sine tone. Every frame
// passes through gain before it is encoded.
func (d *Devices) AcquireMicrophone(ctx context.Context, gain core.GainStage) (core.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrDevice, err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: sampleRate},
		"microphone", "voicemesh")
	if err != nil {
		return nil, fmt.Errorf("%w: microphone track: %w", core.ErrDevice, err)
	}

	hz := d.ToneHz
	if hz <= 0 {
		hz = 440
	}
	s, pctx := newSession(ctx, track)
	s.start(func() { pumpTone(pctx, track, gain, hz) })
	log.Info().Str("module", "capture").Float64("hz", hz).Msg("microphone started")
	return s, nil
}

func pumpTone(ctx context.Context, track *webrtc.TrackLocalStaticSample, gain core.GainStage, hz float64) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	pcm := make([]int16, frameSamples)
	var n uint64
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "capture").Msg("microphone stopped")
			return
		case <-ticker.C:
		}
		n = tone(pcm, n, hz)
		if gain != nil {
			gain.Apply(pcm)
		}
		if err := track.WriteSample(media.Sample{Data: encodeFrame(pcm), Duration: frameDuration}); err != nil {
			log.Warn().Err(err).Str("module", "capture").Msg("microphone write sample")
		}
	}
}

// tone fills pcm with the sine continuing from sample index n.
func tone(pcm []int16, n uint64, hz float64) uint64 {
	for i := range pcm {
		t := float64(n) / sampleRate
		pcm[i] = int16(toneAmplitude * math.Sin(2*math.Pi*hz*t))
		n++
	}
	return n
}

// encodeFrame packs one PCM frame as PCMU, one byte per sample.
func encodeFrame(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, v := range pcm {
		out[i] = g711.EncodeUlawFrame(v)
	}
	return out
}
