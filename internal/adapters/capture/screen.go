package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
)

var errNoScreen = errors.New("no screen source configured")

// AcquireScreen plays ScreenFile as a VP8 track at the file's frame rate.
// Reaching the end of the file ends the capture on its own.
func (d *Devices) AcquireScreen(ctx context.Context) (core.Capture, error) {
	if d.ScreenFile == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrDevice, errNoScreen)
	}
	f, err := os.Open(d.ScreenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrDevice, err)
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: read %s: %w", core.ErrDevice, d.ScreenFile, err)
	}
	if header.FourCC != "VP80" {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is %q, want VP80", core.ErrDevice, d.ScreenFile, header.FourCC)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "voicemesh")
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: screen track: %w", core.ErrDevice, err)
	}

	frame := frameInterval(header)
	s, pctx := newSession(ctx, track)
	s.start(func() {
		defer f.Close()
		pumpIVF(pctx, s, reader, track, frame)
	})
	log.Info().Str("module", "capture").Str("file", d.ScreenFile).Dur("frame", frame).Msg("screen started")
	return s, nil
}

func frameInterval(h *ivfreader.IVFFileHeader) time.Duration {
	if h.TimebaseDenominator == 0 || h.TimebaseNumerator == 0 {
		return 33 * time.Millisecond
	}
	return time.Duration(h.TimebaseNumerator) * time.Second / time.Duration(h.TimebaseDenominator)
}

func pumpIVF(ctx context.Context, s *session, reader *ivfreader.IVFReader, track *webrtc.TrackLocalStaticSample, frame time.Duration) {
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "capture").Msg("screen stopped")
			return
		case <-ticker.C:
		}
		data, _, err := reader.ParseNextFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Str("module", "capture").Msg("screen read frame")
			}
			log.Info().Str("module", "capture").Msg("screen source ended")
			s.end()
			return
		}
		if err := track.WriteSample(media.Sample{Data: data, Duration: frame}); err != nil {
			log.Warn().Err(err).Str("module", "capture").Msg("screen write sample")
		}
	}
}
