// Package capture provides headless capture devices: a test tone standing in
// for the microphone and an IVF file standing in for the screen.
package capture

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// session is one running capture with its pump goroutine.
type session struct {
	tracks []webrtc.TrackLocal

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	ended   chan struct{}
	endOnce sync.Once
}

func newSession(ctx context.Context, tracks ...webrtc.TrackLocal) (*session, context.Context) {
	// the capture outlives the acquiring call
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &session{
		tracks: tracks,
		cancel: cancel,
		ended:  make(chan struct{}),
	}, ctx
}

func (s *session) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *session) Ended() <-chan struct{} { return s.ended }

func (s *session) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

// Stop halts the pump and waits for it. It does not count as ending on
// its own, so Ended stays open.
func (s *session) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *session) start(pump func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pump()
	}()
}
