package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
)

type Options struct {
	ICEServers []string
	// PortMin and PortMax bound the ephemeral UDP ports; zero means any.
	PortMin, PortMax uint16
	// LogLevel filters pion's own logs.
	LogLevel zerolog.Level
	// Sink receives the RTP of playing inbound tracks. Nil discards it.
	Sink Sink
}

// Factory builds one PeerConnection per remote participant from a shared
// API instance.
type Factory struct {
	api  *webrtc.API
	conf webrtc.Configuration
	sink Sink
}

var _ core.TransportFactory = (*Factory)(nil)

func NewFactory(opts Options) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: NewPionLogger(opts.LogLevel)}
	if opts.PortMin > 0 && opts.PortMax >= opts.PortMin {
		if err := s.SetEphemeralUDPPortRange(opts.PortMin, opts.PortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}

	c := webrtc.Configuration{ICEServers: []webrtc.ICEServer{}}
	for _, url := range opts.ICEServers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}

	log.Info().Str("module", "rtc").Int("ice_servers", len(c.ICEServers)).Msg("transport factory ready")
	return &Factory{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf: c,
		sink: opts.Sink,
	}, nil
}

func (f *Factory) NewTransport(peer string) (core.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.conf)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newTransport(peer, pc, f.sink), nil
}
