package capture

import (
	"math"
	"sort"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/zaf/g711"
)

// Speaker is the headless playback stage. It decodes PCMU audio, scales it
// by the playback volume and keeps the last level per peer instead of
// driving an output device.
type Speaker struct {
	mu    sync.Mutex
	peers map[string]*playback
}

type playback struct {
	level  float64
	audio  uint64
	frames uint64
}

func NewSpeaker() *Speaker {
	return &Speaker{peers: make(map[string]*playback)}
}

func (s *Speaker) WriteRTP(peer string, kind webrtc.RTPCodecType, pkt *rtp.Packet, volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.peers[peer]
	if p == nil {
		p = &playback{}
		s.peers[peer] = p
	}
	if kind == webrtc.RTPCodecTypeVideo {
		p.frames++
		return nil
	}
	p.audio++
	p.level = rms(pkt.Payload) * volume
	return nil
}

// Level is the last audio level from peer on a 0..1 scale.
func (s *Speaker) Level(peer string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.peers[peer]; p != nil {
		return p.level
	}
	return 0
}

// Packets returns the audio and video packets played from peer.
func (s *Speaker) Packets(peer string) (audio, video uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.peers[peer]; p != nil {
		return p.audio, p.frames
	}
	return 0, 0
}

func (s *Speaker) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.peers))
	for name := range s.peers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func rms(payload []byte) float64 {
	if len(payload) == 0 {
		return 0
	}
	var sum float64
	for _, b := range payload {
		v := float64(g711.DecodeUlawFrame(b)) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(payload)))
}
