package media

import (
	"math"
	"sync"
)

const MaxVolume = 2.0

// Gain is the outbound volume stage. Mute and volume collapse into one
// multiplier: muted is 0, unmuted is the last volume set.
type Gain struct {
	mu     sync.RWMutex
	volume float64
	muted  bool
}

func NewGain() *Gain {
	return &Gain{volume: 1}
}

// SetVolume clamps v to [0, MaxVolume] and returns the applied value.
func (g *Gain) SetVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > MaxVolume {
		v = MaxVolume
	}
	g.mu.Lock()
	g.volume = v
	g.mu.Unlock()
	return v
}

func (g *Gain) Volume() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.volume
}

func (g *Gain) SetMuted(muted bool) {
	g.mu.Lock()
	g.muted = muted
	g.mu.Unlock()
}

func (g *Gain) Muted() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.muted
}

func (g *Gain) Multiplier() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.muted {
		return 0
	}
	return g.volume
}

// Apply scales pcm in place, saturating at the int16 range.
func (g *Gain) Apply(pcm []int16) {
	m := g.Multiplier()
	if m == 1 {
		return
	}
	for i, s := range pcm {
		v := math.Round(float64(s) * m)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		pcm[i] = int16(v)
	}
}
