package app

import "github.com/dkeye/VoiceMesh/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a participant whose send buffer is full.
// Delivery to the other participants is never affected.
type Policy interface {
	OnBackPressure(sid core.SessionID) BackpressureAction
}

// SimplePolicy disconnects slow consumers. They rejoin through the client's
// reconnect loop with a fresh roster snapshot.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.SessionID) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops the frame and keeps the connection.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(core.SessionID) BackpressureAction {
	return NoAction
}

// PolicyByName maps the config value to a policy. Unknown names fall back to SimplePolicy.
func PolicyByName(name string) Policy {
	if name == "drop" {
		return TolerantPolicy{}
	}
	return SimplePolicy{}
}
