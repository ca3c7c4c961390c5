package peer

// State is the connection state of one peer session.
type State int

const (
	Idle State = iota
	Negotiating
	Connected
	Renegotiating
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Renegotiating:
		return "renegotiating"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}
