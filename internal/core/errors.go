package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDevice reports a capture permission or device failure.
	ErrDevice = errors.New("device unavailable")
	// ErrRouteMiss reports a targeted message whose target is not in the roster.
	ErrRouteMiss = errors.New("no route to target")
	// ErrNegotiation reports a failed connection setup with one peer.
	ErrNegotiation = errors.New("negotiation failed")
	// ErrTransportLoss reports the loss of the relay connection.
	ErrTransportLoss = errors.New("relay connection lost")

	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrVoiceInactive       = errors.New("voice is not active")
)

// PeerError describes a failure scoped to one peer session.
type PeerError struct {
	Peer string
	Op   string
	Err  error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

func NewPeerError(peer, op string, err error) *PeerError {
	return &PeerError{Peer: peer, Op: op, Err: err}
}
