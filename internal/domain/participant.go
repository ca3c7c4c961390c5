// Package domain contains entities without transport logic, just meta-data.
package domain

import (
	"errors"
	"time"
)

const MaxNameLen = 36

var (
	ErrNameEmpty   = errors.New("name empty")
	ErrNameTooLong = errors.New("name too long")
)

// MuteKind names the device a mute-status message refers to.
type MuteKind string

const (
	MuteMicrophone MuteKind = "microphone"
	MuteSpeaker    MuteKind = "speaker"
)

func (k MuteKind) Valid() bool {
	return k == MuteMicrophone || k == MuteSpeaker
}

type MuteState struct {
	Microphone bool `json:"microphone"`
	Speaker    bool `json:"speaker"`
}

// Set flips the flag for kind. Unknown kinds are ignored.
func (m *MuteState) Set(kind MuteKind, muted bool) {
	switch kind {
	case MuteMicrophone:
		m.Microphone = muted
	case MuteSpeaker:
		m.Speaker = muted
	}
}

// Participant is a joined member of the room as seen by the relay.
// SID is the relay-assigned connection identifier and is never sent to peers.
type Participant struct {
	SID      string    `json:"-"`
	Name     string    `json:"name"`
	Mute     MuteState `json:"mute"`
	Sharing  bool      `json:"sharing"`
	Voice    bool      `json:"voice"`
	JoinedAt time.Time `json:"joined_at"`
}

// NewParticipant avoids raw literals in adapters and keeps validation in one place.
func NewParticipant(sid, name string) (*Participant, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &Participant{SID: sid, Name: name, JoinedAt: time.Now()}, nil
}

func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}
