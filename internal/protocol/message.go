// Package protocol defines the signaling messages exchanged between
// participants and the relay. Every frame is a JSON object with a "type" field.
package protocol

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

type Kind string

// Client to relay.
const (
	KindJoin              Kind = "join"
	KindMessage           Kind = "message"
	KindOffer             Kind = "offer"
	KindAnswer            Kind = "answer"
	KindICECandidate      Kind = "ice-candidate"
	KindVoiceStarted      Kind = "voice-started"
	KindVoiceStopped      Kind = "voice-stopped"
	KindMuteStatus        Kind = "mute-status"
	KindScreenShareStatus Kind = "screen-share-status"
	KindRequestList       Kind = "request-list"
	KindPing              Kind = "ping"
)

// Relay to client.
const (
	KindJoined            Kind = "joined"
	KindLeft              Kind = "left"
	KindList              Kind = "list"
	KindMuteStatusUpdate  Kind = "mute-status-update"
	KindScreenShareUpdate Kind = "screen-share-update"
	KindPong              Kind = "pong"
	KindError             Kind = "error"
)

// Error codes carried by Error frames.
const (
	ErrCodeBadPayload    = "bad_payload"
	ErrCodeNotJoined     = "not_joined"
	ErrCodeAlreadyJoined = "already_joined"
	ErrCodeInvalidName   = "invalid_name"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeUnknownType   = "unknown_type"
)

// Targeted kinds are forwarded to exactly one participant named by Target.
func (k Kind) Targeted() bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// Broadcast kinds are forwarded to everyone except the sender.
func (k Kind) Broadcast() bool {
	switch k {
	case KindMessage, KindVoiceStarted, KindVoiceStopped, KindMuteStatus, KindScreenShareStatus:
		return true
	}
	return false
}

type Envelope struct {
	Type Kind `json:"type"`
}

type Join struct {
	Type Kind   `json:"type"`
	Name string `json:"name"`
}

// Presence is used for joined, left, voice-started and voice-stopped.
type Presence struct {
	Type Kind   `json:"type"`
	Name string `json:"name"`
}

type List struct {
	Type         Kind                 `json:"type"`
	Names        []string             `json:"names"`
	Participants []domain.Participant `json:"participants,omitempty"`
}

type Text struct {
	Type Kind   `json:"type"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// Signal carries offer, answer and ice-candidate payloads.
// SDP and Candidate are opaque to the relay.
type Signal struct {
	Type      Kind            `json:"type"`
	From      string          `json:"from,omitempty"`
	Target    string          `json:"target"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type MuteStatus struct {
	Type     Kind            `json:"type"`
	Username string          `json:"username,omitempty"`
	Kind     domain.MuteKind `json:"kind"`
	Muted    bool            `json:"muted"`
}

type ScreenShare struct {
	Type     Kind   `json:"type"`
	Username string `json:"username,omitempty"`
	Sharing  bool   `json:"sharing"`
}

type Error struct {
	Type  Kind   `json:"type"`
	Error string `json:"error"`
}

// Control is a payload-less frame (ping, pong, request-list).
type Control struct {
	Type Kind `json:"type"`
}

// Peek returns the type of a raw frame without decoding the rest.
func Peek(data []byte) (Kind, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("decode envelope: missing type")
	}
	return env.Type, nil
}

func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// Marshal encodes any Go value as a raw JSON payload, used for the opaque
// sdp and candidate fields.
func Marshal(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// Unmarshal decodes a raw payload into v.
func Unmarshal(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}

// StampFrom rewrites the "from" field of a targeted frame and returns the
// frame's target. Every other field, known or not, is kept as sent.
func StampFrom(data []byte, from string) (target string, frame []byte, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", nil, fmt.Errorf("decode payload: %w", err)
	}
	if raw, ok := fields["target"]; ok {
		if err := json.Unmarshal(raw, &target); err != nil {
			return "", nil, fmt.Errorf("decode target: %w", err)
		}
	}
	if target == "" {
		return "", nil, fmt.Errorf("decode payload: missing target")
	}
	name, err := json.Marshal(from)
	if err != nil {
		return "", nil, err
	}
	fields["from"] = name
	frame, err = json.Marshal(fields)
	if err != nil {
		return "", nil, fmt.Errorf("encode payload: %w", err)
	}
	return target, frame, nil
}
