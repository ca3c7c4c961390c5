package core

import (
	"github.com/pion/webrtc/v4"
)

// PeerTransport is the platform real-time transport for one peer pair.
// The rtc adapter implements it on top of a pion PeerConnection.
type PeerTransport interface {
	// AddSender provisions an outbound slot of the given kind carrying track.
	// A nil track reserves the slot without sending media.
	AddSender(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (TrackSender, error)
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(InboundTrack))
	// Reattach returns a fresh playback handle for the remote track of kind
	// after an earlier handle was released. ok is false when none arrived.
	Reattach(kind webrtc.RTPCodecType) (InboundTrack, bool)
	// Close should stop all underlying media resources.
	Close() error
}

// TrackSender is one outbound slot. ReplaceTrack swaps the media in place
// without a new offer/answer round.
type TrackSender interface {
	Kind() webrtc.RTPCodecType
	Track() webrtc.TrackLocal
	ReplaceTrack(webrtc.TrackLocal) error
}

// InboundTrack is the local playback handle of a remote track.
type InboundTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Play()
	Pause()
	Playing() bool
	SetVolume(float64)
	// Release stops playback for good.
	Release()
}

type TransportFactory interface {
	NewTransport(peer string) (PeerTransport, error)
}
