package core

import "github.com/pion/webrtc/v4"

// Composition is the set of tracks the local participant sends to every
// peer, at most one per kind. It is a value: changing it means replacing it.
type Composition struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
}

// MediaKinds lists the kinds a peer session provisions senders for, in order.
var MediaKinds = []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}

func (c Composition) Track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return c.Audio
	case webrtc.RTPCodecTypeVideo:
		return c.Video
	}
	return nil
}

func (c Composition) Empty() bool {
	return c.Audio == nil && c.Video == nil
}
