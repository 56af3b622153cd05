package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var ErrMediaAccessDenied = errors.New("media access denied")

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// LocalTrack is one locally produced media track. Stop must be
// idempotent; SetEnabled is the mute toggle.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	// Unwrap exposes the underlying pion track for transport attachment.
	Unwrap() webrtc.TrackLocal
	Stop()
}

// RemoteTrack is the session-level view of a track received from the peer.
type RemoteTrack struct {
	ID   string    `json:"id"`
	Kind TrackKind `json:"kind"`
}

type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaSource produces local tracks on request. Acquire may take a
// while (device prompts); callers must guard the continuation against
// a session that was torn down while waiting.
type MediaSource interface {
	Acquire(ctx context.Context, c MediaConstraints) ([]LocalTrack, error)
}
