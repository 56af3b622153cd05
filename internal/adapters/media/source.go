// Package media provides a synthetic local media source. It stands in
// for device capture, which is outside this core: tracks carry silence
// (audio) and keepalive frames (video) so the transport path can be
// exercised end to end.
package media

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/medconnect/callkit/internal/core"
)

const frameInterval = 20 * time.Millisecond

// opusSilence is a single DTX silence frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Source implements core.MediaSource with generated tracks.
type Source struct{}

func NewSource() *Source { return &Source{} }

func (s *Source) Acquire(_ context.Context, c core.MediaConstraints) ([]core.LocalTrack, error) {
	var tracks []core.LocalTrack
	if c.Audio {
		t, err := newTrack(core.TrackKindAudio, webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2,
		})
		if err != nil {
			return stopAll(tracks), err
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := newTrack(core.TrackKindVideo, webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeVP8, ClockRate: 90000,
		})
		if err != nil {
			return stopAll(tracks), err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func stopAll(tracks []core.LocalTrack) []core.LocalTrack {
	for _, t := range tracks {
		t.Stop()
	}
	return nil
}

// track is one generated local track. A writer goroutine pushes one
// RTP packet per frame interval until Stop; while muted it keeps the
// clock advancing but writes nothing.
type track struct {
	id      string
	kind    core.TrackKind
	local   *webrtc.TrackLocalStaticRTP
	enabled atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
}

func newTrack(kind core.TrackKind, codec webrtc.RTPCodecCapability) (*track, error) {
	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(codec, string(kind), "callkit-"+id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &track{id: id, kind: kind, local: local, cancel: cancel}
	t.enabled.Store(true)
	go t.loop(ctx, codec.ClockRate)
	return t, nil
}

func (t *track) loop(ctx context.Context, clockRate uint32) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	step := clockRate / uint32(time.Second/frameInterval)
	var seq uint16
	var ts uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			ts += step
			if !t.enabled.Load() {
				continue
			}
			pkt := &rtp.Packet{
				Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: ts},
				Payload: opusSilence,
			}
			if err := t.local.WriteRTP(pkt); err != nil {
				log.Debug().Err(err).Str("module", "media").Str("track", t.id).Msg("write frame")
			}
		}
	}
}

func (t *track) ID() string { return t.id }
func (t *track) Kind() core.TrackKind { return t.kind }
func (t *track) Enabled() bool { return t.enabled.Load() }
func (t *track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *track) Unwrap() webrtc.TrackLocal { return t.local }

func (t *track) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	t.cancel()
}
