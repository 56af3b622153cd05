// Package rtc adapts a pion PeerConnection to the PeerTransport
// boundary consumed by the call state machine.
package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/medconnect/callkit/internal/core"
)

var ErrNotCreated = errors.New("transport not created")

// Config describes the path-discovery setup for one transport.
type Config struct {
	// STUNServers are the built-in public discovery servers.
	STUNServers []string
	// TURNURL, when set, is the operator-supplied relay override. It is
	// prepended so it wins candidate priority.
	TURNURL        string
	TURNUsername   string
	TURNCredential string
	// CandidatePoolSize pre-allocates candidates for faster discovery.
	CandidatePoolSize uint8
}

func DefaultConfig() Config {
	return Config{
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		CandidatePoolSize: 2,
	}
}

func (c Config) webrtcConfiguration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.STUNServers)+1)
	if c.TURNURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{c.TURNURL},
			Username:   c.TURNUsername,
			Credential: c.TURNCredential,
		})
	}
	for _, u := range c.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{
		ICEServers:           servers,
		ICETransportPolicy:   webrtc.ICETransportPolicyAll,
		BundlePolicy:         webrtc.BundlePolicyMaxBundle,
		ICECandidatePoolSize: c.CandidatePoolSize,
	}
}

// Transport owns one pion PeerConnection. Create and Release are
// idempotent; everything between them assumes a created connection.
type Transport struct {
	cfg Config

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	probe    *webrtc.DataChannel
	tracks   []core.LocalTrack
	released bool
	// one ICE restart attempt per outage before deferring to the
	// connection-state handler
	restarted bool

	onState         func(core.TransportState)
	onCandidate     func(core.Candidate)
	onRemoteTrack   func(core.RemoteTrack)
	onAnnotation    func(string)
	onRestartNeeded func()
}

func NewTransport(cfg Config) *Transport {
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = DefaultConfig().STUNServers
	}
	return &Transport{cfg: cfg}
}

func (t *Transport) OnStateChange(fn func(core.TransportState)) { t.onState = fn }
func (t *Transport) OnLocalCandidate(fn func(core.Candidate)) { t.onCandidate = fn }
func (t *Transport) OnRemoteTrack(fn func(core.RemoteTrack)) { t.onRemoteTrack = fn }
func (t *Transport) OnAnnotation(fn func(string)) { t.onAnnotation = fn }
func (t *Transport) OnRestartNeeded(fn func()) { t.onRestartNeeded = fn }

// Create instantiates the peer connection. A second call while one
// exists is a no-op against the existing instance.
func (t *Transport) Create(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pc != nil {
		return nil
	}
	pc, err := webrtc.NewPeerConnection(t.cfg.webrtcConfiguration())
	if err != nil {
		return err
	}
	t.pc = pc
	t.released = false

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
		switch s {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			t.annotate("")
			t.mu.Lock()
			t.restarted = false
			t.mu.Unlock()
		case webrtc.ICEConnectionStateChecking:
			t.annotate("establishing connection")
		case webrtc.ICEConnectionStateFailed:
			t.mu.Lock()
			first := !t.restarted
			t.restarted = true
			t.mu.Unlock()
			if first && t.onRestartNeeded != nil {
				t.onRestartNeeded()
			}
		case webrtc.ICEConnectionStateDisconnected:
			// recovery grace is owned by the state machine's policy
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		if t.onState != nil {
			t.onState(mapState(s))
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || t.onCandidate == nil {
			return
		}
		ci := cand.ToJSON()
		c := core.Candidate{Candidate: ci.Candidate}
		if ci.SDPMid != nil {
			c.SDPMid = *ci.SDPMid
		}
		c.SDPMLineIndex = ci.SDPMLineIndex
		t.onCandidate(c)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		if t.onRemoteTrack != nil {
			t.onRemoteTrack(core.RemoteTrack{ID: track.ID(), Kind: trackKind(track.Kind())})
		}
	})

	// The probe channel never drives state transitions; its open and
	// message events only corroborate that the transport is usable
	// while media-track events are still in flight.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		observeProbe(dc)
	})
	probe, err := pc.CreateDataChannel("probe", nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("probe channel create failed")
	} else {
		t.probe = probe
		observeProbe(probe)
	}
	return nil
}

func observeProbe(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		log.Info().Str("module", "rtc").Str("label", dc.Label()).Msg("probe channel open")
		_ = dc.SendText("ping")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		log.Debug().Str("module", "rtc").Int("bytes", len(msg.Data)).Msg("probe message")
	})
}

// BindLocalTracks attaches every local track. Must run before any
// negotiation description is generated.
func (t *Transport) BindLocalTracks(tracks []core.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pc == nil {
		return ErrNotCreated
	}
	for _, tr := range tracks {
		if _, err := t.pc.AddTrack(tr.Unwrap()); err != nil {
			return err
		}
		t.tracks = append(t.tracks, tr)
	}
	return nil
}

func (t *Transport) CreateOffer() (string, error) {
	if t.pc == nil {
		return "", ErrNotCreated
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (t *Transport) ApplyRemoteOffer(sdp string) error {
	if t.pc == nil {
		return ErrNotCreated
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

func (t *Transport) CreateAnswer() (string, error) {
	if t.pc == nil {
		return "", ErrNotCreated
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (t *Transport) ApplyRemoteAnswer(sdp string) error {
	if t.pc == nil {
		return ErrNotCreated
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (t *Transport) HasRemoteDescription() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pc != nil && t.pc.RemoteDescription() != nil
}

func (t *Transport) AddRemoteCandidate(c core.Candidate) error {
	if t.pc == nil {
		return ErrNotCreated
	}
	ci := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		ci.SDPMid = &mid
	}
	ci.SDPMLineIndex = c.SDPMLineIndex
	return t.pc.AddICECandidate(ci)
}

// RestartDiscovery builds a path-restart offer; the caller sends it to
// the peer through signaling.
func (t *Transport) RestartDiscovery() (string, error) {
	if t.pc == nil {
		return "", ErrNotCreated
	}
	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

// Release stops every bound track and closes the connection. Safe to
// call multiple times.
func (t *Transport) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	for _, tr := range t.tracks {
		tr.Stop()
	}
	t.tracks = nil
	if t.pc != nil {
		if err := t.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("close error")
		}
		t.pc = nil
	}
}

func (t *Transport) annotate(note string) {
	if t.onAnnotation != nil {
		t.onAnnotation(note)
	}
}

func mapState(s webrtc.PeerConnectionState) core.TransportState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return core.TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	default:
		return core.TransportClosed
	}
}

func trackKind(k webrtc.RTPCodecType) core.TrackKind {
	if k == webrtc.RTPCodecTypeVideo {
		return core.TrackKindVideo
	}
	return core.TrackKindAudio
}
