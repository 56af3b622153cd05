package call

import (
	"encoding/json"
	"time"

	"github.com/medconnect/callkit/internal/core"
	"github.com/medconnect/callkit/internal/domain"
)

// LifecycleState is the externally visible call state. It only moves
// forward through the graph, except for the Connected/Degraded cycle.
type LifecycleState string

const (
	StateIdle            LifecycleState = "idle"
	StateOutgoingRinging LifecycleState = "outgoingRinging"
	StateIncomingRinging LifecycleState = "incomingRinging"
	StateNegotiating     LifecycleState = "negotiating"
	StateConnected       LifecycleState = "connected"
	StateDegraded        LifecycleState = "degraded"
	StateEnded           LifecycleState = "ended"
	StateFailed          LifecycleState = "failed"
)

func (s LifecycleState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// NegotiationStage is the signaling sub-state, orthogonal to transport
// connectivity. It advances monotonically and is never rewound except
// by session teardown.
type NegotiationStage string

const (
	NegotiationNone           NegotiationStage = "none"
	NegotiationOfferSent      NegotiationStage = "offerSent"
	NegotiationOfferReceived  NegotiationStage = "offerReceived"
	NegotiationAnswerSent     NegotiationStage = "answerSent"
	NegotiationAnswerReceived NegotiationStage = "answerReceived"
)

// session is the CallSession aggregate, exclusively owned by the
// Machine. Nothing outside the machine mutates it.
type session struct {
	id     domain.SessionID
	local  domain.PartyID
	remote domain.PartyID
	role   domain.Role

	state       LifecycleState
	negotiation NegotiationStage
	transport   core.PeerTransport
	transportSt core.TransportState
	buffer      *candidateBuffer

	localTracks  []core.LocalTrack
	remoteTracks []core.RemoteTrack

	// inCall is the UI-facing "in call" bit; it survives a renegotiation
	// sub-cycle that happens while Connected.
	inCall bool
	// peerAware is set once the invitation (or accept) reached the wire,
	// so an abort knows whether to signal the peer.
	peerAware bool
	// accepting is set while the accept's media acquisition is in
	// flight, so a repeated Accept is rejected before the state moves.
	accepting bool
	// restartUsed limits the degraded-window discovery restart to one.
	restartUsed bool

	context json.RawMessage

	createdAt        time.Time
	lastTransitionAt time.Time
	reason           domain.TerminationReason

	restartTimer core.Timer
	graceTimer   core.Timer
}

func (s *session) stopTimers() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// TrackInfo is the snapshot view of a local track.
type TrackInfo struct {
	ID      string         `json:"id"`
	Kind    core.TrackKind `json:"kind"`
	Enabled bool           `json:"enabled"`
}

// Snapshot is the read-only projection exposed to the UI layer. A new
// one is published on every transition.
type Snapshot struct {
	SessionID      domain.SessionID         `json:"sessionId"`
	RemoteParty    domain.PartyID           `json:"remoteParty"`
	Role           domain.Role              `json:"role"`
	State          LifecycleState           `json:"state"`
	Negotiation    NegotiationStage         `json:"negotiation"`
	TransportState core.TransportState      `json:"transportState"`
	InCall         bool                     `json:"inCall"`
	Reason         domain.TerminationReason `json:"reason,omitempty"`
	Error          string                   `json:"error,omitempty"`
	LocalTracks    []TrackInfo              `json:"localTracks"`
	RemoteTracks   []core.RemoteTrack       `json:"remoteTracks"`
}
