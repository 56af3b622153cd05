package core

import "context"

// TransportState is the authoritative connectivity signal the call
// state machine consumes. Values mirror the underlying peer-connection
// states.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Candidate is one network-path candidate exchanged during discovery.
type Candidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex *uint16
}

// PeerTransport owns one negotiated media transport for the lifetime of
// one call session.
//
// Create is idempotent: a second call without an intervening Release is
// a no-op against the existing instance. Release is also idempotent and
// stops every bound track before closing the transport.
type PeerTransport interface {
	Create(ctx context.Context) error
	// BindLocalTracks must be called before any negotiation description
	// is generated.
	BindLocalTracks(tracks []LocalTrack) error

	CreateOffer() (sdp string, err error)
	ApplyRemoteOffer(sdp string) error
	CreateAnswer() (sdp string, err error)
	ApplyRemoteAnswer(sdp string) error
	HasRemoteDescription() bool
	AddRemoteCandidate(c Candidate) error
	// RestartDiscovery produces a path-restart offer that must be sent to
	// the peer through signaling.
	RestartDiscovery() (sdp string, err error)

	OnStateChange(func(TransportState))
	OnLocalCandidate(func(Candidate))
	OnRemoteTrack(func(RemoteTrack))
	// OnAnnotation surfaces non-fatal connectivity notes ("establishing
	// connection"); an empty string clears the current note.
	OnAnnotation(func(note string))
	// OnRestartNeeded fires when path discovery failed and the transport
	// wants one restart attempt before giving up.
	OnRestartNeeded(func())

	Release()
}
