package domain

import "github.com/google/uuid"

// SessionID identifies one call attempt end to end. It is minted by the
// initiator and carried in every signaling event for that call.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// TerminationReason is populated only when a call reaches a terminal state.
type TerminationReason string

const (
	ReasonNone              TerminationReason = ""
	ReasonHangup            TerminationReason = "hangup"
	ReasonRemoteHangup      TerminationReason = "remoteHangup"
	ReasonRemoteRejected    TerminationReason = "remoteRejected"
	ReasonNegotiationFailed TerminationReason = "negotiationFailed"
	ReasonTransportFailure  TerminationReason = "transportFailure"
	ReasonLocalError        TerminationReason = "localError"
)
