package core

import (
	"encoding/json"

	"github.com/medconnect/callkit/internal/domain"
)

// Envelope is the relay wire format. The relay reads Type and To for
// routing and never inspects Payload.
type Envelope struct {
	Type     EventName       `json:"type"`
	To       domain.PartyID  `json:"to,omitempty"`
	From     domain.PartyID  `json:"from,omitempty"`
	FromName string          `json:"fromName,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	PartyID     domain.PartyID `json:"localPartyId"`
	DisplayName string         `json:"displayName"`
	Role        string         `json:"role"`
}

type StartCallPayload struct {
	To        domain.PartyID   `json:"to"`
	From      domain.PartyID   `json:"from"`
	SessionID domain.SessionID `json:"sessionId"`
	// Context is an opaque attachment passed through unmodified.
	Context json.RawMessage `json:"context,omitempty"`
}

type IncomingCallPayload struct {
	From      domain.PartyID   `json:"from"`
	FromName  string           `json:"fromName"`
	SessionID domain.SessionID `json:"sessionId"`
	Context   json.RawMessage  `json:"context,omitempty"`
}

type CallResponsePayload struct {
	SessionID domain.SessionID `json:"sessionId"`
	To        domain.PartyID   `json:"to"`
}

type DescriptionPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
	SDP       string           `json:"sdp"`
}

type CandidatePayload struct {
	SessionID     domain.SessionID `json:"sessionId"`
	Candidate     string           `json:"candidate"`
	SDPMid        string           `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16          `json:"sdpMLineIndex,omitempty"`
}

type EndCallPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
}
