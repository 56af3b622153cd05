package core

import (
	"context"
	"errors"

	"github.com/medconnect/callkit/internal/domain"
)

// Frame is a raw wire payload.
type Frame []byte

var ErrChannelNotReady = errors.New("signal channel not ready")

// EventName is a named session-lifecycle event routed through the relay.
type EventName string

const (
	EventJoin         EventName = "join"
	EventJoined       EventName = "joined"
	EventStartCall    EventName = "start-call"
	EventIncomingCall EventName = "incoming-call"
	EventAcceptCall   EventName = "accept-call"
	EventRejectCall   EventName = "reject-call"
	EventCallAccepted EventName = "call-accepted"
	EventCallRejected EventName = "call-rejected"
	EventOffer        EventName = "offer"
	EventAnswer       EventName = "answer"
	EventICECandidate EventName = "ice-candidate"
	EventEndCall      EventName = "end-call"
)

// SignalChannel is the client side of the relay connection. Inbound
// events are delivered to registered handlers in arrival order, one at
// a time, from a single reader. Ordering is only guaranteed per sender.
type SignalChannel interface {
	// Connect is idempotent. It establishes (or re-establishes) the relay
	// connection and keeps it alive with bounded retry on involuntary drops.
	Connect(ctx context.Context) error
	IsReady() bool
	// Send marshals payload and routes it to the target party. It returns
	// ErrChannelNotReady when the relay connection is down; delivery is
	// otherwise fire-and-forget.
	Send(event EventName, payload any, to domain.PartyID) error
	On(event EventName, handler func(payload []byte))
	OnReady(func())
	OnError(func(error))
	// OnClosed fires once when the channel stops for good. voluntary is
	// true only for an explicit local Close (logout), which must tear
	// down any active session; involuntary drops never end a call.
	OnClosed(func(voluntary bool))
	// Close is the voluntary local disconnect.
	Close()
}
