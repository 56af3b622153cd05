// Package relay implements the signaling relay: it forwards named
// events between two identified parties without inspecting media
// content.
package relay

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/medconnect/callkit/internal/core"
	"github.com/medconnect/callkit/internal/domain"
)

var ErrUnknownParty = errors.New("unknown party")

// party is one announced participant and its live connection.
type party struct {
	id   domain.PartyID
	name string
	role string
	conn *wsConn
}

// Hub is the routing table. A re-join replaces the previous connection
// so in-flight events reach the new one.
type Hub struct {
	mu      sync.RWMutex
	parties map[domain.PartyID]*party
}

func NewHub() *Hub {
	return &Hub{parties: make(map[domain.PartyID]*party)}
}

func (h *Hub) join(p core.JoinPayload, conn *wsConn) {
	h.mu.Lock()
	if old, ok := h.parties[p.PartyID]; ok && old.conn != conn {
		old.conn.close()
	}
	h.parties[p.PartyID] = &party{id: p.PartyID, name: p.DisplayName, role: p.Role, conn: conn}
	h.mu.Unlock()
	log.Info().Str("module", "relay").Str("party", string(p.PartyID)).Str("name", p.DisplayName).Msg("party joined")
}

func (h *Hub) leave(conn *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, p := range h.parties {
		if p.conn == conn {
			delete(h.parties, id)
			log.Info().Str("module", "relay").Str("party", string(id)).Msg("party left")
			return
		}
	}
}

func (h *Hub) lookup(id domain.PartyID) (*party, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.parties[id]
	return p, ok
}

// route forwards one envelope from sender to env.To, renaming the
// request events to their delivery counterparts. From/FromName are
// stamped from the sender's registration, never trusted from the wire.
func (h *Hub) route(sender *party, env core.Envelope) error {
	target, ok := h.lookup(env.To)
	if !ok {
		log.Warn().Str("module", "relay").Str("to", string(env.To)).Str("type", string(env.Type)).Msg("dropping event for unknown party")
		return ErrUnknownParty
	}

	out := core.Envelope{
		Type:     deliveryName(env.Type),
		To:       env.To,
		From:     sender.id,
		FromName: sender.name,
		Payload:  env.Payload,
	}

	if env.Type == core.EventStartCall {
		var p core.StartCallPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("bad start-call payload")
			return err
		}
		raw, err := json.Marshal(core.IncomingCallPayload{
			From:      sender.id,
			FromName:  sender.name,
			SessionID: p.SessionID,
			Context:   p.Context,
		})
		if err != nil {
			return err
		}
		out.Payload = raw
	}

	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if err := target.conn.trySend(b); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("to", string(env.To)).Msg("delivery failed")
		return err
	}
	return nil
}

// deliveryName maps a request event to what the other side receives.
func deliveryName(t core.EventName) core.EventName {
	switch t {
	case core.EventStartCall:
		return core.EventIncomingCall
	case core.EventAcceptCall:
		return core.EventCallAccepted
	case core.EventRejectCall:
		return core.EventCallRejected
	default:
		return t
	}
}
