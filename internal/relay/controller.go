package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/medconnect/callkit/internal/core"
)

const writeDeadline = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller upgrades signaling connections and pumps envelopes
// between parties through the hub.
type Controller struct {
	Hub *Hub
}

func NewController(hub *Hub) *Controller {
	return &Controller{Hub: hub}
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "relay").Str("token", token).Msg("new signaling connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}

	conn := newWSConn(ws)
	go ctl.writePump(ctx, conn)
	ctl.readPump(ctx, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, c *wsConn) {
	defer func() {
		ctl.Hub.leave(c)
		c.close()
	}()

	var sender *party
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "relay").Msg("readPump closing")
				return
			}
			sender = ctl.handleEnvelope(sender, c, data)
		}
	}
}

// handleEnvelope processes one inbound frame. The first join binds the
// connection to a party; everything else requires a bound sender.
func (ctl *Controller) handleEnvelope(sender *party, c *wsConn, data []byte) *party {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad envelope json")
		return sender
	}

	if env.Type == core.EventJoin {
		var p core.JoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.PartyID == "" {
			log.Error().Err(err).Str("module", "relay").Msg("bad join payload")
			return sender
		}
		ctl.Hub.join(p, c)
		ack, _ := json.Marshal(core.Envelope{Type: core.EventJoined, To: p.PartyID})
		_ = c.trySend(ack)
		bound, _ := ctl.Hub.lookup(p.PartyID)
		return bound
	}

	if sender == nil {
		log.Warn().Str("module", "relay").Str("type", string(env.Type)).Msg("event before join dropped")
		return nil
	}
	_ = ctl.Hub.route(sender, env)
	return sender
}
