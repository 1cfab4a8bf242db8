package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wandao/meeting-signal/internal/core"
	"github.com/wandao/meeting-signal/internal/sanitize"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) pingPeriod() time.Duration {
	if ctl.PingPeriod > 0 {
		return ctl.PingPeriod
	}
	return 54 * time.Second
}

// readPump feeds inbound frames to the relay. When the read loop ends,
// however it ends, the connection is unbound and torn down exactly once.
func (ctl *Controller) readPump(ctx context.Context, connID core.ConnID, c *wsConn) {
	defer func() {
		c.Close()
		ctl.Registry.Unbind(connID)
		ctl.Relay.Disconnect(connID, "read loop closed")
		log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump closing")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(connID, data)
		}
	}
}

func (ctl *Controller) handleFrame(connID core.ConnID, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		log.Debug().Str("module", "signal").Str("conn", string(connID)).Msg("bad frame")
		return
	}
	clean := sanitize.Bytes(env.Data)
	ctl.Relay.Dispatch(connID, env.Event, clean)
}
