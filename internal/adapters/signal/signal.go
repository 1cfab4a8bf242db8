// Package signal is the websocket transport adapter: it owns connection
// lifecycle and framing, and hands decoded events to the core relay.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wandao/meeting-signal/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Relay      *core.Relay
	Registry   *core.Registry
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(relay *core.Relay, reg *core.Registry, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		Relay:      relay,
		Registry:   reg,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
	}
}

// wsConn implements core.SignalConnection over one gorilla websocket.
// Sends go through a buffered channel; a full buffer means the client is
// not draining and the frame is dropped rather than blocking the relay.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until it drops.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	connID := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("host", c.Request.Host).Msg("connection accepted")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	ctl.Registry.Bind(connID, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, connID, conn)
	}()
}
