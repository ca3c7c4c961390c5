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

	"github.com/dkeye/VoiceMesh/internal/app"
	"github.com/dkeye/VoiceMesh/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalWSController upgrades relay clients and pumps their frames into the
// relay event loop.
type SignalWSController struct {
	Relay *app.Relay

	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func NewSignalWSController(relay *app.Relay) *SignalWSController {
	return &SignalWSController{
		Relay:      relay,
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
		SendBuffer: 32,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
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

// HandleSignal serves one relay connection until it drops. Each upgrade
// gets a fresh session id; the client token cookie only correlates logs.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	token := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client_token", token).Msg("new WS connection")

	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}
	buf := ctl.SendBuffer
	if buf <= 0 {
		buf = 32
	}
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buf),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Relay.Connect(sid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
