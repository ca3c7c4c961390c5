package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/core"
)

const writeWait = 5 * time.Second

// writePump owns all writes on the socket. Canceling ctx closes the socket,
// which also ends the read pump.
func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var tick <-chan time.Time
	if ctl.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
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

// readPump hands every text frame to the relay and reports the disconnect
// exactly once when the socket goes away.
func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Relay.Disconnect(sid)
		c.Close()
	}()

	if ctl.PingPeriod > 0 {
		pongWait := ctl.PingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
		}
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		ctl.Relay.Frame(sid, data)
	}
}
