package handlers

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	ws "github.com/user/papertrade/backend/internal/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxInbound = 512
)

// TradeTape streams committed trades to the connection. The tape is public:
// entries carry no account or balance.
func TradeTape(hub *ws.Hub, log *zap.Logger) func(*websocket.Conn) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")
	return func(c *websocket.Conn) {
		client := ws.NewClient(c.RemoteAddr().String())
		hub.Join(client)
		log.Debug("tape connection established", zap.String("addr", client.Addr))

		done := make(chan struct{})
		go writePump(c, client, done, log)
		readPump(c, log)

		// The handler must not return while the write pump still owns the conn.
		hub.Leave(client)
		<-done
	}
}

// writePump forwards hub messages and keeps the connection alive with pings.
func writePump(c *websocket.Conn, client *ws.Client, done chan<- struct{}, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("write failed", zap.String("addr", client.Addr), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and returns once the peer goes away.
func readPump(c *websocket.Conn, log *zap.Logger) {
	c.SetReadLimit(maxInbound)
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("client disconnected unexpectedly", zap.String("addr", c.RemoteAddr().String()), zap.Error(err))
			}
			return
		}
	}
}
