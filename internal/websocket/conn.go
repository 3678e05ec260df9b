package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// conn is one dialed socket. Its pumps report back to the manager tagged
// with gen, so a superseded conn can never feed the loop.
type conn struct {
	ws   *websocket.Conn
	gen  uint64
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn, gen uint64, buffer int) *conn {
	return &conn{
		ws:   ws,
		gen:  gen,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// close stops both pumps. The write pump sends a close frame on its way out.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// readPump delivers every inbound text frame to onFrame until the socket
// fails, then calls onClose exactly once.
func (c *conn) readPump(pongWait time.Duration, onFrame func([]byte), onClose func(error)) {
	defer func() {
		c.close()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("socket read failed", "conn_generation", c.gen, "error", err)
			}
			onClose(err)
			return
		}
		onFrame(message)
	}
}

// writePump drains the send queue and keeps the socket alive with pings.
func (c *conn) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("socket write failed", "conn_generation", c.gen, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
