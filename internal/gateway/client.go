package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendQueueSize  = 256
)

// wsConn is the subset of *websocket.Conn the client uses, split out so
// tests can drive a client without a live socket.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// client is one connected socket. Outbound frames go through a buffered
// queue drained by writePump; Send never blocks the room tick.
type client struct {
	conn   wsConn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newClient(conn wsConn, logger *slog.Logger) *client {
	return &client{
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send enqueues a frame. It reports false once the socket is closing or the
// queue is full; a client that cannot drain its queue is dropped rather
// than allowed to stall the broadcaster.
func (c *client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("send queue full, dropping client")
		c.shutdown()
		return false
	}
}

// SendJSON marshals an envelope and enqueues it.
func (c *client) SendJSON(msgType string, payload interface{}) bool {
	frame, err := json.Marshal(map[string]interface{}{
		"type":    msgType,
		"payload": payload,
	})
	if err != nil {
		c.logger.Error("frame encode failed", "type", msgType, "error", err)
		return false
	}
	return c.Send(frame)
}

// CloseWithCode starts a close handshake with the given status code and
// tears the client down.
func (c *client) CloseWithCode(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
	c.shutdown()
}

func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump delivers inbound messages to handle until the socket dies. It
// owns the read side: deadlines, size limit, pong bookkeeping.
func (c *client) readPump(handle func(raw []byte)) {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("socket read error", "error", err)
			}
			return
		}
		handle(raw)
	}
}

// writePump drains the send queue and keeps the connection alive with
// periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
