package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// ErrSlowConsumer is returned by Deliver when a client's outbound buffer is
// full. The message is dropped for that client only.
var ErrSlowConsumer = errors.New("outbound buffer full")

var errClientClosed = errors.New("client closed")

// client owns one websocket connection. All outbound traffic (fan-out
// deliveries, error notices, pings, the final close frame) goes through
// writePump, keeping a single write in flight per connection.
type client struct {
	logger *zap.Logger
	conn   *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(logger *zap.Logger, conn *websocket.Conn) *client {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &client{
		logger: logger,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// ReadText blocks for the next inbound text frame.
func (c *client) ReadText() ([]byte, error) {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		if messageType != websocket.TextMessage {
			continue
		}

		return payload, nil
	}
}

// Deliver enqueues a fan-out payload without blocking.
func (c *client) Deliver(payload []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return ErrSlowConsumer
	}
}

func (c *client) WriteNotice(text string) error {
	return c.Deliver([]byte(text))
}

// Close asks writePump to flush what it can, send a close frame and tear the
// connection down. Safe to call more than once.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	return nil
}

// writePump drains the send buffer to the connection and keeps the peer
// alive with pings. It is the only goroutine writing to conn.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write failed", zap.Error(err))

				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

			return
		}
	}
}

func (c *client) flush() {
	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}
