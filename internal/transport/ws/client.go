package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"klinerelay/internal/logger"
	"klinerelay/internal/session"

	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 4096
	commandTimeout = 5 * time.Second
)

// Client is one downstream websocket connection and its session.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	session *session.Session

	closeOnce sync.Once
}

func (c *Client) ID() string { return c.id }

// Notify implements session.Sink.
func (c *Client) Notify(n session.Notification) {
	payload, err := encodeNotification(n)
	if err != nil {
		logger.Warnf("ws client %s encode %s failed: %v", c.id, n.Event, err)
		return
	}
	c.enqueue(payload)
}

// enqueue never blocks: when the send buffer is full the frame is dropped.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.hub.dropped.Add(1)
		logger.Warnf("ws client %s send buffer full, dropping frame", c.id)
		return false
	}
}

func (c *Client) readPump() {
	defer c.hub.HandleDisconnect(c.id)

	c.conn.SetReadLimit(maxMessageSize)
	pongWait := c.hub.cfg.pongWait()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debugf("ws client %s read error: %v", c.id, err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.enqueue(encodeError("invalid message format"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch msg.Event {
	case EventSubscribe:
		err = c.hub.HandleSubscribe(ctx, c.id, msg.Symbol, msg.Interval)
	case EventUnsubscribe:
		err = c.hub.HandleUnsubscribe(ctx, c.id)
	default:
		c.enqueue(encodeError("unknown event: " + msg.Event))
		return
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		c.enqueue(encodeError("request timed out"))
	default:
		// validation failures were already pushed to the client by the session
		logger.Debugf("ws client %s %s: %v", c.id, msg.Event, err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	writeWait := c.hub.cfg.WriteTimeout

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debugf("ws client %s write failed: %v", c.id, err)
				c.hub.HandleDisconnect(c.id)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.hub.HandleDisconnect(c.id)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.session.Close()
		close(c.done)
	})
}
