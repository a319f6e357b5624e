package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// MessageHandler handles one inbound client frame.
type MessageHandler func(ctx context.Context, c *Client, msg ClientMessage)

// Client is a websocket connection registered with a Hub.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn

	send    chan []byte
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// NewClient wraps an upgraded websocket connection.
func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Dropped returns the number of events dropped because the send queue was full.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Send queues ev for delivery without blocking.
func (c *Client) Send(ev Event) bool {
	data, err := Marshal(ev)
	if err != nil {
		slog.Error("failed to encode event", "conn", c.id, "type", ev.EventType(), "error", err)
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.dropped.Add(1)
		return false
	}
}

// Close stops both pumps.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Run pumps messages until the connection fails, ctx is cancelled or Close
// is called. Inbound frames are passed to handle in order.
func (c *Client) Run(ctx context.Context, handle MessageHandler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(ctx)
	}()

	c.readPump(ctx, handle)
	c.Close()
	wg.Wait()
	c.conn.Close()
}

func (c *Client) readPump(ctx context.Context, handle MessageHandler) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Unblock ReadMessage when the writer fails or the server shuts down.
	go func() {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
		c.conn.SetReadDeadline(time.Now())
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read ended", "conn", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := ParseClientMessage(data)
		if err != nil {
			c.Send(ErrorEvent{Message: err.Error()})
			continue
		}
		handle(ctx, c, msg)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("websocket write failed", "conn", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.closeFrame("connection closed")
			return
		case <-ctx.Done():
			c.closeFrame("server shutting down")
			return
		}
	}
}

func (c *Client) closeFrame(reason string) {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
		time.Now().Add(writeWait))
}
