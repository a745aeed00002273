package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/colabd/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Must exceed the
	// workspace_snapshot character bound plus envelope overhead.
	maxMessageSize = 4 << 20

	// Outbound queue depth per connection. Frames beyond this are
	// dropped rather than blocking a workspace's writer section.
	sendQueueSize = 256
)

// Client is one WebSocket connection. Before a successful auth frame it
// has no identity; afterwards userID/workspaceID pin it to a member slot.
type Client struct {
	id         string
	conn       *websocket.Conn
	dispatcher *Dispatcher

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	closeMu     sync.Mutex
	closeCode   int
	closeReason string

	// Set under the workspace lock during auth.
	authenticated atomic.Bool
	userID        string
	workspaceID   string

	// skipCleanup marks a connection superseded by a reconnect: its
	// close handler must neither release locks nor remove the member.
	skipCleanup atomic.Bool
}

// newClient wraps an upgraded connection.
func newClient(conn *websocket.Conn, dispatcher *Dispatcher) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		dispatcher: dispatcher,
		send:       make(chan []byte, sendQueueSize),
		closed:     make(chan struct{}),
	}
}

// Enqueue queues an encoded frame for delivery. A full queue drops the
// frame; fan-out must never block on a slow peer.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		logger.Warn("Client %s send queue full, dropping frame", c.id)
		return false
	}
}

// CloseWithCode requests an application-level close. The write pump
// delivers the close frame; subsequent calls are no-ops.
func (c *Client) CloseWithCode(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.closeMu.Unlock()
		close(c.closed)
	})
}

// sendJSON marshals and queues a frame built as a map or struct.
func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to marshal outbound frame: %v", err)
		return
	}
	c.Enqueue(data)
}

// sendError queues an error frame with a human-readable message.
func (c *Client) sendError(message string) {
	c.sendJSON(map[string]any{"type": "error", "message": message})
}

// readPump pumps frames from the socket into the dispatcher. It runs the
// disconnect handler on exit.
func (c *Client) readPump() {
	defer func() {
		c.dispatcher.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Debug("Client %s read error: %v", c.id, err)
			}
			return
		}
		c.dispatcher.Handle(c, message)
	}
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("Client %s write error: %v", c.id, err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			// Drain anything queued before the close frame so replies
			// ordered ahead of the close are not lost.
			for {
				select {
				case data := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			c.closeMu.Lock()
			code, reason := c.closeCode, c.closeReason
			c.closeMu.Unlock()
			if code == 0 {
				code = websocket.CloseNormalClosure
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
			return
		}
	}
}
