// Package hub implements the WebSocket multiplexer that terminates chat
// UI, node host, and CLI connections, per spec §4.H. Grounded on the
// teacher's internal/ws package: the Client's ReadPump/WritePump pair
// over a buffered output channel is lifted directly from
// apps/sandbox/internal/ws/client.go and generalized from raw PTY bytes
// to typed wire.Envelope frames.
package hub

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdbot/gateway/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	outputBuffer   = 256
)

// Role classifies what kind of peer a connection is, per spec §4.H's
// "Accept connections by role (chat-ui, node, cli)".
type Role string

const (
	RoleChatUI Role = "chat-ui"
	RoleNode   Role = "node"
	RoleCLI    Role = "cli"
)

// Client is one connected WebSocket peer.
type Client struct {
	conn       *websocket.Conn
	hub        *Hub
	role       Role
	nodeID     string // set only when role == RoleNode
	clientName string
	instanceID string

	output chan *wire.Envelope

	mu  sync.Mutex
	seq int64
}

func newClient(conn *websocket.Conn, h *Hub, role Role, nodeID, clientName, instanceID string) *Client {
	return &Client{
		conn:       conn,
		hub:        h,
		role:       role,
		nodeID:     nodeID,
		clientName: clientName,
		instanceID: instanceID,
		output:     make(chan *wire.Envelope, outputBuffer),
	}
}

// nextSeq returns the next monotonic seq for this client's event stream,
// per spec §4.H ("Every outbound event has a monotonic seq").
func (c *Client) nextSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// currentSeq reports the last seq handed out, without advancing it.
func (c *Client) currentSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// streamID identifies this client's event stream for durable logging,
// preferring the hello frame's instanceId (stable across reconnects)
// and falling back to clientName for peers that never set one.
func (c *Client) streamID() string {
	if c.instanceID != "" {
		return c.instanceID
	}
	return c.clientName
}

func (c *Client) enqueue(e *wire.Envelope) {
	select {
	case c.output <- e:
	default:
		log.Printf("hub: dropping frame for slow client %s (role=%s)", c.clientName, c.role)
	}
}

// ReadPump reads and dispatches frames from the client until the socket
// closes or errors.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("hub: websocket error: %v", err)
			}
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			log.Printf("hub: invalid frame from %s: %v", c.clientName, err)
			continue
		}
		c.hub.handleFrame(c, env)
	}
}

// WritePump writes queued frames and periodic pings to the client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.output:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := env.Encode()
			if err != nil {
				log.Printf("hub: encode error: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
