package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/warproom/internal/dns"
	"github.com/BioHazard786/warproom/internal/protocol"
	"github.com/BioHazard786/warproom/internal/rooms"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var (
	ErrClosed       = errors.New("signaling connection closed")
	ErrJoinRejected = errors.New("join rejected")
)

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	logger    *slog.Logger

	incoming  chan *protocol.Message
	outgoing  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	ackSeq  atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan *protocol.Ack
}

// NewClient creates a new signaling client
func NewClient(serverURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		logger:    logger.With("component", "signaling"),
		incoming:  make(chan *protocol.Message, 64),
		outgoing:  make(chan []byte, 64),
		done:      make(chan struct{}),
		pending:   make(map[uint64]chan *protocol.Ack),
	}
}

// Connect establishes WebSocket connection to the server.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Resolve through dns.Lookup so a broken system resolver falls back to
	// public DNS servers.
	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if net.ParseIP(host) == nil {
			resolved, err := dns.Lookup(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("dns lookup failed: %w", err)
			}
			host = resolved
		}
		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(host, port))
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// readPump reads messages from the WebSocket connection. Acks are matched to
// pending requests here; everything else goes to Incoming.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		c.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("signaling read failed", "err", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping undecodable signaling message", "err", err)
			continue
		}

		if msg.Type == protocol.TypeAck && msg.Ack != 0 {
			c.resolveAck(&msg)
			continue
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("signaling write failed", "err", err)
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
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before Close, so a final leave-room
// still reaches the server.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues p for the server. It satisfies the negotiation Signaler.
func (c *Client) Send(p protocol.Payload) error {
	return c.send(p, 0)
}

func (c *Client) send(p protocol.Payload, ack uint64) error {
	if f, ok := p.(protocol.Forwarded); ok && f.Target() == "" {
		return fmt.Errorf("%s: %w", p.MessageType(), protocol.ErrMissingTarget)
	}
	data, err := protocol.Encode(p, ack)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// JoinRoom sends join-room and waits for the server's acknowledgement.
func (c *Client) JoinRoom(ctx context.Context, code string) error {
	id := c.ackSeq.Add(1)
	ch := make(chan *protocol.Ack, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(&protocol.JoinRoom{RoomCode: code}, id); err != nil {
		return err
	}

	select {
	case ack := <-ch:
		if ack.Success {
			return nil
		}
		return ackError(ack.Message)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// LeaveRoom asks the server to drop this connection from its rooms.
func (c *Client) LeaveRoom() error {
	return c.Send(&protocol.LeaveRoom{})
}

func (c *Client) resolveAck(msg *protocol.Message) {
	p, err := msg.Decode()
	if err != nil {
		c.logger.Warn("invalid ack", "err", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[msg.Ack]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("ack for unknown request", "ack", msg.Ack)
		return
	}
	select {
	case ch <- p.(*protocol.Ack):
	default:
		c.logger.Debug("duplicate ack", "ack", msg.Ack)
	}
}

// Incoming returns the channel for receiving messages. It is closed when
// the connection ends.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Done is closed once Close has been called or the connection dropped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// ackError maps the server's failure text back to the registry's errors.
func ackError(message string) error {
	switch message {
	case "Room not found":
		return fmt.Errorf("%w: %w", ErrJoinRejected, rooms.ErrNotFound)
	case "Room is full":
		return fmt.Errorf("%w: %w", ErrJoinRejected, rooms.ErrFull)
	case "Invalid room code":
		return fmt.Errorf("%w: %w", ErrJoinRejected, rooms.ErrInvalidCode)
	default:
		return fmt.Errorf("%w: %s", ErrJoinRejected, message)
	}
}
