package relay

import (
	"fmt"
	"net"
	"time"

	"github.com/BioHazard786/warproom/internal/metrics"
	"github.com/BioHazard786/warproom/internal/protocol"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

func errNotAccepted(t protocol.Type) error {
	return fmt.Errorf("%w: %q is not accepted from clients", protocol.ErrUnknownType, t)
}

// wsConn is the subset of *websocket.Conn used by the pumps.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

var _ wsConn = (*websocket.Conn)(nil)

// Conn is one client's WebSocket session.
type Conn struct {
	// ID is the opaque address peers use in "to" fields.
	ID string

	hub     *Hub
	ws      wsConn
	send    chan []byte
	limiter *rate.Limiter
}

func (c *Conn) remoteAddr() string {
	if c.ws == nil {
		return ""
	}
	return c.ws.RemoteAddr().String()
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Conn) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.opts.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", "conn", c.ID, "err", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.hub.metrics.Inc(metrics.RelayRateLimited)
			c.hub.logger.Debug("rate limited", "conn", c.ID)
			continue
		}

		if !c.hub.Deliver(c, data) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write failed", "conn", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
