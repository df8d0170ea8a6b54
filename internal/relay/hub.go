package relay

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/BioHazard786/warproom/internal/metrics"
	"github.com/BioHazard786/warproom/internal/protocol"
	"github.com/BioHazard786/warproom/internal/rooms"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// maxCodeAttempts bounds server-side room code generation on collisions.
const maxCodeAttempts = 8

// Options configures a Hub.
type Options struct {
	Registry *rooms.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// SendQueueSize is the per-connection outbound buffer. A full buffer
	// drops further messages for that connection.
	SendQueueSize int

	// MessagesPerSecond and MessageBurst configure the per-connection
	// inbound rate limit. Zero disables limiting.
	MessagesPerSecond float64
	MessageBurst      int

	// MaxMessageBytes is the WebSocket read limit.
	MaxMessageBytes int64
}

type inbound struct {
	conn *Conn
	data []byte
}

// Hub is the central loop of the signaling relay. A single goroutine
// (Run) owns the connection table and handles every inbound message, so
// forwarding decisions never race with connects and disconnects.
type Hub struct {
	opts     Options
	registry *rooms.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	conns map[string]*Conn

	register   chan *Conn
	unregister chan *Conn
	inbound    chan inbound
	done       chan struct{}
}

// NewHub creates a Hub. Nil dependencies are replaced with fresh defaults.
func NewHub(opts Options) *Hub {
	if opts.Registry == nil {
		opts.Registry = rooms.NewRegistry(rooms.Options{})
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 256
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 * 1024
	}

	return &Hub{
		opts:       opts,
		registry:   opts.Registry,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		conns:      make(map[string]*Conn),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
	}
}

// Registry returns the room registry the hub operates on.
func (h *Hub) Registry() *rooms.Registry { return h.registry }

// Metrics returns the hub's counters.
func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// NewConn allocates a connection with a fresh ID. ws may be nil for
// connections driven directly through Register and Deliver.
func (h *Hub) NewConn(ws wsConn) *Conn {
	c := &Conn{
		ID:   uuid.NewString(),
		hub:  h,
		ws:   ws,
		send: make(chan []byte, h.opts.SendQueueSize),
	}
	if h.opts.MessagesPerSecond > 0 {
		burst := h.opts.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), burst)
	}
	return c
}

// Register hands c to the hub. It returns false if the hub has stopped.
func (h *Hub) Register(c *Conn) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c and releases its room memberships.
func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Deliver queues a raw inbound frame from c for handling.
func (h *Hub) Deliver(c *Conn, data []byte) bool {
	select {
	case h.inbound <- inbound{conn: c, data: data}:
		return true
	case <-h.done:
		return false
	}
}

// Run processes hub events until ctx is cancelled. On exit every live
// connection's send queue is closed so its write pump shuts down.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		for id, c := range h.conns {
			close(c.send)
			delete(h.conns, id)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub stopping", "connections", len(h.conns))
			return nil

		case c := <-h.register:
			h.conns[c.ID] = c
			h.metrics.Inc(metrics.ConnectionsOpened)
			h.logger.Debug("connection registered", "conn", c.ID, "remote", c.remoteAddr())

		case c := <-h.unregister:
			if _, ok := h.conns[c.ID]; !ok {
				continue
			}
			delete(h.conns, c.ID)
			left := h.registry.Leave(c.ID)
			close(c.send)
			h.metrics.Inc(metrics.ConnectionsClosed)
			h.logger.Debug("connection unregistered", "conn", c.ID, "rooms_left", left)

		case in := <-h.inbound:
			if _, ok := h.conns[in.conn.ID]; !ok {
				continue
			}
			h.handle(in.conn, in.data)
		}
	}
}

func (h *Hub) handle(c *Conn, data []byte) {
	msg, payload, err := protocol.Parse(data)
	if err != nil {
		h.reject(c, err)
		return
	}

	if f, ok := payload.(protocol.Forwarded); ok && f.Target() == "" {
		h.reject(c, protocol.ErrMissingTarget)
		return
	}

	switch p := payload.(type) {
	case *protocol.CreateRoom:
		h.createRoom(c, p)

	case *protocol.JoinRoom:
		h.joinRoom(c, msg.Ack, p)

	case *protocol.Call:
		h.forward(c, p.To, &protocol.IncomingCall{From: c.ID, Offer: p.Offer})

	case *protocol.CallAccepted:
		h.forward(c, p.To, &protocol.CallAccepted{From: c.ID, Answer: p.Answer})

	case *protocol.RenegotiationOffer:
		h.forward(c, p.To, &protocol.RenegotiationOffer{From: c.ID, Offer: p.Offer})

	case *protocol.RenegotiationAnswer:
		h.forward(c, p.To, &protocol.RenegotiationFinal{From: c.ID, Answer: p.Answer})

	case *protocol.NetworkCandidate:
		h.forward(c, p.To, &protocol.NetworkCandidate{From: c.ID, Candidate: p.Candidate})

	case *protocol.LeaveRoom:
		left := h.registry.Leave(c.ID)
		h.logger.Debug("left rooms", "conn", c.ID, "rooms", left)

	default:
		h.reject(c, errNotAccepted(msg.Type))
	}
}

func (h *Hub) createRoom(c *Conn, p *protocol.CreateRoom) {
	var (
		code string
		err  error
	)
	if p.RoomCode == "" {
		for range maxCodeAttempts {
			code, err = h.registry.Create(rooms.GenerateCode(), c.ID)
			if !errors.Is(err, rooms.ErrAlreadyExists) {
				break
			}
		}
	} else {
		code, err = h.registry.Create(p.RoomCode, c.ID)
	}

	if err != nil {
		h.logger.Info("room create failed", "conn", c.ID, "code", p.RoomCode, "err", err)
		h.send(c, &protocol.RoomError{Message: roomErrorMessage(err)}, 0)
		return
	}

	h.metrics.Inc(metrics.RoomsCreated)
	h.logger.Info("room created", "code", code, "conn", c.ID)
	h.send(c, &protocol.RoomCreated{RoomCode: code}, 0)
}

func (h *Hub) joinRoom(c *Conn, ack uint64, p *protocol.JoinRoom) {
	before, _ := h.registry.Members(p.RoomCode)
	rejoin := slices.Contains(before, c.ID)

	members, err := h.registry.Join(p.RoomCode, c.ID)
	if err != nil {
		h.metrics.Inc(metrics.RoomJoinsRejected)
		h.logger.Info("room join failed", "conn", c.ID, "code", p.RoomCode, "err", err)
		h.send(c, &protocol.Ack{Success: false, Message: roomErrorMessage(err)}, ack)
		return
	}

	h.send(c, &protocol.Ack{Success: true}, ack)
	if rejoin {
		return
	}

	h.metrics.Inc(metrics.RoomsJoined)
	h.logger.Info("room joined", "code", p.RoomCode, "conn", c.ID, "members", len(members))
	for _, id := range members {
		if id == c.ID {
			continue
		}
		h.forward(c, id, &protocol.UserJoined{ID: c.ID})
	}
}

// forward delivers p to the connection named by to. Unknown targets and
// full queues drop the message.
func (h *Hub) forward(from *Conn, to string, p protocol.Payload) {
	target, ok := h.conns[to]
	if !ok {
		h.metrics.Inc(metrics.RelayDroppedUnreachable)
		h.logger.Debug("dropping message for unknown target", "type", p.MessageType(), "from", from.ID, "to", to)
		return
	}
	if h.send(target, p, 0) {
		h.metrics.Inc(metrics.MessagesForwarded)
	}
}

// send never blocks the hub loop.
func (h *Hub) send(c *Conn, p protocol.Payload, ack uint64) bool {
	data, err := protocol.Encode(p, ack)
	if err != nil {
		h.logger.Error("encode failed", "type", p.MessageType(), "err", err)
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		h.metrics.Inc(metrics.RelayDroppedBackpressure)
		h.logger.Warn("send queue full, dropping message", "type", p.MessageType(), "conn", c.ID)
		return false
	}
}

func (h *Hub) reject(c *Conn, err error) {
	h.metrics.Inc(metrics.RelayRejected)
	h.logger.Warn("rejected message", "conn", c.ID, "err", err)
	h.send(c, &protocol.Error{Message: err.Error()}, 0)
}

func roomErrorMessage(err error) string {
	switch {
	case errors.Is(err, rooms.ErrNotFound):
		return "Room not found"
	case errors.Is(err, rooms.ErrFull):
		return "Room is full"
	case errors.Is(err, rooms.ErrAlreadyExists):
		return "Room already exists"
	case errors.Is(err, rooms.ErrInvalidCode):
		return "Invalid room code"
	default:
		return "Internal error"
	}
}
