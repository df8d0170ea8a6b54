package signaling

import (
	"log/slog"

	"github.com/BioHazard786/warproom/internal/protocol"
)

// Handler routes incoming signaling messages to typed channels.
//
// Negotiation messages (incoming-call, call-accepted, renegotiation-offer,
// renegotiation-final, network-candidate) share the single Signal channel so
// their relative order is preserved for the coordinator.
type Handler struct {
	client *Client
	logger *slog.Logger

	RoomCreated chan *protocol.RoomCreated
	RoomError   chan *protocol.RoomError
	UserJoined  chan *protocol.UserJoined
	Signal      chan protocol.Payload
	Error       chan *protocol.Error

	done chan struct{}
}

// NewHandler creates a new message handler.
func NewHandler(client *Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client:      client,
		logger:      logger.With("component", "signaling"),
		RoomCreated: make(chan *protocol.RoomCreated, 1),
		RoomError:   make(chan *protocol.RoomError, 1),
		UserJoined:  make(chan *protocol.UserJoined, 4),
		Signal:      make(chan protocol.Payload, 64),
		Error:       make(chan *protocol.Error, 4),
		done:        make(chan struct{}),
	}
}

// Start begins listening to incoming messages and routing them. It returns
// when the client's connection ends.
func (h *Handler) Start() {
	defer close(h.done)

	for msg := range h.client.Incoming() {
		payload, err := msg.Decode()
		if err != nil {
			h.logger.Warn("dropping invalid signaling message", "type", msg.Type, "err", err)
			continue
		}

		switch p := payload.(type) {
		case *protocol.RoomCreated:
			offer(h, h.RoomCreated, p)

		case *protocol.RoomError:
			offer(h, h.RoomError, p)

		case *protocol.UserJoined:
			offer(h, h.UserJoined, p)

		case *protocol.IncomingCall, *protocol.CallAccepted, *protocol.RenegotiationOffer,
			*protocol.RenegotiationFinal, *protocol.NetworkCandidate:
			// Blocking keeps ordering; the session drains Signal continuously.
			select {
			case h.Signal <- p:
			case <-h.client.Done():
				return
			}

		case *protocol.Error:
			offer(h, h.Error, p)

		default:
			h.logger.Debug("ignoring unexpected message", "type", msg.Type)
		}
	}
}

// offer delivers without blocking; a full channel means nobody is waiting
// for that event type.
func offer[T protocol.Payload](h *Handler, ch chan T, v T) {
	select {
	case ch <- v:
	default:
		h.logger.Warn("dropping signaling event, receiver not ready", "type", v.MessageType())
	}
}

// Done is closed once Start has returned.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
