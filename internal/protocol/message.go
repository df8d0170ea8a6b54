package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the event tag carried in every signaling envelope.
type Type string

// Client to server.
const (
	TypeCreateRoom          Type = "create-room"
	TypeJoinRoom            Type = "join-room"
	TypeRenegotiationAnswer Type = "renegotiation-answer"
	TypeLeaveRoom           Type = "leave-room"
)

// Server to client.
const (
	TypeRoomCreated        Type = "room-created"
	TypeRoomError          Type = "room-error"
	TypeAck                Type = "ack"
	TypeUserJoined         Type = "user-joined"
	TypeIncomingCall       Type = "incoming-call"
	TypeRenegotiationFinal Type = "renegotiation-final"
	TypeError              Type = "error"
)

// Both directions.
const (
	TypeCall               Type = "call"
	TypeCallAccepted       Type = "call-accepted"
	TypeRenegotiationOffer Type = "renegotiation-offer"
	TypeNetworkCandidate   Type = "network-candidate"
)

var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrMalformed      = errors.New("malformed message")
	ErrMissingPayload = errors.New("missing payload")
)

// Message is the JSON envelope exchanged over the signaling WebSocket.
type Message struct {
	Type    Type            `json:"type"`
	Ack     uint64          `json:"ack,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Payload is implemented by every message body.
type Payload interface {
	MessageType() Type
	validate() error
}

// New wraps p in an envelope. ack is zero unless the message takes part in
// request/acknowledgement correlation.
func New(p Payload, ack uint64) (*Message, error) {
	if p == nil {
		return nil, ErrMissingPayload
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.MessageType(), err)
	}
	return &Message{Type: p.MessageType(), Ack: ack, Payload: raw}, nil
}

// Encode serializes p into a complete envelope.
func Encode(p Payload, ack uint64) ([]byte, error) {
	msg, err := New(p, ack)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Parse decodes an envelope and its payload.
func Parse(data []byte) (*Message, Payload, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p, err := msg.Decode()
	if err != nil {
		return &msg, nil, err
	}
	return &msg, p, nil
}

// Decode parses the payload according to the envelope type and validates it.
func (m *Message) Decode() (Payload, error) {
	p, err := newPayload(m.Type)
	if err != nil {
		return nil, err
	}
	if len(m.Payload) > 0 && string(m.Payload) != "null" {
		if err := json.Unmarshal(m.Payload, p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, m.Type, err)
		}
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, m.Type, err)
	}
	return p, nil
}

func newPayload(t Type) (Payload, error) {
	switch t {
	case TypeCreateRoom:
		return &CreateRoom{}, nil
	case TypeJoinRoom:
		return &JoinRoom{}, nil
	case TypeRoomCreated:
		return &RoomCreated{}, nil
	case TypeRoomError:
		return &RoomError{}, nil
	case TypeAck:
		return &Ack{}, nil
	case TypeUserJoined:
		return &UserJoined{}, nil
	case TypeCall:
		return &Call{}, nil
	case TypeIncomingCall:
		return &IncomingCall{}, nil
	case TypeCallAccepted:
		return &CallAccepted{}, nil
	case TypeRenegotiationOffer:
		return &RenegotiationOffer{}, nil
	case TypeRenegotiationAnswer:
		return &RenegotiationAnswer{}, nil
	case TypeRenegotiationFinal:
		return &RenegotiationFinal{}, nil
	case TypeNetworkCandidate:
		return &NetworkCandidate{}, nil
	case TypeLeaveRoom:
		return &LeaveRoom{}, nil
	case TypeError:
		return &Error{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}
