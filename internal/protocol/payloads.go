package protocol

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// CreateRoom asks the relay to open a room. An empty code lets the relay pick one.
type CreateRoom struct {
	RoomCode string `json:"roomCode"`
}

// JoinRoom asks the relay to add the sender to an existing room.
type JoinRoom struct {
	RoomCode string `json:"roomCode"`
}

// RoomCreated confirms a create-room request.
type RoomCreated struct {
	RoomCode string `json:"roomCode"`
}

// RoomError rejects a create-room request.
type RoomError struct {
	Message string `json:"message"`
}

// Ack answers a join-room request. The envelope echoes the request's ack id.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// UserJoined tells an existing member that a peer entered the room.
type UserJoined struct {
	ID string `json:"id"`
}

// Call carries the caller's initial offer to the relay.
type Call struct {
	To    string                    `json:"to"`
	Offer webrtc.SessionDescription `json:"offer"`
}

// IncomingCall is a Call as delivered to the callee.
type IncomingCall struct {
	From  string                    `json:"from"`
	Offer webrtc.SessionDescription `json:"offer"`
}

// CallAccepted carries the callee's answer. Clients set To; the relay
// rewrites it to From on delivery.
type CallAccepted struct {
	To     string                    `json:"to,omitempty"`
	From   string                    `json:"from,omitempty"`
	Answer webrtc.SessionDescription `json:"answer"`
}

// RenegotiationOffer carries a mid-call offer. Clients set To; the relay
// rewrites it to From on delivery.
type RenegotiationOffer struct {
	To    string                    `json:"to,omitempty"`
	From  string                    `json:"from,omitempty"`
	Offer webrtc.SessionDescription `json:"offer"`
}

// RenegotiationAnswer answers a RenegotiationOffer.
type RenegotiationAnswer struct {
	To     string                    `json:"to"`
	Answer webrtc.SessionDescription `json:"answer"`
}

// RenegotiationFinal is a RenegotiationAnswer as delivered to the offerer.
type RenegotiationFinal struct {
	From   string                    `json:"from"`
	Answer webrtc.SessionDescription `json:"answer"`
}

// NetworkCandidate carries one trickled ICE candidate.
type NetworkCandidate struct {
	To        string                   `json:"to,omitempty"`
	From      string                   `json:"from,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
}

// LeaveRoom removes the sender from its rooms without closing the socket.
type LeaveRoom struct{}

// Error reports a rejected or malformed request.
type Error struct {
	Message string `json:"message"`
}

func (*CreateRoom) MessageType() Type          { return TypeCreateRoom }
func (*JoinRoom) MessageType() Type            { return TypeJoinRoom }
func (*RoomCreated) MessageType() Type         { return TypeRoomCreated }
func (*RoomError) MessageType() Type           { return TypeRoomError }
func (*Ack) MessageType() Type                 { return TypeAck }
func (*UserJoined) MessageType() Type          { return TypeUserJoined }
func (*Call) MessageType() Type                { return TypeCall }
func (*IncomingCall) MessageType() Type        { return TypeIncomingCall }
func (*CallAccepted) MessageType() Type        { return TypeCallAccepted }
func (*RenegotiationOffer) MessageType() Type  { return TypeRenegotiationOffer }
func (*RenegotiationAnswer) MessageType() Type { return TypeRenegotiationAnswer }
func (*RenegotiationFinal) MessageType() Type  { return TypeRenegotiationFinal }
func (*NetworkCandidate) MessageType() Type    { return TypeNetworkCandidate }
func (*LeaveRoom) MessageType() Type           { return TypeLeaveRoom }
func (*Error) MessageType() Type               { return TypeError }

var errMissingPeer = errors.New("missing to/from")

// ErrMissingTarget rejects a Forwarded message sent without a To.
var ErrMissingTarget = errors.New("missing target connection id")

// Forwarded is implemented by the messages a client addresses to another
// connection in its room. The target is checked where the message leaves
// the client and again at the relay, not in validate, since the server
// sends some of these types back with From instead.
type Forwarded interface {
	Payload
	Target() string
}

func (p *Call) Target() string                { return p.To }
func (p *CallAccepted) Target() string        { return p.To }
func (p *RenegotiationOffer) Target() string  { return p.To }
func (p *RenegotiationAnswer) Target() string { return p.To }
func (p *NetworkCandidate) Target() string    { return p.To }

func (*CreateRoom) validate() error { return nil }

func (p *JoinRoom) validate() error {
	if p.RoomCode == "" {
		return errors.New("missing roomCode")
	}
	return nil
}

func (p *RoomCreated) validate() error {
	if p.RoomCode == "" {
		return errors.New("missing roomCode")
	}
	return nil
}

func (p *RoomError) validate() error {
	if p.Message == "" {
		return errors.New("missing message")
	}
	return nil
}

func (*Ack) validate() error { return nil }

func (p *UserJoined) validate() error {
	if p.ID == "" {
		return errors.New("missing id")
	}
	return nil
}

func (p *Call) validate() error {
	return checkDescription("offer", p.Offer, webrtc.SDPTypeOffer)
}

func (p *IncomingCall) validate() error {
	if p.From == "" {
		return errMissingPeer
	}
	return checkDescription("offer", p.Offer, webrtc.SDPTypeOffer)
}

func (p *CallAccepted) validate() error {
	if p.To == "" && p.From == "" {
		return errMissingPeer
	}
	return checkDescription("answer", p.Answer, webrtc.SDPTypeAnswer)
}

func (p *RenegotiationOffer) validate() error {
	if p.To == "" && p.From == "" {
		return errMissingPeer
	}
	return checkDescription("offer", p.Offer, webrtc.SDPTypeOffer)
}

func (p *RenegotiationAnswer) validate() error {
	return checkDescription("answer", p.Answer, webrtc.SDPTypeAnswer)
}

func (p *RenegotiationFinal) validate() error {
	if p.From == "" {
		return errMissingPeer
	}
	return checkDescription("answer", p.Answer, webrtc.SDPTypeAnswer)
}

func (p *NetworkCandidate) validate() error {
	if p.To == "" && p.From == "" {
		return errMissingPeer
	}
	if p.Candidate == nil {
		return errors.New("missing candidate")
	}
	return nil
}

func (*LeaveRoom) validate() error { return nil }

func (p *Error) validate() error {
	if p.Message == "" {
		return errors.New("missing message")
	}
	return nil
}

func checkDescription(field string, desc webrtc.SessionDescription, want webrtc.SDPType) error {
	if desc.SDP == "" {
		return fmt.Errorf("%s missing sdp", field)
	}
	if desc.Type != want {
		return fmt.Errorf("%s has sdp type %q", field, desc.Type.String())
	}
	return nil
}
