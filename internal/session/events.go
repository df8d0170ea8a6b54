package session

import (
	"github.com/BioHazard786/warproom/internal/negotiation"
	"github.com/BioHazard786/warproom/internal/transfer"
)

// Event is something the user should see. Each concrete type doubles as a
// bubbletea message.
type Event interface {
	event()
}

// StatusEvent is a short human readable status line.
type StatusEvent struct{ Text string }

// PeerJoinedEvent reports the other member entering the room.
type PeerJoinedEvent struct{ ID string }

// StateEvent reports a negotiation state change.
type StateEvent struct{ State negotiation.State }

// ReadyEvent fires once the chat data channel is open.
type ReadyEvent struct{}

// ChatEvent carries a chat message received from the peer.
type ChatEvent struct{ Text string }

// FileStartEvent announces a transfer in either direction.
type FileStartEvent struct {
	Meta     transfer.FileMeta
	Outbound bool
}

// ProgressEvent is emitted per chunk and may be dropped when the consumer
// falls behind.
type ProgressEvent struct {
	Progress transfer.Progress
	Outbound bool
}

// FileDoneEvent reports a finished transfer. Path is where an inbound file
// was saved.
type FileDoneEvent struct {
	Meta     transfer.FileMeta
	Path     string
	Outbound bool
}

// TrackEvent reports a remote media track.
type TrackEvent struct{ Kind string }

type ErrorEvent struct{ Err error }

// PeerLeftEvent fires when the data channel closes from the remote side.
type PeerLeftEvent struct{}

func (StatusEvent) event()     {}
func (PeerJoinedEvent) event() {}
func (StateEvent) event()      {}
func (ReadyEvent) event()      {}
func (ChatEvent) event()       {}
func (FileStartEvent) event()  {}
func (ProgressEvent) event()   {}
func (FileDoneEvent) event()   {}
func (TrackEvent) event()      {}
func (ErrorEvent) event()      {}
func (PeerLeftEvent) event()   {}
