package negotiation

// State is the coordinator's position in the call lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingLocalMedia
	StateOffering
	StateAnswering
	StateConnected
	StateRenegotiating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingLocalMedia:
		return "awaiting-local-media"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateRenegotiating:
		return "renegotiating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role records which side started the call. The callee is the polite peer
// during offer collisions.
type Role int

const (
	RoleNone Role = iota
	RoleCaller
	RoleCallee
)
