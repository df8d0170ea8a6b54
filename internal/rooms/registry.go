package rooms

import (
	"slices"
	"sync"
)

// Options configures a Registry.
type Options struct {
	// AutoCreate lets Join create a room for an unused code instead of
	// failing with ErrNotFound.
	AutoCreate bool
}

// Registry is the in-memory set of live rooms. All operations are atomic with
// respect to each other, so concurrent joins can never push a room past
// Capacity and a room never survives with zero occupants.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	members map[string]map[string]struct{} // member ID -> room codes
	opts    Options
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		rooms:   make(map[string]*Room),
		members: make(map[string]map[string]struct{}),
		opts:    opts,
	}
}

// Create registers a new room and reserves a slot for owner's subsequent Join.
func (r *Registry) Create(code, owner string) (string, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[code]; ok {
		return "", ErrAlreadyExists
	}
	r.rooms[code] = &Room{Code: code, reserved: owner}
	r.track(owner, code)
	return code, nil
}

// Join adds member to the room and returns the member list after the join.
// Joining a room the member is already in returns the list unchanged.
func (r *Registry) Join(code, member string) ([]string, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		if !r.opts.AutoCreate {
			return nil, ErrNotFound
		}
		room = &Room{Code: code}
		r.rooms[code] = room
	}

	if room.hasMember(member) {
		return slices.Clone(room.Members), nil
	}

	if room.reserved == member {
		room.reserved = ""
	} else if room.occupancy() >= Capacity {
		return nil, ErrFull
	}

	room.Members = append(room.Members, member)
	r.track(member, code)
	return slices.Clone(room.Members), nil
}

// Leave removes member from every room it occupies. Rooms left empty are
// deleted immediately. It returns the codes of the rooms the member left.
func (r *Registry) Leave(member string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes := r.members[member]
	delete(r.members, member)

	left := make([]string, 0, len(codes))
	for code := range codes {
		room, ok := r.rooms[code]
		if !ok {
			continue
		}
		if room.removeMember(member) {
			left = append(left, code)
		}
		if room.empty() {
			delete(r.rooms, code)
		}
	}
	slices.Sort(left)
	return left
}

// Members returns a copy of the room's member list.
func (r *Registry) Members(code string) ([]string, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(room.Members), nil
}

// Exists reports whether a room with the given code is live.
func (r *Registry) Exists(code string) bool {
	code, err := NormalizeCode(code)
	if err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[code]
	return ok
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// track must be called with r.mu held.
func (r *Registry) track(member, code string) {
	set, ok := r.members[member]
	if !ok {
		set = make(map[string]struct{})
		r.members[member] = set
	}
	set[code] = struct{}{}
}
