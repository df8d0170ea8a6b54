package rooms

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Capacity is the maximum number of peers a room can hold.
const Capacity = 2

// CodeLength is the number of characters in a room code.
const CodeLength = 6

var (
	ErrNotFound      = errors.New("room not found")
	ErrFull          = errors.New("room is full")
	ErrAlreadyExists = errors.New("room already exists")
	ErrInvalidCode   = errors.New("invalid room code")
)

// Room represents a rendezvous point where at most two peers meet.
type Room struct {
	// Code is the normalized (upper-case) room code.
	Code string

	// Members holds connection IDs in join order.
	Members []string

	// reserved is the connection that created the room but has not joined yet.
	reserved string
}

// occupancy counts members plus an outstanding creator reservation.
func (r *Room) occupancy() int {
	n := len(r.Members)
	if r.reserved != "" {
		n++
	}
	return n
}

func (r *Room) hasMember(id string) bool {
	for _, m := range r.Members {
		if m == id {
			return true
		}
	}
	return false
}

func (r *Room) removeMember(id string) bool {
	removed := false
	if r.reserved == id {
		r.reserved = ""
		removed = true
	}
	for i, m := range r.Members {
		if m == id {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return removed
}

func (r *Room) empty() bool {
	return len(r.Members) == 0 && r.reserved == ""
}

// NormalizeCode trims and upper-cases a room code and checks that it is
// CodeLength alphanumeric characters.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return "", ErrInvalidCode
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", ErrInvalidCode
		}
	}
	return code, nil
}

// GenerateCode returns a random room code taken from a UUID prefix.
// Uniqueness is not guaranteed; callers retry on ErrAlreadyExists.
func GenerateCode() string {
	return strings.ToUpper(uuid.NewString()[:CodeLength])
}
