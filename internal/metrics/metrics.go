package metrics

import (
	"maps"
	"sync"
)

// Relay event names.
const (
	ConnectionsOpened        = "connections_opened"
	ConnectionsClosed        = "connections_closed"
	RoomsCreated             = "rooms_created"
	RoomsJoined              = "rooms_joined"
	RoomJoinsRejected        = "room_joins_rejected"
	MessagesForwarded        = "messages_forwarded"
	RelayRejected            = "relay_rejected"
	RelayRateLimited         = "relay_rate_limited"
	RelayDroppedUnreachable  = "relay_dropped_unreachable"
	RelayDroppedBackpressure = "relay_dropped_backpressure"
)

// Metrics is a concurrency-safe counter registry. The zero value is ready to use.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.m)
}
