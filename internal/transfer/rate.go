package transfer

import (
	"sync"
	"time"
)

const sampleInterval = 500 * time.Millisecond

// RateMeter estimates throughput in bytes per second, smoothed with an
// exponential moving average.
type RateMeter struct {
	mu         sync.Mutex
	pending    int64
	lastSample time.Time
	speed      float64
	now        func() time.Time
}

// NewRateMeter creates a meter whose first sample window starts now.
func NewRateMeter() *RateMeter {
	return &RateMeter{now: time.Now, lastSample: time.Now()}
}

// Record adds n transferred bytes and returns the current estimate.
func (m *RateMeter) Record(n int64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending += n
	elapsed := m.now().Sub(m.lastSample)
	if elapsed < sampleInterval {
		return m.speed
	}

	current := float64(m.pending) / elapsed.Seconds()
	if m.speed > 0 {
		m.speed = m.speed*0.7 + current*0.3
	} else {
		m.speed = current
	}
	m.pending = 0
	m.lastSample = m.now()
	return m.speed
}

// Speed returns the last estimate in bytes per second.
func (m *RateMeter) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}
