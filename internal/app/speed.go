package app

import (
	"sync"
	"time"
)

type mark struct {
	at    time.Time
	bytes int64
}

// speedMeter tracks the transfer rate of each item from the first byte count
// it sees for it. Safe for concurrent use.
type speedMeter struct {
	now func() time.Time

	mu    sync.Mutex
	marks map[string]mark
}

func newSpeedMeter() *speedMeter {
	return &speedMeter{now: time.Now, marks: make(map[string]mark)}
}

// reset starts measuring item again from bytes
func (m *speedMeter) reset(item string, bytes int64) {
	m.mu.Lock()
	m.marks[item] = mark{at: m.now(), bytes: bytes}
	m.mu.Unlock()
}

// observe returns the bytes per second moved for item so far
func (m *speedMeter) observe(item string, bytes int64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	start, ok := m.marks[item]
	if !ok {
		m.marks[item] = mark{at: now, bytes: bytes}
		return 0
	}
	elapsed := now.Sub(start.at).Seconds()
	if elapsed <= 0 || bytes <= start.bytes {
		return 0
	}
	return float64(bytes-start.bytes) / elapsed
}
