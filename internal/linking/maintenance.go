package linking

import "sync/atomic"

// Maintenance is the process-wide maintenance flag. The zero value is off.
type Maintenance struct {
	on atomic.Bool
}

// Enabled reports whether maintenance mode is on
func (m *Maintenance) Enabled() bool {
	return m.on.Load()
}

// Set forces the flag to the given state
func (m *Maintenance) Set(enabled bool) {
	m.on.Store(enabled)
}

// Toggle flips the flag and returns the new state
func (m *Maintenance) Toggle() bool {
	for {
		old := m.on.Load()
		if m.on.CompareAndSwap(old, !old) {
			return !old
		}
	}
}
