package clock

import (
	"sync"
	"time"
)

// Clock provides the current time so tests can control heartbeats and stall thresholds.
type Clock interface {
	Now() time.Time
}

// Real implements Clock using system time.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed implements Clock with a manually advanced time.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t.UTC()}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set updates the fixed time.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.t = t.UTC()
	f.mu.Unlock()
}

// Add moves the fixed time forward by d.
func (f *Fixed) Add(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}
