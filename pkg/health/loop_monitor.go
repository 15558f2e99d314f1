// Package health provides liveness helpers for background loops.
package health

import (
	"sync/atomic"
	"time"
)

const defaultMaxAge = 10 * time.Second

// LoopMonitor tracks whether a background loop is still ticking.
// Zero value is usable; Healthy reports false until the first Tick.
type LoopMonitor struct {
	maxAge   time.Duration
	lastTick atomic.Int64 // unix nanos
	lastErr  atomic.Value // string
}

// NewLoopMonitor creates a monitor that considers the loop stale
// after maxAge without a tick. maxAge <= 0 falls back to 10s.
func NewLoopMonitor(maxAge time.Duration) *LoopMonitor {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &LoopMonitor{maxAge: maxAge}
}

func (m *LoopMonitor) Tick() {
	m.lastTick.Store(time.Now().UnixNano())
}

func (m *LoopMonitor) SetError(err error) {
	if err == nil {
		return
	}
	m.lastErr.Store(err.Error())
}

func (m *LoopMonitor) LastError() string {
	if v := m.lastErr.Load(); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Healthy returns whether the loop has ticked recently.
func (m *LoopMonitor) Healthy(now time.Time) (ok bool, age time.Duration, lastErr string) {
	lastErr = m.LastError()
	last := m.lastTick.Load()
	if last <= 0 {
		return false, 0, lastErr
	}
	t := time.Unix(0, last)
	if now.Before(t) {
		return true, 0, lastErr
	}
	age = now.Sub(t)
	maxAge := m.maxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return age <= maxAge, age, lastErr
}
