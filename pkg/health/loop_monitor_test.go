package health

import (
	"errors"
	"testing"
	"time"
)

func TestLoopMonitorNeverTicked(t *testing.T) {
	m := NewLoopMonitor(0)
	ok, age, _ := m.Healthy(time.Now())
	if ok {
		t.Fatal("monitor without ticks should be unhealthy")
	}
	if age != 0 {
		t.Fatalf("expected zero age, got %v", age)
	}
}

func TestLoopMonitorRecentTick(t *testing.T) {
	m := NewLoopMonitor(5 * time.Second)
	m.Tick()
	ok, _, _ := m.Healthy(time.Now())
	if !ok {
		t.Fatal("fresh tick should be healthy")
	}
}

func TestLoopMonitorStale(t *testing.T) {
	m := NewLoopMonitor(time.Second)
	m.Tick()
	ok, age, _ := m.Healthy(time.Now().Add(3 * time.Second))
	if ok {
		t.Fatalf("tick aged %v should be stale", age)
	}
}

func TestLoopMonitorLastError(t *testing.T) {
	m := NewLoopMonitor(0)
	m.SetError(errors.New("stream closed"))
	m.SetError(nil)
	if got := m.LastError(); got != "stream closed" {
		t.Fatalf("expected last error preserved, got %q", got)
	}
}
