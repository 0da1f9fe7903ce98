package uptime

import (
	"fmt"
	"sync"
	"time"
)

type WindowName string

const (
	Window24h WindowName = "24h"
	Window7d  WindowName = "7d"
	Window30d WindowName = "30d"
	Window90d WindowName = "90d"
	WindowAll WindowName = "all"
)

// StandardWindows is the rollup order used by monitor reports.
var StandardWindows = []WindowName{Window24h, Window7d, Window30d, Window90d, WindowAll}

// Duration reports the length of a rolling window. WindowAll has none.
func (w WindowName) Duration() (time.Duration, bool) {
	switch w {
	case Window24h:
		return 24 * time.Hour, true
	case Window7d:
		return 7 * 24 * time.Hour, true
	case Window30d:
		return 30 * 24 * time.Hour, true
	case Window90d:
		return 90 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func ParseWindow(s string) (WindowName, error) {
	switch w := WindowName(s); w {
	case Window24h, Window7d, Window30d, Window90d, WindowAll:
		return w, nil
	case "":
		return Window30d, nil
	default:
		return "", fmt.Errorf("unknown window %q", s)
	}
}

// Bounds returns the [start, end] of the named window ending at now, never
// starting before createdAt. A zero createdAt disables the clamp.
func Bounds(w WindowName, createdAt, now time.Time) (time.Time, time.Time) {
	d, ok := w.Duration()
	if !ok {
		return AllTime(createdAt, now)
	}
	return Rolling(now, d, createdAt)
}

func Rolling(now time.Time, d time.Duration, createdAt time.Time) (time.Time, time.Time) {
	start := now.Add(-d)
	if !createdAt.IsZero() && createdAt.After(start) {
		start = createdAt
	}
	return start, now
}

func AllTime(createdAt, now time.Time) (time.Time, time.Time) {
	if createdAt.IsZero() {
		return now, now
	}
	return createdAt, now
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a manually advanced clock.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}
