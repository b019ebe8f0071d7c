// Package pacing spaces out successive operations of one logical sequence.
//
// A Timer remembers when its last wait ended. In relative mode a wait only
// sleeps for whatever part of the interval has not already elapsed since then;
// in absolute mode it always sleeps the full interval. Every wait records a new
// end time, including waits that did not sleep at all.
package pacing

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Mode selects how a wait interval is measured.
type Mode int

const (
	// Relative enforces a minimum spacing since the previous wait ended.
	Relative Mode = iota
	// Absolute always sleeps the full interval.
	Absolute
)

func (m Mode) String() string {
	if m == Absolute {
		return "absolute"
	}
	return "relative"
}

// Timer tracks the end of its last wait.
type Timer struct {
	mu          sync.Mutex
	clock       crawler.Clock
	interval    time.Duration
	mode        Mode
	lastWaitEnd time.Time
	waited      bool
}

// New creates a Timer with a default interval and mode used by Wait.
func New(interval time.Duration, mode Mode, clock crawler.Clock) *Timer {
	return &Timer{clock: clock, interval: interval, mode: mode}
}

// Wait blocks according to the timer's configured interval and mode.
func (t *Timer) Wait(ctx context.Context) time.Duration {
	return t.WaitFor(ctx, t.interval, t.mode)
}

// WaitFor blocks for d measured in mode and returns how long it slept.
// A non-positive d never sleeps.
func (t *Timer) WaitFor(ctx context.Context, d time.Duration, mode Mode) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var sleep time.Duration
	switch {
	case d <= 0:
	case mode == Absolute:
		sleep = d
	case !t.waited:
	default:
		sleep = max(d-now.Sub(t.lastWaitEnd), 0)
	}
	if sleep > 0 {
		t.clock.Sleep(ctx, sleep)
		now = t.clock.Now()
	}
	t.lastWaitEnd = now
	t.waited = true
	return sleep
}

// Prime records now as the last wait end without sleeping.
func (t *Timer) Prime() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastWaitEnd = t.clock.Now()
	t.waited = true
}

// LastWaitEnd returns the end of the previous wait and whether one happened.
func (t *Timer) LastWaitEnd() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastWaitEnd, t.waited
}
