// Package clock fixes the canonical timestamp representation used across
// the service and lets tests pin or step time.
//
// Every persisted timestamp is UTC at millisecond precision, rendered as
// "2006-01-02T15:04:05.000Z" and stored as TEXT. The audit chain hashes
// these strings verbatim, so write and read must share one layout, and
// lexicographic order equals chronological order.
package clock

import (
	"sync"
	"time"
)

// Layout is the canonical timestamp layout.
const Layout = "2006-01-02T15:04:05.000Z"

// Clock returns the current time. Services take a Clock field so tests can
// substitute a fixed or stepping source.
type Clock func() time.Time

// System is the wall clock.
var System Clock = time.Now

// Stamp formats the clock's current instant in the canonical layout.
func (c Clock) Stamp() string {
	return Format(c())
}

// Format renders t as a canonical timestamp string.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Parse reads a canonical timestamp string.
func Parse(s string) (time.Time, error) {
	return time.Parse(Layout, s)
}

// Fixed returns a Clock pinned to t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

// Stepper hands out strictly increasing instants, one step per call. It
// keeps same-entity audit rows from sharing a millisecond in fast tests.
type Stepper struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

// NewStepper starts a Stepper at start, advancing by step on every call.
func NewStepper(start time.Time, step time.Duration) *Stepper {
	return &Stepper{t: start, step: step}
}

// Clock returns the stepping Clock.
func (s *Stepper) Clock() Clock {
	return func() time.Time {
		s.mu.Lock()
		defer s.mu.Unlock()
		t := s.t
		s.t = s.t.Add(s.step)
		return t
	}
}
