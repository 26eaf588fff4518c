package verification

import (
	"sync"
	"time"

	"gatekeeper/pkg/platform/clock"
)

// Scheduler emits timed events tagged with the attempt generation that
// scheduled them. Cancel stops everything pending.
type Scheduler struct {
	clock  clock.Clock
	mu     sync.Mutex
	timers []clock.Timer
}

// NewScheduler creates a scheduler over c.
func NewScheduler(c clock.Clock) *Scheduler {
	return &Scheduler{clock: c}
}

// After delivers ev to sink once d has elapsed.
func (s *Scheduler) After(gen uint64, d time.Duration, ev Event, sink func(gen uint64, ev Event)) {
	t := s.clock.AfterFunc(d, func() { sink(gen, ev) })
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
}

// Cancel stops every pending timer. Callbacks already running still check
// their generation before mutating anything.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}
