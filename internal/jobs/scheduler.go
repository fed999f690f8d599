package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RetryScheduler re-runs a job after a delay.
type RetryScheduler interface {
	Schedule(jobID uuid.UUID, delay time.Duration)
}

// Scheduler holds one cancellable timer per job. When a timer fires the job id
// is handed to fire, typically Dispatcher.Dispatch.
type Scheduler struct {
	fire func(uuid.UUID)

	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	stopped bool
}

func NewScheduler(fire func(uuid.UUID)) *Scheduler {
	return &Scheduler{
		fire:   fire,
		timers: make(map[uuid.UUID]*time.Timer),
	}
}

// Schedule arms a timer for jobID, replacing any timer already armed for it.
// It is a no-op after Stop.
func (s *Scheduler) Schedule(jobID uuid.UUID, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if t, ok := s.timers[jobID]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		// A newer Schedule may have replaced this timer.
		if s.timers[jobID] != t || s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.timers, jobID)
		s.mu.Unlock()

		s.fire(jobID)
	})
	s.timers[jobID] = t
}

// Cancel disarms the timer for jobID. It reports whether one was armed.
func (s *Scheduler) Cancel(jobID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[jobID]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, jobID)
	return true
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every timer. Jobs left PENDING by a stopped timer are picked
// up by Processor.ResumePending on the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

var _ RetryScheduler = (*Scheduler)(nil)
