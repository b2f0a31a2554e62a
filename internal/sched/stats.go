package sched

import (
	"log/slog"
	"time"
)

// lagWarnThreshold is how far behind its deadline a handle may fall before
// bookkeeping logs a warning.
const lagWarnThreshold = int64(5 * time.Second)

// Stats is a point-in-time view of the scheduler queues.
type Stats struct {
	SampledAt int64
	Queued    int   // handles waiting in the queues
	Due       int   // queued handles whose deadline has passed
	MaxLag    int64 // nanoseconds the most overdue queued handle is behind
	WithTasks int   // handles with pending in-between-tick tasks
}

// Bookkeeping aggregates queue statistics. Called periodically from the global tick.
func (s *Scheduler) Bookkeeping(now int64) Stats {
	s.mu.Lock()
	st := Stats{
		SampledAt: now,
		Queued:    s.regular.Len() + s.reserved.Len(),
		WithTasks: len(s.withTasks),
	}
	for _, hp := range []handleHeap{s.regular, s.reserved} {
		for _, h := range hp {
			if lag := now - h.deadline.Load(); lag >= 0 {
				st.Due++
				st.MaxLag = max(st.MaxLag, lag)
			}
		}
	}
	s.mu.Unlock()

	prev := s.stats.Swap(&st)
	if st.MaxLag >= lagWarnThreshold && (prev == nil || prev.MaxLag < lagWarnThreshold) {
		slog.Warn("Tick scheduler is falling behind",
			"due", st.Due,
			"maxLag", time.Duration(st.MaxLag),
			"workers", s.workers)
	}
	return st
}

// LastStats returns the most recent bookkeeping result.
func (s *Scheduler) LastStats() Stats {
	if st := s.stats.Load(); st != nil {
		return *st
	}
	return Stats{}
}
