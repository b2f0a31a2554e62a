package sched

import (
	"math"
	"time"
)

// DeadlineNotSet marks a handle that has never been given a start time.
const DeadlineNotSet int64 = math.MinInt64

var epoch = time.Now()

// Now returns monotonic nanoseconds elapsed since process start.
// All deadlines and tick timestamps in this package use this clock.
var Now = func() int64 {
	return int64(time.Since(epoch))
}

// Schedule tracks a fixed-rate period sequence.
// lastPeriod is the start of the most recently consumed period.
type Schedule struct {
	lastPeriod int64
}

// NewSchedule creates a schedule whose first deadline is firstDeadline.
func NewSchedule(firstDeadline int64, interval int64) Schedule {
	if firstDeadline == DeadlineNotSet {
		return Schedule{lastPeriod: DeadlineNotSet}
	}
	return Schedule{lastPeriod: firstDeadline - interval}
}

// LastPeriod returns the start of the last consumed period.
func (s *Schedule) LastPeriod() int64 {
	return s.lastPeriod
}

// SetLastPeriod overrides the start of the last consumed period.
func (s *Schedule) SetLastPeriod(v int64) {
	s.lastPeriod = v
}

// Deadline returns the start of the next period.
func (s *Schedule) Deadline(interval int64) int64 {
	return s.lastPeriod + interval
}

// PeriodsAhead returns how many whole periods have elapsed at now.
func (s *Schedule) PeriodsAhead(interval, now int64) int {
	diff := now - s.lastPeriod
	if diff < 0 || interval <= 0 {
		return 0
	}
	return int(diff / interval)
}

// AdvanceBy consumes periods.
func (s *Schedule) AdvanceBy(periods int, interval int64) {
	s.lastPeriod += int64(periods) * interval
}

// laterOf returns the later of two deadlines, treating DeadlineNotSet as absent.
func laterOf(a, b int64) int64 {
	if a == DeadlineNotSet {
		return b
	}
	if b == DeadlineNotSet {
		return a
	}
	return max(a, b)
}
