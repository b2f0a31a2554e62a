package sched

import (
	"fmt"
	"sync/atomic"
)

// Tickable is the schedulable unit behind a Handle: a region or the global tick.
// All methods except HasTasks are only invoked by the goroutine that owns the handle.
type Tickable interface {
	// TryMarkTicking acquires exclusive ownership. abort is evaluated while the
	// owner's structural state is stable; returning true from it vetoes the acquire.
	TryMarkTicking(abort func() bool) bool

	// MarkNotTicking releases ownership. Returns false when the owner is no longer
	// schedulable through this handle (destroyed, merged away or deactivated).
	MarkNotTicking() bool

	// Tick runs one (possibly catch-up) tick.
	Tick(h *Handle, tickCount int, startTime, scheduledEnd int64)

	// RunTasks drains in-between-tick tasks while canContinue returns true.
	// Returns false if no more tasks remain.
	RunTasks(canContinue func() bool) bool

	// HasTasks is a cheap non-blocking check for queued in-between-tick work.
	HasTasks() bool
}

// Handle is the scheduling state of one region (or of the global tick).
// The owner field is a non-owning back reference; the handle never outlives
// the owner's usefulness: it is cancelled and replaced instead.
type Handle struct {
	owner    Tickable
	interval int64
	reserved bool

	deadline  atomic.Int64
	ticking   atomic.Bool
	cancelled atomic.Bool

	// guarded by Scheduler.mu
	index     int
	scheduled bool
	running   bool

	// owned by whoever holds the ticking flag (or the structural lock of the owner)
	currentTick   int64
	lastTickStart int64
	schedule      Schedule

	tickData *TickData
}

// NewHandle creates a handle with the given first deadline (or DeadlineNotSet).
func NewHandle(owner Tickable, interval int64, start int64) *Handle {
	h := &Handle{
		owner:         owner,
		interval:      interval,
		index:         -1,
		lastTickStart: DeadlineNotSet,
		schedule:      NewSchedule(start, interval),
		tickData:      NewTickData(Window1m),
	}
	h.deadline.Store(start)
	return h
}

// NewReservedHandle creates a handle served by the scheduler's reserved worker.
// Used for the global tick.
func NewReservedHandle(owner Tickable, interval int64, start int64) *Handle {
	h := NewHandle(owner, interval, start)
	h.reserved = true
	return h
}

// Owner returns the tickable this handle schedules.
func (h *Handle) Owner() Tickable {
	return h.owner
}

// Interval returns the tick period in nanoseconds.
func (h *Handle) Interval() int64 {
	return h.interval
}

// Reserved reports whether the handle runs on the reserved worker.
func (h *Handle) Reserved() bool {
	return h.reserved
}

// Deadline returns the next scheduled start, or DeadlineNotSet.
func (h *Handle) Deadline() int64 {
	return h.deadline.Load()
}

// Cancelled reports whether the handle has been descheduled for good.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Ticking reports whether some goroutine currently owns the handle.
func (h *Handle) Ticking() bool {
	return h.ticking.Load()
}

// CurrentTick returns the number of ticks executed so far.
// Only stable while the caller owns the handle or its owner is structurally locked.
func (h *Handle) CurrentTick() int64 {
	return h.currentTick
}

// SetCurrentTick overrides the tick counter.
// Only valid while the handle is not scheduled or is owned by the caller.
func (h *Handle) SetCurrentTick(tick int64) {
	h.currentTick = tick
}

// LastTickStart returns when the last tick started, or DeadlineNotSet.
func (h *Handle) LastTickStart() int64 {
	return h.lastTickStart
}

// TickData returns the handle's tick timings.
func (h *Handle) TickData() *TickData {
	return h.tickData
}

// Report returns tick statistics over window.
func (h *Handle) Report(now, window int64) TickReport {
	return h.tickData.Report(now, window)
}

// SetInitialStart sets the first deadline of a handle that has none.
func (h *Handle) SetInitialStart(start int64) {
	if h.deadline.Load() != DeadlineNotSet {
		panic(fmt.Sprintf("sched: initial start already set for handle %p", h))
	}
	h.setDeadline(start)
}

// CheckInitialSchedule gives the handle a first deadline if it has none.
func (h *Handle) CheckInitialSchedule(start int64) {
	if h.deadline.Load() == DeadlineNotSet {
		h.setDeadline(start)
	}
}

// DelayTo moves the deadline forward to start if it is earlier, dropping the
// periods missed while the handle was not scheduled.
func (h *Handle) DelayTo(start int64) {
	if d := h.deadline.Load(); d != DeadlineNotSet && d >= start {
		return
	}
	h.setDeadline(start)
}

// Copy returns a fresh, unscheduled handle that continues this handle's timeline.
// A cancelled handle can never be scheduled again, so deactivated regions swap
// their handle for a copy.
func (h *Handle) Copy() *Handle {
	c := &Handle{
		owner:         h.owner,
		interval:      h.interval,
		reserved:      h.reserved,
		index:         -1,
		currentTick:   h.currentTick,
		lastTickStart: h.lastTickStart,
		schedule:      h.schedule,
		tickData:      h.tickData,
	}
	c.deadline.Store(h.deadline.Load())
	return c
}

// CopyDeadlineAndTick makes h continue from's timeline. Used when a region splits
// so that no clock discontinuity is observable from inside the simulation.
func (h *Handle) CopyDeadlineAndTick(from *Handle) {
	h.currentTick = from.currentTick
	h.lastTickStart = from.lastTickStart

	if from.deadline.Load() == DeadlineNotSet {
		return
	}
	h.schedule.SetLastPeriod(from.schedule.LastPeriod())
	h.deadline.Store(from.deadline.Load())
}

// ReconcileWith folds another handle's timeline into h when two regions merge.
// The result is the least advanced state of the two: the lower tick counter and
// the later deadline, so nothing appears to tick faster than the configured rate.
func (h *Handle) ReconcileWith(from *Handle) {
	h.currentTick = min(h.currentTick, from.currentTick)

	fromDeadline := from.deadline.Load()
	if fromDeadline == DeadlineNotSet {
		return
	}
	if h.deadline.Load() == DeadlineNotSet {
		h.schedule.SetLastPeriod(from.schedule.LastPeriod())
		h.deadline.Store(fromDeadline)
		return
	}
	h.setDeadline(laterOf(h.deadline.Load(), fromDeadline))
}

func (h *Handle) setDeadline(deadline int64) {
	h.schedule.SetLastPeriod(deadline - h.interval)
	h.deadline.Store(deadline)
}

func (h *Handle) tryMarkTicking() bool {
	if !h.ticking.CompareAndSwap(false, true) {
		return false
	}
	if !h.owner.TryMarkTicking(h.cancelled.Load) {
		h.ticking.Store(false)
		return false
	}
	return true
}

func (h *Handle) markNotTicking() bool {
	ok := h.owner.MarkNotTicking()
	if !h.ticking.CompareAndSwap(true, false) {
		panic(fmt.Sprintf("sched: releasing handle %p that is not ticking", h))
	}
	return ok
}

// runTick executes one scheduled tick. Returns whether to reschedule.
// Panics escaping the owner's tick propagate: they are fatal.
func (h *Handle) runTick(s *Scheduler) bool {
	if h.cancelled.Load() {
		return false
	}
	if !h.tryMarkTicking() {
		if h.cancelled.Load() {
			return false
		}
		panic(fmt.Sprintf("sched: scheduled handle %p is not acquirable", h))
	}

	// a merge may have pushed the deadline back after the handle was popped
	tickStart := Now()
	if h.deadline.Load() > tickStart {
		return h.markNotTicking()
	}

	scheduledStart := h.deadline.Load()
	scheduledEnd := scheduledStart + h.interval

	tickCount := max(1, h.schedule.PeriodsAhead(h.interval, tickStart))
	h.currentTick += int64(tickCount)
	h.lastTickStart = tickStart

	h.owner.Tick(h, tickCount, tickStart, scheduledEnd)

	tickEnd := Now()
	h.tickData.Add(tickStart, tickEnd, tickCount)

	h.schedule.AdvanceBy(tickCount, h.interval)
	next := max(tickEnd, h.schedule.Deadline(h.interval))
	h.deadline.Store(next)

	if h.owner.HasTasks() {
		h.owner.RunTasks(func() bool {
			now := Now()
			return now < next && now < s.earliestDeadline(h.reserved)
		})
	}

	return h.markNotTicking()
}

// runTasks executes in-between-tick tasks before the next deadline.
func (h *Handle) runTasks(limit int64) bool {
	if h.cancelled.Load() {
		return false
	}
	if !h.tryMarkTicking() {
		return !h.cancelled.Load()
	}

	h.owner.RunTasks(func() bool {
		return Now() < limit
	})

	return h.markNotTicking()
}
