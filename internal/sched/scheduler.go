package sched

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scheduler is a deadline ordered worker pool over Handles.
// Regular handles are served by a fixed number of workers; reserved handles
// (the global tick) have one dedicated worker so they never wait behind regions.
// A handle is ticked by at most one worker at a time.
type Scheduler struct {
	mu        sync.Mutex
	regular   handleHeap
	reserved  handleHeap
	withTasks map[*Handle]struct{}

	workers      int
	wake         chan struct{}
	wakeReserved chan struct{}

	running atomic.Bool
	stats   atomic.Pointer[Stats]
}

// New creates a scheduler with the given number of region workers.
func New(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		withTasks:    make(map[*Handle]struct{}),
		workers:      workers,
		wake:         make(chan struct{}, workers),
		wakeReserved: make(chan struct{}, 1),
	}
}

// Workers returns the number of region workers.
func (s *Scheduler) Workers() int {
	return s.workers
}

// Schedule inserts a handle keyed by its deadline.
// Scheduling a handle twice, a cancelled handle, or a handle without a
// deadline is a programming error.
func (s *Scheduler) Schedule(h *Handle) {
	if h.Deadline() == DeadlineNotSet {
		panic(fmt.Sprintf("sched: scheduling handle %p without a deadline", h))
	}

	s.mu.Lock()
	if h.cancelled.Load() {
		s.mu.Unlock()
		panic(fmt.Sprintf("sched: scheduling cancelled handle %p", h))
	}
	if h.scheduled {
		s.mu.Unlock()
		panic(fmt.Sprintf("sched: double scheduling handle %p", h))
	}
	h.scheduled = true
	heap.Push(s.heapFor(h), h)
	s.mu.Unlock()

	s.notify(h.reserved)
}

// Deschedule cancels a handle for good. Calling it on an already cancelled or
// never scheduled handle is a no-op. Returns whether the handle was cancelled
// by this call.
func (s *Scheduler) Deschedule(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.cancelled.Load() {
		return false
	}
	h.cancelled.Store(true)
	delete(s.withTasks, h)

	if !h.scheduled {
		return false
	}
	h.scheduled = false
	if h.index >= 0 {
		heap.Remove(s.heapFor(h), h.index)
	}
	return true
}

// Reposition re-sorts a scheduled handle after its deadline was changed in place.
func (s *Scheduler) Reposition(h *Handle) {
	s.mu.Lock()
	if h.index >= 0 {
		heap.Fix(s.heapFor(h), h.index)
	}
	s.mu.Unlock()

	s.notify(h.reserved)
}

// NotifyTasks tells the scheduler that h has in-between-tick tasks, so an idle
// worker may drain them before the next deadline.
func (s *Scheduler) NotifyTasks(h *Handle) {
	s.mu.Lock()
	if h.cancelled.Load() || !h.scheduled {
		s.mu.Unlock()
		return
	}
	s.withTasks[h] = struct{}{}
	s.mu.Unlock()

	s.notify(h.reserved)
}

// Scheduled reports whether h is currently registered with the scheduler.
func (s *Scheduler) Scheduled(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.scheduled
}

// Run starts the workers and blocks until ctx is cancelled.
// Workers finish the tick they are running before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}
	defer s.running.Store(false)

	slog.Info("Tick scheduler started", "workers", s.workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := range s.workers {
		g.Go(func() error {
			return s.worker(gctx, i, false)
		})
	}
	g.Go(func() error {
		return s.worker(gctx, -1, true)
	})

	err := g.Wait()
	slog.Info("Tick scheduler stopped")
	return err
}

type jobKind int

const (
	jobNone jobKind = iota
	jobTick
	jobTasks
)

func (s *Scheduler) worker(ctx context.Context, id int, reserved bool) error {
	wake := s.wake
	if reserved {
		wake = s.wakeReserved
	}

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		h, kind, limit, wait := s.next(reserved)
		switch kind {
		case jobTick:
			resched := s.guard(id, h, func() bool { return h.runTick(s) })
			s.finish(h, resched)
			continue
		case jobTasks:
			resched := s.guard(id, h, func() bool { return h.runTasks(limit) })
			s.finish(h, resched)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		case <-timer.C:
		}
	}
}

// guard logs a panicking tick with its stack before letting it crash the process.
func (s *Scheduler) guard(id int, h *Handle, fn func() bool) bool {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tick failed, aborting",
				"worker", id,
				"handle", fmt.Sprintf("%p", h),
				"panic", r,
				"stack", string(debug.Stack()))
			panic(r)
		}
	}()
	return fn()
}

// next picks work for a worker: a due handle first, otherwise a handle with
// in-between-tick tasks. Returns how long to sleep when there is nothing to do.
func (s *Scheduler) next(reserved bool) (*Handle, jobKind, int64, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hp := &s.regular
	if reserved {
		hp = &s.reserved
	}

	now := Now()
	if hp.Len() > 0 {
		top := (*hp)[0]
		if top.deadline.Load() <= now {
			heap.Pop(hp)
			top.running = true
			delete(s.withTasks, top)
			return top, jobTick, 0, 0
		}
	}

	for h := range s.withTasks {
		if h.reserved != reserved || h.index < 0 {
			continue
		}
		delete(s.withTasks, h)
		limit := h.deadline.Load()
		heap.Remove(hp, h.index)
		if hp.Len() > 0 {
			limit = min(limit, (*hp)[0].deadline.Load())
		}
		h.running = true
		return h, jobTasks, limit, 0
	}

	wait := time.Second
	if hp.Len() > 0 {
		wait = time.Duration((*hp)[0].deadline.Load() - now)
	}
	return nil, jobNone, 0, max(wait, time.Microsecond*50)
}

// finish re-queues a handle after a worker is done with it.
func (s *Scheduler) finish(h *Handle, reschedule bool) {
	s.mu.Lock()
	h.running = false
	if !h.scheduled {
		s.mu.Unlock()
		return
	}
	if !reschedule || h.cancelled.Load() {
		h.scheduled = false
		h.cancelled.Store(true)
		delete(s.withTasks, h)
		s.mu.Unlock()
		return
	}
	heap.Push(s.heapFor(h), h)
	s.mu.Unlock()

	s.notify(h.reserved)
}

func (s *Scheduler) earliestDeadline(reserved bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	hp := &s.regular
	if reserved {
		hp = &s.reserved
	}
	if hp.Len() == 0 {
		return math.MaxInt64
	}
	return (*hp)[0].deadline.Load()
}

func (s *Scheduler) heapFor(h *Handle) *handleHeap {
	if h.reserved {
		return &s.reserved
	}
	return &s.regular
}

func (s *Scheduler) notify(reserved bool) {
	ch := s.wake
	if reserved {
		ch = s.wakeReserved
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
