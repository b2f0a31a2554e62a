// Package taskqueue delivers work to the goroutine ticking a region.
//
// Every task carries the section key it targets so it can be re-routed when
// regions merge or split. Tasks for sections that no region owns yet wait in
// the world queue until a region claims the section.
package taskqueue

import (
	"context"
	"sync"
	"sync/atomic"
)

// Task is a unit of work executed on the goroutine that owns its region.
type Task func(ctx context.Context)

type entry struct {
	section int64
	task    Task
}

// RegionQueue is the affinity queue of one region. Any goroutine may push;
// only the goroutine ticking the region runs tasks.
type RegionQueue struct {
	mu      sync.Mutex
	entries []entry
	head    int
	size    atomic.Int64

	notify func()
}

// NewRegionQueue creates a queue. notify (may be nil) is called after every
// push, outside the queue lock.
func NewRegionQueue(notify func()) *RegionQueue {
	return &RegionQueue{notify: notify}
}

// Push appends a task targeting section.
func (q *RegionQueue) Push(section int64, t Task) {
	q.mu.Lock()
	q.entries = append(q.entries, entry{section: section, task: t})
	q.size.Add(1)
	q.mu.Unlock()

	if q.notify != nil {
		q.notify()
	}
}

// HasTasks is a non-blocking check for queued work.
func (q *RegionQueue) HasTasks() bool {
	return q.size.Load() > 0
}

// Len returns the number of queued tasks.
func (q *RegionQueue) Len() int {
	return int(q.size.Load())
}

// RunOne executes the oldest task. Returns false if the queue was empty.
func (q *RegionQueue) RunOne(ctx context.Context) bool {
	e, ok := q.pop()
	if !ok {
		return false
	}
	e.task(ctx)
	return true
}

// Drain runs tasks while canContinue allows it, checking it before each task.
// A nil canContinue drains the queue. Returns true if tasks remain.
func (q *RegionQueue) Drain(ctx context.Context, canContinue func() bool) bool {
	for canContinue == nil || canContinue() {
		if !q.RunOne(ctx) {
			break
		}
	}
	return q.HasTasks()
}

// RunSnapshot runs the tasks queued at the time of the call, leaving tasks
// they enqueue for later. Returns the number of tasks run.
func (q *RegionQueue) RunSnapshot(ctx context.Context) int {
	n := q.Len()
	ran := 0
	for ran < n && q.RunOne(ctx) {
		ran++
	}
	return ran
}

// MergeInto moves every task to into, after into's own tasks.
func (q *RegionQueue) MergeInto(into *RegionQueue) {
	entries := q.takeAll()
	if len(entries) == 0 {
		return
	}

	into.mu.Lock()
	into.entries = append(into.entries, entries...)
	into.size.Add(int64(len(entries)))
	into.mu.Unlock()

	if into.notify != nil {
		into.notify()
	}
}

// Split re-routes every task to the queue owning its section. Tasks whose
// section has no queue are handed to orphan. Order per target is preserved.
func (q *RegionQueue) Split(byRegion func(section int64) *RegionQueue, orphan func(section int64, t Task)) {
	for _, e := range q.takeAll() {
		if target := byRegion(e.section); target != nil {
			target.Push(e.section, e.task)
			continue
		}
		orphan(e.section, e.task)
	}
}

// DrainTo removes every task, handing each to fn in order.
func (q *RegionQueue) DrainTo(fn func(section int64, t Task)) {
	for _, e := range q.takeAll() {
		fn(e.section, e.task)
	}
}

func (q *RegionQueue) pop() (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.entries) {
		return entry{}, false
	}
	e := q.entries[q.head]
	q.entries[q.head] = entry{}
	q.head++
	if q.head == len(q.entries) {
		q.entries = q.entries[:0]
		q.head = 0
	}
	q.size.Add(-1)
	return e, true
}

func (q *RegionQueue) takeAll() []entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := append([]entry(nil), q.entries[q.head:]...)
	clear(q.entries)
	q.entries = q.entries[:0]
	q.head = 0
	q.size.Store(0)
	return entries
}
