package taskqueue

import (
	"sync"
	"sync/atomic"
)

// Locator resolves region queues while keeping ownership stable.
type Locator interface {
	// WithOwner calls fn with the queue of the region owning section, or nil
	// when no region owns it. Ownership cannot change while fn runs.
	WithOwner(section int64, fn func(q *RegionQueue))
	// WithRegion calls fn with the queue of a live region. Returns false if
	// the region does not exist.
	WithRegion(id int64, fn func(q *RegionQueue)) bool
}

// Queue routes tasks of one world to region queues and holds tasks for
// sections no region owns yet.
type Queue struct {
	loc Locator

	mu      sync.Mutex
	pending map[int64][]Task
	count   atomic.Int64
}

// New creates a world queue.
func New(loc Locator) *Queue {
	return &Queue{
		loc:     loc,
		pending: make(map[int64][]Task),
	}
}

// QueueSpatialTask queues a task for the region owning section. If no region
// owns it the task waits until one claims the section. Tasks for one section
// run in submission order.
func (qu *Queue) QueueSpatialTask(section int64, t Task) {
	qu.loc.WithOwner(section, func(q *RegionQueue) {
		if q == nil {
			qu.QueuePending(section, t)
			return
		}
		for _, older := range qu.takePending(section) {
			q.Push(section, older)
		}
		q.Push(section, t)
	})
}

// QueueRegionTask queues a task for a region by id. When the region no longer
// exists the task is routed by its section instead.
func (qu *Queue) QueueRegionTask(regionID, section int64, t Task) {
	ok := qu.loc.WithRegion(regionID, func(q *RegionQueue) {
		q.Push(section, t)
	})
	if !ok {
		qu.QueueSpatialTask(section, t)
	}
}

// QueuePending stores a task for later claiming without resolving ownership.
// Safe to call from regionizer callbacks.
func (qu *Queue) QueuePending(section int64, t Task) {
	qu.mu.Lock()
	qu.pending[section] = append(qu.pending[section], t)
	qu.count.Add(1)
	qu.mu.Unlock()
}

// ClaimPending moves pending tasks whose section is owned by a region into
// that region's queue. Returns the number of tasks moved.
func (qu *Queue) ClaimPending() int {
	if qu.count.Load() == 0 {
		return 0
	}

	qu.mu.Lock()
	sections := make([]int64, 0, len(qu.pending))
	for s := range qu.pending {
		sections = append(sections, s)
	}
	qu.mu.Unlock()

	moved := 0
	for _, s := range sections {
		qu.loc.WithOwner(s, func(q *RegionQueue) {
			if q == nil {
				return
			}
			for _, t := range qu.takePending(s) {
				q.Push(s, t)
				moved++
			}
		})
	}
	return moved
}

// HasTasks reports whether a region has queued work.
func (qu *Queue) HasTasks(regionID int64) bool {
	has := false
	qu.loc.WithRegion(regionID, func(q *RegionQueue) {
		has = q.HasTasks()
	})
	return has
}

// PendingCount returns the number of tasks waiting for a region.
func (qu *Queue) PendingCount() int {
	return int(qu.count.Load())
}

func (qu *Queue) takePending(section int64) []Task {
	qu.mu.Lock()
	defer qu.mu.Unlock()

	tasks := qu.pending[section]
	if len(tasks) == 0 {
		return nil
	}
	delete(qu.pending, section)
	qu.count.Add(-int64(len(tasks)))
	return tasks
}
