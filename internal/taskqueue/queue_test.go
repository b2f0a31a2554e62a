package taskqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapLocator struct {
	mu       sync.RWMutex
	owners   map[int64]int64
	byRegion map[int64]*RegionQueue
}

func newMapLocator() *mapLocator {
	return &mapLocator{
		owners:   make(map[int64]int64),
		byRegion: make(map[int64]*RegionQueue),
	}
}

func (l *mapLocator) own(section, region int64) *RegionQueue {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners[section] = region
	q := l.byRegion[region]
	if q == nil {
		q = NewRegionQueue(nil)
		l.byRegion[region] = q
	}
	return q
}

func (l *mapLocator) WithOwner(section int64, fn func(q *RegionQueue)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.owners[section]
	if !ok {
		fn(nil)
		return
	}
	fn(l.byRegion[id])
}

func (l *mapLocator) WithRegion(id int64, fn func(q *RegionQueue)) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	q, ok := l.byRegion[id]
	if !ok {
		return false
	}
	fn(q)
	return true
}

type trace struct {
	mu  sync.Mutex
	ran []string
}

func (tr *trace) task(name string) Task {
	return func(context.Context) {
		tr.mu.Lock()
		tr.ran = append(tr.ran, name)
		tr.mu.Unlock()
	}
}

func (tr *trace) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.ran...)
}

func TestRegionQueue_FIFO(t *testing.T) {
	var notified atomic.Int32
	q := NewRegionQueue(func() { notified.Add(1) })
	tr := &trace{}

	assert.False(t, q.HasTasks())
	q.Push(1, tr.task("a"))
	q.Push(2, tr.task("b"))
	q.Push(1, tr.task("c"))
	assert.True(t, q.HasTasks())
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, int32(3), notified.Load())

	assert.False(t, q.Drain(context.Background(), func() bool { return true }))
	assert.Equal(t, []string{"a", "b", "c"}, tr.list())
	assert.False(t, q.RunOne(context.Background()))
}

func TestRegionQueue_DrainStopsWhenBudgetRunsOut(t *testing.T) {
	q := NewRegionQueue(nil)
	tr := &trace{}
	for _, n := range []string{"a", "b", "c"} {
		q.Push(0, tr.task(n))
	}

	budget := 1
	remaining := q.Drain(context.Background(), func() bool {
		budget--
		return budget >= 0
	})
	assert.True(t, remaining)
	assert.Equal(t, []string{"a"}, tr.list())
	assert.Equal(t, 2, q.Len())
}

func TestRegionQueue_DrainWithExhaustedBudgetRunsNothing(t *testing.T) {
	q := NewRegionQueue(nil)
	tr := &trace{}
	q.Push(0, tr.task("a"))

	calls := 0
	remaining := q.Drain(context.Background(), func() bool {
		calls++
		return false
	})
	assert.True(t, remaining)
	assert.Empty(t, tr.list())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, q.Len())
}

func TestRegionQueue_RunSnapshot(t *testing.T) {
	q := NewRegionQueue(nil)
	tr := &trace{}

	q.Push(0, func(ctx context.Context) {
		tr.task("first")(ctx)
		q.Push(0, tr.task("follow-up"))
	})
	q.Push(0, tr.task("second"))

	assert.Equal(t, 2, q.RunSnapshot(context.Background()))
	assert.Equal(t, []string{"first", "second"}, tr.list())
	assert.Equal(t, 1, q.Len(), "tasks queued during the snapshot wait")
}

func TestRegionQueue_MergeInto(t *testing.T) {
	into := NewRegionQueue(nil)
	from := NewRegionQueue(nil)
	tr := &trace{}

	into.Push(1, tr.task("into-1"))
	from.Push(2, tr.task("from-1"))
	from.Push(2, tr.task("from-2"))

	from.MergeInto(into)
	assert.False(t, from.HasTasks())
	assert.Equal(t, 3, into.Len())

	into.Drain(context.Background(), nil)
	assert.Equal(t, []string{"into-1", "from-1", "from-2"}, tr.list())
}

func TestRegionQueue_Split(t *testing.T) {
	from := NewRegionQueue(nil)
	left := NewRegionQueue(nil)
	right := NewRegionQueue(nil)
	tr := &trace{}

	from.Push(10, tr.task("l1"))
	from.Push(20, tr.task("r1"))
	from.Push(10, tr.task("l2"))
	from.Push(99, tr.task("orphan"))
	from.Push(20, tr.task("r2"))

	var orphans []int64
	from.Split(func(section int64) *RegionQueue {
		switch section {
		case 10:
			return left
		case 20:
			return right
		}
		return nil
	}, func(section int64, _ Task) {
		orphans = append(orphans, section)
	})

	assert.False(t, from.HasTasks())
	assert.Equal(t, []int64{99}, orphans)

	left.Drain(context.Background(), nil)
	right.Drain(context.Background(), nil)
	assert.Equal(t, []string{"l1", "l2", "r1", "r2"}, tr.list())
}

func TestQueue_SpatialTaskWaitsForOwner(t *testing.T) {
	loc := newMapLocator()
	qu := New(loc)
	tr := &trace{}

	qu.QueueSpatialTask(5, tr.task("early"))
	assert.Equal(t, 1, qu.PendingCount())
	assert.Equal(t, 0, qu.ClaimPending(), "nobody owns the section yet")

	rq := loc.own(5, 1)
	assert.Equal(t, 1, qu.ClaimPending())
	assert.Equal(t, 0, qu.PendingCount())
	assert.True(t, qu.HasTasks(1))

	rq.Drain(context.Background(), nil)
	assert.Equal(t, []string{"early"}, tr.list())
	assert.False(t, qu.HasTasks(1))
}

func TestQueue_PendingTasksKeepOrder(t *testing.T) {
	loc := newMapLocator()
	qu := New(loc)
	tr := &trace{}

	qu.QueueSpatialTask(5, tr.task("1"))
	qu.QueueSpatialTask(5, tr.task("2"))
	rq := loc.own(5, 1)

	// the owner appeared but nobody claimed yet
	qu.QueueSpatialTask(5, tr.task("3"))
	assert.Equal(t, 0, qu.PendingCount())

	rq.Drain(context.Background(), nil)
	assert.Equal(t, []string{"1", "2", "3"}, tr.list())
}

func TestQueue_RegionTaskFallsBackToSection(t *testing.T) {
	loc := newMapLocator()
	qu := New(loc)
	tr := &trace{}

	rq := loc.own(7, 3)
	qu.QueueRegionTask(3, 7, tr.task("direct"))
	assert.Equal(t, 1, rq.Len())

	// region 9 does not exist, the task follows its section
	qu.QueueRegionTask(9, 7, tr.task("rerouted"))
	assert.Equal(t, 2, rq.Len())

	qu.QueueRegionTask(9, 8, tr.task("parked"))
	assert.Equal(t, 1, qu.PendingCount())

	rq.Drain(context.Background(), nil)
	assert.Equal(t, []string{"direct", "rerouted"}, tr.list())
	assert.False(t, qu.HasTasks(9))
}

func TestQueue_ConcurrentSubmissionRunsOnce(t *testing.T) {
	loc := newMapLocator()
	qu := New(loc)
	rq := loc.own(1, 1)

	const (
		producers = 8
		perProd   = 500
	)
	var (
		runs [producers * perProd]atomic.Int32
		wg   sync.WaitGroup
	)
	wg.Add(producers)
	for p := range producers {
		go func() {
			defer wg.Done()
			for i := range perProd {
				id := p*perProd + i
				section := int64(id % 2) // section 0 is unowned until claimed
				qu.QueueSpatialTask(section, func(context.Context) { runs[id].Add(1) })
			}
		}()
	}
	wg.Wait()

	loc.own(0, 1)
	qu.ClaimPending()
	rq.Drain(context.Background(), nil)

	require.Equal(t, 0, qu.PendingCount())
	for i := range runs {
		assert.Equal(t, int32(1), runs[i].Load(), "task %d", i)
	}
}
