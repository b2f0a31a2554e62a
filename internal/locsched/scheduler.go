// Package locsched runs delayed and repeating tasks at a location, on the
// goroutine of the region owning that location.
package locsched

import (
	"context"
	"errors"
	"fmt"

	"github.com/udisondev/regionized/internal/coord"
	"github.com/udisondev/regionized/internal/taskqueue"
	"github.com/udisondev/regionized/internal/tickregion"
)

var (
	// ErrInvalidDelay is returned for a delay below one tick.
	ErrInvalidDelay = errors.New("locsched: delay must be positive")
	// ErrInvalidPeriod is returned for a repeat period below one tick.
	ErrInvalidPeriod = errors.New("locsched: period must be positive")
)

// regionTasks is the region-local state: tasks by section, then by the
// region tick they are due on.
type regionTasks struct {
	tickCount int64
	bySection map[int64]map[int64][]*Task
}

func (rt *regionTasks) len() int {
	n := 0
	for _, byTick := range rt.bySection {
		for _, tasks := range byTick {
			n += len(tasks)
		}
	}
	return n
}

// Scheduler schedules location tasks of one world.
type Scheduler struct {
	regions *tickregion.Regions
	key     *tickregion.Key[*regionTasks]
}

// New registers the scheduler's region-local data with regions.
func New(regions *tickregion.Regions) *Scheduler {
	s := &Scheduler{regions: regions}
	s.key = tickregion.NewKey[*regionTasks](regions.Registry(), s)
	return s
}

// Execute runs fn once on the region owning the cell, as soon as possible.
// The cell is kept active until fn has run.
func (s *Scheduler) Execute(cellX, cellZ int32, fn taskqueue.Task) {
	rz := s.regions.Regionizer()
	section := rz.SectionKey(cellX, cellZ)

	rz.AddSection(section)
	s.regions.Tasks().QueueSpatialTask(section, func(ctx context.Context) {
		defer rz.RemoveSection(section)
		fn(ctx)
	})
}

// RunDelayed runs fn once, delay ticks from now.
func (s *Scheduler) RunDelayed(ctx context.Context, cellX, cellZ int32, fn Func, delay int64) (*Task, error) {
	if delay <= 0 {
		return nil, fmt.Errorf("run delayed at (%d, %d): %w", cellX, cellZ, ErrInvalidDelay)
	}
	t := s.newTask(cellX, cellZ, 0, fn)
	s.schedule(ctx, t, delay)
	return t, nil
}

// RunAtFixedRate runs fn every period ticks, the first time after initialDelay.
func (s *Scheduler) RunAtFixedRate(ctx context.Context, cellX, cellZ int32, fn Func, initialDelay, period int64) (*Task, error) {
	if initialDelay <= 0 {
		return nil, fmt.Errorf("run at fixed rate at (%d, %d): %w", cellX, cellZ, ErrInvalidDelay)
	}
	if period <= 0 {
		return nil, fmt.Errorf("run at fixed rate at (%d, %d): %w", cellX, cellZ, ErrInvalidPeriod)
	}
	t := s.newTask(cellX, cellZ, period, fn)
	s.schedule(ctx, t, initialDelay)
	return t, nil
}

// Pending returns the number of tasks waiting in a region.
func (s *Scheduler) Pending(d *tickregion.Data) int {
	rt, ok := s.key.Lookup(d)
	if !ok {
		return 0
	}
	return rt.len()
}

// Tick advances the region's task clock and runs due tasks. Must be called
// once per region tick on the ticking goroutine.
func (s *Scheduler) Tick(ctx context.Context, d *tickregion.Data) {
	rt, ok := s.key.Lookup(d)
	if !ok {
		return
	}
	rt.tickCount++

	var (
		run     []*Task
		emptied []int64
	)
	for section, byTick := range rt.bySection {
		tasks, ok := byTick[rt.tickCount]
		if !ok {
			continue
		}
		delete(byTick, rt.tickCount)
		run = append(run, tasks...)
		if len(byTick) == 0 {
			delete(rt.bySection, section)
			emptied = append(emptied, section)
		}
	}

	for _, t := range run {
		if t.run(ctx) {
			s.queue(d, rt, t, t.period)
		}
	}

	// a rescheduled task took a fresh hold on its section
	rz := s.regions.Regionizer()
	for _, section := range emptied {
		rz.RemoveSection(section)
	}
}

func (s *Scheduler) newTask(cellX, cellZ int32, period int64, fn Func) *Task {
	return &Task{
		cellX:   cellX,
		cellZ:   cellZ,
		section: coord.SectionOf(cellX, cellZ, s.regions.Regionizer().SectionShift()),
		period:  period,
		fn:      fn,
	}
}

// schedule queues t directly when ctx belongs to the region owning the cell,
// otherwise hands it to that region through the world task queue. The section
// is held active while the hand-off is in flight.
func (s *Scheduler) schedule(ctx context.Context, t *Task, delay int64) {
	if d := tickregion.Current(ctx); d != nil && s.owns(d, t.section) {
		s.queue(d, s.key.Get(d), t, delay)
		return
	}

	rz := s.regions.Regionizer()
	rz.AddSection(t.section)
	s.regions.Tasks().QueueSpatialTask(t.section, func(ctx context.Context) {
		defer rz.RemoveSection(t.section)
		s.schedule(ctx, t, delay)
	})
}

func (s *Scheduler) owns(d *tickregion.Data, section int64) bool {
	return s.regions.Regionizer().RegionAt(section) == d.Region()
}

func (s *Scheduler) queue(d *tickregion.Data, rt *regionTasks, t *Task, delay int64) {
	if t.State() == StateCancelled {
		return
	}

	byTick := rt.bySection[t.section]
	if byTick == nil {
		// keep the section alive so its region keeps ticking the task clock
		s.regions.Regionizer().AddSection(t.section)
		byTick = make(map[int64][]*Task)
		rt.bySection[t.section] = byTick
	}
	due := rt.tickCount + delay
	byTick[due] = append(byTick[due], t)
}

// CreateNew implements tickregion.Callbacks.
func (s *Scheduler) CreateNew() *regionTasks {
	return &regionTasks{bySection: make(map[int64]map[int64][]*Task)}
}

// Merge implements tickregion.Callbacks. Due ticks are rebased onto into's
// task clock, which counts ticks independently of the region tick counter.
func (s *Scheduler) Merge(from, into *regionTasks, _, _ int64) {
	offset := into.tickCount - from.tickCount
	for section, byTick := range from.bySection {
		dst := into.bySection[section]
		if dst == nil {
			dst = make(map[int64][]*Task, len(byTick))
			into.bySection[section] = dst
		}
		for tick, tasks := range byTick {
			dst[tick+offset] = append(dst[tick+offset], tasks...)
		}
	}
	clear(from.bySection)
}

// Split implements tickregion.Callbacks. Sections holding tasks are alive, so
// every one of them has a new owner.
func (s *Scheduler) Split(from *regionTasks, _ uint, byRegion map[int64]*regionTasks, all []*regionTasks) {
	for _, into := range all {
		into.tickCount = from.tickCount
	}
	for section, byTick := range from.bySection {
		into := byRegion[section]
		if into == nil {
			panic(fmt.Sprintf("locsched: section (%d, %d) with tasks has no owner after split", coord.X(section), coord.Z(section)))
		}
		into.bySection[section] = byTick
	}
	clear(from.bySection)
}
