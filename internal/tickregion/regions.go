// Package tickregion binds regions to the tick scheduler: each region gets a
// tick handle, an affinity task queue and keyed region-local data, all of
// which follow the region through merges and splits.
package tickregion

import (
	"context"
	"log/slog"

	"github.com/udisondev/regionized/internal/regionizer"
	"github.com/udisondev/regionized/internal/sched"
	"github.com/udisondev/regionized/internal/taskqueue"
)

// Ticker runs the simulation of one region.
type Ticker interface {
	TickRegion(ctx context.Context, d *Data, tickCount int, startTime, scheduledEnd int64)
}

// TickerFunc adapts a function to Ticker.
type TickerFunc func(ctx context.Context, d *Data, tickCount int, startTime, scheduledEnd int64)

// TickRegion calls f.
func (f TickerFunc) TickRegion(ctx context.Context, d *Data, tickCount int, startTime, scheduledEnd int64) {
	f(ctx, d, tickCount, startTime, scheduledEnd)
}

// Hooks let collaborators attach per-region state in lockstep with the
// regionizer. They run with the regionizer locked and must not call into it.
type Hooks struct {
	OnCreate   func(d *Data)
	OnDestroy  func(d *Data)
	OnActive   func(d *Data)
	OnInactive func(d *Data)
	PreMerge   func(from, into *Data)
	PreSplit   func(d *Data)
}

// Options configure Regions.
type Options struct {
	Name       string
	Regionizer regionizer.Config
	// Interval is the tick period in nanoseconds.
	Interval int64
	Registry *Registry
	Ticker   Ticker
	Hooks    Hooks
	// Context is the parent of every context handed to region tasks and ticks.
	Context context.Context
}

// Regions manages the regions of one world.
type Regions struct {
	name     string
	sched    *sched.Scheduler
	registry *Registry
	interval int64
	ticker   Ticker
	hooks    Hooks
	ctx      context.Context

	rz    *regionizer.Regionizer[*Data]
	tasks *taskqueue.Queue
}

// New creates the region manager of a world.
func New(s *sched.Scheduler, opts Options) *Regions {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	r := &Regions{
		name:     opts.Name,
		sched:    s,
		registry: opts.Registry,
		interval: opts.Interval,
		ticker:   opts.Ticker,
		hooks:    opts.Hooks,
		ctx:      opts.Context,
	}
	r.rz = regionizer.New[*Data](opts.Regionizer, r)
	r.tasks = taskqueue.New(r)
	return r
}

// SetTicker replaces the simulation callback. Must be called before any region ticks.
func (r *Regions) SetTicker(t Ticker) {
	r.ticker = t
}

// Name returns the world name.
func (r *Regions) Name() string {
	return r.name
}

// Regionizer returns the underlying regionizer.
func (r *Regions) Regionizer() *regionizer.Regionizer[*Data] {
	return r.rz
}

// Tasks returns the world task queue.
func (r *Regions) Tasks() *taskqueue.Queue {
	return r.tasks
}

// Registry returns the keyed data registry.
func (r *Regions) Registry() *Registry {
	return r.registry
}

// Scheduler returns the tick scheduler.
func (r *Regions) Scheduler() *sched.Scheduler {
	return r.sched
}

// Interval returns the tick period in nanoseconds.
func (r *Regions) Interval() int64 {
	return r.interval
}

// WithOwner implements taskqueue.Locator.
func (r *Regions) WithOwner(section int64, fn func(q *taskqueue.RegionQueue)) {
	r.rz.WithSectionOwner(section, func(reg *regionizer.Region[*Data]) {
		if reg == nil {
			fn(nil)
			return
		}
		fn(reg.Data().queue)
	})
}

// WithRegion implements taskqueue.Locator.
func (r *Regions) WithRegion(id int64, fn func(q *taskqueue.RegionQueue)) bool {
	return r.rz.WithRegion(id, func(reg *regionizer.Region[*Data]) {
		fn(reg.Data().queue)
	})
}

// CreateData implements regionizer.Callbacks.
func (r *Regions) CreateData(reg *regionizer.Region[*Data]) *Data {
	return newData(r, reg)
}

// MergeData implements regionizer.Callbacks. The survivor keeps the least
// advanced timeline of the two.
func (r *Regions) MergeData(from, into *regionizer.Region[*Data]) {
	fd, id := from.Data(), into.Data()
	fh, ih := fd.handle.Load(), id.handle.Load()

	fromTick, intoTick := fh.CurrentTick(), ih.CurrentTick()
	mergedTick := min(fromTick, intoTick)
	mergeValues(r.registry.snapshot(), fd, id, mergedTick-fromTick, mergedTick-intoTick)

	fd.queue.MergeInto(id.queue)

	ih.ReconcileWith(fh)
	if r.sched.Scheduled(ih) {
		r.sched.Reposition(ih)
	}
}

// SplitData implements regionizer.Callbacks. Every new region continues the
// original's timeline.
func (r *Regions) SplitData(from *regionizer.Region[*Data], bySection map[int64]*regionizer.Region[*Data], into []*regionizer.Region[*Data]) {
	fd := from.Data()
	fh := fd.handle.Load()

	datas := make([]*Data, len(into))
	index := make(map[*Data]int, len(into))
	for i, reg := range into {
		d := reg.Data()
		d.handle.Load().CopyDeadlineAndTick(fh)
		datas[i] = d
		index[d] = i
	}

	sections := make(map[int64]int, len(bySection))
	for key, reg := range bySection {
		sections[key] = index[reg.Data()]
	}
	splitValues(r.registry.snapshot(), fd, r.rz.SectionShift(), sections, datas)

	fd.queue.Split(func(section int64) *taskqueue.RegionQueue {
		if reg := bySection[section]; reg != nil {
			return reg.Data().queue
		}
		return nil
	}, r.tasks.QueuePending)
}

// OnRegionCreate implements regionizer.Callbacks.
func (r *Regions) OnRegionCreate(reg *regionizer.Region[*Data]) {
	if r.hooks.OnCreate != nil {
		r.hooks.OnCreate(reg.Data())
	}
}

// OnRegionDestroy implements regionizer.Callbacks. Tasks left behind go back
// to the world queue.
func (r *Regions) OnRegionDestroy(reg *regionizer.Region[*Data]) {
	d := reg.Data()
	r.sched.Deschedule(d.handle.Load())
	d.queue.DrainTo(r.tasks.QueuePending)

	if r.hooks.OnDestroy != nil {
		r.hooks.OnDestroy(d)
	}
}

// OnRegionActive implements regionizer.Callbacks.
func (r *Regions) OnRegionActive(reg *regionizer.Region[*Data]) {
	d := reg.Data()
	h := d.handle.Load()

	now := sched.Now()
	h.CheckInitialSchedule(now + r.interval)
	if d.idle {
		h.DelayTo(now)
		d.idle = false
	}
	r.sched.Schedule(h)

	if r.hooks.OnActive != nil {
		r.hooks.OnActive(d)
	}
	slog.Debug("Region active", "world", r.name, "region", reg.ID())
}

// OnRegionInactive implements regionizer.Callbacks. A descheduled handle can
// never be scheduled again, so the region continues on a copy.
func (r *Regions) OnRegionInactive(reg *regionizer.Region[*Data]) {
	d := reg.Data()
	h := d.handle.Load()

	r.sched.Deschedule(h)
	d.handle.Store(h.Copy())
	d.idle = true

	if r.hooks.OnInactive != nil {
		r.hooks.OnInactive(d)
	}
	slog.Debug("Region inactive", "world", r.name, "region", reg.ID())
}

// PreMerge implements regionizer.Callbacks.
func (r *Regions) PreMerge(from, into *regionizer.Region[*Data]) {
	if r.hooks.PreMerge != nil {
		r.hooks.PreMerge(from.Data(), into.Data())
	}
}

// PreSplit implements regionizer.Callbacks.
func (r *Regions) PreSplit(reg *regionizer.Region[*Data]) {
	if r.hooks.PreSplit != nil {
		r.hooks.PreSplit(reg.Data())
	}
}

// AddCell marks a cell as active.
func (r *Regions) AddCell(cellX, cellZ int32) {
	r.rz.AddCell(cellX, cellZ)
}

// RemoveCell releases a reference taken by AddCell.
func (r *Regions) RemoveCell(cellX, cellZ int32) {
	r.rz.RemoveCell(cellX, cellZ)
}

// SubmitCellTask queues a task for the region owning a cell.
func (r *Regions) SubmitCellTask(cellX, cellZ int32, t taskqueue.Task) {
	r.tasks.QueueSpatialTask(r.rz.SectionKey(cellX, cellZ), t)
}

// ForEachRegion calls fn for every live region.
func (r *Regions) ForEachRegion(fn func(d *Data)) {
	r.rz.ForEachRegion(func(reg *regionizer.Region[*Data]) {
		fn(reg.Data())
	})
}

// Checks applies pending merges and splits regions whose sections fell apart.
func (r *Regions) Checks() {
	r.rz.MergeCheck()
	r.rz.SplitCheck()
}
