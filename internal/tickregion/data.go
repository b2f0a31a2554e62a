package tickregion

import (
	"context"
	"sync/atomic"

	"github.com/udisondev/regionized/internal/regionizer"
	"github.com/udisondev/regionized/internal/sched"
	"github.com/udisondev/regionized/internal/taskqueue"
)

// Stats are region counters published for introspection. Written by the
// ticking goroutine, readable from anywhere.
type Stats struct {
	entities atomic.Int64
	players  atomic.Int64
	ticks    atomic.Int64
}

// Set publishes the entity and player counts.
func (s *Stats) Set(entities, players int64) {
	s.entities.Store(entities)
	s.players.Store(players)
}

// Entities returns the last published entity count.
func (s *Stats) Entities() int64 { return s.entities.Load() }

// Players returns the last published player count.
func (s *Stats) Players() int64 { return s.players.Load() }

// Ticks returns the number of ticks this region data has run.
func (s *Stats) Ticks() int64 { return s.ticks.Load() }

// Data is the payload of a region: its tick handle, task queue and keyed
// region-local values.
type Data struct {
	regions *Regions
	region  *regionizer.Region[*Data]

	handle atomic.Pointer[sched.Handle]
	queue  *taskqueue.RegionQueue
	values []any

	// deactivated at least once; the next activation must not catch up
	idle bool

	stats Stats
}

func newData(regions *Regions, r *regionizer.Region[*Data]) *Data {
	d := &Data{
		regions: regions,
		region:  r,
		values:  make([]any, regions.registry.Len()),
	}
	d.queue = taskqueue.NewRegionQueue(d.notifyTasks)
	d.handle.Store(sched.NewHandle(d, regions.interval, sched.DeadlineNotSet))
	return d
}

// ID returns the region id.
func (d *Data) ID() int64 {
	return d.region.ID()
}

// Region returns the region this data belongs to.
func (d *Data) Region() *regionizer.Region[*Data] {
	return d.region
}

// Regions returns the world-level region manager.
func (d *Data) Regions() *Regions {
	return d.regions
}

// Handle returns the current tick handle.
func (d *Data) Handle() *sched.Handle {
	return d.handle.Load()
}

// Queue returns the region's affinity task queue.
func (d *Data) Queue() *taskqueue.RegionQueue {
	return d.queue
}

// Stats returns the region counters.
func (d *Data) Stats() *Stats {
	return &d.stats
}

// CurrentTick returns the region's tick counter. Only stable on the ticking goroutine.
func (d *Data) CurrentTick() int64 {
	return d.handle.Load().CurrentTick()
}

// Report returns tick statistics over window.
func (d *Data) Report(now, window int64) sched.TickReport {
	return d.handle.Load().Report(now, window)
}

// TryMarkTicking implements sched.Tickable.
func (d *Data) TryMarkTicking(abort func() bool) bool {
	return d.region.TryMarkTicking(abort)
}

// MarkNotTicking implements sched.Tickable.
func (d *Data) MarkNotTicking() bool {
	return d.region.MarkNotTicking()
}

// Tick implements sched.Tickable: claim tasks for owned sections, run the
// tasks queued before the tick, then run the simulation.
func (d *Data) Tick(_ *sched.Handle, tickCount int, startTime, scheduledEnd int64) {
	ctx := WithRegion(d.regions.ctx, d)

	d.regions.tasks.ClaimPending()
	d.queue.RunSnapshot(ctx)

	if d.regions.ticker != nil {
		d.regions.ticker.TickRegion(ctx, d, tickCount, startTime, scheduledEnd)
	}
	d.stats.ticks.Add(1)
}

// RunTasks implements sched.Tickable.
func (d *Data) RunTasks(canContinue func() bool) bool {
	return d.queue.Drain(WithRegion(d.regions.ctx, d), canContinue)
}

// HasTasks implements sched.Tickable.
func (d *Data) HasTasks() bool {
	return d.queue.HasTasks()
}

func (d *Data) notifyTasks() {
	if h := d.handle.Load(); h != nil {
		d.regions.sched.NotifyTasks(h)
	}
}

func (d *Data) value(i int) any {
	if i >= len(d.values) {
		return nil
	}
	return d.values[i]
}

func (d *Data) setValue(i int, v any) {
	if i >= len(d.values) {
		grown := make([]any, i+1)
		copy(grown, d.values)
		d.values = grown
	}
	d.values[i] = v
}

type regionCtxKey struct{}

// WithRegion returns a context carrying the region being ticked.
func WithRegion(ctx context.Context, d *Data) context.Context {
	return context.WithValue(ctx, regionCtxKey{}, d)
}

// Current returns the region carried by ctx, or nil outside a region tick.
func Current(ctx context.Context) *Data {
	d, _ := ctx.Value(regionCtxKey{}).(*Data)
	return d
}
