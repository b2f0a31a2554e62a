// Package world holds the top-level world containers: the regions of one
// world plus the world-wide state no region owns (clocks and weather).
package world

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/udisondev/regionized/internal/locsched"
	"github.com/udisondev/regionized/internal/regionizer"
	"github.com/udisondev/regionized/internal/sched"
	"github.com/udisondev/regionized/internal/taskqueue"
	"github.com/udisondev/regionized/internal/tickregion"
)

// DayLength is the number of ticks in a full day.
const DayLength = 24000

// Options configure a world.
type Options struct {
	Name       string
	Regionizer regionizer.Config
	// Interval is the region tick period in nanoseconds.
	Interval      int64
	DaylightCycle bool
	WeatherCycle  bool
	// Seed drives the weather cycle.
	Seed    uint64
	Hooks   tickregion.Hooks
	Context context.Context
}

// Stats is an approximate view of a world, refreshed by the global tick.
type Stats struct {
	Regions  int
	Sections int
	Cells    int64
	Entities int64
	Players  int64
}

// World is one top-level world container.
type World struct {
	name      string
	regions   *tickregion.Regions
	locations *locsched.Scheduler

	daylight     bool
	weatherCycle bool
	weather      *weatherCycle

	gameTime   atomic.Int64
	dayTime    atomic.Int64
	raining    atomic.Bool
	thundering atomic.Bool
	stats      atomic.Pointer[Stats]
}

// New creates a world whose regions tick on s.
func New(s *sched.Scheduler, opts Options) *World {
	w := &World{
		name:         opts.Name,
		daylight:     opts.DaylightCycle,
		weatherCycle: opts.WeatherCycle,
		weather:      newWeatherCycle(opts.Seed),
	}
	w.regions = tickregion.New(s, tickregion.Options{
		Name:       opts.Name,
		Regionizer: opts.Regionizer,
		Interval:   opts.Interval,
		Hooks:      opts.Hooks,
		Context:    opts.Context,
	})
	w.locations = locsched.New(w.regions)
	w.stats.Store(&Stats{})
	return w
}

// Name returns the world name.
func (w *World) Name() string {
	return w.name
}

// Regions returns the world's region manager.
func (w *World) Regions() *tickregion.Regions {
	return w.regions
}

// Locations returns the world's location task scheduler.
func (w *World) Locations() *locsched.Scheduler {
	return w.locations
}

// SubmitCellTask runs t on the region owning the cell.
func (w *World) SubmitCellTask(cellX, cellZ int32, t taskqueue.Task) {
	w.regions.SubmitCellTask(cellX, cellZ, t)
}

// GameTime returns the number of ticks the world has run.
func (w *World) GameTime() int64 {
	return w.gameTime.Load()
}

// DayTime returns the time of day; it wraps every DayLength ticks.
func (w *World) DayTime() int64 {
	return w.dayTime.Load()
}

// Weather returns the current weather.
func (w *World) Weather() Weather {
	return Weather{Raining: w.raining.Load(), Thundering: w.thundering.Load()}
}

// Stats returns the world statistics of the last global tick.
func (w *World) Stats() Stats {
	return *w.stats.Load()
}

// SetClearWeather forces clear weather for ticks global ticks.
// Must be called from the global tick.
func (w *World) SetClearWeather(ticks int) {
	w.weather.setClear(ticks)
	w.publishWeather()
}

// GlobalTick runs the world-wide part of a global tick: hand queued section
// tasks to their regions, advance weather and clocks, refresh statistics and
// apply pending structural changes.
func (w *World) GlobalTick(tickCount int) {
	if n := w.regions.Tasks().ClaimPending(); n > 0 {
		slog.Debug("Claimed pending section tasks", "world", w.name, "tasks", n)
	}

	if w.weatherCycle && w.weather.advance() {
		w.publishWeather()
		ws := w.Weather()
		slog.Debug("Weather changed", "world", w.name, "raining", ws.Raining, "thundering", ws.Thundering)
	}

	w.tickTime(tickCount)
	w.updateStats()
	w.regions.Checks()
}

func (w *World) tickTime(tickCount int) {
	if w.daylight {
		w.dayTime.Store((w.dayTime.Load() + int64(tickCount)) % DayLength)
	}
	w.gameTime.Add(int64(tickCount))
}

func (w *World) publishWeather() {
	ws := w.weather.state()
	w.raining.Store(ws.Raining)
	w.thundering.Store(ws.Thundering)
}

func (w *World) updateStats() {
	var st Stats
	w.regions.ForEachRegion(func(d *tickregion.Data) {
		st.Regions++
		st.Sections += d.Region().SectionCount()
		st.Cells += d.Region().CellCount()
		st.Entities += d.Stats().Entities()
		st.Players += d.Stats().Players()
	})
	w.stats.Store(&st)
}
