// Package gameserver is the regionized server: it owns the tick scheduler,
// the worlds and their regions, the global tick and the connections.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/regionized/internal/sched"
	"github.com/udisondev/regionized/internal/taskqueue"
	"github.com/udisondev/regionized/internal/telemetry"
	"github.com/udisondev/regionized/internal/tickregion"
	"github.com/udisondev/regionized/internal/world"
)

// ErrUnknownWorld is returned for a world name the server does not have.
var ErrUnknownWorld = errors.New("unknown world")

// Options configure a Server.
type Options struct {
	// Workers is the number of region tick workers.
	Workers      int
	TickInterval time.Duration

	ConnectionsPerSecond float64
	ConnectionBurst      int

	// Sampler and Store enable telemetry; both are optional.
	Sampler *telemetry.Sampler
	Store   telemetry.Store
}

// Server is the regionized server.
type Server struct {
	sched    *sched.Scheduler
	interval int64

	global *globalTick
	handle *sched.Handle
	tasks  *taskqueue.RegionQueue

	conns   *ConnectionManager
	sampler *telemetry.Sampler
	store   telemetry.Store

	mu     sync.RWMutex
	worlds []*worldEntry
	byName map[string]*worldEntry

	ctx       context.Context
	started   atomic.Bool
	tickCount atomic.Int64
}

// New creates a server. Worlds are added with AddWorld before Run.
func New(opts Options) *Server {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 50 * time.Millisecond
	}

	s := &Server{
		sched:    sched.New(opts.Workers),
		interval: int64(opts.TickInterval),
		conns:    NewConnectionManager(opts.ConnectionsPerSecond, opts.ConnectionBurst),
		sampler:  opts.Sampler,
		store:    opts.Store,
		byName:   make(map[string]*worldEntry),
		ctx:      context.Background(),
	}
	s.global = &globalTick{srv: s}
	s.handle = sched.NewReservedHandle(s.global, s.interval, sched.DeadlineNotSet)
	s.tasks = taskqueue.NewRegionQueue(func() {
		s.sched.NotifyTasks(s.handle)
	})
	return s
}

// Scheduler returns the tick scheduler.
func (s *Server) Scheduler() *sched.Scheduler {
	return s.sched
}

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// GlobalHandle returns the handle of the global tick.
func (s *Server) GlobalHandle() *sched.Handle {
	return s.handle
}

// TickCount returns the number of global ticks run, catch-up ticks included.
func (s *Server) TickCount() int64 {
	return s.tickCount.Load()
}

// AddWorld creates a world ticking on the server's scheduler. A zero interval
// uses the server tick interval.
func (s *Server) AddWorld(opts world.Options) (*world.World, error) {
	if opts.Interval <= 0 {
		opts.Interval = s.interval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[opts.Name]; ok {
		return nil, fmt.Errorf("world %q already exists", opts.Name)
	}

	w := world.New(s.sched, opts)
	we := newWorldEntry(w, s.conns)
	s.worlds = append(s.worlds, we)
	s.byName[opts.Name] = we

	slog.Info("World added", "world", opts.Name, "daylight", opts.DaylightCycle, "weather", opts.WeatherCycle)
	return w, nil
}

// AddRegionTicker adds a simulation ticker run on every region of a world
// after its connections and location tasks. Must be called before Run.
func (s *Server) AddRegionTicker(worldName string, t tickregion.Ticker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	we, ok := s.byName[worldName]
	if !ok {
		return fmt.Errorf("add region ticker to %q: %w", worldName, ErrUnknownWorld)
	}
	we.tickers = append(we.tickers, t)
	return nil
}

// World returns a world by name.
func (s *Server) World(name string) (*world.World, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	we, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return we.world, true
}

// Worlds returns all worlds in creation order.
func (s *Server) Worlds() []*world.World {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*world.World, len(s.worlds))
	for i, we := range s.worlds {
		out[i] = we.world
	}
	return out
}

func (s *Server) worldEntries() []*worldEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*worldEntry(nil), s.worlds...)
}

func (s *Server) entry(name string) (*worldEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	we, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("world %q: %w", name, ErrUnknownWorld)
	}
	return we, nil
}

// SubmitGlobalTask queues t for the global tick. Safe for concurrent use.
func (s *Server) SubmitGlobalTask(t taskqueue.Task) {
	s.tasks.Push(0, t)
}

// SubmitRegionTask queues t for the region owning the cell of a world.
// Safe for concurrent use.
func (s *Server) SubmitRegionTask(worldName string, cellX, cellZ int32, t taskqueue.Task) error {
	we, err := s.entry(worldName)
	if err != nil {
		return err
	}
	we.world.SubmitCellTask(cellX, cellZ, t)
	return nil
}

// TransferToRegion hands c to the region owning the cell of a world. Must be
// called by c's current owner.
func (s *Server) TransferToRegion(c *Connection, worldName string, cellX, cellZ int32) error {
	we, err := s.entry(worldName)
	if err != nil {
		return err
	}
	we.adopt(c, cellX, cellZ)
	return nil
}

func (s *Server) context() context.Context {
	return s.ctx
}

// tickGlobal runs the global tick phases in order.
func (s *Server) tickGlobal(tickCount int) {
	ctx := s.context()
	s.tickCount.Add(int64(tickCount))

	s.tasks.Drain(ctx, nil)

	s.sched.Bookkeeping(sched.Now())

	s.conns.tickGlobal(ctx, time.Now())

	entries := s.worldEntries()
	for _, we := range entries {
		we.world.GlobalTick(tickCount)
	}

	if n := s.conns.tickFallback(ctx); n > 0 {
		slog.Debug("Ticked connections of inactive regions", "count", n)
	}

	if s.sampler != nil {
		s.sampler.Tick(tickCount, s.collectSamples)
	}
}

func (s *Server) collectSamples() []telemetry.Sample {
	now, at := sched.Now(), time.Now()
	samples := []telemetry.Sample{telemetry.HandleSample(s.handle, now, at)}
	for _, we := range s.worldEntries() {
		we.world.Regions().ForEachRegion(func(d *tickregion.Data) {
			samples = append(samples, telemetry.RegionSample(d, now, at))
		})
	}
	return samples
}

// Run schedules the global tick and runs the workers (and the telemetry
// writer, if configured) until ctx is cancelled. A server runs once.
func (s *Server) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("server already started")
	}

	s.ctx = ctx
	s.handle.CheckInitialSchedule(sched.Now())
	s.sched.Schedule(s.handle)
	defer s.sched.Deschedule(s.handle)

	slog.Info("Regionized server started",
		"workers", s.sched.Workers(),
		"tickInterval", time.Duration(s.interval),
		"worlds", len(s.worldEntries()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.sched.Run(gctx)
	})
	if s.sampler != nil && s.store != nil {
		g.Go(func() error {
			return s.sampler.Run(gctx, s.store)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("running server: %w", err)
	}
	slog.Info("Regionized server stopped", "ticks", s.tickCount.Load())
	return nil
}
