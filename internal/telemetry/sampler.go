package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const saveTimeout = 5 * time.Second

// Sampler collects samples every few global ticks and queues them for Run.
// Tick never blocks: a batch is dropped when the writer falls behind.
type Sampler struct {
	every   int
	elapsed int

	out     chan []Sample
	dropped atomic.Int64
	saved   atomic.Int64
}

// NewSampler samples every everyTicks global ticks and buffers up to buffer batches.
func NewSampler(everyTicks, buffer int) *Sampler {
	return &Sampler{
		every: max(1, everyTicks),
		out:   make(chan []Sample, max(1, buffer)),
	}
}

// Tick advances the sampling clock. collect is called when a sample is due.
// Must be called from the global tick.
func (s *Sampler) Tick(tickCount int, collect func() []Sample) {
	s.elapsed += tickCount
	if s.elapsed < s.every {
		return
	}
	s.elapsed = 0

	batch := collect()
	if len(batch) == 0 {
		return
	}

	select {
	case s.out <- batch:
	default:
		if s.dropped.Add(1) == 1 {
			slog.Warn("Telemetry writer is falling behind, dropping samples", "batch", len(batch))
		}
	}
}

// Dropped returns the number of batches dropped so far.
func (s *Sampler) Dropped() int64 {
	return s.dropped.Load()
}

// Saved returns the number of samples written so far.
func (s *Sampler) Saved() int64 {
	return s.saved.Load()
}

// Run writes queued batches to store until ctx is cancelled, then flushes
// what is left in the buffer.
func (s *Sampler) Run(ctx context.Context, store Store) error {
	slog.Info("Telemetry writer started", "everyTicks", s.every)

	for {
		select {
		case <-ctx.Done():
			s.flush(context.WithoutCancel(ctx), store)
			slog.Info("Telemetry writer stopped", "saved", s.saved.Load(), "dropped", s.dropped.Load())
			return nil

		case batch := <-s.out:
			s.save(ctx, store, batch)
		}
	}
}

func (s *Sampler) flush(ctx context.Context, store Store) {
	for {
		select {
		case batch := <-s.out:
			s.save(ctx, store, batch)
		default:
			return
		}
	}
}

func (s *Sampler) save(ctx context.Context, store Store, batch []Sample) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	if err := store.SaveSamples(ctx, batch); err != nil {
		slog.Error("Saving telemetry samples", "samples", len(batch), "error", err)
		return
	}
	s.saved.Add(int64(len(batch)))
}

// MultiStore writes every batch to each store in turn.
type MultiStore []Store

// SaveSamples implements Store. Every store is attempted; the first error is returned.
func (m MultiStore) SaveSamples(ctx context.Context, samples []Sample) error {
	var first error
	for i, st := range m {
		if err := st.SaveSamples(ctx, samples); err != nil && first == nil {
			first = fmt.Errorf("store %d: %w", i, err)
		}
	}
	return first
}
