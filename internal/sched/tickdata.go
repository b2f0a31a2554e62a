package sched

import (
	"sync"
	"time"
)

// Report windows used by health reporting.
const (
	Window15s = int64(15 * time.Second)
	Window1m  = int64(time.Minute)
)

type tickRecord struct {
	start     int64
	end       int64
	tickCount int
}

// TickReport summarises ticks inside a time window.
type TickReport struct {
	Ticks       int     // ticks executed (catch-up ticks counted individually)
	TPS         float64 // ticks per second
	MSPT        float64 // mean milliseconds per tick
	MaxMSPT     float64 // slowest tick in milliseconds
	Utilisation float64 // fraction of the window spent ticking (0..1)
}

// TickData keeps tick timings for the last minute.
// Written by the ticking goroutine, read by reporters.
type TickData struct {
	mu      sync.Mutex
	records []tickRecord
	keep    int64
}

// NewTickData creates tick data retaining records for keep nanoseconds.
func NewTickData(keep int64) *TickData {
	if keep <= 0 {
		keep = Window1m
	}
	return &TickData{
		records: make([]tickRecord, 0, 128),
		keep:    keep,
	}
}

// Add records one tick.
func (d *TickData) Add(start, end int64, tickCount int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.records = append(d.records, tickRecord{start: start, end: end, tickCount: tickCount})

	cutoff := end - d.keep
	drop := 0
	for drop < len(d.records) && d.records[drop].end < cutoff {
		drop++
	}
	if drop > 0 {
		d.records = append(d.records[:0], d.records[drop:]...)
	}
}

// Report computes statistics for the window ending at now.
func (d *TickData) Report(now, window int64) TickReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		rep     TickReport
		busy    int64
		first   int64 = -1
		samples int
	)

	from := now - window
	for _, r := range d.records {
		if r.start < from {
			continue
		}
		if first < 0 {
			first = r.start
		}
		dur := r.end - r.start
		busy += dur
		samples++
		rep.Ticks += r.tickCount
		if ms := float64(dur) / float64(time.Millisecond); ms > rep.MaxMSPT {
			rep.MaxMSPT = ms
		}
	}

	if samples == 0 {
		return rep
	}

	span := now - first
	if span <= 0 {
		span = 1
	}
	if span > window {
		span = window
	}

	rep.TPS = float64(rep.Ticks) / (float64(span) / float64(time.Second))
	rep.MSPT = float64(busy) / float64(samples) / float64(time.Millisecond)
	rep.Utilisation = float64(busy) / float64(span)
	if rep.Utilisation > 1 {
		rep.Utilisation = 1
	}
	return rep
}
