// Package telemetry samples region tick statistics on the global tick and
// hands them to a background writer.
package telemetry

import (
	"context"
	"time"

	"github.com/udisondev/regionized/internal/sched"
	"github.com/udisondev/regionized/internal/tickregion"
)

// GlobalWorld is the world name used for samples of the global tick.
const GlobalWorld = "<global>"

// Sample is the health of one region (or of the global tick) at a point in time.
type Sample struct {
	SampledAt time.Time
	World     string
	RegionID  int64
	Sections  int
	Cells     int64
	Entities  int64
	Players   int64

	// 15 second window
	TPS         float64
	MSPT        float64
	Utilisation float64
	// 1 minute window
	TPS1m float64
}

// Store persists samples.
type Store interface {
	SaveSamples(ctx context.Context, samples []Sample) error
}

// RegionSample reads the statistics of a region. Safe to call from any
// goroutine; the values are approximate.
func RegionSample(d *tickregion.Data, now int64, at time.Time) Sample {
	s := HandleSample(d.Handle(), now, at)
	s.World = d.Regions().Name()
	s.RegionID = d.ID()
	s.Sections = d.Region().SectionCount()
	s.Cells = d.Region().CellCount()
	s.Entities = d.Stats().Entities()
	s.Players = d.Stats().Players()
	return s
}

// HandleSample reads the tick timings of a handle.
func HandleSample(h *sched.Handle, now int64, at time.Time) Sample {
	short := h.Report(now, sched.Window15s)
	long := h.Report(now, sched.Window1m)
	return Sample{
		SampledAt:   at,
		World:       GlobalWorld,
		TPS:         short.TPS,
		MSPT:        short.MSPT,
		Utilisation: short.Utilisation,
		TPS1m:       long.TPS,
	}
}
