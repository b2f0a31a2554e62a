package gameserver

import (
	"log/slog"
	"time"

	"github.com/udisondev/regionized/internal/sched"
	"github.com/udisondev/regionized/internal/telemetry"
	"github.com/udisondev/regionized/internal/world"
)

// WorldHealth is the state of one world in a health report.
type WorldHealth struct {
	Name     string
	Stats    world.Stats
	GameTime int64
	DayTime  int64
	Weather  world.Weather
}

// Health is a snapshot of the server's tick health.
type Health struct {
	SampledAt time.Time
	TickCount int64
	Global    telemetry.Sample
	Worlds    []WorldHealth
	// Lowest lists the regions with the lowest TPS first.
	Lowest    []telemetry.Sample
	Regions   int
	Scheduler sched.Stats
	// Utilisation is the summed region utilisation divided by the workers.
	Utilisation        float64
	Connections        int
	PendingConnections int
}

// HealthReport samples every region and returns the n with the lowest TPS.
// Safe to call from any goroutine; the values are approximate.
func (s *Server) HealthReport(n int) Health {
	samples := s.collectSamples()
	h := Health{
		SampledAt:          samples[0].SampledAt,
		TickCount:          s.tickCount.Load(),
		Global:             samples[0],
		Regions:            len(samples) - 1,
		Scheduler:          s.sched.LastStats(),
		Connections:        s.conns.Count(),
		PendingConnections: s.conns.Pending(),
	}

	var util float64
	for _, rs := range samples[1:] {
		util += rs.Utilisation
	}
	h.Utilisation = util / float64(s.sched.Workers())
	h.Lowest = telemetry.Lowest(samples[1:], n)

	for _, we := range s.worldEntries() {
		w := we.world
		h.Worlds = append(h.Worlds, WorldHealth{
			Name:     w.Name(),
			Stats:    w.Stats(),
			GameTime: w.GameTime(),
			DayTime:  w.DayTime(),
			Weather:  w.Weather(),
		})
	}
	return h
}

// LogValue implements slog.LogValuer.
func (h Health) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("ticks", h.TickCount),
		slog.Float64("globalTPS", h.Global.TPS),
		slog.Float64("globalMSPT", h.Global.MSPT),
		slog.Int("regions", h.Regions),
		slog.Float64("util", h.Utilisation),
		slog.Int("connections", h.Connections),
		slog.Int("due", h.Scheduler.Due),
		slog.Duration("maxLag", time.Duration(h.Scheduler.MaxLag)),
	}
	if len(h.Lowest) > 0 {
		attrs = append(attrs,
			slog.Int64("worstRegion", h.Lowest[0].RegionID),
			slog.String("worstWorld", h.Lowest[0].World),
			slog.Float64("worstTPS", h.Lowest[0].TPS))
	}
	return slog.GroupValue(attrs...)
}
