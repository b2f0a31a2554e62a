package telemetry

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
)

// LogStore writes a summary of every batch to a logger.
type LogStore struct {
	Logger *slog.Logger
	// Worst is the number of lowest-TPS regions listed per batch.
	Worst int
}

// SaveSamples implements Store.
func (l LogStore) SaveSamples(ctx context.Context, samples []Sample) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var entities, players int64
	for _, s := range samples {
		entities += s.Entities
		players += s.Players
	}
	logger.InfoContext(ctx, "Region health",
		"samples", len(samples),
		"entities", entities,
		"players", players)

	for _, s := range Lowest(samples, l.Worst) {
		logger.InfoContext(ctx, "Region tps",
			"world", s.World,
			"region", s.RegionID,
			"tps", s.TPS,
			"mspt", s.MSPT,
			"util", s.Utilisation,
			"sections", s.Sections)
	}
	return nil
}

// Lowest returns up to n samples with the lowest 15s TPS, ties broken by
// higher MSPT. The input is not modified.
func Lowest(samples []Sample, n int) []Sample {
	if n <= 0 || len(samples) == 0 {
		return nil
	}
	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, func(a, b Sample) int {
		if c := cmp.Compare(a.TPS, b.TPS); c != 0 {
			return c
		}
		return cmp.Compare(b.MSPT, a.MSPT)
	})
	return sorted[:min(n, len(sorted))]
}
