package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/regionized/internal/telemetry"
)

var healthColumns = []string{
	"run_id", "sampled_at", "world", "region_id", "sections", "cells",
	"entities", "players", "tps", "mspt", "utilisation", "tps_1m",
}

// HealthRepository stores region health samples of one server run.
type HealthRepository struct {
	db    *pgxpool.Pool
	runID uuid.UUID
}

// NewHealthRepository creates a repository writing samples for runID.
func NewHealthRepository(db *pgxpool.Pool, runID uuid.UUID) *HealthRepository {
	return &HealthRepository{db: db, runID: runID}
}

// RunID returns the server run the repository writes to.
func (r *HealthRepository) RunID() uuid.UUID {
	return r.runID
}

func (r *HealthRepository) runKey() pgtype.UUID {
	return pgtype.UUID{Bytes: r.runID, Valid: true}
}

// StartRun records the start of a server run.
func (r *HealthRepository) StartRun(ctx context.Context, startedAt time.Time, workers int, worlds []string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO server_runs (run_id, started_at, workers, worlds)
		 VALUES ($1, $2, $3, $4)`,
		r.runKey(), startedAt, workers, worlds,
	)
	if err != nil {
		return fmt.Errorf("inserting server run %s: %w", r.runID, err)
	}
	return nil
}

// FinishRun records the end of the server run.
func (r *HealthRepository) FinishRun(ctx context.Context, stoppedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE server_runs SET stopped_at = $1 WHERE run_id = $2`,
		stoppedAt, r.runKey(),
	)
	if err != nil {
		return fmt.Errorf("finishing server run %s: %w", r.runID, err)
	}
	return nil
}

// SaveSamples implements telemetry.Store.
func (r *HealthRepository) SaveSamples(ctx context.Context, samples []telemetry.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	run := r.runKey()
	rows := make([][]any, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []any{
			run, s.SampledAt, s.World, s.RegionID, int32(s.Sections), s.Cells,
			s.Entities, s.Players, s.TPS, s.MSPT, s.Utilisation, s.TPS1m,
		})
	}

	n, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"region_health"},
		healthColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("inserting %d health samples: %w", len(samples), err)
	}

	slog.Debug("Saved region health", "run", r.runID, "rows", n)
	return nil
}

// Lowest returns up to limit samples of this run taken since the given time,
// lowest TPS first.
func (r *HealthRepository) Lowest(ctx context.Context, since time.Time, limit int) ([]telemetry.Sample, error) {
	query := `
		SELECT sampled_at, world, region_id, sections, cells, entities, players,
		       tps, mspt, utilisation, tps_1m
		FROM region_health
		WHERE run_id = $1 AND sampled_at >= $2
		ORDER BY tps ASC, mspt DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, r.runKey(), since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying health samples: %w", err)
	}
	defer rows.Close()

	samples := make([]telemetry.Sample, 0, limit)
	for rows.Next() {
		var (
			s        telemetry.Sample
			sections int32
		)
		if err := rows.Scan(&s.SampledAt, &s.World, &s.RegionID, &sections, &s.Cells,
			&s.Entities, &s.Players, &s.TPS, &s.MSPT, &s.Utilisation, &s.TPS1m); err != nil {
			return nil, fmt.Errorf("scanning health row: %w", err)
		}
		s.Sections = int(sections)
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating health rows: %w", err)
	}

	return samples, nil
}

// Prune deletes samples taken before the given time, across all runs.
func (r *HealthRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM region_health WHERE sampled_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("pruning health samples: %w", err)
	}
	return tag.RowsAffected(), nil
}
