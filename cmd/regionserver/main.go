package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/regionized/internal/config"
	"github.com/udisondev/regionized/internal/db"
	"github.com/udisondev/regionized/internal/gameserver"
	"github.com/udisondev/regionized/internal/sim"
	"github.com/udisondev/regionized/internal/telemetry"
	"github.com/udisondev/regionized/internal/world"
)

const (
	ConfigPath     = "config/regionserver.yaml"
	healthInterval = 10 * time.Second
	healthWorst    = 5
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("Fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("REGIONIZED_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("Regionized server starting", "config", cfgPath, "log_level", cfg.LogLevel)

	stores := telemetry.MultiStore{telemetry.LogStore{Worst: cfg.Telemetry.Worst}}

	var health *db.HealthRepository
	if cfg.Telemetry.Persist {
		if _, err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()

		health = db.NewHealthRepository(database.Pool(), uuid.New())
		stores = append(stores, health)
		slog.Info("Database connected", "run", health.RunID())
	}

	opts := gameserver.Options{
		Workers:              cfg.TickThreads(),
		TickInterval:         cfg.Scheduler.TickInterval(),
		ConnectionsPerSecond: cfg.Admission.ConnectionsPerSecond,
		ConnectionBurst:      cfg.Admission.Burst,
	}
	if cfg.Telemetry.Enabled {
		opts.Sampler = telemetry.NewSampler(cfg.Telemetry.IntervalTicks, cfg.Telemetry.BufferSize)
		opts.Store = stores
	}
	srv := gameserver.New(opts)

	names := make([]string, 0, len(cfg.Worlds))
	for i, wc := range cfg.Worlds {
		w, err := srv.AddWorld(world.Options{
			Name:          wc.Name,
			Regionizer:    cfg.Regions.Regionizer(),
			DaylightCycle: wc.DaylightCycle,
			WeatherCycle:  wc.WeatherCycle,
			Seed:          wc.Seed,
		})
		if err != nil {
			return fmt.Errorf("adding world: %w", err)
		}
		names = append(names, wc.Name)

		s := sim.New(w.Regions(), cfg.Simulation.Bounds)
		if err := srv.AddRegionTicker(wc.Name, s); err != nil {
			return fmt.Errorf("adding simulation: %w", err)
		}
		rng := rand.New(rand.NewPCG(wc.Seed, uint64(i)))
		s.SpawnRandom(rng, cfg.Simulation.Walkers, cfg.Simulation.Radius, cfg.Simulation.Speed, cfg.Simulation.PlayerEvery, 0)
		slog.Info("Simulation spawned", "world", wc.Name, "walkers", cfg.Simulation.Walkers)
	}

	if health != nil {
		if err := health.StartRun(ctx, time.Now(), cfg.TickThreads(), names); err != nil {
			return fmt.Errorf("recording server run: %w", err)
		}
		defer func() {
			if err := health.FinishRun(context.WithoutCancel(ctx), time.Now()); err != nil {
				slog.Error("Failed to record server stop", "err", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		logHealth(gctx, srv)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Regionized server stopped")
	return nil
}

// logHealth prints the server health report until ctx is cancelled.
func logHealth(ctx context.Context, srv *gameserver.Server) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Info("Server health", "health", srv.HealthReport(healthWorst))
		}
	}
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
