package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/udisondev/regionized/internal/regionizer"
)

// Regions configures the regionizer.
type Regions struct {
	// SectionShift is log2 of the section side in cells.
	SectionShift uint `yaml:"section_shift" toml:"section_shift"`
	// MergeRadius is the buffer around active sections, in sections.
	MergeRadius           int32 `yaml:"merge_radius" toml:"merge_radius"`
	RecalcSectionCount    int   `yaml:"recalc_section_count" toml:"recalc_section_count"`
	MaxDeadSectionPercent int   `yaml:"max_dead_section_percent" toml:"max_dead_section_percent"`
}

// Regionizer converts the section to a regionizer config.
func (r Regions) Regionizer() regionizer.Config {
	return regionizer.Config{
		SectionShift:          r.SectionShift,
		MergeRadius:           r.MergeRadius,
		RecalcSectionCount:    r.RecalcSectionCount,
		MaxDeadSectionPercent: r.MaxDeadSectionPercent,
	}
}

// Scheduler configures the tick worker pool.
type Scheduler struct {
	// Threads is the number of region workers; <= 0 derives it from the CPU count.
	Threads  int `yaml:"threads" toml:"threads"`
	TickRate int `yaml:"tick_rate" toml:"tick_rate"`
}

// TickInterval returns the period of one tick.
func (s Scheduler) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickRate)
}

// World configures one top-level world.
type World struct {
	Name          string `yaml:"name" toml:"name"`
	DaylightCycle bool   `yaml:"daylight_cycle" toml:"daylight_cycle"`
	WeatherCycle  bool   `yaml:"weather_cycle" toml:"weather_cycle"`
	Seed          uint64 `yaml:"seed" toml:"seed"`
}

// Admission limits how fast new connections join.
type Admission struct {
	ConnectionsPerSecond float64 `yaml:"connections_per_second" toml:"connections_per_second"`
	Burst                int     `yaml:"burst" toml:"burst"`
}

// Telemetry configures region health sampling.
type Telemetry struct {
	Enabled       bool `yaml:"enabled" toml:"enabled"`
	IntervalTicks int  `yaml:"interval_ticks" toml:"interval_ticks"`
	BufferSize    int  `yaml:"buffer_size" toml:"buffer_size"`
	// Persist writes samples to the database in addition to the log.
	Persist bool `yaml:"persist" toml:"persist"`
	// Worst is the number of lowest-TPS regions logged per sample.
	Worst int `yaml:"worst" toml:"worst"`
}

// Simulation configures the demo walker simulation.
type Simulation struct {
	Walkers     int     `yaml:"walkers" toml:"walkers"`
	Radius      float64 `yaml:"radius" toml:"radius"`
	Speed       float64 `yaml:"speed" toml:"speed"`
	Bounds      float64 `yaml:"bounds" toml:"bounds"`
	PlayerEvery int     `yaml:"player_every" toml:"player_every"`
}

// Server holds all configuration for the region server.
type Server struct {
	LogLevel string `yaml:"log_level" toml:"log_level"`

	Regions    Regions        `yaml:"regions" toml:"regions"`
	Scheduler  Scheduler      `yaml:"scheduler" toml:"scheduler"`
	Worlds     []World        `yaml:"worlds" toml:"worlds"`
	Admission  Admission      `yaml:"admission" toml:"admission"`
	Telemetry  Telemetry      `yaml:"telemetry" toml:"telemetry"`
	Simulation Simulation     `yaml:"simulation" toml:"simulation"`
	Database   DatabaseConfig `yaml:"database" toml:"database"`
}

// Default returns Server config with sensible defaults.
func Default() Server {
	rz := regionizer.DefaultConfig()
	return Server{
		LogLevel: "info",
		Regions: Regions{
			SectionShift:          rz.SectionShift,
			MergeRadius:           rz.MergeRadius,
			RecalcSectionCount:    rz.RecalcSectionCount,
			MaxDeadSectionPercent: rz.MaxDeadSectionPercent,
		},
		Scheduler: Scheduler{
			Threads:  -1,
			TickRate: 20,
		},
		Worlds: []World{
			{Name: "overworld", DaylightCycle: true, WeatherCycle: true, Seed: 1},
		},
		Admission: Admission{
			ConnectionsPerSecond: 10,
			Burst:                20,
		},
		Telemetry: Telemetry{
			Enabled:       true,
			IntervalTicks: 100,
			BufferSize:    16,
			Worst:         3,
		},
		Simulation: Simulation{
			Walkers:     500,
			Radius:      2000,
			Speed:       0.4,
			Bounds:      8000,
			PlayerEvery: 25,
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "regionized",
			Password: "regionized",
			DBName:   "regionized",
			SSLMode:  "disable",
		},
	}
}

// TickThreads returns the number of region workers. A non-positive setting
// is derived from the CPU count.
func (s Server) TickThreads() int {
	if s.Scheduler.Threads > 0 {
		return s.Scheduler.Threads
	}
	return threadsFor(runtime.NumCPU())
}

// threadsFor takes half the cores, then a quarter of that beyond four.
func threadsFor(cpus int) int {
	threads := cpus / 2
	if threads <= 4 {
		return 1
	}
	return threads / 4
}

// Validate reports settings the server cannot run with.
func (s Server) Validate() error {
	var errs []error
	if s.Scheduler.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick_rate must be positive, got %d", s.Scheduler.TickRate))
	}
	if s.Regions.MergeRadius < 1 {
		errs = append(errs, fmt.Errorf("regions.merge_radius must be at least 1, got %d", s.Regions.MergeRadius))
	}
	if s.Regions.SectionShift > 16 {
		errs = append(errs, fmt.Errorf("regions.section_shift must be at most 16, got %d", s.Regions.SectionShift))
	}
	if len(s.Worlds) == 0 {
		errs = append(errs, errors.New("at least one world is required"))
	}
	seen := make(map[string]bool, len(s.Worlds))
	for _, w := range s.Worlds {
		if w.Name == "" {
			errs = append(errs, errors.New("world name must not be empty"))
		}
		if seen[w.Name] {
			errs = append(errs, fmt.Errorf("duplicate world %q", w.Name))
		}
		seen[w.Name] = true
	}
	if s.Admission.ConnectionsPerSecond < 0 || s.Admission.Burst < 0 {
		errs = append(errs, errors.New("admission limits must not be negative"))
	}
	return errors.Join(errs...)
}
