// Package sim drives a sandpile run: it builds the lattice and engine from
// config, drops grains one at a time and routes every avalanche report to
// telemetry, CSV output and the optional store.
package sim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/sandpile/config"
	"github.com/pthm-cable/sandpile/lattice"
	"github.com/pthm-cable/sandpile/powerlaw"
	"github.com/pthm-cable/sandpile/store"
	"github.com/pthm-cable/sandpile/systems"
	"github.com/pthm-cable/sandpile/telemetry"
)

// storeBatchSize is the number of reports buffered before a store insert.
const storeBatchSize = 500

// Options configures a Simulation beyond the config file.
type Options struct {
	Seed      int64  // overrides cfg.Run.Seed when non-zero
	Replica   int    // replica index within an ensemble
	LogStats  bool   // log window and perf stats via slog
	OutputDir string // empty disables file output
	DB        *store.DB

	// StatsCallback is called with every flushed window.
	StatsCallback func(telemetry.WindowStats)
}

// Simulation holds one pile and its telemetry.
type Simulation struct {
	cfg     *config.Config
	seed    int64
	replica int

	lat    *lattice.Lattice
	reg    *systems.GrainRegistry
	engine *systems.Engine

	// Telemetry
	collector     *telemetry.Collector
	perfCollector *telemetry.PerfCollector
	bookmarks     *telemetry.BookmarkDetector
	hall          *telemetry.HallOfFame
	output        *telemetry.OutputManager
	logStats      bool
	statsCallback func(telemetry.WindowStats)

	// Store
	db      *store.DB
	runID   string
	pending []systems.Report

	drop int
}

// New builds a simulation from cfg. The lattice thresholds are jittered
// with the capacity and resilience power laws drawn from the run's source.
func New(cfg *config.Config, opts Options) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Run.Seed
	if opts.Seed != 0 {
		seed = opts.Seed
	}
	src := powerlaw.NewSource(seed)

	pl := cfg.PowerLaw
	capDist, err := powerlaw.New(pl.AlphaCapacity, pl.XMin)
	if err != nil {
		return nil, fmt.Errorf("capacity jitter: %w", err)
	}
	resDist, err := powerlaw.New(pl.AlphaResilience, pl.XMin)
	if err != nil {
		return nil, fmt.Errorf("resilience jitter: %w", err)
	}

	ext := lattice.Extents{X: cfg.Lattice.XSize, Y: cfg.Lattice.YSize, Z: cfg.Lattice.ZSize}
	lat, err := lattice.New(ext, cfg.Lattice.BaseCapacity, cfg.Lattice.BaseResilience,
		capDist.Jitter(src), resDist.Jitter(src))
	if err != nil {
		return nil, err
	}

	reg := systems.NewGrainRegistry()
	engine, err := systems.NewEngine(lat, reg, src, engineConfig(cfg))
	if err != nil {
		return nil, err
	}

	s := &Simulation{
		cfg:           cfg,
		seed:          seed,
		replica:       opts.Replica,
		lat:           lat,
		reg:           reg,
		engine:        engine,
		collector:     telemetry.NewCollector(cfg.Telemetry.StatsWindow),
		perfCollector: telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		bookmarks: telemetry.NewBookmarkDetector(cfg.Telemetry.BookmarkHistorySize, telemetry.BookmarkThresholds{
			RecordMinGrains:    cfg.Bookmarks.RecordMinGrains,
			EscapeBurst:        cfg.Bookmarks.EscapeBurst,
			SteadyStateCV:      cfg.Bookmarks.SteadyStateCV,
			SteadyStateWindows: cfg.Bookmarks.SteadyStateWindows,
		}),
		hall:          telemetry.NewHallOfFame(cfg.Telemetry.HallOfFameSize).ForReplica(opts.Replica),
		logStats:      opts.LogStats,
		statsCallback: opts.StatsCallback,
		db:            opts.DB,
	}

	s.output, err = telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := s.output.WriteConfig(cfg); err != nil {
		s.output.Close()
		return nil, fmt.Errorf("writing config snapshot: %w", err)
	}

	if s.db != nil {
		run, err := s.db.CreateRun(context.Background(), store.Run{
			Seed:    seed,
			XSize:   ext.X,
			YSize:   ext.Y,
			ZSize:   ext.Z,
			Replica: opts.Replica,
		})
		if err != nil {
			s.output.Close()
			return nil, err
		}
		s.runID = run.ID
	}

	slog.Debug("simulation created",
		"seed", seed,
		"replica", opts.Replica,
		"extents", fmt.Sprintf("%dx%dx%d", ext.X, ext.Y, ext.Z),
		"run_id", s.runID,
	)
	return s, nil
}

// engineConfig maps the physics and power-law sections onto the engine.
func engineConfig(cfg *config.Config) systems.EngineConfig {
	return systems.EngineConfig{
		XMin:                  cfg.PowerLaw.XMin,
		AlphaLanding:          cfg.PowerLaw.AlphaLanding,
		AlphaExtraEnergy:      cfg.PowerLaw.AlphaExtraEnergy,
		AlphaAvalancheSize:    cfg.PowerLaw.AlphaAvalancheSize,
		TerminalFreeFallSpeed: cfg.Physics.TerminalFreeFallSpeed,
		MaxRollAttempts:       cfg.Physics.MaxRollAttempts,
		MaxPasses:             cfg.Physics.MaxPasses,
	}
}

// Step drops one grain, runs its avalanche to completion and records it.
func (s *Simulation) Step() (systems.Report, error) {
	s.perfCollector.StartDrop()

	s.perfCollector.StartPhase(telemetry.PhaseLanding)
	x, y := s.engine.SampleLanding()

	s.perfCollector.StartPhase(telemetry.PhaseStabilize)
	r, err := s.engine.DropAt(x, y)
	if err != nil {
		s.perfCollector.EndDrop()
		return r, fmt.Errorf("drop %d: %w", s.drop+1, err)
	}
	s.drop++

	s.perfCollector.StartPhase(telemetry.PhaseTelemetry)
	s.recordReport(r)
	s.flushTelemetry(false)

	s.perfCollector.StartPhase(telemetry.PhaseStore)
	if s.db != nil {
		s.pending = append(s.pending, r)
		if len(s.pending) >= storeBatchSize {
			s.flushStore(context.Background())
		}
	}

	s.perfCollector.EndDrop()
	return r, nil
}

// Run drops n grains, checking ctx between drops.
func (s *Simulation) Run(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			slog.Warn("run cancelled", "drop", s.drop, "replica", s.replica, "remaining", n-i)
			return err
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Finish flushes the last partial window and writes the end-of-run
// artifacts: histograms, plots, charts, the hall of fame, the pile dump
// and the validation summary. The summary is returned even when the pile
// fails validation.
func (s *Simulation) Finish() (telemetry.PileSummary, error) {
	s.flushTelemetry(true)
	s.flushStore(context.Background())

	summary, validErr := telemetry.SummarizePile(s.lat, s.engine.Dropped(), s.engine.Escaped(), s.engine.Jammed())

	if s.db != nil {
		if err := s.db.SetGrains(context.Background(), s.runID, s.drop); err != nil {
			slog.Error("failed to update run", "error", err)
		}
	}

	if dir := s.output.Dir(); dir != "" {
		if err := s.output.WritePile(s.lat, summary); err != nil {
			return summary, err
		}
		if err := s.output.WriteHallOfFame(s.hall); err != nil {
			return summary, err
		}
		if err := s.output.WriteHistograms(s.collector.Histograms()); err != nil {
			return summary, err
		}
		if err := writeCharts(dir, s.cfg, s.collector.Histograms()); err != nil {
			return summary, err
		}
	}

	slog.Info("run finished",
		"replica", s.replica,
		"seed", s.seed,
		"dropped", summary.Dropped,
		"resident", summary.Resident,
		"escaped", summary.Escaped,
		"jammed", summary.Jammed,
		"empty_cells", summary.EmptyCells,
		"conserved", summary.Conserved,
		"valid", summary.Valid,
	)
	if validErr != nil {
		return summary, fmt.Errorf("pile validation: %w", validErr)
	}
	if !summary.Conserved {
		return summary, fmt.Errorf("grain conservation: %d dropped, %d resident, %d escaped, %d jammed",
			summary.Dropped, summary.Resident, summary.Escaped, summary.Jammed)
	}
	return summary, nil
}

// Close flushes and closes output files.
func (s *Simulation) Close() error {
	return s.output.Close()
}

// Drop returns the number of grains dropped so far.
func (s *Simulation) Drop() int { return s.drop }

// Seed returns the seed the run was built from.
func (s *Simulation) Seed() int64 { return s.seed }

// RunID returns the store run id, or "" without a store.
func (s *Simulation) RunID() string { return s.runID }

// Lattice returns the pile.
func (s *Simulation) Lattice() *lattice.Lattice { return s.lat }

// Engine returns the avalanche engine.
func (s *Simulation) Engine() *systems.Engine { return s.engine }

// Histograms returns the run-wide avalanche histograms.
func (s *Simulation) Histograms() *telemetry.Histograms { return s.collector.Histograms() }

// HallOfFame returns the largest avalanches so far.
func (s *Simulation) HallOfFame() *telemetry.HallOfFame { return s.hall }
