package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/pthm-cable/sandpile/config"
	"github.com/pthm-cable/sandpile/sim"
	"github.com/pthm-cable/sandpile/store"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = config seed, -1 = time-based)")
	grains := flag.Int("grains", 0, "Grains to drop (0 = use config)")
	workers := flag.Int("workers", 0, "Independent replica piles run in parallel (0 = use config)")
	maxPasses := flag.Int("max-passes", 0, "Stabilization pass budget per avalanche (0 = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, plots and config snapshot")
	dbPath := flag.String("db", "", "SQLite file for run and avalanche persistence")
	logStats := flag.Bool("log-stats", false, "Output window stats via slog")
	display := flag.Bool("display", false, "Print the final pile layer by layer")
	verbose := flag.Bool("v", false, "Debug logging")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	switch {
	case *seed == -1:
		cfg.Run.Seed = time.Now().UnixNano()
	case *seed != 0:
		cfg.Run.Seed = *seed
	}
	if *grains > 0 {
		cfg.Run.TotalGrains = *grains
	}
	if *workers > 0 {
		cfg.Run.Workers = *workers
	}
	if *maxPasses > 0 {
		cfg.Physics.MaxPasses = *maxPasses
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid parameters", "error", err)
		os.Exit(1)
	}

	opts := sim.Options{
		LogStats:  *logStats,
		OutputDir: *outputDir,
	}
	if *dbPath != "" {
		db, err := store.Open(*dbPath)
		if err != nil {
			slog.Error("failed to open store", "path", *dbPath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		opts.DB = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	slog.Info("starting simulation",
		"seed", cfg.Run.Seed,
		"grains", cfg.Run.TotalGrains,
		"workers", cfg.Run.Workers,
		"extents", cfg.Derived.Extents,
		"output_dir", *outputDir,
	)
	start := time.Now()

	if cfg.Run.Workers > 1 {
		res, err := sim.RunEnsemble(ctx, cfg, opts)
		if err != nil {
			slog.Error("ensemble failed", "error", err)
			os.Exit(1)
		}
		slog.Info("ensemble finished",
			"replicas", len(res.Replicas),
			"dropped", res.Dropped,
			"resident", res.Resident,
			"escaped", res.Escaped,
			"jammed", res.Jammed,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return
	}

	s, err := sim.New(cfg, opts)
	if err != nil {
		slog.Error("failed to build simulation", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	runErr := s.Run(ctx, cfg.Run.TotalGrains)
	if _, err := s.Finish(); err != nil {
		slog.Error("run did not validate", "error", err)
		s.Close()
		os.Exit(1)
	}
	if runErr != nil {
		slog.Warn("run stopped early", "drop", s.Drop(), "error", runErr)
	}

	if *display {
		if err := s.Lattice().Display(os.Stdout); err != nil {
			slog.Error("failed to display pile", "error", err)
		}
	}

	slog.Info("done",
		"drops", s.Drop(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}
