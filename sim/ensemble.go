package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/pthm-cable/sandpile/config"
	"github.com/pthm-cable/sandpile/telemetry"
)

// seedStride spreads replica seeds over the 64-bit space (golden ratio).
const seedStride uint64 = 0x9E3779B97F4A7C15

// ReplicaSeed derives the seed of replica i from the run seed.
// Replica 0 uses the run seed itself.
func ReplicaSeed(seed int64, i int) int64 {
	return int64(uint64(seed) + uint64(i)*seedStride)
}

// SplitGrains divides total grains over k replicas, giving the remainder
// to the lowest indices.
func SplitGrains(total, k int) []int {
	out := make([]int, k)
	for i := range out {
		out[i] = total / k
		if i < total%k {
			out[i]++
		}
	}
	return out
}

// ReplicaResult is the outcome of one replica pile.
type ReplicaResult struct {
	Replica int
	Seed    int64
	RunID   string
	Summary telemetry.PileSummary

	hist *telemetry.Histograms
	hall *telemetry.HallOfFame
	err  error
}

// EnsembleResult merges the replicas in replica order.
type EnsembleResult struct {
	Replicas   []ReplicaResult
	Histograms *telemetry.Histograms
	HallOfFame *telemetry.HallOfFame

	Dropped  int
	Resident int
	Escaped  int
	Jammed   int
}

// replicaJob is one unit of work for the pool.
type replicaJob struct {
	index  int
	grains int
}

// ensembleState holds the worker pool for a run.
type ensembleState struct {
	cfg        *config.Config
	opts       Options
	seed       int64
	numWorkers int
	results    []ReplicaResult

	workChan chan replicaJob
	wg       sync.WaitGroup
}

// RunEnsemble splits cfg.Run.TotalGrains over cfg.Run.Workers independent
// replica piles and runs them concurrently. Each replica owns its lattice,
// registry and source, so no state is shared while running. Results are
// merged in replica order, which keeps the output independent of
// scheduling. With more than one replica, each writes its files into
// replica_NN under opts.OutputDir and the merged histograms go to
// opts.OutputDir itself.
func RunEnsemble(ctx context.Context, cfg *config.Config, opts Options) (*EnsembleResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := cfg.Run.Workers
	seed := cfg.Run.Seed
	if opts.Seed != 0 {
		seed = opts.Seed
	}

	st := &ensembleState{
		cfg:        cfg,
		opts:       opts,
		seed:       seed,
		numWorkers: min(k, runtime.GOMAXPROCS(0)),
		results:    make([]ReplicaResult, k),
		workChan:   make(chan replicaJob, k),
	}

	slog.Info("starting ensemble",
		"replicas", k,
		"workers", st.numWorkers,
		"grains", cfg.Run.TotalGrains,
		"seed", seed,
	)

	for i := 0; i < st.numWorkers; i++ {
		st.wg.Add(1)
		go st.worker(ctx)
	}
	for i, n := range SplitGrains(cfg.Run.TotalGrains, k) {
		st.workChan <- replicaJob{index: i, grains: n}
	}
	close(st.workChan)
	st.wg.Wait()

	res := &EnsembleResult{
		Replicas:   st.results,
		Histograms: telemetry.NewHistograms(),
		HallOfFame: telemetry.NewHallOfFame(cfg.Telemetry.HallOfFameSize),
	}
	var errs []error
	for _, r := range st.results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("replica %d: %w", r.Replica, r.err))
		}
		if r.hist != nil {
			res.Histograms.Merge(r.hist)
		}
		if r.hall != nil {
			res.HallOfFame.Merge(r.hall)
		}
		res.Dropped += r.Summary.Dropped
		res.Resident += r.Summary.Resident
		res.Escaped += r.Summary.Escaped
		res.Jammed += r.Summary.Jammed
	}

	if k > 1 && opts.OutputDir != "" {
		if err := writeEnsembleOutput(opts.OutputDir, cfg, res); err != nil {
			errs = append(errs, err)
		}
	}

	return res, errors.Join(errs...)
}

// worker runs replicas until the job channel is drained.
func (st *ensembleState) worker(ctx context.Context) {
	defer st.wg.Done()
	for job := range st.workChan {
		st.results[job.index] = st.runReplica(ctx, job)
	}
}

// runReplica builds, runs and finishes one replica pile.
func (st *ensembleState) runReplica(ctx context.Context, job replicaJob) ReplicaResult {
	res := ReplicaResult{Replica: job.index, Seed: ReplicaSeed(st.seed, job.index)}

	opts := st.opts
	opts.Seed = res.Seed
	opts.Replica = job.index
	if opts.OutputDir != "" && st.cfg.Run.Workers > 1 {
		opts.OutputDir = filepath.Join(opts.OutputDir, fmt.Sprintf("replica_%02d", job.index))
	}

	s, err := New(st.cfg, opts)
	if err != nil {
		res.err = err
		return res
	}
	defer s.Close()
	res.RunID = s.RunID()

	runErr := s.Run(ctx, job.grains)
	res.Summary, err = s.Finish()
	res.hist = s.Histograms()
	res.hall = s.HallOfFame()
	res.err = errors.Join(runErr, err)
	return res
}

// writeEnsembleOutput writes the merged artifacts at the top of the
// output directory.
func writeEnsembleOutput(dir string, cfg *config.Config, res *EnsembleResult) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := cfg.WriteYAML(filepath.Join(dir, "config.yaml")); err != nil {
		return err
	}
	if res.HallOfFame.Size() > 0 {
		if err := telemetry.WriteHallOfFameCSV(filepath.Join(dir, "largest.csv"), res.HallOfFame); err != nil {
			return err
		}
	}
	if err := telemetry.WriteHistogramCSVs(dir, res.Histograms); err != nil {
		return err
	}
	return writeCharts(dir, cfg, res.Histograms)
}
