package sim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pthm-cable/sandpile/config"
	"github.com/pthm-cable/sandpile/lattice"
	"github.com/pthm-cable/sandpile/store"
	"github.com/pthm-cable/sandpile/systems"
	"github.com/pthm-cable/sandpile/telemetry"
)

// testConfig returns the defaults shrunk to a 7x7x4 pile.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Defaults()
	if err != nil {
		t.Fatalf("config.Defaults: %v", err)
	}
	cfg.Lattice.XSize = 7
	cfg.Lattice.YSize = 7
	cfg.Lattice.ZSize = 4
	cfg.Run.TotalGrains = 300
	cfg.Run.Seed = 7
	cfg.Telemetry.StatsWindow = 50
	cfg.Telemetry.PerfCollectorWindow = 10
	return cfg
}

func newTestSim(t *testing.T, cfg *config.Config, opts Options) *Simulation {
	t.Helper()
	s, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustStep(t *testing.T, s *Simulation) systems.Report {
	t.Helper()
	r, err := s.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	return r
}

// ---------- Construction ----------

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Workers = 0
	if _, err := New(cfg, Options{}); !errors.Is(err, lattice.ErrInvalidParameter) {
		t.Errorf("err = %v, want ErrInvalidParameter", err)
	}
}

func TestNew_SeedOverride(t *testing.T) {
	cfg := testConfig(t)
	if got := newTestSim(t, cfg, Options{}).Seed(); got != 7 {
		t.Errorf("seed = %d, want config seed 7", got)
	}
	if got := newTestSim(t, cfg, Options{Seed: 99}).Seed(); got != 99 {
		t.Errorf("seed = %d, want override 99", got)
	}
}

// ---------- Running ----------

func TestRun_ConservesGrains(t *testing.T) {
	s := newTestSim(t, testConfig(t), Options{})

	if err := s.Run(context.Background(), 300); err != nil {
		t.Fatalf("Run: %v", err)
	}
	summary, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if summary.Dropped != 300 || s.Drop() != 300 {
		t.Errorf("dropped = %d (drop counter %d), want 300", summary.Dropped, s.Drop())
	}
	if !summary.Conserved || !summary.Valid {
		t.Errorf("summary = %+v, want conserved and valid", summary)
	}
	if summary.Resident+summary.Escaped+summary.Jammed != 300 {
		t.Errorf("resident %d + escaped %d + jammed %d != 300", summary.Resident, summary.Escaped, summary.Jammed)
	}
	if got := s.Histograms().ByGrains.Total(); got != 300 {
		t.Errorf("histogram total = %d, want 300", got)
	}
}

func TestRun_Deterministic(t *testing.T) {
	cfg := testConfig(t)
	run := func() []systems.Report {
		s := newTestSim(t, cfg, Options{})
		var out []systems.Report
		for i := 0; i < 200; i++ {
			out = append(out, mustStep(t, s))
		}
		return out
	}

	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("same seed produced different reports (-first +second):\n%s", diff)
	}
}

func TestRun_Cancelled(t *testing.T) {
	s := newTestSim(t, testConfig(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if s.Drop() != 0 {
		t.Errorf("drop = %d after cancelled run, want 0", s.Drop())
	}
}

func TestRun_StatsWindows(t *testing.T) {
	var windows []telemetry.WindowStats
	s := newTestSim(t, testConfig(t), Options{
		StatsCallback: func(ws telemetry.WindowStats) { windows = append(windows, ws) },
	})

	if err := s.Run(context.Background(), 120); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("windows = %d before finish, want 2", len(windows))
	}
	if _, err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	// Finish flushes the partial 100..120 window.
	var ends []int
	avalanches := 0
	for _, w := range windows {
		ends = append(ends, w.WindowEndDrop)
		avalanches += w.Avalanches
	}
	if diff := cmp.Diff([]int{50, 100, 120}, ends); diff != "" {
		t.Errorf("window ends mismatch (-want +got):\n%s", diff)
	}
	if avalanches != 120 {
		t.Errorf("avalanches across windows = %d, want 120", avalanches)
	}
}

// ---------- Output ----------

func TestFinish_WritesOutput(t *testing.T) {
	dir := t.TempDir()
	s := newTestSim(t, testConfig(t), Options{OutputDir: dir})

	if err := s.Run(context.Background(), 300); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, name := range []string{
		"config.yaml", "avalanches.csv", "telemetry.csv", "perf.csv", "bookmarks.csv",
		"hist_grains.csv", "hist_movement.csv", "hist_product.csv", "hist_grains.png",
		"charts.html", "largest.csv", "pile.txt", "summary.csv",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "avalanches.csv"))
	if err != nil {
		t.Fatalf("reading avalanches.csv: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 301 {
		t.Errorf("avalanches.csv lines = %d, want header + 300", lines)
	}

	data, err = os.ReadFile(filepath.Join(dir, "telemetry.csv"))
	if err != nil {
		t.Fatalf("reading telemetry.csv: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 7 {
		t.Errorf("telemetry.csv lines = %d, want header + 6 windows", lines)
	}

	loaded, err := config.Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config snapshot does not load: %v", err)
	}
	if loaded.Lattice.XSize != 7 || loaded.Run.Seed != 7 {
		t.Errorf("config snapshot = %+v", loaded.Lattice)
	}
}

// ---------- Store ----------

func TestRun_Store(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer db.Close()

	s := newTestSim(t, testConfig(t), Options{DB: db})
	var want []systems.Report
	for i := 0; i < 120; i++ {
		want = append(want, mustStep(t, s))
	}
	if _, err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := db.LoadAvalanches(ctx, s.RunID())
	if err != nil {
		t.Fatalf("LoadAvalanches: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored reports mismatch (-want +got):\n%s", diff)
	}

	run, err := db.GetRun(ctx, s.RunID())
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Grains != 120 || run.Seed != 7 || run.XSize != 7 {
		t.Errorf("run = %+v", run)
	}
}
