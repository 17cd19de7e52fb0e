package sim

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitGrains(t *testing.T) {
	tests := []struct {
		total, k int
		want     []int
	}{
		{100, 1, []int{100}},
		{100, 3, []int{34, 33, 33}},
		{5, 4, []int{2, 1, 1, 1}},
		{2, 4, []int{1, 1, 0, 0}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, SplitGrains(tt.total, tt.k)); diff != "" {
			t.Errorf("SplitGrains(%d, %d) mismatch (-want +got):\n%s", tt.total, tt.k, diff)
		}
	}
}

func TestReplicaSeed(t *testing.T) {
	if got := ReplicaSeed(42, 0); got != 42 {
		t.Errorf("replica 0 seed = %d, want 42", got)
	}
	seen := map[int64]bool{}
	for i := 0; i < 16; i++ {
		s := ReplicaSeed(42, i)
		if seen[s] {
			t.Fatalf("replica %d reuses seed %d", i, s)
		}
		seen[s] = true
	}
}

func TestRunEnsemble_Merges(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.TotalGrains = 150
	cfg.Run.Workers = 3

	res, err := RunEnsemble(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("RunEnsemble: %v", err)
	}
	if len(res.Replicas) != 3 {
		t.Fatalf("replicas = %d, want 3", len(res.Replicas))
	}
	for i, r := range res.Replicas {
		if r.Replica != i || r.Seed != ReplicaSeed(7, i) {
			t.Errorf("replica %d = {Replica: %d, Seed: %d}", i, r.Replica, r.Seed)
		}
		if r.Summary.Dropped != 50 {
			t.Errorf("replica %d dropped %d, want 50", i, r.Summary.Dropped)
		}
	}
	if res.Dropped != 150 || res.Resident+res.Escaped+res.Jammed != 150 {
		t.Errorf("dropped=%d resident=%d escaped=%d jammed=%d", res.Dropped, res.Resident, res.Escaped, res.Jammed)
	}
	for _, e := range res.HallOfFame.Entries() {
		if e.Replica < 0 || e.Replica >= 3 || e.Drop < 1 || e.Drop > 50 {
			t.Errorf("hall entry replica=%d drop=%d outside its replica run", e.Replica, e.Drop)
		}
	}
	if got := res.Histograms.ByGrains.Total(); got != 150 {
		t.Errorf("merged histogram total = %d, want 150", got)
	}
}

func TestRunEnsemble_Deterministic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.TotalGrains = 120
	cfg.Run.Workers = 4

	a, err := RunEnsemble(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("RunEnsemble: %v", err)
	}
	b, err := RunEnsemble(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("RunEnsemble: %v", err)
	}
	for i, h := range a.Histograms.All() {
		if diff := cmp.Diff(h.Buckets(), b.Histograms.All()[i].Buckets()); diff != "" {
			t.Errorf("%s differs between runs (-first +second):\n%s", h.Name, diff)
		}
	}
	if diff := cmp.Diff(a.HallOfFame.Entries(), b.HallOfFame.Entries()); diff != "" {
		t.Errorf("hall of fame differs (-first +second):\n%s", diff)
	}
}

func TestRunEnsemble_SingleReplicaMatchesSequential(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.TotalGrains = 100

	res, err := RunEnsemble(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("RunEnsemble: %v", err)
	}

	s := newTestSim(t, cfg, Options{})
	if err := s.Run(context.Background(), 100); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(s.Histograms().ByProduct.Buckets(), res.Histograms.ByProduct.Buckets()); diff != "" {
		t.Errorf("ensemble of one differs from sequential run (-sequential +ensemble):\n%s", diff)
	}
}

func TestRunEnsemble_OutputLayout(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Run.TotalGrains = 60
	cfg.Run.Workers = 2
	cfg.Output.Plots = false

	if _, err := RunEnsemble(context.Background(), cfg, Options{OutputDir: dir}); err != nil {
		t.Fatalf("RunEnsemble: %v", err)
	}

	for _, name := range []string{
		"config.yaml", "hist_grains.csv", "charts.html", "largest.csv",
		filepath.Join("replica_00", "avalanches.csv"),
		filepath.Join("replica_01", "pile.txt"),
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "hist_grains.png")); !os.IsNotExist(err) {
		t.Errorf("plot written with plots disabled: %v", err)
	}
}

func TestRunEnsemble_Cancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Workers = 2
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := RunEnsemble(ctx, cfg, Options{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if res.Dropped != 0 {
		t.Errorf("dropped = %d after cancelled run, want 0", res.Dropped)
	}
}
