package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pthm-cable/sandpile/lattice"
	"github.com/pthm-cable/sandpile/systems"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// ---------- CSV output ----------

func TestNewOutputManager_Disabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("NewOutputManager(\"\") = %v, %v; want nil, nil", om, err)
	}
	// Nil manager methods are no-ops.
	if err := om.WriteAvalanches(systems.Report{}); err != nil {
		t.Errorf("WriteAvalanches on nil manager: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Errorf("Close on nil manager: %v", err)
	}
}

func TestOutputManager_Avalanches(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}

	if err := om.WriteAvalanches(systems.Report{AvalancheID: 1, X: 2, Y: 3, TotalGrainsInvolved: 1, TotalMovement: 4, Passes: 5}); err != nil {
		t.Fatalf("WriteAvalanches: %v", err)
	}
	if err := om.WriteAvalanches(systems.Report{AvalancheID: 2, TotalGrainsInvolved: 3, Escaped: 1, Jammed: 2, Incomplete: true}); err != nil {
		t.Fatalf("WriteAvalanches: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{
		"avalanche_id,x,y,total_grains_involved,total_movement,topples,escaped,jammed,passes,incomplete",
		"1,2,3,1,4,0,0,0,5,false",
		"2,0,0,3,0,0,1,2,0,true",
	}
	if diff := cmp.Diff(want, readLines(t, filepath.Join(dir, "avalanches.csv"))); diff != "" {
		t.Errorf("avalanches.csv mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteHistogramCSV(t *testing.T) {
	h := NewHistogram("hist_movement", "Total Movement")
	for _, k := range []int{4, 0, 4, 2} {
		h.Add(k)
	}
	path := filepath.Join(t.TempDir(), "hist.csv")
	if err := WriteHistogramCSV(path, h); err != nil {
		t.Fatalf("WriteHistogramCSV: %v", err)
	}

	want := []string{
		"Total Movement, Number Avalanches",
		"0,1",
		"2,1",
		"4,2",
	}
	if diff := cmp.Diff(want, readLines(t, path)); diff != "" {
		t.Errorf("histogram csv mismatch (-want +got):\n%s", diff)
	}
}

func TestOutputManager_HistogramsAndHall(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}
	defer om.Close()

	h := NewHistograms()
	hof := NewHallOfFame(2)
	for i, r := range []systems.Report{
		{AvalancheID: 1, TotalGrainsInvolved: 1, TotalMovement: 3},
		{AvalancheID: 2, TotalGrainsInvolved: 2, TotalMovement: 5},
	} {
		h.Record(r)
		hof.Consider(i+1, r)
	}
	if err := om.WriteHistograms(h); err != nil {
		t.Fatalf("WriteHistograms: %v", err)
	}
	if err := om.WriteHallOfFame(hof); err != nil {
		t.Fatalf("WriteHallOfFame: %v", err)
	}

	for _, name := range []string{"hist_grains.csv", "hist_movement.csv", "hist_product.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if got := readLines(t, filepath.Join(dir, "hist_product.csv"))[0]; got != "Grains x Movement, Number Avalanches" {
		t.Errorf("product header = %q", got)
	}

	lines := readLines(t, filepath.Join(dir, "largest.csv"))
	if len(lines) != 3 {
		t.Fatalf("largest.csv has %d lines, want 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "rank,replica,drop,score,avalanche_id") {
		t.Errorf("largest.csv header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1,0,2,10,2,") {
		t.Errorf("top entry = %q", lines[1])
	}
}

// ---------- Pile summary ----------

func TestSummarizePile(t *testing.T) {
	lat := testLattice(t)

	s, err := SummarizePile(lat, 5, 1, 1)
	if err != nil {
		t.Fatalf("SummarizePile: %v", err)
	}
	want := PileSummary{Dropped: 5, Resident: 3, Escaped: 1, Jammed: 1, EmptyCells: 8, Conserved: true, Valid: true}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	if s, _ := SummarizePile(lat, 6, 2, 0); s.Conserved {
		t.Error("lost grain reported as conserved")
	}
}

func TestOutputManager_WritePile(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}
	defer om.Close()

	lat, err := lattice.New(lattice.Extents{X: 2, Y: 1, Z: 1}, 2, 1, nil, nil)
	if err != nil {
		t.Fatalf("lattice.New: %v", err)
	}
	cell, _ := lat.CellAt(lattice.Coord{X: 1})
	cell.Push(0)

	s, err := SummarizePile(lat, 1, 0, 0)
	if err != nil {
		t.Fatalf("SummarizePile: %v", err)
	}
	if err := om.WritePile(lat, s); err != nil {
		t.Fatalf("WritePile: %v", err)
	}

	want := []string{"z = 0", "01", "", "total grains: 1"}
	if diff := cmp.Diff(want, readLines(t, filepath.Join(dir, "pile.txt"))); diff != "" {
		t.Errorf("pile.txt mismatch (-want +got):\n%s", diff)
	}
	summary := readLines(t, filepath.Join(dir, "summary.csv"))
	if diff := cmp.Diff([]string{"dropped,resident,escaped,jammed,empty_cells,conserved,valid", "1,1,0,0,1,true,true"}, summary); diff != "" {
		t.Errorf("summary.csv mismatch (-want +got):\n%s", diff)
	}
}

// ---------- Plots ----------

func TestPlotHistograms(t *testing.T) {
	dir := t.TempDir()
	h := NewHistograms()
	for _, r := range []systems.Report{
		{TotalGrainsInvolved: 1, TotalMovement: 0},
		{TotalGrainsInvolved: 1, TotalMovement: 0},
		{TotalGrainsInvolved: 4, TotalMovement: 0},
	} {
		h.Record(r)
	}

	written, err := PlotHistograms(h, dir)
	if err != nil {
		t.Fatalf("PlotHistograms: %v", err)
	}
	// Movement and product are all zero and cannot be drawn on log axes.
	if diff := cmp.Diff([]string{filepath.Join(dir, "hist_grains.png")}, written); diff != "" {
		t.Errorf("written mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(written[0]); err != nil {
		t.Errorf("png missing: %v", err)
	}

	err = PlotHistogram(h.ByMovement, filepath.Join(dir, "m.png"))
	if !errors.Is(err, ErrNoPositiveData) {
		t.Errorf("err = %v, want ErrNoPositiveData", err)
	}
}

func TestRenderCharts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts.html")
	h := NewHistograms()
	h.Record(systems.Report{TotalGrainsInvolved: 2, TotalMovement: 3})

	if err := RenderCharts(h, path); err != nil {
		t.Fatalf("RenderCharts: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading charts: %v", err)
	}
	for _, want := range []string{"Total Grains Involved", "Total Movement", "Grains x Movement"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("charts page missing %q", want)
		}
	}
}
