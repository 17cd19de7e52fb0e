package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/sandpile/config"
	"github.com/pthm-cable/sandpile/lattice"
	"github.com/pthm-cable/sandpile/systems"
)

// OutputManager handles structured run output with CSV logging.
type OutputManager struct {
	dir           string
	avalancheFile *os.File
	avalancheBuf  *bufio.Writer
	telemetryFile *os.File
	perfFile      *os.File
	bookmarkFile  *os.File

	// Track if headers have been written
	avalancheHeaderWritten bool
	telemetryHeaderWritten bool
	perfHeaderWritten      bool
	bookmarkHeaderWritten  bool
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	files := []struct {
		name string
		dst  **os.File
	}{
		{"avalanches.csv", &om.avalancheFile},
		{"telemetry.csv", &om.telemetryFile},
		{"perf.csv", &om.perfFile},
		{"bookmarks.csv", &om.bookmarkFile},
	}
	for _, f := range files {
		fh, err := os.Create(filepath.Join(dir, f.name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", f.name, err)
		}
		*f.dst = fh
	}
	om.avalancheBuf = bufio.NewWriter(om.avalancheFile)

	return om, nil
}

// writeRecords marshals records to w, with the header only on first use.
func writeRecords[T any](w io.Writer, headerWritten *bool, records []T) error {
	if !*headerWritten {
		if err := gocsv.Marshal(records, w); err != nil {
			return err
		}
		*headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, w)
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteAvalanches appends avalanche reports to avalanches.csv.
func (om *OutputManager) WriteAvalanches(reports ...systems.Report) error {
	if om == nil || len(reports) == 0 {
		return nil
	}
	if err := writeRecords(om.avalancheBuf, &om.avalancheHeaderWritten, reports); err != nil {
		return fmt.Errorf("writing avalanches: %w", err)
	}
	return nil
}

// WriteTelemetry writes a window stats record to telemetry.csv.
func (om *OutputManager) WriteTelemetry(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(om.telemetryFile, &om.telemetryHeaderWritten, []WindowStats{stats}); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(om.perfFile, &om.perfHeaderWritten, []PerfStatsCSV{stats.ToCSV(windowEnd)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteBookmark writes a bookmark record to bookmarks.csv.
func (om *OutputManager) WriteBookmark(b Bookmark) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(om.bookmarkFile, &om.bookmarkHeaderWritten, []Bookmark{b}); err != nil {
		return fmt.Errorf("writing bookmark: %w", err)
	}
	return nil
}

// WriteHistograms writes one CSV per histogram. The header row is
// "<Metric Name>, Number Avalanches" and rows are sorted by key.
func (om *OutputManager) WriteHistograms(h *Histograms) error {
	if om == nil || h == nil {
		return nil
	}
	return WriteHistogramCSVs(om.dir, h)
}

// WriteHistogramCSVs writes every histogram of h into dir as <name>.csv.
func WriteHistogramCSVs(dir string, h *Histograms) error {
	for _, hist := range h.All() {
		if err := WriteHistogramCSV(filepath.Join(dir, hist.Name+".csv"), hist); err != nil {
			return err
		}
	}
	return nil
}

// WriteHistogramCSV writes a single histogram to path.
func WriteHistogramCSV(path string, h *Histogram) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s, Number Avalanches\n", h.Metric); err != nil {
		return fmt.Errorf("writing %s header: %w", h.Name, err)
	}
	if buckets := h.Buckets(); len(buckets) > 0 {
		if err := gocsv.MarshalWithoutHeaders(buckets, f); err != nil {
			return fmt.Errorf("writing %s: %w", h.Name, err)
		}
	}
	return f.Close()
}

// WriteHallOfFame writes the largest avalanches to largest.csv.
func (om *OutputManager) WriteHallOfFame(hof *HallOfFame) error {
	if om == nil || hof == nil || hof.Size() == 0 {
		return nil
	}
	return WriteHallOfFameCSV(filepath.Join(om.dir, "largest.csv"), hof)
}

// WriteHallOfFameCSV writes the ranked entries of hof to path.
func WriteHallOfFameCSV(path string, hof *HallOfFame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if err := gocsv.Marshal(hof.Entries(), f); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// PileSummary is the end-of-run validation of the pile.
type PileSummary struct {
	Dropped    int  `csv:"dropped"`
	Resident   int  `csv:"resident"`
	Escaped    int  `csv:"escaped"`
	Jammed     int  `csv:"jammed"`
	EmptyCells int  `csv:"empty_cells"`
	Conserved  bool `csv:"conserved"`
	Valid      bool `csv:"valid"`
}

// SummarizePile checks conservation and the capacity invariant.
func SummarizePile(lat *lattice.Lattice, dropped, escaped, jammed int) (PileSummary, error) {
	s := PileSummary{
		Dropped:    dropped,
		Resident:   lat.TotalGrains(),
		Escaped:    escaped,
		Jammed:     jammed,
		EmptyCells: lat.EmptyCells(),
	}
	s.Conserved = s.Resident+s.Escaped+s.Jammed == s.Dropped
	err := lat.Validate()
	s.Valid = err == nil
	return s, err
}

// WritePile writes the layer dump to pile.txt and the summary to summary.csv.
func (om *OutputManager) WritePile(lat *lattice.Lattice, summary PileSummary) error {
	if om == nil {
		return nil
	}
	f, err := os.Create(filepath.Join(om.dir, "pile.txt"))
	if err != nil {
		return fmt.Errorf("creating pile.txt: %w", err)
	}
	defer f.Close()
	if err := lat.Display(f); err != nil {
		return fmt.Errorf("writing pile.txt: %w", err)
	}

	sf, err := os.Create(filepath.Join(om.dir, "summary.csv"))
	if err != nil {
		return fmt.Errorf("creating summary.csv: %w", err)
	}
	defer sf.Close()
	if err := gocsv.Marshal([]PileSummary{summary}, sf); err != nil {
		return fmt.Errorf("writing summary.csv: %w", err)
	}
	return nil
}

// SaveSnapshot writes s under the snapshots/ subdirectory.
func (om *OutputManager) SaveSnapshot(s *Snapshot) (string, error) {
	if om == nil {
		return "", nil
	}
	return SaveSnapshot(s, filepath.Join(om.dir, "snapshots"))
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	if om.avalancheBuf != nil {
		if err := om.avalancheBuf.Flush(); err != nil {
			firstErr = err
		}
	}
	for _, f := range []*os.File{om.avalancheFile, om.telemetryFile, om.perfFile, om.bookmarkFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
