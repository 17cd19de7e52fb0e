// Package main fits a discrete power law to the avalanche statistics of a
// finished run, read from avalanches.csv or from the SQLite store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/sandpile/powerlaw"
	"github.com/pthm-cable/sandpile/store"
	"github.com/pthm-cable/sandpile/systems"
)

func main() {
	input := flag.String("input", "", "avalanches.csv written by a run")
	dbPath := flag.String("db", "", "SQLite store (alternative to -input)")
	runID := flag.String("run", "", "Run id in the store (empty = latest)")
	metric := flag.String("metric", MetricGrains, "Metric to fit: grains, movement or product")
	xMin := flag.Int("xmin", 0, "Lower cutoff (0 = choose by KS distance)")
	maxCandidates := flag.Int("xmin-candidates", 50, "Distinct x_min values scanned when -xmin is 0")
	output := flag.String("output", "", "fit.csv path (empty = next to the input)")
	flag.Parse()

	var reports []systems.Report
	var err error
	switch {
	case *input != "":
		reports, err = readCSV(*input)
	case *dbPath != "":
		reports, err = readStore(*dbPath, *runID)
	default:
		log.Fatal("one of -input or -db is required")
	}
	if err != nil {
		log.Fatalf("failed to load avalanches: %v", err)
	}

	samples, err := Samples(reports, *metric)
	if err != nil {
		log.Fatalf("%v", err)
	}

	var fit powerlaw.Fit
	if *xMin > 0 {
		fit, err = powerlaw.FitDiscrete(samples, *xMin)
	} else {
		fit, err = powerlaw.FitBestXMin(samples, *maxCandidates)
	}
	if err != nil {
		log.Fatalf("fit failed: %v", err)
	}

	log.Printf("metric=%s avalanches=%d alpha=%.4f +/- %.4f x_min=%d n=%d ks=%.4f",
		*metric, len(reports), fit.Alpha, fit.StdErr, fit.XMin, fit.N, fit.KS)

	path := *output
	if path == "" {
		dir := "."
		if *input != "" {
			dir = filepath.Dir(*input)
		}
		path = filepath.Join(dir, "fit.csv")
	}
	if err := WriteFit(path, *metric, fit); err != nil {
		log.Fatalf("failed to write fit: %v", err)
	}
	log.Printf("fit written to %s", path)
}

func readCSV(path string) ([]systems.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reports []systems.Report
	if err := gocsv.UnmarshalFile(f, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

func readStore(path, runID string) ([]systems.Report, error) {
	ctx := context.Background()
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if runID == "" {
		runs, err := db.ListRuns(ctx)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, store.ErrRunNotFound
		}
		runID = runs[len(runs)-1].ID
		log.Printf("using latest run %s (seed %d)", runID, runs[len(runs)-1].Seed)
	}
	return db.LoadAvalanches(ctx, runID)
}
