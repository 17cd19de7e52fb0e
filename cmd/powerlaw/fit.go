package main

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/sandpile/powerlaw"
	"github.com/pthm-cable/sandpile/systems"
)

// Metric names accepted by -metric.
const (
	MetricGrains   = "grains"
	MetricMovement = "movement"
	MetricProduct  = "product"
)

// Samples extracts the chosen metric from every report.
func Samples(reports []systems.Report, metric string) ([]int, error) {
	var pick func(systems.Report) int
	switch metric {
	case MetricGrains:
		pick = func(r systems.Report) int { return r.TotalGrainsInvolved }
	case MetricMovement:
		pick = func(r systems.Report) int { return r.TotalMovement }
	case MetricProduct:
		pick = systems.Report.Product
	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	out := make([]int, len(reports))
	for i, r := range reports {
		out[i] = pick(r)
	}
	return out, nil
}

// fitRecord is one row of fit.csv.
type fitRecord struct {
	Metric string `csv:"metric"`
	powerlaw.Fit
}

// WriteFit writes the fit as a single-row CSV.
func WriteFit(path, metric string, fit powerlaw.Fit) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := gocsv.Marshal([]fitRecord{{Metric: metric, Fit: fit}}, f); err != nil {
		return fmt.Errorf("writing fit: %w", err)
	}
	return f.Close()
}
