// Package telemetry provides avalanche statistics, bookmarking, snapshots and run output.
package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a window of drops.
type WindowStats struct {
	WindowStartDrop int `csv:"-"`
	WindowEndDrop   int `csv:"window_end"`

	// Events during window
	Avalanches int `csv:"avalanches"`
	Topples    int `csv:"topples"`
	Escaped    int `csv:"escaped"`
	Timeouts   int `csv:"timeouts"`
	Movement   int `csv:"movement"`

	// Pile state at window end
	PileMass   int `csv:"pile_mass"`
	EmptyCells int `csv:"empty_cells"`

	// Avalanche size distribution (grains involved)
	SizeMean float64 `csv:"size_mean"`
	SizeStd  float64 `csv:"size_std"`
	SizeP50  float64 `csv:"size_p50"`
	SizeP90  float64 `csv:"size_p90"`
	SizeMax  float64 `csv:"size_max"`

	MovementMean float64 `csv:"movement_mean"`
}

// Percentile returns the empirical p-quantile of a sorted slice: the
// smallest value whose cumulative share reaches p. Returns 0 if empty.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	p = min(max(p, 0), 1)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// ComputeSizeStats calculates mean, population std, median, p90 and max.
func ComputeSizeStats(values []float64) (mean, std, p50, p90, maxV float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0, 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	mean = stat.Mean(sorted, nil)
	std = stat.PopStdDev(sorted, nil)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)
	maxV = sorted[n-1]
	return mean, std, p50, p90, maxV
}

// CoefficientOfVariation returns std/mean, or 0 when the mean is zero.
func CoefficientOfVariation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	if mean == 0 {
		return 0
	}
	return std / mean
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", s.WindowStartDrop),
		slog.Int("window_end", s.WindowEndDrop),
		slog.Int("avalanches", s.Avalanches),
		slog.Int("topples", s.Topples),
		slog.Int("escaped", s.Escaped),
		slog.Int("timeouts", s.Timeouts),
		slog.Int("movement", s.Movement),
		slog.Int("pile_mass", s.PileMass),
		slog.Int("empty_cells", s.EmptyCells),
		slog.Float64("size_mean", s.SizeMean),
		slog.Float64("size_std", s.SizeStd),
		slog.Float64("size_p50", s.SizeP50),
		slog.Float64("size_p90", s.SizeP90),
		slog.Float64("size_max", s.SizeMax),
		slog.Float64("movement_mean", s.MovementMean),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndDrop,
		"avalanches", s.Avalanches,
		"topples", s.Topples,
		"escaped", s.Escaped,
		"timeouts", s.Timeouts,
		"movement", s.Movement,
		"pile_mass", s.PileMass,
		"empty_cells", s.EmptyCells,
		"size_mean", s.SizeMean,
		"size_std", s.SizeStd,
		"size_p50", s.SizeP50,
		"size_p90", s.SizeP90,
		"size_max", s.SizeMax,
		"movement_mean", s.MovementMean,
	)
}
