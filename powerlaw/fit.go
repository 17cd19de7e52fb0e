package powerlaw

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/optimize"
)

// ErrNotEnoughData is returned when fewer than two samples are at or above x_min.
var ErrNotEnoughData = errors.New("not enough samples to fit")

// Fit is the result of a discrete power-law maximum likelihood fit.
type Fit struct {
	Alpha   float64 `csv:"alpha"`
	XMin    int     `csv:"x_min"`
	N       int     `csv:"n"`
	StdErr  float64 `csv:"std_err"`
	KS      float64 `csv:"ks"`
	LogLike float64 `csv:"log_likelihood"`
}

// FitDiscrete estimates the exponent of P(x) ~ x^-alpha for integer samples
// x >= xMin. The likelihood is normalised with the Hurwitz zeta function and
// minimised with Nelder-Mead, starting from the continuous approximation.
func FitDiscrete(samples []int, xMin int) (Fit, error) {
	if xMin < 1 {
		return Fit{}, fmt.Errorf("%w: x_min %d must be >= 1", ErrInvalidAlpha, xMin)
	}

	var xs []float64
	var sumLog float64
	for _, s := range samples {
		if s < xMin {
			continue
		}
		x := float64(s)
		xs = append(xs, x)
		sumLog += math.Log(x)
	}
	n := len(xs)
	if n < 2 {
		return Fit{}, fmt.Errorf("%w: %d samples >= %d", ErrNotEnoughData, n, xMin)
	}

	q := float64(xMin)
	nll := func(alpha float64) float64 {
		return float64(n)*math.Log(mathext.Zeta(alpha, q)) + alpha*sumLog
	}

	// Continuous estimate with the usual half-integer correction.
	var sumRel float64
	for _, x := range xs {
		sumRel += math.Log(x / (q - 0.5))
	}
	start := 2.5
	if sumRel > 0 {
		start = 1 + float64(n)/sumRel
	}
	if start <= 1.01 {
		start = 1.01
	}

	// alpha = 1 + exp(t) keeps every trial point inside the domain.
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return nll(1 + math.Exp(x[0]))
		},
	}
	result, err := optimize.Minimize(problem, []float64{math.Log(start - 1)}, nil, &optimize.NelderMead{})
	if result == nil {
		return Fit{}, fmt.Errorf("minimizing likelihood: %w", err)
	}

	alpha := 1 + math.Exp(result.X[0])
	fit := Fit{
		Alpha:   alpha,
		XMin:    xMin,
		N:       n,
		StdErr:  (alpha - 1) / math.Sqrt(float64(n)),
		LogLike: -nll(alpha),
	}
	fit.KS = ksDistance(xs, alpha, q)
	return fit, nil
}

// ksDistance is the largest gap between the empirical and fitted
// complementary CDFs over the observed support.
func ksDistance(xs []float64, alpha, q float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	norm := mathext.Zeta(alpha, q)
	n := float64(len(sorted))
	var d float64
	for i := 0; i < len(sorted); {
		x := sorted[i]
		// empirical P(X >= x)
		emp := (n - float64(i)) / n
		model := mathext.Zeta(alpha, x) / norm
		if gap := math.Abs(emp - model); gap > d {
			d = gap
		}
		for i < len(sorted) && sorted[i] == x {
			i++
		}
	}
	return d
}

// minTail is the fewest samples a candidate x_min must leave in the tail.
const minTail = 10

// FitBestXMin scans candidate x_min values (the distinct sample values,
// smallest first, at most maxCandidates of them) and returns the fit with
// the smallest KS distance. Candidates leaving fewer than minTail samples
// in the tail are skipped.
func FitBestXMin(samples []int, maxCandidates int) (Fit, error) {
	distinct := make(map[int]struct{})
	for _, s := range samples {
		if s >= 1 {
			distinct[s] = struct{}{}
		}
	}
	candidates := make([]int, 0, len(distinct))
	for v := range distinct {
		candidates = append(candidates, v)
	}
	sort.Ints(candidates)
	if maxCandidates > 0 && len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	var best Fit
	found := false
	for _, xMin := range candidates {
		fit, err := FitDiscrete(samples, xMin)
		if errors.Is(err, ErrNotEnoughData) || (err == nil && fit.N < minTail) {
			break
		}
		if err != nil {
			return Fit{}, err
		}
		if !found || fit.KS < best.KS {
			best = fit
			found = true
		}
	}
	if !found {
		return Fit{}, fmt.Errorf("%w: no x_min leaves %d samples", ErrNotEnoughData, minTail)
	}
	return best, nil
}
