// Package powerlaw draws power-law distributed magnitudes and fits exponents
// to observed avalanche statistics.
package powerlaw

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidAlpha is returned when an exponent would make the distribution
// undefined (alpha <= 1) or the lower bound is not positive.
var ErrInvalidAlpha = errors.New("invalid power-law parameter")

// MaxMagnitude caps an order-of-magnitude draw. Beyond this float64
// overflows and log10 stops being meaningful.
const MaxMagnitude = 308

// Source is the randomness the simulation consumes. *rand.Rand satisfies it;
// tests substitute fixed sequences.
type Source interface {
	Float64() float64
	IntN(n int) int
}

// NewSource returns a deterministic PCG-backed source for the given seed.
func NewSource(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0))
}

// Distribution is a validated power law with density ~ x^-Alpha for x >= XMin.
type Distribution struct {
	Alpha float64
	XMin  float64

	pareto distuv.Pareto
}

// New validates the parameters and returns a Distribution.
func New(alpha, xMin float64) (Distribution, error) {
	if !(alpha > 1) || math.IsInf(alpha, 0) {
		return Distribution{}, fmt.Errorf("%w: alpha %v must be > 1", ErrInvalidAlpha, alpha)
	}
	if !(xMin > 0) || math.IsInf(xMin, 0) {
		return Distribution{}, fmt.Errorf("%w: x_min %v must be > 0", ErrInvalidAlpha, xMin)
	}
	return Distribution{
		Alpha: alpha,
		XMin:  xMin,
		// Pareto's shape is the survival exponent, one less than the density exponent.
		pareto: distuv.Pareto{Xm: xMin, Alpha: alpha - 1},
	}, nil
}

// Value draws u ~ U[0,1) and returns x_min * (1-u)^(-1/(alpha-1)).
func (d Distribution) Value(src Source) float64 {
	u := src.Float64()
	if u < 0 {
		u = 0
	}
	if u >= 1 {
		u = math.Nextafter(1, 0)
	}
	return d.pareto.Quantile(u)
}

// OrderOfMagnitude returns floor(log10(Value)). With XMin < 1 the result can be
// negative; callers clamp before using it as a count.
func (d Distribution) OrderOfMagnitude(src Source) int {
	return orderOf(d.Value(src))
}

// Jitter returns a draw function bound to src, clamped at zero, suitable for
// capacity and resilience jitter.
func (d Distribution) Jitter(src Source) func() int {
	return func() int {
		return max(0, d.OrderOfMagnitude(src))
	}
}

func orderOf(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return -MaxMagnitude
	}
	if math.IsInf(v, 1) {
		return MaxMagnitude
	}
	m := math.Floor(math.Log10(v))
	if m > MaxMagnitude {
		return MaxMagnitude
	}
	if m < -MaxMagnitude {
		return -MaxMagnitude
	}
	return int(m)
}

// DrawOrderOfMagnitude is the one-shot form used by callers that do not keep
// a Distribution around.
func DrawOrderOfMagnitude(alpha, xMin float64, src Source) (int, error) {
	d, err := New(alpha, xMin)
	if err != nil {
		return 0, err
	}
	return d.OrderOfMagnitude(src), nil
}
