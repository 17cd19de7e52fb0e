package powerlaw

import (
	"errors"
	"math"
	"testing"
)

// discreteSamples draws approximately discrete power-law values using the
// rounded continuous inverse CDF, which is accurate for x_min around 5+.
func discreteSamples(n int, alpha float64, xMin int, seed int64) []int {
	src := NewSource(seed)
	out := make([]int, n)
	base := float64(xMin) - 0.5
	for i := range out {
		u := src.Float64()
		x := base*math.Pow(1-u, -1/(alpha-1)) + 0.5
		out[i] = int(math.Floor(x))
	}
	return out
}

func TestFitDiscrete_RecoversExponent(t *testing.T) {
	tests := []struct {
		name  string
		alpha float64
	}{
		{"shallow", 2.0},
		{"typical", 2.5},
		{"steep", 3.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := discreteSamples(5000, tt.alpha, 5, 7)
			fit, err := FitDiscrete(samples, 5)
			if err != nil {
				t.Fatalf("FitDiscrete: %v", err)
			}
			if math.Abs(fit.Alpha-tt.alpha) > 0.15 {
				t.Errorf("alpha = %.3f, want %.3f +/- 0.15", fit.Alpha, tt.alpha)
			}
			if fit.N != len(samples) {
				t.Errorf("N = %d, want %d", fit.N, len(samples))
			}
			if fit.KS <= 0 || fit.KS > 0.1 {
				t.Errorf("KS = %.4f, want in (0, 0.1]", fit.KS)
			}
		})
	}
}

func TestFitDiscrete_IgnoresBelowXMin(t *testing.T) {
	samples := append(discreteSamples(2000, 2.5, 5, 11), 1, 2, 3, 4)
	fit, err := FitDiscrete(samples, 5)
	if err != nil {
		t.Fatalf("FitDiscrete: %v", err)
	}
	if fit.N != 2000 {
		t.Errorf("N = %d, want 2000", fit.N)
	}
}

func TestFitDiscrete_Errors(t *testing.T) {
	if _, err := FitDiscrete([]int{1, 2, 3}, 0); !errors.Is(err, ErrInvalidAlpha) {
		t.Errorf("x_min 0: error = %v, want ErrInvalidAlpha", err)
	}
	if _, err := FitDiscrete([]int{1, 2, 3}, 10); !errors.Is(err, ErrNotEnoughData) {
		t.Errorf("no samples above x_min: error = %v, want ErrNotEnoughData", err)
	}
}

func TestFitBestXMin(t *testing.T) {
	samples := discreteSamples(4000, 2.5, 5, 3)
	// A flat head below the power-law region.
	src := NewSource(5)
	for i := 0; i < 3000; i++ {
		samples = append(samples, 1+src.IntN(4))
	}

	fit, err := FitBestXMin(samples, 20)
	if err != nil {
		t.Fatalf("FitBestXMin: %v", err)
	}
	if fit.XMin < 5 {
		t.Errorf("x_min = %d, want >= 5 (head is not a power law)", fit.XMin)
	}
	if math.Abs(fit.Alpha-2.5) > 0.3 {
		t.Errorf("alpha = %.3f, want 2.5 +/- 0.3", fit.Alpha)
	}
}

func TestFitBestXMin_NotEnoughData(t *testing.T) {
	if _, err := FitBestXMin([]int{1, 2, 3}, 0); !errors.Is(err, ErrNotEnoughData) {
		t.Errorf("error = %v, want ErrNotEnoughData", err)
	}
	if _, err := FitBestXMin(nil, 5); !errors.Is(err, ErrNotEnoughData) {
		t.Errorf("empty: error = %v, want ErrNotEnoughData", err)
	}
}
