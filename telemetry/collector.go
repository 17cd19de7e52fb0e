package telemetry

import "github.com/pthm-cable/sandpile/systems"

// PileState is the pile summary sampled at window end.
type PileState struct {
	Mass       int // grains resident in the lattice
	EmptyCells int // in-footprint cells holding nothing
}

// Collector accumulates avalanche reports within windows of drops and
// produces WindowStats. It also feeds the run-wide histograms.
type Collector struct {
	windowDrops int

	// Current window tracking
	windowStart int

	// Event counters for current window
	avalanches int
	topples    int
	escaped    int
	timeouts   int
	movement   int
	sizes      []float64

	hist *Histograms
}

// NewCollector creates a new stats collector flushing every windowDrops drops.
func NewCollector(windowDrops int) *Collector {
	if windowDrops < 1 {
		windowDrops = 1
	}
	return &Collector{
		windowDrops: windowDrops,
		hist:        NewHistograms(),
	}
}

// Record adds one avalanche report to the window and the histograms.
func (c *Collector) Record(r systems.Report) {
	c.avalanches++
	c.topples += r.Topples
	c.escaped += r.Escaped
	c.movement += r.TotalMovement
	if r.Incomplete {
		c.timeouts++
	}
	c.sizes = append(c.sizes, float64(r.TotalGrainsInvolved))
	c.hist.Record(r)
}

// ShouldFlush returns true if enough drops have happened to flush the window.
func (c *Collector) ShouldFlush(currentDrop int) bool {
	return currentDrop-c.windowStart >= c.windowDrops
}

// Flush produces a WindowStats and resets counters for the next window.
func (c *Collector) Flush(currentDrop int, pile PileState) WindowStats {
	mean, std, p50, p90, maxV := ComputeSizeStats(c.sizes)
	var movementMean float64
	if c.avalanches > 0 {
		movementMean = float64(c.movement) / float64(c.avalanches)
	}

	stats := WindowStats{
		WindowStartDrop: c.windowStart,
		WindowEndDrop:   currentDrop,

		Avalanches: c.avalanches,
		Topples:    c.topples,
		Escaped:    c.escaped,
		Timeouts:   c.timeouts,
		Movement:   c.movement,

		PileMass:   pile.Mass,
		EmptyCells: pile.EmptyCells,

		SizeMean: mean,
		SizeStd:  std,
		SizeP50:  p50,
		SizeP90:  p90,
		SizeMax:  maxV,

		MovementMean: movementMean,
	}

	// Reset for next window
	c.windowStart = currentDrop
	c.avalanches = 0
	c.topples = 0
	c.escaped = 0
	c.timeouts = 0
	c.movement = 0
	c.sizes = c.sizes[:0]

	return stats
}

// Histograms returns the run-wide histograms.
func (c *Collector) Histograms() *Histograms { return c.hist }

// WindowDrops returns the number of drops per window.
func (c *Collector) WindowDrops() int { return c.windowDrops }
