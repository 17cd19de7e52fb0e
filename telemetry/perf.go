package telemetry

import (
	"log/slog"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Phase is one stage of a drop.
type Phase int

const (
	PhaseLanding Phase = iota
	PhaseStabilize
	PhaseTelemetry
	PhaseStore
	numPhases
)

var phaseNames = [numPhases]string{"landing", "stabilize", "telemetry", "store"}

func (p Phase) String() string {
	if p < 0 || p >= numPhases {
		return "unknown"
	}
	return phaseNames[p]
}

// dropTiming is the wall time of one drop split by phase.
type dropTiming struct {
	total  time.Duration
	phases [numPhases]time.Duration
}

// PerfCollector times drops and keeps the last window of them.
// Only one phase runs at a time; starting a phase closes the previous one.
type PerfCollector struct {
	ring []dropTiming
	next int
	full bool

	cur    dropTiming
	start  time.Time
	mark   time.Time
	active Phase
}

// NewPerfCollector keeps timings for the last window drops.
func NewPerfCollector(window int) *PerfCollector {
	if window < 1 {
		window = 1000
	}
	return &PerfCollector{ring: make([]dropTiming, window), active: -1}
}

// StartDrop resets the timer for a new drop.
func (p *PerfCollector) StartDrop() {
	p.start = time.Now()
	p.mark = p.start
	p.cur = dropTiming{}
	p.active = -1
}

// StartPhase charges elapsed time to the running phase and switches to ph.
func (p *PerfCollector) StartPhase(ph Phase) {
	p.lap(time.Now())
	p.active = ph
}

// EndDrop closes the running phase and stores the drop in the window.
func (p *PerfCollector) EndDrop() {
	now := time.Now()
	p.lap(now)
	p.cur.total = now.Sub(p.start)
	p.ring[p.next] = p.cur
	p.next++
	if p.next == len(p.ring) {
		p.next = 0
		p.full = true
	}
	p.active = -1
}

func (p *PerfCollector) lap(now time.Time) {
	if p.active >= 0 && p.active < numPhases {
		p.cur.phases[p.active] += now.Sub(p.mark)
	}
	p.mark = now
}

func (p *PerfCollector) window() []dropTiming {
	if p.full {
		return p.ring
	}
	return p.ring[:p.next]
}

// PerfStats summarises the drops in the window. Phase shares are percent
// of the mean drop time.
type PerfStats struct {
	Drops          int
	Mean           time.Duration
	P90            time.Duration
	Max            time.Duration
	DropsPerSecond float64
	PhaseShare     [numPhases]float64
}

// Stats aggregates the current window.
func (p *PerfCollector) Stats() PerfStats {
	w := p.window()
	if len(w) == 0 {
		return PerfStats{}
	}

	totals := make([]float64, len(w))
	var perPhase [numPhases]float64
	for i, d := range w {
		totals[i] = float64(d.total)
		for ph, dur := range d.phases {
			perPhase[ph] += float64(dur)
		}
	}
	mean := stat.Mean(totals, nil)
	sort.Float64s(totals)

	s := PerfStats{
		Drops: len(w),
		Mean:  time.Duration(mean),
		P90:   time.Duration(stat.Quantile(0.9, stat.Empirical, totals, nil)),
		Max:   time.Duration(totals[len(totals)-1]),
	}
	if mean > 0 {
		s.DropsPerSecond = float64(time.Second) / mean
		for ph := range perPhase {
			s.PhaseShare[ph] = perPhase[ph] / float64(len(w)) / mean * 100
		}
	}
	return s
}

// Share returns the percent of drop time spent in ph.
func (s PerfStats) Share(ph Phase) float64 {
	if ph < 0 || ph >= numPhases {
		return 0
	}
	return s.PhaseShare[ph]
}

// LogStats logs the window at info level.
func (s PerfStats) LogStats() {
	slog.Info("perf", "window", s)
}

// LogValue implements slog.LogValuer.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("drops", s.Drops),
		slog.Int64("mean_us", s.Mean.Microseconds()),
		slog.Int64("p90_us", s.P90.Microseconds()),
		slog.Int64("max_us", s.Max.Microseconds()),
		slog.Int("drops_per_sec", int(s.DropsPerSecond)),
	}
	for ph := Phase(0); ph < numPhases; ph++ {
		if s.PhaseShare[ph] > 0.1 {
			attrs = append(attrs, slog.Float64(ph.String()+"_pct", s.PhaseShare[ph]))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is one perf.csv row.
type PerfStatsCSV struct {
	WindowEnd    int     `csv:"window_end"`
	Drops        int     `csv:"drops"`
	MeanUS       int64   `csv:"mean_us"`
	P90US        int64   `csv:"p90_us"`
	MaxUS        int64   `csv:"max_us"`
	DropsPerSec  float64 `csv:"drops_per_sec"`
	LandingPct   float64 `csv:"landing_pct"`
	StabilizePct float64 `csv:"stabilize_pct"`
	TelemetryPct float64 `csv:"telemetry_pct"`
	StorePct     float64 `csv:"store_pct"`
}

// ToCSV flattens s for perf.csv.
func (s PerfStats) ToCSV(windowEnd int) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:    windowEnd,
		Drops:        s.Drops,
		MeanUS:       s.Mean.Microseconds(),
		P90US:        s.P90.Microseconds(),
		MaxUS:        s.Max.Microseconds(),
		DropsPerSec:  s.DropsPerSecond,
		LandingPct:   s.PhaseShare[PhaseLanding],
		StabilizePct: s.PhaseShare[PhaseStabilize],
		TelemetryPct: s.PhaseShare[PhaseTelemetry],
		StorePct:     s.PhaseShare[PhaseStore],
	}
}
