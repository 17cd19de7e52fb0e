package systems

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/sandpile/components"
	"github.com/pthm-cable/sandpile/lattice"
	"github.com/pthm-cable/sandpile/powerlaw"
)

// EngineConfig holds the physics parameters of the toppling engine.
type EngineConfig struct {
	XMin               float64
	AlphaLanding       float64
	AlphaExtraEnergy   float64
	AlphaAvalancheSize float64

	TerminalFreeFallSpeed int
	MaxRollAttempts       int // failed rolling passes before the jam fallback
	MaxPasses             int // default stabilization budget
}

// DefaultEngineConfig returns the parameters of the reference pile.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		XMin:                  1.0,
		AlphaLanding:          1.4,
		AlphaExtraEnergy:      1.2,
		AlphaAvalancheSize:    1.2,
		TerminalFreeFallSpeed: 3,
		MaxRollAttempts:       3,
		MaxPasses:             10000,
	}
}

// Report summarises one avalanche.
type Report struct {
	AvalancheID         uint64 `csv:"avalanche_id"`
	X                   int    `csv:"x"`
	Y                   int    `csv:"y"`
	TotalGrainsInvolved int    `csv:"total_grains_involved"`
	TotalMovement       int    `csv:"total_movement"`
	Topples             int    `csv:"topples"`
	Escaped             int    `csv:"escaped"`
	Jammed              int    `csv:"jammed"` // removed by the jam fallback
	Passes              int    `csv:"passes"`
	Incomplete          bool   `csv:"incomplete"` // stabilization timed out
}

// Product is involvement times movement, the third histogram metric.
func (r Report) Product() int { return r.TotalGrainsInvolved * r.TotalMovement }

// Engine drops grains onto a lattice and runs each resulting avalanche to a
// fixed point. It is the only writer of the lattice and the registry.
type Engine struct {
	lat *lattice.Lattice
	reg *GrainRegistry
	src powerlaw.Source
	cfg EngineConfig

	landing       powerlaw.Distribution
	extraEnergy   powerlaw.Distribution
	avalancheSize powerlaw.Distribution

	nextAvalanche uint64
	dropped       int
	escaped       int
	jammed        int
}

// NewEngine validates cfg and binds the engine to a lattice, registry and
// randomness source.
func NewEngine(lat *lattice.Lattice, reg *GrainRegistry, src powerlaw.Source, cfg EngineConfig) (*Engine, error) {
	if cfg.TerminalFreeFallSpeed < 0 || cfg.MaxRollAttempts < 1 || cfg.MaxPasses < 1 {
		return nil, fmt.Errorf("%w: terminal speed %d, roll attempts %d, max passes %d",
			lattice.ErrInvalidParameter, cfg.TerminalFreeFallSpeed, cfg.MaxRollAttempts, cfg.MaxPasses)
	}
	landing, err := powerlaw.New(cfg.AlphaLanding, cfg.XMin)
	if err != nil {
		return nil, fmt.Errorf("landing distribution: %w", err)
	}
	extra, err := powerlaw.New(cfg.AlphaExtraEnergy, cfg.XMin)
	if err != nil {
		return nil, fmt.Errorf("extra energy distribution: %w", err)
	}
	size, err := powerlaw.New(cfg.AlphaAvalancheSize, cfg.XMin)
	if err != nil {
		return nil, fmt.Errorf("avalanche size distribution: %w", err)
	}
	return &Engine{
		lat:           lat,
		reg:           reg,
		src:           src,
		cfg:           cfg,
		landing:       landing,
		extraEnergy:   extra,
		avalancheSize: size,
	}, nil
}

// Lattice returns the pile the engine mutates.
func (e *Engine) Lattice() *lattice.Lattice { return e.lat }

// Registry returns the grain registry.
func (e *Engine) Registry() *GrainRegistry { return e.reg }

// Dropped returns the number of grains deposited so far.
func (e *Engine) Dropped() int { return e.dropped }

// Escaped returns the number of grains that have left the pile.
func (e *Engine) Escaped() int { return e.escaped }

// Jammed returns the number of grains removed because they could neither
// settle nor climb. Dropped = resident + Escaped + Jammed.
func (e *Engine) Jammed() int { return e.jammed }

// SampleLanding picks a drop column around the lattice center: a random
// cardinal or diagonal direction (or none) scaled by a power-law offset,
// clamped to the grid.
func (e *Engine) SampleLanding() (x, y int) {
	ext := e.lat.Extents()
	center := e.lat.Center()
	offset := max(0, e.landing.OrderOfMagnitude(e.src))
	dx := e.src.IntN(3) - 1
	dy := e.src.IntN(3) - 1
	x = min(max(center.X+dx*offset, 0), ext.X-1)
	y = min(max(center.Y+dy*offset, 0), ext.Y-1)
	return x, y
}

// Drop deposits one grain at a sampled landing column and stabilizes it.
func (e *Engine) Drop() (Report, error) {
	x, y := e.SampleLanding()
	return e.DropAt(x, y)
}

// DropAt deposits one grain at the top of column (x, y) and stabilizes it
// with the default pass budget.
func (e *Engine) DropAt(x, y int) (Report, error) {
	top := lattice.Coord{X: x, Y: y, Z: e.lat.Extents().Z - 1}
	if !e.lat.InBounds(top) {
		return Report{}, fmt.Errorf("drop at (%d,%d): %w", x, y, lattice.ErrOutOfBounds)
	}
	id := e.reg.Spawn(top, 0, components.StateUnknown)
	e.dropped++
	e.nextAvalanche++

	av := NewAvalanche(e.nextAvalanche, id)
	r := e.Stabilize(av, 0)
	r.X, r.Y = x, y
	return r, nil
}

// Stabilize advances every non-stationary member one transition per pass
// until none remain. budget <= 0 uses the configured maximum. When the budget
// runs out the remaining grains are settled by the jam fallback and the
// report is flagged incomplete.
func (e *Engine) Stabilize(av *Avalanche, budget int) Report {
	if budget <= 0 {
		budget = e.cfg.MaxPasses
	}

	passes := 0
	for av.Len() > 0 && passes < budget {
		passes++
		for _, id := range av.Members() {
			e.step(av, id)
		}
		av.retain(e.inMotion)
	}

	incomplete := av.Len() > 0
	if incomplete {
		slog.Warn("stabilization timeout",
			"avalanche", av.ID,
			"passes", passes,
			"remaining", av.Len(),
		)
		for _, id := range av.Members() {
			if pos, motion, ok := e.reg.Get(id); ok && motion.State != components.StateStationary {
				e.settle(av, id, pos, motion)
			}
		}
		av.retain(e.inMotion)
	}

	return Report{
		AvalancheID:         av.ID,
		TotalGrainsInvolved: av.Involved(),
		TotalMovement:       av.movement,
		Topples:             av.topples,
		Escaped:             av.escaped,
		Jammed:              av.jammed,
		Passes:              passes,
		Incomplete:          incomplete,
	}
}

func (e *Engine) inMotion(id lattice.GrainID) bool {
	_, motion, ok := e.reg.Get(id)
	return ok && motion.State != components.StateStationary
}

// step performs one state-machine transition for a grain.
func (e *Engine) step(av *Avalanche, id lattice.GrainID) {
	pos, motion, ok := e.reg.Get(id)
	if !ok {
		return
	}
	switch motion.State {
	case components.StateUnknown:
		motion.State = components.StateFalling
	case components.StateFalling:
		e.fall(av, pos, motion)
	case components.StateImpact:
		e.impact(av, id, pos, motion)
	case components.StateRolling:
		e.roll(av, id, pos, motion)
	}
}

func (e *Engine) fall(av *Avalanche, pos *components.Position, motion *components.Motion) {
	if pos.Z == 0 {
		motion.State = components.StateImpact
		return
	}
	below, err := e.lat.CellAt(pos.Below())
	if err != nil || !(below.EmptySpace() || below.HasSpace()) {
		motion.State = components.StateImpact
		return
	}
	pos.Coord = pos.Below()
	motion.Energy = min(motion.Energy+1, e.cfg.TerminalFreeFallSpeed)
	av.movement++
}

func (e *Engine) impact(av *Avalanche, id lattice.GrainID, pos *components.Position, motion *components.Motion) {
	cell, err := e.lat.CellAt(pos.Coord)
	if err != nil {
		e.escape(av, id, pos, motion)
		return
	}
	if cell.EmptySpace() {
		motion.Energy = min(motion.Energy, 1)
		motion.State = components.StateRolling
		return
	}

	incoming := motion.Energy
	if cell.Push(id) {
		motion.Resident = true
		motion.Energy = 0
		motion.State = components.StateStationary
	} else {
		motion.Energy = min(motion.Energy, 1)
		motion.State = components.StateRolling
		motion.Attempts = 0
	}
	e.perturb(av, cell, incoming)
}

// perturb applies the toppling rule to cell for a stimulus of incoming energy.
func (e *Engine) perturb(av *Avalanche, cell *lattice.Cell, incoming int) {
	c := cell.Coord()
	total := incoming + e.extraEnergy.OrderOfMagnitude(e.src)
	if total <= cell.Resilience || c.Z == 0 {
		return
	}

	size := min(max(2+e.avalancheSize.OrderOfMagnitude(e.src), 0), cell.Residents())
	released := cell.Pop(size)
	for _, g := range released {
		if _, m, ok := e.reg.Get(g); ok {
			m.Resident = false
			e.release(av, g, m)
		}
	}

	// Ceiling pull: everything resting in the column at or above the toppled
	// cell joins the cascade.
	var pulled int
	for _, cc := range e.lat.CeilingColumn(c) {
		above, err := e.lat.CellAt(cc)
		if err != nil {
			continue
		}
		for _, g := range above.GrainIDs() {
			if _, m, ok := e.reg.Get(g); ok {
				e.release(av, g, m)
				pulled++
			}
		}
	}

	av.topples++
	slog.Debug("topple",
		"avalanche", av.ID,
		"cell", c.String(),
		"energy", total,
		"resilience", cell.Resilience,
		"released", len(released),
		"pulled", pulled,
	)
}

func (e *Engine) release(av *Avalanche, id lattice.GrainID, motion *components.Motion) {
	motion.State = components.StateRolling
	motion.Energy++
	motion.Attempts = 0
	av.Add(id)
}

func (e *Engine) roll(av *Avalanche, id lattice.GrainID, pos *components.Position, motion *components.Motion) {
	if pos.Z == 0 && e.lat.OnBoundary(pos.Coord) {
		e.escape(av, id, pos, motion)
		return
	}

	candidates := e.rollCandidates(pos.Coord)
	if len(candidates) == 0 {
		motion.Attempts++
		if motion.Attempts >= e.cfg.MaxRollAttempts {
			e.settle(av, id, pos, motion)
		}
		return
	}

	target := candidates[e.src.IntN(len(candidates))]
	if !e.lat.InBounds(target) {
		e.escape(av, id, pos, motion)
		return
	}
	e.leaveCell(id, pos, motion)
	pos.Coord = target
	motion.State = components.StateFalling
	motion.Attempts = 0
	av.movement++
}

// rollCandidates lists the lower-window positions a rolling grain may move
// to: in-grid cells with room first, then off-grid slots.
func (e *Engine) rollCandidates(c lattice.Coord) []lattice.Coord {
	below := e.lat.LowerNeighborhood(c)
	out := below[:0]
	for _, n := range below {
		if cell, err := e.lat.CellAt(n); err == nil && cell.HasSpace() {
			out = append(out, n)
		}
	}
	return append(out, e.lat.OffGridBelow(c)...)
}

// settle is the jam fallback: stay put if the grain is resident or its cell
// has room, otherwise climb one level if that cell has room, otherwise the
// grain is removed and counted as jammed.
func (e *Engine) settle(av *Avalanche, id lattice.GrainID, pos *components.Position, motion *components.Motion) {
	motion.Attempts = 0
	if motion.Resident {
		motion.Energy = 0
		motion.State = components.StateStationary
		return
	}
	if cell, err := e.lat.CellAt(pos.Coord); err == nil && cell.Push(id) {
		motion.Resident = true
		motion.Energy = 0
		motion.State = components.StateStationary
		return
	}
	up := pos.Above()
	if cell, err := e.lat.CellAt(up); err == nil && cell.Push(id) {
		pos.Coord = up
		motion.Resident = true
		motion.Energy = 0
		motion.State = components.StateStationary
		av.movement++
		return
	}
	e.leaveCell(id, pos, motion)
	e.reg.Remove(id)
	av.jammed++
	e.jammed++
	slog.Warn("jammed grain removed", "avalanche", av.ID, "grain", id, "cell", pos.Coord.String())
}

func (e *Engine) leaveCell(id lattice.GrainID, pos *components.Position, motion *components.Motion) {
	if !motion.Resident {
		return
	}
	if cell, err := e.lat.CellAt(pos.Coord); err == nil {
		cell.Remove(id)
	}
	motion.Resident = false
}

func (e *Engine) escape(av *Avalanche, id lattice.GrainID, pos *components.Position, motion *components.Motion) {
	e.leaveCell(id, pos, motion)
	e.reg.Remove(id)
	av.escaped++
	e.escaped++
}
