// Package components defines ECS components for grains.
package components

import "github.com/pthm-cable/sandpile/lattice"

// GrainState is where a grain is in its fall-impact-roll cycle.
type GrainState uint8

const (
	StateUnknown GrainState = iota
	StateFalling            // Moving down through empty or roomy cells
	StateImpact             // Just struck something and must resolve
	StateRolling            // Looking for a lower cell with room
	StateStationary         // Settled; leaves the avalanche working set
)

func (s GrainState) String() string {
	switch s {
	case StateFalling:
		return "falling"
	case StateImpact:
		return "impact"
	case StateRolling:
		return "rolling"
	case StateStationary:
		return "stationary"
	default:
		return "unknown"
	}
}

// Grain identifies a grain entity.
type Grain struct {
	ID lattice.GrainID
}

// Position is the cell a grain occupies or is passing through.
type Position struct {
	lattice.Coord
}

// Motion holds per-grain dynamics.
type Motion struct {
	Energy   int        // Kinetic energy, capped at terminal free-fall speed
	State    GrainState // Current phase
	Attempts int        // Consecutive rolling passes without a candidate
	Resident bool       // Whether the grain is in its cell's stack
}
