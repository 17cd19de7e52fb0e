package systems

import "github.com/pthm-cable/sandpile/lattice"

// Avalanche is the working set of grains in motion because of one deposit.
// Members are kept in discovery order and may be added or dropped mid-pass.
type Avalanche struct {
	ID uint64

	members []lattice.GrainID
	inSet   map[lattice.GrainID]bool
	seen    map[lattice.GrainID]bool

	movement int
	topples  int
	escaped  int
	jammed   int
}

// NewAvalanche starts an avalanche with the given initial members.
func NewAvalanche(id uint64, ids ...lattice.GrainID) *Avalanche {
	av := &Avalanche{
		ID:    id,
		inSet: make(map[lattice.GrainID]bool),
		seen:  make(map[lattice.GrainID]bool),
	}
	for _, g := range ids {
		av.Add(g)
	}
	return av
}

// Add puts id in the working set. Re-adding a member is a no-op and a grain
// that left and rejoins is only counted once toward involvement.
func (a *Avalanche) Add(id lattice.GrainID) {
	a.seen[id] = true
	if a.inSet[id] {
		return
	}
	a.inSet[id] = true
	a.members = append(a.members, id)
}

// Members returns a copy of the working set in discovery order.
func (a *Avalanche) Members() []lattice.GrainID {
	out := make([]lattice.GrainID, len(a.members))
	copy(out, a.members)
	return out
}

// Len returns the current working-set size.
func (a *Avalanche) Len() int { return len(a.members) }

// Involved is the number of distinct grains ever added.
func (a *Avalanche) Involved() int { return len(a.seen) }

// retain keeps only members for which keep returns true.
func (a *Avalanche) retain(keep func(lattice.GrainID) bool) {
	kept := a.members[:0]
	for _, id := range a.members {
		if keep(id) {
			kept = append(kept, id)
			continue
		}
		delete(a.inSet, id)
	}
	a.members = kept
}
