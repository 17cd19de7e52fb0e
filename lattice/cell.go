package lattice

// Cell is one lattice position. Grains are stacked; the most recently pushed
// grain is on top and is the first to be popped by a topple.
type Cell struct {
	Capacity   int
	Resilience int

	coord  Coord
	grains []GrainID
}

// Coord returns the cell's position.
func (c *Cell) Coord() Coord { return c.coord }

// EmptySpace reports whether the cell is inert: zero capacity and zero
// resilience. Empty space never holds grains and never topples.
func (c *Cell) EmptySpace() bool {
	return c.Capacity == 0 && c.Resilience == 0
}

// Residents returns the number of grains currently held.
func (c *Cell) Residents() int { return len(c.grains) }

// HasSpace reports whether another grain fits.
func (c *Cell) HasSpace() bool {
	return !c.EmptySpace() && len(c.grains) < c.Capacity
}

// Push adds id on top of the stack. It returns false if the cell is empty
// space or already full.
func (c *Cell) Push(id GrainID) bool {
	if !c.HasSpace() {
		return false
	}
	c.grains = append(c.grains, id)
	return true
}

// Pop removes up to n grains from the top of the stack, most recent first.
func (c *Cell) Pop(n int) []GrainID {
	n = min(max(n, 0), len(c.grains))
	if n == 0 {
		return nil
	}
	out := make([]GrainID, 0, n)
	for i := 0; i < n; i++ {
		last := len(c.grains) - 1
		out = append(out, c.grains[last])
		c.grains = c.grains[:last]
	}
	return out
}

// Remove deletes id from the stack, preserving the order of the rest.
func (c *Cell) Remove(id GrainID) bool {
	for i, g := range c.grains {
		if g == id {
			c.grains = append(c.grains[:i], c.grains[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether id is resident here.
func (c *Cell) Contains(id GrainID) bool {
	for _, g := range c.grains {
		if g == id {
			return true
		}
	}
	return false
}

// GrainIDs returns a copy of the resident ids, bottom of the stack first.
func (c *Cell) GrainIDs() []GrainID {
	out := make([]GrainID, len(c.grains))
	copy(out, c.grains)
	return out
}
