// Package lattice holds the fixed 3D grid of cells a sandpile is built on.
package lattice

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is returned for coordinates outside the configured extents.
	ErrOutOfBounds = errors.New("coordinate out of bounds")
	// ErrInvalidParameter is returned for extents or thresholds that cannot
	// describe a lattice.
	ErrInvalidParameter = errors.New("invalid lattice parameter")
)

// GrainID identifies a grain across the lattice and the grain registry.
type GrainID uint32

// Coord addresses a cell. Z is vertical and z = 0 is the ground.
type Coord struct {
	X, Y, Z int
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

// Below returns the coordinate one level down.
func (c Coord) Below() Coord { return Coord{c.X, c.Y, c.Z - 1} }

// Above returns the coordinate one level up.
func (c Coord) Above() Coord { return Coord{c.X, c.Y, c.Z + 1} }

// Extents are the lattice dimensions.
type Extents struct {
	X, Y, Z int
}

// Volume returns the number of cells.
func (e Extents) Volume() int { return e.X * e.Y * e.Z }

// JitterFunc returns a non-negative addition to a base threshold.
type JitterFunc func() int

// Lattice is the fixed grid. Cells are created once and never destroyed.
type Lattice struct {
	ext   Extents
	cells []Cell
}

// New allocates the grid. Cells inside the pile footprint get
// baseCapacity+capJitter() and baseResilience+resJitter(); cells outside it
// are inert empty space. Nil jitter functions contribute zero.
func New(ext Extents, baseCapacity, baseResilience int, capJitter, resJitter JitterFunc) (*Lattice, error) {
	if ext.X <= 0 || ext.Y <= 0 || ext.Z <= 0 {
		return nil, fmt.Errorf("%w: extents %dx%dx%d", ErrInvalidParameter, ext.X, ext.Y, ext.Z)
	}
	if baseCapacity < 0 || baseResilience < 0 {
		return nil, fmt.Errorf("%w: base capacity %d, base resilience %d", ErrInvalidParameter, baseCapacity, baseResilience)
	}

	l := &Lattice{
		ext:   ext,
		cells: make([]Cell, ext.Volume()),
	}

	// Fill order is x-major so jitter draws follow the nesting of the grid.
	for x := 0; x < ext.X; x++ {
		for y := 0; y < ext.Y; y++ {
			for z := 0; z < ext.Z; z++ {
				c := Coord{x, y, z}
				cell := &l.cells[l.index(c)]
				cell.coord = c
				if !l.InFootprint(c) {
					continue
				}
				cell.Capacity = baseCapacity + clampJitter(capJitter)
				cell.Resilience = baseResilience + clampJitter(resJitter)
			}
		}
	}
	return l, nil
}

func clampJitter(f JitterFunc) int {
	if f == nil {
		return 0
	}
	return max(0, f())
}

// Extents returns the lattice dimensions.
func (l *Lattice) Extents() Extents { return l.ext }

// Center returns the (x, y) center at the top level.
func (l *Lattice) Center() Coord {
	return Coord{l.ext.X / 2, l.ext.Y / 2, l.ext.Z - 1}
}

// InBounds reports whether c lies inside the extents.
func (l *Lattice) InBounds(c Coord) bool {
	return c.X >= 0 && c.X < l.ext.X &&
		c.Y >= 0 && c.Y < l.ext.Y &&
		c.Z >= 0 && c.Z < l.ext.Z
}

// InFootprint reports whether c is inside the inverted pyramid the pile may
// occupy: x in [z, X-1-z] and y in [z, Y-1-z].
func (l *Lattice) InFootprint(c Coord) bool {
	if !l.InBounds(c) {
		return false
	}
	return c.X >= c.Z && c.X <= l.ext.X-1-c.Z &&
		c.Y >= c.Z && c.Y <= l.ext.Y-1-c.Z
}

// OnBoundary reports whether (x, y) sits on the outer edge of the grid.
func (l *Lattice) OnBoundary(c Coord) bool {
	return c.X == 0 || c.Y == 0 || c.X == l.ext.X-1 || c.Y == l.ext.Y-1
}

func (l *Lattice) index(c Coord) int {
	return (c.Z*l.ext.Y+c.Y)*l.ext.X + c.X
}

// CellAt returns the cell at c.
func (l *Lattice) CellAt(c Coord) (*Cell, error) {
	if !l.InBounds(c) {
		return nil, fmt.Errorf("%w: %s in %dx%dx%d", ErrOutOfBounds, c, l.ext.X, l.ext.Y, l.ext.Z)
	}
	return &l.cells[l.index(c)], nil
}

// LowerNeighborhood returns the up-to-9 coordinates one level below c within
// Chebyshev distance 1 in x and y, clamped to the grid. Empty at z = 0.
func (l *Lattice) LowerNeighborhood(c Coord) []Coord {
	if c.Z <= 0 || c.Z > l.ext.Z {
		return nil
	}
	out := make([]Coord, 0, 9)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			n := Coord{c.X + dx, c.Y + dy, c.Z - 1}
			if l.InBounds(n) {
				out = append(out, n)
			}
		}
	}
	return out
}

// OffGridBelow returns the positions of the 3x3 window below c that fall
// outside the grid. A grain moving toward one of them leaves the pile.
func (l *Lattice) OffGridBelow(c Coord) []Coord {
	if c.Z <= 0 {
		return nil
	}
	var out []Coord
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			n := Coord{c.X + dx, c.Y + dy, c.Z - 1}
			if !l.InBounds(n) {
				out = append(out, n)
			}
		}
	}
	return out
}

// CeilingColumn returns every coordinate with the same (x, y) at or above c.
func (l *Lattice) CeilingColumn(c Coord) []Coord {
	if !l.InBounds(c) {
		return nil
	}
	out := make([]Coord, 0, l.ext.Z-c.Z)
	for z := c.Z; z < l.ext.Z; z++ {
		out = append(out, Coord{c.X, c.Y, z})
	}
	return out
}

// NumberOfGrains returns the resident count at c.
func (l *Lattice) NumberOfGrains(c Coord) (int, error) {
	cell, err := l.CellAt(c)
	if err != nil {
		return 0, err
	}
	return cell.Residents(), nil
}

// TotalGrains sums residents over every cell.
func (l *Lattice) TotalGrains() int {
	var total int
	for i := range l.cells {
		total += len(l.cells[i].grains)
	}
	return total
}

// EmptyCells counts in-footprint cells holding no grain.
func (l *Lattice) EmptyCells() int {
	var n int
	for i := range l.cells {
		if !l.cells[i].EmptySpace() && len(l.cells[i].grains) == 0 {
			n++
		}
	}
	return n
}

// Occupancy returns resident counts in index order (z, then y, then x).
func (l *Lattice) Occupancy() []int {
	out := make([]int, len(l.cells))
	for i := range l.cells {
		out[i] = len(l.cells[i].grains)
	}
	return out
}

// Each calls fn for every cell in index order.
func (l *Lattice) Each(fn func(*Cell)) {
	for i := range l.cells {
		fn(&l.cells[i])
	}
}

// Validate checks the stable-state invariants: residents never exceed
// capacity and empty space holds nothing.
func (l *Lattice) Validate() error {
	var errs []error
	for i := range l.cells {
		c := &l.cells[i]
		n := len(c.grains)
		switch {
		case c.EmptySpace() && n > 0:
			errs = append(errs, fmt.Errorf("empty space %s holds %d grains", c.coord, n))
		case n > c.Capacity:
			errs = append(errs, fmt.Errorf("cell %s holds %d grains, capacity %d", c.coord, n, c.Capacity))
		}
	}
	return errors.Join(errs...)
}
