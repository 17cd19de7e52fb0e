package systems

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/sandpile/components"
	"github.com/pthm-cable/sandpile/lattice"
)

// GrainRegistry owns every grain entity. Grains are addressed by id; an id
// is never reused, even after the grain has left the pile.
type GrainRegistry struct {
	world *ecs.World

	grainMapper *ecs.Map3[components.Grain, components.Position, components.Motion]
	grainFilter *ecs.Filter3[components.Grain, components.Position, components.Motion]

	entities []ecs.Entity // indexed by GrainID; zero entity once removed
	alive    []bool
	live     int
}

// NewGrainRegistry creates a registry on a fresh ECS world.
func NewGrainRegistry() *GrainRegistry {
	world := ecs.NewWorld()
	return &GrainRegistry{
		world:       world,
		grainMapper: ecs.NewMap3[components.Grain, components.Position, components.Motion](world),
		grainFilter: ecs.NewFilter3[components.Grain, components.Position, components.Motion](world),
	}
}

// Spawn creates a grain at c with the given energy and state and returns its id.
func (r *GrainRegistry) Spawn(c lattice.Coord, energy int, state components.GrainState) lattice.GrainID {
	id := lattice.GrainID(len(r.entities))
	grain := components.Grain{ID: id}
	pos := components.Position{Coord: c}
	motion := components.Motion{Energy: energy, State: state}

	e := r.grainMapper.NewEntity(&grain, &pos, &motion)
	r.entities = append(r.entities, e)
	r.alive = append(r.alive, true)
	r.live++
	return id
}

// Get returns the grain's position and motion for in-place updates.
// ok is false for ids that were never issued or have been removed.
func (r *GrainRegistry) Get(id lattice.GrainID) (pos *components.Position, motion *components.Motion, ok bool) {
	if !r.Has(id) {
		return nil, nil, false
	}
	_, pos, motion = r.grainMapper.Get(r.entities[id])
	return pos, motion, true
}

// Has reports whether id refers to a grain still in the pile.
func (r *GrainRegistry) Has(id lattice.GrainID) bool {
	return int(id) < len(r.alive) && r.alive[id]
}

// Remove deletes a grain that has left the pile.
func (r *GrainRegistry) Remove(id lattice.GrainID) bool {
	if !r.Has(id) {
		return false
	}
	r.world.RemoveEntity(r.entities[id])
	r.alive[id] = false
	r.entities[id] = ecs.Entity{}
	r.live--
	return true
}

// Len returns the number of grains still in the pile.
func (r *GrainRegistry) Len() int { return r.live }

// CountByState tallies live grains per state.
func (r *GrainRegistry) CountByState() map[components.GrainState]int {
	counts := make(map[components.GrainState]int)
	query := r.grainFilter.Query()
	for query.Next() {
		_, _, motion := query.Get()
		counts[motion.State]++
	}
	return counts
}

// Each calls fn for every live grain. fn must not spawn or remove grains.
func (r *GrainRegistry) Each(fn func(id lattice.GrainID, pos components.Position, motion components.Motion)) {
	query := r.grainFilter.Query()
	for query.Next() {
		grain, pos, motion := query.Get()
		fn(grain.ID, *pos, *motion)
	}
}
