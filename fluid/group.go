// Package fluid holds the particle data model: structure-of-arrays
// particle groups, read-only boundary sample sets, and the material
// parameters shared by every particle in a group.
package fluid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Material holds the group-wide coefficients the solver reads. All
// groups run through the same equations; only these constants differ,
// so material behavior is data, not dispatch.
type Material struct {
	// RestDensity is the target density rho0 in kg/m^3.
	RestDensity float64
	// Viscosity is the kinematic viscosity coefficient.
	Viscosity float64
	// SurfaceTension is the cohesion coefficient; zero disables the
	// surface tension pass for this group.
	SurfaceTension float64
	// KernelMul scales the simulation support radius for this group's
	// self-interactions. 1 when unset.
	KernelMul float64
}

// Validate reports the first invalid material field.
func (m Material) Validate() error {
	if !(m.RestDensity > 0) || math.IsInf(m.RestDensity, 0) {
		return fmt.Errorf("fluid: rest density must be positive and finite, got %v", m.RestDensity)
	}
	if m.Viscosity < 0 || !isFinite(m.Viscosity) {
		return fmt.Errorf("fluid: viscosity must be non-negative and finite, got %v", m.Viscosity)
	}
	if m.SurfaceTension < 0 || !isFinite(m.SurfaceTension) {
		return fmt.Errorf("fluid: surface tension must be non-negative and finite, got %v", m.SurfaceTension)
	}
	if m.KernelMul < 0 || !isFinite(m.KernelMul) {
		return fmt.Errorf("fluid: kernel multiplier must be non-negative and finite, got %v", m.KernelMul)
	}
	return nil
}

// Handle names a particle slot across steps. The index alone is stable
// only within a step; generations come from a monotonic per-group
// counter, so any reuse of a slot, by compaction or by a later spawn,
// is detected instead of silently aliasing a different particle.
type Handle struct {
	Index int32
	Gen   uint32
}

// Group owns one contiguous particle set. The slices are parallel
// arrays indexed by slot; they are resized together and only between
// steps.
type Group struct {
	mat Material

	Positions  []r3.Vec
	Velocities []r3.Vec
	// Volumes holds per-particle rest volumes; a particle's mass is
	// Volumes[i] * RestDensity and never changes after spawn.
	Volumes []float64
	// Densities holds the densities computed by the last step. Zero
	// before the first step.
	Densities []float64

	gens    []uint32
	nextGen uint32  // generation floor for slots that get reused
	pending []int32 // slots queued for removal, applied by Compact
}

// NewGroup creates an empty group with the given material. The material
// is validated up front; no group state exists on error.
func NewGroup(mat Material) (*Group, error) {
	if mat.KernelMul == 0 {
		mat.KernelMul = 1
	}
	if err := mat.Validate(); err != nil {
		return nil, err
	}
	return &Group{mat: mat}, nil
}

// Material returns the group's coefficients.
func (g *Group) Material() Material { return g.mat }

// Len returns the number of live particle slots.
func (g *Group) Len() int { return len(g.Positions) }

// Mass returns the (rest) mass of particle i.
func (g *Group) Mass(i int) float64 { return g.Volumes[i] * g.mat.RestDensity }

// Volume returns the current volume of particle i, derived from its
// last computed density. The density is clamped below by the rest
// density so the division cannot blow up for under-dense free-surface
// particles.
func (g *Group) Volume(i int) float64 {
	return g.Mass(i) / math.Max(g.Densities[i], g.mat.RestDensity)
}

// Handle returns the generation-checked handle for slot i.
func (g *Group) Handle(i int) Handle {
	return Handle{Index: int32(i), Gen: g.gens[i]}
}

// Valid reports whether h still names the particle it was taken from.
func (g *Group) Valid(h Handle) bool {
	return int(h.Index) < len(g.gens) && g.gens[h.Index] == h.Gen
}

// Spawn appends a particle and returns its slot. volume is the rest
// volume; for a regular lattice of spacing d this is d^3.
func (g *Group) Spawn(pos, vel r3.Vec, volume float64) (int, error) {
	if !(volume > 0) || math.IsInf(volume, 0) {
		return 0, fmt.Errorf("fluid: particle volume must be positive and finite, got %v", volume)
	}
	g.Positions = append(g.Positions, pos)
	g.Velocities = append(g.Velocities, vel)
	g.Volumes = append(g.Volumes, volume)
	g.Densities = append(g.Densities, 0)
	g.gens = append(g.gens, g.nextGen)
	return len(g.Positions) - 1, nil
}

// SpawnBlock fills an axis-aligned box with particles on a regular
// lattice of the given spacing, all starting at rest. Returns the
// number spawned.
func (g *Group) SpawnBlock(min, max r3.Vec, spacing float64) (int, error) {
	if !(spacing > 0) {
		return 0, fmt.Errorf("fluid: lattice spacing must be positive, got %v", spacing)
	}
	vol := spacing * spacing * spacing
	n := 0
	for x := min.X + spacing/2; x < max.X; x += spacing {
		for y := min.Y + spacing/2; y < max.Y; y += spacing {
			for z := min.Z + spacing/2; z < max.Z; z += spacing {
				if _, err := g.Spawn(r3.Vec{X: x, Y: y, Z: z}, r3.Vec{}, vol); err != nil {
					return n, err
				}
				n++
			}
		}
	}
	return n, nil
}

// QueueRemove marks slot i for removal. The slot stays live until
// Compact runs between steps.
func (g *Group) QueueRemove(i int) {
	g.pending = append(g.pending, int32(i))
}

// Compact applies queued removals by swapping tail slots into the
// holes. Every retired slot raises the group's generation floor, so a
// handle taken before the removal can never match a particle that
// later reuses the same index, whether by swap or by a respawn after
// a tail truncation. Returns the number of particles removed.
func (g *Group) Compact() int {
	if len(g.pending) == 0 {
		return 0
	}
	dead := make(map[int32]bool, len(g.pending))
	for _, i := range g.pending {
		if int(i) < len(g.Positions) {
			dead[i] = true
		}
	}
	g.pending = g.pending[:0]

	n := len(g.Positions)
	removed := 0
	for i := 0; i < n; {
		if !dead[int32(i)] {
			i++
			continue
		}
		last := n - 1
		g.retireGen(i)
		if i != last {
			g.retireGen(last)
			g.Positions[i] = g.Positions[last]
			g.Velocities[i] = g.Velocities[last]
			g.Volumes[i] = g.Volumes[last]
			g.Densities[i] = g.Densities[last]
			g.gens[i] = g.nextGen
			dead[int32(i)] = dead[int32(last)]
		}
		n = last
		removed++
	}
	g.Positions = g.Positions[:n]
	g.Velocities = g.Velocities[:n]
	g.Volumes = g.Volumes[:n]
	g.Densities = g.Densities[:n]
	g.gens = g.gens[:n]
	return removed
}

// retireGen ends slot i's current identity. Any generation issued
// after this call is strictly greater than the one handles to the old
// occupant carry.
func (g *Group) retireGen(i int) {
	if g.gens[i] >= g.nextGen {
		g.nextGen = g.gens[i] + 1
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
