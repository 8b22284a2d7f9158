// Package spatial provides the step-scoped uniform grid used for
// fixed-radius neighbor candidate queries.
package spatial

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Ref names a point by the set it was registered under and its index
// within that set. Set numbering follows the Build argument order.
type Ref struct {
	Set   int32
	Index int32
}

// Neighbor is one query hit with its squared distance precomputed, so
// callers never redo the distance test in the hot path.
type Neighbor struct {
	Ref    Ref
	Pos    r3.Vec
	DistSq float64
}

type cellKey struct {
	x, y, z int32
}

type entry struct {
	ref Ref
	pos r3.Vec
}

// Grid is a uniform hash grid with cell size equal to the kernel
// support radius, so any true neighbor of a query point lies in the
// 3x3x3 block of cells around it. It is rebuilt from scratch every
// step and holds no identity across steps; only the cell storage is
// recycled to avoid reallocating.
type Grid struct {
	cellSize float64
	cells    map[cellKey][]entry
	dropped  []Ref
}

// NewGrid creates an empty grid. Build must be called before queries.
func NewGrid() *Grid {
	return &Grid{cells: make(map[cellKey][]entry)}
}

// Build indexes every point of every set. Points with non-finite
// coordinates are not inserted; they are reported by Dropped so the
// caller can isolate them instead of letting a NaN poison neighbor
// sums. Build never fails on degenerate input.
func (g *Grid) Build(cellSize float64, sets ...[]r3.Vec) {
	g.cellSize = cellSize
	for k, c := range g.cells {
		if len(c) == 0 {
			delete(g.cells, k)
			continue
		}
		g.cells[k] = c[:0]
	}
	g.dropped = g.dropped[:0]

	for si, set := range sets {
		for i, p := range set {
			if !finiteVec(p) {
				g.dropped = append(g.dropped, Ref{Set: int32(si), Index: int32(i)})
				continue
			}
			k := g.keyFor(p)
			g.cells[k] = append(g.cells[k], entry{
				ref: Ref{Set: int32(si), Index: int32(i)},
				pos: p,
			})
		}
	}
}

// Dropped returns the refs of points excluded from the last Build for
// having non-finite coordinates. The slice is valid until the next
// Build.
func (g *Grid) Dropped() []Ref { return g.dropped }

// Query appends every indexed point within radius of pos to dst and
// returns it. Reuse dst across calls to avoid allocations. A query at
// a non-finite position matches nothing. Results arrive in discovery
// order, which depends on hashing; callers must not rely on it.
func (g *Grid) Query(dst []Neighbor, pos r3.Vec, radius float64) []Neighbor {
	if !finiteVec(pos) || radius <= 0 {
		return dst
	}
	// With cellSize >= radius one ring suffices; smaller cells need a
	// wider scan.
	reach := int32(1)
	if g.cellSize < radius {
		reach = int32(math.Ceil(radius/g.cellSize))
	}
	r2 := radius * radius
	ck := g.keyFor(pos)

	for dx := -reach; dx <= reach; dx++ {
		for dy := -reach; dy <= reach; dy++ {
			for dz := -reach; dz <= reach; dz++ {
				cell, ok := g.cells[cellKey{ck.x + dx, ck.y + dy, ck.z + dz}]
				if !ok {
					continue
				}
				for _, e := range cell {
					d := r3.Sub(pos, e.pos)
					d2 := r3.Norm2(d)
					if d2 <= r2 {
						dst = append(dst, Neighbor{Ref: e.ref, Pos: e.pos, DistSq: d2})
					}
				}
			}
		}
	}
	return dst
}

func (g *Grid) keyFor(p r3.Vec) cellKey {
	return cellKey{
		x: int32(math.Floor(p.X / g.cellSize)),
		y: int32(math.Floor(p.Y / g.cellSize)),
		z: int32(math.Floor(p.Z / g.cellSize)),
	}
}

func finiteVec(p r3.Vec) bool {
	return finite(p.X) && finite(p.Y) && finite(p.Z)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
