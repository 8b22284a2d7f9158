package fluid

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// BoundarySet holds the surface samples of one rigid body for the
// duration of a step. The solver borrows it read-only: it never moves
// samples, it only fills in the inferred volumes and accumulates the
// per-sample reaction forces it exports after the step. Sampling the
// surface and moving the body are the owning collaborator's job.
type BoundarySet struct {
	Positions  []r3.Vec
	Velocities []r3.Vec

	// Volumes holds the virtual volume inferred for each sample from
	// the local sample density. Recomputed every step by the solver.
	Volumes []float64
	// Forces accumulates the per-sample reaction force for the step
	// that just completed. Sign convention: this is the force the
	// boundary exerts on the fluid (the support load points against
	// gravity for resting fluid); apply the negation to the owning
	// body.
	Forces []r3.Vec
}

// NewBoundarySet wraps sample positions and velocities. velocities may
// be nil for a static body. The position slice is borrowed, not copied;
// the owner must keep it unchanged until the step returns.
func NewBoundarySet(positions, velocities []r3.Vec) (*BoundarySet, error) {
	if velocities != nil && len(velocities) != len(positions) {
		return nil, fmt.Errorf("fluid: boundary velocity count %d does not match sample count %d",
			len(velocities), len(positions))
	}
	if velocities == nil {
		velocities = make([]r3.Vec, len(positions))
	}
	return &BoundarySet{
		Positions:  positions,
		Velocities: velocities,
		Volumes:    make([]float64, len(positions)),
		Forces:     make([]r3.Vec, len(positions)),
	}, nil
}

// EmptyBoundarySet allocates a set of n samples at the origin for an
// owner that fills positions and velocities in place each step.
func EmptyBoundarySet(n int) *BoundarySet {
	return &BoundarySet{
		Positions:  make([]r3.Vec, n),
		Velocities: make([]r3.Vec, n),
		Volumes:    make([]float64, n),
		Forces:     make([]r3.Vec, n),
	}
}

// Len returns the number of samples.
func (b *BoundarySet) Len() int { return len(b.Positions) }

// ClearForces zeroes the accumulated reaction forces. The solver calls
// this at the start of every step; exported forces are therefore valid
// only until the next step begins.
func (b *BoundarySet) ClearForces() {
	for i := range b.Forces {
		b.Forces[i] = r3.Vec{}
	}
}

// NetForce returns the sum of the per-sample reaction forces.
func (b *BoundarySet) NetForce() r3.Vec {
	var f r3.Vec
	for _, s := range b.Forces {
		f = r3.Add(f, s)
	}
	return f
}
