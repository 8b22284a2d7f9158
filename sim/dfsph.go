package sim

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// pressureSolve runs the constant-density DFSPH loop: predict the
// density error produced by the current velocities plus accumulated
// deltas, derive per-particle stiffness from it, and correct the
// deltas, until the average density error drops under the configured
// fraction of rest density or the iteration cap is hit. Hitting the
// cap is not an error; the best estimate stands and the step proceeds.
func (s *Simulation) pressureSolve(dt float64) (iters int, avgErr float64, converged bool) {
	invDT := 1 / dt
	for it := 0; it < s.params.MaxPressureIterations; it++ {
		iters = it + 1
		avgErr = s.computePredictedDensities(dt)

		if avgErr <= s.params.MaxDensityError && it >= s.params.MinPressureIterations {
			return iters, avgErr, true
		}

		s.computePressureVelocityChanges(invDT)
	}
	return iters, avgErr, avgErr <= s.params.MaxDensityError
}

// computePredictedDensities advances each particle's density estimate
// by the divergence of the candidate velocities (velocity plus the
// deltas accumulated so far) and returns the worst per-group average
// of the positive relative density error. Particles below rest
// density contribute no error: a free surface is legitimately
// under-dense and must not drag pressure negative.
func (s *Simulation) computePredictedDensities(dt float64) float64 {
	maxErr := 0.0
	for _, gs := range s.groups {
		rho0 := gs.group.Material().RestDensity
		errs := make([]float64, s.pool.numWorkers)
		s.pool.forEach(gs.group.Len(), func(start, end, worker int) {
			sum := 0.0
			for i := start; i < end; i++ {
				if gs.skip[i] {
					gs.predicted[i] = gs.densities[i]
					continue
				}
				vi := r3.Add(gs.group.Velocities[i], gs.velDelta[i])
				delta := 0.0
				for _, c := range gs.ff[i] {
					jg := s.groups[c.set]
					vj := r3.Add(jg.group.Velocities[c.idx], jg.velDelta[c.idx])
					delta += jg.group.Mass(int(c.idx)) * r3.Dot(r3.Sub(vi, vj), c.grad)
				}
				for _, c := range gs.fb[i] {
					b := s.boundaries[c.set]
					vj := b.Velocities[c.idx]
					delta += b.Volumes[c.idx] * rho0 * r3.Dot(r3.Sub(vi, vj), c.grad)
				}
				pred := gs.densities[i] + delta*dt
				gs.predicted[i] = pred
				if pred > rho0 {
					sum += pred/rho0 - 1
				}
			}
			errs[worker] += sum
		})
		if n := gs.group.Len(); n > 0 {
			total := 0.0
			for _, e := range errs {
				total += e
			}
			if avg := total / float64(n); avg > maxErr {
				maxErr = avg
			}
		}
	}
	return maxErr
}

// computePressureVelocityChanges applies one stiffness correction.
// The pair coefficient k_ij = max(k_i,0) + max(k_j,0) is symmetric, so
// each side of a pair computes an equal and opposite delta from its
// own contact list and no momentum is created. Boundary terms use only
// the fluid side's stiffness and push the reaction into the per-worker
// accumulators.
func (s *Simulation) computePressureVelocityChanges(invDT float64) {
	s.clearScratchForces()
	for _, gs := range s.groups {
		rho0 := gs.group.Material().RestDensity
		s.pool.forEach(gs.group.Len(), func(start, end, worker int) {
			sc := &s.scratches[worker]
			for i := start; i < end; i++ {
				if gs.skip[i] {
					continue
				}
				ki := (gs.predicted[i] - rho0) * gs.alphas[i]
				delta := gs.velDelta[i]

				for _, c := range gs.ff[i] {
					jg := s.groups[c.set]
					kj := (jg.predicted[c.idx] - jg.group.Material().RestDensity) * jg.alphas[c.idx]
					kij := math.Max(ki, 0) + math.Max(kj, 0)
					if kij > 0 {
						coeff := kij * jg.group.Mass(int(c.idx))
						delta = r3.Sub(delta, r3.Scale(coeff*invDT, c.grad))
					}
				}

				if ki > 0 {
					mass := gs.group.Mass(i)
					for _, c := range gs.fb[i] {
						b := s.boundaries[c.set]
						coeff := ki * b.Volumes[c.idx] * rho0
						d := r3.Scale(coeff*invDT, c.grad)
						delta = r3.Sub(delta, d)
						// Reaction on the sample: the force the
						// boundary exerts on the fluid, mass * dv/dt.
						sc.bforces[c.set][c.idx] = r3.Add(sc.bforces[c.set][c.idx],
							r3.Scale(-mass*invDT, d))
					}
				}

				gs.velDelta[i] = delta
			}
		})
	}
	s.reduceScratchForces()
}

// divergenceSolve runs the divergence-free DFSPH loop before
// advection, damping the velocity field's compression rate. Particles
// with sparse neighborhoods are excluded: their divergence estimate is
// meaningless and correcting it shoots free-surface particles around.
func (s *Simulation) divergenceSolve(dt float64) (iters int, avgErr float64) {
	invDT := 1 / dt
	// The configured threshold is a percentage per second; scale it to
	// this step's rate.
	threshold := s.params.MaxDivergenceError * invDT * 0.01
	for it := 0; it < s.params.MaxDivergenceIterations; it++ {
		iters = it + 1
		avgErr = s.computeDivergences()

		if avgErr <= threshold && it >= s.params.MinDivergenceIterations {
			return iters, avgErr
		}

		s.computeDivergenceVelocityChanges(invDT)
	}
	return iters, avgErr
}

// computeDivergences estimates each particle's velocity divergence
// (density rate of change) and returns the worst per-group average,
// normalized by rest density. Only expansion-free error counts:
// negative divergence (separation) is left alone.
func (s *Simulation) computeDivergences() float64 {
	minNeighbors := s.params.MinDivergenceNeighbors
	maxErr := 0.0
	for _, gs := range s.groups {
		rho0 := gs.group.Material().RestDensity
		errs := make([]float64, s.pool.numWorkers)
		s.pool.forEach(gs.group.Len(), func(start, end, worker int) {
			sum := 0.0
			for i := start; i < end; i++ {
				gs.diverg[i] = 0
				if gs.skip[i] {
					continue
				}
				if len(gs.ff[i])+len(gs.fb[i]) < minNeighbors {
					continue
				}
				vi := r3.Add(gs.group.Velocities[i], gs.velDelta[i])
				div := 0.0
				for _, c := range gs.ff[i] {
					jg := s.groups[c.set]
					vj := r3.Add(jg.group.Velocities[c.idx], jg.velDelta[c.idx])
					div += r3.Dot(r3.Sub(vi, vj), c.grad) * jg.group.Mass(int(c.idx))
				}
				for _, c := range gs.fb[i] {
					b := s.boundaries[c.set]
					dv := r3.Sub(vi, b.Velocities[c.idx])
					div += r3.Dot(dv, c.grad) * b.Volumes[c.idx] * rho0
				}
				if div < 0 {
					div = 0
				}
				gs.diverg[i] = div
				sum += div / rho0
			}
			errs[worker] += sum
		})
		if n := gs.group.Len(); n > 0 {
			total := 0.0
			for _, e := range errs {
				total += e
			}
			if avg := total / float64(n); avg > maxErr {
				maxErr = avg
			}
		}
	}
	return maxErr
}

// computeDivergenceVelocityChanges applies one divergence-stiffness
// correction, mirroring the pressure pass with k_i = div_i * alpha_i.
func (s *Simulation) computeDivergenceVelocityChanges(invDT float64) {
	s.clearScratchForces()
	for _, gs := range s.groups {
		rho0 := gs.group.Material().RestDensity
		s.pool.forEach(gs.group.Len(), func(start, end, worker int) {
			sc := &s.scratches[worker]
			for i := start; i < end; i++ {
				if gs.skip[i] {
					continue
				}
				ki := gs.diverg[i] * gs.alphas[i]
				delta := gs.velDelta[i]

				for _, c := range gs.ff[i] {
					jg := s.groups[c.set]
					kj := jg.diverg[c.idx] * jg.alphas[c.idx]
					coeff := (ki + kj) * jg.group.Mass(int(c.idx))
					delta = r3.Sub(delta, r3.Scale(coeff, c.grad))
				}

				if ki != 0 {
					mass := gs.group.Mass(i)
					for _, c := range gs.fb[i] {
						b := s.boundaries[c.set]
						coeff := ki * b.Volumes[c.idx] * rho0
						d := r3.Scale(coeff, c.grad)
						delta = r3.Sub(delta, d)
						sc.bforces[c.set][c.idx] = r3.Add(sc.bforces[c.set][c.idx],
							r3.Scale(-mass*invDT, d))
					}
				}

				gs.velDelta[i] = delta
			}
		})
	}
	s.reduceScratchForces()
}

// applyVelocityDeltas folds the accumulated deltas into the particle
// velocities and clears them for the next pass.
func (s *Simulation) applyVelocityDeltas() {
	for _, gs := range s.groups {
		s.pool.forEach(gs.group.Len(), func(start, end, worker int) {
			for i := start; i < end; i++ {
				if gs.skip[i] {
					continue
				}
				gs.group.Velocities[i] = r3.Add(gs.group.Velocities[i], gs.velDelta[i])
				gs.velDelta[i] = r3.Vec{}
			}
		})
	}
}

// integrate finishes the step: velocities absorb the pressure deltas,
// positions advance with the new velocities (semi-implicit order), and
// the step's densities are published to the groups. Skipped particles
// are frozen in place.
func (s *Simulation) integrate(dt float64) {
	for _, gs := range s.groups {
		s.pool.forEach(gs.group.Len(), func(start, end, worker int) {
			for i := start; i < end; i++ {
				gs.group.Densities[i] = gs.densities[i]
				if gs.skip[i] {
					continue
				}
				v := r3.Add(gs.group.Velocities[i], gs.velDelta[i])
				gs.group.Velocities[i] = v
				gs.group.Positions[i] = r3.Add(gs.group.Positions[i], r3.Scale(dt, v))
				gs.velDelta[i] = r3.Vec{}
			}
		})
	}
}
