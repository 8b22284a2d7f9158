package sim

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lagoon-sim/lagoon/kernel"
)

// buildContacts fills the per-particle contact lists from the grid.
// Each particle discovers its own neighborhood, so the phase is
// parallel over particles with no shared writes; symmetry of the
// pairwise terms comes from the symmetric formulas, not from sharing
// contact records.
func (s *Simulation) buildContacts() {
	nGroups := len(s.groups)
	for gi, gs := range s.groups {
		gi := int32(gi)
		gs := gs
		group := gs.group
		s.pool.forEach(group.Len(), func(start, end, worker int) {
			sc := &s.scratches[worker]
			for i := start; i < end; i++ {
				if gs.skip[i] {
					continue
				}
				pos := group.Positions[i]
				// The widest support any pair with this particle can
				// have bounds the query radius; per-pair kernels then
				// reject what their own support excludes.
				sc.neighbors = s.grid.Query(sc.neighbors[:0], pos, s.cellSize)
				for _, nb := range sc.neighbors {
					if int(nb.Ref.Set) < nGroups {
						jg := nb.Ref.Set
						if jg == gi && nb.Ref.Index == int32(i) {
							// Self contact: kernel value at zero
							// distance, zero gradient.
							k := s.kernels[gi]
							gs.ff[i] = append(gs.ff[i], contact{
								set: jg, idx: nb.Ref.Index,
								w: k.W(0),
							})
							continue
						}
						k := s.pairKernel(int(gi), int(jg))
						if nb.DistSq >= k.Support()*k.Support() {
							continue
						}
						if s.neighborSkipped(jg, nb.Ref.Index) {
							continue
						}
						sep := r3.Sub(pos, nb.Pos)
						gs.ff[i] = append(gs.ff[i], contact{
							set: jg, idx: nb.Ref.Index,
							dist2: nb.DistSq,
							w:     k.W(nb.DistSq),
							grad:  k.Grad(sep, nb.DistSq),
						})
					} else {
						bi := nb.Ref.Set - int32(nGroups)
						k := s.kernels[gi]
						if nb.DistSq >= k.Support()*k.Support() {
							continue
						}
						sep := r3.Sub(pos, nb.Pos)
						gs.fb[i] = append(gs.fb[i], contact{
							set: bi, idx: nb.Ref.Index,
							dist2: nb.DistSq,
							w:     k.W(nb.DistSq),
							grad:  k.Grad(sep, nb.DistSq),
						})
					}
				}
			}
		})
	}
}

// pairKernel returns the kernel used for a cross-group pair. Both
// sides pick the wider of the two supports, which keeps the pairwise
// forces symmetric when groups carry different kernel multipliers.
func (s *Simulation) pairKernel(gi, gj int) kernel.CubicSpline {
	if s.kernels[gj].Support() > s.kernels[gi].Support() {
		return s.kernels[gj]
	}
	return s.kernels[gi]
}

func (s *Simulation) neighborSkipped(gi, idx int32) bool {
	return s.groups[gi].skip[idx]
}

// computeBoundaryVolumes infers each boundary sample's virtual volume
// from the local sample density: V_b = 1 / sum_k W(r_bk) over nearby
// boundary samples, the sample itself included. Dense sampling yields
// small volumes, so doubled-up geometry does not double its pressure
// contribution. An unreachable sample still sees its own W(0), so the
// division is always defined.
func (s *Simulation) computeBoundaryVolumes() {
	nGroups := len(s.groups)
	h := s.baseK.Support()
	for _, b := range s.boundaries {
		b := b
		s.pool.forEach(b.Len(), func(start, end, worker int) {
			sc := &s.scratches[worker]
			for i := start; i < end; i++ {
				pos := b.Positions[i]
				denom := 0.0
				sc.neighbors = s.grid.Query(sc.neighbors[:0], pos, h)
				for _, nb := range sc.neighbors {
					if int(nb.Ref.Set) < nGroups {
						continue // fluid neighbors do not define sampling density
					}
					denom += s.baseK.W(nb.DistSq)
				}
				if denom > 0 {
					b.Volumes[i] = 1 / denom
				} else {
					// Non-finite sample position: it matched nothing,
					// not even itself. Zero volume removes it from
					// every coupling term.
					b.Volumes[i] = 0
				}
			}
		})
	}
}

// computeDensities estimates each particle's density from its fluid
// neighbors plus the boundary contribution, using the boundary
// samples' inferred volumes at the particle's own rest density.
func (s *Simulation) computeDensities() {
	for _, gs := range s.groups {
		gs := gs
		rho0 := gs.group.Material().RestDensity
		clamp := s.params.ClampDensity
		s.pool.forEach(gs.group.Len(), func(start, end, worker int) {
			for i := start; i < end; i++ {
				if gs.skip[i] {
					gs.densities[i] = 0
					continue
				}
				rho := 0.0
				for _, c := range gs.ff[i] {
					rho += s.groups[c.set].group.Mass(int(c.idx)) * c.w
				}
				for _, c := range gs.fb[i] {
					rho += s.boundaries[c.set].Volumes[c.idx] * rho0 * c.w
				}
				if clamp && rho < rho0 {
					rho = rho0
				}
				gs.densities[i] = rho
			}
		})
	}
}

// computeNormals estimates the surface normal direction from the local
// density gradient. The magnitude doubles as a curvature proxy for the
// surface tension force; interior particles have near-cancelling
// gradients and so near-zero normals.
func (s *Simulation) computeNormals() {
	for gi, gs := range s.groups {
		gs := gs
		h := s.kernels[gi].Support()
		s.pool.forEach(gs.group.Len(), func(start, end, worker int) {
			for i := start; i < end; i++ {
				if gs.skip[i] {
					gs.normals[i] = r3.Vec{}
					continue
				}
				var n r3.Vec
				for _, c := range gs.ff[i] {
					jg := s.groups[c.set]
					rhoJ := math.Max(jg.densities[c.idx], jg.group.Material().RestDensity)
					n = r3.Add(n, r3.Scale(jg.group.Mass(int(c.idx))/rhoJ, c.grad))
				}
				gs.normals[i] = r3.Scale(h, n)
			}
		})
	}
}

// computeAlphas evaluates the shared DFSPH stiffness denominators:
// alpha_i = 1 / (sum |m_j grad W|^2 + |sum m_j grad W|^2). Both the
// constant-density and the divergence-free pass reuse them. A near
// zero denominator means the particle has no meaningful neighborhood;
// its alpha is zeroed, which makes every later correction on it a
// no-op.
func (s *Simulation) computeAlphas() {
	const minDenominator = 1e-6
	for _, gs := range s.groups {
		gs := gs
		rho0 := gs.group.Material().RestDensity
		s.pool.forEach(gs.group.Len(), func(start, end, worker int) {
			for i := start; i < end; i++ {
				if gs.skip[i] {
					gs.alphas[i] = 0
					continue
				}
				var gradSum r3.Vec
				sqSum := 0.0
				for _, c := range gs.ff[i] {
					g := r3.Scale(s.groups[c.set].group.Mass(int(c.idx)), c.grad)
					sqSum += r3.Norm2(g)
					gradSum = r3.Add(gradSum, g)
				}
				for _, c := range gs.fb[i] {
					g := r3.Scale(s.boundaries[c.set].Volumes[c.idx]*rho0, c.grad)
					sqSum += r3.Norm2(g)
					gradSum = r3.Add(gradSum, g)
				}
				denom := sqSum + r3.Norm2(gradSum)
				if denom <= minDenominator {
					gs.alphas[i] = 0
				} else {
					gs.alphas[i] = 1 / denom
				}
			}
		})
	}
}
