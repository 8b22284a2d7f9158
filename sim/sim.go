// Package sim runs the SPH solver pipeline: neighbor contact build,
// density estimation, the divergence-free and constant-density DFSPH
// solves, non-pressure forces, and semi-implicit time integration.
package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lagoon-sim/lagoon/config"
	"github.com/lagoon-sim/lagoon/fluid"
	"github.com/lagoon-sim/lagoon/kernel"
	"github.com/lagoon-sim/lagoon/spatial"
	"github.com/lagoon-sim/lagoon/telemetry"
)

// Params holds the solver tuning knobs, normally filled from config.
type Params struct {
	KernelRadius float64

	MinPressureIterations int
	MaxPressureIterations int
	MaxDensityError       float64 // fraction of rest density

	DivergenceSolve         bool
	MinDivergenceIterations int
	MaxDivergenceIterations int
	MaxDivergenceError      float64
	MinDivergenceNeighbors  int

	CFL   float64
	MaxDT float64

	ClampDensity bool
	Workers      int
}

// FromConfig maps a validated config onto solver params.
func FromConfig(cfg *config.Config) Params {
	return Params{
		KernelRadius:            cfg.Derived.KernelRadius,
		MinPressureIterations:   cfg.Pressure.MinIterations,
		MaxPressureIterations:   cfg.Pressure.MaxIterations,
		MaxDensityError:         cfg.Pressure.MaxDensityError,
		DivergenceSolve:         cfg.Divergence.Enabled,
		MinDivergenceIterations: cfg.Divergence.MinIterations,
		MaxDivergenceIterations: cfg.Divergence.MaxIterations,
		MaxDivergenceError:      cfg.Divergence.MaxError,
		MinDivergenceNeighbors:  cfg.Divergence.MinNeighbors,
		CFL:                     cfg.Time.CFL,
		MaxDT:                   cfg.Time.MaxDT,
		ClampDensity:            cfg.Fluid.ClampDensity,
		Workers:                 cfg.Derived.Workers,
	}
}

func (p Params) validate() error {
	if !(p.KernelRadius > 0) || math.IsInf(p.KernelRadius, 0) {
		return fmt.Errorf("sim: kernel radius must be positive and finite, got %v", p.KernelRadius)
	}
	if p.MinPressureIterations < 0 || p.MaxPressureIterations < p.MinPressureIterations {
		return fmt.Errorf("sim: pressure iteration bounds invalid: min %d, max %d",
			p.MinPressureIterations, p.MaxPressureIterations)
	}
	if !(p.MaxDensityError > 0) {
		return fmt.Errorf("sim: max density error must be positive, got %v", p.MaxDensityError)
	}
	if p.DivergenceSolve {
		if p.MinDivergenceIterations < 0 || p.MaxDivergenceIterations < p.MinDivergenceIterations {
			return fmt.Errorf("sim: divergence iteration bounds invalid: min %d, max %d",
				p.MinDivergenceIterations, p.MaxDivergenceIterations)
		}
		if !(p.MaxDivergenceError > 0) {
			return fmt.Errorf("sim: max divergence error must be positive, got %v", p.MaxDivergenceError)
		}
		if p.MinDivergenceNeighbors < 0 {
			return fmt.Errorf("sim: min divergence neighbors must be non-negative, got %d", p.MinDivergenceNeighbors)
		}
	}
	if !(p.CFL > 0) || p.CFL > 1 {
		return fmt.Errorf("sim: CFL fraction must be in (0, 1], got %v", p.CFL)
	}
	if !(p.MaxDT > 0) {
		return fmt.Errorf("sim: max dt must be positive, got %v", p.MaxDT)
	}
	return nil
}

// contact is one evaluated neighbor pair. For fluid-fluid contacts set
// is the neighbor's group; for fluid-boundary contacts it is the
// boundary set index. The kernel value and gradient are evaluated once
// at contact build and reused by every solver pass of the step.
type contact struct {
	set   int32
	idx   int32
	dist2 float64
	w     float64
	grad  r3.Vec // gradient with respect to the owning particle
}

// groupState holds the step-scoped solver buffers for one group. The
// buffers are owned by the step invocation: rebuilt at step start,
// never read across steps.
type groupState struct {
	group *fluid.Group

	ff [][]contact // fluid-fluid, per particle, self contact included
	fb [][]contact // fluid-boundary, per particle

	densities []float64
	predicted []float64
	alphas    []float64
	diverg    []float64
	normals   []r3.Vec
	accels    []r3.Vec
	velDelta  []r3.Vec
	skip      []bool
}

func (gs *groupState) resize(n int) {
	gs.ff = resizeContacts(gs.ff, n)
	gs.fb = resizeContacts(gs.fb, n)
	gs.densities = resizeF64(gs.densities, n)
	gs.predicted = resizeF64(gs.predicted, n)
	gs.alphas = resizeF64(gs.alphas, n)
	gs.diverg = resizeF64(gs.diverg, n)
	gs.normals = resizeVec(gs.normals, n)
	gs.accels = resizeVec(gs.accels, n)
	gs.velDelta = resizeVec(gs.velDelta, n)
	if cap(gs.skip) < n {
		gs.skip = make([]bool, n)
	}
	gs.skip = gs.skip[:n]
	for i := range gs.skip {
		gs.skip[i] = false
	}
}

// workerScratch holds per-worker reusable buffers. Boundary reaction
// forces are accumulated here and reduced after each phase, so no two
// workers ever write the same slot.
type workerScratch struct {
	neighbors []spatial.Neighbor
	bforces   [][]r3.Vec // per boundary set, per sample
}

// Simulation owns the solver state for a set of fluid groups coupled
// to externally supplied boundary sample sets.
type Simulation struct {
	params  Params
	gravity r3.Vec

	groups     []*groupState
	boundaries []*fluid.BoundarySet

	kernels  []kernel.CubicSpline // per group, support h * KernelMul
	cohesion []kernel.Cohesion    // per group, for surface tension
	baseK    kernel.CubicSpline   // support h, used for boundary volumes

	grid      *spatial.Grid
	pool      *workerPool
	scratches []workerScratch

	perf     *telemetry.PerfCollector
	stepIdx  int64
	cellSize float64
}

// New creates a simulation with the given parameters. Configuration
// errors are reported before any state is built.
func New(params Params) (*Simulation, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	baseK, err := kernel.NewCubicSpline(params.KernelRadius)
	if err != nil {
		return nil, err
	}
	pool := newWorkerPool(params.Workers)
	return &Simulation{
		params:    params,
		groups:    nil,
		baseK:     baseK,
		grid:      spatial.NewGrid(),
		pool:      pool,
		scratches: make([]workerScratch, pool.numWorkers),
		cellSize:  params.KernelRadius,
	}, nil
}

// SetPerfCollector wires an optional phase-timing collector. nil
// disables timing.
func (s *Simulation) SetPerfCollector(p *telemetry.PerfCollector) { s.perf = p }

// SetGravity sets the uniform external acceleration.
func (s *Simulation) SetGravity(g r3.Vec) { s.gravity = g }

// Gravity returns the current uniform external acceleration.
func (s *Simulation) Gravity() r3.Vec { return s.gravity }

// Params returns the solver parameters.
func (s *Simulation) Params() Params { return s.params }

// AddGroup registers a particle group and returns its index. The
// group's material is validated by its constructor; here only the
// kernel for its support radius is built.
func (s *Simulation) AddGroup(g *fluid.Group) (int, error) {
	mat := g.Material()
	h := s.params.KernelRadius * mat.KernelMul
	k, err := kernel.NewCubicSpline(h)
	if err != nil {
		return 0, fmt.Errorf("sim: group kernel: %w", err)
	}
	coh, err := kernel.NewCohesion(h)
	if err != nil {
		return 0, fmt.Errorf("sim: group cohesion kernel: %w", err)
	}
	s.groups = append(s.groups, &groupState{group: g})
	s.kernels = append(s.kernels, k)
	s.cohesion = append(s.cohesion, coh)
	if h > s.cellSize {
		s.cellSize = h
	}
	return len(s.groups) - 1, nil
}

// RemoveGroup drops the group at index gi. Indices of later groups
// shift down, exactly like particle slots inside a group; callers that
// hold group indices across a removal must re-resolve them.
func (s *Simulation) RemoveGroup(gi int) error {
	if gi < 0 || gi >= len(s.groups) {
		return fmt.Errorf("sim: group index %d out of range [0, %d)", gi, len(s.groups))
	}
	s.groups = append(s.groups[:gi], s.groups[gi+1:]...)
	s.kernels = append(s.kernels[:gi], s.kernels[gi+1:]...)
	s.cohesion = append(s.cohesion[:gi], s.cohesion[gi+1:]...)
	s.recomputeCellSize()
	return nil
}

// Group returns the group at index gi.
func (s *Simulation) Group(gi int) *fluid.Group { return s.groups[gi].group }

// NumGroups returns the number of registered groups.
func (s *Simulation) NumGroups() int { return len(s.groups) }

// Densities returns the per-particle densities computed by the last
// step for group gi. Valid until the group is resized.
func (s *Simulation) Densities(gi int) []float64 { return s.groups[gi].group.Densities }

// SetBoundaries supplies the boundary sample sets for subsequent
// steps. The sets are borrowed: the solver fills their inferred
// volumes and reaction forces each step but never moves a sample.
// Pass no arguments to run fluid-only.
func (s *Simulation) SetBoundaries(sets ...*fluid.BoundarySet) {
	s.boundaries = sets
}

// BoundaryForces returns the per-sample reaction forces accumulated by
// the step that just completed for boundary set bi. The slice aliases
// solver state and is valid only until the next step; see
// fluid.BoundarySet.Forces for the sign convention.
func (s *Simulation) BoundaryForces(bi int) []r3.Vec {
	return s.boundaries[bi].Forces
}

// Close releases the worker pool. The simulation must not be stepped
// afterwards.
func (s *Simulation) Close() {
	s.pool.stop()
}

func (s *Simulation) recomputeCellSize() {
	s.cellSize = s.params.KernelRadius
	for gi := range s.groups {
		if h := s.kernels[gi].Support(); h > s.cellSize {
			s.cellSize = h
		}
	}
}

// Step advances the simulation by one solver step of at most budget
// seconds. The step size actually taken also honors the CFL bound and
// the configured maximum; callers wanting a fixed frame advance loop
// until the returned stats account for the full budget.
func (s *Simulation) Step(budget float64) (telemetry.StepStats, error) {
	var stats telemetry.StepStats
	if !(budget > 0) || math.IsInf(budget, 0) {
		return stats, fmt.Errorf("sim: step budget must be positive and finite, got %v", budget)
	}

	s.stepIdx++
	stats.Step = s.stepIdx

	// Structural changes settle before any index is handed to the
	// grid: queued removals compact here, nowhere else.
	for _, gs := range s.groups {
		gs.group.Compact()
		gs.resize(gs.group.Len())
		stats.Particles += gs.group.Len()
	}
	for _, b := range s.boundaries {
		b.ClearForces()
		stats.Boundary += b.Len()
	}
	s.resizeScratches()

	s.perf.StartStep()
	defer s.perf.EndStep()

	dt, vmax := s.stepSize(budget)
	stats.DT = dt
	stats.MaxSpeed = vmax

	s.perf.StartPhase(telemetry.PhaseGrid)
	s.buildGrid()
	stats.NonFinite = s.markDegenerate()

	s.perf.StartPhase(telemetry.PhaseContacts)
	s.buildContacts()
	s.computeBoundaryVolumes()

	s.perf.StartPhase(telemetry.PhaseDensities)
	s.computeDensities()
	s.computeAlphas()
	if s.anySurfaceTension() {
		s.computeNormals()
	}

	if s.params.DivergenceSolve {
		s.perf.StartPhase(telemetry.PhaseDivergence)
		iters, err := s.divergenceSolve(dt)
		stats.DivergenceIterations = iters
		stats.DivergenceError = err
		s.applyVelocityDeltas()
	}

	s.perf.StartPhase(telemetry.PhaseNonPressure)
	s.applyNonPressureForces()
	s.integrateAccelerations(dt)

	s.perf.StartPhase(telemetry.PhasePressure)
	iters, derr, converged := s.pressureSolve(dt)
	stats.PressureIterations = iters
	stats.DensityError = derr
	stats.Converged = converged

	s.perf.StartPhase(telemetry.PhaseIntegrate)
	s.integrate(dt)

	return stats, nil
}

// stepSize applies the CFL bound: no particle may travel more than
// CFL * h in one step, so nothing can tunnel past the one-ring
// neighbor search between rebuilds.
func (s *Simulation) stepSize(budget float64) (dt, vmax float64) {
	for _, gs := range s.groups {
		for _, v := range gs.group.Velocities {
			n2 := r3.Norm2(v)
			if math.IsNaN(n2) || math.IsInf(n2, 0) {
				continue
			}
			if n2 > vmax {
				vmax = n2
			}
		}
	}
	vmax = math.Sqrt(vmax)

	dt = math.Min(budget, s.params.MaxDT)
	if vmax > 0 {
		if cfl := s.params.CFL * s.params.KernelRadius / vmax; cfl < dt {
			dt = cfl
		}
	}
	return dt, vmax
}

func (s *Simulation) buildGrid() {
	sets := make([][]r3.Vec, 0, len(s.groups)+len(s.boundaries))
	for _, gs := range s.groups {
		sets = append(sets, gs.group.Positions)
	}
	for _, b := range s.boundaries {
		sets = append(sets, b.Positions)
	}
	s.grid.Build(s.cellSize, sets...)
}

// markDegenerate isolates particles with non-finite state: the grid
// already refused to index non-finite positions; velocities are
// checked here. Isolated particles contribute nothing to any neighbor
// sum and are not integrated, so one bad particle cannot poison the
// rest of the field through density coupling.
func (s *Simulation) markDegenerate() int {
	count := 0
	for _, ref := range s.grid.Dropped() {
		if int(ref.Set) >= len(s.groups) {
			continue // boundary samples contribute nothing extra to isolate
		}
		gs := s.groups[ref.Set]
		if !gs.skip[ref.Index] {
			gs.skip[ref.Index] = true
			count++
		}
	}
	for _, gs := range s.groups {
		for i, v := range gs.group.Velocities {
			if gs.skip[i] {
				continue
			}
			if math.IsNaN(v.X+v.Y+v.Z) || math.IsInf(v.X+v.Y+v.Z, 0) {
				gs.skip[i] = true
				count++
			}
		}
	}
	return count
}

func (s *Simulation) resizeScratches() {
	for w := range s.scratches {
		sc := &s.scratches[w]
		if len(sc.bforces) != len(s.boundaries) {
			sc.bforces = make([][]r3.Vec, len(s.boundaries))
		}
		for bi, b := range s.boundaries {
			if cap(sc.bforces[bi]) < b.Len() {
				sc.bforces[bi] = make([]r3.Vec, b.Len())
			}
			sc.bforces[bi] = sc.bforces[bi][:b.Len()]
		}
	}
}

// clearScratchForces zeroes the per-worker boundary accumulators
// before a phase that writes them.
func (s *Simulation) clearScratchForces() {
	for w := range s.scratches {
		for _, buf := range s.scratches[w].bforces {
			for i := range buf {
				buf[i] = r3.Vec{}
			}
		}
	}
}

// reduceScratchForces folds the per-worker boundary accumulators into
// the boundary sets after a phase barrier.
func (s *Simulation) reduceScratchForces() {
	for w := range s.scratches {
		for bi, buf := range s.scratches[w].bforces {
			forces := s.boundaries[bi].Forces
			for i, f := range buf {
				forces[i] = r3.Add(forces[i], f)
			}
		}
	}
}

func (s *Simulation) anySurfaceTension() bool {
	for _, gs := range s.groups {
		if gs.group.Material().SurfaceTension > 0 {
			return true
		}
	}
	return false
}

func resizeF64(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	s = s[:n]
	for i := range s {
		s[i] = 0
	}
	return s
}

func resizeVec(s []r3.Vec, n int) []r3.Vec {
	if cap(s) < n {
		return make([]r3.Vec, n)
	}
	s = s[:n]
	for i := range s {
		s[i] = r3.Vec{}
	}
	return s
}

func resizeContacts(s [][]contact, n int) [][]contact {
	if cap(s) < n {
		out := make([][]contact, n)
		copy(out, s)
		s = out
	}
	s = s[:n]
	for i := range s {
		s[i] = s[i][:0]
	}
	return s
}
