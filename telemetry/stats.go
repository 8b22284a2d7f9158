package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// StepStats is the diagnostic record one solver step returns to the
// caller. Every field is advisory; a step that failed to converge is
// still a completed step.
type StepStats struct {
	Step int64 `csv:"step"`

	// DT is the step size actually advanced, after the CFL bound and
	// the caller budget.
	DT float64 `csv:"dt"`

	Particles int `csv:"particles"`
	Boundary  int `csv:"boundary"`

	// Pressure solve
	PressureIterations int     `csv:"pressure_iterations"`
	DensityError       float64 `csv:"density_error"` // Avg max(rho-rho0, 0) / rho0 at exit; under-density does not count
	Converged          bool    `csv:"converged"`

	// Divergence solve (zero iterations when disabled)
	DivergenceIterations int     `csv:"divergence_iterations"`
	DivergenceError      float64 `csv:"divergence_error"`

	// NonFinite counts particles isolated this step for carrying NaN
	// or Inf positions or velocities.
	NonFinite int `csv:"non_finite"`

	// MaxSpeed is the largest particle speed observed when the CFL
	// bound was computed.
	MaxSpeed float64 `csv:"max_speed"`
}

// Log emits the step record via slog.
func (s StepStats) Log() {
	slog.Info("step",
		"step", s.Step,
		"dt", s.DT,
		"particles", s.Particles,
		"pressure_iters", s.PressureIterations,
		"density_error", s.DensityError,
		"converged", s.Converged,
		"divergence_iters", s.DivergenceIterations,
		"non_finite", s.NonFinite,
	)
}

// WindowStats aggregates step records over a window of steps.
type WindowStats struct {
	WindowEnd int64   `csv:"window_end"`
	SimTime   float64 `csv:"sim_time"`
	Particles int     `csv:"particles"`

	DTMean float64 `csv:"dt_mean"`
	DTMin  float64 `csv:"dt_min"`

	DensityErrMean float64 `csv:"density_err_mean"`
	DensityErrP50  float64 `csv:"density_err_p50"`
	DensityErrP90  float64 `csv:"density_err_p90"`

	PressureItersMean float64 `csv:"pressure_iters_mean"`
	NonConverged      int     `csv:"non_converged"`
	NonFinite         int     `csv:"non_finite"`
}

// WindowAccum collects step records until a window closes.
type WindowAccum struct {
	windowSize int
	simTime    float64
	steps      []StepStats
}

// NewWindowAccum creates an accumulator that closes every windowSize
// steps.
func NewWindowAccum(windowSize int) *WindowAccum {
	if windowSize < 1 {
		windowSize = 60
	}
	return &WindowAccum{windowSize: windowSize}
}

// Add records one step. It returns a closed window and true when the
// window filled on this call.
func (w *WindowAccum) Add(s StepStats) (WindowStats, bool) {
	w.simTime += s.DT
	w.steps = append(w.steps, s)
	if len(w.steps) < w.windowSize {
		return WindowStats{}, false
	}
	out := w.flush()
	return out, true
}

func (w *WindowAccum) flush() WindowStats {
	n := len(w.steps)
	last := w.steps[n-1]

	dts := make([]float64, n)
	errs := make([]float64, n)
	iters := make([]float64, n)
	out := WindowStats{
		WindowEnd: last.Step,
		SimTime:   w.simTime,
		Particles: last.Particles,
		DTMin:     w.steps[0].DT,
	}
	for i, s := range w.steps {
		dts[i] = s.DT
		errs[i] = s.DensityError
		iters[i] = float64(s.PressureIterations)
		if s.DT < out.DTMin {
			out.DTMin = s.DT
		}
		if !s.Converged {
			out.NonConverged++
		}
		out.NonFinite += s.NonFinite
	}

	sort.Float64s(errs)
	out.DTMean = stat.Mean(dts, nil)
	out.DensityErrMean = stat.Mean(errs, nil)
	out.DensityErrP50 = stat.Quantile(0.5, stat.Empirical, errs, nil)
	out.DensityErrP90 = stat.Quantile(0.9, stat.Empirical, errs, nil)
	out.PressureItersMean = stat.Mean(iters, nil)

	w.steps = w.steps[:0]
	return out
}

// Log emits the window record via slog.
func (s WindowStats) Log() {
	slog.Info("window",
		"window_end", s.WindowEnd,
		"sim_time", s.SimTime,
		"particles", s.Particles,
		"dt_mean", s.DTMean,
		"density_err_mean", s.DensityErrMean,
		"density_err_p90", s.DensityErrP90,
		"pressure_iters_mean", s.PressureItersMean,
		"non_converged", s.NonConverged,
		"non_finite", s.NonFinite,
	)
}
