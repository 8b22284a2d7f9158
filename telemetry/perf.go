// Package telemetry tracks per-step solver diagnostics and phase
// timings, aggregates them over windows, and writes CSV output.
package telemetry

import (
	"log/slog"
	"time"
)

// Phase names for the simulation step.
const (
	PhaseGrid        = "grid"
	PhaseContacts    = "contacts"
	PhaseDensities   = "densities"
	PhaseNonPressure = "non_pressure"
	PhaseDivergence  = "divergence_solve"
	PhasePressure    = "pressure_solve"
	PhaseIntegrate   = "integrate"
)

// PerfSample holds timing data for a single step.
type PerfSample struct {
	StepDuration time.Duration
	Phases       map[string]time.Duration
}

// PerfCollector tracks performance metrics over a rolling window.
type PerfCollector struct {
	windowSize    int
	samples       []PerfSample
	writeIndex    int
	sampleCount   int
	currentPhases map[string]time.Duration
	stepStart     time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewPerfCollector creates a new performance collector.
// windowSize: number of steps to average over.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 120
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartStep begins timing a new simulation step.
func (p *PerfCollector) StartStep() {
	if p == nil {
		return
	}
	p.stepStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase begins timing a specific phase, closing the previous one.
func (p *PerfCollector) StartPhase(phase string) {
	if p == nil {
		return
	}
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndStep finishes timing the current step and records the sample.
func (p *PerfCollector) EndStep() {
	if p == nil {
		return
	}
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
		p.lastPhase = ""
	}

	sample := PerfSample{
		StepDuration: now.Sub(p.stepStart),
		Phases:       p.currentPhases,
	}

	p.samples[p.writeIndex] = sample
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgStepDuration time.Duration
	MinStepDuration time.Duration
	MaxStepDuration time.Duration

	// Phase breakdown (average durations)
	PhaseAvg map[string]time.Duration

	// Phase percentages of total step time
	PhasePct map[string]float64

	StepsPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p == nil || p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg: make(map[string]time.Duration),
			PhasePct: make(map[string]float64),
		}
	}

	var totalStep time.Duration
	var minStep, maxStep time.Duration
	phaseSum := make(map[string]time.Duration)

	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		totalStep += s.StepDuration

		if i == 0 || s.StepDuration < minStep {
			minStep = s.StepDuration
		}
		if s.StepDuration > maxStep {
			maxStep = s.StepDuration
		}

		for phase, dur := range s.Phases {
			phaseSum[phase] += dur
		}
	}

	avgStep := totalStep / time.Duration(p.sampleCount)

	phaseAvg := make(map[string]time.Duration)
	phasePct := make(map[string]float64)
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / time.Duration(p.sampleCount)
		if avgStep > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avgStep) * 100
		}
	}

	var stepsPerSec float64
	if avgStep > 0 {
		stepsPerSec = float64(time.Second) / float64(avgStep)
	}

	return PerfStats{
		AvgStepDuration: avgStep,
		MinStepDuration: minStep,
		MaxStepDuration: maxStep,
		PhaseAvg:        phaseAvg,
		PhasePct:        phasePct,
		StepsPerSecond:  stepsPerSec,
	}
}

// LogStats logs performance statistics via slog.
func (s PerfStats) LogStats() {
	attrs := []any{
		"avg_step_us", s.AvgStepDuration.Microseconds(),
		"min_step_us", s.MinStepDuration.Microseconds(),
		"max_step_us", s.MaxStepDuration.Microseconds(),
		"steps_per_sec", int(s.StepsPerSecond),
	}
	for phase, dur := range s.PhaseAvg {
		attrs = append(attrs, "phase_"+phase+"_us", dur.Microseconds())
	}
	slog.Info("perf", attrs...)
}

// PerfStatsCSV is the flat CSV row shape for a perf window.
type PerfStatsCSV struct {
	WindowEnd   int64   `csv:"window_end"`
	AvgStepUs   int64   `csv:"avg_step_us"`
	MinStepUs   int64   `csv:"min_step_us"`
	MaxStepUs   int64   `csv:"max_step_us"`
	StepsPerSec float64 `csv:"steps_per_sec"`
	GridUs      int64   `csv:"grid_us"`
	ContactsUs  int64   `csv:"contacts_us"`
	DensitiesUs int64   `csv:"densities_us"`
	NonPressUs  int64   `csv:"non_pressure_us"`
	DivergeUs   int64   `csv:"divergence_us"`
	PressureUs  int64   `csv:"pressure_us"`
	IntegrateUs int64   `csv:"integrate_us"`
}

// ToCSV flattens the phase map into the fixed CSV row shape.
func (s PerfStats) ToCSV(windowEnd int64) PerfStatsCSV {
	us := func(phase string) int64 { return s.PhaseAvg[phase].Microseconds() }
	return PerfStatsCSV{
		WindowEnd:   windowEnd,
		AvgStepUs:   s.AvgStepDuration.Microseconds(),
		MinStepUs:   s.MinStepDuration.Microseconds(),
		MaxStepUs:   s.MaxStepDuration.Microseconds(),
		StepsPerSec: s.StepsPerSecond,
		GridUs:      us(PhaseGrid),
		ContactsUs:  us(PhaseContacts),
		DensitiesUs: us(PhaseDensities),
		NonPressUs:  us(PhaseNonPressure),
		DivergeUs:   us(PhaseDivergence),
		PressureUs:  us(PhasePressure),
		IntegrateUs: us(PhaseIntegrate),
	}
}
