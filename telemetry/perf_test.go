package telemetry

import (
	"testing"
	"time"
)

func TestPerfCollector_NilSafe(t *testing.T) {
	var p *PerfCollector
	// All methods must be no-ops on a nil collector.
	p.StartStep()
	p.StartPhase(PhaseGrid)
	p.EndStep()
	stats := p.Stats()
	if stats.AvgStepDuration != 0 {
		t.Errorf("nil collector stats = %+v, want zero", stats)
	}
}

func TestPerfCollector_RecordsPhases(t *testing.T) {
	p := NewPerfCollector(10)

	p.StartStep()
	p.StartPhase(PhaseGrid)
	time.Sleep(2 * time.Millisecond)
	p.StartPhase(PhasePressure)
	time.Sleep(2 * time.Millisecond)
	p.EndStep()

	stats := p.Stats()
	if stats.AvgStepDuration <= 0 {
		t.Fatal("expected positive step duration")
	}
	if stats.PhaseAvg[PhaseGrid] <= 0 {
		t.Errorf("grid phase not recorded: %v", stats.PhaseAvg)
	}
	if stats.PhaseAvg[PhasePressure] <= 0 {
		t.Errorf("pressure phase not recorded: %v", stats.PhaseAvg)
	}
	if stats.StepsPerSecond <= 0 {
		t.Errorf("StepsPerSecond = %v, want positive", stats.StepsPerSecond)
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	p := NewPerfCollector(2)
	for i := 0; i < 5; i++ {
		p.StartStep()
		p.StartPhase(PhaseIntegrate)
		p.EndStep()
	}
	stats := p.Stats()
	if stats.AvgStepDuration < 0 {
		t.Errorf("AvgStepDuration = %v", stats.AvgStepDuration)
	}
	// Only window-size samples contribute; must not panic or skew on
	// wraparound.
	if stats.MaxStepDuration < stats.MinStepDuration {
		t.Errorf("max %v below min %v", stats.MaxStepDuration, stats.MinStepDuration)
	}
}
