package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOutputManager_DisabledIsNoOp(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}
	if om != nil {
		t.Fatal("empty dir should yield a nil manager")
	}
	// nil manager methods are safe.
	if err := om.WriteWindow(WindowStats{}); err != nil {
		t.Errorf("WriteWindow on nil: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Errorf("Close on nil: %v", err)
	}
	if om.Dir() != "" {
		t.Errorf("Dir on nil = %q, want empty", om.Dir())
	}
}

func TestOutputManager_WritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}

	if err := om.WriteWindow(WindowStats{WindowEnd: 60, Particles: 100}); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := om.WriteWindow(WindowStats{WindowEnd: 120, Particles: 100}); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "steps.csv"))
	if err != nil {
		t.Fatalf("reading steps.csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("steps.csv has %d lines, want header + 2 records", len(lines))
	}
	if !strings.Contains(lines[0], "window_end") {
		t.Errorf("missing header: %q", lines[0])
	}
	if strings.Contains(lines[1], "window_end") || strings.Contains(lines[2], "window_end") {
		t.Error("header repeated in data rows")
	}
}

func TestOutputManager_WritesPerf(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}

	p := NewPerfCollector(4)
	p.StartStep()
	p.StartPhase(PhaseGrid)
	p.EndStep()

	if err := om.WritePerf(p.Stats(), 60); err != nil {
		t.Fatalf("WritePerf: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "perf.csv"))
	if err != nil {
		t.Fatalf("reading perf.csv: %v", err)
	}
	if len(strings.Split(strings.TrimSpace(string(data)), "\n")) != 2 {
		t.Errorf("perf.csv should hold header + 1 record:\n%s", data)
	}
}
