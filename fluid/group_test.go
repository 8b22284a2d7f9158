package fluid

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func testMaterial() Material {
	return Material{RestDensity: 1000}
}

// ---------- Material ----------

func TestMaterial_Validate(t *testing.T) {
	cases := []struct {
		name    string
		mat     Material
		wantErr bool
	}{
		{"valid", Material{RestDensity: 1000, Viscosity: 0.01, SurfaceTension: 0.1, KernelMul: 1}, false},
		{"zero rest density", Material{RestDensity: 0, KernelMul: 1}, true},
		{"negative rest density", Material{RestDensity: -1, KernelMul: 1}, true},
		{"nan rest density", Material{RestDensity: math.NaN(), KernelMul: 1}, true},
		{"negative viscosity", Material{RestDensity: 1000, Viscosity: -0.1, KernelMul: 1}, true},
		{"negative surface tension", Material{RestDensity: 1000, SurfaceTension: -1, KernelMul: 1}, true},
		{"inf viscosity", Material{RestDensity: 1000, Viscosity: math.Inf(1), KernelMul: 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.mat.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewGroup_DefaultsKernelMul(t *testing.T) {
	g, err := NewGroup(testMaterial())
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	if g.Material().KernelMul != 1 {
		t.Errorf("KernelMul = %v, want 1", g.Material().KernelMul)
	}
}

// ---------- Spawn ----------

func TestSpawn_MassFromVolume(t *testing.T) {
	g, _ := NewGroup(testMaterial())
	i, err := g.Spawn(r3.Vec{X: 1}, r3.Vec{}, 0.001)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if got := g.Mass(i); math.Abs(got-1.0) > 1e-12 {
		t.Errorf("Mass = %v, want 1.0", got)
	}
}

func TestSpawn_RejectsBadVolume(t *testing.T) {
	g, _ := NewGroup(testMaterial())
	for _, v := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := g.Spawn(r3.Vec{}, r3.Vec{}, v); err == nil {
			t.Errorf("expected error for volume %v", v)
		}
	}
	if g.Len() != 0 {
		t.Errorf("failed spawns must not leave slots, len = %d", g.Len())
	}
}

func TestSpawnBlock_LatticeCount(t *testing.T) {
	g, _ := NewGroup(testMaterial())
	n, err := g.SpawnBlock(r3.Vec{}, r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}, 0.05)
	if err != nil {
		t.Fatalf("SpawnBlock: %v", err)
	}
	if n != 8 {
		t.Errorf("spawned %d particles, want 8", n)
	}
	if g.Len() != n {
		t.Errorf("Len = %d, want %d", g.Len(), n)
	}
	for i := 0; i < g.Len(); i++ {
		p := g.Positions[i]
		if p.X < 0 || p.X > 0.1 || p.Y < 0 || p.Y > 0.1 || p.Z < 0 || p.Z > 0.1 {
			t.Errorf("particle %d at %v outside block", i, p)
		}
	}
}

// ---------- Compact ----------

func TestCompact_SwapDelete(t *testing.T) {
	g, _ := NewGroup(testMaterial())
	for i := 0; i < 4; i++ {
		g.Spawn(r3.Vec{X: float64(i)}, r3.Vec{}, 0.001)
	}

	g.QueueRemove(1)
	if g.Len() != 4 {
		t.Fatal("removal must not apply before Compact")
	}
	if removed := g.Compact(); removed != 1 {
		t.Fatalf("Compact removed %d, want 1", removed)
	}
	if g.Len() != 3 {
		t.Fatalf("Len = %d, want 3", g.Len())
	}
	// Tail particle moved into the hole.
	if g.Positions[1].X != 3 {
		t.Errorf("slot 1 holds %v, want tail particle x=3", g.Positions[1])
	}
}

func TestCompact_InvalidatesHandles(t *testing.T) {
	g, _ := NewGroup(testMaterial())
	for i := 0; i < 3; i++ {
		g.Spawn(r3.Vec{X: float64(i)}, r3.Vec{}, 0.001)
	}
	removedH := g.Handle(0)
	movedH := g.Handle(2)
	keptH := g.Handle(1)

	g.QueueRemove(0)
	g.Compact()

	if g.Valid(removedH) {
		t.Error("handle to removed particle still valid")
	}
	if g.Valid(movedH) {
		t.Error("handle to moved tail particle still valid")
	}
	if !g.Valid(keptH) {
		t.Error("handle to untouched particle invalidated")
	}
}

func TestCompact_StaleHandleNeverAliasesRespawn(t *testing.T) {
	// Removing the tail slot truncates without a swap; a handle taken
	// before the removal must still be dead after a new particle
	// reclaims the same index.
	g, _ := NewGroup(testMaterial())
	g.Spawn(r3.Vec{X: 0}, r3.Vec{}, 0.001)
	g.Spawn(r3.Vec{X: 1}, r3.Vec{}, 0.001)

	tail := g.Handle(1)
	g.QueueRemove(1)
	g.Compact()

	if idx, _ := g.Spawn(r3.Vec{X: 2}, r3.Vec{}, 0.001); idx != 1 {
		t.Fatalf("respawn took slot %d, want reused slot 1", idx)
	}
	if g.Valid(tail) {
		t.Error("stale handle aliases the respawned particle")
	}
	if !g.Valid(g.Handle(1)) {
		t.Error("fresh handle to respawned particle invalid")
	}

	// Same guarantee for a swapped-into slot across repeated reuse.
	moved := g.Handle(0)
	g.QueueRemove(0)
	g.Compact()
	g.Spawn(r3.Vec{X: 3}, r3.Vec{}, 0.001)
	if g.Valid(moved) {
		t.Error("stale handle to swapped slot aliases a later particle")
	}
}

func TestCompact_RemoveAll(t *testing.T) {
	g, _ := NewGroup(testMaterial())
	for i := 0; i < 3; i++ {
		g.Spawn(r3.Vec{}, r3.Vec{}, 0.001)
	}
	for i := 0; i < 3; i++ {
		g.QueueRemove(i)
	}
	if removed := g.Compact(); removed != 3 {
		t.Errorf("removed %d, want 3", removed)
	}
	if g.Len() != 0 {
		t.Errorf("Len = %d, want 0", g.Len())
	}
}

func TestCompact_DuplicateAndStaleQueueEntries(t *testing.T) {
	g, _ := NewGroup(testMaterial())
	for i := 0; i < 2; i++ {
		g.Spawn(r3.Vec{}, r3.Vec{}, 0.001)
	}
	g.QueueRemove(1)
	g.QueueRemove(1)
	g.QueueRemove(5) // out of range, ignored
	if removed := g.Compact(); removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}
	if g.Len() != 1 {
		t.Errorf("Len = %d, want 1", g.Len())
	}
}

// ---------- Volume ----------

func TestVolume_ClampsUnderDensity(t *testing.T) {
	g, _ := NewGroup(testMaterial())
	i, _ := g.Spawn(r3.Vec{}, r3.Vec{}, 0.001)

	// Free-surface particle reads under rest density; volume must not
	// exceed the rest volume.
	g.Densities[i] = 500
	if got := g.Volume(i); math.Abs(got-0.001) > 1e-15 {
		t.Errorf("Volume = %v, want rest volume 0.001", got)
	}

	g.Densities[i] = 2000
	if got := g.Volume(i); math.Abs(got-0.0005) > 1e-15 {
		t.Errorf("Volume = %v, want 0.0005", got)
	}
}
