package scene

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestSampleBox_CoversSurface(t *testing.T) {
	half := r3.Vec{X: 0.1, Y: 0.05, Z: 0.2}
	samples := sampleBox(half, 0.05)

	if len(samples) == 0 {
		t.Fatal("no samples generated")
	}
	seen := map[r3.Vec]bool{}
	for _, p := range samples {
		if seen[p] {
			t.Fatalf("duplicate sample %v", p)
		}
		seen[p] = true
		// Every sample lies on the surface: at least one coordinate
		// pinned to a face.
		onFace := math.Abs(math.Abs(p.X)-half.X) < 1e-12 ||
			math.Abs(math.Abs(p.Y)-half.Y) < 1e-12 ||
			math.Abs(math.Abs(p.Z)-half.Z) < 1e-12
		if !onFace {
			t.Fatalf("sample %v not on any face", p)
		}
		if math.Abs(p.X) > half.X+1e-12 || math.Abs(p.Y) > half.Y+1e-12 || math.Abs(p.Z) > half.Z+1e-12 {
			t.Fatalf("sample %v outside the box", p)
		}
	}
}

func TestSampleSphere_OnRadius(t *testing.T) {
	samples := sampleSphere(0.1, 0.025)
	if len(samples) < 4 {
		t.Fatalf("only %d samples", len(samples))
	}
	for _, p := range samples {
		if math.Abs(r3.Norm(p)-0.1) > 1e-12 {
			t.Fatalf("sample %v off the sphere surface", p)
		}
	}
}

func TestSampleSphere_SpacingControlsCount(t *testing.T) {
	coarse := sampleSphere(0.1, 0.05)
	fine := sampleSphere(0.1, 0.01)
	if len(fine) <= len(coarse) {
		t.Errorf("finer spacing gave %d samples vs %d", len(fine), len(coarse))
	}
}

func TestBoundarySets_WorldTransform(t *testing.T) {
	sc := New(r3.Vec{Y: -9.81})
	center := r3.Vec{X: 1, Y: 2, Z: 3}
	sc.AddSphere(center, 0.1, 0, 0.05)

	sets := sc.BoundarySets()
	if len(sets) != 1 {
		t.Fatalf("got %d sets, want 1", len(sets))
	}
	for _, p := range sets[0].Positions {
		if math.Abs(r3.Norm(r3.Sub(p, center))-0.1) > 1e-12 {
			t.Fatalf("sample %v not on body surface", p)
		}
	}
	for _, v := range sets[0].Velocities {
		if v != (r3.Vec{}) {
			t.Fatalf("static body sample moving: %v", v)
		}
	}
}

func TestBoundarySets_RigidSampleVelocities(t *testing.T) {
	sc := New(r3.Vec{})
	e := sc.AddSphere(r3.Vec{}, 0.1, 1.0, 0.05)

	_, vel, _, _ := sc.mapper.Get(e)
	vel.Linear = r3.Vec{X: 1}
	vel.Angular = r3.Vec{Z: 2}

	set := sc.BoundarySets()[0]
	for i, p := range set.Positions {
		want := r3.Add(r3.Vec{X: 1}, r3.Cross(r3.Vec{Z: 2}, p))
		if r3.Norm(r3.Sub(set.Velocities[i], want)) > 1e-12 {
			t.Fatalf("sample %d velocity %v, want %v", i, set.Velocities[i], want)
		}
	}
}

func TestBoundarySets_ReusesSets(t *testing.T) {
	sc := New(r3.Vec{})
	sc.AddBox(r3.Vec{}, r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}, 0, 0.05)

	first := sc.BoundarySets()[0]
	second := sc.BoundarySets()[0]
	if first != second {
		t.Error("boundary set identity changed between steps")
	}
}

func TestApplyFluidForces_NegatesReaction(t *testing.T) {
	sc := New(r3.Vec{})
	mass := 2.0
	e := sc.AddSphere(r3.Vec{}, 0.1, mass, 0.05)

	set := sc.BoundarySets()[0]
	// The solver exports the force the boundary exerts on the fluid;
	// push the fluid up, so the body must be pushed down.
	for i := range set.Forces {
		set.Forces[i] = r3.Vec{Y: 1}
	}
	total := float64(len(set.Forces))

	dt := 0.01
	sc.ApplyFluidForces(dt)

	_, vel := sc.Entity(e)
	wantY := -total / mass * dt
	if math.Abs(vel.Linear.Y-wantY) > 1e-12 {
		t.Errorf("linear velocity %v, want y=%v", vel.Linear, wantY)
	}
}

func TestApplyFluidForces_StaticUnmoved(t *testing.T) {
	sc := New(r3.Vec{})
	e := sc.AddBox(r3.Vec{}, r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}, 0, 0.05)

	set := sc.BoundarySets()[0]
	for i := range set.Forces {
		set.Forces[i] = r3.Vec{Y: 100}
	}
	sc.ApplyFluidForces(0.01)
	sc.Step(0.01)

	pose, vel := sc.Entity(e)
	if vel.Linear != (r3.Vec{}) || vel.Angular != (r3.Vec{}) {
		t.Errorf("static body moving: %+v", vel)
	}
	if pose.Position != (r3.Vec{}) {
		t.Errorf("static body displaced to %v", pose.Position)
	}
}

func TestApplyFluidForces_Torque(t *testing.T) {
	sc := New(r3.Vec{})
	e := sc.AddSphere(r3.Vec{}, 0.1, 1.0, 0.05)

	set := sc.BoundarySets()[0]
	// Tangential force on every sample produces net torque about the
	// center.
	for i, p := range set.Positions {
		// Force on fluid along -y at +x side and +y at -x side: the
		// negated body force spins it about z.
		set.Forces[i] = r3.Vec{Y: -p.X}
	}
	sc.ApplyFluidForces(0.01)

	_, vel := sc.Entity(e)
	if vel.Angular.Z <= 0 {
		t.Errorf("angular velocity %v, want positive z spin", vel.Angular)
	}
}

func TestStep_GravityAndIntegration(t *testing.T) {
	sc := New(r3.Vec{Y: -10})
	e := sc.AddSphere(r3.Vec{Y: 1}, 0.1, 1.0, 0.05)

	dt := 0.1
	sc.Step(dt)

	pose, vel := sc.Entity(e)
	if math.Abs(vel.Linear.Y+1.0) > 1e-12 {
		t.Errorf("velocity %v, want y=-1", vel.Linear)
	}
	// Semi-implicit: position advances with the updated velocity.
	if math.Abs(pose.Position.Y-0.9) > 1e-12 {
		t.Errorf("position %v, want y=0.9", pose.Position)
	}
}

func TestStep_OrientationStaysNormalized(t *testing.T) {
	sc := New(r3.Vec{})
	e := sc.AddBox(r3.Vec{}, r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}, 1.0, 0.05)

	pose, vel, _, _ := sc.mapper.Get(e)
	vel.Angular = r3.Vec{X: 3, Y: 1, Z: -2}

	for i := 0; i < 100; i++ {
		sc.Step(0.01)
	}
	if n := quat.Abs(pose.Orientation); math.Abs(n-1) > 1e-9 {
		t.Errorf("orientation norm %v after integration", n)
	}
}

func TestRemove_DropsBodyAndSet(t *testing.T) {
	sc := New(r3.Vec{})
	e1 := sc.AddSphere(r3.Vec{}, 0.1, 0, 0.05)
	sc.AddBox(r3.Vec{X: 1}, r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}, 0, 0.05)

	if n := len(sc.BoundarySets()); n != 2 {
		t.Fatalf("got %d sets, want 2", n)
	}
	sc.Remove(e1)
	sets := sc.BoundarySets()
	if len(sets) != 1 {
		t.Fatalf("got %d sets after removal, want 1", len(sets))
	}
	// The survivor is the box.
	for _, p := range sets[0].Positions {
		if p.X < 0.5 {
			t.Fatalf("sample %v belongs to the removed sphere", p)
		}
	}
}
