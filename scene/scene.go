// Package scene manages rigid bodies that couple to the fluid through
// sampled boundary surfaces. Bodies live in an ECS world; each step the
// scene emits one boundary set per body and feeds the fluid's reaction
// forces back as impulses.
package scene

import (
	"math"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lagoon-sim/lagoon/fluid"
)

// Scene owns the rigid-body world and the boundary sets derived from it.
type Scene struct {
	world  *ecs.World
	mapper *ecs.Map4[Pose, Velocity, Body, Shape]
	filter *ecs.Filter4[Pose, Velocity, Body, Shape]

	gravity r3.Vec

	entities []ecs.Entity
	sets     []*fluid.BoundarySet
}

// New creates an empty scene. Gravity applies to dynamic bodies only;
// the fluid carries its own.
func New(gravity r3.Vec) *Scene {
	world := ecs.NewWorld()
	return &Scene{
		world:   world,
		mapper:  ecs.NewMap4[Pose, Velocity, Body, Shape](world),
		filter:  ecs.NewFilter4[Pose, Velocity, Body, Shape](world),
		gravity: gravity,
	}
}

// AddBox adds a box-shaped body. A zero mass makes it static.
func (s *Scene) AddBox(center, halfExtents r3.Vec, mass, spacing float64) ecs.Entity {
	shape := Shape{Kind: ShapeBox, HalfExtents: halfExtents, Spacing: spacing}
	body := Body{Static: mass <= 0}
	if mass > 0 {
		// Solid cuboid inertia about each principal axis.
		body.InvMass = 1 / mass
		ex, ey, ez := 2*halfExtents.X, 2*halfExtents.Y, 2*halfExtents.Z
		body.InvInertia = r3.Vec{
			X: 12 / (mass * (ey*ey + ez*ez)),
			Y: 12 / (mass * (ex*ex + ez*ez)),
			Z: 12 / (mass * (ex*ex + ey*ey)),
		}
	}
	return s.add(center, body, shape)
}

// AddSphere adds a sphere-shaped body. A zero mass makes it static.
func (s *Scene) AddSphere(center r3.Vec, radius, mass, spacing float64) ecs.Entity {
	shape := Shape{Kind: ShapeSphere, Radius: radius, Spacing: spacing}
	body := Body{Static: mass <= 0}
	if mass > 0 {
		body.InvMass = 1 / mass
		inv := 5 / (2 * mass * radius * radius)
		body.InvInertia = r3.Vec{X: inv, Y: inv, Z: inv}
	}
	return s.add(center, body, shape)
}

func (s *Scene) add(center r3.Vec, body Body, shape Shape) ecs.Entity {
	pose := Pose{Position: center, Orientation: quat.Number{Real: 1}}
	vel := Velocity{}
	e := s.mapper.NewEntity(&pose, &vel, &body, &shape)
	s.entities = append(s.entities, e)
	s.sets = append(s.sets, nil)
	return e
}

// Remove deletes a body and its boundary set.
func (s *Scene) Remove(e ecs.Entity) {
	for i, ent := range s.entities {
		if ent == e {
			s.entities = append(s.entities[:i], s.entities[i+1:]...)
			s.sets = append(s.sets[:i], s.sets[i+1:]...)
			break
		}
	}
	s.world.RemoveEntity(e)
}

// Entity returns the pose and velocity of a body for inspection.
func (s *Scene) Entity(e ecs.Entity) (Pose, Velocity) {
	pose, vel, _, _ := s.mapper.Get(e)
	return *pose, *vel
}

// BoundarySets rebuilds and returns one boundary set per body, with
// world-frame sample positions and rigid-motion sample velocities.
// Slots are reused across calls so the fluid sees stable identities.
func (s *Scene) BoundarySets() []*fluid.BoundarySet {
	for i, e := range s.entities {
		pose, vel, _, shape := s.mapper.Get(e)
		local := surfaceSamples(shape)

		set := s.sets[i]
		if set == nil || len(set.Positions) != len(local) {
			set = fluid.EmptyBoundarySet(len(local))
			s.sets[i] = set
		}
		for k, p := range local {
			r := pose.Rotate(p)
			set.Positions[k] = r3.Add(pose.Position, r)
			set.Velocities[k] = r3.Add(vel.Linear, r3.Cross(vel.Angular, r))
		}
	}
	return s.sets
}

// ApplyFluidForces turns the reaction forces accumulated on each body's
// boundary set into impulses. The sets carry the force the boundary
// exerts on the fluid, so the body receives the negation.
func (s *Scene) ApplyFluidForces(dt float64) {
	for i, e := range s.entities {
		pose, vel, body, _ := s.mapper.Get(e)
		if body.Static {
			continue
		}
		set := s.sets[i]
		if set == nil {
			continue
		}
		var force, torque r3.Vec
		for k, f := range set.Forces {
			f = r3.Scale(-1, f)
			force = r3.Add(force, f)
			arm := r3.Sub(set.Positions[k], pose.Position)
			torque = r3.Add(torque, r3.Cross(arm, f))
		}
		vel.Linear = r3.Add(vel.Linear, r3.Scale(dt*body.InvMass, force))

		// Torque maps through the body frame where the inertia tensor
		// is diagonal.
		lt := rotateInv(pose.Orientation, torque)
		dw := r3.Vec{
			X: lt.X * body.InvInertia.X,
			Y: lt.Y * body.InvInertia.Y,
			Z: lt.Z * body.InvInertia.Z,
		}
		vel.Angular = r3.Add(vel.Angular, r3.Scale(dt, pose.Rotate(dw)))
	}
}

// Step advances body poses by dt under gravity and their current
// velocities. Fluid forces must already have been applied.
func (s *Scene) Step(dt float64) {
	query := s.filter.Query()
	for query.Next() {
		pose, vel, body, _ := query.Get()
		if body.Static {
			continue
		}
		vel.Linear = r3.Add(vel.Linear, r3.Scale(dt, s.gravity))
		pose.Position = r3.Add(pose.Position, r3.Scale(dt, vel.Linear))

		w := vel.Angular
		if w != (r3.Vec{}) {
			wq := quat.Number{Imag: w.X, Jmag: w.Y, Kmag: w.Z}
			dq := quat.Scale(0.5*dt, quat.Mul(wq, pose.Orientation))
			q := quat.Add(pose.Orientation, dq)
			if n := quat.Abs(q); n > 0 && !math.IsNaN(n) {
				pose.Orientation = quat.Scale(1/n, q)
			}
		}
	}
}

func rotateInv(q quat.Number, v r3.Vec) r3.Vec {
	r := quat.Mul(quat.Mul(quat.Conj(q), quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), q)
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}
