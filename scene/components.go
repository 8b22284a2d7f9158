package scene

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is the world-frame placement of a body.
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number
}

// Rotate maps a body-frame vector into the world frame.
func (p *Pose) Rotate(v r3.Vec) r3.Vec {
	q := p.Orientation
	r := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Velocity is the linear and angular velocity of a body.
type Velocity struct {
	Linear  r3.Vec
	Angular r3.Vec
}

// Body holds the inverse mass properties used when fluid forces are
// applied. Static bodies carry zero inverses and never move.
type Body struct {
	InvMass    float64
	InvInertia r3.Vec // diagonal, body frame
	Static     bool
}

// ShapeKind selects the sampled surface geometry.
type ShapeKind uint8

const (
	ShapeBox ShapeKind = iota
	ShapeSphere
)

// Shape describes the sampled collision surface of a body. Spacing is
// the distance between adjacent surface samples and should match the
// particle spacing of the fluid the body couples to.
type Shape struct {
	Kind        ShapeKind
	HalfExtents r3.Vec  // box
	Radius      float64 // sphere
	Spacing     float64

	// local-frame surface samples, filled lazily by the sampler
	samples []r3.Vec
}
