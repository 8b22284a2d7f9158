// Package kernel provides smoothing kernels for SPH interpolation.
package kernel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Kernel evaluates a radially symmetric smoothing function with compact
// support. W takes the squared distance so callers can feed it straight
// from a neighbor query without a sqrt; Grad returns the full gradient
// vector for the separation sep = xi - xj.
type Kernel interface {
	// W returns the kernel value for squared distance r2. Zero beyond
	// the support radius.
	W(r2 float64) float64
	// Grad returns the kernel gradient with respect to xi, given the
	// separation vector sep = xi - xj and its squared length. Returns
	// the zero vector at r = 0, where no direction is defined.
	Grad(sep r3.Vec, r2 float64) r3.Vec
	// Support returns the support radius h.
	Support() float64
}

// minGradDist2 guards the gradient direction against coincident points.
const minGradDist2 = 1e-24

// CubicSpline is the standard cubic B-spline kernel in 3D, normalized so
// that it integrates to one over its support.
type CubicSpline struct {
	h     float64
	sigma float64 // 8 / (pi h^3)
}

// NewCubicSpline returns a cubic spline kernel with support radius h.
func NewCubicSpline(h float64) (CubicSpline, error) {
	if !(h > 0) || math.IsInf(h, 0) {
		return CubicSpline{}, fmt.Errorf("kernel: support radius must be positive and finite, got %v", h)
	}
	return CubicSpline{h: h, sigma: 8 / (math.Pi * h * h * h)}, nil
}

// MustCubicSpline is NewCubicSpline, panicking on an invalid radius.
// Intended for tests and literals.
func MustCubicSpline(h float64) CubicSpline {
	k, err := NewCubicSpline(h)
	if err != nil {
		panic(err)
	}
	return k
}

func (k CubicSpline) Support() float64 { return k.h }

func (k CubicSpline) W(r2 float64) float64 {
	if r2 >= k.h*k.h || r2 < 0 {
		return 0
	}
	q := math.Sqrt(r2) / k.h
	if q <= 0.5 {
		return k.sigma * (6*q*q*(q-1) + 1)
	}
	c := 1 - q
	return k.sigma * 2 * c * c * c
}

func (k CubicSpline) Grad(sep r3.Vec, r2 float64) r3.Vec {
	if r2 >= k.h*k.h || r2 < minGradDist2 {
		return r3.Vec{}
	}
	r := math.Sqrt(r2)
	q := r / k.h
	var dw float64 // dW/dr
	if q <= 0.5 {
		dw = k.sigma / k.h * 6 * q * (3*q - 2)
	} else {
		c := 1 - q
		dw = -k.sigma / k.h * 6 * c * c
	}
	return r3.Scale(dw/r, sep)
}

// Poly6 is Mueller's polynomial density kernel. It evaluates without a
// sqrt, which makes it the cheapest choice for pure density estimation,
// but its gradient vanishes at the origin so it is a poor pressure
// kernel.
type Poly6 struct {
	h     float64
	h2    float64
	kNorm float64 // 315 / (64 pi h^9)
	gNorm float64 // -945 / (32 pi h^9)
}

// NewPoly6 returns a poly6 kernel with support radius h.
func NewPoly6(h float64) (Poly6, error) {
	if !(h > 0) || math.IsInf(h, 0) {
		return Poly6{}, fmt.Errorf("kernel: support radius must be positive and finite, got %v", h)
	}
	h9 := math.Pow(h, 9)
	return Poly6{
		h:     h,
		h2:    h * h,
		kNorm: 315 / (64 * math.Pi * h9),
		gNorm: -945 / (32 * math.Pi * h9),
	}, nil
}

func (k Poly6) Support() float64 { return k.h }

func (k Poly6) W(r2 float64) float64 {
	if r2 >= k.h2 || r2 < 0 {
		return 0
	}
	c := k.h2 - r2
	return k.kNorm * c * c * c
}

func (k Poly6) Grad(sep r3.Vec, r2 float64) r3.Vec {
	if r2 >= k.h2 || r2 < minGradDist2 {
		return r3.Vec{}
	}
	c := k.h2 - r2
	return r3.Scale(k.gNorm*c*c, sep)
}

// Cohesion is the Akinci surface tension spline. It is not a smoothing
// kernel in the interpolation sense (it does not integrate to one); it
// weights pairwise cohesive forces so they vanish smoothly at both
// r = 0 and r = h and peak near the particle spacing.
type Cohesion struct {
	h    float64
	norm float64 // 32 / (pi h^9)
	off  float64 // h^6 / 64
}

// NewCohesion returns the cohesion spline for support radius h.
func NewCohesion(h float64) (Cohesion, error) {
	if !(h > 0) || math.IsInf(h, 0) {
		return Cohesion{}, fmt.Errorf("kernel: support radius must be positive and finite, got %v", h)
	}
	h9 := math.Pow(h, 9)
	return Cohesion{
		h:    h,
		norm: 32 / (math.Pi * h9),
		off:  math.Pow(h, 6) / 64,
	}, nil
}

func (k Cohesion) Support() float64 { return k.h }

// C returns the cohesion weight at distance r.
func (k Cohesion) C(r float64) float64 {
	if r <= 0 || r >= k.h {
		return 0
	}
	d := k.h - r
	v := d * d * d * r * r * r
	if 2*r < k.h {
		return k.norm * (2*v - k.off)
	}
	return k.norm * v
}
