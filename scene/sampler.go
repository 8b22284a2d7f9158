package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// surfaceSamples returns the body-frame sample points for the shape,
// computing and caching them on first use.
func surfaceSamples(sh *Shape) []r3.Vec {
	if sh.samples != nil {
		return sh.samples
	}
	switch sh.Kind {
	case ShapeSphere:
		sh.samples = sampleSphere(sh.Radius, sh.Spacing)
	default:
		sh.samples = sampleBox(sh.HalfExtents, sh.Spacing)
	}
	return sh.samples
}

// sampleBox lattices the six faces of an axis-aligned box. Edge and
// corner points land on more than one face; the map dedupes them.
func sampleBox(half r3.Vec, spacing float64) []r3.Vec {
	nx := latticeCount(half.X, spacing)
	ny := latticeCount(half.Y, spacing)
	nz := latticeCount(half.Z, spacing)

	seen := make(map[[3]int16]struct{})
	var out []r3.Vec
	add := func(ix, iy, iz int) {
		key := [3]int16{int16(ix), int16(iy), int16(iz)}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, r3.Vec{
			X: latticeCoord(ix, nx, half.X),
			Y: latticeCoord(iy, ny, half.Y),
			Z: latticeCoord(iz, nz, half.Z),
		})
	}

	for iy := 0; iy <= ny; iy++ {
		for iz := 0; iz <= nz; iz++ {
			add(0, iy, iz)
			add(nx, iy, iz)
		}
	}
	for ix := 0; ix <= nx; ix++ {
		for iz := 0; iz <= nz; iz++ {
			add(ix, 0, iz)
			add(ix, ny, iz)
		}
	}
	for ix := 0; ix <= nx; ix++ {
		for iy := 0; iy <= ny; iy++ {
			add(ix, iy, 0)
			add(ix, iy, nz)
		}
	}
	return out
}

func latticeCount(half, spacing float64) int {
	n := int(math.Ceil(2 * half / spacing))
	if n < 1 {
		n = 1
	}
	return n
}

func latticeCoord(i, n int, half float64) float64 {
	return -half + float64(i)*(2*half/float64(n))
}

// sampleSphere spreads points over the sphere with a Fibonacci spiral,
// sized so neighboring samples sit roughly spacing apart.
func sampleSphere(radius, spacing float64) []r3.Vec {
	area := 4 * math.Pi * radius * radius
	n := int(math.Ceil(area / (spacing * spacing)))
	if n < 4 {
		n = 4
	}
	out := make([]r3.Vec, 0, n)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		y := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - y*y)
		theta := golden * float64(i)
		out = append(out, r3.Scale(radius, r3.Vec{
			X: r * math.Cos(theta),
			Y: y,
			Z: r * math.Sin(theta),
		}))
	}
	return out
}
