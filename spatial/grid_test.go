package spatial

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestGrid_QueryMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pts := make([]r3.Vec, 500)
	for i := range pts {
		pts[i] = r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
	}

	g := NewGrid()
	radius := 0.1
	g.Build(radius, pts)

	var buf []Neighbor
	for trial := 0; trial < 20; trial++ {
		q := r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		buf = g.Query(buf[:0], q, radius)

		want := map[int32]bool{}
		for i, p := range pts {
			d := r3.Sub(p, q)
			if r3.Norm2(d) <= radius*radius {
				want[int32(i)] = true
			}
		}

		got := map[int32]bool{}
		for _, n := range buf {
			if n.Ref.Set != 0 {
				t.Fatalf("unexpected set index %d", n.Ref.Set)
			}
			if got[n.Ref.Index] {
				t.Fatalf("index %d reported twice", n.Ref.Index)
			}
			got[n.Ref.Index] = true
			if n.DistSq > radius*radius {
				t.Errorf("index %d at dist2 %v beyond radius", n.Ref.Index, n.DistSq)
			}
		}

		if len(got) != len(want) {
			t.Fatalf("trial %d: got %d neighbors, want %d", trial, len(got), len(want))
		}
		for i := range want {
			if !got[i] {
				t.Errorf("trial %d: missing neighbor %d", trial, i)
			}
		}
	}
}

func TestGrid_MultipleSets(t *testing.T) {
	a := []r3.Vec{{X: 0.1}, {X: 0.9}}
	b := []r3.Vec{{X: 0.11}}

	g := NewGrid()
	g.Build(0.2, a, b)

	hits := g.Query(nil, r3.Vec{X: 0.1}, 0.05)
	sets := map[int32]int{}
	for _, n := range hits {
		sets[n.Ref.Set]++
	}
	if sets[0] != 1 || sets[1] != 1 {
		t.Errorf("expected one hit per set, got %v", sets)
	}
}

func TestGrid_DropsNonFinitePoints(t *testing.T) {
	pts := []r3.Vec{
		{X: 0.1, Y: 0.1, Z: 0.1},
		{X: math.NaN(), Y: 0.1, Z: 0.1},
		{X: 0.2, Y: math.Inf(1), Z: 0.1},
	}

	g := NewGrid()
	g.Build(0.5, pts)

	dropped := g.Dropped()
	if len(dropped) != 2 {
		t.Fatalf("got %d dropped points, want 2", len(dropped))
	}
	for _, d := range dropped {
		if d.Index != 1 && d.Index != 2 {
			t.Errorf("unexpected dropped index %d", d.Index)
		}
	}

	// The finite point is still indexed.
	hits := g.Query(nil, r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}, 0.05)
	if len(hits) != 1 || hits[0].Ref.Index != 0 {
		t.Errorf("expected single hit on index 0, got %v", hits)
	}
}

func TestGrid_NonFiniteQueryReturnsNothing(t *testing.T) {
	g := NewGrid()
	g.Build(0.5, []r3.Vec{{X: 0.1}})
	if hits := g.Query(nil, r3.Vec{X: math.NaN()}, 1.0); len(hits) != 0 {
		t.Errorf("expected no hits for non-finite query, got %d", len(hits))
	}
}

func TestGrid_RadiusLargerThanCell(t *testing.T) {
	pts := []r3.Vec{{X: 0}, {X: 0.45}, {X: -0.45}, {X: 0.9}}
	g := NewGrid()
	g.Build(0.2, pts)

	hits := g.Query(nil, r3.Vec{}, 0.5)
	if len(hits) != 3 {
		t.Errorf("got %d hits, want 3", len(hits))
	}
}

func TestGrid_ClumpedPoints(t *testing.T) {
	// All points in one cell must not break the query path.
	pts := make([]r3.Vec, 100)
	g := NewGrid()
	g.Build(1.0, pts)

	hits := g.Query(nil, r3.Vec{}, 0.5)
	if len(hits) != len(pts) {
		t.Errorf("got %d hits, want %d", len(hits), len(pts))
	}
}

func TestGrid_RebuildDiscardsOldPoints(t *testing.T) {
	g := NewGrid()
	g.Build(0.5, []r3.Vec{{X: 0.1}})
	g.Build(0.5, []r3.Vec{{X: 5.0}})

	if hits := g.Query(nil, r3.Vec{X: 0.1}, 0.2); len(hits) != 0 {
		t.Errorf("stale point survived rebuild: %v", hits)
	}
	if hits := g.Query(nil, r3.Vec{X: 5.0}, 0.2); len(hits) != 1 {
		t.Errorf("new point missing after rebuild: %v", hits)
	}
}
