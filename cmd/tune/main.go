// Parameter search for the solver's stability knobs. Runs short
// headless dam breaks and minimizes the mean density error, penalizing
// steps where the pressure solve fails to converge.
//
// Usage: go run ./cmd/tune -evals 60 -output out/
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lagoon-sim/lagoon/config"
	"github.com/lagoon-sim/lagoon/fluid"
	"github.com/lagoon-sim/lagoon/scene"
	"github.com/lagoon-sim/lagoon/sim"
)

// bounds for the two tuned parameters
const (
	minCFL, maxCFL   = 0.05, 0.9
	minVisc, maxVisc = 0.0, 0.5
)

func main() {
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	steps := flag.Int("steps", 300, "Solver steps per evaluation")
	maxEvals := flag.Int("evals", 60, "Maximum number of evaluations")
	outputDir := flag.String("output", "", "Output directory for the tuned config")
	flag.Parse()

	baseCfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	evalCount := 0
	best := math.Inf(1)
	bestX := []float64{baseCfg.Time.CFL, baseCfg.Fluid.Viscosity}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			cfl := clamp(x[0], minCFL, maxCFL)
			visc := clamp(x[1], minVisc, maxVisc)
			cost := evaluate(baseCfg, cfl, visc, *steps)
			evalCount++
			if cost < best {
				best = cost
				bestX = []float64{cfl, visc}
			}
			fmt.Printf("eval %d/%d: cfl=%.3f viscosity=%.4f cost=%.5f (best=%.5f)\n",
				evalCount, *maxEvals, cfl, visc, cost, best)
			return cost
		},
	}

	settings := &optimize.Settings{FuncEvaluations: *maxEvals}
	initX := []float64{baseCfg.Time.CFL, baseCfg.Fluid.Viscosity}

	result, err := optimize.Minimize(problem, initX, settings, &optimize.NelderMead{})
	if err != nil {
		log.Printf("optimization ended: %v", err)
	}
	if result != nil && result.F < best {
		best = result.F
		bestX = []float64{clamp(result.X[0], minCFL, maxCFL), clamp(result.X[1], minVisc, maxVisc)}
	}

	fmt.Printf("\nbest: cfl=%.3f viscosity=%.4f cost=%.5f after %d evaluations\n",
		bestX[0], bestX[1], best, evalCount)

	if *outputDir != "" {
		if err := os.MkdirAll(*outputDir, 0755); err != nil {
			log.Fatalf("failed to create output directory: %v", err)
		}
		tuned, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to reload config: %v", err)
		}
		tuned.Time.CFL = bestX[0]
		tuned.Fluid.Viscosity = bestX[1]
		outPath := filepath.Join(*outputDir, "tuned_config.yaml")
		if err := tuned.WriteYAML(outPath); err != nil {
			log.Fatalf("failed to write tuned config: %v", err)
		}
		fmt.Printf("tuned config saved to %s\n", outPath)
	}
}

// evaluate runs a small dam break and returns mean density error plus
// a penalty per non-converged step. Any solver failure scores worst.
func evaluate(base *config.Config, cfl, visc float64, steps int) float64 {
	cfg := *base
	cfg.Time.CFL = cfl
	cfg.Fluid.Viscosity = visc

	gravity := r3.Vec{X: cfg.World.Gravity[0], Y: cfg.World.Gravity[1], Z: cfg.World.Gravity[2]}
	spacing := cfg.Derived.Spacing

	s, err := sim.New(sim.FromConfig(&cfg))
	if err != nil {
		return math.Inf(1)
	}
	defer s.Close()
	s.SetGravity(gravity)

	group, err := fluid.NewGroup(fluid.Material{
		RestDensity: cfg.Fluid.RestDensity,
		Viscosity:   visc,
	})
	if err != nil {
		return math.Inf(1)
	}
	if _, err := group.SpawnBlock(
		r3.Vec{X: spacing, Y: spacing, Z: spacing},
		r3.Vec{X: 0.2, Y: 0.3, Z: 0.2},
		spacing,
	); err != nil {
		return math.Inf(1)
	}
	if _, err := s.AddGroup(group); err != nil {
		return math.Inf(1)
	}

	sc := scene.New(gravity)
	const wall = 0.01
	sc.AddBox(r3.Vec{X: 0.15, Y: -wall, Z: 0.15}, r3.Vec{X: 0.3, Y: wall, Z: 0.3}, 0, spacing)
	sc.AddBox(r3.Vec{X: -wall, Y: 0.25, Z: 0.15}, r3.Vec{X: wall, Y: 0.25, Z: 0.3}, 0, spacing)
	sc.AddBox(r3.Vec{X: 0.45 + wall, Y: 0.25, Z: 0.15}, r3.Vec{X: wall, Y: 0.25, Z: 0.3}, 0, spacing)
	sc.AddBox(r3.Vec{X: 0.15, Y: 0.25, Z: -wall}, r3.Vec{X: 0.3, Y: 0.25, Z: wall}, 0, spacing)
	sc.AddBox(r3.Vec{X: 0.15, Y: 0.25, Z: 0.45 + wall}, r3.Vec{X: 0.3, Y: 0.25, Z: wall}, 0, spacing)

	var errSum float64
	var nonConverged int
	for i := 0; i < steps; i++ {
		s.SetBoundaries(sc.BoundarySets()...)
		stats, err := s.Step(cfg.Time.MaxDT)
		if err != nil {
			return math.Inf(1)
		}
		if stats.NonFinite > 0 {
			return math.Inf(1)
		}
		errSum += stats.DensityError
		if !stats.Converged {
			nonConverged++
		}
	}
	return errSum/float64(steps) + 0.05*float64(nonConverged)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
