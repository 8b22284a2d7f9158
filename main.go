package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lagoon-sim/lagoon/config"
	"github.com/lagoon-sim/lagoon/fluid"
	"github.com/lagoon-sim/lagoon/scene"
	"github.com/lagoon-sim/lagoon/sim"
	"github.com/lagoon-sim/lagoon/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	headless := flag.Bool("headless", false, "Run without graphics")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	maxSteps := flag.Int("max-steps", 0, "Stop after N steps (0 = unlimited)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, *headless, *outputDir, *maxSteps); err != nil {
		slog.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, headless bool, outputDir string, maxSteps int) error {
	gravity := gravityVec(cfg)

	s, err := sim.New(sim.FromConfig(cfg))
	if err != nil {
		return err
	}
	defer s.Close()
	s.SetGravity(gravity)

	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindowSteps)
	s.SetPerfCollector(perf)

	sc, err := buildDamBreak(cfg, s, gravity)
	if err != nil {
		return err
	}

	out, err := telemetry.NewOutputManager(outputDir)
	if err != nil {
		return err
	}
	defer out.Close()

	accum := telemetry.NewWindowAccum(cfg.Telemetry.StatsWindow)

	step := func() error {
		s.SetBoundaries(sc.BoundarySets()...)
		stats, err := s.Step(cfg.Time.MaxDT)
		if err != nil {
			return err
		}
		sc.ApplyFluidForces(stats.DT)
		sc.Step(stats.DT)

		if win, ok := accum.Add(stats); ok {
			win.Log()
			if err := out.WriteWindow(win); err != nil {
				return err
			}
			if err := out.WritePerf(perf.Stats(), stats.Step); err != nil {
				return err
			}
		}
		return nil
	}

	if headless {
		slog.Info("starting headless run",
			"particles", s.Group(0).Len(),
			"max_steps", maxSteps,
		)
		for i := 0; maxSteps == 0 || i < maxSteps; i++ {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	}

	return runViewer(cfg, s, step, maxSteps)
}

// runViewer drives the interactive 3D view. The simulation steps once
// per frame unless paused; the sidebar exposes the live knobs.
func runViewer(cfg *config.Config, s *sim.Simulation, step func() error, maxSteps int) error {
	rl.InitWindow(int32(cfg.Viewer.Width), int32(cfg.Viewer.Height), "Lagoon")
	defer rl.CloseWindow()
	rl.SetTargetFPS(int32(cfg.Viewer.TargetFPS))

	camera := rl.Camera3D{
		Position:   rl.Vector3{X: 2.2, Y: 1.6, Z: 2.2},
		Target:     rl.Vector3{X: 0.5, Y: 0.3, Z: 0.5},
		Up:         rl.Vector3{Y: 1},
		Fovy:       45,
		Projection: rl.CameraPerspective,
	}

	paused := false
	gravityY := float32(gravityVec(cfg).Y)
	radius := float32(cfg.Fluid.ParticleRadius)
	steps := 0

	for !rl.WindowShouldClose() {
		if rl.IsKeyPressed(rl.KeySpace) {
			paused = !paused
		}
		rl.UpdateCamera(&camera, rl.CameraOrbital)

		if !paused {
			if err := step(); err != nil {
				return err
			}
			steps++
			if maxSteps > 0 && steps >= maxSteps {
				break
			}
		}

		rl.BeginDrawing()
		rl.ClearBackground(rl.RayWhite)

		rl.BeginMode3D(camera)
		drawFluid(s, radius)
		rl.DrawGrid(10, 0.25)
		rl.EndMode3D()

		rl.DrawFPS(10, 10)
		rl.DrawText(fmt.Sprintf("particles: %d", s.Group(0).Len()), 10, 34, 18, rl.DarkGray)

		if gui.Button(rl.Rectangle{X: 10, Y: 60, Width: 110, Height: 28}, pauseLabel(paused)) {
			paused = !paused
		}
		newG := gui.Slider(rl.Rectangle{X: 10, Y: 96, Width: 160, Height: 20},
			"", fmt.Sprintf("g %.1f", gravityY), gravityY, -20, 0)
		if newG != gravityY {
			gravityY = newG
			s.SetGravity(r3.Vec{Y: float64(gravityY)})
		}

		rl.EndDrawing()
	}
	return nil
}

func pauseLabel(paused bool) string {
	if paused {
		return "Resume"
	}
	return "Pause"
}

func drawFluid(s *sim.Simulation, radius float32) {
	for gi := 0; gi < s.NumGroups(); gi++ {
		g := s.Group(gi)
		dens := g.Densities
		rho0 := g.Material().RestDensity
		for i, p := range g.Positions {
			// Shade by compression so pressure waves read at a glance.
			t := float32(0)
			if i < len(dens) && rho0 > 0 {
				t = float32((dens[i] - rho0) / rho0 * 4)
			}
			if t < 0 {
				t = 0
			} else if t > 1 {
				t = 1
			}
			c := rl.Color{R: uint8(40 + 120*t), G: uint8(90 + 60*t), B: 220, A: 255}
			rl.DrawSphere(rl.Vector3{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)}, radius, c)
		}
	}
}

// buildDamBreak sets up the default scene: a static open tank with a
// fluid column in one corner.
func buildDamBreak(cfg *config.Config, s *sim.Simulation, gravity r3.Vec) (*scene.Scene, error) {
	spacing := cfg.Derived.Spacing

	mat := fluid.Material{
		RestDensity:    cfg.Fluid.RestDensity,
		Viscosity:      cfg.Fluid.Viscosity,
		SurfaceTension: cfg.Fluid.SurfaceTension,
	}
	group, err := fluid.NewGroup(mat)
	if err != nil {
		return nil, err
	}
	if _, err := group.SpawnBlock(
		r3.Vec{X: spacing, Y: spacing, Z: spacing},
		r3.Vec{X: 0.35, Y: 0.6, Z: 0.95},
		spacing,
	); err != nil {
		return nil, err
	}
	if _, err := s.AddGroup(group); err != nil {
		return nil, err
	}

	sc := scene.New(gravity)
	// Tank: floor plus four walls, sampled as thin static boxes.
	const wall = 0.01
	sc.AddBox(r3.Vec{X: 0.5, Y: -wall, Z: 0.5}, r3.Vec{X: 0.55, Y: wall, Z: 0.55}, 0, spacing)
	sc.AddBox(r3.Vec{X: -wall, Y: 0.5, Z: 0.5}, r3.Vec{X: wall, Y: 0.5, Z: 0.55}, 0, spacing)
	sc.AddBox(r3.Vec{X: 1 + wall, Y: 0.5, Z: 0.5}, r3.Vec{X: wall, Y: 0.5, Z: 0.55}, 0, spacing)
	sc.AddBox(r3.Vec{X: 0.5, Y: 0.5, Z: -wall}, r3.Vec{X: 0.55, Y: 0.5, Z: wall}, 0, spacing)
	sc.AddBox(r3.Vec{X: 0.5, Y: 0.5, Z: 1 + wall}, r3.Vec{X: 0.55, Y: 0.5, Z: wall}, 0, spacing)
	return sc, nil
}

func gravityVec(cfg *config.Config) r3.Vec {
	g := cfg.World.Gravity
	if len(g) != 3 {
		return r3.Vec{Y: -9.81}
	}
	return r3.Vec{X: g[0], Y: g[1], Z: g[2]}
}
