// Package config provides configuration loading and access for the
// solver and its drivers.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all solver configuration parameters.
type Config struct {
	Fluid      FluidConfig      `yaml:"fluid"`
	Pressure   PressureConfig   `yaml:"pressure"`
	Divergence DivergenceConfig `yaml:"divergence"`
	Time       TimeConfig       `yaml:"time"`
	World      WorldConfig      `yaml:"world"`
	Run        RunConfig        `yaml:"run"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Viewer     ViewerConfig     `yaml:"viewer"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// FluidConfig holds particle discretization parameters.
type FluidConfig struct {
	ParticleRadius float64 `yaml:"particle_radius"` // Half the lattice spacing
	KernelMul      float64 `yaml:"kernel_mul"`      // Support radius = particle_radius * kernel_mul
	RestDensity    float64 `yaml:"rest_density"`    // Default material rho0
	Viscosity      float64 `yaml:"viscosity"`       // Default material viscosity
	SurfaceTension float64 `yaml:"surface_tension"` // Default material cohesion (0 = off)
	ClampDensity   bool    `yaml:"clamp_density"`   // Clamp computed densities below by rho0
}

// PressureConfig holds constant-density solve parameters.
type PressureConfig struct {
	MinIterations   int     `yaml:"min_iterations"`
	MaxIterations   int     `yaml:"max_iterations"`
	MaxDensityError float64 `yaml:"max_density_error"` // Fraction of rest density
}

// DivergenceConfig holds divergence-free solve parameters.
type DivergenceConfig struct {
	Enabled       bool    `yaml:"enabled"`
	MinIterations int     `yaml:"min_iterations"`
	MaxIterations int     `yaml:"max_iterations"`
	MaxError      float64 `yaml:"max_error"`
	MinNeighbors  int     `yaml:"min_neighbors"` // Skip sparse particles below this contact count
}

// TimeConfig holds step size control parameters.
type TimeConfig struct {
	CFL   float64 `yaml:"cfl"`    // Max fraction of the support radius a particle may travel per step
	MaxDT float64 `yaml:"max_dt"` // Upper bound regardless of CFL
}

// WorldConfig holds scene-level parameters used by the drivers.
type WorldConfig struct {
	Gravity []float64 `yaml:"gravity"` // 3 components
}

// RunConfig holds execution parameters.
type RunConfig struct {
	Workers int `yaml:"workers"` // 0 = GOMAXPROCS
}

// TelemetryConfig holds diagnostics parameters.
type TelemetryConfig struct {
	StatsWindow     int `yaml:"stats_window"`      // Steps per aggregated stats window
	PerfWindowSteps int `yaml:"perf_window_steps"` // Rolling window for phase timings
}

// ViewerConfig holds display settings for the interactive viewer.
type ViewerConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	TargetFPS int `yaml:"target_fps"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	KernelRadius float64 // particle_radius * kernel_mul
	Spacing      float64 // 2 * particle_radius
	Workers      int     // Run.Workers resolved against GOMAXPROCS
}

// Load loads configuration from a YAML file, merging with embedded
// defaults. If path is empty, only embedded defaults are used. The
// result is validated; nothing is returned on error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into the same struct - only overwrites fields
		// present in the file.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

// Validate checks every setup-time constraint. It reports the first
// offending field and leaves the receiver untouched.
func (c *Config) Validate() error {
	if !(c.Fluid.ParticleRadius > 0) {
		return fmt.Errorf("config: fluid.particle_radius must be positive, got %v", c.Fluid.ParticleRadius)
	}
	if !(c.Fluid.KernelMul > 0) {
		return fmt.Errorf("config: fluid.kernel_mul must be positive, got %v", c.Fluid.KernelMul)
	}
	if !(c.Fluid.RestDensity > 0) {
		return fmt.Errorf("config: fluid.rest_density must be positive, got %v", c.Fluid.RestDensity)
	}
	if c.Fluid.Viscosity < 0 {
		return fmt.Errorf("config: fluid.viscosity must be non-negative, got %v", c.Fluid.Viscosity)
	}
	if c.Fluid.SurfaceTension < 0 {
		return fmt.Errorf("config: fluid.surface_tension must be non-negative, got %v", c.Fluid.SurfaceTension)
	}
	if c.Pressure.MinIterations < 0 || c.Pressure.MaxIterations < c.Pressure.MinIterations {
		return fmt.Errorf("config: pressure iteration bounds invalid: min %d, max %d",
			c.Pressure.MinIterations, c.Pressure.MaxIterations)
	}
	if !(c.Pressure.MaxDensityError > 0) {
		return fmt.Errorf("config: pressure.max_density_error must be positive, got %v", c.Pressure.MaxDensityError)
	}
	if c.Divergence.Enabled {
		if c.Divergence.MinIterations < 0 || c.Divergence.MaxIterations < c.Divergence.MinIterations {
			return fmt.Errorf("config: divergence iteration bounds invalid: min %d, max %d",
				c.Divergence.MinIterations, c.Divergence.MaxIterations)
		}
		if !(c.Divergence.MaxError > 0) {
			return fmt.Errorf("config: divergence.max_error must be positive, got %v", c.Divergence.MaxError)
		}
	}
	if !(c.Time.CFL > 0) || c.Time.CFL > 1 {
		return fmt.Errorf("config: time.cfl must be in (0, 1], got %v", c.Time.CFL)
	}
	if !(c.Time.MaxDT > 0) {
		return fmt.Errorf("config: time.max_dt must be positive, got %v", c.Time.MaxDT)
	}
	if len(c.World.Gravity) != 3 {
		return fmt.Errorf("config: world.gravity must have 3 components, got %d", len(c.World.Gravity))
	}
	if c.Run.Workers < 0 {
		return fmt.Errorf("config: run.workers must be non-negative, got %d", c.Run.Workers)
	}
	return nil
}

// computeDerived calculates values derived from the loaded config.
func (c *Config) computeDerived() {
	c.Derived.KernelRadius = c.Fluid.ParticleRadius * c.Fluid.KernelMul
	c.Derived.Spacing = 2 * c.Fluid.ParticleRadius
	c.Derived.Workers = c.Run.Workers
	if c.Derived.Workers == 0 {
		c.Derived.Workers = runtime.GOMAXPROCS(0)
	}
}

// WriteYAML saves the configuration to a file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
