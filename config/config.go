// Package config provides configuration loading and access for the sandpile.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/sandpile/lattice"
	"github.com/pthm-cable/sandpile/powerlaw"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Lattice   LatticeConfig   `yaml:"lattice"`
	PowerLaw  PowerLawConfig  `yaml:"power_law"`
	Physics   PhysicsConfig   `yaml:"physics"`
	Run       RunConfig       `yaml:"run"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Bookmarks BookmarksConfig `yaml:"bookmarks"`
	Output    OutputConfig    `yaml:"output"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// LatticeConfig holds grid extents and base thresholds.
type LatticeConfig struct {
	XSize          int `yaml:"x_size"`
	YSize          int `yaml:"y_size"`
	ZSize          int `yaml:"z_size"`
	BaseCapacity   int `yaml:"base_capacity"`
	BaseResilience int `yaml:"base_resilience"`
}

// PowerLawConfig holds the exponents of every power-law draw.
type PowerLawConfig struct {
	XMin               float64 `yaml:"x_min"`
	AlphaCapacity      float64 `yaml:"alpha_capacity"`   // capacity jitter
	AlphaResilience    float64 `yaml:"alpha_resilience"` // resilience jitter
	AlphaLanding       float64 `yaml:"alpha_landing"`    // landing offset from center
	AlphaExtraEnergy   float64 `yaml:"alpha_extra_energy"`
	AlphaAvalancheSize float64 `yaml:"alpha_avalanche_size"`
}

// PhysicsConfig holds engine limits.
type PhysicsConfig struct {
	TerminalFreeFallSpeed int `yaml:"terminal_free_fall_speed"`
	MaxRollAttempts       int `yaml:"max_roll_attempts"`
	MaxPasses             int `yaml:"max_passes"` // stabilization budget per avalanche
}

// RunConfig holds batch parameters.
type RunConfig struct {
	TotalGrains int   `yaml:"total_grains"`
	Workers     int   `yaml:"workers"` // 1 = single pile; >1 = independent replica piles
	Seed        int64 `yaml:"seed"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         int `yaml:"stats_window"` // drops per stats window
	BookmarkHistorySize int `yaml:"bookmark_history_size"`
	PerfCollectorWindow int `yaml:"perf_collector_window"`
	HallOfFameSize      int `yaml:"hall_of_fame_size"` // largest avalanches kept
}

// BookmarksConfig holds bookmark detection thresholds.
type BookmarksConfig struct {
	RecordMinGrains    int     `yaml:"record_min_grains"`
	EscapeBurst        int     `yaml:"escape_burst"`
	SteadyStateCV      float64 `yaml:"steady_state_cv"`
	SteadyStateWindows int     `yaml:"steady_state_windows"`
}

// OutputConfig selects optional output artifacts.
type OutputConfig struct {
	Plots  bool `yaml:"plots"`
	Charts bool `yaml:"charts"`
}

// DerivedConfig holds values computed from other config fields.
type DerivedConfig struct {
	Extents   lattice.Extents
	Center    lattice.Coord
	CellCount int
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
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

// Defaults returns the embedded defaults without validation.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	cfg.computeDerived()
	return cfg, nil
}

// Validate rejects parameters the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	l := c.Lattice
	if l.XSize <= 0 || l.YSize <= 0 || l.ZSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: lattice %dx%dx%d", lattice.ErrInvalidParameter, l.XSize, l.YSize, l.ZSize))
	}
	if l.BaseCapacity < 0 || l.BaseResilience < 0 {
		errs = append(errs, fmt.Errorf("%w: base capacity %d, base resilience %d",
			lattice.ErrInvalidParameter, l.BaseCapacity, l.BaseResilience))
	}

	p := c.PowerLaw
	if !(p.XMin > 0) {
		errs = append(errs, fmt.Errorf("%w: x_min %v", powerlaw.ErrInvalidAlpha, p.XMin))
	}
	for _, a := range []struct {
		name  string
		value float64
	}{
		{"alpha_capacity", p.AlphaCapacity},
		{"alpha_resilience", p.AlphaResilience},
		{"alpha_landing", p.AlphaLanding},
		{"alpha_extra_energy", p.AlphaExtraEnergy},
		{"alpha_avalanche_size", p.AlphaAvalancheSize},
	} {
		if !(a.value > 1) {
			errs = append(errs, fmt.Errorf("%w: %s %v must be > 1", powerlaw.ErrInvalidAlpha, a.name, a.value))
		}
	}

	ph := c.Physics
	if ph.TerminalFreeFallSpeed < 0 || ph.MaxRollAttempts < 1 || ph.MaxPasses < 1 {
		errs = append(errs, fmt.Errorf("%w: terminal speed %d, roll attempts %d, max passes %d",
			lattice.ErrInvalidParameter, ph.TerminalFreeFallSpeed, ph.MaxRollAttempts, ph.MaxPasses))
	}
	if c.Run.TotalGrains < 0 || c.Run.Workers < 1 {
		errs = append(errs, fmt.Errorf("%w: total grains %d, workers %d",
			lattice.ErrInvalidParameter, c.Run.TotalGrains, c.Run.Workers))
	}
	if c.Telemetry.StatsWindow < 1 {
		errs = append(errs, fmt.Errorf("%w: stats window %d", lattice.ErrInvalidParameter, c.Telemetry.StatsWindow))
	}
	return errors.Join(errs...)
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Extents = lattice.Extents{X: c.Lattice.XSize, Y: c.Lattice.YSize, Z: c.Lattice.ZSize}
	c.Derived.Center = lattice.Coord{X: c.Lattice.XSize / 2, Y: c.Lattice.YSize / 2, Z: c.Lattice.ZSize - 1}
	c.Derived.CellCount = c.Derived.Extents.Volume()
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
