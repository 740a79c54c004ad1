// Package config loads toolchain settings from a TOML file and FJ_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/xyproto/env/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

// DefaultEntry is used when no entry is configured. The driver only adds a
// startup stub for it when the unit defines it.
const DefaultEntry = "main"

// Environment overrides, applied after the file.
const (
	EnvLogLevel  = "FJ_LOG_LEVEL"
	EnvMaxSteps  = "FJ_MAX_STEPS"
	EnvRegisters = "FJ_REGISTERS"
	EnvEntry     = "FJ_ENTRY"
)

// Config is the full settings tree.
type Config struct {
	Target TargetConfig `toml:"target"`
	Sim    SimConfig    `toml:"sim"`
	Log    LogConfig    `toml:"log"`
	Driver DriverConfig `toml:"driver"`
}

// TargetConfig describes the machine as the compiler sees it.
type TargetConfig struct {
	// Registers is the allocatable pool, in free-list order.
	Registers []int `toml:"registers"`
}

type SimConfig struct {
	MaxSteps int `toml:"max_steps"`
	StackTop int `toml:"stack_top"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type DriverConfig struct {
	// Entry is the function the startup stub calls. Empty means DefaultEntry
	// if present.
	Entry  string `toml:"entry"`
	OutDir string `toml:"out_dir"`
	// Jobs bounds concurrent files; 0 means one per CPU.
	Jobs int `toml:"jobs"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Target: TargetConfig{Registers: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}},
		Sim:    SimConfig{MaxSteps: 1_000_000, StackTop: 0xFFFF},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies the environment and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FJ_* variables that are set. The env
// cache is reloaded first so variables set since the last read are seen.
func (c *Config) ApplyEnv() error {
	env.Load()
	if env.Has(EnvLogLevel) {
		c.Log.Level = env.Str(EnvLogLevel)
	}
	if env.Has(EnvMaxSteps) {
		n, err := strconv.Atoi(strings.TrimSpace(env.Str(EnvMaxSteps)))
		if err != nil {
			return fmt.Errorf("%s: invalid step count %q", EnvMaxSteps, env.Str(EnvMaxSteps))
		}
		c.Sim.MaxSteps = n
	}
	if env.Has(EnvEntry) {
		c.Driver.Entry = env.Str(EnvEntry)
	}
	if env.Has(EnvRegisters) {
		regs, err := ParseRegisters(env.Str(EnvRegisters))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRegisters, err)
		}
		c.Target.Registers = regs
	}
	return nil
}

// ParseRegisters parses a comma-separated list such as "1,2,3" or "r1,r2".
func ParseRegisters(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(f)), "r")
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid register %q", f)
		}
		out = append(out, n)
	}
	return out, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs error
	if len(c.Target.Registers) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("target.registers is empty"))
	}
	seen := make(map[int]bool)
	for _, r := range c.Target.Registers {
		// r0 is the emitter's scratch; r12 and up are special.
		if r < 1 || r > 11 {
			errs = multierr.Append(errs, fmt.Errorf("target.registers: r%d is not allocatable", r))
		}
		if seen[r] {
			errs = multierr.Append(errs, fmt.Errorf("target.registers: r%d listed twice", r))
		}
		seen[r] = true
	}
	if c.Sim.MaxSteps < 0 {
		errs = multierr.Append(errs, fmt.Errorf("sim.max_steps must not be negative"))
	}
	if c.Sim.StackTop < 0 || c.Sim.StackTop > 0xFFFF {
		errs = multierr.Append(errs, fmt.Errorf("sim.stack_top %#x outside memory", c.Sim.StackTop))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Driver.Jobs < 0 {
		errs = multierr.Append(errs, fmt.Errorf("driver.jobs must not be negative"))
	}
	return errs
}
