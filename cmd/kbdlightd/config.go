package main

import (
	"errors"
	"fmt"
	"time"
)

// Config is the daemon's runtime configuration.
//
// There is no config file: the device path comes from the positional
// argument and the remaining knobs from flags. Fade parameters are fixed by
// DefaultConfig and are not user-facing.
type Config struct {
	// Input device node (e.g. /dev/input/event3)
	Device string

	Fade FadeConfig

	// Status websocket listener; empty disables it.
	StatusListen string
	StatusPath   string

	LogLevel string
}

// FadeConfig describes the activity → full → quiet period → ramp cycle.
type FadeConfig struct {
	Full  int32
	Min   int32
	Steps int32

	QuietPeriod  time.Duration
	StepInterval time.Duration
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Fade:       DefaultFadeConfig(),
		StatusPath: defaultStatusPath,
		LogLevel:   string(LogLevelInfo),
	}
}

// DefaultFadeConfig returns the fixed fade curve.
func DefaultFadeConfig() FadeConfig {
	return FadeConfig{
		Full:         defaultFullBrightness,
		Min:          defaultMinBrightness,
		Steps:        defaultFadeSteps,
		QuietPeriod:  defaultQuietPeriod,
		StepInterval: defaultStepInterval,
	}
}

// FlagOverrides carries values from the command line. A nil pointer means
// the flag was not given.
type FlagOverrides struct {
	StatusListen *string
	LogLevel     *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.StatusListen != nil {
		cfg.StatusListen = *o.StatusListen
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	if c.Device == "" {
		return errors.New("input device path must not be empty")
	}
	if err := c.Fade.Validate(); err != nil {
		return fmt.Errorf("fade: %w", err)
	}
	if c.StatusListen != "" && c.StatusPath == "" {
		return errors.New("status path must not be empty when the status listener is enabled")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Validate rejects curves the fade task cannot run.
func (f FadeConfig) Validate() error {
	if f.Steps <= 0 {
		return errors.New("steps must be > 0")
	}
	if f.Min < 0 {
		return errors.New("min brightness must be >= 0")
	}
	if f.Full <= f.Min {
		return errors.New("full brightness must be > min brightness")
	}
	if f.QuietPeriod < 0 {
		return errors.New("quiet period must be >= 0")
	}
	if f.StepInterval < 0 {
		return errors.New("step interval must be >= 0")
	}
	return nil
}

// Level returns the brightness for ramp step i (0-indexed).
//
// The division truncates, so for 100/0/50 the sequence is 98, 96, ..., 2, 0;
// other curves need not land on Min exactly.
func (f FadeConfig) Level(i int32) int32 {
	return (f.Steps - i - 1) * (f.Full - f.Min) / f.Steps
}
