// Package config loads the harness runtime configuration from TOML.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/espilink/internal/espi/lane"
	"github.com/danmuck/espilink/internal/espi/link"
)

// Harness is the assembled runtime configuration: the master link
// settings plus the scripted-slave and observability knobs that live
// outside the link handle.
type Harness struct {
	Link                 link.Config
	AlertBetweenSegments bool
	MetricsAddr          string
}

// config.toml key mapping to harness runtime settings. Durations are
// given in nanoseconds of simulated time.
type fileConfig struct {
	HalfPeriodNS         int64  `toml:"half_period_ns"`
	SkewNS               int64  `toml:"skew_ns"`
	LaneMode             string `toml:"lane_mode"`
	RetryLimit           int    `toml:"retry_limit"`
	WaitLimit            int    `toml:"wait_limit"`
	Verbosity            int    `toml:"verbosity"`
	AlertBetweenSegments bool   `toml:"alert_between_segments"`
	MetricsAddr          string `toml:"metrics_addr"`
}

// Default returns the harness configuration used when no file is given.
func Default() Harness {
	return Harness{Link: link.DefaultConfig()}
}

// Load reads path and overlays its keys onto the defaults. Keys absent
// from the file keep their default values.
func Load(path string) (Harness, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Harness{}, fmt.Errorf("load harness config: %w", err)
	}

	if meta.IsDefined("half_period_ns") {
		cfg.Link.HalfPeriod = time.Duration(raw.HalfPeriodNS) * time.Nanosecond
	}
	if meta.IsDefined("skew_ns") {
		cfg.Link.Skew = time.Duration(raw.SkewNS) * time.Nanosecond
	}
	if meta.IsDefined("lane_mode") {
		w, err := lane.ParseWidth(raw.LaneMode)
		if err != nil {
			return Harness{}, fmt.Errorf("load harness config: %w", err)
		}
		cfg.Link.Width = w
	}
	if meta.IsDefined("retry_limit") {
		cfg.Link.RetryLimit = raw.RetryLimit
	}
	if meta.IsDefined("wait_limit") {
		cfg.Link.WaitLimit = raw.WaitLimit
	}
	if meta.IsDefined("verbosity") {
		cfg.Link.Verbosity = raw.Verbosity
	}
	if meta.IsDefined("alert_between_segments") {
		cfg.AlertBetweenSegments = raw.AlertBetweenSegments
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = raw.MetricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return Harness{}, err
	}
	return cfg, nil
}

// Validate rejects settings the link handle would refuse at New time,
// so a bad file fails before any bus is built.
func (h Harness) Validate() error {
	if h.Link.HalfPeriod <= 0 {
		return fmt.Errorf("harness config: %w", link.ErrBadHalfPeriod)
	}
	if h.Link.Skew < 0 || h.Link.Skew >= h.Link.HalfPeriod {
		return fmt.Errorf("harness config: skew %v out of range [0, %v)", h.Link.Skew, h.Link.HalfPeriod)
	}
	if h.Link.RetryLimit < 0 {
		return fmt.Errorf("harness config: %w", link.ErrBadRetryLimit)
	}
	if h.Link.WaitLimit < 1 {
		return fmt.Errorf("harness config: %w", link.ErrBadWaitLimit)
	}
	if h.Link.Verbosity < 0 || h.Link.Verbosity > 3 {
		return fmt.Errorf("harness config: %w", link.ErrBadVerbosity)
	}
	return nil
}
