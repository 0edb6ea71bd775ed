// Package engine implements the extension host orchestrator: extension and
// execution-unit lifecycle, activation-event routing, contribution
// registries, and the request/response bridge to sandboxed extension code.
package engine

import (
	"time"

	"github.com/gridlet-dev/gridlet/internal/domain/sheet"
	"github.com/gridlet-dev/gridlet/internal/domain/taint"
)

// Config controls host behavior.
type Config struct {
	// CommandTimeout bounds command, custom function, data connector and
	// panel message calls. A request that outlives it terminates the unit.
	CommandTimeout time.Duration

	// ActivationTimeout bounds the activate request. Activation runs
	// extension startup code, so it gets a longer leash.
	ActivationTimeout time.Duration

	// MaxTaintedRanges caps each extension's tainted-range list.
	MaxTaintedRanges int

	// MaxRangeCells rejects any capability call that would materialize a
	// 2-D value matrix larger than this many cells.
	MaxRangeCells int

	// MaxFetchBodyBytes truncates network.fetch response bodies.
	MaxFetchBodyBytes int64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CommandTimeout:    5 * time.Second,
		ActivationTimeout: 30 * time.Second,
		MaxTaintedRanges:  taint.DefaultMaxTracked,
		MaxRangeCells:     sheet.DefaultMaxCells,
		MaxFetchBodyBytes: 1 << 20,
	}
}

// withDefaults fills zero fields so a partially specified Config is usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.ActivationTimeout <= 0 {
		c.ActivationTimeout = d.ActivationTimeout
	}
	if c.MaxTaintedRanges <= 0 {
		c.MaxTaintedRanges = d.MaxTaintedRanges
	}
	if c.MaxRangeCells <= 0 {
		c.MaxRangeCells = d.MaxRangeCells
	}
	if c.MaxFetchBodyBytes <= 0 {
		c.MaxFetchBodyBytes = d.MaxFetchBodyBytes
	}
	return c
}
