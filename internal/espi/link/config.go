package link

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/espilink/internal/espi/lane"
)

var (
	ErrBadHalfPeriod = errors.New("link: half period must be > 0")
	ErrBadRetryLimit = errors.New("link: retry limit must be >= 0")
	ErrBadWaitLimit  = errors.New("link: wait limit must be >= 1")
	ErrBadVerbosity  = errors.New("link: verbosity must be 0..3")
)

// Config is the master-owned link handle state: clock half period,
// active lane width, inter-signal skew and verbosity, plus the retry
// bounds the protocol leaves to the implementation.
type Config struct {
	// HalfPeriod is the simulated time between clock edges.
	HalfPeriod time.Duration
	// Skew offsets data-line trace timestamps against clock edges.
	Skew time.Duration
	// Width is the active lane width.
	Width lane.Width
	// RetryLimit bounds DEFER continuations and WAIT_STATE reissues
	// per transaction.
	RetryLimit int
	// WaitLimit bounds in-stream WAIT_STATE filler bytes per response.
	WaitLimit int
	// Verbosity selects how chatty the engine is: 0 errors, 1 per-op
	// results, 2 frame dumps, 3 wire trace.
	Verbosity int
	Log       zerolog.Logger
}

// DefaultConfig returns the power-on link state: single lane, 10 MHz
// clock, zero skew.
func DefaultConfig() Config {
	return Config{
		HalfPeriod: 50 * time.Nanosecond,
		Width:      lane.Single,
		RetryLimit: 3,
		WaitLimit:  16,
		Verbosity:  1,
	}
}

func (c Config) validate() error {
	if c.HalfPeriod <= 0 {
		return ErrBadHalfPeriod
	}
	if _, err := lane.ParseWidth(c.Width.String()); err != nil {
		return err
	}
	if c.RetryLimit < 0 {
		return ErrBadRetryLimit
	}
	if c.WaitLimit < 1 {
		return ErrBadWaitLimit
	}
	if c.Verbosity < 0 || c.Verbosity > 3 {
		return ErrBadVerbosity
	}
	return nil
}

func (c Config) level() zerolog.Level {
	switch c.Verbosity {
	case 0:
		return zerolog.ErrorLevel
	case 1:
		return zerolog.InfoLevel
	case 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}
