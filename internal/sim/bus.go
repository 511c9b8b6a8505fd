// Package sim models the physical eSPI bus as a set of shared lines:
// a clock, an active-low chip-select, a reset line, an open-drain alert
// line and four data lines. The bus is advanced cooperatively by the
// master side; reactive peers register as listeners and run synchronously
// on the edges. The whole simulation is single-threaded by construction,
// so the bus carries no locks.
package sim

import (
	"time"

	"github.com/rs/zerolog"
)

// Level is the resolved state of one bus line.
type Level uint8

const (
	Low Level = iota
	High
	// Z marks a released (high-impedance) line.
	Z
)

func (l Level) String() string {
	switch l {
	case Low:
		return "0"
	case High:
		return "1"
	default:
		return "z"
	}
}

// Driver identifies one side of the link for line ownership.
type Driver uint8

const (
	DriverMaster Driver = iota
	DriverSlave

	driverCount
)

func (d Driver) String() string {
	if d == DriverMaster {
		return "master"
	}
	return "slave"
}

// DataLines is the number of IO lines on the bus.
const DataLines = 4

// Listener observes bus edges. Callbacks run on the goroutine driving
// the bus, after the line state has changed.
type Listener interface {
	ClockEdge(b *Bus, rising bool)
	ChipSelectEdge(b *Bus, active bool)
	ResetEdge(b *Bus, active bool)
}

// Config fixes the bus timing parameters for one session.
type Config struct {
	// HalfPeriod is the simulated time between consecutive clock edges.
	HalfPeriod time.Duration
	// Skew offsets data-line trace timestamps relative to clock edges,
	// for timing-margin inspection of the wire trace.
	Skew time.Duration
	Log  zerolog.Logger
}

// Bus is the shared medium. Exactly one side drives each data line at a
// time by protocol discipline; overlapping drive is counted, not resolved.
type Bus struct {
	cfg Config
	now time.Duration

	clock       Level
	csActive    bool
	resetActive bool
	alert       [driverCount]bool
	io          [driverCount][DataLines]Level

	listeners   []Listener
	contentions uint64
}

// New returns an idle bus: clock low, chip-select and reset released,
// all data lines high-impedance.
func New(cfg Config) *Bus {
	b := &Bus{cfg: cfg, clock: Low}
	for d := Driver(0); d < driverCount; d++ {
		for i := range b.io[d] {
			b.io[d][i] = Z
		}
	}
	return b
}

// Register subscribes l to bus edges.
func (b *Bus) Register(l Listener) {
	b.listeners = append(b.listeners, l)
}

// Now is the simulated time, advanced by one half period per clock edge.
func (b *Bus) Now() time.Duration { return b.now }

// Contentions counts samples taken while both sides drove the same line.
func (b *Bus) Contentions() uint64 { return b.contentions }

// ClockHigh drives the next rising clock edge.
func (b *Bus) ClockHigh() { b.clockEdge(High) }

// ClockLow drives the next falling clock edge.
func (b *Bus) ClockLow() { b.clockEdge(Low) }

// Clock returns the current clock level.
func (b *Bus) Clock() Level { return b.clock }

func (b *Bus) clockEdge(lvl Level) {
	b.now += b.cfg.HalfPeriod
	b.clock = lvl
	b.trace("clk", lvl, 0)
	for _, l := range b.listeners {
		l.ClockEdge(b, lvl == High)
	}
}

// SetChipSelect activates or releases the chip-select line. Listeners
// are notified only on a change of state.
func (b *Bus) SetChipSelect(active bool) {
	if b.csActive == active {
		return
	}
	b.csActive = active
	lvl := High
	if active { // active low
		lvl = Low
	}
	b.trace("cs", lvl, 0)
	for _, l := range b.listeners {
		l.ChipSelectEdge(b, active)
	}
}

// ChipSelectActive reports whether the subordinate is selected.
func (b *Bus) ChipSelectActive() bool { return b.csActive }

// SetReset asserts or releases the reset line.
func (b *Bus) SetReset(active bool) {
	if b.resetActive == active {
		return
	}
	b.resetActive = active
	lvl := High
	if active {
		lvl = Low
	}
	b.trace("reset", lvl, 0)
	for _, l := range b.listeners {
		l.ResetEdge(b, active)
	}
}

// ResetActive reports whether reset is asserted.
func (b *Bus) ResetActive() bool { return b.resetActive }

// AssertAlert drives or releases d's contribution to the open-drain
// alert line.
func (b *Bus) AssertAlert(d Driver, on bool) {
	b.alert[d] = on
}

// AlertAsserted reports whether any side is pulling the alert line.
func (b *Bus) AlertAsserted() bool {
	for _, on := range b.alert {
		if on {
			return true
		}
	}
	return false
}

// DriveIO drives one data line on behalf of d. Driving Z releases it.
func (b *Bus) DriveIO(d Driver, line int, lvl Level) {
	b.io[d][line] = lvl
	b.trace("io", lvl, line)
}

// ReleaseIO releases every data line held by d.
func (b *Bus) ReleaseIO(d Driver) {
	for i := range b.io[d] {
		b.io[d][i] = Z
	}
}

// SampleIO resolves one data line. Released lines read high (the bus
// models pull-ups), which is what makes an undriven response decode as
// NO_RESPONSE upstream. Overlapping drive is a protocol violation: the
// sample is counted as contention and reads high.
func (b *Bus) SampleIO(line int) Level {
	m := b.io[DriverMaster][line]
	s := b.io[DriverSlave][line]
	switch {
	case m != Z && s != Z:
		b.contentions++
		b.cfg.Log.Warn().Int("line", line).Msg("data line contention")
		return High
	case m != Z:
		return m
	case s != Z:
		return s
	default:
		return High
	}
}

func (b *Bus) trace(line string, lvl Level, idx int) {
	at := b.now
	if line == "io" {
		at += b.cfg.Skew
	}
	ev := b.cfg.Log.Trace()
	if !ev.Enabled() {
		return
	}
	ev.Dur("at", at).Str("line", line).Int("idx", idx).Stringer("level", lvl).Msg("wire")
}
