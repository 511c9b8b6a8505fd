// Package lane serializes byte messages onto the bus data lines at the
// configured width. Bits are MSB-first within each byte regardless of
// width; data is driven ahead of a rising edge and sampled while the
// clock is high. Turnaround windows are not inserted here: the
// transceiver is direction-agnostic and the transaction engine owns
// the bus phases.
package lane

import (
	"errors"
	"strings"

	"github.com/danmuck/espilink/internal/sim"
)

// Width is the number of data lanes carrying bits per half period.
type Width uint8

const (
	Single Width = 1
	Dual   Width = 2
	Quad   Width = 4
)

var ErrBadWidth = errors.New("lane: width must be single, dual or quad")

// ParseWidth maps a configuration string to a Width.
func ParseWidth(s string) (Width, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single":
		return Single, nil
	case "dual":
		return Dual, nil
	case "quad":
		return Quad, nil
	default:
		return 0, ErrBadWidth
	}
}

func (w Width) String() string {
	switch w {
	case Single:
		return "single"
	case Dual:
		return "dual"
	case Quad:
		return "quad"
	default:
		return "invalid"
	}
}

func (w Width) valid() bool {
	return w == Single || w == Dual || w == Quad
}

// Direction selects which side drives the data lines.
type Direction uint8

const (
	MasterToSlave Direction = iota
	SlaveToMaster
)

// Lines returns the bus line indices one bit group maps to, most
// significant bit first. Single-lane traffic splits by direction:
// commands go out on IO0 and responses come back on IO1. Dual and quad
// turn the low lines around for both directions.
func Lines(w Width, dir Direction) []int {
	switch w {
	case Single:
		if dir == SlaveToMaster {
			return []int{1}
		}
		return []int{0}
	case Dual:
		return []int{1, 0}
	case Quad:
		return []int{3, 2, 1, 0}
	default:
		return nil
	}
}

// DriveGroup drives one bit group on behalf of d, bits MSB-first
// across lines.
func DriveGroup(b *sim.Bus, d sim.Driver, lines []int, bits byte) {
	for i, line := range lines {
		lvl := sim.Low
		if bits>>(len(lines)-1-i)&1 != 0 {
			lvl = sim.High
		}
		b.DriveIO(d, line, lvl)
	}
}

// SampleGroup samples one bit group, MSB-first across lines.
func SampleGroup(b *sim.Bus, lines []int) byte {
	var bits byte
	for _, line := range lines {
		bits <<= 1
		if b.SampleIO(line) == sim.High {
			bits |= 1
		}
	}
	return bits
}

// Transceiver moves byte messages across the bus for one side of the
// link. The lane-width dispatch happens once per call, not per bit.
type Transceiver struct {
	bus    *sim.Bus
	driver sim.Driver
	width  Width
}

// NewTransceiver builds a transceiver for the given side.
func NewTransceiver(bus *sim.Bus, driver sim.Driver, width Width) (*Transceiver, error) {
	if !width.valid() {
		return nil, ErrBadWidth
	}
	return &Transceiver{bus: bus, driver: driver, width: width}, nil
}

// Width returns the active lane width.
func (t *Transceiver) Width() Width { return t.width }

// SetWidth changes the active lane width for subsequent transfers.
func (t *Transceiver) SetWidth(w Width) error {
	if !w.valid() {
		return ErrBadWidth
	}
	t.width = w
	return nil
}

func (t *Transceiver) outDir() Direction {
	if t.driver == sim.DriverMaster {
		return MasterToSlave
	}
	return SlaveToMaster
}

func (t *Transceiver) inDir() Direction {
	if t.driver == sim.DriverMaster {
		return SlaveToMaster
	}
	return MasterToSlave
}

// Transmit clocks msg out MSB-first: per bit group, drive the lines,
// pulse the clock low→high→low. The data lines are released after the
// last bit and the clock is left at idle low.
func (t *Transceiver) Transmit(msg []byte) {
	w := int(t.width)
	lines := Lines(t.width, t.outDir())
	groups := 8 / w
	mask := byte(1<<w - 1)
	for _, b := range msg {
		for g := 0; g < groups; g++ {
			bits := b >> (8 - w*(g+1)) & mask
			DriveGroup(t.bus, t.driver, lines, bits)
			t.bus.ClockHigh()
			t.bus.ClockLow()
		}
	}
	t.bus.ReleaseIO(t.driver)
}

// ReceiveByte clocks in one byte. The peer drives each group on the
// preceding falling edge; this side samples while the clock is high.
func (t *Transceiver) ReceiveByte() byte {
	w := int(t.width)
	lines := Lines(t.width, t.inDir())
	var b byte
	for g := 0; g < 8/w; g++ {
		t.bus.ClockHigh()
		b = b<<w | SampleGroup(t.bus, lines)
		t.bus.ClockLow()
	}
	return b
}

// IdleCycle runs one clock cycle with this side's lines released; the
// transaction engine strings two of these into the turnaround window.
func (t *Transceiver) IdleCycle() {
	t.bus.ClockHigh()
	t.bus.ClockLow()
}

// Release tri-states every data line held by this side.
func (t *Transceiver) Release() {
	t.bus.ReleaseIO(t.driver)
}
