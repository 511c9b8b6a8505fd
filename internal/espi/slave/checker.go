// Package slave implements the scripted-slave checker: a reactive bus
// peer that validates the master's exact bit-level output against an
// expected request script and replays a scripted response, one script
// segment per chip-select activation. It is the verification oracle
// for the transaction engine.
package slave

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/espilink/internal/espi/lane"
	"github.com/danmuck/espilink/internal/espi/script"
	"github.com/danmuck/espilink/internal/observability"
	"github.com/danmuck/espilink/internal/sim"
)

var (
	ErrSegmentMismatch = errors.New("slave: request and response scripts disagree on segment count")
	ErrBadScript       = errors.New("slave: malformed script")
)

type segState uint8

const (
	segIdle segState = iota
	segCapture
	segTurnaround
	segRespond
	segDone
	segFailed
)

// Config fixes the checker's wire behavior for a session.
type Config struct {
	Width lane.Width
	// AlertBetweenSegments asserts the alert line once a non-final
	// segment's response has drained, modeling a DEFER-then-ready
	// subordinate. The line releases on the next chip-select activation.
	AlertBetweenSegments bool
	Log                  zerolog.Logger
}

// Checker is the scripted slave. It registers itself as a bus listener
// and advances only on edges; all mismatches accumulate into a
// persistent pass flag so a test can run many segments and assert once
// at the end.
type Checker struct {
	bus *sim.Bus
	cfg Config

	req   []string
	rsp   []string
	armed bool

	good    bool
	failure string

	seg   int
	state segState

	// capture accumulator
	capBits  byte
	capCount int
	captured []byte

	// falls counts falling edges between capture completion and the
	// first response group: the command's trailing edge plus the
	// two-cycle turnaround window.
	falls int

	// cursor is the bit offset into the active response segment.
	cursor int
}

// New builds a checker and subscribes it to the bus.
func New(bus *sim.Bus, cfg Config) *Checker {
	c := &Checker{bus: bus, cfg: cfg, good: true, seg: -1, state: segIdle}
	bus.Register(c)
	return c
}

// Load arms the checker with a request/response script pair. A
// malformed script or unequal segment counts reject the load: nothing
// is armed and the pass flag clears until Reset or a successful reload.
func (c *Checker) Load(request, response string) error {
	req, err := script.Split(request)
	if err != nil {
		c.reject(err.Error())
		return fmt.Errorf("%w: %v", ErrBadScript, err)
	}
	rsp, err := script.Split(response)
	if err != nil {
		c.reject(err.Error())
		return fmt.Errorf("%w: %v", ErrBadScript, err)
	}
	if len(req) != len(rsp) {
		c.reject(fmt.Sprintf("segment count mismatch: %d requests, %d responses", len(req), len(rsp)))
		return ErrSegmentMismatch
	}
	c.req, c.rsp = req, rsp
	c.armed = true
	c.good = true
	c.failure = ""
	c.seg = -1
	c.state = segIdle
	c.cfg.Log.Debug().Int("segments", len(req)).Msg("script loaded")
	return nil
}

// Segments reports how many chip-select activations are armed.
func (c *Checker) Segments() int {
	if !c.armed {
		return 0
	}
	return len(c.req)
}

// Good reports whether every request so far matched its script.
func (c *Checker) Good() bool { return c.good }

// Failure describes the first mismatch, empty while Good.
func (c *Checker) Failure() string { return c.failure }

// Reset clears captured state, returns to idle and sets the pass flag.
// The loaded script survives; segment consumption restarts.
func (c *Checker) Reset() {
	c.bus.ReleaseIO(sim.DriverSlave)
	c.bus.AssertAlert(sim.DriverSlave, false)
	c.good = true
	c.failure = ""
	c.seg = -1
	c.state = segIdle
	c.capBits, c.capCount = 0, 0
	c.captured = c.captured[:0]
	c.falls = 0
	c.cursor = 0
}

func (c *Checker) reject(reason string) {
	c.armed = false
	c.req, c.rsp = nil, nil
	c.fail(reason)
}

func (c *Checker) fail(reason string) {
	if c.good {
		c.failure = reason
	}
	c.good = false
	c.state = segFailed
	c.bus.ReleaseIO(sim.DriverSlave)
	observability.RecordScriptMismatch()
	c.cfg.Log.Warn().Str("reason", reason).Int("segment", c.seg).Msg("script check failed")
}

// ResetEdge implements sim.Listener.
func (c *Checker) ResetEdge(_ *sim.Bus, active bool) {
	if active {
		c.Reset()
	}
}

// ChipSelectEdge implements sim.Listener. Each falling edge (activation)
// consumes the next script segment.
func (c *Checker) ChipSelectEdge(b *sim.Bus, active bool) {
	if !active {
		b.ReleaseIO(sim.DriverSlave)
		if c.state == segRespond || c.state == segDone {
			c.state = segIdle
		}
		return
	}
	b.AssertAlert(sim.DriverSlave, false)
	if !c.armed {
		return
	}
	c.seg++
	if c.seg >= len(c.req) {
		c.fail("unscripted chip-select activation")
		return
	}
	c.state = segCapture
	c.capBits, c.capCount = 0, 0
	c.captured = c.captured[:0]
	c.falls = 0
	c.cursor = 0
	if len(c.req[c.seg]) == 0 {
		c.finishCapture()
	}
}

// ClockEdge implements sim.Listener. Rising edges sample the request;
// falling edges pace the turnaround window and drive the response.
func (c *Checker) ClockEdge(b *sim.Bus, rising bool) {
	if !b.ChipSelectActive() || !c.armed {
		return
	}
	if rising {
		if c.state == segCapture {
			c.captureGroup(b)
		}
		return
	}
	switch c.state {
	case segTurnaround:
		c.falls++
		if c.falls == 3 {
			c.state = segRespond
			c.driveGroup(b)
		}
	case segRespond:
		c.driveGroup(b)
	}
}

func (c *Checker) captureGroup(b *sim.Bus) {
	w := int(c.cfg.Width)
	bits := lane.SampleGroup(b, lane.Lines(c.cfg.Width, lane.MasterToSlave))
	c.capBits = c.capBits<<w | bits
	c.capCount += w
	if c.capCount < 4 {
		return
	}
	c.captured = append(c.captured, script.HexDigit(c.capBits))
	c.capBits, c.capCount = 0, 0
	if len(c.captured) == len(c.req[c.seg]) {
		c.finishCapture()
	}
}

func (c *Checker) finishCapture() {
	got := string(c.captured)
	want := c.req[c.seg]
	if got != want {
		c.fail(fmt.Sprintf("segment %d request mismatch: got %s want %s", c.seg, got, want))
		return
	}
	c.cfg.Log.Debug().Int("segment", c.seg).Str("request", got).Msg("request matched")
	c.state = segTurnaround
	c.falls = 0
}

func (c *Checker) driveGroup(b *sim.Bus) {
	seg := c.rsp[c.seg]
	total := len(seg) * 4
	if c.cursor >= total {
		c.finishResponse(b)
		return
	}
	w := int(c.cfg.Width)
	var bits byte
	for i := 0; i < w; i++ {
		n := script.NibbleValue(seg[c.cursor/4])
		bits = bits<<1 | n>>(3-c.cursor%4)&1
		c.cursor++
	}
	lane.DriveGroup(b, sim.DriverSlave, lane.Lines(c.cfg.Width, lane.SlaveToMaster), bits)
}

func (c *Checker) finishResponse(b *sim.Bus) {
	b.ReleaseIO(sim.DriverSlave)
	c.state = segDone
	if c.cfg.AlertBetweenSegments && c.seg+1 < len(c.req) {
		b.AssertAlert(sim.DriverSlave, true)
		c.cfg.Log.Debug().Int("segment", c.seg).Msg("alert armed for next segment")
	}
}
