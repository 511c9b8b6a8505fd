// Package link implements the master-side transaction engine: it
// sequences each command through the codec and the lane transceiver,
// inserts the turnaround window, interprets the response status and
// applies the retry policy. One command's wire transfer completes in
// full before the next begins; transactions are never pipelined.
package link

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danmuck/espilink/internal/espi/frame"
	"github.com/danmuck/espilink/internal/espi/lane"
	"github.com/danmuck/espilink/internal/observability"
	"github.com/danmuck/espilink/internal/sim"
)

var (
	ErrNoResponse         = errors.New("link: no response from subordinate")
	ErrFatalResponse      = errors.New("link: fatal error response")
	ErrNonFatalResponse   = errors.New("link: non-fatal error response")
	ErrUnexpectedResponse = errors.New("link: unexpected response code")
	ErrRetryBudget        = errors.New("link: retry budget exhausted")
)

// Result carries the decoded acknowledge of a completed exchange for
// diagnostics, whether or not the transaction succeeded.
type Result struct {
	Code   frame.ResponseCode
	Status frame.Status
}

// Link is the master session handle. It owns the bus clocking and the
// chip-select line; configuration state mutates only through New,
// SetWidth and Reset.
type Link struct {
	bus *sim.Bus
	tx  *lane.Transceiver
	cfg Config
	log zerolog.Logger
}

// New validates cfg, builds the handle and performs the Exit G3
// handshake: lines to idle defaults, reset asserted then released.
func New(bus *sim.Bus, cfg Config) (*Link, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tx, err := lane.NewTransceiver(bus, sim.DriverMaster, cfg.Width)
	if err != nil {
		return nil, err
	}
	l := &Link{
		bus: bus,
		tx:  tx,
		cfg: cfg,
		log: cfg.Log.Level(cfg.level()),
	}
	l.exitG3()
	return l, nil
}

func (l *Link) exitG3() {
	l.bus.ReleaseIO(sim.DriverMaster)
	l.bus.SetChipSelect(false)
	l.bus.SetReset(true)
	l.bus.SetReset(false)
	l.log.Info().Stringer("width", l.cfg.Width).Dur("half_period", l.cfg.HalfPeriod).Msg("link out of G3")
}

// Config returns a copy of the live handle state.
func (l *Link) Config() Config { return l.cfg }

// SetWidth switches the active lane width. Both sides must agree out of
// band (via SET_CONFIGURATION against the peripheral) before calling.
func (l *Link) SetWidth(w lane.Width) error {
	if err := l.tx.SetWidth(w); err != nil {
		return err
	}
	l.cfg.Width = w
	l.log.Info().Stringer("width", w).Msg("lane width changed")
	return nil
}

// IORead issues a short IO read of n bytes (1, 2 or 4).
func (l *Link) IORead(addr uint16, n int) ([]byte, Result, error) {
	resp, err := l.transact(frame.Command{Kind: frame.KindIORead, Addr: uint32(addr), Length: n}, n)
	return resp.Data, result(resp), err
}

// IOWrite issues a short IO write of 1, 2 or 4 bytes.
func (l *Link) IOWrite(addr uint16, data []byte) (Result, error) {
	resp, err := l.transact(frame.Command{Kind: frame.KindIOWrite, Addr: uint32(addr), Data: data}, 0)
	return result(resp), err
}

// MemRead32 issues a short 32-bit-addressed memory read of n bytes.
func (l *Link) MemRead32(addr uint32, n int) ([]byte, Result, error) {
	resp, err := l.transact(frame.Command{Kind: frame.KindMemRead32, Addr: addr, Length: n}, n)
	return resp.Data, result(resp), err
}

// MemWrite32 issues a short 32-bit-addressed memory write.
func (l *Link) MemWrite32(addr uint32, data []byte) (Result, error) {
	resp, err := l.transact(frame.Command{Kind: frame.KindMemWrite32, Addr: addr, Data: data}, 0)
	return result(resp), err
}

// GetConfiguration reads the 32-bit configuration register at addr.
func (l *Link) GetConfiguration(addr uint16) (uint32, Result, error) {
	resp, err := l.transact(frame.Command{Kind: frame.KindGetConfiguration, Addr: uint32(addr)}, 4)
	if err != nil {
		return 0, result(resp), err
	}
	v := uint32(resp.Data[0]) | uint32(resp.Data[1])<<8 | uint32(resp.Data[2])<<16 | uint32(resp.Data[3])<<24
	return v, result(resp), nil
}

// SetConfiguration writes the 32-bit configuration register at addr.
func (l *Link) SetConfiguration(addr uint16, value uint32) (Result, error) {
	resp, err := l.transact(frame.Command{Kind: frame.KindSetConfiguration, Addr: uint32(addr), Value: value}, 0)
	return result(resp), err
}

// GetStatus fetches the peripheral status register.
func (l *Link) GetStatus() (frame.Status, error) {
	resp, err := l.transact(frame.Command{Kind: frame.KindGetStatus}, 0)
	return resp.Status, err
}

// PutVWire tunnels up to 64 virtual-wire pairs in one transaction.
func (l *Link) PutVWire(wires []frame.VWire) (Result, error) {
	resp, err := l.transact(frame.Command{Kind: frame.KindPutVWire, VWires: wires}, 0)
	return result(resp), err
}

// GetVWire collects pending virtual-wire pairs from the peripheral.
func (l *Link) GetVWire() ([]frame.VWire, Result, error) {
	resp, err := l.transact(frame.Command{Kind: frame.KindGetVWire}, dataLenVWire)
	if err != nil {
		return nil, result(resp), err
	}
	wires, err := frame.ParseVWires(resp.Data)
	if err != nil {
		return nil, result(resp), err
	}
	return wires, result(resp), nil
}

// Reset issues the in-band reset: the bare opcode, no CRC, no response
// awaited, after which the handle returns to its power-on defaults.
// Running it twice leaves the handle exactly as a single init would.
func (l *Link) Reset() error {
	raw, err := frame.Encode(frame.Command{Kind: frame.KindReset})
	if err != nil {
		return err
	}
	l.bus.SetChipSelect(true)
	l.tx.Transmit(raw)
	l.bus.SetChipSelect(false)

	def := DefaultConfig()
	l.cfg.Width = def.Width
	l.cfg.RetryLimit = def.RetryLimit
	l.cfg.WaitLimit = def.WaitLimit
	if err := l.tx.SetWidth(def.Width); err != nil {
		return err
	}
	l.log.Info().Msg("in-band reset issued, handle back to defaults")
	return nil
}

// DumpConfiguration reads every standard configuration register and
// formats a diagnostic report. Registers that fail to read are noted in
// the report and joined into the returned error.
func (l *Link) DumpConfiguration() (string, error) {
	var sb strings.Builder
	var errs []error
	for _, reg := range frame.StandardRegisters {
		v, res, err := l.GetConfiguration(reg)
		if err != nil {
			fmt.Fprintf(&sb, "reg 0x%04X: <%s: %v>\n", reg, res.Code, err)
			errs = append(errs, fmt.Errorf("reg 0x%04x: %w", reg, err))
			continue
		}
		fmt.Fprintf(&sb, "reg 0x%04X: 0x%08X status=%s\n", reg, v, res.Status)
	}
	return sb.String(), errors.Join(errs...)
}

func result(resp frame.Response) Result {
	return Result{Code: resp.Code, Status: resp.Status}
}

// dataLenVWire marks a variable-length GET_VWIRE response whose size is
// discovered from the count byte during capture.
const dataLenVWire = -1

// transact runs one command to completion, applying the retry policy:
// a DEFER hands the exchange over to a GET_PC continuation on a fresh
// chip-select activation, an exhausted WAIT_STATE response reissues the
// original command, and both paths share the configured retry budget.
func (l *Link) transact(cmd frame.Command, dataLen int) (resp frame.Response, err error) {
	raw, err := frame.Encode(cmd)
	if err != nil {
		return frame.Response{}, err
	}
	op := cmd.Kind.String()
	start := l.bus.Now()
	defer func() {
		cycles := float64(l.bus.Now()-start) / float64(2*l.cfg.HalfPeriod)
		observability.RecordTransaction(op, outcomeLabel(err), cycles)
	}()

	attempts := 0
	for {
		resp, err = l.exchange(raw, dataLen)
		switch {
		case err != nil:
			if errors.Is(err, frame.ErrChecksum) {
				observability.RecordCRCError()
			}
			l.logOutcome(op, resp, err)
			return resp, err

		case resp.Code.Accepted():
			l.logOutcome(op, resp, nil)
			return resp, nil

		case resp.Code == frame.RespDefer:
			attempts++
			if attempts > l.cfg.RetryLimit {
				l.logOutcome(op, resp, ErrRetryBudget)
				return resp, ErrRetryBudget
			}
			observability.RecordRetry(op, "defer")
			l.log.Debug().Str("op", op).Bool("alert", l.bus.AlertAsserted()).
				Int("attempt", attempts).Msg("deferred, issuing continuation")
			cont, cerr := frame.Encode(frame.Command{Kind: frame.KindGetPC})
			if cerr != nil {
				return resp, cerr
			}
			raw = cont

		case resp.Code == frame.RespWaitState:
			attempts++
			if attempts > l.cfg.RetryLimit {
				l.logOutcome(op, resp, ErrRetryBudget)
				return resp, ErrRetryBudget
			}
			observability.RecordRetry(op, "wait_state")
			l.log.Debug().Str("op", op).Int("attempt", attempts).Msg("wait states exhausted, reissuing")

		case resp.Code == frame.RespNoResponse:
			l.logOutcome(op, resp, ErrNoResponse)
			return resp, ErrNoResponse

		case resp.Code == frame.RespFatalError:
			l.logOutcome(op, resp, ErrFatalResponse)
			return resp, ErrFatalResponse

		case resp.Code == frame.RespNonFatalError:
			l.logOutcome(op, resp, ErrNonFatalResponse)
			return resp, ErrNonFatalResponse

		default:
			l.logOutcome(op, resp, ErrUnexpectedResponse)
			return resp, ErrUnexpectedResponse
		}
	}
}

// exchange runs one chip-select activation: command phase, two-cycle
// turnaround, response capture. WAIT_STATE filler bytes ahead of the
// response code are skipped up to the configured bound; error-class
// codes carry no data section regardless of the command.
func (l *Link) exchange(raw []byte, dataLen int) (frame.Response, error) {
	l.bus.SetChipSelect(true)
	defer l.bus.SetChipSelect(false)

	l.log.Debug().Hex("frame", raw).Msg("command out")
	l.tx.Transmit(raw)

	// Turnaround: both sides tri-stated for exactly two clock cycles.
	l.tx.IdleCycle()
	l.tx.IdleCycle()

	code := l.tx.ReceiveByte()
	waits := 0
	for code == byte(frame.RespWaitState) {
		waits++
		if waits > l.cfg.WaitLimit {
			return frame.Response{Code: frame.RespWaitState}, nil
		}
		code = l.tx.ReceiveByte()
	}
	if code == byte(frame.RespNoResponse) {
		return frame.Response{Code: frame.RespNoResponse}, nil
	}

	parsed, err := frame.ParseResponseCode(code)
	if err != nil {
		return frame.Response{}, err
	}

	n := dataLen
	if n == dataLenVWire {
		n = 0
		if parsed.Accepted() {
			count := l.tx.ReceiveByte()
			rest := make([]byte, 0, 1+2*int(count)+3)
			rest = append(rest, code, count)
			for i := 0; i < 2*int(count)+3; i++ {
				rest = append(rest, l.tx.ReceiveByte())
			}
			return frame.DecodeResponse(rest, 1+2*int(count))
		}
	}
	if !parsed.Accepted() {
		n = 0
	}

	buf := make([]byte, 0, 1+n+3)
	buf = append(buf, code)
	for i := 0; i < n+3; i++ {
		buf = append(buf, l.tx.ReceiveByte())
	}
	return frame.DecodeResponse(buf, n)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, frame.ErrChecksum):
		return "crc_error"
	case errors.Is(err, ErrRetryBudget):
		return "retry_exhausted"
	case errors.Is(err, ErrNoResponse):
		return "no_response"
	case errors.Is(err, ErrFatalResponse), errors.Is(err, ErrNonFatalResponse):
		return "error_response"
	default:
		return "error"
	}
}

func (l *Link) logOutcome(op string, resp frame.Response, err error) {
	if err != nil {
		l.log.Error().Str("op", op).Stringer("code", resp.Code).Err(err).Msg("transaction failed")
		return
	}
	l.log.Info().Str("op", op).Stringer("code", resp.Code).
		Stringer("status", resp.Status).Msg("transaction ok")
}
