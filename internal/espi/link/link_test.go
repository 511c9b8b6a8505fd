package link

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/espilink/internal/espi/crc8"
	"github.com/danmuck/espilink/internal/espi/frame"
	"github.com/danmuck/espilink/internal/espi/lane"
	"github.com/danmuck/espilink/internal/espi/slave"
	"github.com/danmuck/espilink/internal/sim"
	"github.com/danmuck/espilink/internal/testutil/testlog"
)

func newFixture(t *testing.T, cfg Config) (*sim.Bus, *slave.Checker, *Link) {
	t.Helper()
	testlog.Start(t)
	b := sim.New(sim.Config{HalfPeriod: cfg.HalfPeriod, Log: zerolog.Nop()})
	c := slave.New(b, slave.Config{Width: cfg.Width, AlertBetweenSegments: true, Log: zerolog.Nop()})
	l, err := New(b, cfg)
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	return b, c, l
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HalfPeriod = 50 * time.Nanosecond
	cfg.Verbosity = 0
	cfg.Log = zerolog.Nop()
	return cfg
}

// cmdHex renders the wire frame of a command as a script segment.
func cmdHex(t *testing.T, c frame.Command) string {
	t.Helper()
	raw, err := frame.Encode(c)
	if err != nil {
		t.Fatalf("Encode err=%v", err)
	}
	return strings.ToUpper(hex.EncodeToString(raw))
}

// respHex renders a response body (code..status) with its CRC appended.
func respHex(body ...byte) string {
	full := append(append([]byte{}, body...), crc8.Checksum(body))
	return strings.ToUpper(hex.EncodeToString(full))
}

func load(t *testing.T, c *slave.Checker, req, rsp string) {
	t.Helper()
	if err := c.Load(req, rsp); err != nil {
		t.Fatalf("Load err=%v", err)
	}
}

func TestIOWriteEndToEnd(t *testing.T) {
	_, c, l := newFixture(t, testConfig())
	// Exact §-level wire bytes: 44 00 80 47 A7 out, wait-prefixed
	// ACCEPT with status 0x034F back.
	load(t, c, "44008047A7", "0F0F0F084F03C0")

	res, err := l.IOWrite(0x0080, []byte{0x47})
	if err != nil {
		t.Fatalf("IOWrite err=%v", err)
	}
	if res.Code != frame.RespAccept {
		t.Fatalf("code=%s want ACCEPT", res.Code)
	}
	if res.Status != 0x034F {
		t.Fatalf("status=%#04x want 0x034f", uint16(res.Status))
	}
	if !c.Good() {
		t.Fatalf("checker rejected the wire bytes: %s", c.Failure())
	}
}

func TestMemRead32EndToEnd(t *testing.T) {
	_, c, l := newFixture(t, testConfig())
	req := cmdHex(t, frame.Command{Kind: frame.KindMemRead32, Addr: 0x00000080, Length: 1})
	load(t, c, req, respHex(0x08, 0x01, 0x4F, 0x03))

	data, res, err := l.MemRead32(0x00000080, 1)
	if err != nil {
		t.Fatalf("MemRead32 err=%v", err)
	}
	if !bytes.Equal(data, []byte{0x01}) {
		t.Fatalf("data=% X want 01", data)
	}
	if !res.Code.Accepted() || !c.Good() {
		t.Fatalf("code=%s good=%v", res.Code, c.Good())
	}
}

func TestCorruptedResponseIsChecksumError(t *testing.T) {
	_, c, l := newFixture(t, testConfig())
	req := cmdHex(t, frame.Command{Kind: frame.KindMemRead32, Addr: 0x00000080, Length: 1})
	// One response byte corrupted: data 0x01 -> 0x03, CRC stale.
	load(t, c, req, "08034F034A")

	data, _, err := l.MemRead32(0x00000080, 1)
	if !errors.Is(err, frame.ErrChecksum) {
		t.Fatalf("err=%v want checksum error", err)
	}
	if data != nil {
		t.Fatalf("failed read must not return data, got % X", data)
	}
}

func TestIOReadEndToEnd(t *testing.T) {
	_, c, l := newFixture(t, testConfig())
	req := cmdHex(t, frame.Command{Kind: frame.KindIORead, Addr: 0x0080, Length: 1})
	load(t, c, req, respHex(0x08, 0x55, 0x4F, 0x03))

	data, _, err := l.IORead(0x0080, 1)
	if err != nil || !bytes.Equal(data, []byte{0x55}) {
		t.Fatalf("IORead=% X err=%v", data, err)
	}
}

func TestGetStatus(t *testing.T) {
	_, c, l := newFixture(t, testConfig())
	load(t, c, cmdHex(t, frame.Command{Kind: frame.KindGetStatus}), respHex(0x08, 0x4F, 0x03))

	st, err := l.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus err=%v", err)
	}
	if st != 0x034F || st&frame.StatusPCFree == 0 {
		t.Fatalf("status=%#04x", uint16(st))
	}
}

func TestGetAndSetConfiguration(t *testing.T) {
	_, c, l := newFixture(t, testConfig())
	req := cmdHex(t, frame.Command{Kind: frame.KindGetConfiguration, Addr: 0x0008}) + "\n" +
		cmdHex(t, frame.Command{Kind: frame.KindSetConfiguration, Addr: 0x0008, Value: 0xDEADBEEF})
	rsp := respHex(0x08, 0xEF, 0xBE, 0xAD, 0xDE, 0x4F, 0x03) + "\n" + respHex(0x08, 0x4F, 0x03)
	load(t, c, req, rsp)

	v, _, err := l.GetConfiguration(0x0008)
	if err != nil {
		t.Fatalf("GetConfiguration err=%v", err)
	}
	if v != 0xDEADBEEF {
		t.Fatalf("value=%#08x want 0xdeadbeef", v)
	}
	if _, err := l.SetConfiguration(0x0008, 0xDEADBEEF); err != nil {
		t.Fatalf("SetConfiguration err=%v", err)
	}
	if !c.Good() {
		t.Fatalf("checker: %s", c.Failure())
	}
}

func TestVirtualWires(t *testing.T) {
	_, c, l := newFixture(t, testConfig())
	wires := []frame.VWire{{Index: 0x04, Data: 0x99}}
	req := cmdHex(t, frame.Command{Kind: frame.KindPutVWire, VWires: wires}) + "\n" +
		cmdHex(t, frame.Command{Kind: frame.KindGetVWire})
	rsp := respHex(0x08, 0x4F, 0x03) + "\n" + respHex(0x08, 0x01, 0x04, 0x99, 0x4F, 0x03)
	load(t, c, req, rsp)

	if _, err := l.PutVWire(wires); err != nil {
		t.Fatalf("PutVWire err=%v", err)
	}
	got, _, err := l.GetVWire()
	if err != nil {
		t.Fatalf("GetVWire err=%v", err)
	}
	if len(got) != 1 || got[0] != wires[0] {
		t.Fatalf("wires=%+v", got)
	}
	if !c.Good() {
		t.Fatalf("checker: %s", c.Failure())
	}
}

func TestPutVWireRejectsOverflowBeforeWire(t *testing.T) {
	b, _, l := newFixture(t, testConfig())
	before := b.Now()
	if _, err := l.PutVWire(make([]frame.VWire, 65)); !errors.Is(err, frame.ErrTooManyVWires) {
		t.Fatalf("err=%v want too many vwires", err)
	}
	if b.Now() != before {
		t.Fatal("rejected command must not touch the bus")
	}
}

func TestDeferThenContinuation(t *testing.T) {
	b, c, l := newFixture(t, testConfig())
	req := cmdHex(t, frame.Command{Kind: frame.KindMemRead32, Addr: 0x00000080, Length: 1}) + "\n" +
		cmdHex(t, frame.Command{Kind: frame.KindGetPC})
	rsp := respHex(0x01, 0x4F, 0x03) + "\n" + respHex(0x08, 0x47, 0x4F, 0x03)
	load(t, c, req, rsp)

	data, res, err := l.MemRead32(0x00000080, 1)
	if err != nil {
		t.Fatalf("deferred MemRead32 err=%v", err)
	}
	if !bytes.Equal(data, []byte{0x47}) {
		t.Fatalf("data=% X want 47", data)
	}
	if res.Code != frame.RespAccept {
		t.Fatalf("code=%s", res.Code)
	}
	if !c.Good() {
		t.Fatalf("checker: %s", c.Failure())
	}
	if b.AlertAsserted() {
		t.Fatal("alert should have released on the continuation activation")
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.RetryLimit = 1
	_, c, l := newFixture(t, cfg)
	req := cmdHex(t, frame.Command{Kind: frame.KindMemRead32, Addr: 0x00000080, Length: 1}) + "\n" +
		cmdHex(t, frame.Command{Kind: frame.KindGetPC})
	rsp := respHex(0x01, 0x4F, 0x03) + "\n" + respHex(0x01, 0x4F, 0x03)
	load(t, c, req, rsp)

	_, _, err := l.MemRead32(0x00000080, 1)
	if !errors.Is(err, ErrRetryBudget) {
		t.Fatalf("err=%v want retry budget exhausted", err)
	}
}

func TestWaitStateExhaustionReissues(t *testing.T) {
	cfg := testConfig()
	cfg.WaitLimit = 2
	_, c, l := newFixture(t, cfg)
	getStatus := cmdHex(t, frame.Command{Kind: frame.KindGetStatus})
	// First activation never leaves WAIT_STATE; the reissue succeeds.
	load(t, c, getStatus+"\n"+getStatus, "0F0F0F\n"+respHex(0x08, 0x4F, 0x03))

	st, err := l.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus err=%v", err)
	}
	if st != 0x034F || !c.Good() {
		t.Fatalf("status=%#04x good=%v (%s)", uint16(st), c.Good(), c.Failure())
	}
}

func TestNoResponseFailsImmediately(t *testing.T) {
	_, c, l := newFixture(t, testConfig())
	// Response segment is empty: the slave never drives, the master
	// samples all-ones off the pull-ups.
	load(t, c, cmdHex(t, frame.Command{Kind: frame.KindGetStatus})+"\n", "\n")

	_, err := l.GetStatus()
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("err=%v want no response", err)
	}
}

func TestErrorResponsesFailTransaction(t *testing.T) {
	cases := []struct {
		code byte
		want error
	}{
		{0x03, ErrFatalResponse},
		{0x02, ErrNonFatalResponse},
	}
	for _, tc := range cases {
		_, c, l := newFixture(t, testConfig())
		load(t, c, cmdHex(t, frame.Command{Kind: frame.KindGetStatus}), respHex(tc.code, 0x4F, 0x03))
		if _, err := l.GetStatus(); !errors.Is(err, tc.want) {
			t.Fatalf("code %#02x: err=%v want %v", tc.code, err, tc.want)
		}
	}
}

func TestQuadLaneEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Width = lane.Quad
	_, c, l := newFixture(t, cfg)
	load(t, c, "44008047A7", respHex(0x08, 0x4F, 0x03))

	if _, err := l.IOWrite(0x0080, []byte{0x47}); err != nil {
		t.Fatalf("quad IOWrite err=%v", err)
	}
	if !c.Good() {
		t.Fatalf("checker: %s", c.Failure())
	}
}

func TestResetIsIdempotent(t *testing.T) {
	_, c, l := newFixture(t, testConfig())
	load(t, c, "FF\nFF", "\n\n")

	if err := l.SetWidth(lane.Quad); err != nil {
		t.Fatalf("SetWidth err=%v", err)
	}
	if err := l.Reset(); err != nil {
		t.Fatalf("Reset err=%v", err)
	}
	first := l.Config()
	if err := l.Reset(); err != nil {
		t.Fatalf("second Reset err=%v", err)
	}
	second := l.Config()

	def := DefaultConfig()
	for name, got := range map[string]Config{"first": first, "second": second} {
		if got.Width != def.Width || got.RetryLimit != def.RetryLimit || got.WaitLimit != def.WaitLimit {
			t.Fatalf("%s reset: handle=%+v not at defaults", name, got)
		}
	}
	if !c.Good() {
		t.Fatalf("checker: %s", c.Failure())
	}
}

func TestDumpConfiguration(t *testing.T) {
	_, c, l := newFixture(t, testConfig())
	var reqs, rsps []string
	for _, reg := range frame.StandardRegisters {
		reqs = append(reqs, cmdHex(t, frame.Command{Kind: frame.KindGetConfiguration, Addr: uint32(reg)}))
		rsps = append(rsps, respHex(0x08, byte(reg), 0x00, 0x00, 0x00, 0x4F, 0x03))
	}
	load(t, c, strings.Join(reqs, "\n"), strings.Join(rsps, "\n"))

	report, err := l.DumpConfiguration()
	if err != nil {
		t.Fatalf("DumpConfiguration err=%v", err)
	}
	if !strings.Contains(report, "reg 0x0008: 0x00000008") {
		t.Fatalf("report missing register line:\n%s", report)
	}
	if !c.Good() {
		t.Fatalf("checker: %s", c.Failure())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	b := sim.New(sim.Config{HalfPeriod: 50 * time.Nanosecond, Log: zerolog.Nop()})
	cfg := testConfig()
	cfg.HalfPeriod = 0
	if _, err := New(b, cfg); !errors.Is(err, ErrBadHalfPeriod) {
		t.Fatalf("err=%v want bad half period", err)
	}
	cfg = testConfig()
	cfg.WaitLimit = 0
	if _, err := New(b, cfg); !errors.Is(err, ErrBadWaitLimit) {
		t.Fatalf("err=%v want bad wait limit", err)
	}
}
