package sim

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingListener struct {
	clockEdges []bool
	csEdges    []bool
	resetEdges []bool
}

func (r *recordingListener) ClockEdge(_ *Bus, rising bool)      { r.clockEdges = append(r.clockEdges, rising) }
func (r *recordingListener) ChipSelectEdge(_ *Bus, active bool) { r.csEdges = append(r.csEdges, active) }
func (r *recordingListener) ResetEdge(_ *Bus, active bool)      { r.resetEdges = append(r.resetEdges, active) }

func newTestBus() *Bus {
	return New(Config{HalfPeriod: 50 * time.Nanosecond, Log: zerolog.Nop()})
}

func TestBusIdleDefaults(t *testing.T) {
	b := newTestBus()
	if b.Clock() != Low {
		t.Fatalf("clock should idle low, got %s", b.Clock())
	}
	if b.ChipSelectActive() || b.ResetActive() || b.AlertAsserted() {
		t.Fatal("control lines should be released at init")
	}
	for i := 0; i < DataLines; i++ {
		if b.SampleIO(i) != High {
			t.Fatalf("released line %d should read high", i)
		}
	}
}

func TestBusTimelineAdvancesPerEdge(t *testing.T) {
	b := newTestBus()
	b.ClockHigh()
	b.ClockLow()
	if b.Now() != 100*time.Nanosecond {
		t.Fatalf("Now=%v want 100ns", b.Now())
	}
}

func TestBusListenerSeesEdgesInOrder(t *testing.T) {
	b := newTestBus()
	var r recordingListener
	b.Register(&r)

	b.SetChipSelect(true)
	b.ClockHigh()
	b.ClockLow()
	b.SetChipSelect(false)
	b.SetChipSelect(false) // no change, no edge

	if len(r.csEdges) != 2 || !r.csEdges[0] || r.csEdges[1] {
		t.Fatalf("cs edges = %v", r.csEdges)
	}
	if len(r.clockEdges) != 2 || !r.clockEdges[0] || r.clockEdges[1] {
		t.Fatalf("clock edges = %v", r.clockEdges)
	}
}

func TestBusDriveAndRelease(t *testing.T) {
	b := newTestBus()
	b.DriveIO(DriverSlave, 1, Low)
	if b.SampleIO(1) != Low {
		t.Fatal("driven low line should sample low")
	}
	b.ReleaseIO(DriverSlave)
	if b.SampleIO(1) != High {
		t.Fatal("released line should sample high again")
	}
}

func TestBusContentionCounted(t *testing.T) {
	b := newTestBus()
	b.DriveIO(DriverMaster, 0, Low)
	b.DriveIO(DriverSlave, 0, High)
	_ = b.SampleIO(0)
	if b.Contentions() != 1 {
		t.Fatalf("contentions=%d want 1", b.Contentions())
	}
	b.ReleaseIO(DriverSlave)
	if b.SampleIO(0) != Low {
		t.Fatal("single-driver sample should win after release")
	}
	if b.Contentions() != 1 {
		t.Fatal("clean sample must not count")
	}
}

func TestBusAlertIsOpenDrain(t *testing.T) {
	b := newTestBus()
	b.AssertAlert(DriverSlave, true)
	if !b.AlertAsserted() {
		t.Fatal("alert should assert")
	}
	b.AssertAlert(DriverMaster, false)
	if !b.AlertAsserted() {
		t.Fatal("other side releasing must not clear a pulled line")
	}
	b.AssertAlert(DriverSlave, false)
	if b.AlertAsserted() {
		t.Fatal("alert should release")
	}
}
