package frame

import "strings"

// ResponseCode is the decoded command-acknowledge field of a slave
// response. WAIT_STATE and NO_RESPONSE occupy the full byte; the
// remaining codes live in the low nibble, with bits [7:6] carrying a
// response modifier (01 marks the second phase of a split completion).
type ResponseCode byte

const (
	RespDefer         ResponseCode = 0x01
	RespNonFatalError ResponseCode = 0x02
	RespFatalError    ResponseCode = 0x03
	RespAccept        ResponseCode = 0x08
	RespAcceptSecond  ResponseCode = 0x48
	RespWaitState     ResponseCode = 0x0F
	RespNoResponse    ResponseCode = 0xFF
)

// ParseResponseCode classifies one raw response byte.
func ParseResponseCode(b byte) (ResponseCode, error) {
	switch b {
	case byte(RespNoResponse):
		return RespNoResponse, nil
	case byte(RespWaitState):
		return RespWaitState, nil
	}
	switch b & 0x0F {
	case byte(RespDefer):
		return RespDefer, nil
	case byte(RespNonFatalError):
		return RespNonFatalError, nil
	case byte(RespFatalError):
		return RespFatalError, nil
	case byte(RespAccept):
		if b>>6 == 0b01 {
			return RespAcceptSecond, nil
		}
		return RespAccept, nil
	default:
		return 0, ErrUnknownResponse
	}
}

// Accepted reports whether c terminates a transaction successfully.
func (c ResponseCode) Accepted() bool {
	return c == RespAccept || c == RespAcceptSecond
}

func (c ResponseCode) String() string {
	switch c {
	case RespDefer:
		return "DEFER"
	case RespNonFatalError:
		return "NON_FATAL_ERROR"
	case RespFatalError:
		return "FATAL_ERROR"
	case RespAccept:
		return "ACCEPT"
	case RespAcceptSecond:
		return "ACCEPT_SECOND"
	case RespWaitState:
		return "WAIT_STATE"
	case RespNoResponse:
		return "NO_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Status is the 16-bit peripheral status register, little-endian on the
// wire. It reflects channel readiness and drives GET/PUT retry decisions.
type Status uint16

const (
	StatusPCFree       Status = 1 << 0
	StatusNPFree       Status = 1 << 1
	StatusVWireFree    Status = 1 << 2
	StatusOOBFree      Status = 1 << 3
	StatusPCAvail      Status = 1 << 4
	StatusNPAvail      Status = 1 << 5
	StatusVWireAvail   Status = 1 << 6
	StatusOOBAvail     Status = 1 << 7
	StatusFlashCFree   Status = 1 << 8
	StatusFlashNPFree  Status = 1 << 9
	StatusFlashCAvail  Status = 1 << 12
	StatusFlashNPAvail Status = 1 << 13
)

var statusNames = []struct {
	bit  Status
	name string
}{
	{StatusPCFree, "PC_FREE"},
	{StatusNPFree, "NP_FREE"},
	{StatusVWireFree, "VWIRE_FREE"},
	{StatusOOBFree, "OOB_FREE"},
	{StatusPCAvail, "PC_AVAIL"},
	{StatusNPAvail, "NP_AVAIL"},
	{StatusVWireAvail, "VWIRE_AVAIL"},
	{StatusOOBAvail, "OOB_AVAIL"},
	{StatusFlashCFree, "FLASH_C_FREE"},
	{StatusFlashNPFree, "FLASH_NP_FREE"},
	{StatusFlashCAvail, "FLASH_C_AVAIL"},
	{StatusFlashNPAvail, "FLASH_NP_AVAIL"},
}

func (s Status) String() string {
	if s == 0 {
		return "<none>"
	}
	var parts []string
	for _, sn := range statusNames {
		if s&sn.bit != 0 {
			parts = append(parts, sn.name)
		}
	}
	return strings.Join(parts, "|")
}
