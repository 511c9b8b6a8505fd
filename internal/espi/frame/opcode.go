// Package frame encodes and decodes eSPI command and response frames.
// Layouts are byte-exact: opcode, addressing and length fields as the
// link defines them, with a trailing CRC-8 on every frame except the
// in-band reset.
package frame

// Opcode is the raw command opcode byte. Short IO/memory opcodes carry
// a length code in bits [1:0]; all others are fixed values.
type Opcode byte

const (
	OpcodePutPC      Opcode = 0x00
	OpcodeGetPC      Opcode = 0x01
	OpcodePutNP      Opcode = 0x02
	OpcodeGetNP      Opcode = 0x03
	OpcodePutVWire   Opcode = 0x04
	OpcodeGetVWire   Opcode = 0x05
	OpcodePutOOB     Opcode = 0x06
	OpcodeGetOOB     Opcode = 0x07
	OpcodePutFlashC  Opcode = 0x08
	OpcodeGetFlashNP Opcode = 0x09

	OpcodeGetConfiguration Opcode = 0x21
	OpcodeSetConfiguration Opcode = 0x22
	OpcodeGetStatus        Opcode = 0x25
	OpcodeReset            Opcode = 0xFF

	// Short command bases: bits [7:2] select the operation, bits [1:0]
	// the transfer length.
	opcodeIORead     Opcode = 0x40
	opcodeIOWrite    Opcode = 0x44
	opcodeMemRead32  Opcode = 0x48
	opcodeMemWrite32 Opcode = 0x4C

	shortMask Opcode = 0xFC
)

// Kind selects a frame layout.
type Kind uint8

const (
	KindIORead Kind = iota
	KindIOWrite
	KindMemRead32
	KindMemWrite32
	KindGetConfiguration
	KindSetConfiguration
	KindGetStatus
	KindPutVWire
	KindGetVWire
	KindGetPC
	KindGetNP
	KindReset
)

func (k Kind) String() string {
	switch k {
	case KindIORead:
		return "io_read"
	case KindIOWrite:
		return "io_write"
	case KindMemRead32:
		return "mem_read32"
	case KindMemWrite32:
		return "mem_write32"
	case KindGetConfiguration:
		return "get_configuration"
	case KindSetConfiguration:
		return "set_configuration"
	case KindGetStatus:
		return "get_status"
	case KindPutVWire:
		return "put_vwire"
	case KindGetVWire:
		return "get_vwire"
	case KindGetPC:
		return "get_pc"
	case KindGetNP:
		return "get_np"
	case KindReset:
		return "reset"
	default:
		return "unknown"
	}
}

// VWire is one virtual-wire (index, data) pair.
type VWire struct {
	Index byte
	Data  byte
}

// MaxVWires bounds the pair count of a single virtual-wire transaction.
const MaxVWires = 64

// lenCode maps a short-command transfer length to the 2-bit field in
// the opcode byte. 0b10 is reserved.
func lenCode(n int) (byte, error) {
	switch n {
	case 1:
		return 0b00, nil
	case 2:
		return 0b01, nil
	case 4:
		return 0b11, nil
	default:
		return 0, ErrBadLength
	}
}

func lenFromCode(c byte) (int, error) {
	switch c {
	case 0b00:
		return 1, nil
	case 0b01:
		return 2, nil
	case 0b11:
		return 4, nil
	default:
		return 0, ErrReservedLenCode
	}
}

// Standard configuration register addresses.
const (
	RegDeviceID uint16 = 0x04
	RegGeneral  uint16 = 0x08
	RegChannel0 uint16 = 0x10
	RegChannel1 uint16 = 0x20
	RegChannel2 uint16 = 0x30
	RegChannel3 uint16 = 0x40
)

// StandardRegisters lists the configuration registers the diagnostic
// dump walks, in address order.
var StandardRegisters = []uint16{
	RegDeviceID, RegGeneral, RegChannel0, RegChannel1, RegChannel2, RegChannel3,
}
