package frame

import (
	"github.com/danmuck/espilink/internal/espi/crc8"
)

// Command is one logical master request. Which fields are meaningful
// depends on Kind; Encode rejects malformed combinations before any
// wire activity.
type Command struct {
	Kind Kind

	// Addr is the target address: 16-bit for IO and configuration
	// commands, 32-bit for memory commands.
	Addr uint32

	// Length is the read size in bytes for IORead/MemRead32 (1, 2 or 4).
	Length int

	// Value is the register value for SetConfiguration.
	Value uint32

	// Data is the write payload for IOWrite/MemWrite32 (1, 2 or 4 bytes).
	Data []byte

	// VWires are the pairs of a PutVWire command, at most MaxVWires.
	VWires []VWire
}

// Encode builds the wire frame for c, CRC appended. The in-band reset
// is the single opcode byte with no CRC and no response.
func Encode(c Command) ([]byte, error) {
	var raw []byte
	switch c.Kind {
	case KindIORead:
		lc, err := lenCode(c.Length)
		if err != nil {
			return nil, err
		}
		raw = []byte{byte(opcodeIORead) | lc, byte(c.Addr >> 8), byte(c.Addr)}

	case KindIOWrite:
		lc, err := lenCode(len(c.Data))
		if err != nil {
			return nil, err
		}
		raw = append([]byte{byte(opcodeIOWrite) | lc, byte(c.Addr >> 8), byte(c.Addr)}, c.Data...)

	case KindMemRead32:
		lc, err := lenCode(c.Length)
		if err != nil {
			return nil, err
		}
		raw = []byte{byte(opcodeMemRead32) | lc,
			byte(c.Addr >> 24), byte(c.Addr >> 16), byte(c.Addr >> 8), byte(c.Addr)}

	case KindMemWrite32:
		lc, err := lenCode(len(c.Data))
		if err != nil {
			return nil, err
		}
		raw = append([]byte{byte(opcodeMemWrite32) | lc,
			byte(c.Addr >> 24), byte(c.Addr >> 16), byte(c.Addr >> 8), byte(c.Addr)}, c.Data...)

	case KindGetConfiguration:
		raw = []byte{byte(OpcodeGetConfiguration), byte(c.Addr >> 8), byte(c.Addr)}

	case KindSetConfiguration:
		raw = []byte{byte(OpcodeSetConfiguration), byte(c.Addr >> 8), byte(c.Addr),
			byte(c.Value), byte(c.Value >> 8), byte(c.Value >> 16), byte(c.Value >> 24)}

	case KindGetStatus:
		raw = []byte{byte(OpcodeGetStatus)}

	case KindGetPC:
		raw = []byte{byte(OpcodeGetPC)}

	case KindGetNP:
		raw = []byte{byte(OpcodeGetNP)}

	case KindPutVWire:
		if len(c.VWires) == 0 {
			return nil, ErrNoVWires
		}
		if len(c.VWires) > MaxVWires {
			return nil, ErrTooManyVWires
		}
		raw = make([]byte, 0, 2+2*len(c.VWires))
		raw = append(raw, byte(OpcodePutVWire), byte(len(c.VWires)))
		for _, w := range c.VWires {
			raw = append(raw, w.Index, w.Data)
		}

	case KindGetVWire:
		raw = []byte{byte(OpcodeGetVWire)}

	case KindReset:
		return []byte{byte(OpcodeReset)}, nil

	default:
		return nil, ErrUnknownOpcode
	}

	return append(raw, crc8.Checksum(raw)), nil
}
