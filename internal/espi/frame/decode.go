package frame

import (
	"github.com/danmuck/espilink/internal/espi/crc8"
)

// Decode parses a command frame back into its logical request, verifying
// the CRC. It is the inverse of Encode for every layout.
func Decode(raw []byte) (Command, error) {
	if len(raw) == 0 {
		return Command{}, ErrTruncated
	}
	if raw[0] == byte(OpcodeReset) {
		if len(raw) != 1 {
			return Command{}, ErrTruncated
		}
		return Command{Kind: KindReset}, nil
	}
	if len(raw) < 2 {
		return Command{}, ErrTruncated
	}
	body, sum := raw[:len(raw)-1], raw[len(raw)-1]
	if crc8.Checksum(body) != sum {
		return Command{}, ErrChecksum
	}

	op := Opcode(body[0])
	if op >= opcodeIORead && op < opcodeMemWrite32+4 {
		return decodeShort(op, body)
	}

	switch op {
	case OpcodeGetConfiguration:
		if len(body) != 3 {
			return Command{}, ErrTruncated
		}
		return Command{Kind: KindGetConfiguration, Addr: addr16(body[1:])}, nil

	case OpcodeSetConfiguration:
		if len(body) != 7 {
			return Command{}, ErrTruncated
		}
		v := uint32(body[3]) | uint32(body[4])<<8 | uint32(body[5])<<16 | uint32(body[6])<<24
		return Command{Kind: KindSetConfiguration, Addr: addr16(body[1:]), Value: v}, nil

	case OpcodeGetStatus:
		if len(body) != 1 {
			return Command{}, ErrTruncated
		}
		return Command{Kind: KindGetStatus}, nil

	case OpcodeGetPC:
		if len(body) != 1 {
			return Command{}, ErrTruncated
		}
		return Command{Kind: KindGetPC}, nil

	case OpcodeGetNP:
		if len(body) != 1 {
			return Command{}, ErrTruncated
		}
		return Command{Kind: KindGetNP}, nil

	case OpcodePutVWire:
		if len(body) < 2 {
			return Command{}, ErrTruncated
		}
		n := int(body[1])
		if n == 0 {
			return Command{}, ErrNoVWires
		}
		if n > MaxVWires {
			return Command{}, ErrTooManyVWires
		}
		if len(body) != 2+2*n {
			return Command{}, ErrTruncated
		}
		wires, err := ParseVWires(body[1:])
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindPutVWire, VWires: wires}, nil

	case OpcodeGetVWire:
		if len(body) != 1 {
			return Command{}, ErrTruncated
		}
		return Command{Kind: KindGetVWire}, nil

	default:
		return Command{}, ErrUnknownOpcode
	}
}

func decodeShort(op Opcode, body []byte) (Command, error) {
	n, err := lenFromCode(byte(op) & 0x03)
	if err != nil {
		return Command{}, err
	}
	switch op & shortMask {
	case opcodeIORead:
		if len(body) != 3 {
			return Command{}, ErrTruncated
		}
		return Command{Kind: KindIORead, Addr: addr16(body[1:]), Length: n}, nil
	case opcodeIOWrite:
		if len(body) != 3+n {
			return Command{}, ErrTruncated
		}
		return Command{Kind: KindIOWrite, Addr: addr16(body[1:]), Data: clone(body[3:])}, nil
	case opcodeMemRead32:
		if len(body) != 5 {
			return Command{}, ErrTruncated
		}
		return Command{Kind: KindMemRead32, Addr: addr32(body[1:]), Length: n}, nil
	case opcodeMemWrite32:
		if len(body) != 5+n {
			return Command{}, ErrTruncated
		}
		return Command{Kind: KindMemWrite32, Addr: addr32(body[1:]), Data: clone(body[5:])}, nil
	default:
		return Command{}, ErrUnknownOpcode
	}
}

// Response is a decoded slave response: the acknowledge code, any data
// bytes, and the peripheral status register echoed on every frame.
type Response struct {
	Code   ResponseCode
	Data   []byte
	Status Status
}

// DecodeResponse parses raw starting at the response-code byte; raw must
// hold exactly code + dataLen data bytes + 2 status bytes + CRC. The CRC
// covers everything before it (WAIT_STATE prefix bytes, stripped by the
// transaction engine, are not part of the frame).
func DecodeResponse(raw []byte, dataLen int) (Response, error) {
	want := 1 + dataLen + 2 + 1
	if len(raw) != want {
		return Response{}, ErrTruncated
	}
	body, sum := raw[:want-1], raw[want-1]
	if crc8.Checksum(body) != sum {
		return Response{}, ErrChecksum
	}
	code, err := ParseResponseCode(body[0])
	if err != nil {
		return Response{}, err
	}
	st := Status(body[1+dataLen]) | Status(body[2+dataLen])<<8
	return Response{Code: code, Data: clone(body[1 : 1+dataLen]), Status: st}, nil
}

// ParseVWires unpacks a count-prefixed run of (index, data) pairs.
func ParseVWires(b []byte) ([]VWire, error) {
	if len(b) == 0 {
		return nil, ErrTruncated
	}
	n := int(b[0])
	if n > MaxVWires {
		return nil, ErrTooManyVWires
	}
	if len(b) != 1+2*n {
		return nil, ErrTruncated
	}
	wires := make([]VWire, n)
	for i := range wires {
		wires[i] = VWire{Index: b[1+2*i], Data: b[2+2*i]}
	}
	return wires, nil
}

func addr16(b []byte) uint32 {
	return uint32(b[0])<<8 | uint32(b[1])
}

func addr32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
