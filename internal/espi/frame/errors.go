package frame

import "errors"

var (
	ErrChecksum        = errors.New("frame: checksum mismatch")
	ErrTruncated       = errors.New("frame: truncated frame")
	ErrBadLength       = errors.New("frame: transfer length must be 1, 2 or 4")
	ErrReservedLenCode = errors.New("frame: reserved length code")
	ErrUnknownOpcode   = errors.New("frame: unknown opcode")
	ErrUnknownResponse = errors.New("frame: unknown response code")
	ErrNoVWires        = errors.New("frame: virtual-wire frame needs at least one pair")
	ErrTooManyVWires   = errors.New("frame: more than 64 virtual-wire pairs")
)
