// Package script tokenizes the ASCII-hex exchange scripts consumed by
// the slave checker. A script is a run of hex digits (one digit per
// wire nibble), case-insensitive on input; a linefeed separates
// chip-select segments and an optional NUL ends the script early, the
// way a fixed-size script buffer would.
package script

import (
	"errors"
	"fmt"
)

var ErrBadDigit = errors.New("script: invalid hex digit")

// Tokenizer is a restartable scanner yielding one segment per call.
// Scripts are bounded and loaded up front, so segments are returned as
// uppercase sub-copies without further allocation churn.
type Tokenizer struct {
	raw  string
	pos  int
	done bool
}

func NewTokenizer(raw string) *Tokenizer {
	return &Tokenizer{raw: raw}
}

// Next returns the next segment and false once the script is exhausted.
func (t *Tokenizer) Next() (string, bool, error) {
	if t.done || t.pos >= len(t.raw) {
		t.done = true
		return "", false, nil
	}
	buf := make([]byte, 0, 16)
	for t.pos < len(t.raw) {
		c := t.raw[t.pos]
		t.pos++
		switch {
		case c == 0x00:
			t.done = true
			return string(buf), true, nil
		case c == '\n':
			return string(buf), true, nil
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F':
			buf = append(buf, c)
		case c >= 'a' && c <= 'f':
			buf = append(buf, c-'a'+'A')
		default:
			return "", false, fmt.Errorf("%w: %q at offset %d", ErrBadDigit, c, t.pos-1)
		}
	}
	return string(buf), true, nil
}

// Split tokenizes the whole script into its segments.
func Split(raw string) ([]string, error) {
	tok := NewTokenizer(raw)
	var segs []string
	for {
		seg, ok, err := tok.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return segs, nil
		}
		segs = append(segs, seg)
	}
}

// NibbleValue converts one uppercase hex digit to its 4-bit value.
func NibbleValue(c byte) byte {
	if c >= 'A' {
		return c - 'A' + 10
	}
	return c - '0'
}

// HexDigit converts a 4-bit value to its uppercase hex digit.
func HexDigit(v byte) byte {
	return "0123456789ABCDEF"[v&0x0F]
}
