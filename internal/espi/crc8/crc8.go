// Package crc8 implements the frame checksum used on the eSPI link:
// CRC-8 with polynomial 0x07, zero initial remainder, MSB-first,
// no reflection and no final xor. The checksum is appended as the
// last byte of every outbound frame and verified on every inbound
// frame whose encoding defines one.
package crc8

// Poly is the generator polynomial (x^8 + x^2 + x + 1, top bit implicit).
const Poly = 0x07

var table = makeTable(Poly)

func makeTable(poly byte) *[256]byte {
	var t [256]byte
	for i := range t {
		r := byte(i)
		for bit := 0; bit < 8; bit++ {
			if r&0x80 != 0 {
				r = r<<1 ^ poly
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return &t
}

// Update adds the bytes of p to the running remainder r.
func Update(r byte, p []byte) byte {
	for _, b := range p {
		r = table[r^b]
	}
	return r
}

// Checksum returns the CRC-8 remainder of p.
func Checksum(p []byte) byte {
	return Update(0, p)
}
