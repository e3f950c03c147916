// Package crc implements the CRC-16 variant OSDP frames use when the
// control byte's CRC bit is set: polynomial 0x1021, seed 0x1D0F, no
// input/output reflection (spec.md §3 "Frame").
package crc

// CRC16 is an in-progress CRC-16/CCITT-style checksum. The zero value is
// not a valid starting state for OSDP; use New() to get the seeded value.
type CRC16 uint16

// Seed is the initial CRC register value mandated by the OSDP wire format.
const Seed CRC16 = 0x1D0F

const poly = 0x1021

// New returns a CRC16 seeded per the OSDP specification.
func New() CRC16 {
	return Seed
}

// Single folds one byte into the running CRC.
func (c CRC16) Single(b byte) CRC16 {
	crc := uint16(c)
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ poly
		} else {
			crc <<= 1
		}
	}
	return CRC16(crc)
}

// Block folds an entire byte slice into the running CRC.
func (c CRC16) Block(data []byte) CRC16 {
	for _, b := range data {
		c = c.Single(b)
	}
	return c
}

// Bytes returns the little-endian on-wire encoding of the CRC value.
func (c CRC16) Bytes() [2]byte {
	return [2]byte{byte(c), byte(c >> 8)}
}
