package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeed(t *testing.T) {
	assert.EqualValues(t, Seed, New())
}

func TestDeterministic(t *testing.T) {
	data := []byte{0x53, 0x65, 0x00, 0x08, 0x04, 0x60}
	a := New().Block(data)
	b := New().Block(data)
	assert.Equal(t, a, b)
}

func TestSingleMatchesBlock(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	viaBlock := New().Block(data)

	viaSingle := New()
	for _, b := range data {
		viaSingle = viaSingle.Single(b)
	}
	assert.Equal(t, viaBlock, viaSingle)
}

func TestSensitiveToEveryByte(t *testing.T) {
	base := New().Block([]byte{0x53, 0x65, 0x01})
	flipped := New().Block([]byte{0x53, 0x65, 0x02})
	assert.NotEqual(t, base, flipped)
}

func TestBytesLittleEndian(t *testing.T) {
	c := CRC16(0xABCD)
	b := c.Bytes()
	assert.Equal(t, [2]byte{0xCD, 0xAB}, b)
}
