// Package frame implements the OSDP packet framer (spec.md §4.2): wire
// encode/decode, the checksum/CRC-16 integrity field, and the
// ring-buffer based decode state machine that tolerates partial reads.
// Grounded on the teacher's pkg/sdo message/state-machine style (fixed
// header layout, explicit state enum) generalized from CANopen's 8-byte
// CAN payload to OSDP's variable-length, multi-drop serial frame.
package frame

import (
	"encoding/binary"

	"github.com/go-osdp/osdp"
	"github.com/go-osdp/osdp/internal/crc"
	"github.com/go-osdp/osdp/internal/fifo"
)

// HeaderSize is SOM + Address + Length(LE16) + Control.
const HeaderSize = 5

// ControlByte packs sequence, CRC selection and secure-block presence
// (spec.md §3 "Frame"). The exact position of the broadcast/ack-request
// bits is not pinned down by a wire trace in this corpus; bit 4 is used
// here for "ACK requested" and bits 5-7 are reserved zero — see
// DESIGN.md Open Questions.
type ControlByte byte

func NewControlByte(seq uint8, useCRC bool, secure bool, ackRequest bool) ControlByte {
	var c byte
	c |= seq & 0x03
	if useCRC {
		c |= 0x04
	}
	if secure {
		c |= 0x08
	}
	if ackRequest {
		c |= 0x10
	}
	return ControlByte(c)
}

func (c ControlByte) Sequence() uint8       { return uint8(c) & 0x03 }
func (c ControlByte) UseCRC() bool          { return c&0x04 != 0 }
func (c ControlByte) SecurePresent() bool   { return c&0x08 != 0 }
func (c ControlByte) AckRequested() bool    { return c&0x10 != 0 }

// Frame is one decoded OSDP packet, with the integrity field already
// verified and stripped.
type Frame struct {
	Address osdp.Address
	Control ControlByte
	Data    []byte
}

func integrityLen(c ControlByte) int {
	if c.UseCRC() {
		return 2
	}
	return 1
}

// checksum is the 1-byte "sum-negate mod 256" integrity field: the sum
// of every byte in the frame, including the checksum byte itself, is 0
// mod 256.
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return byte(0x100 - int(sum))
}

// Encode builds the on-wire bytes for one frame. data is the payload
// that follows the control byte (secure block + command/event bytes, as
// applicable); it must already reflect the caller's SC encryption
// decisions, since the framer has no secure-channel awareness.
func Encode(addr osdp.Address, control ControlByte, data []byte) ([]byte, error) {
	total := HeaderSize + len(data) + integrityLen(control)
	if total > osdp.DefaultBufferSize {
		return nil, osdp.ErrBadLength
	}
	buf := make([]byte, HeaderSize, total)
	buf[0] = osdp.SOM
	buf[1] = addr
	binary.LittleEndian.PutUint16(buf[2:4], uint16(total))
	buf[4] = byte(control)
	buf = append(buf, data...)

	if control.UseCRC() {
		c := crc.New().Block(buf)
		b := c.Bytes()
		buf = append(buf, b[0], b[1])
	} else {
		buf = append(buf, checksum(buf))
	}
	return buf, nil
}

func verifyIntegrity(header, trailer []byte, useCRC bool) bool {
	if useCRC {
		want := crc.New().Block(header).Bytes()
		return trailer[0] == want[0] && trailer[1] == want[1]
	}
	full := append(append([]byte{}, header...), trailer...)
	var sum byte
	for _, b := range full {
		sum += b
	}
	return sum == 0
}

// Decoder consumes transport bytes and yields Frames, tolerating partial
// reads and resynchronizing after corruption, per spec.md §4.2 edge
// policies.
type Decoder struct {
	buf        *fifo.Fifo
	maxSize    int
	acceptAddr func(osdp.Address) bool
}

// NewDecoder creates a Decoder with the given ring-buffer capacity.
// accept, if non-nil, filters which non-broadcast addresses this side
// keeps (a PD filters by its own address on a multi-drop channel; a CP
// typically passes nil to accept any address since only the addressed
// PD replies in a half-duplex poll).
func NewDecoder(bufSize int, accept func(osdp.Address) bool) *Decoder {
	return &Decoder{buf: fifo.New(bufSize), maxSize: osdp.DefaultBufferSize, acceptAddr: accept}
}

// Feed appends newly read transport bytes to the decode buffer.
func (d *Decoder) Feed(data []byte) int {
	return d.buf.Write(data)
}

// Next returns the next decoded frame, or (nil, nil) if more bytes are
// needed, or (nil, err) once for a dropped frame worth logging (bad
// length or bad integrity) before resuming scanning. Address-mismatched
// frames are dropped silently, matching spec.md §4.2.
func (d *Decoder) Next() (*Frame, error) {
	for {
		var som [1]byte
		if d.buf.Peek(som[:], 0) == 0 {
			return nil, nil // nothing buffered
		}
		if som[0] != osdp.SOM {
			d.buf.Discard(1)
			continue
		}

		header := make([]byte, HeaderSize)
		if d.buf.Peek(header, 0) < HeaderSize {
			return nil, nil // wait for the rest of the header
		}
		length := int(binary.LittleEndian.Uint16(header[2:4]))
		if length > d.maxSize || length < HeaderSize+1 {
			d.buf.Discard(1)
			return nil, osdp.ErrBadLength
		}

		full := make([]byte, length)
		if d.buf.Peek(full, 0) < length {
			return nil, nil // wait for the rest of the frame
		}

		control := ControlByte(full[4])
		iLen := integrityLen(control)
		dataEnd := length - iLen
		if dataEnd < HeaderSize {
			d.buf.Discard(1)
			return nil, osdp.ErrBadLength
		}
		if !verifyIntegrity(full[:dataEnd], full[dataEnd:length], control.UseCRC()) {
			d.buf.Discard(1)
			return nil, osdp.ErrBadCRC
		}

		addr := full[1]
		d.buf.Discard(length)

		if addr != osdp.BroadcastAddress && d.acceptAddr != nil && !d.acceptAddr(addr) {
			continue // silently dropped: not addressed to this PD
		}

		return &Frame{Address: addr, Control: control, Data: append([]byte{}, full[HeaderSize:dataEnd]...)}, nil
	}
}

// Reset discards everything currently buffered, used on link reset.
func (d *Decoder) Reset() {
	d.buf.Reset()
}
