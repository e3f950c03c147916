package codec

import (
	"encoding/binary"

	"github.com/go-osdp/osdp"
)

const MaxCardDataLen = 64

// Event is one PD-to-CP event payload (spec.md §4.5, §4.6).
type Event interface {
	Opcode() byte
	Encode() []byte
}

// CardFormat mirrors the original's OsdpCardFormats enum.
type CardFormat uint8

const (
	CardFormatUnspecified CardFormat = iota
	CardFormatWiegand
	CardFormatASCII
)

// EventCardRead reports a single card presentation. The wire length byte
// (spec.md §4.5) carries a bit-count for Wiegand reads and a byte-count
// for everything else, since Wiegand formats routinely end on a
// non-octet boundary (e.g. 26-bit Wiegand packed into 4 data bytes).
// NrBits is only meaningful when Format is CardFormatWiegand; decoding
// any other format derives the data length straight from the wire byte.
type EventCardRead struct {
	ReaderNo  uint8
	Format    CardFormat
	Direction bool
	NrBits    int
	Data      []byte
}

func (e EventCardRead) Opcode() byte { return osdp.OpRaw }

func (e EventCardRead) Encode() []byte {
	n := len(e.Data)
	if n > MaxCardDataLen {
		n = MaxCardDataLen
	}
	length := n
	if e.Format == CardFormatWiegand {
		length = e.NrBits
		if length == 0 {
			length = n * 8
		}
	}
	buf := make([]byte, 4+n)
	buf[0] = e.ReaderNo
	buf[1] = byte(e.Format)
	if e.Direction {
		buf[2] = 1
	}
	buf[3] = byte(length)
	copy(buf[4:], e.Data[:n])
	return buf
}

func decodeEventCardRead(data []byte) (EventCardRead, error) {
	if len(data) < 4 {
		return EventCardRead{}, osdp.ErrBadLength
	}
	format := CardFormat(data[1])
	length := int(data[3])

	var n, nrBits int
	if format == CardFormatWiegand {
		nrBits = length
		n = (length + 7) / 8
	} else {
		n = length
	}
	if n > MaxCardDataLen || len(data) != 4+n {
		return EventCardRead{}, osdp.ErrBadLength
	}
	return EventCardRead{
		ReaderNo:  data[0],
		Format:    format,
		Direction: data[2] == 1,
		NrBits:    nrBits,
		Data:      append([]byte{}, data[4:4+n]...),
	}, nil
}

type EventKeyPress struct {
	ReaderNo uint8
	Data     []byte
}

func (e EventKeyPress) Opcode() byte { return osdp.OpKeypad }

func (e EventKeyPress) Encode() []byte {
	n := len(e.Data)
	if n > MaxCardDataLen {
		n = MaxCardDataLen
	}
	buf := make([]byte, 2+n)
	buf[0] = e.ReaderNo
	buf[1] = byte(n)
	copy(buf[2:], e.Data[:n])
	return buf
}

func decodeEventKeyPress(data []byte) (EventKeyPress, error) {
	if len(data) < 2 {
		return EventKeyPress{}, osdp.ErrBadLength
	}
	n := int(data[1])
	if n > MaxCardDataLen || len(data) != 2+n {
		return EventKeyPress{}, osdp.ErrBadLength
	}
	return EventKeyPress{data[0], append([]byte{}, data[2:2+n]...)}, nil
}

type EventMfgReply struct {
	VendorCode uint32
	SubCommand uint8
	Data       []byte
}

func (e EventMfgReply) Opcode() byte { return osdp.OpMfgRep }

func (e EventMfgReply) Encode() []byte {
	n := len(e.Data)
	if n > MaxMfgLen {
		n = MaxMfgLen
	}
	buf := make([]byte, 5+n)
	buf[0] = byte(e.VendorCode)
	buf[1] = byte(e.VendorCode >> 8)
	buf[2] = byte(e.VendorCode >> 16)
	buf[3] = e.SubCommand
	buf[4] = byte(n)
	copy(buf[5:], e.Data[:n])
	return buf
}

func decodeEventMfgReply(data []byte) (EventMfgReply, error) {
	if len(data) < 5 {
		return EventMfgReply{}, osdp.ErrBadLength
	}
	n := int(data[4])
	if n > MaxMfgLen || len(data) != 5+n {
		return EventMfgReply{}, osdp.ErrBadLength
	}
	vendor := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
	return EventMfgReply{vendor, data[3], append([]byte{}, data[5:5+n]...)}, nil
}

// EventIO reports a change on one input or output point.
type EventIO struct {
	Type   uint8
	Status uint32
}

func (e EventIO) Opcode() byte { return osdp.OpIstatR }

func (e EventIO) Encode() []byte {
	buf := make([]byte, 5)
	buf[0] = e.Type
	binary.LittleEndian.PutUint32(buf[1:5], e.Status)
	return buf
}

func decodeEventIO(data []byte) (EventIO, error) {
	if len(data) != 5 {
		return EventIO{}, osdp.ErrBadLength
	}
	return EventIO{data[0], binary.LittleEndian.Uint32(data[1:5])}, nil
}

// EventStatus reports tamper and power state, the unsolicited local
// status push (spec.md §4.6).
type EventStatus struct {
	Tamper uint8
	Power  uint8
}

func (e EventStatus) Opcode() byte { return osdp.OpLstatR }

func (e EventStatus) Encode() []byte {
	return []byte{e.Tamper, e.Power}
}

func decodeEventStatus(data []byte) (EventStatus, error) {
	if len(data) != 2 {
		return EventStatus{}, osdp.ErrBadLength
	}
	return EventStatus{data[0], data[1]}, nil
}

// DecodeEvent dispatches on the frame opcode to the matching Event
// decoder.
func DecodeEvent(opcode byte, data []byte) (Event, error) {
	switch opcode {
	case osdp.OpRaw:
		return decodeEventCardRead(data)
	case osdp.OpKeypad:
		return decodeEventKeyPress(data)
	case osdp.OpMfgRep:
		return decodeEventMfgReply(data)
	case osdp.OpIstatR:
		return decodeEventIO(data)
	case osdp.OpLstatR:
		return decodeEventStatus(data)
	default:
		return nil, osdp.ErrIllegalArgument
	}
}
