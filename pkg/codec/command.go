// Package codec implements the OSDP command/event payload encoders and
// decoders (spec.md §4.5): the fixed- and variable-length field layouts
// that ride inside a frame's data section, once any secure-channel
// encryption has already been applied or removed by pkg/sc.
//
// Field layouts are grounded on original_source/rust/src/commands.rs and
// events.rs (the FFI struct shapes osdp_cmd_led, osdp_cmd_buzzer, etc.),
// translated from the original's fixed-size C arrays into Go slices with
// an explicit on-wire length prefix, the same shape the teacher's SDO
// segmented-transfer payloads use (size field + bytes, never a raw fixed
// array at the wire boundary).
package codec

import (
	"encoding/binary"

	"github.com/go-osdp/osdp"
)

const (
	MaxTextLen = 32
	MaxMfgLen  = 64
	MaxKeyLen  = 32
)

// Command is one CP-to-PD command payload.
type Command interface {
	Opcode() byte
	Encode() []byte
}

// LedParams is one of a CommandLed's two lighting programs (temporary
// override, permanent baseline).
type LedParams struct {
	ControlCode uint8
	OnCount     uint8
	OffCount    uint8
	OnColor     uint8
	OffColor    uint8
	TimerCount  uint16
}

func (p LedParams) encode(buf []byte) {
	buf[0] = p.ControlCode
	buf[1] = p.OnCount
	buf[2] = p.OffCount
	buf[3] = p.OnColor
	buf[4] = p.OffColor
	binary.LittleEndian.PutUint16(buf[5:7], p.TimerCount)
}

func decodeLedParams(buf []byte) LedParams {
	return LedParams{
		ControlCode: buf[0],
		OnCount:     buf[1],
		OffCount:    buf[2],
		OnColor:     buf[3],
		OffColor:    buf[4],
		TimerCount:  binary.LittleEndian.Uint16(buf[5:7]),
	}
}

type CommandLed struct {
	Reader    uint8
	LedNumber uint8
	Temporary LedParams
	Permanent LedParams
}

func (c CommandLed) Opcode() byte { return osdp.OpLed }

func (c CommandLed) Encode() []byte {
	buf := make([]byte, 16)
	buf[0] = c.Reader
	buf[1] = c.LedNumber
	c.Temporary.encode(buf[2:9])
	c.Permanent.encode(buf[9:16])
	return buf
}

func decodeCommandLed(data []byte) (CommandLed, error) {
	if len(data) != 16 {
		return CommandLed{}, osdp.ErrBadLength
	}
	return CommandLed{
		Reader:    data[0],
		LedNumber: data[1],
		Temporary: decodeLedParams(data[2:9]),
		Permanent: decodeLedParams(data[9:16]),
	}, nil
}

type CommandBuzzer struct {
	Reader      uint8
	ControlCode uint8
	OnCount     uint8
	OffCount    uint8
	RepCount    uint8
}

func (c CommandBuzzer) Opcode() byte { return osdp.OpBuz }

func (c CommandBuzzer) Encode() []byte {
	return []byte{c.Reader, c.ControlCode, c.OnCount, c.OffCount, c.RepCount}
}

func decodeCommandBuzzer(data []byte) (CommandBuzzer, error) {
	if len(data) != 5 {
		return CommandBuzzer{}, osdp.ErrBadLength
	}
	return CommandBuzzer{data[0], data[1], data[2], data[3], data[4]}, nil
}

type CommandText struct {
	Reader      uint8
	ControlCode uint8
	TempTime    uint8
	OffsetRow   uint8
	OffsetCol   uint8
	Data        []byte
}

func (c CommandText) Opcode() byte { return osdp.OpText }

func (c CommandText) Encode() []byte {
	n := len(c.Data)
	if n > MaxTextLen {
		n = MaxTextLen
	}
	buf := make([]byte, 6+n)
	buf[0] = c.Reader
	buf[1] = c.ControlCode
	buf[2] = c.TempTime
	buf[3] = c.OffsetRow
	buf[4] = c.OffsetCol
	buf[5] = byte(n)
	copy(buf[6:], c.Data[:n])
	return buf
}

func decodeCommandText(data []byte) (CommandText, error) {
	if len(data) < 6 {
		return CommandText{}, osdp.ErrBadLength
	}
	n := int(data[5])
	if n > MaxTextLen || len(data) != 6+n {
		return CommandText{}, osdp.ErrBadLength
	}
	return CommandText{
		Reader:      data[0],
		ControlCode: data[1],
		TempTime:    data[2],
		OffsetRow:   data[3],
		OffsetCol:   data[4],
		Data:        append([]byte{}, data[6:6+n]...),
	}, nil
}

type CommandOutput struct {
	OutputNo    uint8
	ControlCode uint8
	TimerCount  uint16
}

func (c CommandOutput) Opcode() byte { return osdp.OpOut }

func (c CommandOutput) Encode() []byte {
	buf := make([]byte, 4)
	buf[0] = c.OutputNo
	buf[1] = c.ControlCode
	binary.LittleEndian.PutUint16(buf[2:4], c.TimerCount)
	return buf
}

func decodeCommandOutput(data []byte) (CommandOutput, error) {
	if len(data) != 4 {
		return CommandOutput{}, osdp.ErrBadLength
	}
	return CommandOutput{data[0], data[1], binary.LittleEndian.Uint16(data[2:4])}, nil
}

// CommandComSet reconfigures a PD's address and baud rate (spec.md
// §4.5); the PD applies it after acknowledging, so the reply races the
// PD's own restart.
type CommandComSet struct {
	Address  uint8
	BaudRate uint32
}

func (c CommandComSet) Opcode() byte { return osdp.OpComSet }

func (c CommandComSet) Encode() []byte {
	buf := make([]byte, 5)
	buf[0] = c.Address
	binary.LittleEndian.PutUint32(buf[1:5], c.BaudRate)
	return buf
}

func decodeCommandComSet(data []byte) (CommandComSet, error) {
	if len(data) != 5 {
		return CommandComSet{}, osdp.ErrBadLength
	}
	return CommandComSet{data[0], binary.LittleEndian.Uint32(data[1:5])}, nil
}

// CommandKeySet delivers a new SCBK to the PD over an already-secure
// channel (spec.md §4.4 rekey); KeyType 0x01 is SCBK, per libosdp.
type CommandKeySet struct {
	KeyType uint8
	Data    []byte
}

func (c CommandKeySet) Opcode() byte { return osdp.OpKeySet }

func (c CommandKeySet) Encode() []byte {
	n := len(c.Data)
	if n > MaxKeyLen {
		n = MaxKeyLen
	}
	buf := make([]byte, 2+n)
	buf[0] = c.KeyType
	buf[1] = byte(n)
	copy(buf[2:], c.Data[:n])
	return buf
}

func decodeCommandKeySet(data []byte) (CommandKeySet, error) {
	if len(data) < 2 {
		return CommandKeySet{}, osdp.ErrBadLength
	}
	n := int(data[1])
	if n > MaxKeyLen || len(data) != 2+n {
		return CommandKeySet{}, osdp.ErrBadLength
	}
	return CommandKeySet{data[0], append([]byte{}, data[2:2+n]...)}, nil
}

// CommandMfg carries a vendor-specific payload tagged by a 3-byte IEEE
// OUI vendor code (spec.md §4.5 Non-goal: vendor payload contents are
// opaque, only the envelope is interpreted).
type CommandMfg struct {
	VendorCode uint32 // low 3 bytes significant
	SubCommand uint8
	Data       []byte
}

func (c CommandMfg) Opcode() byte { return osdp.OpMfg }

func (c CommandMfg) Encode() []byte {
	n := len(c.Data)
	if n > MaxMfgLen {
		n = MaxMfgLen
	}
	buf := make([]byte, 5+n)
	buf[0] = byte(c.VendorCode)
	buf[1] = byte(c.VendorCode >> 8)
	buf[2] = byte(c.VendorCode >> 16)
	buf[3] = c.SubCommand
	buf[4] = byte(n)
	copy(buf[5:], c.Data[:n])
	return buf
}

func decodeCommandMfg(data []byte) (CommandMfg, error) {
	if len(data) < 5 {
		return CommandMfg{}, osdp.ErrBadLength
	}
	n := int(data[4])
	if n > MaxMfgLen || len(data) != 5+n {
		return CommandMfg{}, osdp.ErrBadLength
	}
	vendor := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
	return CommandMfg{vendor, data[3], append([]byte{}, data[5:5+n]...)}, nil
}

// CommandFileTx is one chunk of a CP-to-PD file push (spec.md §4.9):
// the CP names the file id, the total size (so the PD can size its
// receive buffer and report progress), the byte offset this chunk
// starts at, and the chunk data itself. pkg/filetransfer drives the
// chunking/retry state machine that produces a sequence of these.
type CommandFileTx struct {
	ID        uint8
	TotalSize uint32
	Offset    uint32
	Data      []byte
}

func (c CommandFileTx) Opcode() byte { return osdp.OpFileTx }

func (c CommandFileTx) Encode() []byte {
	n := len(c.Data)
	buf := make([]byte, 11+n)
	buf[0] = c.ID
	binary.LittleEndian.PutUint32(buf[1:5], c.TotalSize)
	binary.LittleEndian.PutUint32(buf[5:9], c.Offset)
	binary.LittleEndian.PutUint16(buf[9:11], uint16(n))
	copy(buf[11:], c.Data)
	return buf
}

func decodeCommandFileTx(data []byte) (CommandFileTx, error) {
	if len(data) < 11 {
		return CommandFileTx{}, osdp.ErrBadLength
	}
	n := int(binary.LittleEndian.Uint16(data[9:11]))
	if len(data) != 11+n {
		return CommandFileTx{}, osdp.ErrBadLength
	}
	return CommandFileTx{
		ID:        data[0],
		TotalSize: binary.LittleEndian.Uint32(data[1:5]),
		Offset:    binary.LittleEndian.Uint32(data[5:9]),
		Data:      append([]byte{}, data[11:11+n]...),
	}, nil
}

// FileTxStatus is the PD's OpFileTxR reply to each CommandFileTx chunk:
// an action code (continue/abort) plus how much of the negotiated
// message size the PD wants the next chunk capped to, and its current
// write offset for progress reporting (spec.md §4.9 "(size, offset)").
type FileTxStatus struct {
	Action      FileTxAction
	DeltaDelay  uint16
	MaxChunk    uint16
	WriteOffset uint32
}

type FileTxAction uint8

const (
	FileTxActionContinue FileTxAction = 0
	FileTxActionAbort    FileTxAction = 1
)

func (s FileTxStatus) Opcode() byte { return osdp.OpFileTxR }

func (s FileTxStatus) Encode() []byte {
	buf := make([]byte, 9)
	buf[0] = byte(s.Action)
	binary.LittleEndian.PutUint16(buf[1:3], s.DeltaDelay)
	binary.LittleEndian.PutUint16(buf[3:5], s.MaxChunk)
	binary.LittleEndian.PutUint32(buf[5:9], s.WriteOffset)
	return buf
}

func DecodeFileTxStatus(data []byte) (FileTxStatus, error) {
	if len(data) != 9 {
		return FileTxStatus{}, osdp.ErrBadLength
	}
	return FileTxStatus{
		Action:      FileTxAction(data[0]),
		DeltaDelay:  binary.LittleEndian.Uint16(data[1:3]),
		MaxChunk:    binary.LittleEndian.Uint16(data[3:5]),
		WriteOffset: binary.LittleEndian.Uint32(data[5:9]),
	}, nil
}

// CommandStatus requests one of the PD's local status reports (spec.md
// §3 Command variants: "Status"); the Kind selects which query opcode
// rides on the wire, so the type itself carries no payload.
type CommandStatus struct {
	Kind StatusKind
}

// StatusKind enumerates the four status-query opcodes a CP can issue.
type StatusKind uint8

const (
	StatusLocal StatusKind = iota
	StatusInput
	StatusOutput
	StatusReader
)

func (c CommandStatus) Opcode() byte {
	switch c.Kind {
	case StatusInput:
		return osdp.OpIstat
	case StatusOutput:
		return osdp.OpOstat
	case StatusReader:
		return osdp.OpRstat
	default:
		return osdp.OpLstat
	}
}

func (c CommandStatus) Encode() []byte { return nil }

func decodeCommandStatus(opcode byte, data []byte) (CommandStatus, error) {
	if len(data) != 0 {
		return CommandStatus{}, osdp.ErrBadLength
	}
	switch opcode {
	case osdp.OpIstat:
		return CommandStatus{StatusInput}, nil
	case osdp.OpOstat:
		return CommandStatus{StatusOutput}, nil
	case osdp.OpRstat:
		return CommandStatus{StatusReader}, nil
	default:
		return CommandStatus{StatusLocal}, nil
	}
}

// DecodeCommand dispatches on the frame opcode to the matching Command
// decoder.
func DecodeCommand(opcode byte, data []byte) (Command, error) {
	switch opcode {
	case osdp.OpLed:
		return decodeCommandLed(data)
	case osdp.OpBuz:
		return decodeCommandBuzzer(data)
	case osdp.OpText:
		return decodeCommandText(data)
	case osdp.OpOut:
		return decodeCommandOutput(data)
	case osdp.OpComSet:
		return decodeCommandComSet(data)
	case osdp.OpKeySet:
		return decodeCommandKeySet(data)
	case osdp.OpMfg:
		return decodeCommandMfg(data)
	case osdp.OpFileTx:
		return decodeCommandFileTx(data)
	case osdp.OpLstat, osdp.OpIstat, osdp.OpOstat, osdp.OpRstat:
		return decodeCommandStatus(opcode, data)
	default:
		return nil, osdp.ErrIllegalArgument
	}
}
