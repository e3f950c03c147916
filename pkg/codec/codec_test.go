package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-osdp/osdp"
)

func TestCommandLedRoundTrip(t *testing.T) {
	c := CommandLed{
		Reader:    1,
		LedNumber: 2,
		Temporary: LedParams{ControlCode: 1, OnCount: 10, OffCount: 5, OnColor: 1, OffColor: 0, TimerCount: 100},
		Permanent: LedParams{ControlCode: 2, OnCount: 20, OffCount: 15, OnColor: 2, OffColor: 1, TimerCount: 200},
	}
	got, err := DecodeCommand(osdp.OpLed, c.Encode())
	assert.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCommandBuzzerRoundTrip(t *testing.T) {
	c := CommandBuzzer{Reader: 1, ControlCode: 2, OnCount: 3, OffCount: 4, RepCount: 5}
	got, err := DecodeCommand(osdp.OpBuz, c.Encode())
	assert.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCommandTextRoundTrip(t *testing.T) {
	c := CommandText{Reader: 1, ControlCode: 1, TempTime: 5, OffsetRow: 1, OffsetCol: 2, Data: []byte("hello")}
	got, err := DecodeCommand(osdp.OpText, c.Encode())
	assert.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCommandTextTruncatesOversizeData(t *testing.T) {
	c := CommandText{Data: make([]byte, MaxTextLen+10)}
	wire := c.Encode()
	assert.Equal(t, MaxTextLen, int(wire[5]))
}

func TestCommandOutputRoundTrip(t *testing.T) {
	c := CommandOutput{OutputNo: 3, ControlCode: 1, TimerCount: 4000}
	got, err := DecodeCommand(osdp.OpOut, c.Encode())
	assert.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCommandComSetRoundTrip(t *testing.T) {
	c := CommandComSet{Address: 5, BaudRate: 115200}
	got, err := DecodeCommand(osdp.OpComSet, c.Encode())
	assert.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCommandKeySetRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	c := CommandKeySet{KeyType: 1, Data: key}
	got, err := DecodeCommand(osdp.OpKeySet, c.Encode())
	assert.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCommandMfgRoundTrip(t *testing.T) {
	c := CommandMfg{VendorCode: 0x00A0DB, SubCommand: 7, Data: []byte{1, 2, 3}}
	got, err := DecodeCommand(osdp.OpMfg, c.Encode())
	assert.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCommandFileTxRoundTrip(t *testing.T) {
	c := CommandFileTx{ID: 1, TotalSize: 1000, Offset: 128, Data: []byte{1, 2, 3, 4}}
	got, err := DecodeCommand(osdp.OpFileTx, c.Encode())
	assert.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestFileTxStatusRoundTrip(t *testing.T) {
	s := FileTxStatus{Action: FileTxActionContinue, DeltaDelay: 10, MaxChunk: 200, WriteOffset: 128}
	got, err := DecodeFileTxStatus(s.Encode())
	assert.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestCommandStatusRoundTrip(t *testing.T) {
	for _, c := range []CommandStatus{
		{Kind: StatusLocal}, {Kind: StatusInput}, {Kind: StatusOutput}, {Kind: StatusReader},
	} {
		got, err := DecodeCommand(c.Opcode(), c.Encode())
		assert.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestDecodeCommandRejectsBadLength(t *testing.T) {
	_, err := DecodeCommand(osdp.OpOut, []byte{1, 2})
	assert.Equal(t, osdp.ErrBadLength, err)
}

func TestDecodeCommandRejectsUnknownOpcode(t *testing.T) {
	_, err := DecodeCommand(0xFE, nil)
	assert.Equal(t, osdp.ErrIllegalArgument, err)
}

func TestEventCardReadRoundTrip(t *testing.T) {
	e := EventCardRead{ReaderNo: 0, Format: CardFormatWiegand, Direction: true, NrBits: 26, Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	wire := e.Encode()
	assert.Equal(t, byte(26), wire[3], "wire length must be the Wiegand bit count, not the byte count")
	got, err := DecodeEvent(osdp.OpRaw, wire)
	assert.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEventCardReadASCIIRoundTrip(t *testing.T) {
	e := EventCardRead{ReaderNo: 1, Format: CardFormatASCII, Direction: false, Data: []byte("1234")}
	wire := e.Encode()
	assert.Equal(t, byte(4), wire[3], "ASCII wire length is a byte count")
	got, err := DecodeEvent(osdp.OpRaw, wire)
	assert.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEventKeyPressRoundTrip(t *testing.T) {
	e := EventKeyPress{ReaderNo: 1, Data: []byte{'1', '2', '3', '#'}}
	got, err := DecodeEvent(osdp.OpKeypad, e.Encode())
	assert.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEventMfgReplyRoundTrip(t *testing.T) {
	e := EventMfgReply{VendorCode: 0x00A0DB, SubCommand: 1, Data: []byte{9, 9}}
	got, err := DecodeEvent(osdp.OpMfgRep, e.Encode())
	assert.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEventIORoundTrip(t *testing.T) {
	e := EventIO{Type: 1, Status: 0xCAFEBABE}
	got, err := DecodeEvent(osdp.OpIstatR, e.Encode())
	assert.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEventStatusRoundTrip(t *testing.T) {
	e := EventStatus{Tamper: 1, Power: 0}
	got, err := DecodeEvent(osdp.OpLstatR, e.Encode())
	assert.NoError(t, err)
	assert.Equal(t, e, got)
}
