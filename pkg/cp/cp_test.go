package cp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/go-osdp/osdp"
	"github.com/go-osdp/osdp/pkg/codec"
	"github.com/go-osdp/osdp/pkg/frame"
	"github.com/go-osdp/osdp/pkg/pd"
)

func fixedRnd(seed byte) func() [8]byte {
	return func() [8]byte {
		var r [8]byte
		for i := range r {
			r[i] = seed + byte(i)
		}
		return r
	}
}

func decodeOne(t *testing.T, wire []byte) *frame.Frame {
	t.Helper()
	if wire == nil {
		return nil
	}
	d := frame.NewDecoder(512, nil)
	d.Feed(wire)
	f, err := d.Next()
	assert.NoError(t, err)
	return f
}

func sharedInfo(scbk [16]byte) *osdp.PdInfo {
	return &osdp.PdInfo{
		Name:    "door-1",
		Address: 0x01,
		Id:      osdp.PdId{VendorCode: 0x00A0DB, Model: 1, Version: 1},
		Capabilities: []osdp.Capability{
			{Function: osdp.CapLedControl, Compliance: 1, NumItems: 1},
		},
		SCBK: scbk,
	}
}

// driveUntilOnline shuttles frames between a CP and a PD, mirroring how
// pkg/network's scheduler will wire them via pkg/transport, until the CP
// reports the PD online or the tick budget is exhausted. It returns
// whatever reply is still in flight and hasn't yet been fed back to the
// CP, so callers can keep driving the same half-duplex cycle forward
// (e.g. to exercise command delivery right after bring-up).
func driveUntilOnline(t *testing.T, c *CP, p *pd.PD, now time.Time, maxTicks int) *frame.Frame {
	t.Helper()
	var lastReply *frame.Frame
	for i := 0; i < maxTicks; i++ {
		if c.IsOnline() {
			return lastReply
		}
		out := c.Tick(now, lastReply)
		lastReply = nil
		if out != nil {
			reqFrame := decodeOne(t, out)
			reply := p.Handle(now, reqFrame, fixedRnd(9))
			lastReply = decodeOne(t, reply)
		}
	}
	t.Fatalf("CP never reached online after %d ticks (state=%d)", maxTicks, c.state)
	return nil
}

func TestBringUpWithoutSecureChannel(t *testing.T) {
	var zero [16]byte
	info := sharedInfo(zero)
	now := time.Unix(0, 0)

	c := New(info, fixedRnd(1))
	p := pd.New(info, [8]byte{1, 2, 3, 4, 5, 6, 7, 8})

	driveUntilOnline(t, c, p, now, 10)

	assert.True(t, c.IsOnline())
	assert.False(t, c.IsSCActive())
	assert.Equal(t, uint32(0x00A0DB), c.Info.Id.VendorCode)
	assert.Len(t, c.Info.Capabilities, 1)
}

func TestBringUpWithSecureChannel(t *testing.T) {
	var scbk [16]byte
	for i := range scbk {
		scbk[i] = byte(i + 1)
	}
	info := sharedInfo(scbk)
	now := time.Unix(0, 0)

	c := New(info, fixedRnd(1))
	p := pd.New(info, [8]byte{1, 2, 3, 4, 5, 6, 7, 8})

	driveUntilOnline(t, c, p, now, 10)

	assert.True(t, c.IsOnline())
	assert.True(t, c.IsSCActive())
	assert.True(t, p.IsSCActive())
}

func TestCommandQueueDeliveredInFIFOOrder(t *testing.T) {
	var zero [16]byte
	info := sharedInfo(zero)
	now := time.Unix(0, 0)

	c := New(info, fixedRnd(1))
	p := pd.New(info, [8]byte{1, 2, 3, 4, 5, 6, 7, 8})

	var received []codec.Command
	p.OnCommand = func(cmd codec.Command) error {
		received = append(received, cmd)
		return nil
	}

	lastReply := driveUntilOnline(t, c, p, now, 10)

	assert.NoError(t, c.SubmitCommand(codec.CommandBuzzer{Reader: 0, ControlCode: 1, OnCount: 1, OffCount: 1, RepCount: 1}))
	assert.NoError(t, c.SubmitCommand(codec.CommandOutput{OutputNo: 1, ControlCode: 1, TimerCount: 10}))

	for i := 0; i < 4 && len(received) < 2; i++ {
		out := c.Tick(now, lastReply)
		lastReply = nil
		if out != nil {
			reqFrame := decodeOne(t, out)
			reply := p.Handle(now, reqFrame, fixedRnd(9))
			lastReply = decodeOne(t, reply)
		}
	}

	if assert.Len(t, received, 2) {
		_, isBuzzer := received[0].(codec.CommandBuzzer)
		assert.True(t, isBuzzer)
		_, isOutput := received[1].(codec.CommandOutput)
		assert.True(t, isOutput)
	}
}

func TestQueueOverflowReturnsError(t *testing.T) {
	var zero [16]byte
	c := New(sharedInfo(zero), fixedRnd(1))
	for i := 0; i < CommandQueueSize; i++ {
		assert.NoError(t, c.SubmitCommand(codec.CommandOutput{}))
	}
	assert.Equal(t, osdp.ErrQueueFull, c.SubmitCommand(codec.CommandOutput{}))
}

func TestOfflineAfterResponseTimeout(t *testing.T) {
	var zero [16]byte
	c := New(sharedInfo(zero), fixedRnd(1))
	now := time.Unix(0, 0)

	out := c.Tick(now, nil) // sends IDREQ
	assert.NotNil(t, out)

	later := now.Add(osdp.ResponseTimeout + time.Millisecond)
	c.Tick(later, nil) // no reply arrives; deadline passed
	assert.Equal(t, StateOffline, c.state)
}
