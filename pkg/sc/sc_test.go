package sc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/go-osdp/osdp"
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

func testSCBK() [16]byte {
	var k [16]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

// runHandshake drives a CPHandshake and PDHandshake to completion by
// shuttling their outgoing payloads directly into each other's Deliver,
// the way pkg/cp and pkg/pd will via the framer/transport once wired.
func runHandshake(t *testing.T, cp *CPHandshake, pd *PDHandshake, now time.Time) {
	t.Helper()
	opcode, payload := osdp.OpChlng, cp.Start(now, fixedRnd(1))
	pd.Deliver(opcode, payload)

	for i := 0; i < 10; i++ {
		pdOp, pdPayload, pdDone := pd.Refresh(now, fixedRnd(2))
		if pdPayload != nil || pdOp != 0 {
			cp.Deliver(pdOp, pdPayload)
		}
		cpOp, cpPayload, cpDone := cp.Refresh(now)
		if cpPayload != nil || cpOp != 0 {
			pd.Deliver(cpOp, cpPayload)
		}
		if pdDone && cpDone {
			return
		}
	}
	t.Fatal("handshake did not converge")
}

func TestHandshakeSucceedsWithMatchingSCBK(t *testing.T) {
	now := time.Unix(0, 0)
	scbk := testSCBK()
	cp := NewCPHandshake(0x01, scbk)
	pd := NewPDHandshake([8]byte{1, 2, 3, 4, 5, 6, 7, 8}, scbk)

	runHandshake(t, cp, pd, now)

	assert.Equal(t, StateDone, cp.State())
	assert.Equal(t, StateDone, pd.State())
	assert.NoError(t, cp.Err)
	assert.NoError(t, pd.Err)
	if assert.NotNil(t, cp.Session) && assert.NotNil(t, pd.Session) {
		assert.Equal(t, cp.Session.Keys, pd.Session.Keys)
	}
}

func TestHandshakeFailsWithMismatchedSCBK(t *testing.T) {
	now := time.Unix(0, 0)
	scbkCP := testSCBK()
	scbkPD := testSCBK()
	scbkPD[15] ^= 0x01

	cp := NewCPHandshake(0x01, scbkCP)
	pd := NewPDHandshake([8]byte{1, 2, 3, 4, 5, 6, 7, 8}, scbkPD)

	opcode, payload := osdp.OpChlng, cp.Start(now, fixedRnd(1))
	pd.Deliver(opcode, payload)
	pdOp, pdPayload, _ := pd.Refresh(now, fixedRnd(2))
	cp.Deliver(pdOp, pdPayload)

	_, _, done := cp.Refresh(now)
	assert.True(t, done)
	assert.Equal(t, StateFailed, cp.State())
	assert.ErrorIs(t, cp.Err, osdp.ErrSecurityFail)
}

func TestHandshakeTimesOutWithNoReply(t *testing.T) {
	now := time.Unix(0, 0)
	cp := NewCPHandshake(0x01, testSCBK())
	cp.Start(now, fixedRnd(1))

	later := now.Add(osdp.SCTimeout + time.Millisecond)
	_, _, done := cp.Refresh(later)
	assert.True(t, done)
	assert.Equal(t, StateFailed, cp.State())
	assert.ErrorIs(t, cp.Err, osdp.ErrTimeout)
}

func TestPDIgnoresNonChlngMessagesWhileIdle(t *testing.T) {
	pd := NewPDHandshake([8]byte{1, 2, 3, 4, 5, 6, 7, 8}, testSCBK())
	pd.Deliver(osdp.OpPoll, nil)
	_, _, done := pd.Refresh(time.Unix(0, 0), fixedRnd(2))
	assert.False(t, done)
	assert.Equal(t, StateIdle, pd.State())
}
