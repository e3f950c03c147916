// Package sc implements the OSDP secure-channel handshake state machine
// (spec.md §4.4): SC_IDLE -> SC_SCS11_SENT -> SC_SCS12_RX -> SC_SCS13_SENT
// -> SC_SCS14_RX -> SC_DONE, plus rekey and teardown. Mirrors the
// teacher's sdo_client.go/sdo_server.go split: one type per role, each
// driven by a Refresh tick rather than a blocking read, with RxNew
// latching an arrived reply until the next tick consumes it.
package sc

import (
	"time"

	"github.com/go-osdp/osdp"
	"github.com/go-osdp/osdp/pkg/crypto"
)

// State is a step of the secure-channel handshake.
type State uint8

const (
	StateIdle State = iota
	StateSCS11Sent
	StateSCS12Rx
	StateSCS13Sent
	StateSCS14Rx
	StateDone
	StateFailed

	// StateWaitingSCrypt is the PD-side mirror of StateSCS13Sent: the PD
	// has sent its CCrypt reply and is waiting for the CP's SCrypt.
	StateWaitingSCrypt = StateSCS13Sent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "SC_IDLE"
	case StateSCS11Sent:
		return "SC_SCS11_SENT"
	case StateSCS12Rx:
		return "SC_SCS12_RX"
	case StateSCS13Sent:
		return "SC_SCS13_SENT"
	case StateSCS14Rx:
		return "SC_SCS14_RX"
	case StateDone:
		return "SC_DONE"
	case StateFailed:
		return "SC_FAILED"
	default:
		return "SC_UNKNOWN"
	}
}

// Session is the material produced by a completed handshake: the
// derived keys and one RollingMAC per direction (spec.md §4.3 invariant
// that rolling state is per-direction and reset on every handshake).
type Session struct {
	Keys    crypto.SessionKeys
	ToPD    *crypto.RollingMAC
	ToCP    *crypto.RollingMAC
	RndA    [8]byte
	RndB    [8]byte
	Started time.Time
}

func newSession(keys crypto.SessionKeys, rndA, rndB [8]byte, now time.Time) *Session {
	return &Session{
		Keys:    keys,
		ToPD:    crypto.NewRollingMAC(keys.Mac1, keys.Mac2),
		ToCP:    crypto.NewRollingMAC(keys.Mac1, keys.Mac2),
		RndA:    rndA,
		RndB:    rndB,
		Started: now,
	}
}

// encodeChlng builds the SCS_11 (CHLNG) message body: RND.A alone.
func encodeChlng(rndA [8]byte) []byte {
	return append([]byte{}, rndA[:]...)
}

func decodeChlng(data []byte) (rndA [8]byte, err error) {
	if len(data) != 8 {
		return rndA, osdp.ErrBadLength
	}
	copy(rndA[:], data)
	return rndA, nil
}

// encodeCCrypt builds the SCS_12 reply: PD's cuid (8) + RND.B (8) + client
// cryptogram (16).
func encodeCCrypt(cuid [8]byte, rndB [8]byte, cryptogram [16]byte) []byte {
	out := make([]byte, 0, 32)
	out = append(out, cuid[:]...)
	out = append(out, rndB[:]...)
	out = append(out, cryptogram[:]...)
	return out
}

func decodeCCrypt(data []byte) (cuid [8]byte, rndB [8]byte, cryptogram [16]byte, err error) {
	if len(data) != 32 {
		err = osdp.ErrBadLength
		return
	}
	copy(cuid[:], data[0:8])
	copy(rndB[:], data[8:16])
	copy(cryptogram[:], data[16:32])
	return
}

// encodeSCrypt builds the SCS_13 message: the CP's server cryptogram.
func encodeSCrypt(cryptogram [16]byte) []byte {
	return append([]byte{}, cryptogram[:]...)
}

func decodeSCrypt(data []byte) (cryptogram [16]byte, err error) {
	if len(data) != 16 {
		return cryptogram, osdp.ErrBadLength
	}
	copy(cryptogram[:], data)
	return cryptogram, nil
}
