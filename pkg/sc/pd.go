package sc

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/go-osdp/osdp"
	"github.com/go-osdp/osdp/pkg/crypto"
)

// PDHandshake drives the secure-channel handshake from the peripheral
// device side: it replies to CHLNG with its client cryptogram, then
// validates the CP's server cryptogram before declaring SC_DONE.
type PDHandshake struct {
	CUID [8]byte

	state State
	scbk  [16]byte
	rndA  [8]byte
	rndB  [8]byte
	keys  crypto.SessionKeys

	deadline time.Time
	rxNew    bool
	rxOpcode byte
	rxData   []byte

	Session *Session
	Err     error
}

func NewPDHandshake(cuid [8]byte, scbk [16]byte) *PDHandshake {
	return &PDHandshake{CUID: cuid, scbk: scbk, state: StateIdle}
}

func (h *PDHandshake) State() State { return h.state }

func (h *PDHandshake) Deliver(opcode byte, data []byte) {
	h.rxOpcode = opcode
	h.rxData = append([]byte{}, data...)
	h.rxNew = true
}

// Reset returns the handshake to SC_IDLE. pkg/pd calls it after a
// rejected secure frame and after a KeySet rotation; a CHLNG that
// arrives once the handshake is done does not reset it.
func (h *PDHandshake) Reset() {
	h.state = StateIdle
	h.rxNew = false
	h.Session = nil
	h.Err = nil
}

// Refresh advances the handshake by at most one step, returning an
// outgoing reply (opcode + payload) when applicable. rnd supplies
// RND.B when a CHLNG is freshly accepted.
func (h *PDHandshake) Refresh(now time.Time, rnd func() [8]byte) (opcode byte, payload []byte, done bool) {
	if h.state == StateDone || h.state == StateFailed {
		return 0, nil, true
	}
	if h.state == StateWaitingSCrypt && now.After(h.deadline) {
		log.Warnf("[SC][PD] handshake timed out waiting for SCrypt")
		h.state = StateFailed
		h.Err = osdp.ErrTimeout
		return 0, nil, true
	}
	if !h.rxNew {
		return 0, nil, false
	}
	h.rxNew = false

	switch h.state {
	case StateIdle:
		if h.rxOpcode != osdp.OpChlng {
			return 0, nil, false // not an SC message, none of our business
		}
		rndA, err := decodeChlng(h.rxData)
		if err != nil {
			h.Err = err
			return 0, nil, false
		}
		h.rndA = rndA
		h.rndB = rnd()
		h.keys = crypto.DeriveSessionKeys(h.scbk, h.rndA)
		client := crypto.ClientCryptogram(h.keys.Enc, h.rndA, h.rndB)
		h.state = StateWaitingSCrypt
		h.deadline = now.Add(osdp.SCTimeout)
		return osdp.OpCCryptR, encodeCCrypt(h.CUID, h.rndB, client), false

	case StateWaitingSCrypt:
		if h.rxOpcode != osdp.OpSCrypt {
			log.Warnf("[SC][PD] unexpected opcode x%x while awaiting SCrypt", h.rxOpcode)
			h.state = StateFailed
			h.Err = osdp.ErrInvalidState
			return 0, nil, true
		}
		serverCryptogram, err := decodeSCrypt(h.rxData)
		if err != nil {
			h.state = StateFailed
			h.Err = err
			return 0, nil, true
		}
		expected := crypto.ServerCryptogram(h.keys.Enc, h.rndA, h.rndB)
		if expected != serverCryptogram {
			log.Warnf("[SC][PD] server cryptogram mismatch, aborting handshake")
			h.state = StateFailed
			h.Err = osdp.ErrSecurityFail
			return 0, nil, true
		}
		h.state = StateDone
		h.Session = newSession(h.keys, h.rndA, h.rndB, now)
		log.Debugf("[SC][PD] secure channel established")
		return osdp.OpSCryptR, nil, true

	default:
		return 0, nil, false
	}
}
