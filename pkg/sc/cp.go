package sc

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/go-osdp/osdp"
	"github.com/go-osdp/osdp/pkg/crypto"
)

// CPHandshake drives the secure-channel handshake from the control
// panel side: it issues CHLNG, validates the PD's client cryptogram,
// issues the server cryptogram, and waits for the PD's acknowledgement.
type CPHandshake struct {
	Address osdp.Address

	state       State
	scbk        [16]byte
	rndA        [8]byte
	pendingRndB [8]byte
	keys        crypto.SessionKeys

	deadline time.Time
	rxNew    bool
	rxOpcode byte
	rxData   []byte

	Session *Session
	Err     error
}

func NewCPHandshake(addr osdp.Address, scbk [16]byte) *CPHandshake {
	return &CPHandshake{Address: addr, scbk: scbk, state: StateIdle}
}

func (h *CPHandshake) State() State { return h.state }

// Start begins a fresh handshake, returning the CHLNG command payload to
// send as opcode osdp.OpChlng. rnd supplies RND.A; tests inject a
// deterministic source, production code a crypto/rand-backed one.
func (h *CPHandshake) Start(now time.Time, rnd func() [8]byte) []byte {
	h.rndA = rnd()
	h.state = StateSCS11Sent
	h.deadline = now.Add(osdp.SCTimeout)
	h.rxNew = false
	h.Err = nil
	return encodeChlng(h.rndA)
}

// Deliver latches a reply frame's opcode and data for the next Refresh
// to consume; mirrors the teacher's RxNew pattern rather than acting
// inline from the transport goroutine.
func (h *CPHandshake) Deliver(opcode byte, data []byte) {
	h.rxOpcode = opcode
	h.rxData = append([]byte{}, data...)
	h.rxNew = true
}

// Refresh advances the handshake by at most one step. It returns an
// outgoing command to send (opcode + payload) when applicable, and done
// once the handshake has reached SC_DONE or SC_FAILED.
func (h *CPHandshake) Refresh(now time.Time) (opcode byte, payload []byte, done bool) {
	if h.state == StateIdle || h.state == StateDone || h.state == StateFailed {
		return 0, nil, h.state == StateDone || h.state == StateFailed
	}
	if now.After(h.deadline) {
		log.Warnf("[SC][CP][x%x] handshake timed out in state %s", h.Address, h.state)
		h.state = StateFailed
		h.Err = osdp.ErrTimeout
		return 0, nil, true
	}
	if !h.rxNew {
		return 0, nil, false
	}
	h.rxNew = false

	switch h.state {
	case StateSCS11Sent:
		if h.rxOpcode != osdp.OpCCryptR {
			log.Warnf("[SC][CP][x%x] unexpected opcode x%x in state %s", h.Address, h.rxOpcode, h.state)
			h.state = StateFailed
			h.Err = osdp.ErrInvalidState
			return 0, nil, true
		}
		cuid, rndB, clientCryptogram, err := decodeCCrypt(h.rxData)
		if err != nil {
			h.state = StateFailed
			h.Err = err
			return 0, nil, true
		}
		_ = cuid // the PD's cuid is neither checked nor kept
		h.keys = crypto.DeriveSessionKeys(h.scbk, h.rndA)
		expected := crypto.ClientCryptogram(h.keys.Enc, h.rndA, rndB)
		if expected != clientCryptogram {
			log.Warnf("[SC][CP][x%x] client cryptogram mismatch, wrong SCBK", h.Address)
			h.state = StateFailed
			h.Err = osdp.ErrSecurityFail
			return 0, nil, true
		}
		server := crypto.ServerCryptogram(h.keys.Enc, h.rndA, rndB)
		h.state = StateSCS13Sent
		h.deadline = now.Add(osdp.SCTimeout)
		// stash rndB in keys derivation scope via Session once done; keep
		// locally until SC_DONE.
		h.pendingRndB = rndB
		return osdp.OpSCrypt, encodeSCrypt(server), false

	case StateSCS13Sent:
		if h.rxOpcode != osdp.OpSCryptR {
			log.Warnf("[SC][CP][x%x] unexpected opcode x%x in state %s", h.Address, h.rxOpcode, h.state)
			h.state = StateFailed
			h.Err = osdp.ErrInvalidState
			return 0, nil, true
		}
		h.state = StateDone
		h.Session = newSession(h.keys, h.rndA, h.pendingRndB, now)
		log.Debugf("[SC][CP][x%x] secure channel established", h.Address)
		return 0, nil, true

	default:
		return 0, nil, false
	}
}
