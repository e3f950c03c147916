// Package cp implements the control-panel-side per-PD state machine
// (spec.md §4.7): the bring-up sequence (ID, capabilities, optional SC
// handshake), continuous polling, command dispatch, and the
// timeout/NAK-driven offline/backoff policy.
//
// Grounded on the teacher's sdo_client.go tick idiom (Refresh-style
// single-outstanding-request model, RxNew-style reply latch) and on
// spec.md §4.7/§4.8's online-sequence and scheduler rules.
package cp

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/go-osdp/osdp"
	"github.com/go-osdp/osdp/pkg/codec"
	"github.com/go-osdp/osdp/pkg/frame"
	"github.com/go-osdp/osdp/pkg/sc"
)

type State uint8

const (
	StateInit State = iota
	StateIdReqWait
	StateCapReqWait
	StateSCHandshake
	StateOnline
	StateOffline
)

const maxConsecutiveNaks = 3

// CommandQueueSize is the bound on a PD's outgoing command queue
// (spec.md §4.7).
const CommandQueueSize = 32

// EventCallback surfaces a PD-reported event to the application
// (spec.md §6).
type EventCallback func(e codec.Event)

// CP drives one PD's protocol state from the control-panel side.
type CP struct {
	Info *osdp.PdInfo

	state State

	seq        uint8
	seqStarted bool

	awaiting      bool
	pendingOpcode byte
	deadline      time.Time

	nakStreak int
	backoff   time.Duration
	retryAt   time.Time

	queue []codec.Command

	handshake *sc.CPHandshake
	session   *sc.Session

	OnEvent EventCallback
	// OnFileStatus receives the PD's FileTxStatus after each file
	// transfer chunk, driving pkg/filetransfer's retry/pacing loop.
	OnFileStatus func(status codec.FileTxStatus)

	log *log.Entry
	rnd func() [8]byte
}

// New creates a CP-side context for the given PD, using rnd as the
// source of RND.A for SC handshakes (tests inject a deterministic
// source; production wires crypto/rand).
func New(info *osdp.PdInfo, rnd func() [8]byte) *CP {
	return &CP{
		Info:      info,
		handshake: sc.NewCPHandshake(info.Address, info.SCBK),
		rnd:       rnd,
		log:       log.WithField("pd", info.Address),
	}
}

// SubmitCommand enqueues a command for delivery on a future poll, FIFO,
// bounded at CommandQueueSize (spec.md §4.7).
func (c *CP) SubmitCommand(cmd codec.Command) error {
	if len(c.queue) >= CommandQueueSize {
		return osdp.ErrQueueFull
	}
	c.queue = append(c.queue, cmd)
	return nil
}

func (c *CP) IsOnline() bool   { return c.state == StateOnline }
func (c *CP) IsSCActive() bool { return c.session != nil }

func (c *CP) nextSeq() uint8 {
	if !c.seqStarted {
		c.seqStarted = true
		return 0
	}
	c.seq++
	if c.seq > 3 {
		c.seq = 1
	}
	return c.seq
}

func (c *CP) buildRequest(opcode byte, payload []byte) []byte {
	var body []byte
	if c.session != nil {
		var err error
		body, err = sc.EncodeSecureBody(c.session, c.session.ToPD, opcode, payload)
		if err != nil {
			c.log.Errorf("failed to seal secure request opcode x%x: %v", opcode, err)
			return nil
		}
	} else {
		body = append([]byte{opcode}, payload...)
	}
	control := frame.NewControlByte(c.nextSeq(), true, c.session != nil, false)
	wire, err := frame.Encode(c.Info.Address, control, body)
	if err != nil {
		c.log.Errorf("failed to encode request opcode x%x: %v", opcode, err)
		return nil
	}
	c.pendingOpcode = opcode
	c.awaiting = true
	c.deadline = time.Time{} // set by caller once it knows "now"
	return wire
}

// decodeReplyBody strips the secure envelope (when a session is active)
// or plain opcode/payload framing (during bring-up and the SC handshake
// itself, which always rides in the clear) off a reply's data field.
func (c *CP) decodeReplyBody(data []byte) (opcode byte, body []byte, err error) {
	if len(data) < 1 {
		return 0, nil, osdp.ErrBadLength
	}
	if c.session == nil {
		return data[0], data[1:], nil
	}
	return sc.DecodeSecureBody(c.session, c.session.ToCP, data)
}

func (c *CP) goOffline(now time.Time, reason string) {
	c.log.Warnf("PD offline: %s", reason)
	c.state = StateOffline
	c.awaiting = false
	c.session = nil
	if c.backoff == 0 {
		c.backoff = osdp.CmdRetryWait
	} else {
		c.backoff *= 2
	}
	if c.backoff > osdp.OnlineRetryMax {
		c.backoff = osdp.OnlineRetryMax
	}
	c.retryAt = now.Add(c.backoff)
}

// Tick runs at most one send/recv step for this PD. incoming is the
// reply frame received this tick addressed to this PD, or nil if none
// arrived. It returns the outgoing request bytes to write this tick, if
// any. A tick that consumes a reply sends only when that reply itself
// calls for an immediate next step (the SC handshake); otherwise the
// next request waits for a later Tick, so a shared channel's scheduler
// can hand the turn to another PD.
func (c *CP) Tick(now time.Time, incoming *frame.Frame) []byte {
	if incoming != nil {
		return c.handleReply(now, incoming)
	}

	if c.awaiting {
		if !c.deadline.IsZero() && now.After(c.deadline) {
			c.goOffline(now, "response timeout")
		}
		return nil
	}

	switch c.state {
	case StateOffline:
		if now.Before(c.retryAt) {
			return nil
		}
		c.state = StateInit
		fallthrough
	case StateInit:
		c.state = StateIdReqWait
		return c.send(now, osdp.OpIdReq, nil)

	case StateCapReqWait:
		return c.send(now, osdp.OpCapReq, nil)

	case StateSCHandshake:
		payload := c.handshake.Start(now, c.rnd)
		return c.send(now, osdp.OpChlng, payload)

	case StateOnline:
		if len(c.queue) > 0 {
			cmd := c.queue[0]
			c.queue = c.queue[1:]
			return c.send(now, cmd.Opcode(), cmd.Encode())
		}
		return c.send(now, osdp.OpPoll, nil)
	}
	return nil
}

func (c *CP) send(now time.Time, opcode byte, payload []byte) []byte {
	wire := c.buildRequest(opcode, payload)
	c.deadline = now.Add(osdp.ResponseTimeout)
	return wire
}

func (c *CP) handleReply(now time.Time, f *frame.Frame) []byte {
	if !c.awaiting {
		if c.Info.Flags.Has(osdp.FlagIgnoreUnsolicited) {
			c.log.Debugf("ignoring unsolicited reply opcode x%x", f.Data[0])
			return nil
		}
		c.log.Warnf("unexpected reply opcode x%x while idle", f.Data[0])
		return nil
	}
	c.awaiting = false

	opcode, body, err := c.decodeReplyBody(f.Data)
	if err != nil {
		c.log.Warnf("secure reply rejected: %v", err)
		c.session = nil
		if c.Info.Flags.Has(osdp.FlagEnforceSecure) {
			c.goOffline(now, "secure channel verification failed")
		} else {
			c.state = StateSCHandshake
		}
		return nil
	}

	if opcode == osdp.OpNak {
		c.nakStreak++
		c.log.Warnf("PD NAK'd opcode x%x (streak %d)", c.pendingOpcode, c.nakStreak)
		if c.nakStreak >= maxConsecutiveNaks {
			c.goOffline(now, "three consecutive NAKs")
		}
		return nil
	}
	c.nakStreak = 0
	c.backoff = 0

	switch c.pendingOpcode {
	case osdp.OpIdReq:
		if opcode != osdp.OpPdId {
			return nil
		}
		id, err := codec.DecodePdId(body)
		if err == nil {
			c.Info.Id = id
		}
		c.state = StateCapReqWait

	case osdp.OpCapReq:
		if opcode != osdp.OpPdCap {
			return nil
		}
		caps, err := codec.DecodeCapabilities(body)
		if err == nil {
			c.Info.Capabilities = caps
		}
		if c.Info.Flags.Has(osdp.FlagEnforceSecure) || !isZeroKey(c.Info.SCBK) {
			c.state = StateSCHandshake
		} else {
			c.state = StateOnline
		}

	case osdp.OpChlng:
		c.handshake.Deliver(opcode, body)
		outOp, outPayload, done := c.handshake.Refresh(now)
		if done {
			c.finishHandshake(now)
			return nil
		}
		if outOp != 0 {
			return c.send(now, outOp, outPayload)
		}

	case osdp.OpSCrypt:
		c.handshake.Deliver(opcode, body)
		c.handshake.Refresh(now)
		c.finishHandshake(now)

	case osdp.OpFileTx:
		if opcode != osdp.OpFileTxR {
			return nil
		}
		status, err := codec.DecodeFileTxStatus(body)
		if err == nil && c.OnFileStatus != nil {
			c.OnFileStatus(status)
		}

	default:
		if c.pendingOpcode == osdp.OpPoll || isCommandOpcode(c.pendingOpcode) {
			c.reportEventOrAck(opcode, body)
		}
	}
	return nil
}

// finishHandshake commits the outcome of a completed (successful or
// failed) SC handshake to CP state.
func (c *CP) finishHandshake(now time.Time) {
	if c.handshake.Err != nil {
		c.log.Warnf("SC handshake failed: %v", c.handshake.Err)
		if c.Info.Flags.Has(osdp.FlagEnforceSecure) {
			c.goOffline(now, "secure channel required but handshake failed")
		} else {
			c.state = StateOnline
		}
		return
	}
	c.session = c.handshake.Session
	c.state = StateOnline
}

func (c *CP) reportEventOrAck(opcode byte, body []byte) {
	if opcode == osdp.OpAck {
		return
	}
	e, err := codec.DecodeEvent(opcode, body)
	if err != nil {
		c.log.Debugf("reply opcode x%x is not a known event: %v", opcode, err)
		return
	}
	if c.OnEvent != nil {
		c.OnEvent(e)
	}
}

func isCommandOpcode(opcode byte) bool {
	switch opcode {
	case osdp.OpLed, osdp.OpBuz, osdp.OpText, osdp.OpOut, osdp.OpComSet, osdp.OpKeySet, osdp.OpMfg, osdp.OpFileTx,
		osdp.OpLstat, osdp.OpIstat, osdp.OpOstat, osdp.OpRstat:
		return true
	default:
		return false
	}
}

func isZeroKey(k [16]byte) bool {
	for _, b := range k {
		if b != 0 {
			return false
		}
	}
	return true
}
