// Package pd implements the peripheral-device role state machine
// (spec.md §4.6): reply-within-deadline processing of CP commands, the
// ID/CAP bring-up sequence, secure-channel overlay, and event delivery
// piggybacked on POLL replies.
//
// Grounded on the teacher's sdo_server.go tick idiom (state field,
// RxNew-style latch consumed by a single Handle call per received
// frame, logrus logging at the same call sites the teacher logs SDO
// aborts) generalized from CANopen's object-dictionary read/write model
// to OSDP's command-callback model.
package pd

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/go-osdp/osdp"
	"github.com/go-osdp/osdp/pkg/codec"
	"github.com/go-osdp/osdp/pkg/frame"
	"github.com/go-osdp/osdp/pkg/sc"
)

// State is where this PD sits in its bring-up sequence (spec.md §4.6).
// The secure-channel handshake is overlaid on top and does not advance
// this field by itself.
type State uint8

const (
	StateIdle State = iota
	StateIdReq
	StateCapReq
	StateOnline
)

// CommandHandler runs the application's synchronous reaction to an
// incoming command; a non-nil return is reported to the CP as a NAK
// with reason NakGeneric (spec.md §4.6, §6 application callbacks).
type CommandHandler func(cmd codec.Command) error

// KeyStore persists a freshly rotated SCBK (spec.md §4.4 KeySet).
type KeyStore func(newKey [16]byte) error

// FileChunkHandler writes one received CommandFileTx chunk via the
// application's file-ops registry and reports back the PD's desired
// pacing/offset (spec.md §4.9 file-transfer hook).
type FileChunkHandler func(cmd codec.CommandFileTx) (codec.FileTxStatus, error)

// PD is one peripheral device's protocol state.
type PD struct {
	Info *osdp.PdInfo

	state State
	seq   uint8
	have  bool
	reply []byte

	handshake   *sc.PDHandshake
	session     *sc.Session
	teardownSC  bool

	events []codec.Event

	OnCommand   CommandHandler
	OnKeySet    KeyStore
	OnFileChunk FileChunkHandler

	log *log.Entry
}

// New creates a PD context for the given static descriptor. cuid is the
// 8-byte client id this PD presents during the SC handshake.
func New(info *osdp.PdInfo, cuid [8]byte) *PD {
	return &PD{
		Info:      info,
		handshake: sc.NewPDHandshake(cuid, info.SCBK),
		log:       log.WithField("pd", info.Address),
	}
}

// NotifyEvent enqueues an event to be delivered on the PD's next POLL
// reply, FIFO (spec.md §5 ordering guarantee).
func (p *PD) NotifyEvent(e codec.Event) {
	p.events = append(p.events, e)
}

func (p *PD) buildReply(opcode byte, payload []byte) []byte {
	var body []byte
	if p.session != nil {
		var err error
		body, err = sc.EncodeSecureBody(p.session, p.session.ToCP, opcode, payload)
		if err != nil {
			p.log.Errorf("failed to seal secure reply opcode x%x: %v", opcode, err)
			return nil
		}
	} else {
		body = append([]byte{opcode}, payload...)
	}
	useCRC := true
	control := frame.NewControlByte(p.seq, useCRC, p.session != nil, false)
	wire, err := frame.Encode(p.Info.Address, control, body)
	if err != nil {
		p.log.Errorf("failed to encode reply opcode x%x: %v", opcode, err)
		return nil
	}
	return wire
}

// Handle processes one decoded, address-matched frame and returns the
// wire bytes of the reply to send, or nil if no reply is owed
// (broadcast). now is used for SC handshake deadlines; rnd supplies
// RND.B when a CHLNG is freshly accepted.
func (p *PD) Handle(now time.Time, f *frame.Frame, rnd func() [8]byte) []byte {
	broadcast := f.Address == osdp.BroadcastAddress
	seq := f.Control.Sequence()

	// The duplicate check must run before any secure-body decode: decoding
	// advances the inbound rolling MAC chain, and a retransmitted frame
	// decoded twice would desync that chain from the CP's (spec.md §4.3
	// rolling MAC is per-frame, not per-delivery-attempt).
	if !broadcast && p.have && seq == p.seq {
		p.log.Debugf("duplicate seq %d, resending last reply", seq)
		return p.reply
	}

	opcode, body, err := p.decodeRequestBody(f.Data)
	if err != nil {
		p.log.Warnf("secure request rejected: %v", err)
		p.session = nil
		p.handshake.Reset()
		if p.Info.Flags.Has(osdp.FlagEnforceSecure) {
			// No secure channel, no service: force back to bring-up so
			// this PD reads as offline until the CP re-establishes SC.
			p.state = StateIdle
		}
		return nil
	}

	reply := p.dispatch(now, opcode, body, broadcast, rnd)

	if broadcast {
		return nil
	}
	p.seq = seq
	p.have = true
	p.reply = reply

	if p.teardownSC {
		p.teardownSC = false
		p.handshake.Reset()
		p.session = nil
		p.log.Debug("secure channel torn down after key rotation, next CHLNG re-handshakes")
	}
	return reply
}

// decodeRequestBody strips the secure envelope (when a session is
// active) or plain opcode/payload framing (bring-up and the handshake
// itself) off an incoming request's data field.
func (p *PD) decodeRequestBody(data []byte) (opcode byte, body []byte, err error) {
	if len(data) < 1 {
		return 0, nil, osdp.ErrBadLength
	}
	if p.session == nil {
		return data[0], data[1:], nil
	}
	return sc.DecodeSecureBody(p.session, p.session.ToPD, data)
}

func (p *PD) dispatch(now time.Time, opcode byte, body []byte, broadcast bool, rnd func() [8]byte) []byte {
	switch opcode {
	case osdp.OpPoll:
		if p.state == StateCapReq {
			p.state = StateOnline // first POLL after CAPREQ completes bring-up
		}
		return p.handlePoll()

	case osdp.OpIdReq:
		p.state = StateIdReq
		return p.buildReply(osdp.OpPdId, codec.EncodePdId(p.Info.Id))

	case osdp.OpCapReq:
		p.state = StateCapReq
		return p.buildReply(osdp.OpPdCap, codec.EncodeCapabilities(p.Info.Capabilities))

	case osdp.OpChlng, osdp.OpSCrypt:
		return p.handleSC(now, opcode, body, rnd)

	case osdp.OpKeySet:
		return p.handleKeySet(body)

	case osdp.OpFileTx:
		return p.handleFileChunk(body)

	default:
		return p.handleCommand(opcode, body, broadcast)
	}
}

func (p *PD) handlePoll() []byte {
	if len(p.events) > 0 {
		e := p.events[0]
		p.events = p.events[1:]
		return p.buildReply(e.Opcode(), e.Encode())
	}
	return p.buildReply(osdp.OpAck, nil)
}

func (p *PD) handleSC(now time.Time, opcode byte, body []byte, rnd func() [8]byte) []byte {
	p.handshake.Deliver(opcode, body)
	outOp, outPayload, done := p.handshake.Refresh(now, rnd)
	if done {
		if p.handshake.Err != nil {
			p.state = StateOnline
			return p.buildReply(osdp.OpNak, []byte{osdp.NakGeneric})
		}
		p.state = StateOnline
		if outOp != 0 {
			// The handshake's final ack still rides in the clear: the CP
			// has no session until it has read this reply.
			reply := p.buildReply(outOp, outPayload)
			p.session = p.handshake.Session
			return reply
		}
		p.session = p.handshake.Session
	}
	if outOp == 0 {
		return p.buildReply(osdp.OpNak, []byte{osdp.NakGeneric})
	}
	return p.buildReply(outOp, outPayload)
}

func (p *PD) handleKeySet(body []byte) []byte {
	cmd, err := codec.DecodeCommand(osdp.OpKeySet, body)
	if err != nil {
		return p.buildReply(osdp.OpNak, []byte{osdp.NakLength})
	}
	ks := cmd.(codec.CommandKeySet)
	var newKey [16]byte
	copy(newKey[:], ks.Data)
	if p.OnKeySet != nil {
		if err := p.OnKeySet(newKey); err != nil {
			p.log.Warnf("key store callback failed: %v", err)
			return p.buildReply(osdp.OpNak, []byte{osdp.NakGeneric})
		}
	}
	p.Info.SCBK = newKey
	p.handshake = sc.NewPDHandshake(p.handshake.CUID, newKey)
	p.teardownSC = true
	return p.buildReply(osdp.OpAck, nil)
}

// handleFileChunk routes a CommandFileTx chunk to the application's
// file-ops registry via OnFileChunk, replying with the PD's own
// FileTxStatus (pacing + write offset) instead of a plain ACK/NAK, since
// the CP's chunking loop needs that progress to drive the next send
// (spec.md §4.9).
func (p *PD) handleFileChunk(body []byte) []byte {
	cmd, err := codec.DecodeCommand(osdp.OpFileTx, body)
	if err != nil {
		p.log.Warnf("malformed file transfer chunk: %v", err)
		return p.buildReply(osdp.OpNak, []byte{osdp.NakLength})
	}
	if p.OnFileChunk == nil {
		return p.buildReply(osdp.OpNak, []byte{osdp.NakUnknownCommand})
	}
	status, err := p.invokeFileChunk(cmd.(codec.CommandFileTx))
	if err != nil {
		p.log.Warnf("file transfer chunk rejected: %v", err)
		return p.buildReply(osdp.OpNak, []byte{osdp.NakGeneric})
	}
	return p.buildReply(codec.FileTxStatus{}.Opcode(), status.Encode())
}

// invokeFileChunk isolates a panicking file-ops callback the same way
// invokeCallback isolates the command callback (spec.md §7).
func (p *PD) invokeFileChunk(cmd codec.CommandFileTx) (status codec.FileTxStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("file chunk callback panicked: %v", r)
			err = osdp.ErrInvalidState
		}
	}()
	return p.OnFileChunk(cmd)
}

func (p *PD) handleCommand(opcode byte, body []byte, broadcast bool) []byte {
	cmd, err := codec.DecodeCommand(opcode, body)
	if err != nil {
		p.log.Warnf("unknown or malformed command opcode x%x: %v", opcode, err)
		if broadcast {
			return nil
		}
		return p.buildReply(osdp.OpNak, []byte{osdp.NakUnknownCommand})
	}
	if p.OnCommand == nil {
		return p.buildReply(osdp.OpAck, nil)
	}
	if err := p.invokeCallback(cmd); err != nil {
		p.log.Debugf("command callback rejected %T: %v", cmd, err)
		if broadcast {
			return nil
		}
		return p.buildReply(osdp.OpNak, []byte{osdp.NakGeneric})
	}
	if broadcast {
		return nil
	}
	return p.buildReply(osdp.OpAck, nil)
}

// invokeCallback isolates a panicking application callback (spec.md §7:
// "callback panics -> engine catches, isolates the PD, does not crash
// other PDs") the same way the engine's single call site must, since no
// other boundary in the state machine invokes application code.
func (p *PD) invokeCallback(cmd codec.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("command callback panicked: %v", r)
			err = osdp.ErrInvalidState
		}
	}()
	return p.OnCommand(cmd)
}

// IsOnline reports whether the bring-up sequence has completed.
func (p *PD) IsOnline() bool { return p.state == StateOnline }

// IsSCActive reports whether a secure-channel session is currently in
// force for this PD.
func (p *PD) IsSCActive() bool { return p.session != nil }
