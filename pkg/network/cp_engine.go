// Package network implements the CP scheduler / multi-drop mux (spec.md
// §4.8, C8) and the engine API surface (spec.md §4.10, C10): the
// round-robin PD selection, the non-blocking channel mutex acquisition,
// and the refresh()/send_command()/event-callback/status-query methods
// the application drives the whole stack through.
//
// Grounded on the teacher's root Network type (network.go): a
// map-indexed registry of per-node controllers plus a shared bus
// manager, generalized from CANopen's goroutine-per-node processing
// loop (which spec.md §5 rules out for this protocol: "no thread is
// owned by the engine") to a single refresh() tick that advances
// exactly one due PD per call.
package network

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/go-osdp/osdp"
	"github.com/go-osdp/osdp/pkg/codec"
	"github.com/go-osdp/osdp/pkg/cp"
	"github.com/go-osdp/osdp/pkg/filetransfer"
	"github.com/go-osdp/osdp/pkg/frame"
	"github.com/go-osdp/osdp/pkg/transport"
)

// RandSource supplies RND.A for each PD's secure-channel handshakes.
type RandSource func() [8]byte

type cpSlot struct {
	ctx       *cp.CP
	channelID int32
	pollCount int

	sender *filetransfer.Sender
}

// CPEngine is the control-panel-side engine: it owns one cp.CP per
// configured PD, a transport.Manager shared-channel registry, and one
// frame.Decoder per channel id (several PDs on the same channel share
// their channel's decode buffer, since only the addressed PD replies at
// a time in this half-duplex protocol).
type CPEngine struct {
	mgr      *transport.Manager
	decoders map[int32]*frame.Decoder
	slots    []*cpSlot
	cursor   int

	onEvent func(pdIndex int, e codec.Event)

	log *log.Entry
}

// NewCPEngine creates an engine bound to mgr, which must already have
// every PD's channel registered (spec.md §4.8 "Channel identity
// collapses into a lookup table").
func NewCPEngine(mgr *transport.Manager) *CPEngine {
	return &CPEngine{
		mgr:      mgr,
		decoders: map[int32]*frame.Decoder{},
		log:      log.WithField("component", "cp-engine"),
	}
}

// AddPD registers a new PD under this engine, returning its stable
// index for use with SendCommand/IsOnline/etc. Fails setup per spec.md
// §7 if the PD count would exceed osdp.MaxPDs or the descriptor is
// invalid.
func (e *CPEngine) AddPD(info *osdp.PdInfo, rnd RandSource) (int, error) {
	if len(e.slots) >= osdp.MaxPDs {
		return -1, osdp.ErrSetup
	}
	if err := info.Validate(); err != nil {
		return -1, err
	}
	if _, ok := e.decoders[info.ChannelID]; !ok {
		e.decoders[info.ChannelID] = frame.NewDecoder(osdp.DefaultBufferSize*4, nil)
	}
	idx := len(e.slots)
	ctx := cp.New(info, rnd)
	ctx.OnEvent = func(ev codec.Event) {
		if e.onEvent != nil {
			e.onEvent(idx, ev)
		}
	}
	slot := &cpSlot{ctx: ctx, channelID: info.ChannelID}
	ctx.OnFileStatus = func(status codec.FileTxStatus) {
		e.onFileStatus(slot, status)
	}
	e.slots = append(e.slots, slot)
	return idx, nil
}

// StartFileTransfer begins a C9 chunked file push to PD pdIndex (spec.md
// §4.9), sending the first chunk as soon as a poll slot is free. Only
// one transfer per PD runs at a time; starting a second one while the
// first is still in flight replaces it.
func (e *CPEngine) StartFileTransfer(pdIndex int, id uint8, ops filetransfer.FileOps) error {
	s, err := e.slot(pdIndex)
	if err != nil {
		return err
	}
	sender, err := filetransfer.NewSender(s.ctx.Info.Address, id, ops, s.ctx.Info.Capabilities)
	if err != nil {
		return err
	}
	s.sender = sender
	return e.pumpFileTransfer(s)
}

// FileTransferProgress reports (size, offset, done) for the most
// recently started transfer on PD pdIndex, or ok=false if none was ever
// started. The sender is kept around after completion (rather than
// cleared) specifically so Done()/Err() stay queryable afterward.
func (e *CPEngine) FileTransferProgress(pdIndex int) (size, offset uint32, done, ok bool) {
	s, err := e.slot(pdIndex)
	if err != nil || s.sender == nil {
		return 0, 0, false, false
	}
	size, offset = s.sender.Progress()
	return size, offset, s.sender.Done(), true
}

func (e *CPEngine) pumpFileTransfer(s *cpSlot) error {
	cmd, more := s.sender.Next()
	if !more {
		if err := s.sender.Err(); err != nil {
			e.log.Warnf("file transfer to pd x%x failed: %v", s.ctx.Info.Address, err)
		}
		return nil
	}
	return s.ctx.SubmitCommand(cmd)
}

func (e *CPEngine) onFileStatus(s *cpSlot, status codec.FileTxStatus) {
	if s.sender == nil || s.sender.Done() {
		return
	}
	s.sender.Ack(status)
	if s.sender.Done() {
		if err := s.sender.Err(); err != nil {
			e.log.Warnf("file transfer to pd x%x failed: %v", s.ctx.Info.Address, err)
		}
		return
	}
	if err := e.pumpFileTransfer(s); err != nil {
		e.log.Warnf("file transfer to pd x%x could not queue next chunk: %v", s.ctx.Info.Address, err)
	}
}

// SetEventCallback registers the single application-wide event sink
// (spec.md §6 "CP event callback: (pd_index, Event) → i32"; the
// reserved int return is not meaningful here, so the callback is a
// plain func taking the decoded event).
func (e *CPEngine) SetEventCallback(cb func(pdIndex int, e codec.Event)) {
	e.onEvent = cb
}

// SendCommand enqueues cmd for PD pdIndex, FIFO, bounded per spec.md
// §4.7 (CommandQueueSize).
func (e *CPEngine) SendCommand(pdIndex int, cmd codec.Command) error {
	s, err := e.slot(pdIndex)
	if err != nil {
		return err
	}
	return s.ctx.SubmitCommand(cmd)
}

func (e *CPEngine) slot(pdIndex int) (*cpSlot, error) {
	if pdIndex < 0 || pdIndex >= len(e.slots) {
		return nil, osdp.ErrIllegalArgument
	}
	return e.slots[pdIndex], nil
}

// IsOnline reports whether PD pdIndex has completed its online sequence
// (spec.md §6).
func (e *CPEngine) IsOnline(pdIndex int) bool {
	s, err := e.slot(pdIndex)
	return err == nil && s.ctx.IsOnline()
}

// IsSCActive reports whether a secure-channel session is in force for
// PD pdIndex (spec.md §6).
func (e *CPEngine) IsSCActive(pdIndex int) bool {
	s, err := e.slot(pdIndex)
	return err == nil && s.ctx.IsSCActive()
}

// SetFlag toggles a per-PD configuration flag at runtime (spec.md §6).
func (e *CPEngine) SetFlag(pdIndex int, flag osdp.Flag, on bool) error {
	s, err := e.slot(pdIndex)
	if err != nil {
		return err
	}
	s.ctx.Info.Flags.Set(flag, on)
	return nil
}

// SendBroadcast issues cmd to every PD on channelID in a dedicated slot
// and does not wait for (or expect) a reply, per spec.md §4.8
// ("Broadcast commands are issued in dedicated slots and no reply is
// awaited"). It returns osdp.ErrWouldBlock if the channel is currently
// held by a regular per-PD poll, for the caller to retry next tick.
func (e *CPEngine) SendBroadcast(channelID int32, cmd codec.Command) error {
	ch, release, ok := e.mgr.TryAcquire(channelID)
	if !ok {
		return osdp.ErrWouldBlock
	}
	defer release()

	body := append([]byte{cmd.Opcode()}, cmd.Encode()...)
	control := frame.NewControlByte(0, true, false, false)
	wire, err := frame.Encode(osdp.BroadcastAddress, control, body)
	if err != nil {
		return err
	}
	writeAll(ch, wire)
	return nil
}

// Refresh runs one scheduler tick (spec.md §4.10 refresh(), §4.8
// scheduler): it picks the next due PD round-robin, starting just past
// the last one served, and tries every slot at most once this call so a
// single contended channel can't starve the rest of the bus. The first
// PD whose channel lock is acquired is driven through exactly one
// send/recv step; its channel is released before Refresh returns.
func (e *CPEngine) Refresh(now time.Time) {
	n := len(e.slots)
	if n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		idx := (e.cursor + i) % n
		if e.tickSlot(now, idx) {
			e.cursor = (idx + 1) % n
			return
		}
	}
}

// slotForAddress finds the slot on channelID addressed by addr. A reply
// decoded off a shared channel only rarely belongs to the slot the
// scheduler happened to be ticking when it arrived (spec.md §4.8: a
// reply surfaces one Refresh tick after the request that produced it,
// by which time round-robin has usually moved on to a different PD), so
// routing has to be by address, independent of the round-robin cursor.
func (e *CPEngine) slotForAddress(channelID int32, addr osdp.Address) *cpSlot {
	for _, s := range e.slots {
		if s.channelID == channelID && s.ctx.Info.Address == addr {
			return s
		}
	}
	return nil
}

func (e *CPEngine) tickSlot(now time.Time, idx int) bool {
	s := e.slots[idx]
	ch, release, ok := e.mgr.TryAcquire(s.channelID)
	if !ok {
		return false
	}
	defer release()

	dec := e.decoders[s.channelID]
	var rxbuf [512]byte
	if n, err := ch.Read(rxbuf[:]); err == nil && n > 0 {
		dec.Feed(rxbuf[:n])
	}

	var incoming *frame.Frame
	if f, err := dec.Next(); err != nil {
		e.log.Warnf("pd %d: frame decode error: %v", idx, err)
	} else if f != nil {
		incoming = f
	}

	if incoming != nil {
		owner := e.slotForAddress(s.channelID, incoming.Address)
		if owner == nil {
			e.log.Debugf("dropped reply from unregistered address x%x", incoming.Address)
		} else {
			out := owner.ctx.Tick(now, incoming)
			if len(out) > 0 {
				owner.pollCount++
				writeAll(ch, out)
				return true
			}
			// Owner consumed the reply and owes no immediate follow-up
			// (only an SC handshake step produces one); fall through to
			// the originally scheduled slot's own turn.
		}
	}

	out := s.ctx.Tick(now, nil)
	if len(out) == 0 {
		return true
	}
	s.pollCount++
	writeAll(ch, out)
	return true
}

// PollCount reports how many times the scheduler has actually
// transmitted a request (POLL, bring-up, or command) to PD pdIndex;
// spec.md §8's multi-drop fairness property is phrased in terms of POLL
// opportunities per PD, which this exposes for test/telemetry use
// without coupling callers to channel byte-counting.
func (e *CPEngine) PollCount(pdIndex int) int {
	s, err := e.slot(pdIndex)
	if err != nil {
		return 0
	}
	return s.pollCount
}

// writeAll retries partial writes, tolerating would-block per spec.md
// §4.1 ("partial writes must be retried by the caller").
func writeAll(ch transport.Channel, data []byte) {
	for len(data) > 0 {
		n, err := ch.Write(data)
		if err != nil {
			return
		}
		if n == 0 {
			return
		}
		data = data[n:]
	}
	_ = ch.Flush()
}
