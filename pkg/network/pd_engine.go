package network

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/go-osdp/osdp"
	"github.com/go-osdp/osdp/pkg/filetransfer"
	"github.com/go-osdp/osdp/pkg/frame"
	"github.com/go-osdp/osdp/pkg/pd"
	"github.com/go-osdp/osdp/pkg/transport"
)

type pdSlot struct {
	ctx       *pd.PD
	channelID int32
}

// PDEngine is the peripheral-device-side engine (spec.md §4.10, mirror
// of CPEngine): it owns one pd.PD per locally-hosted device, demuxes
// incoming command frames on each channel by address, and drives
// pd.PD.Handle once per refresh tick. Most deployments host a single PD
// per process; PDEngine supports more than one so a test harness or
// simulator can stand in for several devices on one bus.
type PDEngine struct {
	mgr      *transport.Manager
	decoders map[int32]*frame.Decoder
	byAddr   map[osdp.Address]*pdSlot
	slots    []*pdSlot
	cursor   int
	rnd      RandSource

	log *log.Entry
}

// NewPDEngine creates a PD-side engine. rnd supplies RND.B for SC
// handshakes initiated by a peer CP.
func NewPDEngine(mgr *transport.Manager, rnd RandSource) *PDEngine {
	return &PDEngine{
		mgr:      mgr,
		decoders: map[int32]*frame.Decoder{},
		byAddr:   map[osdp.Address]*pdSlot{},
		rnd:      rnd,
		log:      log.WithField("component", "pd-engine"),
	}
}

// AddPD hosts a new local PD on this engine.
func (e *PDEngine) AddPD(ctx *pd.PD, channelID int32) {
	s := &pdSlot{ctx: ctx, channelID: channelID}
	e.slots = append(e.slots, s)
	e.byAddr[ctx.Info.Address] = s
	if _, ok := e.decoders[channelID]; !ok {
		e.decoders[channelID] = frame.NewDecoder(osdp.DefaultBufferSize*4, func(addr osdp.Address) bool {
			_, ok := e.byAddr[addr]
			return ok
		})
	}
}

// IsOnline / IsSCActive mirror CPEngine's status queries for the PD
// role (spec.md §6).
func (e *PDEngine) IsOnline(i int) bool   { return i >= 0 && i < len(e.slots) && e.slots[i].ctx.IsOnline() }
func (e *PDEngine) IsSCActive(i int) bool { return i >= 0 && i < len(e.slots) && e.slots[i].ctx.IsSCActive() }

// SetFileOps registers the file-ops registry a hosted PD writes incoming
// CommandFileTx chunks through (spec.md §4.9 C9 receive side), wiring a
// filetransfer.Receiver into the PD's OnFileChunk hook.
func (e *PDEngine) SetFileOps(i int, ops filetransfer.FileOps) error {
	if i < 0 || i >= len(e.slots) {
		return osdp.ErrIllegalArgument
	}
	recv := filetransfer.NewReceiver(ops)
	e.slots[i].ctx.OnFileChunk = recv.HandleChunk
	return nil
}

// Refresh reads any pending command frame on each hosted PD's channel
// and drives exactly one PD's Handle per tick, round-robin, the same
// fairness discipline as CPEngine.Refresh.
func (e *PDEngine) Refresh(now time.Time) {
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

func (e *PDEngine) tickSlot(now time.Time, idx int) bool {
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

	f, err := dec.Next()
	if err != nil {
		e.log.Warnf("pd %d: frame decode error: %v", idx, err)
		return true
	}
	if f == nil {
		return true
	}

	// Route by the frame's own address, not the slot the scheduler
	// happened to be ticking: several PDs can share one channel id, and
	// whichever of them the CP just addressed is the one that owes a
	// reply this tick (spec.md §4.8).
	target := s
	if f.Address != osdp.BroadcastAddress {
		owner, ok := e.byAddr[f.Address]
		if !ok {
			return true // addressed to a PD not hosted by this engine
		}
		target = owner
	}

	reply := target.ctx.Handle(now, f, e.rnd)
	if len(reply) > 0 {
		writeAll(ch, reply)
	}
	return true
}
