package crypto

// RollingMAC tracks the chained CBC-MAC state for one direction of one
// secure-channel session. spec.md §4.3 invariant: "the rolling MAC state
// is per-direction and must be reset on every SC handshake; any
// deviation breaks interop" — callers must construct a fresh RollingMAC
// (or call Reset) at SC_DONE, never reuse one across handshakes.
type RollingMAC struct {
	mac1, mac2 [BlockSize]byte
	last       [BlockSize]byte
	started    bool
}

// NewRollingMAC seeds a RollingMAC with the session keys derived at
// SC_DONE. The chain starts from the all-zero block.
func NewRollingMAC(mac1, mac2 [BlockSize]byte) *RollingMAC {
	return &RollingMAC{mac1: mac1, mac2: mac2}
}

// Reset clears the chain back to the all-zero block without discarding
// the session keys, used when a new handshake rekeys the same direction.
func (r *RollingMAC) Reset() {
	r.last = [BlockSize]byte{}
	r.started = false
}

// Next folds message into the chain and returns the new 16-byte MAC
// value. The full value is kept as both the next chaining input and the
// IV source for the following frame's payload encryption; only its
// first 4 bytes ride on the wire (Truncate4).
func (r *RollingMAC) Next(message []byte) [BlockSize]byte {
	r.last = MAC(r.mac1, r.mac2, r.last, message)
	r.started = true
	return r.last
}

// IV returns the current chain value, used to seed CBC payload
// encryption for the next frame in this direction.
func (r *RollingMAC) IV() [BlockSize]byte {
	return r.last
}

// Started reports whether at least one message has been MAC'd since the
// last Reset.
func (r *RollingMAC) Started() bool {
	return r.started
}
