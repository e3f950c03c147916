// Package osdp is a pure Go implementation of the Open Supervised Device
// Protocol (IEC 60839-11-5).
package osdp

import "errors"

// Error is the closed taxonomy of engine-level failures, mirroring the
// kinds laid out in spec.md §7 rather than ad-hoc error strings.
type Error int8

const (
	ErrNone Error = iota
	ErrIllegalArgument
	ErrTimeout
	ErrWouldBlock
	ErrRxOverflow
	ErrTxOverflow
	ErrBadCRC
	ErrBadLength
	ErrBadAddress
	ErrSequenceMismatch
	ErrSecurityFail
	ErrQueueFull
	ErrInvalidState
	ErrSetup
)

var errorDescriptions = map[Error]string{
	ErrNone:             "no error",
	ErrIllegalArgument:  "error in function arguments",
	ErrTimeout:          "operation timed out",
	ErrWouldBlock:       "transport would block",
	ErrRxOverflow:       "receive buffer overflow",
	ErrTxOverflow:       "transmit queue full",
	ErrBadCRC:           "checksum or CRC mismatch",
	ErrBadLength:        "frame length invalid or exceeds negotiated buffer size",
	ErrBadAddress:       "frame address does not match this PD",
	ErrSequenceMismatch: "frame sequence number out of order",
	ErrSecurityFail:     "secure channel cryptogram or MAC mismatch",
	ErrQueueFull:        "command queue is full",
	ErrInvalidState:     "operation not valid in the current state",
	ErrSetup:            "invalid PD info or engine setup",
}

func (e Error) Error() string {
	if d, ok := errorDescriptions[e]; ok {
		return d
	}
	return "unknown error"
}

// Sentinel errors usable with errors.Is, for packages that need a plain
// error value instead of the Error kind (e.g. io-shaped APIs).
var (
	ErrChannelClosed = errors.New("osdp: channel closed")
	ErrNotFound      = errors.New("osdp: pd not found")
)
