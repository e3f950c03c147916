package osdp

// PdId is the PD identification block returned by an ID Report reply,
// recovered in full from original_source/rust/src/common.rs (PdId) since
// spec.md only names it as "optional PD-ID block".
type PdId struct {
	Version         int32
	Model           int32
	VendorCode      uint32 // 3-byte OUI, logically MSB-first, LE on the wire
	SerialNumber    uint32
	FirmwareVersion uint32
}

// CapabilityFunction enumerates every PD capability function code from
// original_source/rust/src/common.rs (PdCapability); spec.md §3 only
// says "advertised capabilities (PD role)" so the full list is a
// supplemented feature (SPEC_FULL.md).
type CapabilityFunction uint8

const (
	CapContactStatusMonitoring CapabilityFunction = 1
	CapOutputControl           CapabilityFunction = 2
	CapCardDataFormat          CapabilityFunction = 3
	CapLedControl              CapabilityFunction = 4
	CapAudibleOutput           CapabilityFunction = 5
	CapTextOutput              CapabilityFunction = 6
	CapTimeKeeping             CapabilityFunction = 7
	CapCheckCharacterSupport   CapabilityFunction = 8
	CapCommunicationSecurity   CapabilityFunction = 9
	CapReceiveBufferSize       CapabilityFunction = 10
	CapLargestCombinedMessage  CapabilityFunction = 11
	CapSmartCardSupport        CapabilityFunction = 12
	CapReaders                 CapabilityFunction = 13
	CapBiometrics              CapabilityFunction = 14
)

// Capability is one advertised (function, compliance, num_items) triple.
type Capability struct {
	Function   CapabilityFunction
	Compliance uint8
	NumItems   uint8
}

// PdInfo is the static, immutable-for-lifetime descriptor of one PD,
// spec.md §3 "PD Info".
type PdInfo struct {
	Name         string
	Address      Address
	BaudRate     int
	Flags        Flags
	Id           PdId
	Capabilities []Capability
	ChannelID    int32
	// SCBK is the 16-byte secure channel base key, copied into the PD
	// context at setup and never exposed again (spec.md §3 Ownership).
	SCBK [16]byte
}

// Validate checks the constraints setup must enforce (spec.md §7 Setup
// errors): address range and a present, non-broadcast address.
func (p *PdInfo) Validate() error {
	if p.Address >= BroadcastAddress {
		return ErrSetup
	}
	if p.ChannelID < 0 {
		return ErrSetup
	}
	return nil
}
