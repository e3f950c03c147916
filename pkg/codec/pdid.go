package codec

import (
	"encoding/binary"

	"github.com/go-osdp/osdp"
)

// EncodePdId builds the osdp.OpPdId reply body: vendor code (3 bytes),
// model (1), version (1), serial number (4, LE), firmware version (3,
// LE, major/minor/build). Grounded on original_source/rust/src/lib.rs
// PdId field set (vendor_code, model, version, serial_number,
// firmware_version), laid out on the wire the same length-prefix-free
// way the teacher's node-id/heartbeat constants are packed: every field
// has a fixed, spec-given width.
func EncodePdId(id osdp.PdId) []byte {
	buf := make([]byte, 12)
	buf[0] = byte(id.VendorCode)
	buf[1] = byte(id.VendorCode >> 8)
	buf[2] = byte(id.VendorCode >> 16)
	buf[3] = byte(id.Model)
	buf[4] = byte(id.Version)
	binary.LittleEndian.PutUint32(buf[5:9], id.SerialNumber)
	buf[9] = byte(id.FirmwareVersion)
	buf[10] = byte(id.FirmwareVersion >> 8)
	buf[11] = byte(id.FirmwareVersion >> 16)
	return buf
}

func DecodePdId(data []byte) (osdp.PdId, error) {
	if len(data) != 12 {
		return osdp.PdId{}, osdp.ErrBadLength
	}
	vendor := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
	firmware := uint32(data[9]) | uint32(data[10])<<8 | uint32(data[11])<<16
	return osdp.PdId{
		VendorCode:      vendor,
		Model:           int32(data[3]),
		Version:         int32(data[4]),
		SerialNumber:    binary.LittleEndian.Uint32(data[5:9]),
		FirmwareVersion: firmware,
	}, nil
}

// EncodeCapabilities builds the osdp.OpPdCap reply body: a flat run of
// 3-byte (function, compliance, num-items) tuples, one per advertised
// capability, the layout original_source/rust/src/lib.rs's PdCapEntry
// uses.
func EncodeCapabilities(caps []osdp.Capability) []byte {
	buf := make([]byte, 0, len(caps)*3)
	for _, c := range caps {
		buf = append(buf, byte(c.Function), c.Compliance, c.NumItems)
	}
	return buf
}

func DecodeCapabilities(data []byte) ([]osdp.Capability, error) {
	if len(data)%3 != 0 {
		return nil, osdp.ErrBadLength
	}
	caps := make([]osdp.Capability, 0, len(data)/3)
	for i := 0; i < len(data); i += 3 {
		caps = append(caps, osdp.Capability{
			Function:   osdp.CapabilityFunction(data[i]),
			Compliance: data[i+1],
			NumItems:   data[i+2],
		})
	}
	return caps, nil
}
