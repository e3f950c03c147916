// Package config loads a PD descriptor list from an INI file, the
// engine-facing counterpart of the out-of-scope device-management CLI
// (spec.md §1 "Out of scope": the CLI itself is not specified here, but
// loading the descriptors it would hand to the engine is in-scope
// ambient infrastructure).
//
// Grounded on the teacher's pkg/od (EDS/INI object-dictionary) parser:
// same gopkg.in/ini.v1 section-iteration style, same pattern of one
// section per logical entity with typed key lookups, generalized from
// CANopen object entries to OSDP PD descriptors.
package config

import (
	"encoding/hex"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"github.com/go-osdp/osdp"
)

// flagNames maps the INI "flags" key's comma-separated tokens to
// osdp.Flag values.
var flagNames = map[string]osdp.Flag{
	"enforce_secure":     osdp.FlagEnforceSecure,
	"install_mode":       osdp.FlagInstallMode,
	"ignore_unsolicited": osdp.FlagIgnoreUnsolicited,
}

// LoadPDInfos parses path into one osdp.PdInfo per non-default INI
// section. Each section is named by the PD's human-readable name and
// carries keys:
//
//	address    = 0x65        (or decimal)
//	channel    = 1
//	baud       = 9600
//	scbk       = 000102...0f (32 hex chars, optional; zero key if absent)
//	flags      = enforce_secure, install_mode
func LoadPDInfos(path string) ([]*osdp.PdInfo, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var infos []*osdp.PdInfo
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		info, err := parseSection(section)
		if err != nil {
			return nil, fmt.Errorf("config: section %q: %w", section.Name(), err)
		}
		if err := info.Validate(); err != nil {
			return nil, fmt.Errorf("config: section %q: %w", section.Name(), err)
		}
		log.WithFields(log.Fields{"pd": info.Name, "address": info.Address}).Debug("loaded PD descriptor")
		infos = append(infos, info)
	}
	if len(infos) > osdp.MaxPDs {
		return nil, osdp.ErrSetup
	}
	return infos, nil
}

func parseSection(section *ini.Section) (*osdp.PdInfo, error) {
	addr, err := section.Key("address").Int()
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}
	channel, err := section.Key("channel").Int()
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	baud := section.Key("baud").MustInt(9600)

	info := &osdp.PdInfo{
		Name:      section.Name(),
		Address:   osdp.Address(addr),
		BaudRate:  baud,
		ChannelID: int32(channel),
	}

	if raw := section.Key("scbk").String(); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil || len(key) != 16 {
			return nil, fmt.Errorf("scbk: expected 32 hex characters")
		}
		copy(info.SCBK[:], key)
	}

	for _, tok := range section.Key("flags").Strings(",") {
		flag, ok := flagNames[tok]
		if !ok {
			return nil, fmt.Errorf("unknown flag %q", tok)
		}
		info.Flags.Set(flag, true)
	}

	return info, nil
}
