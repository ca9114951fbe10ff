// Package eni parses and exports an ENI-style master configuration file
// (EtherCAT Network Information): the list of slaves on the bus, their
// FMMU/PDO layout and station addresses, supplying the
// domain.AddFMMUConfig inputs spec.md's data model assumes already exist
// (spec §6 supplemented features).
//
// Grounded on the teacher's pkg/od/parser_v1.go (ini.Load + section-name
// regex walk building up typed entries) and pkg/od/export.go (ini.Empty()
// + NewSection/NewKey + SaveTo), generalized from CiA 301 object
// dictionary sections ("1018", "1018sub1") to per-slave/per-FMMU/per-PDO
// sections ("Slave_1001", "Slave_1001_FMMU_0").
package eni

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/domain"
)

var (
	matchSlave = regexp.MustCompile(`^Slave_([0-9A-Fa-f]{4})$`)
	matchFMMU  = regexp.MustCompile(`^Slave_([0-9A-Fa-f]{4})_FMMU_(\d+)$`)
	matchPDO   = regexp.MustCompile(`^Slave_([0-9A-Fa-f]{4})_PDO_(\d+)$`)
)

// FMMUEntry is one FMMU configuration as read from (or written to) an
// ENI file, before it is applied to a live domain via AddFMMUConfig.
type FMMUEntry struct {
	Direction     domain.Direction
	PhysicalStart uint16
	DataSize      int
}

// PDOEntryEni pairs a mapped object with the direction it belongs on,
// the on-disk shape of config.PDOEntry.
type PDOEntryEni struct {
	Direction domain.Direction
	Entry     config.PDOEntry
}

// SlaveEntry is one slave's full configuration as read from an ENI file.
type SlaveEntry struct {
	StationAddress uint16
	VendorID       uint32
	ProductCode    uint32
	Domain         int
	FMMUs          []FMMUEntry
	PDOs           []PDOEntryEni
}

// Config is a parsed ENI file: every slave on the bus and its layout.
type Config struct {
	Slaves []SlaveEntry
}

// Load parses an ENI file. file can be a path, []byte, or io.Reader, any
// of the types ini.Load accepts.
func Load(file any) (*Config, error) {
	raw, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("eni: %w", err)
	}

	byAddr := map[uint16]*SlaveEntry{}
	var order []uint16

	for _, section := range raw.Sections() {
		name := section.Name()

		if m := matchSlave.FindStringSubmatch(name); m != nil {
			addr, err := parseHex16(m[1])
			if err != nil {
				return nil, fmt.Errorf("eni: section %s: %w", name, err)
			}
			vendorID, _ := strconv.ParseUint(section.Key("VendorId").String(), 0, 32)
			productCode, _ := strconv.ParseUint(section.Key("ProductCode").String(), 0, 32)
			domainNb, _ := strconv.Atoi(section.Key("Domain").String())
			e := &SlaveEntry{
				StationAddress: addr,
				VendorID:       uint32(vendorID),
				ProductCode:    uint32(productCode),
				Domain:         domainNb,
			}
			byAddr[addr] = e
			order = append(order, addr)
			continue
		}

		if m := matchFMMU.FindStringSubmatch(name); m != nil {
			addr, err := parseHex16(m[1])
			if err != nil {
				return nil, fmt.Errorf("eni: section %s: %w", name, err)
			}
			e, ok := byAddr[addr]
			if !ok {
				return nil, fmt.Errorf("eni: FMMU section %s references unknown slave %04x", name, addr)
			}
			dir, err := parseDirection(section.Key("Direction").String())
			if err != nil {
				return nil, fmt.Errorf("eni: section %s: %w", name, err)
			}
			physicalStart, _ := strconv.ParseUint(section.Key("PhysicalStart").String(), 0, 16)
			dataSize, _ := strconv.Atoi(section.Key("DataSize").String())
			e.FMMUs = append(e.FMMUs, FMMUEntry{
				Direction:     dir,
				PhysicalStart: uint16(physicalStart),
				DataSize:      dataSize,
			})
			continue
		}

		if m := matchPDO.FindStringSubmatch(name); m != nil {
			addr, err := parseHex16(m[1])
			if err != nil {
				return nil, fmt.Errorf("eni: section %s: %w", name, err)
			}
			e, ok := byAddr[addr]
			if !ok {
				return nil, fmt.Errorf("eni: PDO section %s references unknown slave %04x", name, addr)
			}
			dir, err := parseDirection(section.Key("Direction").String())
			if err != nil {
				return nil, fmt.Errorf("eni: section %s: %w", name, err)
			}
			index, _ := strconv.ParseUint(section.Key("Index").String(), 0, 16)
			subindex, _ := strconv.ParseUint(section.Key("Subindex").String(), 0, 8)
			bitLength, _ := strconv.ParseUint(section.Key("BitLength").String(), 0, 16)
			e.PDOs = append(e.PDOs, PDOEntryEni{
				Direction: dir,
				Entry: config.PDOEntry{
					Index:     uint16(index),
					Subindex:  uint8(subindex),
					BitLength: uint16(bitLength),
				},
			})
			continue
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	cfg := &Config{}
	for _, addr := range order {
		cfg.Slaves = append(cfg.Slaves, *byAddr[addr])
	}
	return cfg, nil
}

// Export writes cfg to filename as an ENI-format ini file.
func Export(cfg *Config, filename string) error {
	out := ini.Empty()
	for _, s := range cfg.Slaves {
		name := fmt.Sprintf("Slave_%04x", s.StationAddress)
		section, err := out.NewSection(name)
		if err != nil {
			return err
		}
		if _, err := section.NewKey("VendorId", hex32(s.VendorID)); err != nil {
			return err
		}
		if _, err := section.NewKey("ProductCode", hex32(s.ProductCode)); err != nil {
			return err
		}
		if _, err := section.NewKey("Domain", strconv.Itoa(s.Domain)); err != nil {
			return err
		}

		for i, f := range s.FMMUs {
			fs, err := out.NewSection(fmt.Sprintf("%s_FMMU_%d", name, i))
			if err != nil {
				return err
			}
			if _, err := fs.NewKey("Direction", f.Direction.String()); err != nil {
				return err
			}
			if _, err := fs.NewKey("PhysicalStart", hex16(f.PhysicalStart)); err != nil {
				return err
			}
			if _, err := fs.NewKey("DataSize", strconv.Itoa(f.DataSize)); err != nil {
				return err
			}
		}

		for i, p := range s.PDOs {
			ps, err := out.NewSection(fmt.Sprintf("%s_PDO_%d", name, i))
			if err != nil {
				return err
			}
			if _, err := ps.NewKey("Direction", p.Direction.String()); err != nil {
				return err
			}
			if _, err := ps.NewKey("Index", hex16(p.Entry.Index)); err != nil {
				return err
			}
			if _, err := ps.NewKey("Subindex", fmt.Sprintf("0x%02x", p.Entry.Subindex)); err != nil {
				return err
			}
			if _, err := ps.NewKey("BitLength", strconv.Itoa(int(p.Entry.BitLength))); err != nil {
				return err
			}
		}
	}
	return out.SaveTo(filename)
}

func parseHex16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	return uint16(v), err
}

func parseDirection(s string) (domain.Direction, error) {
	switch s {
	case "OUTPUT":
		return domain.Output, nil
	case "INPUT":
		return domain.Input, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

func hex16(v uint16) string { return fmt.Sprintf("0x%04x", v) }
func hex32(v uint32) string { return fmt.Sprintf("0x%08x", v) }
