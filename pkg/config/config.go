// Package config is the slave-config layer (spec §6 supplemented
// features): the PDO entry list and FMMU bindings a slave is configured
// with, plus ownership of its internal register-request slots. It sits
// between pkg/eni (which discovers this layout from a master
// configuration file) and pkg/domain (which needs AddFMMUConfig calls at
// slave-config-ordered insertion time, spec §4.3).
//
// Grounded on the teacher's config.NodeConfigurator/pdo.go:
// PDOMappingParameter's {Index, Subindex, LengthBits} shape is carried
// over verbatim as PDOEntry, generalized from a CANopen PDO mapping
// object's own SDO-writable sub-entries to an EtherCAT FMMU's
// statically-known byte layout.
package config

import (
	"sync"

	"github.com/samsamfire/goethercat/pkg/domain"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// PDOEntry is one mapped object inside a slave's process image, the
// EtherCAT analogue of a CANopen PDO mapping sub-entry.
type PDOEntry struct {
	Index     uint16
	Subindex  uint8
	BitLength uint16
}

// SlaveConfig is the full configuration of one slave: its station
// address identifies it to domain.AddFMMUConfig's distinctness rule
// (spec §4.3 "Counter update rule"), and it owns the slave's register
// request slots (spec §4.1.2).
type SlaveConfig struct {
	mu sync.Mutex

	StationAddress uint16
	VendorID       uint32
	ProductCode    uint32

	outputs []PDOEntry
	inputs  []PDOEntry

	fmmus      []*domain.FMMU
	regConfig  *slave.Config
}

// New builds an empty slave configuration. Call AddFMMUConfig /
// AddPDOEntry to populate it, then Bind to attach it to a live slave.
func New(stationAddress uint16, vendorID, productCode uint32) *SlaveConfig {
	return &SlaveConfig{
		StationAddress: stationAddress,
		VendorID:       vendorID,
		ProductCode:    productCode,
		regConfig:      slave.NewConfig(),
	}
}

// ID is this slave-config's identity for domain.AddFMMUConfig's
// distinctness rule; the station address is a stable, unique choice.
func (c *SlaveConfig) ID() domain.SlaveConfigID {
	return domain.SlaveConfigID(c.StationAddress)
}

// AddFMMUConfig adds one FMMU covering physicalStart..physicalStart+dataSize
// of this slave's memory to dom, tagged with this slave-config's identity
// (spec §4.3).
func (c *SlaveConfig) AddFMMUConfig(dom *domain.Domain, dir domain.Direction, physicalStart uint16, dataSize int) (*domain.FMMU, error) {
	f, err := dom.AddFMMUConfig(c.ID(), dir, physicalStart, dataSize)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.fmmus = append(c.fmmus, f)
	c.mu.Unlock()
	return f, nil
}

// FMMUs returns the FMMUs added through this config, in insertion order.
func (c *SlaveConfig) FMMUs() []*domain.FMMU {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*domain.FMMU(nil), c.fmmus...)
}

// AddPDOEntry appends one mapped object to the output (master-writes) or
// input (master-reads) side of this slave's process image.
func (c *SlaveConfig) AddPDOEntry(dir domain.Direction, e PDOEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dir == domain.Output {
		c.outputs = append(c.outputs, e)
	} else {
		c.inputs = append(c.inputs, e)
	}
}

func (c *SlaveConfig) Outputs() []PDOEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PDOEntry(nil), c.outputs...)
}

func (c *SlaveConfig) Inputs() []PDOEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PDOEntry(nil), c.inputs...)
}

// RegisterConfig returns the owning slave.Config this configuration
// manages register-request slots through (spec §4.1.2).
func (c *SlaveConfig) RegisterConfig() *slave.Config {
	return c.regConfig
}

// Bind attaches this configuration (and its register-request slots) to a
// live slave, the missing wiring step spec.md's data model assumes
// already happened (spec §6).
func (c *SlaveConfig) Bind(s *slave.Slave) {
	s.SetConfig(c.regConfig)
}
