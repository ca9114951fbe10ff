package eni

import (
	"path/filepath"
	"testing"

	"github.com/samsamfire/goethercat/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleENI = `
[Slave_1001]
VendorId = 0x00000002
ProductCode = 0x0bad0bad
Domain = 0

[Slave_1001_FMMU_0]
Direction = OUTPUT
PhysicalStart = 0x1000
DataSize = 2

[Slave_1001_FMMU_1]
Direction = INPUT
PhysicalStart = 0x1100
DataSize = 2

[Slave_1001_PDO_0]
Direction = OUTPUT
Index = 0x7000
Subindex = 0x01
BitLength = 16
`

func TestLoadParsesSlaveFMMUsAndPDOs(t *testing.T) {
	cfg, err := Load([]byte(sampleENI))
	require.NoError(t, err)
	require.Len(t, cfg.Slaves, 1)

	s := cfg.Slaves[0]
	assert.Equal(t, uint16(0x1001), s.StationAddress)
	assert.Equal(t, uint32(0x0bad0bad), s.ProductCode)
	require.Len(t, s.FMMUs, 2)
	assert.Equal(t, domain.Output, s.FMMUs[0].Direction)
	assert.Equal(t, uint16(0x1000), s.FMMUs[0].PhysicalStart)
	assert.Equal(t, domain.Input, s.FMMUs[1].Direction)
	require.Len(t, s.PDOs, 1)
	assert.Equal(t, uint16(0x7000), s.PDOs[0].Entry.Index)
}

func TestExportThenLoadRoundTrips(t *testing.T) {
	cfg, err := Load([]byte(sampleENI))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "eni.ini")
	require.NoError(t, Export(cfg, path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, reloaded.Slaves, 1)
	assert.Equal(t, cfg.Slaves[0].StationAddress, reloaded.Slaves[0].StationAddress)
	assert.Equal(t, cfg.Slaves[0].FMMUs, reloaded.Slaves[0].FMMUs)
	assert.Equal(t, cfg.Slaves[0].PDOs, reloaded.Slaves[0].PDOs)
}

func TestFMMUReferencingUnknownSlaveErrors(t *testing.T) {
	_, err := Load([]byte("[Slave_2002_FMMU_0]\nDirection = OUTPUT\nPhysicalStart = 0x1000\nDataSize = 2\n"))
	assert.Error(t, err)
}
