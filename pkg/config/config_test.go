package config

import (
	"testing"

	"github.com/samsamfire/goethercat/pkg/domain"
	"github.com/samsamfire/goethercat/pkg/request"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFMMUConfigTagsDomainWithStationAddress(t *testing.T) {
	dom := domain.New(0, nil)
	cfg := New(0x1001, 0x00000002, 0x0bad0bad)

	f, err := cfg.AddFMMUConfig(dom, domain.Output, 0x1000, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.SlaveConfigID(0x1001), f.SlaveConfig)
	assert.Len(t, cfg.FMMUs(), 1)
}

func TestPDOEntriesSplitByDirection(t *testing.T) {
	cfg := New(0x1001, 0, 0)
	cfg.AddPDOEntry(domain.Output, PDOEntry{Index: 0x7000, Subindex: 1, BitLength: 16})
	cfg.AddPDOEntry(domain.Input, PDOEntry{Index: 0x6000, Subindex: 1, BitLength: 16})

	assert.Len(t, cfg.Outputs(), 1)
	assert.Len(t, cfg.Inputs(), 1)
	assert.Equal(t, uint16(0x7000), cfg.Outputs()[0].Index)
}

func TestBindAttachesRegisterConfigToSlave(t *testing.T) {
	sl := slave.New(0x1001, 0)
	cfg := New(0x1001, 0, 0)
	cfg.RegisterConfig().AddRegisterRequest(request.NewRegister(0x0130, request.RegisterInput, make([]byte, 2)))

	cfg.Bind(sl)

	require.NotNil(t, sl.Config())
	assert.Len(t, sl.Config().RegisterRequests(), 1)
}
