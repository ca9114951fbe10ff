package domain

import (
	"testing"

	ecat "github.com/samsamfire/goethercat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwoPairPacking(t *testing.T) {
	d := New(1, nil)
	f1, err := d.AddFMMUConfig(1, Output, 0, 800)
	require.NoError(t, err)
	f2, err := d.AddFMMUConfig(2, Input, 0, 800)
	require.NoError(t, err)
	f3, err := d.AddFMMUConfig(3, Output, 0, 800)
	require.NoError(t, err)
	f4, err := d.AddFMMUConfig(4, Input, 0, 100)
	require.NoError(t, err)

	// 1600 exceeds EcMaxDataSize (1486) the same way it exceeds the
	// scenario's illustrative 1500, so the packing split lands on the
	// same boundary as the spec's worked example regardless of the
	// exact constant.
	require.NoError(t, d.Finish(0x10000))
	pairs := d.Pairs()
	require.Len(t, pairs, 2)

	assert.Equal(t, 0, pairs[0].Offset)
	assert.Equal(t, 1600, pairs[0].Size)
	assert.Equal(t, ecat.CmdLRW, pairs[0].Datagrams[ecat.DeviceMain].Command)
	assert.Equal(t, uint32(3), pairs[0].ExpectedWorkingCounter)

	assert.Equal(t, 1600, pairs[1].Offset)
	assert.Equal(t, 900, pairs[1].Size)
	assert.Equal(t, ecat.CmdLRW, pairs[1].Datagrams[ecat.DeviceMain].Command)
	assert.Equal(t, uint32(3), pairs[1].ExpectedWorkingCounter)

	assert.Equal(t, uint32(6), d.expectedWC)

	assert.Equal(t, f1.pair, pairs[0])
	assert.Equal(t, f2.pair, pairs[0])
	assert.Equal(t, f3.pair, pairs[1])
	assert.Equal(t, f4.pair, pairs[1])

	// The oversized pair's datagrams must carry a full-size buffer, not
	// one capped at EcMaxDataSize, or Queue/Process would overrun it.
	require.Len(t, pairs[0].Datagrams[ecat.DeviceMain].Data, 1600)
	require.Len(t, pairs[0].Datagrams[ecat.DeviceBackup].Data, 1600)

	out := make([]byte, 800)
	for i := range out {
		out[i] = byte(i)
	}
	copy(d.Data()[0:800], out)
	mgr := ecat.NewDatagramManager(nil)
	require.NoError(t, d.Queue(mgr))
	assert.Equal(t, out, pairs[0].Datagrams[ecat.DeviceMain].Data[0:800])
	assert.Equal(t, out, pairs[0].Datagrams[ecat.DeviceBackup].Data[0:800])

	in := make([]byte, 800)
	for i := range in {
		in[i] = byte(200 + i)
	}
	copy(pairs[0].Datagrams[ecat.DeviceMain].Data[800:1600], in)
	pairs[0].Datagrams[ecat.DeviceMain].WorkingCounter = 1
	assert.NotPanics(t, func() { d.Process() })
	assert.Equal(t, in, d.Data()[800:1600])
}

func TestRedundancyFallback(t *testing.T) {
	d := New(1, nil)
	_, err := d.AddFMMUConfig(1, Input, 0, 4)
	require.NoError(t, err)
	require.NoError(t, d.Finish(0))

	pairs := d.Pairs()
	require.Len(t, pairs, 1)
	pair := pairs[0]

	// Cycle N: main and backup agree, WC complete.
	copy(pair.Datagrams[ecat.DeviceMain].Data, []byte{1, 2, 3, 4})
	copy(pair.Datagrams[ecat.DeviceBackup].Data, []byte{1, 2, 3, 4})
	pair.Datagrams[ecat.DeviceMain].WorkingCounter = 1
	pair.Datagrams[ecat.DeviceBackup].WorkingCounter = 0
	d.Process()
	assert.Equal(t, []byte{1, 2, 3, 4}, d.Data()[0:4])

	// Cycle N+1: main unchanged, backup delivers new data and reports a
	// healthy working counter -> adopt backup's bytes.
	copy(pair.Datagrams[ecat.DeviceMain].Data, []byte{1, 2, 3, 4})
	copy(pair.Datagrams[ecat.DeviceBackup].Data, []byte{5, 6, 7, 8})
	pair.Datagrams[ecat.DeviceMain].WorkingCounter = 0
	pair.Datagrams[ecat.DeviceBackup].WorkingCounter = 1
	d.Process()
	assert.Equal(t, []byte{5, 6, 7, 8}, d.Data()[0:4])
}

func TestWCStateDerivation(t *testing.T) {
	d := New(1, nil)
	_, err := d.AddFMMUConfig(1, Input, 0, 2)
	require.NoError(t, err)
	require.NoError(t, d.Finish(0))
	pair := d.Pairs()[0]

	wc, expected, state := d.State()
	assert.Equal(t, uint32(0), wc)
	assert.Equal(t, uint32(1), expected)
	assert.Equal(t, WCZero, state)

	pair.Datagrams[ecat.DeviceMain].WorkingCounter = 1
	d.Process()
	_, _, state = d.State()
	assert.Equal(t, WCComplete, state)
}

func TestQueueSnapshotsOutputsOntoBothLinks(t *testing.T) {
	d := New(1, nil)
	_, err := d.AddFMMUConfig(1, Output, 0, 3)
	require.NoError(t, err)
	require.NoError(t, d.Finish(0))

	copy(d.Data(), []byte{9, 8, 7})
	mgr := ecat.NewDatagramManager(nil)
	require.NoError(t, d.Queue(mgr))

	pair := d.Pairs()[0]
	assert.Equal(t, []byte{9, 8, 7}, pair.Datagrams[ecat.DeviceMain].Data)
	assert.Equal(t, []byte{9, 8, 7}, pair.Datagrams[ecat.DeviceBackup].Data)
	assert.Equal(t, []byte{9, 8, 7}, pair.SendBuffer)
}
