package foe

import (
	"encoding/binary"
	"testing"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/request"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ackDatagram(dg *ecat.Datagram, packetNum uint32) {
	dg.State = ecat.StateReceived
	dg.WorkingCounter = 1
	hdr := dg.Data[mailboxHeaderSize:]
	hdr[0] = byte(opACK)
	binary.LittleEndian.PutUint32(hdr[2:6], packetNum)
}

func TestDownloadSingleChunk(t *testing.T) {
	sl := slave.New(0x1001, ecat.DeviceMain)
	e := New(nil)
	req := request.NewFoE("cfg.bin", 0, request.Download, []byte{1, 2, 3})
	require.NoError(t, e.Transfer(sl, req))

	dg, running := e.Exec() // WRQ
	require.True(t, running)
	ackDatagram(dg, 0)

	dg, running = e.Exec() // ack -> first (and only) DATA chunk
	require.True(t, running)
	assert.Equal(t, 1, int(e.packetNum))
	ackDatagram(dg, 1)

	_, running = e.Exec() // ack of last chunk
	assert.False(t, running)
	assert.True(t, e.Success())
}

func TestUploadSingleChunk(t *testing.T) {
	sl := slave.New(0x1001, ecat.DeviceMain)
	e := New(nil)
	dst := make([]byte, 4)
	req := request.NewFoE("cfg.bin", 0, request.Upload, dst)
	require.NoError(t, e.Transfer(sl, req))

	dg, running := e.Exec() // RRQ
	require.True(t, running)

	dg.State = ecat.StateReceived
	dg.WorkingCounter = 1
	hdr := dg.Data[mailboxHeaderSize:]
	hdr[0] = byte(opDATA)
	binary.LittleEndian.PutUint32(hdr[2:6], 1)
	copy(dg.Data[mailboxHeaderSize+foeHeaderSize:], []byte{9, 8, 7, 6})

	dg, running = e.Exec() // send ACK for the (short, final) chunk
	require.True(t, running)
	ackDatagram(dg, 1)

	_, running = e.Exec()
	assert.False(t, running)
	assert.True(t, e.Success())
	assert.Equal(t, []byte{9, 8, 7, 6}, req.Data)
}
