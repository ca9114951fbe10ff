package rawsock

import (
	"encoding/binary"
	"testing"

	ecat "github.com/samsamfire/goethercat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opening an AF_PACKET socket requires CAP_NET_RAW, so these tests stay
// at the encodeFrame/decodeFrame level rather than exercising Connect.

func TestEncodeFrameHeader(t *testing.T) {
	dg := ecat.NewDatagram(ecat.CmdFPRD, 0x10001000, 2, ecat.DeviceMain)
	src := [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

	frame := encodeFrame(src, []*ecat.Datagram{dg})

	assert.Equal(t, destMAC[:], frame[0:6])
	assert.Equal(t, src[:], frame[6:12])
	assert.Equal(t, uint16(etherCATEtherType), binary.BigEndian.Uint16(frame[12:14]))

	lengthAndType := binary.LittleEndian.Uint16(frame[14:16])
	wantSize := datagramHeaderSize + len(dg.Data) + 2
	assert.Equal(t, uint16(wantSize)&0x7FF, lengthAndType&0x7FF)
	assert.Equal(t, uint16(0x1), lengthAndType>>12)
	assert.Equal(t, ecat.StateSent, dg.State)
}

func TestEncodeFrameSetsMoreBitExceptOnLast(t *testing.T) {
	dg1 := ecat.NewDatagram(ecat.CmdFPRD, 0, 1, ecat.DeviceMain)
	dg2 := ecat.NewDatagram(ecat.CmdFPWR, 0, 1, ecat.DeviceMain)

	frame := encodeFrame([6]byte{}, []*ecat.Datagram{dg1, dg2})

	offset := ethernetHeaderSize + ecatFrameHeaderSize
	first := binary.LittleEndian.Uint16(frame[offset+6 : offset+8])
	assert.NotZero(t, first&0x8000)

	offset += datagramHeaderSize + len(dg1.Data) + 2
	second := binary.LittleEndian.Uint16(frame[offset+6 : offset+8])
	assert.Zero(t, second&0x8000)
}

func TestDecodeFrameFillsDataAndWorkingCounter(t *testing.T) {
	dg := ecat.NewDatagram(ecat.CmdFPRD, 0x10001000, 2, ecat.DeviceMain)
	frame := encodeFrame([6]byte{}, []*ecat.Datagram{dg})

	offset := ethernetHeaderSize + ecatFrameHeaderSize
	copy(frame[offset+datagramHeaderSize:], []byte{0xAA, 0xBB})
	binary.LittleEndian.PutUint16(frame[offset+datagramHeaderSize+2:], 3)

	require.NoError(t, decodeFrame(frame, []*ecat.Datagram{dg}))
	assert.Equal(t, []byte{0xAA, 0xBB}, dg.Data)
	assert.Equal(t, uint16(3), dg.WorkingCounter)
	assert.Equal(t, ecat.StateReceived, dg.State)
}

func TestDecodeFrameRejectsShortReply(t *testing.T) {
	dg := ecat.NewDatagram(ecat.CmdFPRD, 0, 2, ecat.DeviceMain)
	err := decodeFrame([]byte{0, 1, 2}, []*ecat.Datagram{dg})
	assert.Error(t, err)
}

func TestSendDatagramsWithoutConnectReturnsErrNoDriver(t *testing.T) {
	d := New("", "", nil)
	dg := ecat.NewDatagram(ecat.CmdFPRD, 0, 2, ecat.DeviceMain)

	err := d.SendDatagrams(ecat.DeviceMain, []*ecat.Datagram{dg})
	require.ErrorIs(t, err, ecat.ErrNoDriver)
	assert.Equal(t, ecat.StateTimedOut, dg.State)
}

func TestBindSkipsEmptyInterfaceName(t *testing.T) {
	d := New("", "", nil)
	require.NoError(t, d.Connect())
	require.NoError(t, d.Disconnect())
}
