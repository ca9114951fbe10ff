package ecat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	wc      uint16
	fail    bool
	sent    [][]*Datagram
}

func (f *fakeDriver) Connect() error    { return nil }
func (f *fakeDriver) Disconnect() error { return nil }

func (f *fakeDriver) SendDatagrams(device DeviceIndex, datagrams []*Datagram) error {
	f.sent = append(f.sent, datagrams)
	for _, d := range datagrams {
		if f.fail {
			d.State = StateTimedOut
			continue
		}
		d.State = StateReceived
		d.WorkingCounter = f.wc
	}
	return nil
}

func TestDatagramManagerQueueAndProcess(t *testing.T) {
	driver := &fakeDriver{wc: 1}
	mgr := NewDatagramManager(driver)

	d := NewDatagram(CmdFPRD, 0x1001, 2, DeviceMain)
	require.NoError(t, mgr.QueueDatagram(d, DeviceMain))
	assert.Equal(t, StateQueued, d.State)
	assert.Equal(t, 1, mgr.Pending(DeviceMain))

	require.NoError(t, mgr.Process())
	assert.Equal(t, StateReceived, d.State)
	assert.EqualValues(t, 1, d.WorkingCounter)
	assert.Equal(t, 0, mgr.Pending(DeviceMain))
}

func TestDatagramManagerNoDriver(t *testing.T) {
	mgr := NewDatagramManager(nil)
	d := NewDatagram(CmdFPWR, 0x1001, 2, DeviceMain)
	require.NoError(t, mgr.QueueDatagram(d, DeviceMain))
	err := mgr.Process()
	assert.ErrorIs(t, err, ErrNoDriver)
	assert.Equal(t, StateTimedOut, d.State)
}

func TestDeviceIndexValidity(t *testing.T) {
	mgr := NewDatagramManager(&fakeDriver{})
	d := NewDatagram(CmdLRD, 0, 4, DeviceMain)
	err := mgr.QueueDatagram(d, DeviceIndex(7))
	assert.ErrorIs(t, err, ErrDeviceIndex)
}
