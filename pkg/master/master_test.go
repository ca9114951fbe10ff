package master

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/domain"
	"github.com/samsamfire/goethercat/pkg/driver/virtual"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker echoes every datagram back with the working counter set to
// 1, standing in for the external broker pkg/driver/virtual expects.
func fakeBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			lenBuf := make([]byte, 4)
			if _, err := readFull(conn, lenBuf); err != nil {
				return
			}
			body := make([]byte, binary.BigEndian.Uint32(lenBuf))
			if _, err := readFull(conn, body); err != nil {
				return
			}
			binary.BigEndian.PutUint16(body[len(body)-2:], 1)
			frame := make([]byte, 4+len(body))
			binary.BigEndian.PutUint32(frame[0:4], uint32(len(body)))
			copy(frame[4:], body)
			if _, err := conn.Write(frame); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestAddSlaveBindsConfigAndBuildsFSM(t *testing.T) {
	m := New(virtual.New("", "", nil), time.Millisecond, nil)
	sl := slave.New(0x1001, ecat.DeviceMain)
	cfg := config.New(0x1001, 0, 0)

	fsm := m.AddSlave(sl, cfg)
	require.NotNil(t, fsm)
	assert.NotNil(t, sl.Config())

	got, ok := m.Slave(0x1001)
	assert.True(t, ok)
	assert.Same(t, sl, got)
}

func TestTickDrivesDomainRoundTrip(t *testing.T) {
	addr := fakeBroker(t)
	m := New(virtual.New(addr, "", nil), time.Millisecond, nil)
	require.NoError(t, m.Connect())
	defer m.Disconnect()

	dom := domain.New(0, nil)
	cfg := config.New(0x1001, 0, 0)
	_, err := cfg.AddFMMUConfig(dom, domain.Output, 0x1000, 2)
	require.NoError(t, err)
	require.NoError(t, dom.Finish(0x10000))
	m.AddDomain(dom)

	sl := slave.New(0x1001, ecat.DeviceMain)
	fsm := m.AddSlave(sl, cfg)
	fsm.Ready()

	require.NoError(t, m.Tick())

	wc, expected, _ := dom.State()
	assert.Equal(t, expected, wc) // fake broker echoes WC=1, matching this FMMU's expected count
}
