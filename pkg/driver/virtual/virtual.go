// Package virtual implements a TCP-loopback ecat.Driver for tests and
// local development, one connection per link (main/backup). It expects a
// broker process on the other end that echoes back each datagram with its
// working counter filled in - same division of responsibility as the
// teacher's virtual CAN bus, which also requires an external broker
// (https://github.com/windelbouwman/virtualcan) and ships only the client
// side.
//
// Grounded on pkg/can/virtual/virtual.go: length-prefixed binary framing
// over net.Dial'd TCP, generalized from one CAN channel to the two links
// (main, backup) spec §3's redundancy model requires.
package virtual

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	ecat "github.com/samsamfire/goethercat"
)

const ioDeadline = 50 * time.Millisecond

// Driver dials one TCP address per link. Addrs[ecat.DeviceBackup] may be
// empty if redundancy is not in use; SendDatagrams on that device then
// fails every datagram with ecat.ErrNoDriver-shaped timeouts, matching a
// disconnected backup ring segment.
type Driver struct {
	logger *slog.Logger
	mu     sync.Mutex
	addrs  [ecat.NumDevices]string
	conns  [ecat.NumDevices]net.Conn
}

func New(mainAddr, backupAddr string, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{logger: logger, addrs: [ecat.NumDevices]string{mainAddr, backupAddr}}
}

func (d *Driver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for dev, addr := range d.addrs {
		if addr == "" {
			continue
		}
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return fmt.Errorf("virtual driver: dial device %d: %w", dev, err)
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		d.conns[dev] = conn
	}
	return nil
}

func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for dev, conn := range d.conns {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.conns[dev] = nil
	}
	return firstErr
}

// SendDatagrams writes each datagram, length-prefixed, then reads back a
// same-shaped reply carrying the slave-side working counter. A datagram
// is processed independently of its siblings: one failing does not abort
// the rest of the batch, matching the cyclic path's "never propagate
// upward" error policy (spec §7).
func (d *Driver) SendDatagrams(device ecat.DeviceIndex, datagrams []*ecat.Datagram) error {
	if !device.Valid() {
		return ecat.ErrDeviceIndex
	}
	d.mu.Lock()
	conn := d.conns[device]
	d.mu.Unlock()

	var firstErr error
	for _, dg := range datagrams {
		dg.State = ecat.StateSent
		if conn == nil {
			dg.State = ecat.StateTimedOut
			if firstErr == nil {
				firstErr = ecat.ErrNoDriver
			}
			continue
		}
		if err := d.roundTrip(conn, dg); err != nil {
			d.logger.Warn("virtual driver: round trip failed", "device", device, "err", err)
			dg.State = ecat.StateTimedOut
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Driver) roundTrip(conn net.Conn, dg *ecat.Datagram) error {
	frame := encodeDatagram(dg)
	_ = conn.SetWriteDeadline(time.Now().Add(ioDeadline))
	if _, err := conn.Write(frame); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(ioDeadline))
	lenBuf := make([]byte, 4)
	if _, err := readFull(conn, lenBuf); err != nil {
		return err
	}
	body := make([]byte, binary.BigEndian.Uint32(lenBuf))
	if _, err := readFull(conn, body); err != nil {
		return err
	}

	data, wc, err := decodeResponse(body)
	if err != nil {
		return err
	}
	copy(dg.Data, data)
	dg.WorkingCounter = wc
	dg.State = ecat.StateReceived
	return nil
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

// encodeDatagram serializes: command(1) device(1) address(4) dataLen(2)
// data(dataLen) workingCounter(2), length-prefixed with a 4-byte header.
func encodeDatagram(d *ecat.Datagram) []byte {
	body := make([]byte, 8+len(d.Data)+2)
	body[0] = byte(d.Command)
	body[1] = byte(d.DeviceIndex)
	binary.BigEndian.PutUint32(body[2:6], d.Address)
	binary.BigEndian.PutUint16(body[6:8], uint16(len(d.Data)))
	copy(body[8:8+len(d.Data)], d.Data)
	binary.BigEndian.PutUint16(body[8+len(d.Data):], d.WorkingCounter)

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame
}

func decodeResponse(body []byte) (data []byte, wc uint16, err error) {
	if len(body) < 8 {
		return nil, 0, fmt.Errorf("virtual driver: short response (%d bytes)", len(body))
	}
	dataLen := int(binary.BigEndian.Uint16(body[6:8]))
	if len(body) < 8+dataLen+2 {
		return nil, 0, fmt.Errorf("virtual driver: truncated response body")
	}
	data = body[8 : 8+dataLen]
	wc = binary.BigEndian.Uint16(body[8+dataLen : 8+dataLen+2])
	return data, wc, nil
}
