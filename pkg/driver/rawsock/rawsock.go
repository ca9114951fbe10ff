// Package rawsock implements ecat.Driver over a raw AF_PACKET socket
// bound to a network interface, EtherCAT's real transport: it runs
// directly on Ethernet, with no IP layer underneath.
//
// Grounded on pkg/can/socketcanv2/socketcanv2.go: unix.Socket +
// unix.Bind + SO_RCVTIMEO + os.NewFile-wrapped blocking Read/Write,
// generalized from AF_CAN/CAN_RAW (one fixed 16-byte frame per I/O) to
// AF_PACKET/SOCK_RAW with the EtherCAT EtherType (one variable-length
// Ethernet frame, carrying many datagrams, per I/O).
package rawsock

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	ecat "github.com/samsamfire/goethercat"
)

// EtherType assigned to EtherCAT (ETG.1000.4).
const etherCATEtherType = 0x88A4

// destMAC is the conventional EtherCAT multicast destination address
// used when no specific slave addressing at the Ethernet layer is
// required - the ring topology means every slave sees every frame
// regardless of destination.
var destMAC = [6]byte{0x01, 0x01, 0x05, 0x01, 0x00, 0x01}

func htons(v uint16) uint16 { return (v<<8)&0xff00 | v>>8 }

// Driver sends one Ethernet frame per cycle per link, each frame
// carrying every datagram queued for that link this cycle.
type Driver struct {
	ifaces [ecat.NumDevices]string
	logger *slog.Logger

	mu     sync.Mutex
	fds    [ecat.NumDevices]int
	files  [ecat.NumDevices]*os.File
	srcMAC [ecat.NumDevices][6]byte
}

// New binds main and backup links to network interfaces by name.
// backupIface may be "" if cable redundancy is not wired up, mirroring
// pkg/driver/virtual's optional backup address.
func New(mainIface, backupIface string, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{logger: logger}
	d.ifaces[ecat.DeviceMain] = mainIface
	d.ifaces[ecat.DeviceBackup] = backupIface
	return d
}

func (d *Driver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for dev, name := range d.ifaces {
		if err := d.bind(ecat.DeviceIndex(dev), name); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) bind(device ecat.DeviceIndex, ifaceName string) error {
	if ifaceName == "" {
		return nil
	}
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return fmt.Errorf("rawsock: interface %s: %w", ifaceName, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(etherCATEtherType)))
	if err != nil {
		return fmt.Errorf("rawsock: socket: %w", err)
	}
	tv := unix.Timeval{Sec: 0, Usec: 50_000}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("rawsock: set read timeout: %w", err)
	}
	addr := &unix.SockaddrLinklayer{
		Protocol: htons(etherCATEtherType),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("rawsock: bind %s: %w", ifaceName, err)
	}

	copy(d.srcMAC[device][:], iface.HardwareAddr)
	d.fds[device] = fd
	d.files[device] = os.NewFile(uintptr(fd), fmt.Sprintf("rawsock-%s", ifaceName))
	return nil
}

func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for dev, f := range d.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.files[dev] = nil
	}
	return firstErr
}

// SendDatagrams writes every queued datagram for device as one Ethernet
// frame and parses the reply, matching datagrams to their response by
// position - the master never reorders datagrams within a cycle (spec
// §6 "queue() must enqueue pairs in the insertion order").
func (d *Driver) SendDatagrams(device ecat.DeviceIndex, datagrams []*ecat.Datagram) error {
	if !device.Valid() {
		return ecat.ErrDeviceIndex
	}
	d.mu.Lock()
	f := d.files[device]
	d.mu.Unlock()

	if f == nil {
		for _, dg := range datagrams {
			dg.State = ecat.StateTimedOut
		}
		return ecat.ErrNoDriver
	}

	frame := encodeFrame(d.srcMAC[device], datagrams)
	if _, err := f.Write(frame); err != nil {
		for _, dg := range datagrams {
			dg.State = ecat.StateTimedOut
		}
		return fmt.Errorf("rawsock: write: %w", err)
	}

	reply := make([]byte, 1514)
	n, err := f.Read(reply)
	if err != nil {
		for _, dg := range datagrams {
			dg.State = ecat.StateTimedOut
		}
		return fmt.Errorf("rawsock: read: %w", err)
	}
	if err := decodeFrame(reply[:n], datagrams); err != nil {
		for _, dg := range datagrams {
			dg.State = ecat.StateTimedOut
		}
		return err
	}
	return nil
}

const ethernetHeaderSize = 14
const ecatFrameHeaderSize = 2
const datagramHeaderSize = 10

// encodeFrame builds dst|src|ethertype, an EtherCAT frame header (length
// in the low 11 bits, type=1 for "EtherCAT command" in the high bits),
// then one fixed-format datagram header + data + working counter per
// datagram.
func encodeFrame(srcMAC [6]byte, datagrams []*ecat.Datagram) []byte {
	size := 0
	for _, dg := range datagrams {
		size += datagramHeaderSize + len(dg.Data) + 2
	}
	buf := make([]byte, ethernetHeaderSize+ecatFrameHeaderSize+size)
	copy(buf[0:6], destMAC[:])
	copy(buf[6:12], srcMAC[:])
	binary.BigEndian.PutUint16(buf[12:14], etherCATEtherType)

	lengthAndType := uint16(size)&0x7FF | 0x1<<12
	binary.LittleEndian.PutUint16(buf[14:16], lengthAndType)

	offset := ethernetHeaderSize + ecatFrameHeaderSize
	for i, dg := range datagrams {
		hdr := buf[offset:]
		hdr[0] = byte(dg.Command)
		hdr[1] = byte(i) // datagram index/counter, echoed back by slaves
		binary.LittleEndian.PutUint32(hdr[2:6], dg.Address)
		lenAndFlags := uint16(len(dg.Data)) & 0x7FF
		if i < len(datagrams)-1 {
			lenAndFlags |= 0x8000 // "more" bit
		}
		binary.LittleEndian.PutUint16(hdr[6:8], lenAndFlags)
		binary.LittleEndian.PutUint16(hdr[8:10], 0) // IRQ, unused
		copy(hdr[datagramHeaderSize:], dg.Data)
		// working counter slot zeroed on send, filled by the ring
		binary.LittleEndian.PutUint16(hdr[datagramHeaderSize+len(dg.Data):], 0)
		offset += datagramHeaderSize + len(dg.Data) + 2
		dg.State = ecat.StateSent
	}
	return buf
}

func decodeFrame(buf []byte, datagrams []*ecat.Datagram) error {
	if len(buf) < ethernetHeaderSize+ecatFrameHeaderSize {
		return fmt.Errorf("rawsock: short reply (%d bytes)", len(buf))
	}
	offset := ethernetHeaderSize + ecatFrameHeaderSize
	for _, dg := range datagrams {
		if offset+datagramHeaderSize > len(buf) {
			return fmt.Errorf("rawsock: reply truncated before datagram header")
		}
		hdr := buf[offset:]
		dataLen := int(binary.LittleEndian.Uint16(hdr[6:8]) & 0x7FF)
		if offset+datagramHeaderSize+dataLen+2 > len(buf) {
			return fmt.Errorf("rawsock: reply truncated in datagram body")
		}
		copy(dg.Data, hdr[datagramHeaderSize:datagramHeaderSize+dataLen])
		dg.WorkingCounter = binary.LittleEndian.Uint16(hdr[datagramHeaderSize+dataLen : datagramHeaderSize+dataLen+2])
		dg.State = ecat.StateReceived
		offset += datagramHeaderSize + dataLen + 2
	}
	return nil
}
