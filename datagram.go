// Package ecat is the shared vocabulary of an EtherCAT master: the
// datagram wire shape, the driver collaborator interface, and the
// datagram manager that multiplexes many in-flight datagrams onto one
// or more links. Subpackages (pkg/slavefsm, pkg/domain, pkg/mailbox, ...)
// build the request state machine and process-data engine on top of it.
package ecat

import "encoding/binary"

// EcMaxDataSize is the maximum payload a single datagram may carry,
// i.e. MTU minus Ethernet/EtherCAT/datagram headers.
const EcMaxDataSize = 1486

// NumDevices is the number of physical links a datagram pair addresses:
// the main link and, for cable redundancy, the backup link.
const NumDevices = 2

// DeviceIndex selects which physical link a datagram travels over.
type DeviceIndex uint8

const (
	DeviceMain DeviceIndex = iota
	DeviceBackup
)

func (d DeviceIndex) Valid() bool { return d < NumDevices }

// Command is the datagram command type, spec §3.
type Command uint8

const (
	CmdFPRD Command = iota // read by station address
	CmdFPWR                // write by station address
	CmdLRD                 // logical read
	CmdLWR                 // logical write
	CmdLRW                 // logical read-write
)

func (c Command) String() string {
	switch c {
	case CmdFPRD:
		return "FPRD"
	case CmdFPWR:
		return "FPWR"
	case CmdLRD:
		return "LRD"
	case CmdLWR:
		return "LWR"
	case CmdLRW:
		return "LRW"
	default:
		return "UNKNOWN"
	}
}

// State is the datagram's lifecycle, advanced by the driver, spec §3/§6.
type State uint8

const (
	StateInit State = iota
	StateQueued
	StateSent
	StateReceived
	StateTimedOut
)

// Datagram is one network request/reply frame, spec §3.
type Datagram struct {
	Command     Command
	Address     uint32 // station address (FPRD/FPWR) or logical address (LRD/LWR/LRW)
	Data        []byte
	State       State
	WorkingCounter uint16
	DeviceIndex DeviceIndex
}

// NewDatagram allocates a datagram with a zeroed data buffer of size
// dataSize, capped at EcMaxDataSize.
func NewDatagram(cmd Command, address uint32, dataSize int, device DeviceIndex) *Datagram {
	if dataSize > EcMaxDataSize {
		dataSize = EcMaxDataSize
	}
	return &Datagram{
		Command:     cmd,
		Address:     address,
		Data:        make([]byte, dataSize),
		State:       StateInit,
		DeviceIndex: device,
	}
}

// PutAddress writes the datagram's address field little-endian, per
// spec §9's byte-order-explicit requirement.
func (d *Datagram) PutAddress(buf []byte) {
	binary.LittleEndian.PutUint32(buf, d.Address)
}

// PutWorkingCounter writes the working counter field little-endian.
func (d *Datagram) PutWorkingCounter(buf []byte) {
	binary.LittleEndian.PutUint16(buf, d.WorkingCounter)
}
