package domain

import ecat "github.com/samsamfire/goethercat"

// DatagramPair is one main/backup pair of logical datagrams covering a
// contiguous byte range of a domain (spec §4.3, §5). Sealed once at
// Finish; Queue and Process operate over the sealed set each cycle.
type DatagramPair struct {
	Offset                 int // byte offset within the domain, pre-base-address
	Size                   int
	LogicalAddress         uint32
	Datagrams              [ecat.NumDevices]*ecat.Datagram
	ExpectedWorkingCounter uint32
	SendBuffer             []byte
}

// ObservedWorkingCounter sums the working counters reported on both
// links. Under normal single-link operation the unused link reports 0,
// so this degrades to the active link's count.
func (p *DatagramPair) ObservedWorkingCounter() uint32 {
	return uint32(p.Datagrams[ecat.DeviceMain].WorkingCounter) + uint32(p.Datagrams[ecat.DeviceBackup].WorkingCounter)
}

func (p *DatagramPair) Complete() bool {
	return p.ObservedWorkingCounter() == p.ExpectedWorkingCounter
}
