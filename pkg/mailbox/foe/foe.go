// Package foe implements the FoE (File over EtherCAT) mailbox protocol's
// client side: a ping-pong of RRQ/WRQ, DATA and ACK packets that moves a
// file between master and slave in fixed-size chunks across many master
// cycles, per spec §3's "payload may be several kilobytes and span many
// master cycles".
//
// Grounded on the teacher's pkg/sdo segmented-transfer shape
// (client.go's SDO_STATE_UPLOAD_SEGMENT / SDO_STATE_DOWNLOAD_SEGMENT
// loop: one chunk out, one ack in, repeat until the short/last chunk),
// generalized from 7-byte CAN-frame segments to chunkSize-byte mailbox
// packets.
package foe

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/request"
	"github.com/samsamfire/goethercat/pkg/slave"
)

const (
	MailboxOutAddress uint16 = 0x1000
	chunkSize                = 512
	mailboxHeaderSize        = 6
	foeHeaderSize            = 6
)

type opCode uint8

const (
	opRRQ  opCode = 1
	opWRQ  opCode = 2
	opDATA opCode = 3
	opACK  opCode = 4
	opERR  opCode = 5
)

const foeType = 0x04

// Engine drives one file transfer over a slave's FoE mailbox, implementing
// pkg/mailbox.Transfer. See pkg/mailbox/coe.Engine's doc comment for the
// write-then-inspect-same-buffer simplification this also relies on.
type Engine struct {
	log *logrus.Entry

	slaveAddr uint16
	device    ecat.DeviceIndex
	req       *request.FoE

	pending          *ecat.Datagram
	packetNum        uint32
	bytesDone        int
	lastChunk        bool
	awaitingFinalAck bool
	success          bool
}

func New(log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{log: log}
}

func (e *Engine) Transfer(sl any, reqAny any) error {
	s, ok := sl.(*slave.Slave)
	if !ok {
		return ecat.ErrIllegalArgument
	}
	r, ok := reqAny.(*request.FoE)
	if !ok {
		return ecat.ErrIllegalArgument
	}
	e.slaveAddr = s.StationAddress
	e.device = s.DeviceIndex
	e.req = r
	e.pending = nil
	e.packetNum = 0
	e.bytesDone = 0
	e.lastChunk = false
	e.awaitingFinalAck = false
	e.success = false
	return nil
}

func (e *Engine) Success() bool { return e.success }

func (e *Engine) Exec() (*ecat.Datagram, bool) {
	if e.pending == nil {
		return e.sendInitial(), true
	}
	dg := e.pending
	if dg.State != ecat.StateReceived || dg.WorkingCounter == 0 {
		e.log.Warnf("foe %q: mailbox write lost", e.req.Filename)
		e.success = false
		return nil, false
	}
	if e.awaitingFinalAck {
		e.success = true
		return nil, false
	}
	return e.handleResponse(dg.Data)
}

func (e *Engine) frame(payloadLen int) ([]byte, []byte) {
	buf := make([]byte, mailboxHeaderSize+foeHeaderSize+payloadLen)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(foeHeaderSize+payloadLen))
	buf[5] = foeType
	return buf, buf[mailboxHeaderSize:]
}

func (e *Engine) queueWrite(buf []byte) *ecat.Datagram {
	dg := ecat.NewDatagram(ecat.CmdFPWR, uint32(e.slaveAddr)<<16|uint32(MailboxOutAddress), len(buf), e.device)
	copy(dg.Data, buf)
	e.pending = dg
	return dg
}

func (e *Engine) sendInitial() *ecat.Datagram {
	name := []byte(e.req.Filename)
	buf, foeHdr := e.frame(len(name))
	if e.req.Direction == request.Upload {
		foeHdr[0] = byte(opRRQ)
	} else {
		foeHdr[0] = byte(opWRQ)
	}
	binary.LittleEndian.PutUint32(foeHdr[2:6], e.req.Password)
	copy(foeHdr[6:], name)
	return e.queueWrite(buf)
}

func (e *Engine) handleResponse(buf []byte) (*ecat.Datagram, bool) {
	if len(buf) < mailboxHeaderSize+foeHeaderSize {
		e.success = false
		return nil, false
	}
	foeHdr := buf[mailboxHeaderSize:]
	switch opCode(foeHdr[0]) {
	case opERR:
		code := binary.LittleEndian.Uint32(foeHdr[2:6])
		e.log.Warnf("foe %q: error x%08x", e.req.Filename, code)
		e.success = false
		return nil, false
	case opACK:
		return e.handleAck(foeHdr)
	case opDATA:
		return e.handleData(foeHdr, buf[mailboxHeaderSize+foeHeaderSize:])
	default:
		e.log.Warnf("foe %q: unexpected opcode x%02x", e.req.Filename, foeHdr[0])
		e.success = false
		return nil, false
	}
}

// handleAck processes an ACK of the request's own last outbound packet
// (request sent the initial WRQ, or a DATA chunk during a download).
func (e *Engine) handleAck(foeHdr []byte) (*ecat.Datagram, bool) {
	ackNum := binary.LittleEndian.Uint32(foeHdr[2:6])
	if e.req.Direction != request.Download {
		e.log.Warnf("foe %q: unexpected ACK during upload", e.req.Filename)
		e.success = false
		return nil, false
	}
	if e.lastChunk {
		e.success = true
		return nil, false
	}
	_ = ackNum
	return e.sendNextDownloadChunk(), true
}

func (e *Engine) sendNextDownloadChunk() *ecat.Datagram {
	remaining := e.req.Data[e.bytesDone:]
	n := len(remaining)
	if n > chunkSize {
		n = chunkSize
	} else {
		e.lastChunk = true
	}
	e.packetNum++
	buf, foeHdr := e.frame(n)
	foeHdr[0] = byte(opDATA)
	binary.LittleEndian.PutUint32(foeHdr[2:6], e.packetNum)
	copy(foeHdr[6:], remaining[:n])
	e.bytesDone += n
	return e.queueWrite(buf)
}

// handleData processes an upload DATA packet from the slave and ACKs it.
func (e *Engine) handleData(foeHdr []byte, payload []byte) (*ecat.Datagram, bool) {
	if e.req.Direction != request.Upload {
		e.log.Warnf("foe %q: unexpected DATA during download", e.req.Filename)
		e.success = false
		return nil, false
	}
	packetNum := binary.LittleEndian.Uint32(foeHdr[2:6])
	if e.bytesDone < len(e.req.Data) {
		copy(e.req.Data[e.bytesDone:], payload) // bytes beyond Data's capacity are dropped
	}
	e.bytesDone += len(payload)
	last := len(payload) < chunkSize

	buf, ackHdr := e.frame(0)
	ackHdr[0] = byte(opACK)
	binary.LittleEndian.PutUint32(ackHdr[2:6], packetNum)
	dg := e.queueWrite(buf)
	if last {
		// The final ACK still needs to round-trip before the transfer is
		// done; Exec finalizes success once that write is observed.
		e.awaitingFinalAck = true
	}
	return dg, true
}
