// Package soe implements the SoE (Servo drive over EtherCAT, ETG.1500)
// mailbox protocol's client side: reading and writing a drive's IDN
// parameters. Grounded on the teacher's pkg/sdo expedited transfer
// (client.go's SDO_STATE_UPLOAD_INITIATE_REQ / ...RSP pair): one request
// out, one response in, no segmentation - SoE parameters in this module's
// scope are small enough that the segmented variant ETG.1500 also
// defines is not implemented (see DESIGN.md).
package soe

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/request"
	"github.com/samsamfire/goethercat/pkg/slave"
)

const (
	MailboxOutAddress uint16 = 0x1000
	mailboxHeaderSize        = 6
	soeHeaderSize            = 4
)

const soeType = 0x05

const (
	opRead  = 0x1
	opWrite = 0x2
)

const errorFlag = 0x20

// Engine drives one IDN read or write over a slave's SoE mailbox,
// implementing pkg/mailbox.Transfer.
type Engine struct {
	log *logrus.Entry

	slaveAddr uint16
	device    ecat.DeviceIndex
	req       *request.SoE

	pending *ecat.Datagram
	success bool
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
	r, ok := reqAny.(*request.SoE)
	if !ok {
		return ecat.ErrIllegalArgument
	}
	e.slaveAddr = s.StationAddress
	e.device = s.DeviceIndex
	e.req = r
	e.pending = nil
	e.success = false
	return nil
}

func (e *Engine) Success() bool { return e.success }

func (e *Engine) Exec() (*ecat.Datagram, bool) {
	if e.pending == nil {
		return e.sendRequest(), true
	}
	dg := e.pending
	if dg.State != ecat.StateReceived || dg.WorkingCounter == 0 {
		e.log.Warnf("soe drive %d idn %d: mailbox write lost", e.req.DriveNumber, e.req.IDN)
		e.success = false
		return nil, false
	}
	return e.handleResponse(dg.Data)
}

func (e *Engine) sendRequest() *ecat.Datagram {
	payloadLen := 0
	if e.req.Direction == request.Download {
		payloadLen = len(e.req.Data)
	}
	// The buffer is sized to the request's Data in both directions: for a
	// read, the reply is mirrored into the same buffer and needs the room.
	buf := make([]byte, mailboxHeaderSize+soeHeaderSize+len(e.req.Data))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(soeHeaderSize+payloadLen))
	buf[5] = soeType

	hdr := buf[mailboxHeaderSize:]
	if e.req.Direction == request.Upload {
		hdr[0] = opRead
	} else {
		hdr[0] = opWrite
	}
	hdr[1] = e.req.DriveNumber
	binary.LittleEndian.PutUint16(hdr[2:4], e.req.IDN)
	if e.req.Direction == request.Download {
		copy(buf[mailboxHeaderSize+soeHeaderSize:], e.req.Data)
	}

	dg := ecat.NewDatagram(ecat.CmdFPWR, uint32(e.slaveAddr)<<16|uint32(MailboxOutAddress), len(buf), e.device)
	copy(dg.Data, buf)
	e.pending = dg
	return dg
}

func (e *Engine) handleResponse(buf []byte) (*ecat.Datagram, bool) {
	if len(buf) < mailboxHeaderSize+soeHeaderSize {
		e.success = false
		return nil, false
	}
	hdr := buf[mailboxHeaderSize:]
	if hdr[0]&errorFlag != 0 {
		e.log.Warnf("soe drive %d idn %d: error response", e.req.DriveNumber, e.req.IDN)
		e.success = false
		return nil, false
	}
	if e.req.Direction == request.Upload {
		payload := buf[mailboxHeaderSize+soeHeaderSize:]
		n := len(payload)
		if n > len(e.req.Data) {
			n = len(e.req.Data)
		}
		copy(e.req.Data, payload[:n])
	}
	e.success = true
	return nil, false
}
