package coe

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/request"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// Engine drives one SDO transfer over a slave's CoE mailbox, implementing
// pkg/mailbox.Transfer. It drives one request at a time; pkg/master
// builds one Engine per slave, and the slave request FSM (pkg/slavefsm)
// rebinds it to each new request via Transfer.
//
// Each logical protocol step (initiate, one segment) costs one datagram:
// a write to the slave's mailbox-out area. The engine expects the SDO
// response to be mirrored into the same buffer by the time the datagram
// comes back RECEIVED (with pkg/driver/virtual, the broker on the other
// end does this), which keeps this engine's shape identical to
// pkg/slavefsm's register request path (write, then inspect the same
// buffer). There is no separate mailbox-in poll step.
type Engine struct {
	log *logrus.Entry

	slaveAddr uint16
	device    ecat.DeviceIndex
	req       *request.SDO

	pending *ecat.Datagram
	counter uint8
	toggle  uint8

	segmented        bool
	bytesTransferred int
	expectedSize     uint32
	uploadBuf        []byte

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
	r, ok := reqAny.(*request.SDO)
	if !ok {
		return ecat.ErrIllegalArgument
	}
	e.slaveAddr = s.StationAddress
	e.device = s.DeviceIndex
	e.req = r
	e.pending = nil
	e.counter = 1
	e.toggle = 0
	e.segmented = false
	e.bytesTransferred = 0
	e.expectedSize = 0
	e.uploadBuf = e.uploadBuf[:0]
	e.success = false
	return nil
}

func (e *Engine) Success() bool { return e.success }

// Exec advances the transfer by one step, spec §4.2's opaque mailbox.
// Transfer contract.
func (e *Engine) Exec() (*ecat.Datagram, bool) {
	if e.pending == nil {
		dg := e.buildInitiate()
		e.pending = dg
		return dg, true
	}

	dg := e.pending
	if dg.State != ecat.StateReceived || dg.WorkingCounter == 0 {
		e.log.Warnf("sdo x%04x:%d mailbox write lost", e.req.Index, e.req.Subindex)
		e.success = false
		return nil, false
	}
	return e.handleResponse(dg.Data)
}

func (e *Engine) frame(sduLen int) ([]byte, []byte) {
	buf := make([]byte, mailboxHeaderSize+coeHeaderSize+sduLen)
	putMailboxHeader(buf, coeHeaderSize+sduLen, e.counter)
	e.counter = (e.counter + 1) & 0x7
	putCoEHeader(buf[mailboxHeaderSize:], serviceSDORequest)
	return buf, buf[mailboxHeaderSize+coeHeaderSize:]
}

func (e *Engine) queueWrite(buf []byte) *ecat.Datagram {
	dg := ecat.NewDatagram(ecat.CmdFPWR, uint32(e.slaveAddr)<<16|uint32(MailboxOutAddress), len(buf), e.device)
	copy(dg.Data, buf)
	e.pending = dg
	return dg
}

func (e *Engine) buildInitiate() *ecat.Datagram {
	buf, sdo := e.frame(8)
	if e.req.Direction == request.Download {
		e.segmented = len(e.req.Data) > 4
		if !e.segmented {
			n := 4 - len(e.req.Data)
			sdo[0] = cmdDownloadInitiateReq | byte(n<<2) | sizeIndicated
			binary.LittleEndian.PutUint16(sdo[1:3], e.req.Index)
			sdo[3] = e.req.Subindex
			copy(sdo[4:8], e.req.Data)
		} else {
			sdo[0] = 0x21 // download initiate, segmented, size indicated
			binary.LittleEndian.PutUint16(sdo[1:3], e.req.Index)
			sdo[3] = e.req.Subindex
			binary.LittleEndian.PutUint32(sdo[4:8], uint32(len(e.req.Data)))
		}
	} else {
		sdo[0] = cmdUploadInitiateReq
		binary.LittleEndian.PutUint16(sdo[1:3], e.req.Index)
		sdo[3] = e.req.Subindex
	}
	return e.queueWrite(buf)
}

func (e *Engine) handleResponse(buf []byte) (*ecat.Datagram, bool) {
	if len(buf) < mailboxHeaderSize+coeHeaderSize+1 {
		e.log.Warnf("sdo x%04x:%d short mailbox response", e.req.Index, e.req.Subindex)
		e.success = false
		return nil, false
	}
	if got, want := mailboxDataLen(buf), len(buf)-mailboxHeaderSize; got != want {
		e.log.Warnf("sdo x%04x:%d mailbox length mismatch: header says %d, frame has %d", e.req.Index, e.req.Subindex, got, want)
	}
	sdo := buf[mailboxHeaderSize+coeHeaderSize:]
	cmd := sdo[0]

	// An abort is honoured whatever CoE service number it carries.
	if cmd == cmdAbort {
		e.req.AbortCode = binary.LittleEndian.Uint32(sdo[4:8])
		e.log.Warnf("sdo x%04x:%d aborted: x%08x (%s)", e.req.Index, e.req.Subindex, e.req.AbortCode, abortReason(AbortCode(e.req.AbortCode)))
		e.success = false
		return nil, false
	}
	if svc := getCoEService(buf[mailboxHeaderSize:]); svc != serviceSDOResponse {
		e.log.Warnf("sdo x%04x:%d unexpected mailbox service x%x", e.req.Index, e.req.Subindex, svc)
		e.success = false
		return nil, false
	}

	if e.req.Direction == request.Download {
		return e.handleDownloadResponse(cmd)
	}
	return e.handleUploadResponse(sdo)
}

func (e *Engine) handleDownloadResponse(cmd byte) (*ecat.Datagram, bool) {
	switch {
	case !e.segmented && cmd == cmdDownloadInitiateRsp:
		e.bytesTransferred = len(e.req.Data)
		e.success = true
		return nil, false
	case e.segmented && cmd == cmdDownloadInitiateRsp:
		return e.sendNextDownloadSegment()
	case e.segmented && (cmd&0xEF) == 0x20:
		if e.bytesTransferred >= len(e.req.Data) {
			e.success = true
			return nil, false
		}
		return e.sendNextDownloadSegment()
	default:
		e.log.Warnf("sdo x%04x:%d unexpected download response x%02x", e.req.Index, e.req.Subindex, cmd)
		e.success = false
		return nil, false
	}
}

func (e *Engine) sendNextDownloadSegment() (*ecat.Datagram, bool) {
	remaining := e.req.Data[e.bytesTransferred:]
	n := len(remaining)
	last := true
	if n > 7 {
		n = 7
		last = false
	}
	buf, sdo := e.frame(8)
	cmd := byte(0)
	if e.toggle != 0 {
		cmd |= toggleBit
	}
	if last {
		cmd |= 0x01
		cmd |= byte(7-n) << 1
	}
	sdo[0] = cmd
	copy(sdo[1:8], remaining[:n])
	e.toggle ^= toggleBit
	e.bytesTransferred += n
	return e.queueWrite(buf), true
}

func (e *Engine) handleUploadResponse(sdo []byte) (*ecat.Datagram, bool) {
	cmd := sdo[0]
	if cmd&0xF0 == 0x40 {
		return e.handleUploadInitiate(sdo)
	}
	if cmd&0xE0 == 0x00 {
		return e.handleUploadSegment(sdo)
	}
	e.log.Warnf("sdo x%04x:%d unexpected upload response x%02x", e.req.Index, e.req.Subindex, cmd)
	e.success = false
	return nil, false
}

func (e *Engine) handleUploadInitiate(sdo []byte) (*ecat.Datagram, bool) {
	expedited := sdo[0]&0x02 != 0
	sizeIndicated := sdo[0]&0x01 != 0
	if expedited {
		n := 0
		if sizeIndicated {
			n = int((sdo[0] >> 2) & 0x3)
		}
		dataLen := 4 - n
		if dataLen > len(e.req.Data) {
			dataLen = len(e.req.Data)
		}
		copy(e.req.Data, sdo[4:4+dataLen])
		e.success = true
		return nil, false
	}
	if sizeIndicated {
		e.expectedSize = binary.LittleEndian.Uint32(sdo[4:8])
	}
	e.uploadBuf = e.uploadBuf[:0]
	return e.sendUploadSegmentRequest()
}

func (e *Engine) sendUploadSegmentRequest() (*ecat.Datagram, bool) {
	buf, sdo := e.frame(8)
	cmd := cmdUploadSegmentReq
	if e.toggle != 0 {
		cmd |= toggleBit
	}
	sdo[0] = byte(cmd)
	return e.queueWrite(buf), true
}

func (e *Engine) handleUploadSegment(sdo []byte) (*ecat.Datagram, bool) {
	last := sdo[0]&0x01 != 0
	n := 7 - int((sdo[0]>>1)&0x7)
	e.uploadBuf = append(e.uploadBuf, sdo[1:1+n]...)
	e.toggle ^= toggleBit
	if last {
		copy(e.req.Data, e.uploadBuf)
		e.success = true
		return nil, false
	}
	return e.sendUploadSegmentRequest()
}
