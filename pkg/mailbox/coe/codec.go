// Package coe implements the CoE (CANopen over EtherCAT) mailbox
// protocol's client side: SDO expedited and segmented upload/download,
// addressed over a slave's mailbox-out/mailbox-in memory areas instead of
// CAN frames.
//
// Grounded on the teacher's pkg/sdo: CoE is, by design, CANopen's SDO
// protocol carried over a different transport, so the command-specifier
// byte layout, toggle bit and abort code space are reused verbatim from
// pkg/sdo/common.go - only the framing underneath (mailbox header instead
// of a CAN frame) and the tick-driven Exec shape (instead of a CAN
// Handle callback) change.
package coe

import "encoding/binary"

// MailboxOutAddress is modeled as a fixed logical register address within
// a slave's station address space (spec §3's FPRD/FPWR "register I/O"
// request class); real EtherCAT slaves advertise it via SII sync manager
// entries, which is outside this module's scope. There is no separate
// mailbox-in address: per Engine's doc comment, the response is mirrored
// into the same write datagram's buffer rather than polled separately.
const MailboxOutAddress uint16 = 0x1000

const mailboxHeaderSize = 6

type mailboxType uint8

const coeType mailboxType = 0x03

// putMailboxHeader writes the 6-byte mailbox header: length, station
// address (always 0 from the client's own perspective), channel/priority,
// and type/counter.
func putMailboxHeader(buf []byte, dataLen int, counter uint8) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(dataLen))
	binary.LittleEndian.PutUint16(buf[2:4], 0)
	buf[4] = 0
	buf[5] = byte(coeType) | (counter&0x7)<<4
}

func mailboxDataLen(buf []byte) int {
	return int(binary.LittleEndian.Uint16(buf[0:2]))
}

// CoE header: 2 bytes, number (9 bits) + reserved (3 bits) + service (4
// bits), little-endian per ETG.1000.
type coeService uint8

const (
	serviceSDORequest  coeService = 2
	serviceSDOResponse coeService = 3
)

func putCoEHeader(buf []byte, service coeService) {
	binary.LittleEndian.PutUint16(buf, uint16(service)<<12)
}

func getCoEService(buf []byte) coeService {
	return coeService(binary.LittleEndian.Uint16(buf) >> 12)
}

const coeHeaderSize = 2

// SDO command specifiers, identical byte values to CANopen SDO
// (pkg/sdo/common.go's isResponseCommandValid switch).
const (
	cmdDownloadInitiateReq = 0x23 // expedited, 4 bytes, size indicated
	cmdDownloadInitiateRsp = 0x60
	cmdDownloadSegmentReq  = 0x00 // | toggle | more-follows | size-used bits
	cmdUploadInitiateReq   = 0x40
	cmdUploadSegmentReq    = 0x60 // | toggle
	cmdAbort               = 0x80
)

const (
	toggleBit     = 0x10
	sizeIndicated = 0x01
)

// AbortCode mirrors CANopen SDO's abort code space (pkg/sdo/common.go),
// which CoE reuses verbatim.
type AbortCode uint32

const (
	AbortTimeout      AbortCode = 0x05040000
	AbortToggleBit    AbortCode = 0x05030000
	AbortNotExist     AbortCode = 0x06020000
	AbortTypeMismatch AbortCode = 0x06070010
	AbortGeneral      AbortCode = 0x08000000
)

func (a AbortCode) Error() string { return "CoE SDO abort" }

// abortReason gives a short human-readable label for the abort codes this
// client recognizes, falling back to "unspecified" for the rest of
// ETG.1000's abort code space.
func abortReason(code AbortCode) string {
	switch code {
	case AbortTimeout:
		return "timeout"
	case AbortToggleBit:
		return "toggle bit not alternated"
	case AbortNotExist:
		return "object does not exist"
	case AbortTypeMismatch:
		return "data type mismatch"
	case AbortGeneral:
		return "general error"
	default:
		return "unspecified"
	}
}
