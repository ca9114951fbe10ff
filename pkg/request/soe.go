package request

// SoE is a servo-over-mailbox parameter request, spec §3.
type SoE struct {
	Base
	DriveNumber uint8
	IDN         uint16
	Data        []byte
	Direction   Direction
}

func NewSoE(drive uint8, idn uint16, dir Direction, data []byte) *SoE {
	return &SoE{Base: newBase(), DriveNumber: drive, IDN: idn, Direction: dir, Data: data}
}
