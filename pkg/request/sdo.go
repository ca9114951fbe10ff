package request

// Direction distinguishes an upload (slave -> master) from a download
// (master -> slave) SDO transfer, spec §3.
type Direction uint8

const (
	Upload Direction = iota
	Download
)

// SDO is a service-data-object request against a slave's object
// dictionary, spec §3.
type SDO struct {
	Base
	Index     uint16
	Subindex  uint8
	Direction Direction
	Data      []byte
	AbortCode uint32
}

// NewSDO builds a queued SDO request. Data is the payload to download,
// or a destination buffer sized for the expected upload.
func NewSDO(index uint16, subindex uint8, dir Direction, data []byte) *SDO {
	return &SDO{Base: newBase(), Index: index, Subindex: subindex, Direction: dir, Data: data}
}
