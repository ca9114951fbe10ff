package request

// FoE is a file-over-mailbox request, spec §3. Payload may be several
// kilobytes and span many master cycles.
type FoE struct {
	Base
	Filename  string
	Password  uint32
	Data      []byte
	Direction Direction
}

func NewFoE(filename string, password uint32, dir Direction, data []byte) *FoE {
	return &FoE{Base: newBase(), Filename: filename, Password: password, Direction: dir, Data: data}
}
