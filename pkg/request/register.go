package request

// RegisterDirection selects whether a register request reads (input) or
// writes (output) the slave's raw address space, spec §3.
type RegisterDirection uint8

const (
	RegisterInput  RegisterDirection = iota // read
	RegisterOutput                          // write
)

// Register is a raw slave-local register access, spec §3. Internal
// register requests (config.reg_requests, spec §4.1.2) are long-lived and
// repeatedly submitted; Internal distinguishes these from one-shot
// external requests (slave.Config.AddRegisterRequest sets it), and the
// slave FSM uses it to leave an in-flight request untouched once its
// owning config has been torn down (spec §4.1.2).
type Register struct {
	Base
	Address   uint16
	Direction RegisterDirection
	Data      []byte
	Internal  bool
}

// NewRegister builds a queued register request. Data must be sized to
// the transfer: for RegisterInput it is the destination buffer, for
// RegisterOutput it is the payload to write.
func NewRegister(address uint16, dir RegisterDirection, data []byte) *Register {
	return &Register{Base: newBase(), Address: address, Direction: dir, Data: data}
}

// Requeue resets an internal (config-owned) register request back to
// QUEUED so it can be dispatched again next time it is due. Internal
// requests are never re-allocated - they are flagged BUSY in place and
// then recycled here, per spec §4.1.2's "not dequeued" rule.
func (r *Register) Requeue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Queued
	r.closed = false
	r.done = make(chan struct{})
	r.reason = ""
}
