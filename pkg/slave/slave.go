// Package slave holds slave identity, bus position and the per-class
// request queues the slave request FSM (pkg/slavefsm) multiplexes onto
// the shared datagram (spec §3). Grounded on the teacher's
// node.BaseNode: a small identity struct guarded by its own mutex, no
// protocol logic of its own.
package slave

import (
	"sync"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/request"
)

// ALState is the application-layer state of a slave, spec §3.
type ALState uint8

const (
	Init    ALState = 1
	PreOp   ALState = 2
	Boot    ALState = 3
	SafeOp  ALState = 4
	Op      ALState = 8
	AckErr  ALState = 0x10
)

func (s ALState) String() string {
	base := s &^ AckErr
	var name string
	switch base {
	case Init:
		name = "INIT"
	case PreOp:
		name = "PREOP"
	case Boot:
		name = "BOOT"
	case SafeOp:
		name = "SAFEOP"
	case Op:
		name = "OP"
	default:
		name = "UNKNOWN"
	}
	if s&AckErr != 0 {
		name += "+ACKERR"
	}
	return name
}

func (s ALState) HasAckErr() bool { return s&AckErr != 0 }
func (s ALState) Base() ALState   { return s &^ AckErr }

// Slave is the identity and bus position of one network node, plus its
// pending-request queues (spec §3).
type Slave struct {
	mu sync.Mutex

	StationAddress uint16
	DeviceIndex    ecat.DeviceIndex
	VendorID       uint32
	ProductCode    uint32
	alState        ALState

	sdoQueue    []*request.SDO
	regQueueExt []*request.Register // external, FIFO-dequeued (spec §4.1.2)
	foeQueue    []*request.FoE
	soeQueue    []*request.SoE

	config *Config // owning slave-config, nil once torn down (spec §4.1.2 cleanup contract)
}

// Config is the slave-config layer collaborator (spec §6). It is
// intentionally minimal here - the domain-facing FMMU/PDO configuration
// lives in pkg/config; this is just the back-reference the register
// request merge rule (spec §4.1.2) needs.
type Config struct {
	mu          sync.Mutex
	RegRequests []*request.Register
}

func NewConfig() *Config { return &Config{} }

// RegisterRequests returns the config's internal register-request slots,
// scanned (not dequeued) by the slave FSM (spec §4.1.2).
func (c *Config) RegisterRequests() []*request.Register {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.RegRequests
}

func (c *Config) AddRegisterRequest(r *request.Register) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.Internal = true
	c.RegRequests = append(c.RegRequests, r)
}

func New(stationAddress uint16, device ecat.DeviceIndex) *Slave {
	return &Slave{StationAddress: stationAddress, DeviceIndex: device, alState: Init}
}

func (s *Slave) ALState() ALState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alState
}

func (s *Slave) SetALState(state ALState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alState = state
}

// Config returns the owning slave-config, or nil if it has been torn
// down (spec §4.1.2 cleanup contract).
func (s *Slave) Config() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *Slave) SetConfig(c *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = c
}

// --- Queue accessors. All FIFO; producers append, the FSM pops. ---

func (s *Slave) SubmitSDO(r *request.SDO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sdoQueue = append(s.sdoQueue, r)
}

func (s *Slave) PeekSDO() *request.SDO {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sdoQueue) == 0 {
		return nil
	}
	return s.sdoQueue[0]
}

func (s *Slave) PopSDO() *request.SDO {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sdoQueue) == 0 {
		return nil
	}
	r := s.sdoQueue[0]
	s.sdoQueue = s.sdoQueue[1:]
	return r
}

func (s *Slave) SubmitRegister(r *request.Register) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regQueueExt = append(s.regQueueExt, r)
}

func (s *Slave) PeekExternalRegister() *request.Register {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.regQueueExt) == 0 {
		return nil
	}
	return s.regQueueExt[0]
}

func (s *Slave) PopExternalRegister() *request.Register {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.regQueueExt) == 0 {
		return nil
	}
	r := s.regQueueExt[0]
	s.regQueueExt = s.regQueueExt[1:]
	return r
}

func (s *Slave) SubmitFoE(r *request.FoE) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foeQueue = append(s.foeQueue, r)
}

func (s *Slave) PeekFoE() *request.FoE {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.foeQueue) == 0 {
		return nil
	}
	return s.foeQueue[0]
}

func (s *Slave) PopFoE() *request.FoE {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.foeQueue) == 0 {
		return nil
	}
	r := s.foeQueue[0]
	s.foeQueue = s.foeQueue[1:]
	return r
}

func (s *Slave) SubmitSoE(r *request.SoE) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.soeQueue = append(s.soeQueue, r)
}

func (s *Slave) PeekSoE() *request.SoE {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.soeQueue) == 0 {
		return nil
	}
	return s.soeQueue[0]
}

func (s *Slave) PopSoE() *request.SoE {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.soeQueue) == 0 {
		return nil
	}
	r := s.soeQueue[0]
	s.soeQueue = s.soeQueue[1:]
	return r
}
