// Package slavefsm implements the per-slave request state machine (spec
// §4.1): a cooperative FSM that multiplexes pending SDO, register, FoE
// and SoE requests onto one shared datagram per master cycle, delegating
// SDO/FoE/SoE to opaque mailbox transfer engines (pkg/mailbox) and
// handling register requests directly.
//
// Grounded on the teacher's pkg/sdo.SDOClient: a single struct holding
// the current protocol state plus the one in-flight datagram, advanced
// by a single tick-shaped entry point invoked once per cycle.
package slavefsm

import (
	"github.com/sirupsen/logrus"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/mailbox"
	"github.com/samsamfire/goethercat/pkg/request"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// State is the slave request FSM's state, spec §4.1.
type State uint8

const (
	Idle State = iota
	Ready
	SDORequest
	RegRequest
	FoERequest
	SoERequest
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Ready:
		return "READY"
	case SDORequest:
		return "SDO_REQUEST"
	case RegRequest:
		return "REG_REQUEST"
	case FoERequest:
		return "FOE_REQUEST"
	case SoERequest:
		return "SOE_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// FSM is the per-slave request multiplexer. One instance per slave; no
// inter-slave coordination (spec §1 Non-goals).
type FSM struct {
	state    State
	slave    *slave.Slave
	queue    *ecat.DatagramManager
	device   ecat.DeviceIndex
	log      *logrus.Entry
	datagram *ecat.Datagram // the shared datagram owned by this FSM while *_REQUEST

	sdoEngine mailbox.Transfer
	foeEngine mailbox.Transfer
	soeEngine mailbox.Transfer

	activeSDO *request.SDO
	activeReg *request.Register
	activeFoE *request.FoE
	activeSoE *request.SoE
}

// New builds a slave request FSM in state IDLE (spec §4.1).
func New(s *slave.Slave, queue *ecat.DatagramManager, sdoEngine, foeEngine, soeEngine mailbox.Transfer) *FSM {
	return &FSM{
		state:     Idle,
		slave:     s,
		queue:     queue,
		device:    s.DeviceIndex,
		log:       logrus.WithField("station", s.StationAddress),
		sdoEngine: sdoEngine,
		foeEngine: foeEngine,
		soeEngine: soeEngine,
		datagram:  &ecat.Datagram{State: ecat.StateReceived}, // vacuously satisfied precondition at start
	}
}

// State returns the FSM's current state.
func (f *FSM) State() State { return f.state }

// Ready is the one external transition, IDLE -> READY, triggered once the
// slave is known reachable (spec §4.1).
func (f *FSM) Ready() {
	if f.state == Idle {
		f.state = Ready
	}
}

// Tick is the single entry point invoked once per master cycle for this
// slave (spec §4.1 "Tick contract"). Precondition: the shared datagram is
// either RECEIVED or in the initial/empty INIT state; if it is still
// QUEUED or SENT, Tick returns immediately without advancing state - this
// is the suspension rule gating all progress on the previous cycle's
// round trip.
func (f *FSM) Tick() {
	if f.datagram.State == ecat.StateQueued || f.datagram.State == ecat.StateSent {
		return
	}

	switch f.state {
	case Ready:
		f.tickReady()
	case SDORequest:
		f.tickMailbox(request.ClassSDO)
	case FoERequest:
		f.tickMailbox(request.ClassFoE)
	case SoERequest:
		f.tickMailbox(request.ClassSoE)
	case RegRequest:
		f.tickRegister()
	case Idle:
		// No progress without an external Ready() call.
	}
}

// tickReady attempts, in fixed order, to dispatch the first processable
// request of each class: SDO, REG, FOE, SOE (spec §4.1 "READY rotation").
// The first class with a processable request wins; this bounds
// worst-case starvation to three class cycles and keeps FoE's long
// transfers from starving REG's short ones via priority inversion.
func (f *FSM) tickReady() {
	if r := f.slave.PeekSDO(); r != nil {
		f.dispatchSDO(r)
		return
	}
	if f.dispatchRegister() {
		return
	}
	if r := f.slave.PeekFoE(); r != nil {
		f.dispatchFoE(r)
		return
	}
	if r := f.slave.PeekSoE(); r != nil {
		f.dispatchSoE(r)
		return
	}
}

// abortTargetMailbox returns the state a request's abort path returns to. SDO
// and SoE abort to IDLE; REG and FOE abort to READY. This asymmetry is
// carried as-is from the legacy implementation this spec was distilled
// from - see spec §4.1 "Known asymmetry" and DESIGN.md's Open Question
// resolution. It is not "fixed" here.
func abortTargetMailbox(class request.Class) State {
	if class == request.ClassSDO || class == request.ClassSoE {
		return Idle
	}
	return Ready
}

func (f *FSM) dispatchSDO(r *request.SDO) {
	f.slave.PopSDO()
	if f.slave.ALState().HasAckErr() {
		r.Terminate(request.Failure, "slave error flag set")
		f.state = abortTargetMailbox(request.ClassSDO)
		return
	}
	if f.slave.ALState().Base() == slave.Init {
		r.Terminate(request.Failure, "slave is in INIT, mailbox unavailable")
		f.state = Idle
		return
	}
	r.SetBusy()
	f.activeSDO = r
	f.runMailboxFirstTick(f.sdoEngine, f.slave, r, SDORequest)
}

func (f *FSM) dispatchFoE(r *request.FoE) {
	f.slave.PopFoE()
	if f.slave.ALState().HasAckErr() {
		r.Terminate(request.Failure, "slave error flag set")
		f.state = abortTargetMailbox(request.ClassFoE)
		return
	}
	r.SetBusy()
	f.activeFoE = r
	f.runMailboxFirstTick(f.foeEngine, f.slave, r, FoERequest)
}

func (f *FSM) dispatchSoE(r *request.SoE) {
	f.slave.PopSoE()
	if f.slave.ALState().HasAckErr() {
		r.Terminate(request.Failure, "slave error flag set")
		f.state = abortTargetMailbox(request.ClassSoE)
		return
	}
	if f.slave.ALState().Base() == slave.Init {
		r.Terminate(request.Failure, "slave is in INIT, mailbox unavailable")
		f.state = Idle
		return
	}
	r.SetBusy()
	f.activeSoE = r
	f.runMailboxFirstTick(f.soeEngine, f.slave, r, SoERequest)
}

// runMailboxFirstTick hands the request to its transfer engine and
// invokes Exec once immediately to produce the first datagram (spec
// §4.1 step 4).
func (f *FSM) runMailboxFirstTick(engine mailbox.Transfer, s *slave.Slave, req any, next State) {
	if err := engine.Transfer(s, req); err != nil {
		f.terminateActive(request.Failure, err.Error())
		f.state = Ready
		return
	}
	dg, running := engine.Exec()
	if dg != nil {
		f.datagram = dg
		_ = f.queue.QueueDatagram(dg, f.device)
	}
	if !running {
		f.finishMailbox(engine)
		return
	}
	f.state = next
}

// tickMailbox drives an in-progress SDO/FoE/SoE transfer (spec §4.1.1).
func (f *FSM) tickMailbox(class request.Class) {
	engine := f.engineFor(class)
	dg, running := engine.Exec()
	if running {
		if dg != nil {
			f.datagram = dg
			_ = f.queue.QueueDatagram(dg, f.device)
		}
		return
	}
	f.finishMailbox(engine)
}

func (f *FSM) finishMailbox(engine mailbox.Transfer) {
	if engine.Success() {
		f.terminateActive(request.Success, "")
	} else {
		f.terminateActive(request.Failure, "transfer engine reported failure")
	}
	f.state = Ready
}

func (f *FSM) engineFor(class request.Class) mailbox.Transfer {
	switch class {
	case request.ClassSDO:
		return f.sdoEngine
	case request.ClassFoE:
		return f.foeEngine
	case request.ClassSoE:
		return f.soeEngine
	default:
		return nil
	}
}

// terminateActive terminates whichever mailbox request is currently in
// flight. Spec invariant 1 (at most one in-flight request across all
// four classes) guarantees at most one of these is non-nil at a time, so
// this does not need to consult f.state.
func (f *FSM) terminateActive(state request.State, reason string) {
	switch {
	case f.activeSDO != nil:
		f.activeSDO.Terminate(state, reason)
		f.activeSDO = nil
	case f.activeFoE != nil:
		f.activeFoE.Terminate(state, reason)
		f.activeFoE = nil
	case f.activeSoE != nil:
		f.activeSoE.Terminate(state, reason)
		f.activeSoE = nil
	}
}

// --- Register requests, spec §4.1.2 / §4.1.3 ---

// dispatchRegister merges the internal (config-owned) and external
// queues: internal is scanned first and flagged BUSY in place (never
// dequeued, since these slots are owned and resubmitted by the config);
// external is only consulted if no internal request is pending, and is
// FIFO-dequeued. Returns true if a request was dispatched.
func (f *FSM) dispatchRegister() bool {
	cfg := f.slave.Config()
	if cfg != nil {
		for _, r := range cfg.RegisterRequests() {
			if r.State() == request.Queued {
				f.beginRegister(r, false)
				return true
			}
		}
	}
	if r := f.slave.PeekExternalRegister(); r != nil {
		f.slave.PopExternalRegister()
		f.beginRegister(r, true)
		return true
	}
	return false
}

func (f *FSM) beginRegister(r *request.Register, owned bool) {
	if f.slave.ALState().HasAckErr() {
		r.Terminate(request.Failure, "slave error flag set")
		f.state = Ready
		return
	}
	r.SetBusy()
	f.activeReg = r

	var dg *ecat.Datagram
	if r.Direction == request.RegisterInput {
		dg = ecat.NewDatagram(ecat.CmdFPRD, uint32(f.slave.StationAddress)<<16|uint32(r.Address), len(r.Data), f.slave.DeviceIndex)
	} else {
		dg = ecat.NewDatagram(ecat.CmdFPWR, uint32(f.slave.StationAddress)<<16|uint32(r.Address), len(r.Data), f.slave.DeviceIndex)
		copy(dg.Data, r.Data)
	}
	f.datagram = dg
	_ = f.queue.QueueDatagram(dg, f.device)
	f.state = RegRequest
}

// tickRegister completes an in-flight register request (spec §4.1.3). A
// working counter of exactly 1 is success, since both FPRD and FPWR to a
// single station increment it by one.
func (f *FSM) tickRegister() {
	r := f.activeReg
	cfg := f.slave.Config()
	if r == nil {
		// No register request in flight. Return to READY untouched.
		f.state = Ready
		return
	}
	if cfg == nil && r.Internal {
		// Cleanup contract (spec §4.1.2): the owning config was torn down
		// between dispatch and completion; the request was already freed
		// with it, so it is left untouched.
		f.activeReg = nil
		f.state = Ready
		return
	}

	dg := f.datagram
	if dg.State != ecat.StateReceived {
		f.log.Warnf("register request to x%04x: datagram state %v, not RECEIVED", r.Address, dg.State)
		r.Terminate(request.Failure, "datagram lost")
	} else if dg.WorkingCounter == 1 {
		if r.Direction == request.RegisterInput {
			copy(r.Data, dg.Data)
		}
		r.Terminate(request.Success, "")
	} else {
		f.log.Warnf("register request to x%04x: unexpected working counter %d", r.Address, dg.WorkingCounter)
		r.Terminate(request.Failure, "unexpected working counter")
	}
	f.activeReg = nil
	f.state = Ready
}
