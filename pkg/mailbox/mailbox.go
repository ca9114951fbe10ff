// Package mailbox defines the uniform interface the slave request FSM
// drives CoE/FoE/SoE transfer engines through (spec §4.2). The FSM never
// inspects a transfer engine's internal states - it only calls Transfer,
// Exec and Success. Concrete engines live in pkg/mailbox/coe,
// pkg/mailbox/foe and pkg/mailbox/soe.
package mailbox

import ecat "github.com/samsamfire/goethercat"

// Transfer is the opaque sub-FSM shape spec §4.2 specifies. Slave is
// typed as `any` here to avoid an import cycle with pkg/slave (which
// depends on nothing in this package); concrete engines assert the
// concrete slave type they need.
type Transfer interface {
	// Transfer binds the engine to a new request (one-shot init).
	Transfer(slave any, request any) error
	// Exec advances the engine by one cycle. It returns the datagram the
	// engine wants queued next (nil if nothing to send this tick, e.g.
	// while waiting on the previous datagram's round trip), and whether
	// the engine is still running. The slave FSM enqueues the returned
	// datagram and re-invokes Exec next cycle while running is true.
	Exec() (datagram *ecat.Datagram, running bool)
	// Success is valid only after Exec returned running=false. It
	// distinguishes terminal SUCCESS from terminal FAILURE.
	Success() bool
}
