// Package master is the EtherCAT master's load-bearing scaffolding (spec
// §6 supplemented features): it owns the slave and domain collections,
// drives the datagram manager, and exposes one Tick() invoked once per
// cycle by an external ticker. spec.md puts the master configuration FSM
// out of scope as a collaborator; the master object itself - the thing
// that owns slave instances and calls tick() on each once per cycle - is
// needed for the slave FSM and domain engine to run at all.
//
// Grounded on pkg/network.Network (owns the node/slave collection, a
// default logger, broadcast-style Command) for the object shape, and on
// pkg/node.NodeProcessor (time.Ticker-driven background/main goroutines,
// context-cancellable Start/Stop/Wait) for the cyclic driver.
package master

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/domain"
	"github.com/samsamfire/goethercat/pkg/mailbox/coe"
	"github.com/samsamfire/goethercat/pkg/mailbox/foe"
	"github.com/samsamfire/goethercat/pkg/mailbox/soe"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/samsamfire/goethercat/pkg/slavefsm"
	"github.com/sirupsen/logrus"
)

// Master owns every slave and domain on the bus and drives one cycle of
// the slave request FSM and domain engine per Tick (spec §5's "master-wide
// mutex").
type Master struct {
	mu sync.Mutex

	queue   *ecat.DatagramManager
	slaves  map[uint16]*slave.Slave
	fsms    map[uint16]*slavefsm.FSM
	domains []*domain.Domain

	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	period time.Duration
}

// New builds a master around driver, idle (no slaves or domains yet).
// logger defaults to slog.Default(), matching network.NewNetwork.
func New(driver ecat.Driver, period time.Duration, logger *slog.Logger) *Master {
	if logger == nil {
		logger = slog.Default()
	}
	queue := ecat.NewDatagramManager(driver)
	queue.SetLogger(logger)
	return &Master{
		queue:  queue,
		slaves: map[uint16]*slave.Slave{},
		fsms:   map[uint16]*slavefsm.FSM{},
		logger: logger.With("service", "[MASTER]"),
		period: period,
	}
}

// Connect opens the underlying driver's link(s).
func (m *Master) Connect() error {
	return m.queue.Driver().Connect()
}

// Disconnect closes the underlying driver's link(s).
func (m *Master) Disconnect() error {
	return m.queue.Driver().Disconnect()
}

// AddDomain registers a (possibly already-Finished) domain to be queued
// and processed every Tick.
func (m *Master) AddDomain(dom *domain.Domain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains = append(m.domains, dom)
}

// Domains returns every registered domain, in registration order.
func (m *Master) Domains() []*domain.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Domain(nil), m.domains...)
}

// AddSlave registers a slave and builds its per-slave request FSM,
// wiring a fresh set of CoE/FoE/SoE mailbox transfer engines - one
// instance per slave, since each holds the in-flight state of one
// transfer and two slaves may have transfers in flight concurrently.
func (m *Master) AddSlave(s *slave.Slave, cfg *config.SlaveConfig) *slavefsm.FSM {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg != nil {
		cfg.Bind(s)
	}
	log := logrus.WithField("station", s.StationAddress)
	fsm := slavefsm.New(s, m.queue, coe.New(log), foe.New(log), soe.New(log))
	m.slaves[s.StationAddress] = s
	m.fsms[s.StationAddress] = fsm
	return fsm
}

// Slave looks up a registered slave by station address.
func (m *Master) Slave(stationAddress uint16) (*slave.Slave, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slaves[stationAddress]
	return s, ok
}

// FSM looks up a registered slave's request FSM by station address.
func (m *Master) FSM(stationAddress uint16) (*slavefsm.FSM, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fsms[stationAddress]
	return f, ok
}

// Slaves returns every registered slave, unordered.
func (m *Master) Slaves() []*slave.Slave {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*slave.Slave, 0, len(m.slaves))
	for _, s := range m.slaves {
		out = append(out, s)
	}
	return out
}

// Tick runs one cycle: advance every slave's request FSM, queue this
// cycle's domain datagrams, send and receive everything queued, then apply
// the domain redundancy fallback to the data that came back (spec §2,
// §4.3, §5). Cyclic-path failures are folded into domain/request state and
// never returned, per spec §7 - Tick's error return is reserved for the
// datagram manager itself having no driver configured.
func (m *Master) Tick() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, fsm := range m.fsms {
		fsm.Tick()
	}
	for _, dom := range m.domains {
		if err := dom.Queue(m.queue); err != nil {
			m.logger.Error("failed to queue domain", "domain", dom.Number, "err", err)
		}
	}
	// Driver round-trip failures are logged by the datagram manager and
	// leave the affected datagrams TIMED_OUT; domains still process them.
	err := m.queue.Process()
	for _, dom := range m.domains {
		dom.Process()
	}
	if err != nil && m.queue.Driver() == nil {
		return fmt.Errorf("master: process cycle: %w", err)
	}
	return nil
}

// background runs Tick on a fixed period until ctx is cancelled,
// mirroring node.NodeProcessor.main's ticker-driven loop.
func (m *Master) background(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	m.logger.Info("starting master cyclic task")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("exited master cyclic task")
			return
		case <-ticker.C:
			if err := m.Tick(); err != nil {
				m.logger.Error("cycle failed", "err", err)
			}
		}
	}
}

// Start runs the cyclic task in a goroutine. Call Stop to end it, Wait
// to block until it has.
func (m *Master) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.background(ctx)
	}()
}

// Stop cancels the cyclic task. Call Wait afterwards to block until it
// has actually exited.
func (m *Master) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Wait blocks until the cyclic task started by Start has exited.
func (m *Master) Wait() {
	m.wg.Wait()
}
