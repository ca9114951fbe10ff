// Package domain implements the process-data domain engine (spec §4.3,
// §5): packing FMMU configurations into a logical address space, splitting
// the space across main/backup datagram pairs bounded by EcMaxDataSize,
// computing per-pair expected working counters, and applying the
// byte-range redundancy fallback on every cycle.
//
// Grounded on the teacher's pkg/pdo (PDO mapping walks a slave's object
// list building up a cyclic transfer image) generalized from one slave's
// single transfer to many slaves sharing one logical address space split
// across several datagram pairs.
package domain

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	ecat "github.com/samsamfire/goethercat"
)

// WCState is the coarse health derived from a domain's working counter,
// spec §5 "wc_state".
type WCState uint8

const (
	WCZero WCState = iota
	WCIncomplete
	WCComplete
)

func (s WCState) String() string {
	switch s {
	case WCZero:
		return "ZERO"
	case WCIncomplete:
		return "INCOMPLETE"
	default:
		return "COMPLETE"
	}
}

// Domain is a numbered set of FMMU configurations packed into one logical
// address space and processed as a unit every cycle (spec §4.3).
type Domain struct {
	mu sync.Mutex

	Number   int
	fmmus    []*FMMU
	dataSize int
	data     []byte
	external bool // true if Data was supplied by the caller, not allocated

	logicalBase uint32
	pairs       []*DatagramPair
	expectedWC  uint32
	finished    bool

	workingCounter        uint32
	workingCounterChanges uint32

	log             *slog.Logger
	lastLogTime     time.Time
	pendingLogCount int
}

// New creates an empty, unfinished domain. log defaults to slog.Default()
// if nil, matching the teacher's lifecycle-layer logging convention.
func New(number int, log *slog.Logger) *Domain {
	if log == nil {
		log = slog.Default()
	}
	return &Domain{Number: number, log: log}
}

// UseExternalMemory lets the caller supply the domain's backing buffer
// (e.g. memory shared with another process) instead of having Finish
// allocate one, spec §4.3 "external memory" option. Must be called before
// Finish.
func (d *Domain) UseExternalMemory(buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = buf
	d.external = true
}

// AddFMMUConfig appends one FMMU configuration to the domain, assigning
// its pre-base logical offset immediately (spec §4.3 step 1). Must be
// called before Finish.
func (d *Domain) AddFMMUConfig(slaveConfig SlaveConfigID, dir Direction, physicalStart uint16, dataSize int) (*FMMU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finished {
		return nil, fmt.Errorf("domain %d: %w", d.Number, ecat.ErrAlreadyFinished)
	}
	f := &FMMU{
		SlaveConfig:         slaveConfig,
		Direction:           dir,
		PhysicalStart:       physicalStart,
		DataSize:            dataSize,
		LogicalStartAddress: uint32(d.dataSize),
	}
	d.fmmus = append(d.fmmus, f)
	d.dataSize += dataSize
	return f, nil
}

// DataSize returns the domain's total byte size, valid any time after the
// FMMUs that will ever be added have been added.
func (d *Domain) DataSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dataSize
}

// Data returns the domain's process-image buffer. Safe to read/write
// concurrently with Process only insofar as the caller coordinates with
// the master's cycle; this mirrors the teacher's PDO image access.
func (d *Domain) Data() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data
}

type fmmuKey struct {
	id  SlaveConfigID
	dir Direction
}

// Finish seals the domain: it patches every FMMU's logical start address
// to include baseAddress, splits the FMMUs into datagram pairs bounded by
// EcMaxDataSize, and computes each pair's expected working counter (spec
// §4.3 steps 1-4). One-shot; calling it twice is an error.
func (d *Domain) Finish(baseAddress uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finished {
		return fmt.Errorf("domain %d: Finish called twice", d.Number)
	}
	d.finished = true
	d.logicalBase = baseAddress

	if d.external {
		if len(d.data) != d.dataSize {
			return fmt.Errorf("domain %d: external memory size %d does not match FMMU total %d", d.Number, len(d.data), d.dataSize)
		}
	} else {
		d.data = make([]byte, d.dataSize)
	}

	var (
		datagramOffset int
		datagramSize   int
		usedIn, usedOut int
		seen           = map[fmmuKey]bool{}
		batch          []*FMMU
	)

	seal := func() error {
		if datagramSize == 0 {
			return nil
		}
		pair, err := d.newPair(datagramOffset, datagramSize, usedIn, usedOut)
		if err != nil {
			return err
		}
		for _, f := range batch {
			f.pair = pair
		}
		d.pairs = append(d.pairs, pair)
		d.expectedWC += pair.ExpectedWorkingCounter
		return nil
	}

	for _, f := range d.fmmus {
		// Seal when the running size has already gone over budget from a
		// prior addition - this fmmu, and any before it that fit, stay in
		// the pair they landed in; only the *next* one after an overflow
		// starts a fresh pair (spec §4.3 scenario 4: 800+800 tiles one
		// pair even though 1600 > EC_MAX_DATA_SIZE=1500 in that example).
		if datagramSize > ecat.EcMaxDataSize {
			if err := seal(); err != nil {
				return err
			}
			datagramOffset += datagramSize
			datagramSize = 0
			usedIn, usedOut = 0, 0
			seen = map[fmmuKey]bool{}
			batch = nil
		}

		f.LogicalStartAddress += baseAddress

		k := fmmuKey{f.SlaveConfig, f.Direction}
		if !seen[k] {
			seen[k] = true
			if f.Direction == Input {
				usedIn++
			} else {
				usedOut++
			}
		}
		batch = append(batch, f)
		datagramSize += f.DataSize
	}
	if err := seal(); err != nil {
		return err
	}
	return nil
}

func (d *Domain) newPair(offset, size, usedIn, usedOut int) (*DatagramPair, error) {
	var cmd ecat.Command
	var expected uint32
	switch {
	case usedIn > 0 && usedOut > 0:
		cmd = ecat.CmdLRW
		expected = uint32(2*usedOut + usedIn)
	case usedOut > 0:
		cmd = ecat.CmdLWR
		expected = uint32(usedOut)
	case usedIn > 0:
		cmd = ecat.CmdLRD
		expected = uint32(usedIn)
	default:
		return nil, fmt.Errorf("domain %d: datagram pair at offset %d has no FMMUs", d.Number, offset)
	}

	logicalAddress := d.logicalBase + uint32(offset)
	pair := &DatagramPair{
		Offset:                 offset,
		Size:                   size,
		LogicalAddress:         logicalAddress,
		ExpectedWorkingCounter: expected,
		SendBuffer:             make([]byte, size),
	}
	// ecat.NewDatagram caps its buffer at EcMaxDataSize, which is correct
	// for single-frame request datagrams but wrong here: the sealing loop
	// above intentionally lets a pair's size run over that cap (spec §4.3
	// scenario 4), so the pair's datagrams are built directly with a
	// buffer sized to the full pair, not the single-frame cap.
	pair.Datagrams[ecat.DeviceMain] = &ecat.Datagram{
		Command:     cmd,
		Address:     logicalAddress,
		Data:        make([]byte, size),
		State:       ecat.StateInit,
		DeviceIndex: ecat.DeviceMain,
	}
	pair.Datagrams[ecat.DeviceBackup] = &ecat.Datagram{
		Command:     cmd,
		Address:     logicalAddress,
		Data:        make([]byte, size),
		State:       ecat.StateInit,
		DeviceIndex: ecat.DeviceBackup,
	}
	return pair, nil
}

// Queue copies the domain's current output bytes into every pair's main
// and backup datagrams and enqueues both onto the manager (spec §4.3
// "queue"). Must be called after Finish, once per cycle before Process.
func (d *Domain) Queue(mgr *ecat.DatagramManager) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, pair := range d.pairs {
		main := pair.Datagrams[ecat.DeviceMain]
		copy(main.Data, d.data[pair.Offset:pair.Offset+pair.Size])
		copy(pair.SendBuffer, main.Data)
		copy(pair.Datagrams[ecat.DeviceBackup].Data, pair.SendBuffer)

		if err := mgr.QueueDatagram(main, ecat.DeviceMain); err != nil {
			return err
		}
		if err := mgr.QueueDatagram(pair.Datagrams[ecat.DeviceBackup], ecat.DeviceBackup); err != nil {
			return err
		}
	}
	return nil
}

// Process applies the redundancy byte-range fallback to every
// input-direction FMMU and recomputes the domain's aggregate working
// counter (spec §4.3 "process", §5). Must be called after the cycle's
// datagrams have completed their round trip.
func (d *Domain) Process() {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := append([]byte(nil), d.data...)

	for _, f := range d.fmmus {
		if f.Direction != Input {
			continue
		}
		pair := f.pair
		if pair == nil {
			continue
		}
		offsetInPair := int(f.LogicalStartAddress-d.logicalBase) - pair.Offset
		domOff := int(f.LogicalStartAddress - d.logicalBase)

		mainBytes := pair.Datagrams[ecat.DeviceMain].Data[offsetInPair : offsetInPair+f.DataSize]
		backupBytes := pair.Datagrams[ecat.DeviceBackup].Data[offsetInPair : offsetInPair+f.DataSize]
		prevBytes := prev[domOff : domOff+f.DataSize]

		if !bytesEqual(mainBytes, prevBytes) {
			copy(d.data[domOff:domOff+f.DataSize], mainBytes)
			continue
		}
		if !bytesEqual(backupBytes, prevBytes) || pair.Complete() {
			copy(d.data[domOff:domOff+f.DataSize], backupBytes)
		}
	}

	var total uint32
	for _, pair := range d.pairs {
		total += pair.ObservedWorkingCounter()
	}
	if total != d.workingCounter {
		d.workingCounter = total
		d.workingCounterChanges++
		d.pendingLogCount++
		d.logChange()
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// logChange coalesces working-counter-change reports so that at most one
// line per second is emitted, summarising either a single transition or
// the count of changes seen during the window (spec §5).
func (d *Domain) logChange() {
	now := time.Now()
	if !d.lastLogTime.IsZero() && now.Sub(d.lastLogTime) < time.Second {
		return
	}
	if d.pendingLogCount == 1 {
		d.log.Info("domain working counter changed", "domain", d.Number, "wc", d.workingCounter, "expected", d.expectedWC)
	} else {
		d.log.Info("domain working counter changed repeatedly", "domain", d.Number, "count", d.pendingLogCount, "wc", d.workingCounter, "expected", d.expectedWC)
	}
	d.lastLogTime = now
	d.pendingLogCount = 0
}

// State returns the domain's current working counter and its derived
// health, spec §5.
func (d *Domain) State() (wc uint32, expected uint32, state WCState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.workingCounter == 0:
		return d.workingCounter, d.expectedWC, WCZero
	case d.workingCounter < d.expectedWC:
		return d.workingCounter, d.expectedWC, WCIncomplete
	default:
		return d.workingCounter, d.expectedWC, WCComplete
	}
}

// Pairs returns the domain's sealed datagram pairs, valid after Finish.
func (d *Domain) Pairs() []*DatagramPair {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pairs
}
