package ecat

import (
	"log/slog"
	"sync"
)

// DatagramManager queues datagrams per link and round-trips them through
// a Driver once per master cycle. It plays the role the teacher's
// BusManager plays for CAN frames (bus_manager.go): a thin, mutex-guarded
// layer between the core FSMs and the transport, with no protocol
// knowledge of its own.
type DatagramManager struct {
	logger *slog.Logger
	mu     sync.Mutex
	driver Driver
	queues [NumDevices][]*Datagram
}

// NewDatagramManager constructs a manager around the given driver. driver
// may be nil and set later via SetDriver, mirroring BusManager's
// construct-then-SetBus pattern.
func NewDatagramManager(driver Driver) *DatagramManager {
	return &DatagramManager{
		logger: slog.Default(),
		driver: driver,
	}
}

func (m *DatagramManager) SetDriver(driver Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driver = driver
}

func (m *DatagramManager) Driver() Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.driver
}

func (m *DatagramManager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// QueueDatagram enqueues a datagram for transmission on one device index,
// spec §6 `master_queue_datagram`. Advances State to StateQueued.
func (m *DatagramManager) QueueDatagram(d *Datagram, device DeviceIndex) error {
	if !device.Valid() {
		return ErrDeviceIndex
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d.DeviceIndex = device
	d.State = StateQueued
	m.queues[device] = append(m.queues[device], d)
	return nil
}

// Process sends every queued datagram on every device and drains the
// queues. The driver is expected to have advanced each datagram's State
// to StateReceived or StateTimedOut, and filled Data/WorkingCounter for
// received ones, by the time SendDatagrams returns - this models the
// "driver sends, then receives" half-cycle of spec §2's data flow.
func (m *DatagramManager) Process() error {
	m.mu.Lock()
	driver := m.driver
	var batches [NumDevices][]*Datagram
	for dev := range m.queues {
		batches[dev] = m.queues[dev]
		m.queues[dev] = nil
	}
	m.mu.Unlock()

	if driver == nil {
		for dev := range batches {
			for _, d := range batches[dev] {
				d.State = StateTimedOut
			}
		}
		return ErrNoDriver
	}

	var firstErr error
	for dev, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		if err := driver.SendDatagrams(DeviceIndex(dev), batch); err != nil {
			m.logger.Warn("datagram round-trip failed", "device", DeviceIndex(dev), "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Pending reports how many datagrams are queued for a device, mostly
// useful for tests asserting the "one datagram per cycle" budget (spec §1).
func (m *DatagramManager) Pending(device DeviceIndex) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !device.Valid() {
		return 0
	}
	return len(m.queues[device])
}
