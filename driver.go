package ecat

// Driver is the external Ethernet frame driver collaborator (spec §1,
// "out of scope: the Ethernet driver and raw frame I/O"). The core only
// depends on this shape: hand it datagrams to send, and find each one
// completed in place when SendDatagrams returns. Concrete drivers (pkg/driver/virtual, pkg/driver/rawsock)
// implement it against a real or loopback transport.
type Driver interface {
	// Connect brings the link(s) up.
	Connect() error
	// Disconnect tears the link(s) down.
	Disconnect() error
	// SendDatagrams transmits one cycle's worth of datagrams on the given
	// device, combined into as few physical frames as the driver likes.
	// The driver advances each datagram's State from Queued to Sent and,
	// once a reply is observed, to Received or TimedOut, filling in Data
	// and WorkingCounter for Received datagrams.
	SendDatagrams(device DeviceIndex, datagrams []*Datagram) error
}

// FrameListener is kept for drivers that want to demux asynchronously
// delivered replies rather than blocking inside SendDatagrams.
type FrameListener interface {
	HandleDatagram(d *Datagram)
}
