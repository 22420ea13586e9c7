package hal

// EndpointConfig describes an endpoint to open on the controller.
// It is the minimal, platform-agnostic form of an endpoint descriptor.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type
	MaxPacketSize uint16 // Maximum packet size
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// EndpointStatus is the handshake an OUT endpoint returns to the host.
type EndpointStatus uint8

const (
	StatusDisabled EndpointStatus = iota // Endpoint ignores tokens
	StatusStall                          // Endpoint answers STALL
	StatusNAK                            // Endpoint answers NAK until re-enabled
	StatusValid                          // Endpoint accepts the next packet
)

// String returns a human-readable status name.
func (s EndpointStatus) String() string {
	switch s {
	case StatusDisabled:
		return "Disabled"
	case StatusStall:
		return "Stall"
	case StatusNAK:
		return "NAK"
	case StatusValid:
		return "Valid"
	default:
		return "Unknown"
	}
}

// DeviceHAL is the endpoint driver ("DCD") a class driver talks to.
//
// Every method is non-blocking: it queues or performs a hardware operation
// and returns. Completion is reported later through the class driver's
// DataIn/DataOut/EP0RxReady callbacks, which the platform's interrupt
// handler invokes through the composite framework.
//
// Implementations must tolerate calls from within those callbacks.
type DeviceHAL interface {
	// OpenEndpoint configures and enables a hardware endpoint.
	OpenEndpoint(cfg EndpointConfig) error

	// CloseEndpoint disables a hardware endpoint and drops anything
	// armed or queued on it.
	CloseEndpoint(address uint8) error

	// PrepareRx arms an OUT endpoint to receive at most len(buf) bytes
	// into buf. The buffer is owned by the hardware until the matching
	// DataOut callback.
	PrepareRx(address uint8, buf []byte) error

	// Transmit submits data on an IN endpoint. A nil or empty slice
	// sends a zero-length packet. The slice is owned by the hardware
	// until the matching DataIn callback.
	Transmit(address uint8, data []byte) error

	// Flush discards any packet queued on an IN endpoint.
	Flush(address uint8) error

	// SetEndpointStatus changes the handshake of an endpoint.
	SetEndpointStatus(address uint8, status EndpointStatus) error

	// Control Endpoint (EP0) Operations

	// ControlSend starts the IN data stage of the current control transfer.
	ControlSend(data []byte) error

	// ControlPrepareRx arms the OUT data stage of the current control
	// transfer. EP0RxReady is invoked once buf has been filled.
	ControlPrepareRx(buf []byte) error

	// ControlError stalls the control endpoint for the current transfer.
	ControlError() error
}
