package device

// ClassDriver is a USB function registered with a [Composite].
//
// The composite invokes the callbacks from the controller's interrupt
// context and never runs two of them concurrently. Callbacks must not block.
type ClassDriver interface {
	// Init opens the function's endpoints for configuration cfgidx.
	Init(cfgidx uint8) error

	// DeInit closes the function's endpoints and resets its state. It is
	// called on de-configuration and bus reset and must be idempotent.
	DeInit(cfgidx uint8) error

	// Setup handles a SETUP packet addressed to one of the function's
	// interfaces or endpoints.
	Setup(setup *SetupPacket) error

	// EP0RxReady is called when the OUT data stage of a control transfer
	// started by this function's Setup has completed.
	EP0RxReady() error

	// DataIn is called when an IN transfer on one of the function's
	// endpoints has completed. epnum carries no direction bit.
	DataIn(epnum uint8) error

	// DataOut is called when n bytes have been received on one of the
	// function's OUT endpoints.
	DataOut(epnum uint8, n int) error

	// SOF is called once per USB frame.
	SOF() error

	// ConfigDescriptor writes the function's part of the configuration
	// descriptor into buf, numbering its interfaces from firstInterface.
	// Returns the bytes written, or 0 if buf is too small.
	ConfigDescriptor(speed Speed, firstInterface uint8, buf []byte) int

	// NumInterfaces returns how many interface numbers the function uses.
	NumInterfaces() uint8

	// Endpoints returns the endpoint addresses the function owns.
	Endpoints() EndpointMask
}
