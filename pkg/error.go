package pkg

import "errors"

// USB protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates the endpoint refused the packet (device busy).
	ErrNAK = errors.New("NAK received")

	// ErrNotConfigured indicates the function is not configured.
	ErrNotConfigured = errors.New("not configured")

	// ErrInvalidEndpoint indicates an event for an endpoint the class does not own.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrBufferFull indicates a ring buffer had no room for the whole write.
	ErrBufferFull = errors.New("buffer full")

	// ErrBufferEmpty indicates a ring buffer had nothing to read.
	ErrBufferEmpty = errors.New("buffer empty")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoResources indicates no free interface numbers or endpoint addresses.
	ErrNoResources = errors.New("no resources available")

	// ErrNotArmed indicates the endpoint has no buffer prepared for reception.
	ErrNotArmed = errors.New("endpoint not armed")

	// ErrEndpointClosed indicates an operation on an endpoint that is not open.
	ErrEndpointClosed = errors.New("endpoint closed")

	// ErrEndpointBusy indicates a packet submitted earlier is still queued.
	ErrEndpointBusy = errors.New("endpoint busy")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")
)
