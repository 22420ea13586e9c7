package cdc

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/ardnew/mcdc/device"
	"github.com/ardnew/mcdc/device/hal"
	"github.com/ardnew/mcdc/pkg"
)

type rxState uint8

const (
	rxNAKed rxState = iota
	rxAccepting
)

type txState uint8

const (
	txIdle txState = iota
	txInFlight
)

// RequestHandler receives every CDC class request after the built-in
// handling has run. For device-to-host requests buf already holds the
// response and may be modified before it is sent. buf is nil for requests
// without a data stage and must not be retained after the call.
type RequestHandler interface {
	HandleRequest(a *ACM, cmd uint8, buf []byte)
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc func(a *ACM, cmd uint8, buf []byte)

// HandleRequest calls f(a, cmd, buf).
func (f RequestHandlerFunc) HandleRequest(a *ACM, cmd uint8, buf []byte) {
	f(a, cmd, buf)
}

// Config describes one virtual serial port.
type Config struct {
	// Endpoint addresses, including the direction bit.
	DataIn  uint8
	DataOut uint8
	Command uint8

	// Ring storage. Capacity is the slice length; the slices are used
	// in place and never reallocated. RxBuffer holds at least two
	// receive packets.
	RxBuffer []byte
	TxBuffer []byte

	// Packet sizes. Zero selects the defaults (64, 64 and 8).
	RxPacketSize      int
	TxPacketSize      int
	CommandPacketSize int

	// Handler receives every class request. May be nil.
	Handler RequestHandler

	// HAL performs the endpoint operations. Attach fills it from the
	// composite when nil.
	HAL hal.DeviceHAL
}

func (c *Config) setDefaults() {
	if c.RxPacketSize == 0 {
		c.RxPacketSize = DefaultDataPacketSize
	}
	if c.TxPacketSize == 0 {
		c.TxPacketSize = DefaultDataPacketSize
	}
	if c.CommandPacketSize == 0 {
		c.CommandPacketSize = DefaultCommandPacketSize
	}
}

func (c *Config) validate() error {
	var result *multierror.Error
	if c.HAL == nil {
		result = multierror.Append(result, fmt.Errorf("%w: nil HAL", pkg.ErrInvalidParameter))
	}
	if !device.EndpointIsIn(c.DataIn) || device.EndpointNumber(c.DataIn) == 0 {
		result = multierror.Append(result,
			fmt.Errorf("%w: data IN endpoint 0x%02X", pkg.ErrInvalidParameter, c.DataIn))
	}
	if device.EndpointIsIn(c.DataOut) || device.EndpointNumber(c.DataOut) == 0 {
		result = multierror.Append(result,
			fmt.Errorf("%w: data OUT endpoint 0x%02X", pkg.ErrInvalidParameter, c.DataOut))
	}
	if !device.EndpointIsIn(c.Command) || device.EndpointNumber(c.Command) == 0 || c.Command == c.DataIn {
		result = multierror.Append(result,
			fmt.Errorf("%w: command endpoint 0x%02X", pkg.ErrInvalidParameter, c.Command))
	}
	// Below two packets an empty ring with head mid-buffer has room
	// neither after head nor after a fold, and reception never resumes.
	if c.RxPacketSize < 0 || len(c.RxBuffer) < 2*c.RxPacketSize {
		result = multierror.Append(result,
			fmt.Errorf("%w: rx buffer of %d bytes is smaller than two %d byte packets",
				pkg.ErrInvalidParameter, len(c.RxBuffer), c.RxPacketSize))
	}
	if c.TxPacketSize < 0 || len(c.TxBuffer) < 2 {
		result = multierror.Append(result,
			fmt.Errorf("%w: tx buffer of %d bytes", pkg.ErrInvalidParameter, len(c.TxBuffer)))
	}
	for _, size := range []int{c.RxPacketSize, c.TxPacketSize, c.CommandPacketSize} {
		if size <= 0 || size > 1024 {
			result = multierror.Append(result,
				fmt.Errorf("%w: packet size %d", pkg.ErrInvalidParameter, size))
		}
	}
	return result.ErrorOrNil()
}

// Stats counts data path events since the instance was created.
type Stats struct {
	Frames          uint64 // SOF ticks while configured
	RxPackets       uint64 // OUT packets received
	RxBytes         uint64
	TxPackets       uint64 // IN packets submitted, including ZLPs
	TxBytes         uint64
	ZLPs            uint64 // Zero-length packets submitted
	NAKs            uint64 // Transitions of the OUT endpoint to NAK
	Folds           uint64 // Receive ring folds
	StallRecoveries uint64 // Forced closes after a stalled transmission
	Discarded       uint64 // Transmit bytes dropped without being sent
}

// ACM is one CDC-ACM virtual serial port. It implements
// [device.ClassDriver]; its callbacks are invoked by a [device.Composite]
// and the Read/Write side is used by firmware.
type ACM struct {
	mu sync.Mutex

	hal     hal.DeviceHAL
	handler RequestHandler

	epDataIn  uint8
	epDataOut uint8
	epCommand uint8

	rxPacketSize  int
	txPacketSize  int
	cmdPacketSize int

	rxBuf    []byte
	rxHead   int
	rxTail   int
	rxLength int
	rxState  rxState

	txBuf     []byte
	txHead    int
	txTail    int
	txState   txState
	txFailed  int
	txLast    int  // length of the last submitted packet
	txHeldAt  int  // start of the packet owned by the hardware
	txHeld    int  // length of the packet owned by the hardware
	txPending bool // a data IN packet, zero-length included, awaits completion

	open       bool
	configured bool
	frameCount uint32
	altSet     [1]byte
	lineCoding LineCoding

	cmd    uint8
	cmdLen int
	cmdBuf [CommandBufferSize]byte

	descriptor [DescriptorSize]byte

	stats Stats
}

// New creates a virtual serial port from cfg.
func New(cfg Config) (*ACM, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &ACM{
		hal:           cfg.HAL,
		handler:       cfg.Handler,
		epDataIn:      cfg.DataIn,
		epDataOut:     cfg.DataOut,
		epCommand:     cfg.Command,
		rxPacketSize:  cfg.RxPacketSize,
		txPacketSize:  cfg.TxPacketSize,
		cmdPacketSize: cfg.CommandPacketSize,
		rxBuf:         cfg.RxBuffer,
		rxLength:      len(cfg.RxBuffer),
		txBuf:         cfg.TxBuffer,
		lineCoding:    DefaultLineCoding,
		cmd:           NoCommand,
	}
	return a, nil
}

// Attach allocates any endpoint addresses left zero in cfg from c, creates
// the port and registers it with c.
func Attach(c *device.Composite, cfg Config) (*ACM, error) {
	var err error
	if cfg.DataIn == 0 {
		if cfg.DataIn, err = c.AllocEndpoint(device.EndpointDirectionIn); err != nil {
			return nil, err
		}
	}
	if cfg.DataOut == 0 {
		if cfg.DataOut, err = c.AllocEndpoint(device.EndpointDirectionOut); err != nil {
			return nil, err
		}
	}
	if cfg.Command == 0 {
		if cfg.Command, err = c.AllocEndpoint(device.EndpointDirectionIn); err != nil {
			return nil, err
		}
	}
	if cfg.HAL == nil {
		cfg.HAL = c.HAL()
	}
	a, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := c.Register(a); err != nil {
		return nil, err
	}
	return a, nil
}

// DefaultLineCoding is reported until the host sets one (115200 8N1).
var DefaultLineCoding = LineCoding{
	DTERate:    115200,
	CharFormat: StopBits1,
	ParityType: ParityNone,
	DataBits:   8,
}

// Init opens the endpoints for configuration cfgidx and arms the first
// reception.
func (a *ACM) Init(cfgidx uint8) error {
	var b batch
	a.mu.Lock()
	a.deinit(&b)

	b.open(hal.EndpointConfig{
		Address:       a.epDataIn,
		Attributes:    device.EndpointTypeBulk,
		MaxPacketSize: uint16(a.txPacketSize),
	})
	b.open(hal.EndpointConfig{
		Address:       a.epDataOut,
		Attributes:    device.EndpointTypeBulk,
		MaxPacketSize: uint16(a.rxPacketSize),
	})
	b.open(hal.EndpointConfig{
		Address:       a.epCommand,
		Attributes:    device.EndpointTypeInterrupt,
		MaxPacketSize: uint16(a.cmdPacketSize),
	})

	a.rxState = rxAccepting
	a.configured = true
	b.prepareRx(a.epDataOut, a.rxBuf[:a.rxPacketSize])
	a.mu.Unlock()

	pkg.LogDebug(pkg.ComponentCDC, "configured",
		"config", cfgidx,
		"dataIn", device.AddressString(a.epDataIn),
		"dataOut", device.AddressString(a.epDataOut),
		"command", device.AddressString(a.epCommand))

	return b.issue(a.hal)
}

// DeInit closes the endpoints and resets both rings. It is safe to call in
// any state.
func (a *ACM) DeInit(cfgidx uint8) error {
	var b batch
	a.mu.Lock()
	wasConfigured := a.configured
	a.deinit(&b)
	a.mu.Unlock()

	if wasConfigured {
		pkg.LogDebug(pkg.ComponentCDC, "deconfigured", "config", cfgidx)
	}
	return b.issue(a.hal)
}

func (a *ACM) deinit(b *batch) {
	a.setOpen(false, b)
	if a.configured {
		if a.txPending {
			b.flush(a.epDataIn)
		}
		b.close(a.epDataIn)
		b.close(a.epDataOut)
		b.close(a.epCommand)
	}

	a.configured = false
	a.txState = txIdle
	a.rxState = rxNAKed
	a.rxHead = 0
	a.rxTail = 0
	a.rxLength = len(a.rxBuf)
	a.txHead = 0
	a.txTail = 0
	a.txFailed = 0
	a.txLast = 0
	a.txHeld = 0
	a.txHeldAt = 0
	a.txPending = false
	a.frameCount = 0
	a.cmd = NoCommand
	a.cmdLen = 0
}

// setOpen records whether a host is attached. Opening discards transmit
// data queued while closed and resumes reception. A packet the hardware
// still owns stays held until it completes or is flushed.
func (a *ACM) setOpen(open bool, b *batch) {
	if open == a.open {
		return
	}
	a.open = open
	if !open {
		pkg.LogDebug(pkg.ComponentCDC, "link closed", "dataIn", device.AddressString(a.epDataIn))
		return
	}

	a.txFailed = 0
	if n := occupiedContig(len(a.txBuf), a.txHead, a.txTail); n > 0 {
		a.txTail = wrap(len(a.txBuf), a.txTail+n)
		a.stats.Discarded += uint64(n)
	}
	a.txState = txIdle

	wasNAKed := a.rxState == rxNAKed
	a.rxState = rxAccepting
	if wasNAKed && a.configured {
		// The OUT endpoint is still answering NAK; nothing else would
		// re-arm it now that reception is marked accepting.
		a.startRx(b)
	}
	pkg.LogDebug(pkg.ComponentCDC, "link open", "dataIn", device.AddressString(a.epDataIn))
}

// SOF runs the transmit schedule step and re-arms reception if the OUT
// endpoint is NAKed.
func (a *ACM) SOF() error {
	var b batch
	a.mu.Lock()
	if !a.configured {
		a.mu.Unlock()
		return nil
	}
	a.frameCount++
	a.stats.Frames++
	a.scheduleIn(&b)
	if a.rxState == rxNAKed {
		a.startRx(&b)
	}
	a.mu.Unlock()
	return b.issue(a.hal)
}

// IsOpen reports whether a host appears to be attached and reading.
func (a *ACM) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// IsConfigured reports whether the endpoints are open.
func (a *ACM) IsConfigured() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.configured
}

// LineCoding returns the line coding last set by the host.
func (a *ACM) LineCoding() LineCoding {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lineCoding
}

// Stats returns a snapshot of the data path counters.
func (a *ACM) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// EndpointAddresses returns the data IN, data OUT and command endpoint
// addresses.
func (a *ACM) EndpointAddresses() (dataIn, dataOut, command uint8) {
	return a.epDataIn, a.epDataOut, a.epCommand
}

var _ device.ClassDriver = (*ACM)(nil)
