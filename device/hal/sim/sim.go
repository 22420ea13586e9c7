package sim

import (
	"fmt"
	"sync"

	"github.com/ardnew/mcdc/device/hal"
	"github.com/ardnew/mcdc/pkg"
)

// EventKind identifies a recorded hardware operation.
type EventKind uint8

// Recorded operations, one per DeviceHAL method.
const (
	EventOpen EventKind = iota
	EventClose
	EventPrepareRx
	EventTransmit
	EventFlush
	EventStatus
	EventControlSend
	EventControlPrepareRx
	EventControlError
)

// String returns the operation name.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "Open"
	case EventClose:
		return "Close"
	case EventPrepareRx:
		return "PrepareRx"
	case EventTransmit:
		return "Transmit"
	case EventFlush:
		return "Flush"
	case EventStatus:
		return "Status"
	case EventControlSend:
		return "ControlSend"
	case EventControlPrepareRx:
		return "ControlPrepareRx"
	case EventControlError:
		return "ControlError"
	default:
		return fmt.Sprintf("Event(%d)", k)
	}
}

// Event is one operation issued by a class driver.
type Event struct {
	Kind    EventKind
	Address uint8
	Length  int                // bytes armed, sent or transmitted
	Data    []byte             // copy of transmitted bytes; nil for a ZLP
	Status  hal.EndpointStatus // for EventStatus
}

type endpoint struct {
	open    bool
	cfg     hal.EndpointConfig
	status  hal.EndpointStatus
	rx      []byte // buffer armed by PrepareRx
	pending []byte // packet submitted by Transmit
	queued  bool
}

// HAL is an in-memory endpoint driver. It records every operation and lets
// the caller act as the host: packets are injected into armed OUT endpoints
// and collected from IN endpoints. HAL never invokes class callbacks itself;
// see [Host] for that.
type HAL struct {
	mu sync.Mutex

	in  [16]endpoint
	out [16]endpoint

	record bool
	events []Event

	ctrlIn      []byte
	ctrlInReady bool
	ctrlRx      []byte
	ctrlStalled bool
}

// New returns a HAL with every endpoint closed and recording enabled.
func New() *HAL {
	return &HAL{record: true}
}

// SetRecording enables or disables the event log.
func (h *HAL) SetRecording(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record = on
}

// Events returns a copy of the recorded operations.
func (h *HAL) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

// ClearEvents discards the recorded operations.
func (h *HAL) ClearEvents() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = h.events[:0]
}

func (h *HAL) emit(e Event) {
	if h.record {
		h.events = append(h.events, e)
	}
}

func (h *HAL) endpoint(addr uint8) (*endpoint, error) {
	n := addr & 0x0F
	if n == 0 || addr&0x70 != 0 {
		return nil, fmt.Errorf("%w: 0x%02X", pkg.ErrInvalidEndpoint, addr)
	}
	if addr&0x80 != 0 {
		return &h.in[n], nil
	}
	return &h.out[n], nil
}

func (h *HAL) openEndpoint(addr uint8, in bool) (*endpoint, error) {
	if (addr&0x80 != 0) != in {
		return nil, fmt.Errorf("%w: 0x%02X has the wrong direction", pkg.ErrInvalidEndpoint, addr)
	}
	ep, err := h.endpoint(addr)
	if err != nil {
		return nil, err
	}
	if !ep.open {
		return nil, fmt.Errorf("%w: 0x%02X", pkg.ErrEndpointClosed, addr)
	}
	return ep, nil
}

func clone(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// OpenEndpoint implements hal.DeviceHAL.
func (h *HAL) OpenEndpoint(cfg hal.EndpointConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.endpoint(cfg.Address)
	if err != nil {
		return err
	}
	*ep = endpoint{open: true, cfg: cfg, status: hal.StatusValid}
	if !cfg.IsIn() {
		ep.status = hal.StatusNAK
	}
	h.emit(Event{Kind: EventOpen, Address: cfg.Address, Length: int(cfg.MaxPacketSize)})
	pkg.LogDebug(pkg.ComponentHAL, "endpoint open",
		"address", fmt.Sprintf("0x%02X", cfg.Address),
		"maxPacketSize", cfg.MaxPacketSize)
	return nil
}

// CloseEndpoint implements hal.DeviceHAL.
func (h *HAL) CloseEndpoint(addr uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.endpoint(addr)
	if err != nil {
		return err
	}
	*ep = endpoint{status: hal.StatusDisabled}
	h.emit(Event{Kind: EventClose, Address: addr})
	return nil
}

// PrepareRx implements hal.DeviceHAL. Arming an endpoint also makes it
// accept the next packet.
func (h *HAL) PrepareRx(addr uint8, buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.openEndpoint(addr, false)
	if err != nil {
		return err
	}
	ep.rx = buf
	ep.status = hal.StatusValid
	h.emit(Event{Kind: EventPrepareRx, Address: addr, Length: len(buf)})
	return nil
}

// Transmit implements hal.DeviceHAL. A packet still queued on the endpoint
// must be collected or flushed first.
func (h *HAL) Transmit(addr uint8, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.openEndpoint(addr, true)
	if err != nil {
		return err
	}
	if ep.cfg.MaxPacketSize > 0 && len(data) > int(ep.cfg.MaxPacketSize) {
		return fmt.Errorf("%w: %d byte packet on 0x%02X", pkg.ErrInvalidParameter, len(data), addr)
	}
	if ep.queued {
		return fmt.Errorf("%w: 0x%02X still holds a %d byte packet", pkg.ErrEndpointBusy, addr, len(ep.pending))
	}
	ep.pending = clone(data)
	ep.queued = true
	h.emit(Event{Kind: EventTransmit, Address: addr, Length: len(data), Data: clone(data)})
	return nil
}

// Flush implements hal.DeviceHAL.
func (h *HAL) Flush(addr uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.openEndpoint(addr, true)
	if err != nil {
		return err
	}
	ep.pending = nil
	ep.queued = false
	h.emit(Event{Kind: EventFlush, Address: addr})
	return nil
}

// SetEndpointStatus implements hal.DeviceHAL.
func (h *HAL) SetEndpointStatus(addr uint8, status hal.EndpointStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.endpoint(addr)
	if err != nil {
		return err
	}
	if !ep.open {
		return fmt.Errorf("%w: 0x%02X", pkg.ErrEndpointClosed, addr)
	}
	ep.status = status
	h.emit(Event{Kind: EventStatus, Address: addr, Status: status})
	pkg.LogDebug(pkg.ComponentHAL, "endpoint status",
		"address", fmt.Sprintf("0x%02X", addr),
		"status", status)
	return nil
}

// ControlSend implements hal.DeviceHAL.
func (h *HAL) ControlSend(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ctrlIn = clone(data)
	h.ctrlInReady = true
	h.emit(Event{Kind: EventControlSend, Length: len(data), Data: clone(data)})
	return nil
}

// ControlPrepareRx implements hal.DeviceHAL.
func (h *HAL) ControlPrepareRx(buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ctrlRx = buf
	h.emit(Event{Kind: EventControlPrepareRx, Length: len(buf)})
	return nil
}

// ControlError implements hal.DeviceHAL.
func (h *HAL) ControlError() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ctrlStalled = true
	h.emit(Event{Kind: EventControlError})
	return nil
}

// Host-side operations.

// HostSend delivers one OUT packet into the buffer armed on addr and
// returns the number of bytes accepted. The endpoint is disarmed; the
// caller reports completion to the class driver.
func (h *HAL) HostSend(addr uint8, data []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.openEndpoint(addr, false)
	if err != nil {
		return 0, err
	}
	switch {
	case ep.status == hal.StatusStall:
		return 0, pkg.ErrStall
	case ep.status == hal.StatusNAK:
		return 0, pkg.ErrNAK
	case ep.rx == nil:
		return 0, pkg.ErrNotArmed
	case len(data) > len(ep.rx):
		return 0, fmt.Errorf("%w: %d byte packet into %d byte buffer",
			pkg.ErrBufferTooSmall, len(data), len(ep.rx))
	}
	n := copy(ep.rx, data)
	ep.rx = nil
	return n, nil
}

// HostReceive collects the packet queued on IN endpoint addr. ok is false
// when nothing is queued; a queued zero-length packet returns nil, true.
func (h *HAL) HostReceive(addr uint8) (data []byte, ok bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.openEndpoint(addr, true)
	if err != nil {
		return nil, false, err
	}
	if !ep.queued {
		return nil, false, nil
	}
	data = ep.pending
	ep.pending = nil
	ep.queued = false
	return data, true, nil
}

// ControlIn returns the data stage last sent with ControlSend.
func (h *HAL) ControlIn() ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, ok := h.ctrlIn, h.ctrlInReady
	h.ctrlIn = nil
	h.ctrlInReady = false
	return data, ok
}

// ControlOut fills the buffer armed with ControlPrepareRx.
func (h *HAL) ControlOut(data []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctrlRx == nil {
		return 0, pkg.ErrNotArmed
	}
	n := copy(h.ctrlRx, data)
	h.ctrlRx = nil
	return n, nil
}

// ControlStalled reports and clears a pending EP0 stall.
func (h *HAL) ControlStalled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	stalled := h.ctrlStalled
	h.ctrlStalled = false
	return stalled
}

// IsOpen reports whether addr has been opened.
func (h *HAL) IsOpen(addr uint8) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.endpoint(addr)
	return err == nil && ep.open
}

// Status returns the handshake of addr.
func (h *HAL) Status(addr uint8) hal.EndpointStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.endpoint(addr)
	if err != nil {
		return hal.StatusDisabled
	}
	return ep.status
}

// Armed returns the length of the buffer armed on OUT endpoint addr, or 0.
func (h *HAL) Armed(addr uint8) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.endpoint(addr)
	if err != nil {
		return 0
	}
	return len(ep.rx)
}

// Queued reports whether a packet is waiting on IN endpoint addr.
func (h *HAL) Queued(addr uint8) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, err := h.endpoint(addr)
	return err == nil && ep.queued
}

var _ hal.DeviceHAL = (*HAL)(nil)
