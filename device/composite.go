package device

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/ardnew/mcdc/device/hal"
	"github.com/ardnew/mcdc/pkg"
)

type classEntry struct {
	driver         ClassDriver
	firstInterface uint8
	numInterfaces  uint8
	endpoints      EndpointMask
}

// Composite multiplexes class drivers onto one device. It hands out
// interface numbers and endpoint addresses, builds the configuration
// descriptor and routes controller events to the owning driver.
//
// Every event method holds the composite lock for the duration of the
// dispatch, so drivers see their callbacks one at a time.
type Composite struct {
	hal   hal.DeviceHAL
	speed Speed

	// Configuration descriptor attributes.
	Attributes uint8
	MaxPower   uint8 // 2 mA units

	mu            sync.Mutex
	classes       [MaxClasses]classEntry
	numClasses    int
	nextInterface uint8
	nextIn        uint8
	nextOut       uint8
	claimed       EndpointMask
	configuration uint8
	ep0Owner      int // class that staged the pending control OUT stage, or -1
}

// NewComposite creates an empty composite device on h.
func NewComposite(h hal.DeviceHAL, speed Speed) *Composite {
	return &Composite{
		hal:        h,
		speed:      speed,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50,
		nextIn:     1,
		nextOut:    1,
		ep0Owner:   -1,
	}
}

// HAL returns the endpoint driver the composite was created with.
func (c *Composite) HAL() hal.DeviceHAL {
	return c.hal
}

// Speed returns the bus speed the composite describes itself for.
func (c *Composite) Speed() Speed {
	return c.speed
}

// AllocEndpoint returns the next unused endpoint address in direction dir.
func (c *Composite) AllocEndpoint(dir uint8) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := &c.nextOut
	if dir&EndpointDirectionIn != 0 {
		dir = EndpointDirectionIn
		next = &c.nextIn
	}
	for *next <= MaxEndpointNumber {
		addr := *next | dir
		*next++
		if !c.claimed.Has(addr) {
			c.claimed = c.claimed.Set(addr)
			return addr, nil
		}
	}
	return 0, fmt.Errorf("%w: no %s endpoint left", pkg.ErrNoResources, directionName(dir))
}

func directionName(dir uint8) string {
	if dir == EndpointDirectionIn {
		return "IN"
	}
	return "OUT"
}

// Register adds d to the composite and returns its first interface number.
func (c *Composite) Register(d ClassDriver) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.numClasses == len(c.classes) {
		return 0, fmt.Errorf("%w: class table full", pkg.ErrNoResources)
	}
	n := d.NumInterfaces()
	if int(c.nextInterface)+int(n) > MaxInterfaces {
		return 0, fmt.Errorf("%w: %d interfaces requested, %d left",
			pkg.ErrNoResources, n, MaxInterfaces-int(c.nextInterface))
	}
	eps := d.Endpoints()
	for i := 0; i < c.numClasses; i++ {
		if c.classes[i].endpoints.Overlaps(eps) {
			return 0, fmt.Errorf("%w: endpoints shared with class %d", pkg.ErrInvalidEndpoint, i)
		}
	}

	first := c.nextInterface
	var scratch [MaxConfigDescriptorSize]byte
	if d.ConfigDescriptor(c.speed, first, scratch[:]) == 0 {
		return 0, fmt.Errorf("%w: class descriptor exceeds %d bytes",
			pkg.ErrBufferTooSmall, MaxConfigDescriptorSize)
	}

	c.classes[c.numClasses] = classEntry{
		driver:         d,
		firstInterface: first,
		numInterfaces:  n,
		endpoints:      eps,
	}
	c.numClasses++
	c.nextInterface += n
	c.claimed |= eps

	pkg.LogDebug(pkg.ComponentComposite, "class registered",
		"index", c.numClasses-1,
		"firstInterface", first,
		"interfaces", n)
	return first, nil
}

// NumClasses returns the number of registered class drivers.
func (c *Composite) NumClasses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numClasses
}

// ConfigDescriptor writes the complete configuration descriptor, header
// followed by every class's block, into buf and returns its length.
func (c *Composite) ConfigDescriptor(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(buf) < ConfigurationDescriptorSize {
		return 0, pkg.ErrBufferTooSmall
	}
	n := ConfigurationDescriptorSize
	for i := 0; i < c.numClasses; i++ {
		e := &c.classes[i]
		m := e.driver.ConfigDescriptor(c.speed, e.firstInterface, buf[n:])
		if m == 0 {
			return 0, fmt.Errorf("%w: class %d descriptor", pkg.ErrBufferTooSmall, i)
		}
		n += m
	}

	hdr := ConfigurationDescriptor{
		TotalLength:        uint16(n),
		NumInterfaces:      c.nextInterface,
		ConfigurationValue: 1,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
	hdr.MarshalTo(buf)
	return n, nil
}

// Configuration returns the active configuration value, 0 when unconfigured.
func (c *Composite) Configuration() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configuration
}

// SetConfiguration de-initializes every class for the current
// configuration and, when cfg is non-zero, initializes them for cfg.
func (c *Composite) SetConfiguration(cfg uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result *multierror.Error
	if c.configuration != 0 {
		result = multierror.Append(result, c.deinitLocked())
	}
	if cfg != 0 {
		for i := 0; i < c.numClasses; i++ {
			if err := c.classes[i].driver.Init(cfg); err != nil {
				result = multierror.Append(result, fmt.Errorf("class %d init: %w", i, err))
			}
		}
	}
	c.configuration = cfg
	pkg.LogDebug(pkg.ComponentComposite, "configuration set", "config", cfg)
	return result.ErrorOrNil()
}

// Reset handles a bus reset or disconnect: every class is de-initialized.
func (c *Composite) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.deinitLocked()
	c.configuration = 0
	c.ep0Owner = -1
	return err
}

func (c *Composite) deinitLocked() error {
	var result *multierror.Error
	for i := 0; i < c.numClasses; i++ {
		if err := c.classes[i].driver.DeInit(c.configuration); err != nil {
			result = multierror.Append(result, fmt.Errorf("class %d deinit: %w", i, err))
		}
	}
	return result.ErrorOrNil()
}

// Setup routes a class or interface SETUP packet to the class owning the
// addressed interface or endpoint. Unroutable requests stall EP0.
func (c *Composite) Setup(setup *SetupPacket) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	switch setup.Recipient() {
	case RequestRecipientInterface:
		idx = c.classForInterface(setup.InterfaceNumber())
	case RequestRecipientEndpoint:
		idx = c.classForEndpoint(setup.EndpointAddress())
	}
	if idx < 0 {
		if err := c.hal.ControlError(); err != nil {
			return err
		}
		return fmt.Errorf("%w: no class for %s", pkg.ErrInvalidRequest, setup)
	}

	c.ep0Owner = -1
	if setup.IsHostToDevice() && setup.Length > 0 {
		c.ep0Owner = idx
	}
	return c.classes[idx].driver.Setup(setup)
}

// EP0RxReady delivers completion of a control OUT data stage to the class
// that received the SETUP packet.
func (c *Composite) EP0RxReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ep0Owner < 0 {
		return nil
	}
	idx := c.ep0Owner
	c.ep0Owner = -1
	return c.classes[idx].driver.EP0RxReady()
}

// DataIn dispatches an IN completion on endpoint number epnum.
func (c *Composite) DataIn(epnum uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.classForEndpoint(epnum | EndpointDirectionIn)
	if idx < 0 {
		return fmt.Errorf("%w: IN completion on endpoint %d", pkg.ErrInvalidEndpoint, epnum)
	}
	return c.classes[idx].driver.DataIn(epnum)
}

// DataOut dispatches an OUT completion of n bytes on endpoint number epnum.
func (c *Composite) DataOut(epnum uint8, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.classForEndpoint(EndpointNumber(epnum))
	if idx < 0 {
		return fmt.Errorf("%w: OUT completion on endpoint %d", pkg.ErrInvalidEndpoint, epnum)
	}
	return c.classes[idx].driver.DataOut(epnum, n)
}

// SOF delivers a Start-Of-Frame tick to every class while configured.
func (c *Composite) SOF() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.configuration == 0 {
		return nil
	}
	var result *multierror.Error
	for i := 0; i < c.numClasses; i++ {
		if err := c.classes[i].driver.SOF(); err != nil {
			result = multierror.Append(result, fmt.Errorf("class %d sof: %w", i, err))
		}
	}
	return result.ErrorOrNil()
}

func (c *Composite) classForInterface(iface uint8) int {
	for i := 0; i < c.numClasses; i++ {
		e := &c.classes[i]
		if iface >= e.firstInterface && iface < e.firstInterface+e.numInterfaces {
			return i
		}
	}
	return -1
}

func (c *Composite) classForEndpoint(addr uint8) int {
	for i := 0; i < c.numClasses; i++ {
		if c.classes[i].endpoints.Has(addr) {
			return i
		}
	}
	return -1
}
