package sim

// Device receives the completion callbacks a controller interrupt would
// deliver. [github.com/ardnew/mcdc/device.Composite] satisfies it.
type Device interface {
	SOF() error
	DataIn(epnum uint8) error
	DataOut(epnum uint8, n int) error
	EP0RxReady() error
}

// Host plays the USB host against a HAL, reporting each completed
// transaction to the device the way controller hardware would.
type Host struct {
	HAL    *HAL
	Device Device
}

// NewHost connects a simulated host to dev through h.
func NewHost(h *HAL, dev Device) *Host {
	return &Host{HAL: h, Device: dev}
}

// Frame delivers one Start-Of-Frame tick.
func (s *Host) Frame() error {
	return s.Device.SOF()
}

// Frames delivers n Start-Of-Frame ticks and stops at the first error.
func (s *Host) Frames(n int) error {
	for i := 0; i < n; i++ {
		if err := s.Device.SOF(); err != nil {
			return err
		}
	}
	return nil
}

// Send transmits one OUT packet to addr. A NAKed or unarmed endpoint
// returns the HAL's error and the device sees nothing.
func (s *Host) Send(addr uint8, data []byte) (int, error) {
	n, err := s.HAL.HostSend(addr, data)
	if err != nil {
		return 0, err
	}
	return n, s.Device.DataOut(addr&0x0F, n)
}

// Receive collects the packet queued on IN endpoint addr and acknowledges
// it to the device. ok is false when nothing was queued.
func (s *Host) Receive(addr uint8) (data []byte, ok bool, err error) {
	data, ok, err = s.HAL.HostReceive(addr)
	if err != nil || !ok {
		return nil, ok, err
	}
	return data, true, s.Device.DataIn(addr & 0x0F)
}

// ControlWrite completes the OUT data stage of the current control
// transfer.
func (s *Host) ControlWrite(data []byte) error {
	if _, err := s.HAL.ControlOut(data); err != nil {
		return err
	}
	return s.Device.EP0RxReady()
}
