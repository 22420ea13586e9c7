package cdc

import (
	"fmt"

	"github.com/ardnew/mcdc/device"
	"github.com/ardnew/mcdc/pkg"
)

// Setup handles a SETUP packet routed to the function.
//
// Class requests run the built-in handling and are forwarded to the
// RequestHandler; host-to-device requests with data are staged until
// EP0RxReady. The standard GET_DESCRIPTOR (CDC type), GET_INTERFACE and
// SET_INTERFACE requests are answered here. Anything else stalls EP0.
func (a *ACM) Setup(setup *device.SetupPacket) error {
	var b batch

	switch setup.Type() {
	case device.RequestTypeClass:
		if setup.Length == 0 {
			a.mu.Lock()
			a.classRequest(setup.Request, 0)
			a.mu.Unlock()
			a.forward(setup.Request, nil)
			return nil
		}
		n := int(setup.Length)
		if n > CommandBufferSize {
			b.controlError()
			if err := b.issue(a.hal); err != nil {
				return err
			}
			return fmt.Errorf("%w: class request 0x%02X with %d byte data stage",
				pkg.ErrInvalidRequest, setup.Request, n)
		}
		if setup.IsDeviceToHost() {
			a.mu.Lock()
			a.classRequest(setup.Request, n)
			a.mu.Unlock()
			a.forward(setup.Request, a.cmdBuf[:n])
			b.controlSend(a.cmdBuf[:n])
		} else {
			a.mu.Lock()
			a.cmd = setup.Request
			a.cmdLen = n
			a.mu.Unlock()
			b.controlPrepareRx(a.cmdBuf[:n])
		}
		return b.issue(a.hal)

	case device.RequestTypeStandard:
		switch setup.Request {
		case device.RequestGetDescriptor:
			var desc []byte
			if setup.DescriptorType() == device.DescriptorTypeCSInterface {
				desc = a.descriptor[:min(DescriptorSize, int(setup.Length))]
			}
			b.controlSend(desc)
		case device.RequestGetInterface:
			b.controlSend(a.altSet[:])
		case device.RequestSetInterface:
			if alt := uint8(setup.Value); alt < device.MaxInterfaces {
				a.mu.Lock()
				a.altSet[0] = alt
				a.mu.Unlock()
			} else {
				b.controlError()
			}
		default:
			b.controlError()
		}
		return b.issue(a.hal)

	default:
		b.controlError()
		if err := b.issue(a.hal); err != nil {
			return err
		}
		return fmt.Errorf("%w: request type 0x%02X", pkg.ErrInvalidRequest, setup.RequestType)
	}
}

// EP0RxReady completes a staged host-to-device class request once its
// data stage has arrived in the command buffer.
func (a *ACM) EP0RxReady() error {
	var b batch
	a.mu.Lock()
	if a.cmd == NoCommand {
		a.mu.Unlock()
		return nil
	}
	a.setOpen(true, &b)
	cmd, n := a.cmd, a.cmdLen
	a.classRequest(cmd, n)
	a.cmd = NoCommand
	a.mu.Unlock()

	a.forward(cmd, a.cmdBuf[:n])
	return b.issue(a.hal)
}

// classRequest applies the built-in handling of a CDC request whose data
// stage occupies the first n bytes of the command buffer.
func (a *ACM) classRequest(cmd uint8, n int) {
	switch cmd {
	case RequestSetLineCoding:
		var lc LineCoding
		if err := ParseLineCoding(a.cmdBuf[:n], &lc); err != nil {
			pkg.LogDebug(pkg.ComponentCDC, "short SET_LINE_CODING ignored", "length", n)
			return
		}
		a.lineCoding = lc
		pkg.LogDebug(pkg.ComponentCDC, "line coding set",
			"baud", lc.DTERate,
			"dataBits", lc.DataBits,
			"parity", lc.ParityType,
			"stopBits", lc.CharFormat)
	case RequestGetLineCoding:
		a.lineCoding.MarshalTo(a.cmdBuf[:])
	case RequestSendEncapsulatedCommand,
		RequestGetEncapsulatedResponse,
		RequestSetCommFeature,
		RequestGetCommFeature,
		RequestClearCommFeature,
		RequestSetControlLineState,
		RequestSendBreak:
		// Accepted without effect.
	}
}

func (a *ACM) forward(cmd uint8, buf []byte) {
	if a.handler != nil {
		a.handler.HandleRequest(a, cmd, buf)
	}
}
