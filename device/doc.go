// Package device is the composite-class framework a USB function plugs into.
//
// It provides the standard USB pieces a class driver needs (SETUP packet
// parsing, configuration/interface/endpoint/IAD descriptors, endpoint address
// helpers) and [Composite], which multiplexes several [ClassDriver]
// implementations onto one device.
//
// # Composite
//
// A [Composite] owns the interface-number and endpoint-address space. Class
// drivers are registered in order; each receives a contiguous block of
// interface numbers starting at the next free one. The composite builds the
// full configuration descriptor by asking every driver to serialize its block
// with its assigned numbers patched in.
//
// The controller interrupt drives the composite through [Composite.SOF],
// [Composite.DataIn], [Composite.DataOut], [Composite.Setup] and
// [Composite.EP0RxReady]. Each event is routed to the driver owning the
// endpoint or interface; the composite lock serializes all of them, so a
// driver never sees two callbacks at once.
//
// # Zero-Allocation Design
//
//   - Serialization via MarshalTo(buf) instead of allocating Bytes()
//   - Parse functions with output parameters instead of returning pointers
//   - Fixed-size class table and endpoint bitmasks instead of maps
//
// # Example
//
//	comp := device.NewComposite(dcd, device.SpeedFull)
//	port, _ := cdc.Attach(comp, cdc.Config{RxBuffer: rx, TxBuffer: tx})
//
//	var desc [device.MaxConfigDescriptorSize]byte
//	n, _ := comp.ConfigDescriptor(desc[:])
//
//	comp.SetConfiguration(1)
//
// An in-memory HAL for tests and simulation is available in
// [github.com/ardnew/mcdc/device/hal/sim].
package device
