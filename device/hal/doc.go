// Package hal defines the endpoint driver interface consumed by class drivers.
//
// The interface mirrors what a device controller driver ("DCD") on a
// microcontroller offers to a USB class implementation: open and close an
// endpoint, arm a reception, submit a transmission, flush, and change an
// endpoint's handshake. Every operation is non-blocking; completions come back
// as callbacks on the class driver, dispatched by
// [github.com/ardnew/mcdc/device.Composite].
//
// # Implementing a HAL
//
//  1. Create a type that implements all [DeviceHAL] methods
//  2. Translate OpenEndpoint/CloseEndpoint into endpoint register setup
//  3. Point reception and transmission at the buffers supplied by the caller
//  4. From the controller interrupt, call the composite's DataIn, DataOut,
//     EP0RxReady and SOF methods
//
// # Buffers
//
// Buffers passed to PrepareRx and Transmit belong to the class driver's rings.
// A HAL must not copy them into its own storage on the hot path; it holds the
// slice until the completion callback for that endpoint.
//
// An in-memory HAL that records every operation and lets a test act as the
// host is available in [github.com/ardnew/mcdc/device/hal/sim].
package hal
