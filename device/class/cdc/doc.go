// Package cdc implements the data path of a USB CDC-ACM virtual serial port.
//
// An [ACM] owns two caller-provided ring buffers. Bytes from the host arrive
// in OUT packets and are stored in the receive ring; firmware drains them with
// [ACM.Read]. Firmware queues bytes with [ACM.Write]; the transmit ring is
// drained into IN packets once per USB frame and on every IN completion.
//
// # Flow Control
//
// Reception is armed one packet at a time. When the receive ring has no
// contiguous room for a packet at its head, but the start of the buffer does,
// the ring folds: its effective length shrinks to the current head and writing
// continues at offset 0 until the reader catches up. With no room at all the
// OUT endpoint is NAKed, blocking the host until firmware reads, and is
// re-enabled on a later frame.
//
// Transfers whose final packet is exactly the packet size are terminated with
// a zero-length packet.
//
// # Open State
//
// The port treats any traffic from the host as proof that a terminal is
// attached. Bytes queued before that point are discarded rather than sent. If
// an IN packet stays unacknowledged for [StallFrames] frames while open, the
// port closes the link, flushes the endpoint, sends a zero-length packet and
// drops the queued data so an absent reader cannot wedge the transmitter.
//
// # Usage
//
//	comp := device.NewComposite(dcd, device.SpeedFull)
//	port, err := cdc.Attach(comp, cdc.Config{
//	    RxBuffer: make([]byte, 256),
//	    TxBuffer: make([]byte, 256),
//	})
//	if err != nil {
//	    return err
//	}
//
//	// From the controller interrupt:
//	comp.SOF()
//	comp.DataOut(epnum, n)
//
//	// From firmware:
//	n, _ := port.Read(buf)
//	port.Write(reply)
//
// Callbacks for one port must not run concurrently; [device.Composite]
// serializes them. The Read/Write side may be used from any goroutine.
package cdc
