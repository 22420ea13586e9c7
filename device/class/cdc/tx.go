package cdc

import (
	"fmt"

	"github.com/ardnew/mcdc/device"
	"github.com/ardnew/mcdc/pkg"
)

// scheduleIn is the once-per-frame transmit step. An idle transmitter
// submits the next packet once the hardware has released the previous one.
// A packet that stays unacknowledged for StallFrames frames while the link
// is open closes the link and discards the queued data. The transfer is
// then terminated with a zero-length packet.
func (a *ACM) scheduleIn(b *batch) {
	n := occupiedContig(len(a.txBuf), a.txHead, a.txTail)

	if a.txPending {
		if !a.open {
			return
		}
		a.txFailed++
		if a.txFailed < StallFrames {
			return
		}
		a.setOpen(false, b)
		b.flush(a.epDataIn)
		a.txHeld = 0
		a.txPending = false
		a.submit(b, 0)
		if n > 0 {
			a.txTail = wrap(len(a.txBuf), a.txTail+n)
			a.stats.Discarded += uint64(n)
		}
		a.txState = txIdle
		a.stats.StallRecoveries++
		pkg.LogWarn(pkg.ComponentCDC, "tx stalled, link closed",
			"dataIn", device.AddressString(a.epDataIn),
			"frames", a.txFailed,
			"discarded", n)
		return
	}

	if n == 0 {
		return
	}
	a.txState = txInFlight
	a.txFailed = 0
	a.submit(b, min(n, a.txPacketSize))
}

// submit queues n bytes from tail for transmission, or a zero-length packet
// when n is 0, and hands that region to the hardware.
func (a *ACM) submit(b *batch, n int) {
	if n == 0 {
		b.transmit(a.epDataIn, nil)
		a.stats.ZLPs++
	} else {
		b.transmit(a.epDataIn, a.txBuf[a.txTail:a.txTail+n])
		a.txHeldAt = a.txTail
		a.txHeld = n
		a.txTail = wrap(len(a.txBuf), a.txTail+n)
	}
	a.txPending = true
	a.txLast = n
	a.stats.TxPackets++
	a.stats.TxBytes += uint64(n)
}

// DataIn handles completion of an IN transfer on the data or command
// endpoint. A data completion chains the next packet, or a zero-length
// packet after a final full-size packet, or returns the transmitter to idle.
func (a *ACM) DataIn(epnum uint8) error {
	addr := epnum | device.EndpointDirectionIn
	if addr != a.epDataIn && addr != a.epCommand {
		return fmt.Errorf("%w: IN completion on 0x%02X", pkg.ErrInvalidEndpoint, addr)
	}

	var b batch
	a.mu.Lock()
	if !a.configured {
		a.mu.Unlock()
		return pkg.ErrNotConfigured
	}
	a.setOpen(true, &b)
	if addr == a.epCommand {
		a.mu.Unlock()
		return b.issue(a.hal)
	}

	a.txHeld = 0
	a.txPending = false
	if a.txState == txIdle {
		a.mu.Unlock()
		return b.issue(a.hal)
	}
	a.txFailed = 0

	n := occupiedContig(len(a.txBuf), a.txHead, a.txTail)
	switch {
	case n > 0:
		a.submit(&b, min(n, a.txPacketSize))
	case a.txLast == a.txPacketSize:
		a.submit(&b, 0)
	default:
		a.txState = txIdle
		a.txLast = 0
	}
	a.mu.Unlock()

	return b.issue(a.hal)
}

// writeTail is the oldest byte the writer must not overwrite: the start of
// the packet still owned by the hardware, or tail.
func (a *ACM) writeTail() int {
	if a.txHeld > 0 {
		return a.txHeldAt
	}
	return a.txTail
}

// AvailableForWrite returns the number of bytes Write can queue now.
func (a *ACM) AvailableForWrite() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return freeTotal(len(a.txBuf), a.txHead, a.writeTail())
}

// Write queues as much of p as fits in the transmit ring. It never blocks;
// a short write returns pkg.ErrBufferFull. Data is sent on subsequent
// frames.
func (a *ACM) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.configured {
		return 0, pkg.ErrNotConfigured
	}
	size := len(a.txBuf)
	tail := a.writeTail()
	n := 0
	for n < len(p) {
		c := freeContig(size, a.txHead, tail)
		if c == 0 {
			break
		}
		c = copy(a.txBuf[a.txHead:a.txHead+c], p[n:])
		a.txHead = wrap(size, a.txHead+c)
		n += c
	}
	if n < len(p) {
		return n, pkg.ErrBufferFull
	}
	return n, nil
}

// WriteByte queues a single byte.
func (a *ACM) WriteByte(c byte) error {
	buf := [1]byte{c}
	_, err := a.Write(buf[:])
	return err
}
