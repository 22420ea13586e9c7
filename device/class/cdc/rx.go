package cdc

import (
	"fmt"

	"github.com/ardnew/mcdc/device/hal"
	"github.com/ardnew/mcdc/pkg"
)

// DataOut accounts for n bytes received on the OUT endpoint into the
// region armed by the last admission step, then arms the next reception.
func (a *ACM) DataOut(epnum uint8, n int) error {
	if epnum != a.epDataOut {
		return fmt.Errorf("%w: OUT completion on 0x%02X", pkg.ErrInvalidEndpoint, epnum)
	}
	if n < 0 || n > a.rxPacketSize {
		return fmt.Errorf("%w: OUT completion of %d bytes", pkg.ErrInvalidParameter, n)
	}

	var b batch
	a.mu.Lock()
	if !a.configured {
		a.mu.Unlock()
		return pkg.ErrNotConfigured
	}
	a.rxHead = wrap(a.rxLength, a.rxHead+n)
	a.stats.RxPackets++
	a.stats.RxBytes += uint64(n)
	a.setOpen(true, &b)
	a.startRx(&b)
	a.mu.Unlock()

	return b.issue(a.hal)
}

// startRx is the admission step. It arms the OUT endpoint for one packet
// at head, folding the ring back to offset 0 when only the start of the
// buffer has room. With no room anywhere the endpoint is NAKed until the
// firmware drains the ring. Returns whether reception was armed.
func (a *ACM) startRx(b *batch) bool {
	if a.rxHead >= a.rxTail {
		a.rxLength = len(a.rxBuf)
	}

	if freeContig(a.rxLength, a.rxHead, a.rxTail) < a.rxPacketSize {
		if freeAfterFold(a.rxLength, a.rxHead, a.rxTail) < a.rxPacketSize {
			if a.rxState == rxAccepting {
				a.rxState = rxNAKed
				a.stats.NAKs++
				b.setStatus(a.epDataOut, hal.StatusNAK)
				pkg.LogDebug(pkg.ComponentCDC, "rx NAK",
					"head", a.rxHead, "tail", a.rxTail, "length", a.rxLength)
			}
			return false
		}
		a.rxLength = a.rxHead
		a.rxHead = 0
		if a.rxTail == a.rxLength {
			a.rxTail = 0
		}
		a.stats.Folds++
		pkg.LogDebug(pkg.ComponentCDC, "rx fold", "length", a.rxLength, "tail", a.rxTail)
	}

	if a.rxState == rxNAKed {
		a.rxState = rxAccepting
		b.setStatus(a.epDataOut, hal.StatusValid)
	}
	b.prepareRx(a.epDataOut, a.rxBuf[a.rxHead:a.rxHead+a.rxPacketSize])
	return true
}

// Available returns the number of received bytes waiting to be read.
func (a *ACM) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return occupiedTotal(a.rxLength, a.rxHead, a.rxTail)
}

// Read copies received bytes into p. It never blocks and returns 0, nil
// when nothing is waiting.
func (a *ACM) Read(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.configured {
		return 0, pkg.ErrNotConfigured
	}
	n := 0
	for n < len(p) {
		c := occupiedContig(a.rxLength, a.rxHead, a.rxTail)
		if c == 0 {
			break
		}
		c = copy(p[n:], a.rxBuf[a.rxTail:a.rxTail+c])
		a.rxTail = wrap(a.rxLength, a.rxTail+c)
		n += c
	}
	return n, nil
}

// Peek returns the next received byte without consuming it.
func (a *ACM) Peek() (byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.configured || a.rxHead == a.rxTail {
		return 0, false
	}
	return a.rxBuf[a.rxTail], true
}

// ReadByte consumes the next received byte.
func (a *ACM) ReadByte() (byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.configured {
		return 0, pkg.ErrNotConfigured
	}
	if a.rxHead == a.rxTail {
		return 0, pkg.ErrBufferEmpty
	}
	c := a.rxBuf[a.rxTail]
	a.rxTail = wrap(a.rxLength, a.rxTail+1)
	return c, nil
}
