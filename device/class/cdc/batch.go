package cdc

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/ardnew/mcdc/device/hal"
)

type opKind uint8

const (
	opOpen opKind = iota
	opClose
	opPrepareRx
	opTransmit
	opFlush
	opStatus
	opControlSend
	opControlPrepareRx
	opControlError
)

type op struct {
	kind   opKind
	addr   uint8
	buf    []byte
	status hal.EndpointStatus
	cfg    hal.EndpointConfig
}

// maxOps bounds the hardware operations one callback can queue. Init is
// the largest: a full teardown followed by three opens and an arm.
const maxOps = 12

// batch collects hardware operations while the instance lock is held so
// they can be issued after it is released.
type batch struct {
	ops [maxOps]op
	n   int
}

func (b *batch) push(o op) {
	if b.n == len(b.ops) {
		panic("cdc: hardware operation batch overflow")
	}
	b.ops[b.n] = o
	b.n++
}

func (b *batch) open(cfg hal.EndpointConfig) { b.push(op{kind: opOpen, cfg: cfg}) }
func (b *batch) close(addr uint8) { b.push(op{kind: opClose, addr: addr}) }
func (b *batch) flush(addr uint8) { b.push(op{kind: opFlush, addr: addr}) }
func (b *batch) controlError() { b.push(op{kind: opControlError}) }

func (b *batch) prepareRx(addr uint8, buf []byte) {
	b.push(op{kind: opPrepareRx, addr: addr, buf: buf})
}

func (b *batch) transmit(addr uint8, data []byte) {
	b.push(op{kind: opTransmit, addr: addr, buf: data})
}

func (b *batch) setStatus(addr uint8, status hal.EndpointStatus) {
	b.push(op{kind: opStatus, addr: addr, status: status})
}

func (b *batch) controlSend(data []byte) {
	b.push(op{kind: opControlSend, buf: data})
}

func (b *batch) controlPrepareRx(buf []byte) {
	b.push(op{kind: opControlPrepareRx, buf: buf})
}

// issue performs every queued operation in order. A failing operation does
// not stop the ones after it; all failures are returned together.
func (b *batch) issue(h hal.DeviceHAL) error {
	var result *multierror.Error
	for i := 0; i < b.n; i++ {
		o := &b.ops[i]
		var err error
		switch o.kind {
		case opOpen:
			err = h.OpenEndpoint(o.cfg)
			if err != nil {
				err = fmt.Errorf("open endpoint 0x%02X: %w", o.cfg.Address, err)
			}
		case opClose:
			err = h.CloseEndpoint(o.addr)
			if err != nil {
				err = fmt.Errorf("close endpoint 0x%02X: %w", o.addr, err)
			}
		case opPrepareRx:
			err = h.PrepareRx(o.addr, o.buf)
			if err != nil {
				err = fmt.Errorf("prepare rx 0x%02X: %w", o.addr, err)
			}
		case opTransmit:
			err = h.Transmit(o.addr, o.buf)
			if err != nil {
				err = fmt.Errorf("transmit 0x%02X: %w", o.addr, err)
			}
		case opFlush:
			err = h.Flush(o.addr)
			if err != nil {
				err = fmt.Errorf("flush 0x%02X: %w", o.addr, err)
			}
		case opStatus:
			err = h.SetEndpointStatus(o.addr, o.status)
			if err != nil {
				err = fmt.Errorf("set status %s on 0x%02X: %w", o.status, o.addr, err)
			}
		case opControlSend:
			err = h.ControlSend(o.buf)
		case opControlPrepareRx:
			err = h.ControlPrepareRx(o.buf)
		case opControlError:
			err = h.ControlError()
		}
		if err != nil {
			result = multierror.Append(result, err)
		}
		o.buf = nil
	}
	b.n = 0
	return result.ErrorOrNil()
}
