package cdc

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/mcdc/device"
	"github.com/ardnew/mcdc/device/hal"
	"github.com/ardnew/mcdc/device/hal/sim"
	"github.com/ardnew/mcdc/pkg"
)

// Endpoint addresses handed out by a fresh composite.
const (
	epIn  = 0x81
	epOut = 0x01
	epCmd = 0x82
)

type fixture struct {
	dcd  *sim.HAL
	comp *device.Composite
	acm  *ACM
	host *sim.Host
}

type portOptions struct {
	rxSize, txSize int
	rxPkt, txPkt   int
	handler        RequestHandler
}

func newFixture(t *testing.T, opts portOptions) *fixture {
	t.Helper()
	if opts.rxSize == 0 {
		opts.rxSize = 256
	}
	if opts.txSize == 0 {
		opts.txSize = 256
	}

	dcd := sim.New()
	comp := device.NewComposite(dcd, device.SpeedFull)
	acm, err := Attach(comp, Config{
		RxBuffer:     make([]byte, opts.rxSize),
		TxBuffer:     make([]byte, opts.txSize),
		RxPacketSize: opts.rxPkt,
		TxPacketSize: opts.txPkt,
		Handler:      opts.handler,
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if in, out, cmd := acm.EndpointAddresses(); in != epIn || out != epOut || cmd != epCmd {
		t.Fatalf("endpoints = 0x%02X 0x%02X 0x%02X, want 0x%02X 0x%02X 0x%02X",
			in, out, cmd, epIn, epOut, epCmd)
	}
	if err := comp.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration(1) error = %v", err)
	}
	return &fixture{dcd: dcd, comp: comp, acm: acm, host: sim.NewHost(dcd, comp)}
}

// openLink sends one byte from the host and consumes it, leaving the link
// open with both rings empty and no recorded events.
func (f *fixture) openLink(t *testing.T) {
	t.Helper()
	if _, err := f.host.Send(epOut, []byte{0}); err != nil {
		t.Fatalf("opening Send() error = %v", err)
	}
	var b [1]byte
	if n, err := f.acm.Read(b[:]); n != 1 || err != nil {
		t.Fatalf("opening Read() = %d, %v", n, err)
	}
	if !f.acm.IsOpen() {
		t.Fatal("link not open after host traffic")
	}
	f.dcd.ClearEvents()
}

// newPort creates a configured port on a bare HAL with data OUT 0x02,
// data IN 0x81 and command 0x83.
func newPort(t *testing.T, rxSize, rxPkt, txSize, txPkt int) (*ACM, *sim.HAL) {
	t.Helper()
	dcd := sim.New()
	a, err := New(Config{
		DataIn:       0x81,
		DataOut:      0x02,
		Command:      0x83,
		RxBuffer:     make([]byte, rxSize),
		TxBuffer:     make([]byte, txSize),
		RxPacketSize: rxPkt,
		TxPacketSize: txPkt,
		HAL:          dcd,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Init(1); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	dcd.ClearEvents()
	return a, dcd
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 3)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	dcd := sim.New()
	valid := Config{
		DataIn:   0x81,
		DataOut:  0x02,
		Command:  0x83,
		RxBuffer: make([]byte, 128),
		TxBuffer: make([]byte, 128),
		HAL:      dcd,
	}

	tests := []struct {
		name      string
		modify    func(c *Config)
		wantCount int
	}{
		{"valid", func(c *Config) {}, 0},
		{"nil hal", func(c *Config) { c.HAL = nil }, 1},
		{"data in without direction", func(c *Config) { c.DataIn = 0x01 }, 1},
		{"data out with direction", func(c *Config) { c.DataOut = 0x82 }, 1},
		{"command shares data in", func(c *Config) { c.Command = 0x81 }, 1},
		{"rx buffer fits one packet", func(c *Config) { c.RxBuffer = make([]byte, 64) }, 1},
		{"rx buffer below two packets", func(c *Config) {
			c.RxBuffer = make([]byte, 25)
			c.RxPacketSize = 18
		}, 1},
		{"rx buffer of two packets", func(c *Config) {
			c.RxBuffer = make([]byte, 36)
			c.RxPacketSize = 18
		}, 0},
		{"tx buffer too small", func(c *Config) { c.TxBuffer = make([]byte, 1) }, 1},
		{"oversized packet", func(c *Config) { c.TxPacketSize = 2048 }, 1},
		{"everything wrong", func(c *Config) {
			c.HAL = nil
			c.DataIn = 0
			c.DataOut = 0
			c.RxBuffer = nil
		}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			a, err := New(cfg)
			if tt.wantCount == 0 {
				if err != nil || a == nil {
					t.Fatalf("New() = %v, %v", a, err)
				}
				return
			}
			if !errors.Is(err, pkg.ErrInvalidParameter) {
				t.Fatalf("New() error = %v, want ErrInvalidParameter", err)
			}
			var merr *multierror.Error
			if !errors.As(err, &merr) || len(merr.Errors) != tt.wantCount {
				t.Errorf("New() error count = %v, want %d", err, tt.wantCount)
			}
		})
	}
}

func TestInit(t *testing.T) {
	f := newFixture(t, portOptions{rxPkt: 16})

	want := []sim.Event{
		{Kind: sim.EventOpen, Address: epIn, Length: 64},
		{Kind: sim.EventOpen, Address: epOut, Length: 16},
		{Kind: sim.EventOpen, Address: epCmd, Length: 8},
		{Kind: sim.EventPrepareRx, Address: epOut, Length: 16},
	}
	if diff := cmp.Diff(want, f.dcd.Events()); diff != "" {
		t.Errorf("Init events mismatch (-want +got):\n%s", diff)
	}
	if !f.acm.IsConfigured() {
		t.Error("IsConfigured() = false after Init")
	}
	if f.acm.IsOpen() {
		t.Error("IsOpen() = true before any host traffic")
	}
	if got := f.dcd.Status(epOut); got != hal.StatusValid {
		t.Errorf("OUT status = %v, want Valid", got)
	}
	if got := f.acm.LineCoding(); got != DefaultLineCoding {
		t.Errorf("LineCoding() = %+v, want %+v", got, DefaultLineCoding)
	}
}

func TestDeInit(t *testing.T) {
	f := newFixture(t, portOptions{})
	f.openLink(t)

	f.acm.Write([]byte("pending"))
	f.host.Frame()
	f.host.Send(epOut, []byte("unread"))
	f.dcd.ClearEvents()

	if err := f.comp.SetConfiguration(0); err != nil {
		t.Fatalf("SetConfiguration(0) error = %v", err)
	}
	want := []sim.Event{
		{Kind: sim.EventFlush, Address: epIn},
		{Kind: sim.EventClose, Address: epIn},
		{Kind: sim.EventClose, Address: epOut},
		{Kind: sim.EventClose, Address: epCmd},
	}
	if diff := cmp.Diff(want, f.dcd.Events()); diff != "" {
		t.Errorf("DeInit events mismatch (-want +got):\n%s", diff)
	}

	a := f.acm
	if a.IsConfigured() || a.IsOpen() {
		t.Errorf("after DeInit configured=%v open=%v", a.IsConfigured(), a.IsOpen())
	}
	if a.rxHead != 0 || a.rxTail != 0 || a.rxLength != len(a.rxBuf) ||
		a.txHead != 0 || a.txTail != 0 || a.txState != txIdle || a.txPending || a.rxState != rxNAKed ||
		a.frameCount != 0 || a.cmd != NoCommand {
		t.Errorf("state not reset: %+v", a)
	}
	if _, err := a.Read(make([]byte, 4)); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Read() after DeInit error = %v, want ErrNotConfigured", err)
	}

	f.dcd.ClearEvents()
	if err := a.DeInit(1); err != nil {
		t.Fatalf("second DeInit() error = %v", err)
	}
	if got := f.dcd.Events(); len(got) != 0 {
		t.Errorf("second DeInit issued %v", got)
	}
	if err := f.host.Frame(); err != nil {
		t.Errorf("Frame() while unconfigured error = %v", err)
	}
}

func TestReinitResetsRings(t *testing.T) {
	f := newFixture(t, portOptions{})
	f.openLink(t)
	f.host.Send(epOut, []byte("stale"))
	f.acm.Write([]byte("stale"))

	if err := f.comp.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration(1) again error = %v", err)
	}
	if got := f.acm.Available(); got != 0 {
		t.Errorf("Available() after re-init = %d, want 0", got)
	}
	if got := f.acm.AvailableForWrite(); got != 255 {
		t.Errorf("AvailableForWrite() after re-init = %d, want 255", got)
	}
}

func TestEndpointValidation(t *testing.T) {
	f := newFixture(t, portOptions{})
	f.dcd.ClearEvents()

	if err := f.acm.DataIn(0x05); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("DataIn(5) error = %v, want ErrInvalidEndpoint", err)
	}
	if err := f.acm.DataOut(0x03, 1); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("DataOut(3) error = %v, want ErrInvalidEndpoint", err)
	}
	if err := f.acm.DataOut(epOut, 65); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("DataOut(oversized) error = %v, want ErrInvalidParameter", err)
	}
	if err := f.comp.DataIn(0x07); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("composite DataIn(7) error = %v, want ErrInvalidEndpoint", err)
	}
	if got := f.dcd.Events(); len(got) != 0 {
		t.Errorf("rejected completions issued %v", got)
	}
	if f.acm.IsOpen() {
		t.Error("rejected completion opened the link")
	}
}

func TestCommandEndpointCompletion(t *testing.T) {
	f := newFixture(t, portOptions{})
	f.dcd.ClearEvents()

	if err := f.acm.DataIn(epCmd & 0x0F); err != nil {
		t.Fatalf("DataIn(command) error = %v", err)
	}
	if !f.acm.IsOpen() {
		t.Error("command endpoint completion did not open the link")
	}
	if got := f.dcd.Events(); len(got) != 0 {
		t.Errorf("command completion issued %v", got)
	}
}

// Echo a long stream through both rings with packet sizes that never line
// up with the ring sizes.
func TestEchoStream(t *testing.T) {
	f := newFixture(t, portOptions{rxSize: 100, txSize: 90, rxPkt: 32, txPkt: 16})
	payload := pattern(5000)

	var sent, received []byte
	var scratch [8]byte
	for i := 0; len(received) < len(payload) && i < 100000; i++ {
		if len(sent) < len(payload) {
			size := min(i%32+1, len(payload)-len(sent))
			n, err := f.host.Send(epOut, payload[len(sent):len(sent)+size])
			switch {
			case err == nil:
				sent = append(sent, payload[len(sent):len(sent)+n]...)
			case errors.Is(err, pkg.ErrNAK):
			default:
				t.Fatalf("Send() error = %v", err)
			}
		}

		m := min(len(scratch), f.acm.AvailableForWrite())
		n, err := f.acm.Read(scratch[:m])
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if w, err := f.acm.Write(scratch[:n]); err != nil || w != n {
			t.Fatalf("Write(%d) = %d, %v", n, w, err)
		}

		if err := f.host.Frame(); err != nil {
			t.Fatalf("Frame() error = %v", err)
		}
		for {
			data, ok, err := f.host.Receive(epIn)
			if err != nil {
				t.Fatalf("Receive() error = %v", err)
			}
			if !ok {
				break
			}
			received = append(received, data...)
		}
	}

	if diff := cmp.Diff(payload, received); diff != "" {
		t.Fatalf("echoed stream mismatch (-want +got):\n%s", diff)
	}
	st := f.acm.Stats()
	if st.StallRecoveries != 0 || st.Discarded != 0 {
		t.Errorf("unexpected data loss: %+v", st)
	}
	if st.Folds == 0 || st.NAKs == 0 {
		t.Errorf("stream did not exercise fold and NAK paths: %+v", st)
	}
	if st.RxBytes != uint64(len(payload)) || st.TxBytes != uint64(len(payload)) {
		t.Errorf("byte counters = rx %d tx %d, want %d", st.RxBytes, st.TxBytes, len(payload))
	}
}

// Firmware and host run on separate goroutines; the composite serializes
// callbacks and the port lock guards the rings.
func TestConcurrentFirmware(t *testing.T) {
	f := newFixture(t, portOptions{rxSize: 200, txSize: 200})
	payload := pattern(20000)

	g, ctx := errgroup.WithContext(context.Background())
	done := make(chan []byte, 1)

	g.Go(func() error {
		var buf [48]byte
		for ctx.Err() == nil {
			m := min(len(buf), f.acm.AvailableForWrite())
			n, err := f.acm.Read(buf[:m])
			if err != nil {
				return err
			}
			if n == 0 {
				runtime.Gosched()
				continue
			}
			if _, err := f.acm.Write(buf[:n]); err != nil {
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		var sent, received []byte
		for len(received) < len(payload) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(sent) < len(payload) {
				size := min(64, len(payload)-len(sent))
				n, err := f.host.Send(epOut, payload[len(sent):len(sent)+size])
				if err == nil {
					sent = append(sent, payload[len(sent):len(sent)+n]...)
				} else if !errors.Is(err, pkg.ErrNAK) {
					return err
				}
			}
			if err := f.host.Frame(); err != nil {
				return err
			}
			for {
				data, ok, err := f.host.Receive(epIn)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				received = append(received, data...)
			}
			runtime.Gosched()
		}
		done <- received
		return errStop
	})

	if err := g.Wait(); !errors.Is(err, errStop) {
		t.Fatalf("Wait() error = %v", err)
	}
	received := <-done
	if diff := cmp.Diff(payload, received); diff != "" {
		t.Fatalf("echoed stream mismatch (-want +got):\n%s", diff)
	}
}

var errStop = errors.New("stream complete")
