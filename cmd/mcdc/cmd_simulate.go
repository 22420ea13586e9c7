package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/mcdc/device"
	"github.com/ardnew/mcdc/device/class/cdc"
	"github.com/ardnew/mcdc/device/hal/sim"
	"github.com/ardnew/mcdc/pkg"
	"github.com/ardnew/mcdc/pkg/config"
	"github.com/ardnew/mcdc/pkg/prof"
)

var (
	simulatePorts int
	simulateBytes int
	simulateStall int

	simulateProfile prof.Options
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Echo data through simulated virtual serial ports",
	Long: `Builds a composite device with one CDC-ACM function per port on an
in-memory device controller and drives it from a simulated host: a frame
ticker, a host writer and a host reader per port, and a firmware loop per port
that echoes everything it reads. Per-port statistics are printed at the end.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := *cfg
		if simulatePorts > 0 {
			c.Device.Ports = simulatePorts
		}
		if simulateBytes >= 0 {
			c.Simulate.Bytes = simulateBytes
		}
		if simulateStall >= 0 {
			c.Simulate.ReadStallFrames = simulateStall
		}
		if err := c.Validate(); err != nil {
			return err
		}

		session, err := prof.Start(simulateProfile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		start := time.Now()
		results, err := simulate(ctx, &c)
		printResults(cmd.OutOrStdout(), results, time.Since(start))
		if perr := session.Stop(); err == nil {
			err = perr
		}
		return err
	},
}

// bench is a simulated device and host.
type bench struct {
	cfg    *config.Config
	dcd    *sim.HAL
	comp   *device.Composite
	host   *sim.Host
	ports  []*simPort
	frames atomic.Uint64
}

type simPort struct {
	index      int
	acm        *cdc.ACM
	in, out    uint8
	payload    []byte
	sent       atomic.Int64
	writerDone atomic.Bool
	received   []byte
}

// portResult summarizes one port after a simulation.
type portResult struct {
	Index    int
	Sent     int
	Received int
	Intact   bool
	Line     cdc.LineCoding
	Stats    cdc.Stats
}

// idleFrames is how long the host reader waits for more data once the
// writer has finished.
const idleFrames = 200

func newBench(c *config.Config) (*bench, error) {
	b := &bench{cfg: c, dcd: sim.New()}
	b.dcd.SetRecording(false)
	b.comp = device.NewComposite(b.dcd, c.Speed())
	b.host = sim.NewHost(b.dcd, b.comp)

	for i := 0; i < c.Device.Ports; i++ {
		acm, err := cdc.Attach(b.comp, cdc.Config{
			RxBuffer:          make([]byte, c.Port.RxBufferSize),
			TxBuffer:          make([]byte, c.Port.TxBufferSize),
			RxPacketSize:      c.Port.RxPacketSize,
			TxPacketSize:      c.Port.TxPacketSize,
			CommandPacketSize: c.Port.CommandPacketSize,
			Handler:           lineLogger(i),
		})
		if err != nil {
			return nil, fmt.Errorf("port %d: %w", i, err)
		}
		p := &simPort{index: i, acm: acm, payload: make([]byte, c.Simulate.Bytes)}
		p.in, p.out, _ = acm.EndpointAddresses()
		for j := range p.payload {
			p.payload[j] = byte(j*31 + i*7)
		}
		b.ports = append(b.ports, p)
	}

	if err := b.comp.SetConfiguration(1); err != nil {
		return nil, err
	}
	for _, p := range b.ports {
		if err := b.setLineCoding(p); err != nil {
			return nil, fmt.Errorf("port %d: %w", p.index, err)
		}
	}
	return b, nil
}

func lineLogger(index int) cdc.RequestHandler {
	return cdc.RequestHandlerFunc(func(a *cdc.ACM, cmd uint8, buf []byte) {
		if cmd == cdc.RequestSetLineCoding {
			lc := a.LineCoding()
			pkg.LogInfo(pkg.ComponentCLI, "line coding", "port", index, "baud", lc.DTERate, "dataBits", lc.DataBits)
		}
	})
}

// setLineCoding performs the SET_LINE_CODING transfer a host terminal
// issues when it opens the port.
func (b *bench) setLineCoding(p *simPort) error {
	lc := cdc.LineCoding{DTERate: uint32(b.cfg.Serial.Baud), DataBits: 8}
	var data [cdc.LineCodingSize]byte
	lc.MarshalTo(data[:])

	var s device.SetupPacket
	first := uint8(2 * p.index)
	device.ClassRequestSetup(&s, device.RequestDirectionHostToDevice,
		cdc.RequestSetLineCoding, 0, first, cdc.LineCodingSize)
	if err := b.comp.Setup(&s); err != nil {
		return err
	}
	return b.host.ControlWrite(data[:])
}

// waitFrames blocks until n more frames have been delivered.
func (b *bench) waitFrames(ctx context.Context, n uint64) error {
	target := b.frames.Load() + n
	for b.frames.Load() < target {
		if err := sleep(ctx, b.cfg.Simulate.FramePeriod); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (b *bench) tick(ctx context.Context, done <-chan struct{}) error {
	t := time.NewTicker(b.cfg.Simulate.FramePeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case <-t.C:
			if err := b.host.Frame(); err != nil {
				return err
			}
			b.frames.Add(1)
		}
	}
}

// echo is the firmware loop: everything read from the port is written back.
func (b *bench) echo(ctx context.Context, done <-chan struct{}, p *simPort) error {
	buf := make([]byte, b.cfg.Port.RxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		default:
		}
		n, err := p.acm.Read(buf[:min(len(buf), p.acm.AvailableForWrite())])
		if err != nil {
			return err
		}
		if n == 0 {
			if err := sleep(ctx, b.cfg.Simulate.FramePeriod/2); err != nil {
				return err
			}
			continue
		}
		if _, err := p.acm.Write(buf[:n]); err != nil {
			return fmt.Errorf("port %d echo: %w", p.index, err)
		}
	}
}

func (b *bench) write(ctx context.Context, p *simPort) error {
	defer p.writerDone.Store(true)
	size := b.cfg.Simulate.PayloadSize
	for sent := 0; sent < len(p.payload); {
		end := min(sent+size, len(p.payload))
		n, err := b.host.Send(p.out, p.payload[sent:end])
		switch {
		case err == nil:
			sent += n
			p.sent.Store(int64(sent))
		case errors.Is(err, pkg.ErrNAK), errors.Is(err, pkg.ErrNotArmed):
			if err := b.waitFrames(ctx, 1); err != nil {
				return err
			}
		default:
			return fmt.Errorf("port %d send: %w", p.index, err)
		}
	}
	return nil
}

func (b *bench) read(ctx context.Context, p *simPort) error {
	stall := uint64(b.cfg.Simulate.ReadStallFrames)
	lastProgress := b.frames.Load()
	for {
		if stall > 0 && len(p.received) >= len(p.payload)/2 {
			pkg.LogInfo(pkg.ComponentCLI, "host reader stalled", "port", p.index, "frames", stall)
			if err := b.waitFrames(ctx, stall); err != nil {
				return err
			}
			stall = 0
			lastProgress = b.frames.Load()
		}

		data, ok, err := b.host.Receive(p.in)
		if err != nil {
			return fmt.Errorf("port %d receive: %w", p.index, err)
		}
		if ok {
			p.received = append(p.received, data...)
			lastProgress = b.frames.Load()
			continue
		}

		if p.writerDone.Load() {
			if len(p.received) >= len(p.payload) || b.frames.Load()-lastProgress > idleFrames {
				return nil
			}
		}
		if err := b.waitFrames(ctx, 1); err != nil {
			return err
		}
	}
}

// simulate runs the bench described by c until every port's stream has
// been echoed, or the host gives up waiting, or ctx ends.
func simulate(ctx context.Context, c *config.Config) ([]portResult, error) {
	b, err := newBench(c)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.Simulate.Timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error { return b.tick(gctx, done) })
	for _, p := range b.ports {
		g.Go(func() error { return b.echo(gctx, done, p) })
	}

	hosts, hctx := errgroup.WithContext(gctx)
	for _, p := range b.ports {
		hosts.Go(func() error { return b.write(hctx, p) })
		hosts.Go(func() error { return b.read(hctx, p) })
	}
	g.Go(func() error {
		defer close(done)
		return hosts.Wait()
	})

	err = g.Wait()
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("simulation timed out after %v", c.Simulate.Timeout)
	}
	return b.results(), err
}

func (b *bench) results() []portResult {
	out := make([]portResult, len(b.ports))
	for i, p := range b.ports {
		out[i] = portResult{
			Index:    p.index,
			Sent:     int(p.sent.Load()),
			Received: len(p.received),
			Intact:   bytes.Equal(p.payload, p.received),
			Line:     p.acm.LineCoding(),
			Stats:    p.acm.Stats(),
		}
	}
	return out
}

func printResults(w io.Writer, results []portResult, elapsed time.Duration) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "port\tbaud\tsent\techoed\tintact\tframes\tpackets in\tpackets out\tZLPs\tNAKs\tfolds\trecoveries\tdiscarded\t")
	for _, r := range results {
		s := r.Stats
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%v\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			r.Index, r.Line.DTERate, r.Sent, r.Received, r.Intact, s.Frames,
			s.RxPackets, s.TxPackets, s.ZLPs, s.NAKs, s.Folds, s.StallRecoveries, s.Discarded)
	}
	tw.Flush()
	fmt.Fprintf(w, "elapsed %v\n", elapsed.Round(time.Millisecond))
}
