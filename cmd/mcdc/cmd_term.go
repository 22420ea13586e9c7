package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tarm/serial"

	"github.com/ardnew/mcdc/pkg"
)

var (
	termDevice string
	termBaud   int
)

var termCmd = &cobra.Command{
	Use:   "term",
	Short: "Connect a terminal to a virtual serial port",
	Long: `Opens the host side of a virtual serial port and copies standard input to
the port and the port to standard output until interrupted or standard input
ends. Opening the port makes the host issue SET_LINE_CODING, which a device
running this engine treats as the link opening.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := &serial.Config{
			Name:        cfg.Serial.Device,
			Baud:        cfg.Serial.Baud,
			ReadTimeout: cfg.Serial.Timeout,
		}
		if termDevice != "" {
			sc.Name = termDevice
		}
		if termBaud > 0 {
			sc.Baud = termBaud
		}

		port, err := serial.OpenPort(sc)
		if err != nil {
			return fmt.Errorf("failed to open serial port %s: %w", sc.Name, err)
		}
		defer port.Close()
		pkg.LogInfo(pkg.ComponentCLI, "connected", "device", sc.Name, "baud", sc.Baud)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return relay(ctx, port, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// relay copies in to port and port to out until ctx ends or in reaches
// EOF, after which whatever the port still returns is drained. Reads from
// port must time out so cancellation is noticed, also while draining.
func relay(ctx context.Context, port io.ReadWriter, in io.Reader, out io.Writer) error {
	inputErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(port, in)
		inputErr <- err
	}()

	buf := make([]byte, 256)
	done := inputErr
	draining := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			if err != nil {
				return err
			}
			// A nil channel never becomes ready.
			done = nil
			draining = true
		default:
		}

		n, err := port.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if draining && n == 0 {
			return nil
		}
	}
}
