// Command mcdc exercises the CDC virtual serial port engine: it runs a
// simulated device against a simulated host, prints descriptors, and talks
// to real devices from the host side.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ardnew/mcdc/pkg"
	"github.com/ardnew/mcdc/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "mcdc",
	Short: "mcdc drives a USB CDC virtual serial port engine",
	Long: `Runs one or more CDC-ACM virtual serial ports on a simulated USB device
controller, prints their configuration descriptors, and inspects or talks to
real virtual serial ports from the host side.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	verboseLog bool
	jsonLog    bool
	configPath string

	cfg *config.Config
)

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "Enable verbose debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json", false, "Log in JSON instead of text")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (default: search "+config.RelPath+" in the XDG config directories)")

	simulateCmd.Flags().IntVarP(&simulatePorts, "ports", "p", 0, "Number of CDC ports (overrides config)")
	simulateCmd.Flags().IntVarP(&simulateBytes, "bytes", "n", -1, "Bytes echoed through each port (overrides config)")
	simulateCmd.Flags().IntVar(&simulateStall, "stall", -1, "Frames the host stops reading halfway through (overrides config)")
	simulateCmd.Flags().StringVar(&simulateProfile.CPU, "cpuprofile", "", "Write a CPU profile (requires -tags profile)")
	simulateCmd.Flags().StringVar(&simulateProfile.Mutex, "mutexprofile", "", "Write a mutex contention profile (requires -tags profile)")
	simulateCmd.Flags().StringVar(&simulateProfile.Block, "blockprofile", "", "Write a blocking profile (requires -tags profile)")
	simulateCmd.Flags().StringVar(&simulateProfile.HTTP, "pprof", "", "Serve /debug/pprof/ on this address while simulating (requires -tags profile)")
	descriptorCmd.Flags().BoolVar(&descriptorFunction, "function", false, "Print only one CDC function block")
	descriptorCmd.Flags().Uint8Var(&descriptorFirst, "first-interface", 0, "First interface number of the function block")
	descriptorCmd.Flags().StringVar(&descriptorEndpoints, "endpoints", "0x81,0x01,0x82", "Data IN, data OUT and command endpoint addresses of the function block")
	descriptorCmd.Flags().BoolVarP(&descriptorWalk, "walk", "w", false, "List each descriptor instead of a hex dump")
	termCmd.Flags().StringVarP(&termDevice, "device", "d", "", "Serial device (overrides config)")
	termCmd.Flags().IntVarP(&termBaud, "baud", "b", 0, "Baud rate (overrides config)")
	probeCmd.Flags().StringVar(&probeVID, "vid", "", "USB vendor ID (overrides config)")
	probeCmd.Flags().StringVar(&probePID, "pid", "", "USB product ID (overrides config)")
	probeCmd.Flags().IntVar(&probeSetBaud, "set-baud", 0, "Issue SET_LINE_CODING with this rate, 8N1, before reading it back")
	configCmd.Flags().BoolVar(&configWrite, "write", false, "Write the effective configuration to the user config file")

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(descriptorCmd)
	rootCmd.AddCommand(termCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
}

// setup loads the configuration and applies the logging flags.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := pkg.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if verboseLog {
		level = slog.LevelDebug
	}
	pkg.SetLogLevel(level)

	format, err := cfg.LogFormat()
	if err != nil {
		return err
	}
	if jsonLog {
		format = pkg.LogFormatJSON
	}
	pkg.SetLogFormat(format)

	pkg.LogDebug(pkg.ComponentCLI, "starting", "command", cmd.Name())
	return nil
}

func parseNumber(s string) (uint32, error) {
	var err error
	var res uint64
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		res, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		res, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: number %q", pkg.ErrInvalidParameter, s)
	}
	return uint32(res), nil
}

func parseByte(s string) (uint8, error) {
	n, err := parseNumber(s)
	if err != nil {
		return 0, err
	}
	if n > 0xFF {
		return 0, fmt.Errorf("%w: %q exceeds one byte", pkg.ErrInvalidParameter, s)
	}
	return uint8(n), nil
}
