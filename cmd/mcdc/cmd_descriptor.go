package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ardnew/mcdc/device"
	"github.com/ardnew/mcdc/device/class/cdc"
	"github.com/ardnew/mcdc/device/hal/sim"
	"github.com/ardnew/mcdc/pkg"
	"github.com/ardnew/mcdc/pkg/config"
)

var (
	descriptorFunction  bool
	descriptorFirst     uint8
	descriptorEndpoints string
	descriptorWalk      bool
)

var descriptorCmd = &cobra.Command{
	Use:   "descriptor",
	Short: "Print the configuration descriptor",
	Long: `Prints the configuration descriptor of a composite device carrying the
configured number of CDC-ACM ports. With --function only one function's block
is printed, numbered from --first-interface and using the --endpoints
addresses.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var desc []byte
		var err error
		if descriptorFunction {
			var eps [3]uint8
			eps, err = parseEndpoints(descriptorEndpoints)
			if err != nil {
				return err
			}
			desc, err = functionDescriptor(cfg, descriptorFirst, eps)
		} else {
			desc, err = compositeDescriptor(cfg)
		}
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if descriptorWalk {
			return walkDescriptor(w, desc)
		}
		_, err = io.WriteString(w, hex.Dump(desc))
		return err
	},
}

func portConfig(c *config.Config) cdc.Config {
	return cdc.Config{
		RxBuffer:          make([]byte, c.Port.RxBufferSize),
		TxBuffer:          make([]byte, c.Port.TxBufferSize),
		RxPacketSize:      c.Port.RxPacketSize,
		TxPacketSize:      c.Port.TxPacketSize,
		CommandPacketSize: c.Port.CommandPacketSize,
	}
}

func compositeDescriptor(c *config.Config) ([]byte, error) {
	comp := device.NewComposite(sim.New(), c.Speed())
	for i := 0; i < c.Device.Ports; i++ {
		if _, err := cdc.Attach(comp, portConfig(c)); err != nil {
			return nil, fmt.Errorf("port %d: %w", i, err)
		}
	}
	buf := make([]byte, device.MaxConfigDescriptorSize)
	n, err := comp.ConfigDescriptor(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func functionDescriptor(c *config.Config, first uint8, eps [3]uint8) ([]byte, error) {
	pc := portConfig(c)
	pc.DataIn, pc.DataOut, pc.Command = eps[0], eps[1], eps[2]
	pc.HAL = sim.New()
	a, err := cdc.New(pc)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, cdc.DescriptorSize)
	return buf[:a.ConfigDescriptor(c.Speed(), first, buf)], nil
}

func parseEndpoints(s string) ([3]uint8, error) {
	var eps [3]uint8
	fields := strings.Split(s, ",")
	if len(fields) != len(eps) {
		return eps, fmt.Errorf("%w: want three endpoint addresses, got %q", pkg.ErrInvalidParameter, s)
	}
	for i, f := range fields {
		v, err := parseByte(strings.TrimSpace(f))
		if err != nil {
			return eps, err
		}
		eps[i] = v
	}
	return eps, nil
}

// walkDescriptor prints one line per descriptor in desc.
func walkDescriptor(w io.Writer, desc []byte) error {
	return device.WalkDescriptors(desc, func(descType uint8, d []byte) error {
		_, err := fmt.Fprintf(w, "%-24s % X\n", describe(descType, d), d)
		return err
	})
}

func describe(descType uint8, d []byte) string {
	switch descType {
	case device.DescriptorTypeConfiguration:
		var c device.ConfigurationDescriptor
		if device.ParseConfigurationDescriptor(d, &c) == nil {
			return fmt.Sprintf("configuration (%d)", c.TotalLength)
		}
	case device.DescriptorTypeInterfaceAssociation:
		var iad device.InterfaceAssociationDescriptor
		if device.ParseInterfaceAssociationDescriptor(d, &iad) == nil {
			return fmt.Sprintf("association %d..%d", iad.FirstInterface, iad.FirstInterface+iad.InterfaceCount-1)
		}
	case device.DescriptorTypeInterface:
		var i device.InterfaceDescriptor
		if device.ParseInterfaceDescriptor(d, &i) == nil {
			return fmt.Sprintf("interface %d", i.InterfaceNumber)
		}
	case device.DescriptorTypeEndpoint:
		var e device.EndpointDescriptor
		if device.ParseEndpointDescriptor(d, &e) == nil {
			return fmt.Sprintf("endpoint %s %s", device.AddressString(e.EndpointAddress),
				device.TransferTypeName(e.Attributes))
		}
	case device.DescriptorTypeCSInterface:
		if len(d) > 2 {
			return fmt.Sprintf("cdc functional 0x%02X", d[2])
		}
	}
	return fmt.Sprintf("type 0x%02X", descType)
}
