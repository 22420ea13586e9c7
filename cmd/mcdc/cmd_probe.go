package main

import (
	"fmt"
	"io"

	"github.com/google/gousb"
	"github.com/google/gousb/usbid"
	"github.com/spf13/cobra"

	"github.com/ardnew/mcdc/device"
	"github.com/ardnew/mcdc/device/class/cdc"
	"github.com/ardnew/mcdc/pkg"
)

var (
	probeVID     string
	probePID     string
	probeSetBaud int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Inspect the CDC functions of an attached device",
	Long: `Opens an attached USB device by vendor and product ID, reads its
configuration descriptor, locates every CDC-ACM function through its interface
association and reads back each function's line coding.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		vid, pid := uint32(cfg.USB.VID), uint32(cfg.USB.PID)
		var err error
		if probeVID != "" {
			if vid, err = parseNumber(probeVID); err != nil {
				return err
			}
		}
		if probePID != "" {
			if pid, err = parseNumber(probePID); err != nil {
				return err
			}
		}
		if vid > 0xFFFF || pid > 0xFFFF {
			return fmt.Errorf("%w: USB IDs are 16 bits", pkg.ErrInvalidParameter)
		}

		ctx, err := newContext()
		if err != nil {
			return fmt.Errorf("failed to initialize USB: %w", err)
		}
		defer ctx.Close()

		dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
		if err != nil {
			return fmt.Errorf("open %04x:%04x: %w", vid, pid, err)
		}
		if dev == nil {
			return fmt.Errorf("no device %04x:%04x found", vid, pid)
		}
		defer dev.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", dev, usbid.Describe(dev.Desc))
		return probe(dev, cmd.OutOrStdout(), probeSetBaud)
	},
}

func newContext() (*gousb.Context, error) {
	resC := make(chan *gousb.Context)
	errC := make(chan error)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errC <- fmt.Errorf("%v", r)
			}
		}()

		resC <- gousb.NewContext()
	}()

	select {
	case err := <-errC:
		return nil, err
	case res := <-resC:
		return res, nil
	}
}

// controller issues control transfers on a device's default pipe.
// *gousb.Device implements it.
type controller interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

func control(c controller, s *device.SetupPacket, data []byte) (int, error) {
	if len(data) < int(s.Length) {
		return 0, pkg.ErrBufferTooSmall
	}
	return c.Control(s.RequestType, s.Request, s.Value, s.Index, data[:s.Length])
}

// cdcFunction is one CDC-ACM function found in a configuration descriptor.
type cdcFunction struct {
	Control uint8
	Data    uint8
	Command uint8
	DataIn  uint8
	DataOut uint8
}

func readConfigDescriptor(c controller) ([]byte, error) {
	var s device.SetupPacket
	hdr := make([]byte, device.ConfigurationDescriptorSize)
	device.GetDescriptorSetup(&s, device.DescriptorTypeConfiguration, 0, uint16(len(hdr)))
	if _, err := control(c, &s, hdr); err != nil {
		return nil, fmt.Errorf("GET_DESCRIPTOR header: %w", err)
	}
	var cd device.ConfigurationDescriptor
	if err := device.ParseConfigurationDescriptor(hdr, &cd); err != nil {
		return nil, err
	}

	desc := make([]byte, cd.TotalLength)
	device.GetDescriptorSetup(&s, device.DescriptorTypeConfiguration, 0, cd.TotalLength)
	n, err := control(c, &s, desc)
	if err != nil {
		return nil, fmt.Errorf("GET_DESCRIPTOR: %w", err)
	}
	return desc[:n], nil
}

// findFunctions locates the CDC-ACM functions of a configuration descriptor
// by their interface associations.
func findFunctions(desc []byte) ([]cdcFunction, error) {
	var fns []cdcFunction
	cur := -1
	var iface device.InterfaceDescriptor

	err := device.WalkDescriptors(desc, func(descType uint8, d []byte) error {
		switch descType {
		case device.DescriptorTypeInterfaceAssociation:
			var iad device.InterfaceAssociationDescriptor
			if err := device.ParseInterfaceAssociationDescriptor(d, &iad); err != nil {
				return err
			}
			cur = -1
			if iad.FunctionClass == device.ClassCDC && iad.FunctionSubClass == cdc.SubclassACM {
				fns = append(fns, cdcFunction{Control: iad.FirstInterface, Data: iad.FirstInterface + 1})
				cur = len(fns) - 1
			}
		case device.DescriptorTypeInterface:
			return device.ParseInterfaceDescriptor(d, &iface)
		case device.DescriptorTypeCSInterface:
			var u cdc.UnionDescriptor
			if cur >= 0 && cdc.ParseUnionDescriptor(d, &u) == nil {
				fns[cur].Control, fns[cur].Data = u.MasterInterface, u.SlaveInterface0
			}
		case device.DescriptorTypeEndpoint:
			if cur < 0 {
				return nil
			}
			var ep device.EndpointDescriptor
			if err := device.ParseEndpointDescriptor(d, &ep); err != nil {
				return err
			}
			f := &fns[cur]
			switch {
			case iface.InterfaceNumber == f.Control:
				f.Command = ep.EndpointAddress
			case iface.InterfaceNumber == f.Data && device.EndpointIsIn(ep.EndpointAddress):
				f.DataIn = ep.EndpointAddress
			case iface.InterfaceNumber == f.Data:
				f.DataOut = ep.EndpointAddress
			}
		}
		return nil
	})
	return fns, err
}

func getLineCoding(c controller, iface uint8) (cdc.LineCoding, error) {
	var s device.SetupPacket
	var lc cdc.LineCoding
	buf := make([]byte, cdc.LineCodingSize)
	device.ClassRequestSetup(&s, device.RequestDirectionDeviceToHost,
		cdc.RequestGetLineCoding, 0, iface, cdc.LineCodingSize)
	n, err := control(c, &s, buf)
	if err != nil {
		return lc, fmt.Errorf("GET_LINE_CODING: %w", err)
	}
	return lc, cdc.ParseLineCoding(buf[:n], &lc)
}

func setLineCoding(c controller, iface uint8, lc cdc.LineCoding) error {
	var s device.SetupPacket
	buf := make([]byte, cdc.LineCodingSize)
	lc.MarshalTo(buf)
	device.ClassRequestSetup(&s, device.RequestDirectionHostToDevice,
		cdc.RequestSetLineCoding, 0, iface, cdc.LineCodingSize)
	if _, err := control(c, &s, buf); err != nil {
		return fmt.Errorf("SET_LINE_CODING: %w", err)
	}
	return nil
}

// probe prints every CDC-ACM function of the device behind c with its line
// coding, first setting setBaud 8N1 on each when non-zero.
func probe(c controller, w io.Writer, setBaud int) error {
	desc, err := readConfigDescriptor(c)
	if err != nil {
		return err
	}
	fns, err := findFunctions(desc)
	if err != nil {
		return err
	}
	if len(fns) == 0 {
		fmt.Fprintln(w, "no CDC-ACM functions")
		return nil
	}

	for _, f := range fns {
		if setBaud > 0 {
			lc := cdc.LineCoding{
				DTERate:    uint32(setBaud),
				CharFormat: cdc.StopBits1,
				ParityType: cdc.ParityNone,
				DataBits:   8,
			}
			if err := setLineCoding(c, f.Control, lc); err != nil {
				return err
			}
		}
		lc, err := getLineCoding(c, f.Control)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "interfaces %d,%d  command %s  in %s  out %s  %d baud, %d data bits, parity %d, stop %d\n",
			f.Control, f.Data,
			device.AddressString(f.Command),
			device.AddressString(f.DataIn),
			device.AddressString(f.DataOut),
			lc.DTERate, lc.DataBits, lc.ParityType, lc.CharFormat)
		pkg.LogDebug(pkg.ComponentCLI, "function probed", "control", f.Control, "baud", lc.DTERate)
	}
	return nil
}
