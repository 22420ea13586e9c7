package cdc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/mcdc/device"
	"github.com/ardnew/mcdc/device/hal/sim"
	"github.com/ardnew/mcdc/pkg"
)

func newDescriptorPort(t *testing.T, rxPkt, txPkt int) *ACM {
	t.Helper()
	a, err := New(Config{
		DataIn:       0x81,
		DataOut:      0x01,
		Command:      0x82,
		RxBuffer:     make([]byte, 256),
		TxBuffer:     make([]byte, 256),
		RxPacketSize: rxPkt,
		TxPacketSize: txPkt,
		HAL:          sim.New(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestConfigDescriptor(t *testing.T) {
	want := []byte{
		// Interface association: interfaces 2 and 3, CDC ACM
		0x08, 0x0B, 0x02, 0x02, 0x02, 0x02, 0x01, 0x00,
		// Communication interface 2
		0x09, 0x04, 0x02, 0x00, 0x01, 0x02, 0x02, 0x01, 0x00,
		// Header, CDC 1.10
		0x05, 0x24, 0x00, 0x10, 0x01,
		// Call management, data interface 3
		0x05, 0x24, 0x01, 0x00, 0x03,
		// Abstract control management
		0x04, 0x24, 0x02, 0x02,
		// Union, master 2, subordinate 3
		0x05, 0x24, 0x06, 0x02, 0x03,
		// Command endpoint 0x82, interrupt, 8 bytes
		0x07, 0x05, 0x82, 0x03, 0x08, 0x00, 0xFF,
		// Data interface 3
		0x09, 0x04, 0x03, 0x00, 0x02, 0x0A, 0x00, 0x00, 0x00,
		// Data OUT endpoint 0x01, bulk, 64 bytes
		0x07, 0x05, 0x01, 0x02, 0x40, 0x00, 0x00,
		// Data IN endpoint 0x81, bulk, 64 bytes
		0x07, 0x05, 0x81, 0x02, 0x40, 0x00, 0x00,
	}

	a := newDescriptorPort(t, 0, 0)
	buf := make([]byte, 128)
	n := a.ConfigDescriptor(device.SpeedFull, 2, buf)
	if n != DescriptorSize || n != len(want) {
		t.Fatalf("ConfigDescriptor() = %d, want %d", n, len(want))
	}
	if diff := cmp.Diff(want, buf[:n]); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, a.descriptor[:]); diff != "" {
		t.Errorf("stored descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigDescriptor_Patching(t *testing.T) {
	a := newDescriptorPort(t, 32, 16)

	buf := make([]byte, DescriptorSize)
	a.ConfigDescriptor(device.SpeedHigh, 0, buf)

	if got := buf[offCommandInterval]; got != commandIntervalHS {
		t.Errorf("high speed interval = 0x%02X, want 0x%02X", got, commandIntervalHS)
	}
	if got := buf[offDataOutPacketSize]; got != 32 {
		t.Errorf("OUT packet size = %d, want 32", got)
	}
	if got := buf[offDataInPacketSize]; got != 16 {
		t.Errorf("IN packet size = %d, want 16", got)
	}

	var out device.EndpointDescriptor
	if err := device.ParseEndpointDescriptor(buf[offDataOutEndpoint-2:], &out); err != nil {
		t.Fatalf("ParseEndpointDescriptor() error = %v", err)
	}
	want := device.EndpointDescriptor{
		Length:          device.EndpointDescriptorSize,
		DescriptorType:  device.DescriptorTypeEndpoint,
		EndpointAddress: 0x01,
		Attributes:      device.EndpointTypeBulk,
		MaxPacketSize:   32,
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("OUT endpoint mismatch (-want +got):\n%s", diff)
	}

	if n := a.ConfigDescriptor(device.SpeedFull, 0, buf[:DescriptorSize-1]); n != 0 {
		t.Errorf("ConfigDescriptor() into short buffer = %d, want 0", n)
	}
}

func TestConfigDescriptor_Walk(t *testing.T) {
	a := newDescriptorPort(t, 0, 0)
	buf := make([]byte, DescriptorSize)
	a.ConfigDescriptor(device.SpeedFull, 0, buf)

	var types []uint8
	err := device.WalkDescriptors(buf, func(descType uint8, desc []byte) error {
		types = append(types, descType)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDescriptors() error = %v", err)
	}
	want := []uint8{
		device.DescriptorTypeInterfaceAssociation,
		device.DescriptorTypeInterface,
		device.DescriptorTypeCSInterface,
		device.DescriptorTypeCSInterface,
		device.DescriptorTypeCSInterface,
		device.DescriptorTypeCSInterface,
		device.DescriptorTypeEndpoint,
		device.DescriptorTypeInterface,
		device.DescriptorTypeEndpoint,
		device.DescriptorTypeEndpoint,
	}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("descriptor sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUnionDescriptor(t *testing.T) {
	a := newDescriptorPort(t, 0, 0)
	buf := make([]byte, DescriptorSize)
	a.ConfigDescriptor(device.SpeedFull, 2, buf)

	header := device.IADSize + device.InterfaceDescriptorSize
	union := header + HeaderDescriptorSize + CallManagementDescriptorSize + ACMDescriptorSize

	var u UnionDescriptor
	if err := ParseUnionDescriptor(buf[union:], &u); err != nil {
		t.Fatalf("ParseUnionDescriptor() error = %v", err)
	}
	if want := (UnionDescriptor{MasterInterface: 2, SlaveInterface0: 3}); u != want {
		t.Errorf("union = %+v, want %+v", u, want)
	}

	if err := ParseUnionDescriptor(buf[header:], &u); !errors.Is(err, pkg.ErrDescriptorTypeMismatch) {
		t.Errorf("header as union: error = %v, want %v", err, pkg.ErrDescriptorTypeMismatch)
	}
	if err := ParseUnionDescriptor(buf[union:union+3], &u); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("short union: error = %v, want %v", err, pkg.ErrDescriptorTooShort)
	}
}

func TestCompositeTwoPorts(t *testing.T) {
	dcd := sim.New()
	comp := device.NewComposite(dcd, device.SpeedFull)

	var ports [2]*ACM
	for i := range ports {
		a, err := Attach(comp, Config{
			RxBuffer: make([]byte, 128),
			TxBuffer: make([]byte, 128),
		})
		if err != nil {
			t.Fatalf("Attach(%d) error = %v", i, err)
		}
		ports[i] = a
	}

	type addrs struct{ In, Out, Cmd uint8 }
	var got []addrs
	for _, a := range ports {
		in, out, cmd := a.EndpointAddresses()
		got = append(got, addrs{in, out, cmd})
	}
	want := []addrs{{0x81, 0x01, 0x82}, {0x83, 0x02, 0x84}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("endpoint allocation mismatch (-want +got):\n%s", diff)
	}

	buf := make([]byte, device.MaxConfigDescriptorSize)
	n, err := comp.ConfigDescriptor(buf)
	if err != nil {
		t.Fatalf("ConfigDescriptor() error = %v", err)
	}
	if n != device.ConfigurationDescriptorSize+2*DescriptorSize {
		t.Fatalf("ConfigDescriptor() = %d bytes", n)
	}
	var hdr device.ConfigurationDescriptor
	if err := device.ParseConfigurationDescriptor(buf, &hdr); err != nil {
		t.Fatalf("ParseConfigurationDescriptor() error = %v", err)
	}
	if hdr.TotalLength != uint16(n) || hdr.NumInterfaces != 4 {
		t.Errorf("header TotalLength=%d NumInterfaces=%d", hdr.TotalLength, hdr.NumInterfaces)
	}
	second := buf[device.ConfigurationDescriptorSize+DescriptorSize:]
	if second[offIADFirstInterface] != 2 || second[offUnionSlave] != 3 {
		t.Errorf("second function numbered from %d", second[offIADFirstInterface])
	}

	// Class requests reach the port owning the addressed interface.
	if err := comp.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration() error = %v", err)
	}
	var s device.SetupPacket
	device.ClassRequestSetup(&s, device.RequestDirectionHostToDevice, RequestSetLineCoding, 0, 3, 7)
	if err := comp.Setup(&s); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	host := sim.NewHost(dcd, comp)
	if err := host.ControlWrite([]byte{0x80, 0x25, 0x00, 0x00, 0x00, 0x00, 0x08}); err != nil {
		t.Fatalf("ControlWrite() error = %v", err)
	}
	if ports[0].LineCoding().DTERate != 115200 || ports[1].LineCoding().DTERate != 9600 {
		t.Errorf("line coding landed on the wrong port: %d, %d",
			ports[0].LineCoding().DTERate, ports[1].LineCoding().DTERate)
	}

	// Data completions reach the port owning the endpoint.
	if _, err := host.Send(0x02, []byte("second")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if ports[0].Available() != 0 || ports[1].Available() != 6 {
		t.Errorf("Available() = %d, %d, want 0, 6", ports[0].Available(), ports[1].Available())
	}
}
