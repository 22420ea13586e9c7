package device

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/mcdc/pkg"
)

func TestConfigurationDescriptor_RoundTrip(t *testing.T) {
	original := ConfigurationDescriptor{
		Length:             ConfigurationDescriptorSize,
		DescriptorType:     DescriptorTypeConfiguration,
		TotalLength:        75,
		NumInterfaces:      2,
		ConfigurationValue: 1,
		Attributes:         ConfigAttrBusPowered | ConfigAttrRemoteWakeup,
		MaxPower:           250,
	}

	var buf [ConfigurationDescriptorSize]byte
	if n := original.MarshalTo(buf[:]); n != ConfigurationDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, ConfigurationDescriptorSize)
	}
	if buf[2] != 75 || buf[3] != 0 {
		t.Errorf("wTotalLength bytes = %02X %02X, want 4B 00", buf[2], buf[3])
	}

	var parsed ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if diff := cmp.Diff(original, parsed); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestInterfaceDescriptor_RoundTrip(t *testing.T) {
	original := InterfaceDescriptor{
		Length:          InterfaceDescriptorSize,
		DescriptorType:  DescriptorTypeInterface,
		InterfaceNumber: 1,
		NumEndpoints:    2,
		InterfaceClass:  ClassCDCData,
		InterfaceIndex:  5,
	}

	var buf [InterfaceDescriptorSize]byte
	original.MarshalTo(buf[:])

	var parsed InterfaceDescriptor
	if err := ParseInterfaceDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if diff := cmp.Diff(original, parsed); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEndpointDescriptor_MarshalTo(t *testing.T) {
	desc := &EndpointDescriptor{
		EndpointAddress: 0x81,
		Attributes:      EndpointTypeInterrupt,
		MaxPacketSize:   8,
		Interval:        0xFF,
	}

	var buf [EndpointDescriptorSize]byte
	if n := desc.MarshalTo(buf[:]); n != EndpointDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, EndpointDescriptorSize)
	}
	want := []byte{0x07, 0x05, 0x81, 0x03, 0x08, 0x00, 0xFF}
	if diff := cmp.Diff(want, buf[:]); diff != "" {
		t.Errorf("endpoint bytes mismatch (-want +got):\n%s", diff)
	}
}

func TestInterfaceAssociationDescriptor_RoundTrip(t *testing.T) {
	original := InterfaceAssociationDescriptor{
		Length:           IADSize,
		DescriptorType:   DescriptorTypeInterfaceAssociation,
		FirstInterface:   2,
		InterfaceCount:   2,
		FunctionClass:    ClassCDC,
		FunctionSubClass: 0x02,
		FunctionProtocol: 0x01,
	}

	var buf [IADSize]byte
	original.MarshalTo(buf[:])

	var parsed InterfaceAssociationDescriptor
	if err := ParseInterfaceAssociationDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if diff := cmp.Diff(original, parsed); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDescriptor_Errors(t *testing.T) {
	tests := []struct {
		name    string
		parse   func([]byte) error
		data    []byte
		wantErr error
	}{
		{
			name:    "configuration too short",
			parse:   func(b []byte) error { return ParseConfigurationDescriptor(b, &ConfigurationDescriptor{}) },
			data:    []byte{9, 2, 0},
			wantErr: pkg.ErrDescriptorTooShort,
		},
		{
			name:    "interface wrong type",
			parse:   func(b []byte) error { return ParseInterfaceDescriptor(b, &InterfaceDescriptor{}) },
			data:    []byte{9, DescriptorTypeEndpoint, 0, 0, 0, 0, 0, 0, 0},
			wantErr: pkg.ErrDescriptorTypeMismatch,
		},
		{
			name:    "endpoint too short",
			parse:   func(b []byte) error { return ParseEndpointDescriptor(b, &EndpointDescriptor{}) },
			data:    []byte{7, 5},
			wantErr: pkg.ErrDescriptorTooShort,
		},
		{
			name:    "iad wrong type",
			parse:   func(b []byte) error { return ParseInterfaceAssociationDescriptor(b, &InterfaceAssociationDescriptor{}) },
			data:    []byte{8, DescriptorTypeInterface, 0, 0, 0, 0, 0, 0},
			wantErr: pkg.ErrDescriptorTypeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.parse(tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWalkDescriptors(t *testing.T) {
	data := []byte{
		0x08, 0x0B, 0x00, 0x02, 0x02, 0x02, 0x01, 0x00,
		0x05, 0x24, 0x00, 0x10, 0x01,
		0x07, 0x05, 0x81, 0x03, 0x08, 0x00, 0xFF,
	}

	var types []uint8
	err := WalkDescriptors(data, func(descType uint8, desc []byte) error {
		types = append(types, descType)
		if int(desc[0]) != len(desc) {
			t.Errorf("descriptor 0x%02X length %d, slice %d", descType, desc[0], len(desc))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDescriptors() error = %v", err)
	}
	want := []uint8{DescriptorTypeInterfaceAssociation, DescriptorTypeCSInterface, DescriptorTypeEndpoint}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("descriptor types mismatch (-want +got):\n%s", diff)
	}
}

func TestWalkDescriptors_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"zero length", []byte{0x00, 0x04}},
		{"overrun", []byte{0x09, 0x04, 0x00}},
		{"dangling byte", []byte{0x02, 0x24, 0x05}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WalkDescriptors(tt.data, func(uint8, []byte) error { return nil })
			if !errors.Is(err, pkg.ErrDescriptorTooShort) {
				t.Errorf("error = %v, want ErrDescriptorTooShort", err)
			}
		})
	}
}

func TestWalkDescriptors_StopsOnError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	data := []byte{0x02, 0x24, 0x02, 0x24}
	err := WalkDescriptors(data, func(uint8, []byte) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("error = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Errorf("callback invoked %d times, want 1", calls)
	}
}
