package device

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/mcdc/pkg"
)

func TestParseSetupPacket(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    SetupPacket
		wantErr error
	}{
		{
			name: "GET_DESCRIPTOR configuration",
			data: []byte{0x80, 0x06, 0x00, 0x02, 0x00, 0x00, 0xFF, 0x00},
			want: SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0200, Length: 255},
		},
		{
			name: "SET_LINE_CODING",
			data: []byte{0x21, 0x20, 0x00, 0x00, 0x00, 0x00, 0x07, 0x00},
			want: SetupPacket{RequestType: 0x21, Request: 0x20, Length: 7},
		},
		{
			name: "SET_CONTROL_LINE_STATE",
			data: []byte{0x21, 0x22, 0x03, 0x00, 0x02, 0x00, 0x00, 0x00},
			want: SetupPacket{RequestType: 0x21, Request: 0x22, Value: 3, Index: 2},
		},
		{
			name:    "too short",
			data:    []byte{0x80, 0x06, 0x00},
			wantErr: pkg.ErrSetupPacketTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got SetupPacket
			err := ParseSetupPacket(tt.data, &got)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseSetupPacket() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseSetupPacket() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetupPacketMarshalTo(t *testing.T) {
	setup := SetupPacket{RequestType: 0xA1, Request: 0x21, Value: 0, Index: 0x0102, Length: 7}
	var buf [SetupPacketSize]byte
	if n := setup.MarshalTo(buf[:]); n != SetupPacketSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, SetupPacketSize)
	}
	want := []byte{0xA1, 0x21, 0x00, 0x00, 0x02, 0x01, 0x07, 0x00}
	if diff := cmp.Diff(want, buf[:]); diff != "" {
		t.Errorf("MarshalTo() mismatch (-want +got):\n%s", diff)
	}

	if n := setup.MarshalTo(buf[:4]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestSetupPacketClassification(t *testing.T) {
	tests := []struct {
		name        string
		requestType uint8
		in          bool
		class       bool
		standard    bool
		iface       bool
		endpoint    bool
	}{
		{"class interface IN", 0xA1, true, true, false, true, false},
		{"class interface OUT", 0x21, false, true, false, true, false},
		{"standard device IN", 0x80, true, false, true, false, false},
		{"standard endpoint OUT", 0x02, false, false, true, false, true},
		{"vendor device OUT", 0x40, false, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SetupPacket{RequestType: tt.requestType}
			if got := s.IsDeviceToHost(); got != tt.in {
				t.Errorf("IsDeviceToHost() = %v, want %v", got, tt.in)
			}
			if got := s.IsHostToDevice(); got == tt.in {
				t.Errorf("IsHostToDevice() = %v, want %v", got, !tt.in)
			}
			if got := s.IsClass(); got != tt.class {
				t.Errorf("IsClass() = %v, want %v", got, tt.class)
			}
			if got := s.IsStandard(); got != tt.standard {
				t.Errorf("IsStandard() = %v, want %v", got, tt.standard)
			}
			if got := s.IsInterfaceRecipient(); got != tt.iface {
				t.Errorf("IsInterfaceRecipient() = %v, want %v", got, tt.iface)
			}
			if got := s.IsEndpointRecipient(); got != tt.endpoint {
				t.Errorf("IsEndpointRecipient() = %v, want %v", got, tt.endpoint)
			}
		})
	}
}

func TestSetupPacketFields(t *testing.T) {
	s := SetupPacket{Value: 0x2403, Index: 0x0082}
	if got := s.DescriptorType(); got != 0x24 {
		t.Errorf("DescriptorType() = 0x%02X, want 0x24", got)
	}
	if got := s.DescriptorIndex(); got != 0x03 {
		t.Errorf("DescriptorIndex() = 0x%02X, want 0x03", got)
	}
	if got := s.InterfaceNumber(); got != 0x82 {
		t.Errorf("InterfaceNumber() = 0x%02X, want 0x82", got)
	}
	if got := s.EndpointAddress(); got != 0x82 {
		t.Errorf("EndpointAddress() = 0x%02X, want 0x82", got)
	}
}

func TestSetupPacketString(t *testing.T) {
	tests := []struct {
		setup SetupPacket
		want  string
	}{
		{
			SetupPacket{RequestType: 0xA1, Request: 0x21, Length: 7},
			"IN Class Interface 0x21 wValue=0x0000 wIndex=0x0000 wLength=7",
		},
		{
			SetupPacket{RequestType: 0x80, Request: RequestGetDescriptor, Value: 0x0200, Length: 9},
			"IN Standard Device GET_DESCRIPTOR(0x06) wValue=0x0200 wIndex=0x0000 wLength=9",
		},
		{
			SetupPacket{RequestType: 0x02, Request: 0x02},
			"OUT Standard Endpoint 0x02 wValue=0x0000 wIndex=0x0000 wLength=0",
		},
		{
			SetupPacket{RequestType: 0x63, Request: 0x01},
			"OUT Reserved Other 0x01 wValue=0x0000 wIndex=0x0000 wLength=0",
		},
	}
	for _, tt := range tests {
		if got := tt.setup.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSetupBuilders(t *testing.T) {
	tests := []struct {
		name  string
		build func(*SetupPacket)
		want  SetupPacket
	}{
		{
			name:  "GetDescriptorSetup",
			build: func(s *SetupPacket) { GetDescriptorSetup(s, DescriptorTypeConfiguration, 0, 9) },
			want:  SetupPacket{RequestType: 0x80, Request: RequestGetDescriptor, Value: 0x0200, Length: 9},
		},
		{
			name:  "InterfaceDescriptorSetup",
			build: func(s *SetupPacket) { InterfaceDescriptorSetup(s, 1, DescriptorTypeCSInterface, 64) },
			want:  SetupPacket{RequestType: 0x81, Request: RequestGetDescriptor, Value: 0x2400, Index: 1, Length: 64},
		},
		{
			name:  "SetConfigurationSetup",
			build: func(s *SetupPacket) { SetConfigurationSetup(s, 1) },
			want:  SetupPacket{RequestType: 0x00, Request: RequestSetConfiguration, Value: 1},
		},
		{
			name:  "SetInterfaceSetup",
			build: func(s *SetupPacket) { SetInterfaceSetup(s, 2, 0) },
			want:  SetupPacket{RequestType: 0x01, Request: RequestSetInterface, Index: 2},
		},
		{
			name:  "GetInterfaceSetup",
			build: func(s *SetupPacket) { GetInterfaceSetup(s, 3) },
			want:  SetupPacket{RequestType: 0x81, Request: RequestGetInterface, Index: 3, Length: 1},
		},
		{
			name: "ClassRequestSetup IN",
			build: func(s *SetupPacket) {
				ClassRequestSetup(s, RequestDirectionDeviceToHost, 0x21, 0, 0, 7)
			},
			want: SetupPacket{RequestType: 0xA1, Request: 0x21, Length: 7},
		},
		{
			name: "ClassRequestSetup OUT ignores stray bits",
			build: func(s *SetupPacket) {
				ClassRequestSetup(s, 0x7F, 0x22, 0x0003, 0, 0)
			},
			want: SetupPacket{RequestType: 0x21, Request: 0x22, Value: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SetupPacket{Value: 0xFFFF, Index: 0xFFFF, Length: 0xFFFF}
			tt.build(&got)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
