package cdc

import (
	"encoding/binary"

	"github.com/ardnew/mcdc/pkg"
)

// CDC Functional Descriptor subtypes used by the ACM function.
const (
	SubtypeHeader         = 0x00 // Header Functional Descriptor
	SubtypeCallManagement = 0x01 // Call Management Functional Descriptor
	SubtypeACM            = 0x02 // Abstract Control Model Functional Descriptor
	SubtypeUnion          = 0x06 // Union Functional Descriptor
)

// CDC Subclass and Protocol codes.
const (
	SubclassACM = 0x02 // Abstract Control Model
	ProtocolAT  = 0x01 // AT Commands: V.250
)

// CDC120 specification release number reported in the Header descriptor.
const CDCVersion = 0x0110

// CDC Request codes (CDC 1.2 Table 19).
const (
	RequestSendEncapsulatedCommand = 0x00
	RequestGetEncapsulatedResponse = 0x01
	RequestSetCommFeature          = 0x02
	RequestGetCommFeature          = 0x03
	RequestClearCommFeature        = 0x04
	RequestSetLineCoding           = 0x20
	RequestGetLineCoding           = 0x21
	RequestSetControlLineState     = 0x22
	RequestSendBreak               = 0x23
)

// NoCommand marks that no host-to-device class request is staged.
const NoCommand = 0xFF

// Default packet sizes.
const (
	DefaultDataPacketSize    = 64
	DefaultCommandPacketSize = 8
)

// StallFrames is the number of consecutive frames a transmission may stay
// in flight while the link is open before the link is forced closed.
const StallFrames = 500

// CommandBufferSize is the capacity of the control transfer staging buffer.
const CommandBufferSize = 64

// Command endpoint polling interval, per speed.
const (
	commandIntervalFS = 0xFF
	commandIntervalHS = 0x10
)

// LineCoding represents the serial line configuration.
type LineCoding struct {
	DTERate    uint32 // Data terminal rate (baud rate)
	CharFormat uint8  // Stop bits: 0=1, 1=1.5, 2=2
	ParityType uint8  // Parity: 0=None, 1=Odd, 2=Even, 3=Mark, 4=Space
	DataBits   uint8  // Data bits: 5, 6, 7, 8, or 16
}

// LineCodingSize is the size of LineCoding in bytes.
const LineCodingSize = 7

// Stop bit values.
const (
	StopBits1   = 0 // 1 stop bit
	StopBits1_5 = 1 // 1.5 stop bits
	StopBits2   = 2 // 2 stop bits
)

// Parity values.
const (
	ParityNone  = 0
	ParityOdd   = 1
	ParityEven  = 2
	ParityMark  = 3
	ParitySpace = 4
)

// Control line state bits (for SET_CONTROL_LINE_STATE).
const (
	ControlLineDTR = 1 << 0 // Data Terminal Ready
	ControlLineRTS = 1 << 1 // Request To Send
)

// MarshalTo writes the LineCoding to buf in the CDC wire layout.
// Returns the number of bytes written, or 0 if buf is too small.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], lc.DTERate)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding parses LineCoding from data into out. Values are not
// range checked.
func ParseLineCoding(data []byte, out *LineCoding) error {
	if len(data) < LineCodingSize {
		return pkg.ErrBufferTooSmall
	}
	out.DTERate = binary.LittleEndian.Uint32(data[0:4])
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return nil
}

// putFunctional writes the three header bytes of a class-specific
// interface descriptor, or reports false if buf cannot hold size bytes.
func putFunctional(buf []byte, size int, subtype uint8) bool {
	if len(buf) < size {
		return false
	}
	buf[0] = uint8(size)
	buf[1] = descriptorTypeCSInterface
	buf[2] = subtype
	return true
}

// HeaderDescriptor is the CDC Header Functional Descriptor.
type HeaderDescriptor struct {
	CDCVersion uint16 // CDC specification release number
}

// HeaderDescriptorSize is the size of the Header Functional Descriptor.
const HeaderDescriptorSize = 5

func (d *HeaderDescriptor) MarshalTo(buf []byte) int {
	if !putFunctional(buf, HeaderDescriptorSize, SubtypeHeader) {
		return 0
	}
	binary.LittleEndian.PutUint16(buf[3:5], d.CDCVersion)
	return HeaderDescriptorSize
}

// CallManagementDescriptor is the Call Management Functional Descriptor.
type CallManagementDescriptor struct {
	Capabilities  uint8 // Call management capabilities
	DataInterface uint8 // Interface number of the Data Class interface
}

// CallManagementDescriptorSize is the size of the Call Management Descriptor.
const CallManagementDescriptorSize = 5

func (d *CallManagementDescriptor) MarshalTo(buf []byte) int {
	if !putFunctional(buf, CallManagementDescriptorSize, SubtypeCallManagement) {
		return 0
	}
	buf[3] = d.Capabilities
	buf[4] = d.DataInterface
	return CallManagementDescriptorSize
}

// ACMDescriptor is the Abstract Control Management Functional Descriptor.
type ACMDescriptor struct {
	Capabilities uint8 // ACM capabilities
}

// ACMDescriptorSize is the size of the ACM Functional Descriptor.
const ACMDescriptorSize = 4

// ACM capability bits.
const (
	ACMCapCommFeature = 1 << 0 // Supports Set/Get/Clear Comm Feature
	ACMCapLineCoding  = 1 << 1 // Supports Set/Get Line Coding and Set Control Line State
	ACMCapSendBreak   = 1 << 2 // Supports Send Break
)

func (d *ACMDescriptor) MarshalTo(buf []byte) int {
	if !putFunctional(buf, ACMDescriptorSize, SubtypeACM) {
		return 0
	}
	buf[3] = d.Capabilities
	return ACMDescriptorSize
}

// UnionDescriptor is the Union Functional Descriptor with one subordinate.
type UnionDescriptor struct {
	MasterInterface uint8 // Control interface number
	SlaveInterface0 uint8 // Data interface number
}

// UnionDescriptorSize is the size of the Union Descriptor with one subordinate.
const UnionDescriptorSize = 5

// MarshalTo writes the descriptor to buf.
func (d *UnionDescriptor) MarshalTo(buf []byte) int {
	if !putFunctional(buf, UnionDescriptorSize, SubtypeUnion) {
		return 0
	}
	buf[3] = d.MasterInterface
	buf[4] = d.SlaveInterface0
	return UnionDescriptorSize
}

// ParseUnionDescriptor decodes a Union Functional Descriptor, reading only
// its first subordinate interface.
func ParseUnionDescriptor(data []byte, out *UnionDescriptor) error {
	if len(data) < UnionDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != descriptorTypeCSInterface || data[2] != SubtypeUnion {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.MasterInterface = data[3]
	out.SlaveInterface0 = data[4]
	return nil
}
