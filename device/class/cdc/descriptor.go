package cdc

import (
	"encoding/binary"

	"github.com/ardnew/mcdc/device"
)

const descriptorTypeCSInterface = device.DescriptorTypeCSInterface

// DescriptorSize is the length of the function's configuration block:
// IAD, control interface, four functional descriptors, command endpoint,
// data interface and the two bulk endpoints.
const DescriptorSize = device.IADSize +
	device.InterfaceDescriptorSize +
	HeaderDescriptorSize +
	CallManagementDescriptorSize +
	ACMDescriptorSize +
	UnionDescriptorSize +
	device.EndpointDescriptorSize +
	device.InterfaceDescriptorSize +
	device.EndpointDescriptorSize +
	device.EndpointDescriptorSize

// Byte offsets patched into the template.
const (
	offIADFirstInterface = 2
	offControlInterface  = 10
	offCallMgmtDataIface = 26
	offUnionMaster       = 34
	offUnionSlave        = 35
	offCommandEndpoint   = 38
	offCommandPacketSize = 40
	offCommandInterval   = 42
	offDataInterface     = 45
	offDataOutEndpoint   = 54
	offDataOutPacketSize = 56
	offDataInEndpoint    = 61
	offDataInPacketSize  = 63
)

// descriptorTemplate is the function's configuration block for interfaces
// 0 and 1 with placeholder endpoint addresses.
var descriptorTemplate = buildTemplate()

func buildTemplate() (t [DescriptorSize]byte) {
	b := t[:]
	iad := device.InterfaceAssociationDescriptor{
		FirstInterface:   0,
		InterfaceCount:   2,
		FunctionClass:    device.ClassCDC,
		FunctionSubClass: SubclassACM,
		FunctionProtocol: ProtocolAT,
	}
	b = b[iad.MarshalTo(b):]

	control := device.InterfaceDescriptor{
		InterfaceNumber:   0,
		NumEndpoints:      1,
		InterfaceClass:    device.ClassCDC,
		InterfaceSubClass: SubclassACM,
		InterfaceProtocol: ProtocolAT,
	}
	b = b[control.MarshalTo(b):]

	header := HeaderDescriptor{CDCVersion: CDCVersion}
	b = b[header.MarshalTo(b):]
	callMgmt := CallManagementDescriptor{DataInterface: 1}
	b = b[callMgmt.MarshalTo(b):]
	acm := ACMDescriptor{Capabilities: ACMCapLineCoding}
	b = b[acm.MarshalTo(b):]
	union := UnionDescriptor{MasterInterface: 0, SlaveInterface0: 1}
	b = b[union.MarshalTo(b):]

	command := device.EndpointDescriptor{
		EndpointAddress: device.EndpointDirectionIn,
		Attributes:      device.EndpointTypeInterrupt,
		MaxPacketSize:   DefaultCommandPacketSize,
		Interval:        commandIntervalFS,
	}
	b = b[command.MarshalTo(b):]

	data := device.InterfaceDescriptor{
		InterfaceNumber: 1,
		NumEndpoints:    2,
		InterfaceClass:  device.ClassCDCData,
	}
	b = b[data.MarshalTo(b):]

	out := device.EndpointDescriptor{
		EndpointAddress: device.EndpointDirectionOut,
		Attributes:      device.EndpointTypeBulk,
		MaxPacketSize:   DefaultDataPacketSize,
	}
	b = b[out.MarshalTo(b):]

	in := device.EndpointDescriptor{
		EndpointAddress: device.EndpointDirectionIn,
		Attributes:      device.EndpointTypeBulk,
		MaxPacketSize:   DefaultDataPacketSize,
	}
	in.MarshalTo(b)
	return t
}

// ConfigDescriptor copies the function's configuration block into buf and
// patches the interface numbers starting at firstInterface, the endpoint
// addresses and packet sizes of a. Returns DescriptorSize, or 0 if buf is
// too small.
func (a *ACM) ConfigDescriptor(speed device.Speed, firstInterface uint8, buf []byte) int {
	if len(buf) < DescriptorSize {
		return 0
	}
	copy(buf, descriptorTemplate[:])

	buf[offIADFirstInterface] = firstInterface
	buf[offControlInterface] = firstInterface
	buf[offCallMgmtDataIface] = firstInterface + 1
	buf[offUnionMaster] = firstInterface
	buf[offUnionSlave] = firstInterface + 1
	buf[offCommandEndpoint] = a.epCommand
	buf[offDataInterface] = firstInterface + 1
	buf[offDataOutEndpoint] = a.epDataOut
	buf[offDataInEndpoint] = a.epDataIn

	binary.LittleEndian.PutUint16(buf[offCommandPacketSize:], uint16(a.cmdPacketSize))
	binary.LittleEndian.PutUint16(buf[offDataOutPacketSize:], uint16(a.rxPacketSize))
	binary.LittleEndian.PutUint16(buf[offDataInPacketSize:], uint16(a.txPacketSize))
	if speed == device.SpeedHigh {
		buf[offCommandInterval] = commandIntervalHS
	}

	a.mu.Lock()
	a.descriptor = [DescriptorSize]byte(buf[:DescriptorSize])
	a.mu.Unlock()
	return DescriptorSize
}

// NumInterfaces returns the number of interfaces the function occupies.
func (a *ACM) NumInterfaces() uint8 {
	return 2
}

// Endpoints returns the endpoint addresses owned by the function.
func (a *ACM) Endpoints() device.EndpointMask {
	return device.EndpointMask(0).
		Set(a.epDataIn).
		Set(a.epDataOut).
		Set(a.epCommand)
}
