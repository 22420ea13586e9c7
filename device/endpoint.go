package device

import "fmt"

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = 0x00 // Control transfer
	EndpointTypeIsochronous = 0x01 // Isochronous transfer
	EndpointTypeBulk        = 0x02 // Bulk transfer
	EndpointTypeInterrupt   = 0x03 // Interrupt transfer
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// EndpointNumber returns the endpoint number (0-15) of addr.
func EndpointNumber(addr uint8) uint8 {
	return addr & 0x0F
}

// EndpointIsIn returns true if addr names an IN endpoint (device to host).
func EndpointIsIn(addr uint8) bool {
	return addr&EndpointDirectionIn != 0
}

// EndpointMask records the endpoint addresses claimed by a class driver.
// Bits 0-15 are IN endpoints, bits 16-31 are OUT endpoints.
type EndpointMask uint32

func endpointBit(addr uint8) EndpointMask {
	n := EndpointNumber(addr)
	if EndpointIsIn(addr) {
		return 1 << n
	}
	return 1 << (16 + n)
}

// Set returns m with addr added.
func (m EndpointMask) Set(addr uint8) EndpointMask {
	return m | endpointBit(addr)
}

// Has returns true if addr is in m.
func (m EndpointMask) Has(addr uint8) bool {
	return m&endpointBit(addr) != 0
}

// Overlaps returns true if m and o claim a common endpoint.
func (m EndpointMask) Overlaps(o EndpointMask) bool {
	return m&o != 0
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	case EndpointTypeInterrupt:
		return "Interrupt"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// AddressString formats an endpoint address for log output, e.g. "0x81 IN".
func AddressString(addr uint8) string {
	if EndpointIsIn(addr) {
		return fmt.Sprintf("0x%02X IN", addr)
	}
	return fmt.Sprintf("0x%02X OUT", addr)
}
