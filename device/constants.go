package device

import (
	"fmt"
	"strings"

	"github.com/ardnew/mcdc/pkg"
)

// Limits for the fixed-size tables held by a Composite.
const (
	// MaxClasses is the maximum number of class drivers in one composite.
	MaxClasses = 4

	// MaxInterfaces is the maximum number of interfaces per configuration.
	MaxInterfaces = 8

	// MaxEndpointNumber is the highest endpoint number a controller exposes.
	MaxEndpointNumber = 15

	// MaxConfigDescriptorSize bounds the full configuration descriptor.
	MaxConfigDescriptorSize = 512
)

// USB Speeds as defined in USB 2.0 specification.
const (
	SpeedLow  Speed = 0 // 1.5 Mbps (USB 1.0)
	SpeedFull Speed = 1 // 12 Mbps (USB 1.1)
	SpeedHigh Speed = 2 // 480 Mbps (USB 2.0)
)

// Speed represents USB connection speed.
type Speed uint8

// String returns a human-readable speed description.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed (1.5 Mbps)"
	case SpeedFull:
		return "Full Speed (12 Mbps)"
	case SpeedHigh:
		return "High Speed (480 Mbps)"
	default:
		return fmt.Sprintf("Unknown Speed (%d)", s)
	}
}

// MaxPacketSize0 returns the maximum packet size for endpoint 0 at this speed.
func (s Speed) MaxPacketSize0() uint16 {
	switch s {
	case SpeedFull, SpeedHigh:
		return 64
	default:
		return 8
	}
}

// ParseSpeed parses "low", "full" or "high".
func ParseSpeed(s string) (Speed, error) {
	switch strings.ToLower(s) {
	case "low":
		return SpeedLow, nil
	case "full":
		return SpeedFull, nil
	case "high":
		return SpeedHigh, nil
	default:
		return 0, fmt.Errorf("%w: speed %q", pkg.ErrInvalidParameter, s)
	}
}
