// Package config loads the YAML configuration shared by the mcdc tools.
//
// A file named with --config is used as given. Otherwise the file is
// searched for as mcdc/config.yaml in the XDG configuration directories;
// when none exists the defaults apply. Unknown keys are rejected.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"

	"github.com/ardnew/mcdc/device"
	"github.com/ardnew/mcdc/pkg"
)

// RelPath is the configuration file location below an XDG config directory.
const RelPath = "mcdc/config.yaml"

// Config is the complete configuration file.
type Config struct {
	Device   Device   `yaml:"device"`
	Port     Port     `yaml:"port"`
	Simulate Simulate `yaml:"simulate"`
	Serial   Serial   `yaml:"serial"`
	USB      USB      `yaml:"usb"`
	Log      Log      `yaml:"log"`
}

// Device describes the composite device.
type Device struct {
	Speed string `yaml:"speed"` // low, full or high
	Ports int    `yaml:"ports"` // CDC functions in the composite
}

// Port sizes one virtual serial port.
type Port struct {
	RxBufferSize      int `yaml:"rx_buffer_size"`
	TxBufferSize      int `yaml:"tx_buffer_size"`
	RxPacketSize      int `yaml:"rx_packet_size"`
	TxPacketSize      int `yaml:"tx_packet_size"`
	CommandPacketSize int `yaml:"command_packet_size"`
}

// Simulate controls the simulated host used by the simulate command.
type Simulate struct {
	FramePeriod time.Duration `yaml:"frame_period"`
	Bytes       int           `yaml:"bytes"`        // echoed through each port
	PayloadSize int           `yaml:"payload_size"` // largest OUT packet the host sends

	// ReadStallFrames makes the host stop reading for this many frames once
	// half the stream has been echoed. StallFrames or more forces a
	// recovery on every port.
	ReadStallFrames int           `yaml:"read_stall_frames"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Serial is the host-side serial device used by the term command.
type Serial struct {
	Device  string        `yaml:"device"`
	Baud    int           `yaml:"baud"`
	Timeout time.Duration `yaml:"timeout"`
}

// USB selects the device inspected by the probe command.
type USB struct {
	VID uint16 `yaml:"vid"`
	PID uint16 `yaml:"pid"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Device: Device{
			Speed: "full",
			Ports: 1,
		},
		Port: Port{
			RxBufferSize:      1024,
			TxBufferSize:      1024,
			RxPacketSize:      64,
			TxPacketSize:      64,
			CommandPacketSize: 8,
		},
		Simulate: Simulate{
			FramePeriod: time.Millisecond,
			Bytes:       16 << 10,
			PayloadSize: 64,
			Timeout:     30 * time.Second,
		},
		Serial: Serial{
			Device:  "/dev/ttyACM0",
			Baud:    115200,
			Timeout: 100 * time.Millisecond,
		},
		USB: USB{
			VID: 0x0483,
			PID: 0x5740,
		},
		Log: Log{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Find returns the path of the configuration file in the XDG search path.
func Find() (string, error) {
	return xdg.SearchConfigFile(RelPath)
}

// Load reads the configuration at path. An empty path searches the XDG
// directories and falls back to Default when no file exists there.
func Load(path string) (*Config, error) {
	if path == "" {
		found, err := Find()
		if err != nil {
			pkg.LogDebug(pkg.ComponentConfig, "no configuration file, using defaults")
			return Default(), nil
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	pkg.LogDebug(pkg.ComponentConfig, "configuration loaded", "path", path)
	return c, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrInvalidParameter, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result,
			fmt.Errorf("%w: "+format, append([]any{pkg.ErrInvalidParameter}, args...)...))
	}

	speed, err := device.ParseSpeed(c.Device.Speed)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if c.Device.Ports < 1 || c.Device.Ports > device.MaxClasses {
		add("device.ports %d not in 1..%d", c.Device.Ports, device.MaxClasses)
	}

	maxPacket := 64
	if speed == device.SpeedHigh {
		maxPacket = 512
	}
	p := &c.Port
	for _, f := range []struct {
		name  string
		value int
	}{
		{"rx_packet_size", p.RxPacketSize},
		{"tx_packet_size", p.TxPacketSize},
		{"command_packet_size", p.CommandPacketSize},
	} {
		if f.value < 1 || f.value > maxPacket {
			add("port.%s %d not in 1..%d", f.name, f.value, maxPacket)
		}
	}
	if p.RxBufferSize < 2*p.RxPacketSize {
		add("port.rx_buffer_size %d below twice rx_packet_size %d", p.RxBufferSize, p.RxPacketSize)
	}
	if p.TxBufferSize < 2 {
		add("port.tx_buffer_size %d below 2", p.TxBufferSize)
	}

	s := &c.Simulate
	if s.FramePeriod <= 0 {
		add("simulate.frame_period %v not positive", s.FramePeriod)
	}
	if s.Bytes < 0 {
		add("simulate.bytes %d negative", s.Bytes)
	}
	if s.PayloadSize < 1 || s.PayloadSize > p.RxPacketSize {
		add("simulate.payload_size %d not in 1..%d", s.PayloadSize, p.RxPacketSize)
	}
	if s.ReadStallFrames < 0 {
		add("simulate.read_stall_frames %d negative", s.ReadStallFrames)
	}

	if c.Serial.Baud <= 0 {
		add("serial.baud %d not positive", c.Serial.Baud)
	}
	if c.Serial.Timeout <= 0 {
		add("serial.timeout %v not positive", c.Serial.Timeout)
	}

	if _, err := pkg.ParseLogLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := c.LogFormat(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Speed returns the parsed device speed.
func (c *Config) Speed() device.Speed {
	s, err := device.ParseSpeed(c.Device.Speed)
	if err != nil {
		return device.SpeedFull
	}
	return s
}

// LogFormat returns the parsed log format.
func (c *Config) LogFormat() (pkg.LogFormat, error) {
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		return pkg.LogFormatText, nil
	case "json":
		return pkg.LogFormatJSON, nil
	default:
		return 0, fmt.Errorf("%w: log.format %q", pkg.ErrInvalidParameter, c.Log.Format)
	}
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// DefaultPath returns the user configuration file path, creating its
// directory if needed.
func DefaultPath() (string, error) {
	return xdg.ConfigFile(RelPath)
}
