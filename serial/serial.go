package serial

import (
	"errors"
	"fmt"

	bugst "go.bug.st/serial"
)

// Parity selects the parity bit mode of the port.
type Parity string

const (
	ParityNone Parity = "none"
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

// Factory communication settings of the G3PW family: 57600 baud, 7 data
// bits, even parity, 2 stop bits.
const (
	DefaultBaudRate = 57600
	DefaultDataBits = 7
	DefaultStopBits = 2
	DefaultParity   = ParityEven
)

// Config holds the parameters for opening a serial port. The zero value of
// every field except Device selects the controller's factory default, so a
// Config can be loaded from JSON with only the fields that differ.
type Config struct {
	// Device is the port path, e.g. "/dev/ttyUSB0" or "COM3".
	Device string `json:"device"`

	// BaudRate must match the controller's communication speed setting.
	BaudRate int `json:"baud_rate,omitempty"`

	// DataBits is the character length, 7 or 8.
	DataBits int `json:"data_bits,omitempty"`

	// Parity is "none", "odd" or "even".
	Parity Parity `json:"parity,omitempty"`

	// StopBits is 1 or 2.
	StopBits int `json:"stop_bits,omitempty"`
}

// Supported baud rates of the controller's RS-485 interface.
var baudRates = map[int]bool{
	1200:   true,
	2400:   true,
	4800:   true,
	9600:   true,
	19200:  true,
	38400:  true,
	57600:  true,
	115200: true,
}

// withDefaults returns a copy of cfg with zero-valued fields replaced by the
// factory defaults.
func (cfg Config) withDefaults() Config {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = DefaultDataBits
	}
	if cfg.Parity == "" {
		cfg.Parity = DefaultParity
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = DefaultStopBits
	}

	return cfg
}

// Validate reports the first problem with the configuration, after defaults
// are applied.
func (cfg Config) Validate() error {
	c := cfg.withDefaults()

	if c.Device == "" {
		return errors.New("serial: device path is required")
	}
	if !baudRates[c.BaudRate] {
		return fmt.Errorf("serial: unsupported baud rate %d", c.BaudRate)
	}
	if c.DataBits != 7 && c.DataBits != 8 {
		return fmt.Errorf("serial: data bits must be 7 or 8, got %d", c.DataBits)
	}
	if _, err := c.Parity.mode(); err != nil {
		return err
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("serial: stop bits must be 1 or 2, got %d", c.StopBits)
	}

	return nil
}

// mode maps the parity name onto the underlying driver's constant.
func (p Parity) mode() (bugst.Parity, error) {
	switch p {
	case ParityNone:
		return bugst.NoParity, nil
	case ParityOdd:
		return bugst.OddParity, nil
	case ParityEven:
		return bugst.EvenParity, nil
	default:
		return bugst.NoParity, fmt.Errorf("serial: unknown parity %q", string(p))
	}
}

// mode assembles the driver mode for the validated configuration.
func (cfg Config) mode() (*bugst.Mode, error) {
	c := cfg.withDefaults()

	parity, err := c.Parity.mode()
	if err != nil {
		return nil, err
	}

	stopBits := bugst.OneStopBit
	if c.StopBits == 2 {
		stopBits = bugst.TwoStopBits
	}

	return &bugst.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}
