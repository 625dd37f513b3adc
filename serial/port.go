package serial

import (
	"fmt"
	"sync/atomic"
	"time"

	bugst "go.bug.st/serial"

	"github.com/thermalworks/go-compoway/compoway"
)

// Port is an open serial port. It satisfies the compoway.Transport contract:
// Read returns (0, nil) when the read timeout expires with no data, and
// Flush discards buffered input.
type Port struct {
	device string
	port   bugst.Port
	closed atomic.Bool
}

var _ compoway.Transport = (*Port)(nil)

// Open opens the configured serial port.
func Open(cfg Config) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := cfg.withDefaults()

	mode, err := c.mode()
	if err != nil {
		return nil, err
	}

	p, err := bugst.Open(c.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", c.Device, err)
	}

	return newPort(c.Device, p), nil
}

func newPort(device string, p bugst.Port) *Port {
	return &Port{device: device, port: p}
}

// Device returns the port path this Port was opened with.
func (p *Port) Device() string { return p.device }

func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

func (p *Port) Write(buf []byte) (int, error) {
	return p.port.Write(buf)
}

// SetReadTimeout bounds subsequent Read calls. A Read that expires without
// data returns (0, nil).
func (p *Port) SetReadTimeout(d time.Duration) error {
	return p.port.SetReadTimeout(d)
}

// Flush discards unread input. Output is not touched; command frames are
// short and the driver writes them synchronously.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// Close closes the port and unblocks any pending Read. It is idempotent.
func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	if err := p.port.Close(); err != nil {
		return fmt.Errorf("serial: close %s: %w", p.device, err)
	}

	return nil
}
