package g3pw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/thermalworks/go-compoway/compoway"
	"github.com/thermalworks/go-compoway/logger"
	"github.com/thermalworks/go-compoway/serial"
)

// modelPrefix is how the controller identifies itself in the attribute read.
const modelPrefix = "G3PW"

// attrTrailerChars is the communications buffer size field at the end of the
// controller attribute data (4 ASCII hex characters after the model string).
const attrTrailerChars = 4

// Reading is one observed register value.
type Reading struct {
	// Name is the canonical register name (aliases resolved).
	Name string

	// Value is the physical value, Raw the wire count it was scaled from.
	Value float64
	Raw   int64

	// At is when the response was decoded.
	At time.Time
}

// Monitors is one coalesced snapshot of the six monitor values the
// controller updates every control cycle, read in a single transaction.
type Monitors struct {
	Input        float64 // input setting, %
	InternalDuty float64 // internal duty setting, %
	Output       float64 // output level, %
	PhaseAngle   float64 // firing phase angle, degrees
	Current      float64 // load current, A
	TotalRunTime float64 // accumulated run time, h

	// At is when the snapshot was taken.
	At time.Time
}

// monitorSpan names the registers of the coalesced Monitors read, in address
// order starting at monitor address 0000.
var monitorSpan = []string{
	"input_monitor",
	"internal_duty_monitor",
	"output_monitor",
	"phase_angle_monitor",
	"current_monitor",
	"total_run_time",
}

// Client is a typed G3PW client over one CompoWay/F connection.
//
// All methods are safe for concurrent use; transactions serialize on the
// underlying connection, so concurrent calls block each other rather than
// interleave on the wire.
type Client struct {
	conn    *compoway.Conn
	catalog *Catalog
	logger  logger.Logger

	mu    sync.RWMutex
	model string

	readings *xsync.MapOf[string, Reading]
}

// Connect opens the configured serial port, verifies the controller
// identifies itself as a G3PW (unless cfg.SkipModelCheck is set), and
// returns a ready Client. On any failure the port is closed before the
// error is returned.
func Connect(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("g3pw: config is nil")
	}

	port, err := serial.Open(cfg.serialConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", compoway.ErrConnection, err)
	}

	client, err := NewClient(port, cfg)
	if err != nil {
		_ = port.Close()

		return nil, err
	}

	if !cfg.SkipModelCheck {
		if err := client.checkModel(ctx); err != nil {
			_ = client.Close()

			return nil, err
		}
	}

	client.logger.Debug("g3pw: connected",
		"device", cfg.Device,
		"unit", client.Unit(),
		"model", client.ModelName(),
	)

	return client, nil
}

// checkModel verifies the connected controller identifies itself as a G3PW.
func (c *Client) checkModel(ctx context.Context) error {
	model, err := c.Model(ctx)
	if err != nil {
		return fmt.Errorf("g3pw: verify model: %w", err)
	}

	if !strings.HasPrefix(model, modelPrefix) {
		return fmt.Errorf("%w: device reports %q", ErrModelMismatch, model)
	}

	return nil
}

// NewClient builds a Client over a caller-supplied transport. The serial
// line fields of cfg are ignored; a nil cfg selects all defaults. The
// transport is owned by the client after this call.
func NewClient(t compoway.Transport, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	unit, err := cfg.unit()
	if err != nil {
		return nil, err
	}

	connCfg, err := compoway.NewConnConfig(unit, cfg.connOptions()...)
	if err != nil {
		return nil, err
	}

	conn, err := compoway.NewConn(t, connCfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:     conn,
		catalog:  cfg.catalog(),
		logger:   cfg.log(),
		readings: xsync.NewMapOf[string, Reading](),
	}, nil
}

// Unit returns the unit number the client addresses.
func (c *Client) Unit() uint8 { return c.conn.Unit() }

// Catalog returns the register catalog the client resolves names against.
func (c *Client) Catalog() *Catalog { return c.catalog }

// Metrics returns the underlying connection's transaction metrics.
func (c *Client) Metrics() *compoway.ConnectionMetrics { return c.conn.Metrics() }

// Close releases the connection and its transport. It is idempotent.
func (c *Client) Close() error { return c.conn.Close() }

// Read reads one register by logical name and returns its physical value.
func (c *Client) Read(ctx context.Context, name string) (float64, error) {
	d, err := c.catalog.Lookup(name)
	if err != nil {
		return 0, err
	}

	raw, err := c.readElement(ctx, d)
	if err != nil {
		return 0, fmt.Errorf("g3pw: read %s: %w", d.Name, err)
	}

	return c.record(d, raw), nil
}

// ReadRaw reads one register by logical name and returns the unscaled wire
// count.
func (c *Client) ReadRaw(ctx context.Context, name string) (int64, error) {
	d, err := c.catalog.Lookup(name)
	if err != nil {
		return 0, err
	}

	raw, err := c.readElement(ctx, d)
	if err != nil {
		return 0, fmt.Errorf("g3pw: read %s: %w", d.Name, err)
	}

	c.record(d, raw)

	return raw, nil
}

// Write converts value to the register's wire count and writes it. The value
// is checked against the register's documented range before any wire
// traffic; read-only registers fail with ErrReadOnly.
//
// Writes to the setting areas require communications writing to be enabled
// (SetCommWriting); the controller rejects them with an operation error
// otherwise.
func (c *Client) Write(ctx context.Context, name string, value float64) error {
	d, err := c.catalog.Lookup(name)
	if err != nil {
		return err
	}

	if !d.Writable() {
		return fmt.Errorf("%w: %s", ErrReadOnly, d.Name)
	}

	raw, err := d.Raw(value)
	if err != nil {
		return err
	}

	if err := c.writeElement(ctx, d, raw); err != nil {
		return fmt.Errorf("g3pw: write %s: %w", d.Name, err)
	}

	return nil
}

// WriteRaw writes an unscaled wire count to the register, bypassing the
// physical range check. The count must still fit the register's element
// width.
func (c *Client) WriteRaw(ctx context.Context, name string, raw int64) error {
	d, err := c.catalog.Lookup(name)
	if err != nil {
		return err
	}

	if !d.Writable() {
		return fmt.Errorf("%w: %s", ErrReadOnly, d.Name)
	}

	if err := c.writeElement(ctx, d, raw); err != nil {
		return fmt.Errorf("g3pw: write %s: %w", d.Name, err)
	}

	return nil
}

// Monitors reads the six monitor registers starting at address 0000 in one
// transaction and returns the scaled snapshot.
func (c *Client) Monitors(ctx context.Context) (*Monitors, error) {
	cmd, err := compoway.NewReadCommand(compoway.AreaMonitor, false, 0x0000, uint16(len(monitorSpan)))
	if err != nil {
		return nil, err
	}

	resp, err := c.conn.Execute(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("g3pw: read monitors: %w", err)
	}

	values, err := compoway.ParseValues(resp.Data, false)
	if err != nil {
		return nil, fmt.Errorf("g3pw: read monitors: %w", err)
	}
	if len(values) != len(monitorSpan) {
		return nil, fmt.Errorf("g3pw: read monitors: %w: got %d elements, want %d",
			compoway.ErrProtocol, len(values), len(monitorSpan))
	}

	phys := make([]float64, len(values))

	for i, name := range monitorSpan {
		d, err := c.catalog.Lookup(name)
		if err != nil {
			return nil, err
		}

		phys[i] = c.record(d, values[i])
	}

	m := &Monitors{
		Input:        phys[0],
		InternalDuty: phys[1],
		Output:       phys[2],
		PhaseAngle:   phys[3],
		Current:      phys[4],
		TotalRunTime: phys[5],
		At:           time.Now(),
	}

	return m, nil
}

// Status reads and decodes the controller's status register.
func (c *Client) Status(ctx context.Context) (Status, error) {
	d, err := c.catalog.Lookup("status")
	if err != nil {
		return Status{}, err
	}

	raw, err := c.readElement(ctx, d)
	if err != nil {
		return Status{}, fmt.Errorf("g3pw: read status: %w", err)
	}

	return ParseStatus(uint32(raw)), nil
}

// Model performs a controller attribute read and returns the model string,
// trailing padding trimmed. The communications buffer size field following
// the model is discarded.
func (c *Client) Model(ctx context.Context) (string, error) {
	resp, err := c.conn.Execute(ctx, compoway.NewAttributeReadCommand())
	if err != nil {
		return "", fmt.Errorf("g3pw: attribute read: %w", err)
	}

	if len(resp.Data) < attrTrailerChars {
		return "", fmt.Errorf("g3pw: attribute read: %w: data too short (%d bytes)",
			compoway.ErrProtocol, len(resp.Data))
	}

	model := strings.TrimRight(string(resp.Data[:len(resp.Data)-attrTrailerChars]), " ")

	c.mu.Lock()
	c.model = model
	c.mu.Unlock()

	return model, nil
}

// ModelName returns the model string from the most recent attribute read,
// or "" when none has completed yet.
func (c *Client) ModelName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.model
}

// OperatingStatus performs a controller status read and returns the
// operating status byte (0x00 operating, 0x01 stopped).
func (c *Client) OperatingStatus(ctx context.Context) (byte, error) {
	resp, err := c.conn.Execute(ctx, compoway.NewStatusReadCommand())
	if err != nil {
		return 0, fmt.Errorf("g3pw: status read: %w", err)
	}

	if len(resp.Data) < 2 {
		return 0, fmt.Errorf("g3pw: status read: %w: data too short (%d bytes)",
			compoway.ErrProtocol, len(resp.Data))
	}

	v, err := strconv.ParseUint(string(resp.Data[:2]), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("g3pw: status read: %w: invalid status field %q",
			compoway.ErrProtocol, resp.Data[:2])
	}

	return byte(v), nil
}

// EchoTest sends data through the controller's echo-back service and
// verifies it comes back unchanged. It exercises the full line without
// touching any register.
func (c *Client) EchoTest(ctx context.Context, data []byte) error {
	cmd, err := compoway.NewEchoBackCommand(data)
	if err != nil {
		return err
	}

	resp, err := c.conn.Execute(ctx, cmd)
	if err != nil {
		return fmt.Errorf("g3pw: echo-back test: %w", err)
	}

	if !bytes.Equal(resp.Data, data) {
		return fmt.Errorf("g3pw: echo-back test: %w: sent %q, got %q",
			compoway.ErrProtocol, data, resp.Data)
	}

	return nil
}

// SetCommWriting enables or disables writes to the setting areas over
// communications. The controller powers up with writing disabled.
func (c *Client) SetCommWriting(ctx context.Context, enable bool) error {
	var related uint8
	if enable {
		related = 1
	}

	if err := c.operation(ctx, compoway.OpCommWriting, related); err != nil {
		return err
	}

	c.logger.Debug("g3pw: communications writing changed", "enabled", enable)

	return nil
}

// SoftReset restarts the controller. Communications settings take effect on
// restart, so the line may need to be reopened with new parameters after a
// reset that follows communication setting changes.
func (c *Client) SoftReset(ctx context.Context) error {
	return c.operation(ctx, compoway.OpSoftReset, 0)
}

// MoveToSettingArea1 switches the controller to setting area 1, making the
// initial-setting-level registers writable. The controller stops control
// output while in setting area 1 and returns to operation only through a
// reset or power cycle.
func (c *Client) MoveToSettingArea1(ctx context.Context) error {
	return c.operation(ctx, compoway.OpMoveToSettingArea1, 0)
}

// SetMainSetting writes the communications main setting 1, the register
// driving the output when the main setting source is communications.
func (c *Client) SetMainSetting(ctx context.Context, value float64) error {
	return c.Write(ctx, "main_setting_1", value)
}

// LastReading returns the most recent reading of the named register, alias
// names resolved. It never touches the wire.
func (c *Client) LastReading(name string) (Reading, bool) {
	d, err := c.catalog.Lookup(name)
	if err != nil {
		return Reading{}, false
	}

	return c.readings.Load(d.Name)
}

// Readings returns a snapshot of the most recent reading of every register
// observed so far.
func (c *Client) Readings() map[string]Reading {
	out := make(map[string]Reading, c.readings.Size())

	c.readings.Range(func(name string, r Reading) bool {
		out[name] = r

		return true
	})

	return out
}

// readElement reads a single element of the register.
func (c *Client) readElement(ctx context.Context, d *RegisterDescriptor) (int64, error) {
	cmd, err := compoway.NewReadCommand(d.Area, d.Wide, d.Address, 1)
	if err != nil {
		return 0, err
	}

	resp, err := c.conn.Execute(ctx, cmd)
	if err != nil {
		return 0, err
	}

	values, err := compoway.ParseValues(resp.Data, d.Wide)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("%w: got %d elements, want 1", compoway.ErrProtocol, len(values))
	}

	return values[0], nil
}

// writeElement writes a single element of the register.
func (c *Client) writeElement(ctx context.Context, d *RegisterDescriptor, raw int64) error {
	cmd, err := compoway.NewWriteCommand(d.Area, d.Wide, d.Address, []int64{raw})
	if err != nil {
		return err
	}

	_, err = c.conn.Execute(ctx, cmd)

	return err
}

// operation executes an operation command ("3005").
func (c *Client) operation(ctx context.Context, code compoway.OperationCode, related uint8) error {
	_, err := c.conn.Execute(ctx, compoway.NewOperationCommand(code, related))
	if err != nil {
		return fmt.Errorf("g3pw: %s: %w", code, err)
	}

	return nil
}

// record caches the reading and returns the physical value.
func (c *Client) record(d *RegisterDescriptor, raw int64) float64 {
	phys := d.Physical(raw)

	c.readings.Store(d.Name, Reading{
		Name:  d.Name,
		Value: phys,
		Raw:   raw,
		At:    time.Now(),
	})

	return phys
}
