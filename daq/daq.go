// Package daq manages a fleet of named G3PW power controllers.
//
// Each controller hangs off its own serial port with its own connection;
// the Manager is a registry plus fan-out helpers, not bus arbitration.
// Data acquisition loops address controllers by name and read or write
// registers without holding client handles themselves.
package daq

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/thermalworks/go-compoway/g3pw"
	"github.com/thermalworks/go-compoway/logger"
)

// Errors reported by the device registry.
var (
	// ErrDeviceExists reports an Add with a name that is already registered.
	ErrDeviceExists = errors.New("daq: device already registered")

	// ErrDeviceNotFound reports an operation on a name that is not registered.
	ErrDeviceNotFound = errors.New("daq: device not found")
)

// ConnectFunc dials one controller. It exists so tests and embedders can
// substitute the transport; the default is g3pw.Connect.
type ConnectFunc func(ctx context.Context, cfg *g3pw.Config) (*g3pw.Client, error)

// Manager is a concurrency-safe registry of named controllers.
type Manager struct {
	connect ConnectFunc
	devices *xsync.MapOf[string, *g3pw.Client]
	logger  logger.Logger
}

// NewManager creates an empty registry. A nil connect selects g3pw.Connect.
func NewManager(connect ConnectFunc) *Manager {
	if connect == nil {
		connect = g3pw.Connect
	}

	return &Manager{
		connect: connect,
		devices: xsync.NewMapOf[string, *g3pw.Client](),
		logger:  logger.GetLogger(),
	}
}

// Add dials the controller described by cfg and registers it under name.
// The name must be unused; on a duplicate the fresh connection is closed
// and ErrDeviceExists returned.
func (m *Manager) Add(ctx context.Context, name string, cfg *g3pw.Config) (*g3pw.Client, error) {
	if name == "" {
		return nil, errors.New("daq: device name is empty")
	}
	if _, ok := m.devices.Load(name); ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceExists, name)
	}

	client, err := m.connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("daq: connect %q: %w", name, err)
	}

	if _, loaded := m.devices.LoadOrStore(name, client); loaded {
		_ = client.Close()

		return nil, fmt.Errorf("%w: %q", ErrDeviceExists, name)
	}

	m.logger.Debug("daq: device added", "name", name, "unit", client.Unit())

	return client, nil
}

// Remove unregisters the named controller and closes its connection.
func (m *Manager) Remove(name string) error {
	client, ok := m.devices.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}

	m.logger.Debug("daq: device removed", "name", name)

	return client.Close()
}

// Device returns the named controller's client.
func (m *Manager) Device(name string) (*g3pw.Client, error) {
	client, ok := m.devices.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}

	return client, nil
}

// Names returns the registered device names in sorted order.
func (m *Manager) Names() []string {
	names := make([]string, 0, m.devices.Size())

	m.devices.Range(func(name string, _ *g3pw.Client) bool {
		names = append(names, name)

		return true
	})
	sort.Strings(names)

	return names
}

// Len returns the number of registered devices.
func (m *Manager) Len() int { return m.devices.Size() }

// Read reads one register from the named controller.
func (m *Manager) Read(ctx context.Context, device, register string) (float64, error) {
	client, err := m.Device(device)
	if err != nil {
		return 0, err
	}

	return client.Read(ctx, register)
}

// Write writes one register on the named controller.
func (m *Manager) Write(ctx context.Context, device, register string, value float64) error {
	client, err := m.Device(device)
	if err != nil {
		return err
	}

	return client.Write(ctx, register, value)
}

// ReadAll reads one register from every registered controller. The map holds
// the values that were read; failed devices are absent from it and their
// errors, each tagged with the device name, are joined into the returned
// error. Devices removed mid-iteration are skipped.
func (m *Manager) ReadAll(ctx context.Context, register string) (map[string]float64, error) {
	out := make(map[string]float64, m.devices.Size())

	var errs []error

	for _, name := range m.Names() {
		client, err := m.Device(name)
		if err != nil {
			continue
		}

		v, err := client.Read(ctx, register)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))

			continue
		}

		out[name] = v
	}

	return out, errors.Join(errs...)
}

// MonitorsAll takes a monitor snapshot of every registered controller, with
// the same partial-result contract as ReadAll.
func (m *Manager) MonitorsAll(ctx context.Context) (map[string]*g3pw.Monitors, error) {
	out := make(map[string]*g3pw.Monitors, m.devices.Size())

	var errs []error

	for _, name := range m.Names() {
		client, err := m.Device(name)
		if err != nil {
			continue
		}

		monitors, err := client.Monitors(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))

			continue
		}

		out[name] = monitors
	}

	return out, errors.Join(errs...)
}

// SetMainSetting writes the communications main setting of the named
// controllers, or of every controller when no name is given. Communications
// writing must be enabled on each controller first.
func (m *Manager) SetMainSetting(ctx context.Context, setpoint float64, names ...string) error {
	if len(names) == 0 {
		names = m.Names()
	}

	var errs []error

	for _, name := range names {
		client, err := m.Device(name)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if err := client.SetMainSetting(ctx, setpoint); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// Close closes every registered controller and empties the registry.
func (m *Manager) Close() error {
	var errs []error

	m.devices.Range(func(name string, client *g3pw.Client) bool {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}

		return true
	})
	m.devices.Clear()

	return errors.Join(errs...)
}
