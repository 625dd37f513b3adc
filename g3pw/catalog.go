package g3pw

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/thermalworks/go-compoway/compoway"
)

// Catalog maps logical register names to descriptors. A catalog is immutable
// once built and safe for concurrent use.
type Catalog struct {
	regs    map[string]*RegisterDescriptor
	aliases map[string]string
}

// NewCatalog builds a catalog from the given descriptors and alias table.
// Every alias must point at a descriptor name; names must be unique.
func NewCatalog(regs []RegisterDescriptor, aliases map[string]string) (*Catalog, error) {
	c := &Catalog{
		regs:    make(map[string]*RegisterDescriptor, len(regs)),
		aliases: make(map[string]string, len(aliases)),
	}

	for i := range regs {
		d := regs[i]

		if d.Name == "" {
			return nil, fmt.Errorf("g3pw: register %d has no name", i)
		}
		if _, dup := c.regs[d.Name]; dup {
			return nil, fmt.Errorf("g3pw: duplicate register %q", d.Name)
		}
		if d.Scale <= 0 {
			return nil, fmt.Errorf("g3pw: register %q: scale %v must be positive", d.Name, d.Scale)
		}
		if d.Max < d.Min {
			return nil, fmt.Errorf("g3pw: register %q: range [%v, %v] is inverted", d.Name, d.Min, d.Max)
		}

		c.regs[d.Name] = &d
	}

	for alias, target := range aliases {
		if _, ok := c.regs[target]; !ok {
			return nil, fmt.Errorf("g3pw: alias %q points at unknown register %q", alias, target)
		}
		if _, ok := c.regs[alias]; ok {
			return nil, fmt.Errorf("g3pw: alias %q shadows a register", alias)
		}

		c.aliases[alias] = target
	}

	return c, nil
}

// Lookup resolves a logical name, following aliases, to its descriptor.
// The returned descriptor is shared and must not be modified.
func (c *Catalog) Lookup(name string) (*RegisterDescriptor, error) {
	if target, ok := c.aliases[name]; ok {
		name = target
	}

	d, ok := c.regs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegister, name)
	}

	return d, nil
}

// Names returns the sorted logical names of all registers, aliases excluded.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.regs))
	for name := range c.regs {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Len returns the number of registers in the catalog.
func (c *Catalog) Len() int { return len(c.regs) }

// monitorReg builds a read-only monitor value descriptor.
func monitorReg(name string, addr uint16, scale float64, unit string) RegisterDescriptor {
	return RegisterDescriptor{
		Name: name, Area: compoway.AreaMonitor, Address: addr,
		Scale: scale, Unit: unit, Access: AccessRO,
	}
}

// settingReg builds an operation-level setting descriptor with a physical
// write range.
func settingReg(name string, addr uint16, scale float64, unit string, minVal, maxVal float64) RegisterDescriptor {
	return RegisterDescriptor{
		Name: name, Area: compoway.AreaSetting, Address: addr,
		Scale: scale, Unit: unit, Access: AccessRW, Min: minVal, Max: maxVal,
	}
}

// initialReg builds an initial-setting-level descriptor for the enumerated
// and count-valued parameters, which are all integers on this device.
func initialReg(name string, addr uint16, minVal, maxVal float64) RegisterDescriptor {
	return RegisterDescriptor{
		Name: name, Area: compoway.AreaInitial, Address: addr,
		Scale: 1, Access: AccessRWInitial, Min: minVal, Max: maxVal, Integer: true,
	}
}

// initialScaledReg builds an initial-setting-level descriptor carrying a
// scaled physical value.
func initialScaledReg(name string, addr uint16, scale float64, unit string, minVal, maxVal float64) RegisterDescriptor {
	return RegisterDescriptor{
		Name: name, Area: compoway.AreaInitial, Address: addr,
		Scale: scale, Unit: unit, Access: AccessRWInitial, Min: minVal, Max: maxVal,
	}
}

// builtinRegisters is the register table of the G3PW communications manual.
// Most values travel ten times the physical value in one word; the status
// bitfield is the only double-word register.
var builtinRegisters = []RegisterDescriptor{
	// Monitor values.
	monitorReg("input_monitor", 0x0000, 0.1, "%"),
	monitorReg("internal_duty_monitor", 0x0001, 0.1, "%"),
	monitorReg("output_monitor", 0x0002, 0.1, "%"),
	monitorReg("phase_angle_monitor", 0x0003, 0.1, "deg"),
	monitorReg("current_monitor", 0x0004, 0.1, "A"),
	{Name: "total_run_time", Area: compoway.AreaMonitor, Address: 0x0005,
		Scale: 1, Unit: "h", Access: AccessRO, Integer: true},
	{Name: "status", Area: compoway.AreaMonitor, Address: 0x0006, Wide: true,
		Scale: 1, Access: AccessRO, Integer: true},
	monitorReg("heater_resistance", 0x0007, 0.1, "ohm"),
	monitorReg("version", 0x0014, 0.01, ""),

	// Operation-level settings.
	settingReg("main_setting_1", 0x0000, 0.1, "%", 0, 100),
	settingReg("main_setting_2", 0x0001, 0.1, "%", 0, 100),
	settingReg("main_setting_3", 0x0002, 0.1, "%", 0, 100),
	settingReg("main_setting_4", 0x0003, 0.1, "%", 0, 100),
	settingReg("main_setting_5", 0x0004, 0.1, "%", 0, 100),
	settingReg("main_setting_6", 0x0005, 0.1, "%", 0, 100),
	settingReg("main_setting_7", 0x0006, 0.1, "%", 0, 100),
	settingReg("main_setting_8", 0x0007, 0.1, "%", 0, 100),
	settingReg("internal_duty_setting", 0x0008, 0.1, "%", 0, 100),
	settingReg("base_up_value", 0x0009, 0.1, "%", 0, 100),
	settingReg("soft_start_up_time", 0x000A, 0.1, "s", 0, 99.9),
	settingReg("soft_start_down_time", 0x000B, 0.1, "s", 0, 99.9),
	settingReg("output_upper_limit", 0x000C, 0.1, "%", 0, 100),
	settingReg("output_lower_limit", 0x000D, 0.1, "%", 0, 100),
	{Name: "heater_burnout_threshold", Area: compoway.AreaSetting, Address: 0x000E,
		Scale: 1, Unit: "A", Access: AccessRW, Min: 0, Max: 50, Integer: true},
	settingReg("heater_resistance_phase", 0x000F, 0.1, "ohm", 0, 999.9),
	settingReg("heater_resistance_optimum", 0x0010, 0.1, "ohm", 0, 999.9),
	settingReg("heater_burnout_lower_limit", 0x0011, 0.1, "A", 0, 99.9),

	// Initial-setting-level parameters (writes require setting area 1).
	initialReg("comm_data_length", 0x0000, 7, 8),
	initialReg("comm_stop_bits", 0x0001, 1, 2),
	initialReg("comm_parity", 0x0002, 0, 2),
	initialReg("comm_send_wait_time", 0x0003, 1, 99),
	initialReg("comm_timeout", 0x0004, 0, 9999),
	initialReg("comm_unit_number", 0x0005, 0, 99),
	initialReg("comm_baud_rate", 0x0006, 0, 7),
	initialReg("main_setting_number", 0x0007, 1, 8),
	initialReg("external_duty_setting", 0x0008, 0, 1),
	initialReg("output_mode", 0x0009, 0, 1),
	initialScaledReg("input_filter_time_constant", 0x000A, 0.1, "s", 0, 99.9),
	initialReg("input_signal_type", 0x000B, 0, 3),
	initialReg("auto_input_selection", 0x000C, 0, 2),
	initialReg("manual_input_selection", 0x000D, 0, 2),
	initialReg("control_method", 0x000E, 0, 1),
	initialReg("auto_manual_default", 0x000F, 0, 1),
	initialReg("heater_burnout_alarm_count", 0x0010, 0, 99),
	initialScaledReg("load_current_upper_limit", 0x0011, 0.1, "A", 0, 99.9),
	initialReg("event_input_assignment", 0x0012, 0, 4),
	initialReg("alarm_output_open_in_alarm", 0x0013, 0, 1),
	initialReg("heater_burnout_alarm", 0x0014, 0, 2),
	initialReg("run_time_alarm", 0x0015, 0, 2),
	initialScaledReg("run_time_alarm_set_value", 0x0016, 0.1, "h", 0, 999.9),
	initialReg("external_input_range_alarm", 0x0017, 0, 2),
	initialReg("external_duty_input_alarm", 0x0018, 0, 2),
	initialReg("ssr_short_detection", 0x0019, 0, 1),
	initialReg("ssr_open_detection", 0x001A, 0, 1),
	initialReg("ct_failure_detection", 0x001B, 0, 1),
}

// builtinAliases carries the conventional OMRON names for common registers.
var builtinAliases = map[string]string{
	"present_value": "input_monitor",
	"main_setting":  "main_setting_1",
}

var defaultCatalog = func() *Catalog {
	c, err := NewCatalog(builtinRegisters, builtinAliases)
	if err != nil {
		panic("g3pw: built-in catalog: " + err.Error())
	}

	return c
}()

// DefaultCatalog returns the built-in register table. The catalog is shared;
// it is never modified after package initialization.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// catalogFile is the JSON shape accepted by LoadCatalog.
type catalogFile struct {
	Registers []registerJSON    `json:"registers"`
	Aliases   map[string]string `json:"aliases"`
}

type registerJSON struct {
	Name    string  `json:"name"`
	Area    string  `json:"area"`
	Address string  `json:"address"`
	Wide    bool    `json:"wide,omitempty"`
	Scale   float64 `json:"scale,omitempty"`
	Unit    string  `json:"unit,omitempty"`
	Access  string  `json:"access,omitempty"`
	Min     float64 `json:"min,omitempty"`
	Max     float64 `json:"max,omitempty"`
	Integer bool    `json:"integer,omitempty"`
}

// LoadCatalog reads a JSON register file and overlays it on the built-in
// table: entries with a known name replace the built-in descriptor, new
// names extend the catalog. The file may also add aliases.
//
// File shape:
//
//	{
//	  "registers": [
//	    {"name": "main_setting_1", "area": "setting", "address": "0000",
//	     "scale": 0.1, "unit": "%", "access": "rw", "min": 0, "max": 100}
//	  ],
//	  "aliases": {"setpoint": "main_setting_1"}
//	}
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("g3pw: decode catalog: %w", err)
	}

	merged := make([]RegisterDescriptor, len(builtinRegisters))
	index := make(map[string]int, len(builtinRegisters))

	for i, d := range builtinRegisters {
		merged[i] = d
		index[d.Name] = i
	}

	for _, jr := range file.Registers {
		d, err := jr.descriptor()
		if err != nil {
			return nil, err
		}

		if i, ok := index[d.Name]; ok {
			merged[i] = d
		} else {
			index[d.Name] = len(merged)
			merged = append(merged, d)
		}
	}

	aliases := make(map[string]string, len(builtinAliases)+len(file.Aliases))
	for alias, target := range builtinAliases {
		aliases[alias] = target
	}
	for alias, target := range file.Aliases {
		aliases[alias] = target
	}

	return NewCatalog(merged, aliases)
}

func (jr registerJSON) descriptor() (RegisterDescriptor, error) {
	var d RegisterDescriptor

	area, err := parseAreaName(jr.Area)
	if err != nil {
		return d, fmt.Errorf("g3pw: register %q: %w", jr.Name, err)
	}

	addr, err := strconv.ParseUint(strings.TrimPrefix(jr.Address, "0x"), 16, 16)
	if err != nil {
		return d, fmt.Errorf("g3pw: register %q: invalid address %q", jr.Name, jr.Address)
	}

	access, err := parseAccessName(jr.Access, area)
	if err != nil {
		return d, fmt.Errorf("g3pw: register %q: %w", jr.Name, err)
	}

	scale := jr.Scale
	if scale == 0 {
		scale = 1
	}

	return RegisterDescriptor{
		Name:    jr.Name,
		Area:    area,
		Address: uint16(addr),
		Wide:    jr.Wide,
		Scale:   scale,
		Unit:    jr.Unit,
		Access:  access,
		Min:     jr.Min,
		Max:     jr.Max,
		Integer: jr.Integer,
	}, nil
}

func parseAreaName(s string) (compoway.Area, error) {
	switch s {
	case "monitor":
		return compoway.AreaMonitor, nil
	case "setting":
		return compoway.AreaSetting, nil
	case "initial":
		return compoway.AreaInitial, nil
	default:
		return 0, fmt.Errorf("unknown area %q", s)
	}
}

// parseAccessName maps the access field; when empty, monitor registers are
// read-only and the setting areas default to their natural write level.
func parseAccessName(s string, area compoway.Area) (Access, error) {
	switch s {
	case "ro":
		return AccessRO, nil
	case "rw":
		return AccessRW, nil
	case "rw-initial":
		return AccessRWInitial, nil
	case "":
		switch area {
		case compoway.AreaMonitor:
			return AccessRO, nil
		case compoway.AreaInitial:
			return AccessRWInitial, nil
		default:
			return AccessRW, nil
		}
	default:
		return 0, fmt.Errorf("unknown access %q", s)
	}
}
