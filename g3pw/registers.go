package g3pw

import (
	"errors"
	"fmt"
	"math"

	"github.com/thermalworks/go-compoway/compoway"
)

// Errors reported by register resolution and value conversion.
var (
	// ErrUnknownRegister reports a logical name absent from the catalog.
	ErrUnknownRegister = errors.New("g3pw: unknown register")

	// ErrRange reports a physical value outside the register's documented
	// domain. Range failures are detected before any wire traffic.
	ErrRange = errors.New("g3pw: value out of range")

	// ErrReadOnly reports a write to a monitor register.
	ErrReadOnly = errors.New("g3pw: register is read-only")

	// ErrModelMismatch reports that the connected controller did not
	// identify itself as a G3PW.
	ErrModelMismatch = errors.New("g3pw: controller is not a G3PW")
)

// Access classifies who may write a register.
type Access uint8

const (
	// AccessRO marks monitor values the controller computes.
	AccessRO Access = iota

	// AccessRW marks operation-level settings writable at any time while
	// communications writing is enabled.
	AccessRW

	// AccessRWInitial marks initial-setting-level parameters, writable only
	// after the controller is moved to setting area 1.
	AccessRWInitial
)

func (a Access) String() string {
	switch a {
	case AccessRO:
		return "ro"
	case AccessRW:
		return "rw"
	case AccessRWInitial:
		return "rw-initial"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// RegisterDescriptor describes one logical register of the controller.
// Descriptors are immutable once a catalog is built and are shared read-only
// by all transactions.
type RegisterDescriptor struct {
	// Name is the logical snake_case identifier.
	Name string

	// Area and Address locate the register; Wide selects the double-word
	// variable types (CE/C1/C3) over the word types (8E/81/83).
	Area    compoway.Area
	Address uint16
	Wide    bool

	// Scale converts raw counts to physical units: physical = raw * Scale.
	Scale float64

	// Unit is the display unit of the physical value, informational only.
	Unit string

	// Access classifies writability.
	Access Access

	// Min and Max bound the physical value on writes. They are ignored
	// unless Max > Min; monitor registers leave them zero.
	Min float64
	Max float64

	// Integer marks registers whose physical domain is integral (counts
	// and enumerated selections).
	Integer bool
}

// Writable reports whether the register accepts variable area writes.
func (d *RegisterDescriptor) Writable() bool {
	return d.Access != AccessRO
}

// Physical converts a raw register count to the physical value.
func (d *RegisterDescriptor) Physical(raw int64) float64 {
	return float64(raw) * d.Scale
}

// Raw converts a physical value to the raw register count, enforcing the
// register's documented range, integer domain, and element width.
func (d *RegisterDescriptor) Raw(phys float64) (int64, error) {
	if math.IsNaN(phys) || math.IsInf(phys, 0) {
		return 0, fmt.Errorf("%w: %s: value is not finite", ErrRange, d.Name)
	}
	if d.Max > d.Min && (phys < d.Min || phys > d.Max) {
		return 0, fmt.Errorf("%w: %s: %v outside [%v, %v]", ErrRange, d.Name, phys, d.Min, d.Max)
	}
	if d.Integer && phys != math.Trunc(phys) {
		return 0, fmt.Errorf("%w: %s: %v is not an integer", ErrRange, d.Name, phys)
	}

	raw := int64(math.Round(phys / d.Scale))

	lo, hi := int64(math.MinInt16), int64(math.MaxInt16)
	if d.Wide {
		lo, hi = math.MinInt32, math.MaxInt32
	}
	if raw < lo || raw > hi {
		return 0, fmt.Errorf("%w: %s: %v does not fit a %d-character element",
			ErrRange, d.Name, phys, compoway.ElementChars(d.Wide))
	}

	return raw, nil
}
