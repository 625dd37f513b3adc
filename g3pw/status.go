package g3pw

import (
	"fmt"
	"strings"
)

// Status is the decoded state of the controller's status register (monitor
// address 0006, double word). The low half carries latched error flags, the
// high half the operating state.
type Status struct {
	// Error flags (bits 0-6 and 8-11).
	HeaterBurnout      bool // heater burnout detected
	SSRShortCircuit    bool // SSR short circuit failure
	SSROpenFailure     bool // SSR open failure
	CTFailure          bool // current transformer failure
	RunTimeExceeded    bool // total run time alarm value exceeded
	ExternalInputError bool // external main setting input out of range
	ExternalDutyError  bool // external duty setting input out of range
	FrequencyError     bool // supply frequency out of range
	MainSettingError   bool // main setting input error
	DutySettingError   bool // duty setting input error
	MemoryError        bool // nonvolatile memory error

	// Operating state (bits 16-25).
	CommWriting      bool // communications writing enabled
	OutputOn         bool // run/stop output status
	EventInput       bool // event input on
	InitialSetting   bool // setting area 1 (initial setting level) active
	Manual           bool // manual main setting selected (automatic when false)
	OptimumCycle     bool // optimum cycle control (phase control when false)
	SoftStartActive  bool
	BaseUpActive     bool
	OutputLimited    bool // output held at the upper or lower limit
	BurnoutDetecting bool // heater burnout detection running

	// Raw is the register value the flags were decoded from.
	Raw uint32
}

// Status register bit positions. Bits 7 and 12-15 are unused.
const (
	statusHeaterBurnout = iota
	statusSSRShort
	statusSSROpen
	statusCTFailure
	statusRunTimeExceeded
	statusExternalInput
	statusExternalDuty
	_
	statusFrequency
	statusMainSetting
	statusDutySetting
	statusMemory
)

const (
	statusCommWriting = 16 + iota
	statusOutputOn
	statusEventInput
	statusInitialSetting
	statusManual
	statusOptimumCycle
	statusSoftStart
	statusBaseUp
	statusOutputLimited
	statusBurnoutDetecting
)

// ParseStatus decodes the raw status register value.
func ParseStatus(raw uint32) Status {
	bit := func(n int) bool { return raw>>n&1 == 1 }

	return Status{
		HeaterBurnout:      bit(statusHeaterBurnout),
		SSRShortCircuit:    bit(statusSSRShort),
		SSROpenFailure:     bit(statusSSROpen),
		CTFailure:          bit(statusCTFailure),
		RunTimeExceeded:    bit(statusRunTimeExceeded),
		ExternalInputError: bit(statusExternalInput),
		ExternalDutyError:  bit(statusExternalDuty),
		FrequencyError:     bit(statusFrequency),
		MainSettingError:   bit(statusMainSetting),
		DutySettingError:   bit(statusDutySetting),
		MemoryError:        bit(statusMemory),

		CommWriting:      bit(statusCommWriting),
		OutputOn:         bit(statusOutputOn),
		EventInput:       bit(statusEventInput),
		InitialSetting:   bit(statusInitialSetting),
		Manual:           bit(statusManual),
		OptimumCycle:     bit(statusOptimumCycle),
		SoftStartActive:  bit(statusSoftStart),
		BaseUpActive:     bit(statusBaseUp),
		OutputLimited:    bit(statusOutputLimited),
		BurnoutDetecting: bit(statusBurnoutDetecting),

		Raw: raw,
	}
}

// Faults returns the names of the error flags currently set, in bit order.
// An empty slice means the controller reports no errors.
func (s Status) Faults() []string {
	var faults []string

	add := func(set bool, name string) {
		if set {
			faults = append(faults, name)
		}
	}

	add(s.HeaterBurnout, "heater burnout")
	add(s.SSRShortCircuit, "SSR short circuit")
	add(s.SSROpenFailure, "SSR open failure")
	add(s.CTFailure, "CT failure")
	add(s.RunTimeExceeded, "total run time exceeded")
	add(s.ExternalInputError, "external input range error")
	add(s.ExternalDutyError, "external duty input error")
	add(s.FrequencyError, "frequency error")
	add(s.MainSettingError, "main setting input error")
	add(s.DutySettingError, "duty setting input error")
	add(s.MemoryError, "memory error")

	return faults
}

// OK reports whether no error flag is set.
func (s Status) OK() bool {
	return len(s.Faults()) == 0
}

// ControlMethod returns "optimum cycle" or "phase" per the control method bit.
func (s Status) ControlMethod() string {
	if s.OptimumCycle {
		return "optimum cycle"
	}

	return "phase"
}

// SettingArea returns 1 when the controller is at the initial setting level
// and 0 at the operation level.
func (s Status) SettingArea() int {
	if s.InitialSetting {
		return 1
	}

	return 0
}

func (s Status) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "status(0x%08X)", s.Raw)

	if s.OutputOn {
		b.WriteString(" output=run")
	} else {
		b.WriteString(" output=stop")
	}

	if s.Manual {
		b.WriteString(" setting=manual")
	} else {
		b.WriteString(" setting=auto")
	}

	fmt.Fprintf(&b, " control=%s area=%d", s.ControlMethod(), s.SettingArea())

	if faults := s.Faults(); len(faults) > 0 {
		fmt.Fprintf(&b, " faults=[%s]", strings.Join(faults, ", "))
	}

	return b.String()
}
