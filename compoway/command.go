package compoway

import (
	"fmt"
)

// Area identifies a variable area of the controller's memory.
type Area uint8

const (
	// AreaMonitor holds read-only process values (variable types CE/8E).
	AreaMonitor Area = iota

	// AreaSetting holds operation-level settings (variable types C1/81).
	AreaSetting

	// AreaInitial holds initial-setting-level parameters (variable types
	// C3/83). Writes require the device to be in setting area 1.
	AreaInitial
)

// Element widths in ASCII hex characters. "C" variable types transfer
// double-word (32-bit) elements, "8" types word (16-bit) elements.
const (
	wideElementChars   = 8
	narrowElementChars = 4
)

// MaxElements is the per-transaction element cap for variable area reads and
// writes. Longer spans must be split across transactions.
const MaxElements = 8

// MaxEchoDataSize is the longest echo-back test payload the device accepts.
const MaxEchoDataSize = 200

// Code returns the two-character variable type code for the area. wide
// selects the double-word form.
func (a Area) Code(wide bool) string {
	switch a {
	case AreaMonitor:
		if wide {
			return "CE"
		}

		return "8E"
	case AreaSetting:
		if wide {
			return "C1"
		}

		return "81"
	case AreaInitial:
		if wide {
			return "C3"
		}

		return "83"
	default:
		return "??"
	}
}

func (a Area) String() string {
	switch a {
	case AreaMonitor:
		return "monitor"
	case AreaSetting:
		return "setting"
	case AreaInitial:
		return "initial"
	default:
		return fmt.Sprintf("area(%d)", uint8(a))
	}
}

// ElementChars returns the number of ASCII hex characters one element
// occupies on the wire for the given width.
func ElementChars(wide bool) int {
	if wide {
		return wideElementChars
	}

	return narrowElementChars
}

// Main request codes (MRC) and sub request codes (SRC) of the services this
// device implements.
const (
	mrcVariableArea byte = 1
	srcAreaRead     byte = 1
	srcAreaWrite    byte = 2

	mrcController byte = 5
	srcAttrRead   byte = 3

	mrcStatus     byte = 6
	srcStatusRead byte = 1

	mrcTest     byte = 8
	srcEchoBack byte = 1

	mrcOperation byte = 30
	srcOperation byte = 5
)

// Command is one service request: the MRC/SRC pair plus the ASCII parameter
// text that follows them inside the frame.
type Command struct {
	mrc byte
	src byte
	pdu []byte
}

// MRC returns the main request code.
func (c *Command) MRC() byte { return c.mrc }

// SRC returns the sub request code.
func (c *Command) SRC() byte { return c.src }

// PDU returns a copy of the full service text (MRC + SRC + parameters).
func (c *Command) PDU() []byte {
	out := make([]byte, len(c.pdu))
	copy(out, c.pdu)

	return out
}

func newCommand(mrc, src byte, paramLen int) *Command {
	pdu := make([]byte, 0, 4+paramLen)
	pdu = appendDec2(pdu, mrc)
	pdu = appendDec2(pdu, src)

	return &Command{mrc: mrc, src: src, pdu: pdu}
}

// NewReadCommand builds a variable area read ("0101") of count consecutive
// elements starting at addr.
func NewReadCommand(area Area, wide bool, addr uint16, count uint16) (*Command, error) {
	if count < 1 || count > MaxElements {
		return nil, fmt.Errorf("%w: element count %d out of range [1, %d]", ErrEncoding, count, MaxElements)
	}

	cmd := newCommand(mrcVariableArea, srcAreaRead, 2+4+2+4)
	cmd.pdu = append(cmd.pdu, area.Code(wide)...)
	cmd.pdu = appendHex(cmd.pdu, uint64(addr), 4)
	cmd.pdu = append(cmd.pdu, '0', '0') // bit position, always 00
	cmd.pdu = appendHex(cmd.pdu, uint64(count), 4)

	return cmd, nil
}

// ParseValues decodes the data section of a variable area read response into
// element values, sign-extending each from the element width. The data length
// must be an exact multiple of the element size.
func ParseValues(data []byte, wide bool) ([]int64, error) {
	chars := ElementChars(wide)
	if len(data) == 0 || len(data)%chars != 0 {
		return nil, fmt.Errorf("%w: read data length %d is not a multiple of %d",
			ErrProtocol, len(data), chars)
	}

	values := make([]int64, 0, len(data)/chars)
	for i := 0; i < len(data); i += chars {
		v, err := parseValue(data[i:i+chars], wide)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %w", ErrProtocol, len(values), err)
		}
		values = append(values, v)
	}

	return values, nil
}

// NewWriteCommand builds a variable area write ("0102") of the given values
// to consecutive elements starting at addr. Values are transferred in
// two's complement at the selected width.
func NewWriteCommand(area Area, wide bool, addr uint16, values []int64) (*Command, error) {
	if len(values) < 1 || len(values) > MaxElements {
		return nil, fmt.Errorf("%w: element count %d out of range [1, %d]", ErrEncoding, len(values), MaxElements)
	}
	for i, v := range values {
		if !valueInRange(v, wide) {
			return nil, fmt.Errorf("%w: value %d at element %d does not fit %d hex characters",
				ErrEncoding, v, i, ElementChars(wide))
		}
	}

	cmd := newCommand(mrcVariableArea, srcAreaWrite, 2+4+2+4+len(values)*ElementChars(wide))
	cmd.pdu = append(cmd.pdu, area.Code(wide)...)
	cmd.pdu = appendHex(cmd.pdu, uint64(addr), 4)
	cmd.pdu = append(cmd.pdu, '0', '0')
	cmd.pdu = appendHex(cmd.pdu, uint64(len(values)), 4)
	for _, v := range values {
		cmd.pdu = appendValue(cmd.pdu, v, wide)
	}

	return cmd, nil
}

// NewAttributeReadCommand builds a controller attribute read ("0503"). The
// response data carries the model string followed by the communications
// buffer size.
func NewAttributeReadCommand() *Command {
	return newCommand(mrcController, srcAttrRead, 0)
}

// NewStatusReadCommand builds a controller status read ("0601"). The
// response data carries the operating status byte and related information.
func NewStatusReadCommand() *Command {
	return newCommand(mrcStatus, srcStatusRead, 0)
}

// NewEchoBackCommand builds an echo-back test ("0801"). The device returns
// data unchanged. data may be empty; it is limited to printable ASCII so it
// cannot alias framing bytes.
func NewEchoBackCommand(data []byte) (*Command, error) {
	if len(data) > MaxEchoDataSize {
		return nil, fmt.Errorf("%w: echo data length %d exceeds maximum %d", ErrEncoding, len(data), MaxEchoDataSize)
	}
	for i, b := range data {
		if b < 0x20 || b > 0x7E {
			return nil, fmt.Errorf("%w: echo data byte 0x%02X at %d is not printable ASCII", ErrEncoding, b, i)
		}
	}

	cmd := newCommand(mrcTest, srcEchoBack, len(data))
	cmd.pdu = append(cmd.pdu, data...)

	return cmd, nil
}

// OperationCode selects an operation command ("3005") function.
type OperationCode uint8

const (
	// OpCommWriting enables (related info 01) or disables (00) writes to the
	// setting areas over communications.
	OpCommWriting OperationCode = 0x00

	// OpSoftReset restarts the controller.
	OpSoftReset OperationCode = 0x04

	// OpMoveToSettingArea1 switches the controller to setting area 1, where
	// initial-setting-level registers become writable.
	OpMoveToSettingArea1 OperationCode = 0x05
)

func (o OperationCode) String() string {
	switch o {
	case OpCommWriting:
		return "communications writing"
	case OpSoftReset:
		return "software reset"
	case OpMoveToSettingArea1:
		return "move to setting area 1"
	default:
		return fmt.Sprintf("operation(0x%02X)", uint8(o))
	}
}

// NewOperationCommand builds an operation command ("3005") with the given
// command code and related information byte.
func NewOperationCommand(code OperationCode, related uint8) *Command {
	cmd := newCommand(mrcOperation, srcOperation, 4)
	cmd.pdu = appendHex(cmd.pdu, uint64(code), 2)
	cmd.pdu = appendHex(cmd.pdu, uint64(related), 2)

	return cmd
}
