package compoway

import (
	"fmt"
	"strconv"
)

const hexDigits = "0123456789ABCDEF"

// appendHex appends v as width upper-case ASCII hex characters.
func appendHex(dst []byte, v uint64, width int) []byte {
	for i := width - 1; i >= 0; i-- {
		dst = append(dst, hexDigits[(v>>(4*uint(i)))&0xF])
	}

	return dst
}

// appendDec2 appends v as two ASCII decimal digits. v must be <= 99.
func appendDec2(dst []byte, v uint8) []byte {
	return append(dst, '0'+v/10, '0'+v%10)
}

// parseDec2 parses two ASCII decimal digits.
func parseDec2(b []byte) (uint8, error) {
	if len(b) != 2 || b[0] < '0' || b[0] > '9' || b[1] < '0' || b[1] > '9' {
		return 0, fmt.Errorf("invalid decimal field %q", b)
	}

	return (b[0]-'0')*10 + (b[1] - '0'), nil
}

// parseHex parses a fixed-width ASCII hex field.
func parseHex(b []byte, width int) (uint64, error) {
	if len(b) != width {
		return 0, fmt.Errorf("hex field length %d, want %d", len(b), width)
	}
	v, err := strconv.ParseUint(string(b), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex field %q", b)
	}

	return v, nil
}

// appendValue appends a register value as ASCII hex in two's complement.
// Wide values occupy 8 characters (32-bit), narrow values 4 (16-bit).
func appendValue(dst []byte, v int64, wide bool) []byte {
	if wide {
		return appendHex(dst, uint64(uint32(v)), wideElementChars)
	}

	return appendHex(dst, uint64(uint16(v)), narrowElementChars)
}

// parseValue parses one ASCII-hex register element, sign-extending from the
// element's two's-complement width.
func parseValue(b []byte, wide bool) (int64, error) {
	if wide {
		v, err := parseHex(b, wideElementChars)
		if err != nil {
			return 0, err
		}

		return int64(int32(uint32(v))), nil
	}

	v, err := parseHex(b, narrowElementChars)
	if err != nil {
		return 0, err
	}

	return int64(int16(uint16(v))), nil
}

// valueInRange reports whether v fits the two's-complement width of an
// element. Unsigned raw values up to the width's bit size are also accepted
// so bitfield registers can round-trip.
func valueInRange(v int64, wide bool) bool {
	if wide {
		return v >= -(1<<31) && v < (1<<32)
	}

	return v >= -(1<<15) && v < (1<<16)
}
