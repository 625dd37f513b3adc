package compoway

import "fmt"

// EndCode is the frame-level receive result reported by the device in every
// response (two ASCII hex characters after the sub-address).
type EndCode uint8

const (
	// EndNormal indicates the command frame was received and executed.
	EndNormal EndCode = 0x00

	// EndFINSError indicates the service request itself was rejected.
	EndFINSError EndCode = 0x0F

	// Receive-level errors: the device saw our command corrupted.
	EndParityError   EndCode = 0x10
	EndFramingError  EndCode = 0x11
	EndOverrunError  EndCode = 0x12
	EndBCCError      EndCode = 0x13
	EndFormatError   EndCode = 0x14
	EndSubAddrError  EndCode = 0x16
	EndFrameLenError EndCode = 0x18
)

// OK reports whether the end code indicates normal completion.
func (e EndCode) OK() bool {
	return e == EndNormal
}

// Retryable reports whether the end code indicates the device received the
// command corrupted, so re-sending the identical frame can succeed. Command
// construction errors (FINS error, sub-address error) are not retryable.
func (e EndCode) Retryable() bool {
	switch e {
	case EndParityError, EndFramingError, EndOverrunError, EndBCCError, EndFormatError, EndFrameLenError:
		return true
	default:
		return false
	}
}

func (e EndCode) String() string {
	switch e {
	case EndNormal:
		return "normal completion"
	case EndFINSError:
		return "FINS command error"
	case EndParityError:
		return "parity error"
	case EndFramingError:
		return "framing error"
	case EndOverrunError:
		return "overrun error"
	case EndBCCError:
		return "BCC error"
	case EndFormatError:
		return "format error"
	case EndSubAddrError:
		return "sub-address error"
	case EndFrameLenError:
		return "frame length error"
	default:
		return fmt.Sprintf("unknown end code 0x%02X", uint8(e))
	}
}

// EndCodeError reports a non-normal end code returned by the device.
type EndCodeError struct {
	Code EndCode
}

func (e *EndCodeError) Error() string {
	return fmt.Sprintf("compoway: device reported %s (end code 0x%02X)", e.Code, uint8(e.Code))
}

// ResultCode is the service-level completion code (four ASCII hex characters
// following the MRC/SRC echo).
type ResultCode uint16

const (
	ResultOK ResultCode = 0x0000

	ResultCommandTooLong  ResultCode = 0x1001
	ResultCommandTooShort ResultCode = 0x1002
	ResultCountMismatch   ResultCode = 0x1003
	ResultParameterError  ResultCode = 0x1100
	ResultAreaTypeError   ResultCode = 0x1101
	ResultResponseTooLong ResultCode = 0x110B
	ResultOperationError  ResultCode = 0x2203
)

// OK reports whether the result code indicates normal completion.
func (r ResultCode) OK() bool {
	return r == ResultOK
}

func (r ResultCode) String() string {
	switch r {
	case ResultOK:
		return "normal completion"
	case ResultCommandTooLong:
		return "command too long"
	case ResultCommandTooShort:
		return "command too short"
	case ResultCountMismatch:
		return "element count and data length mismatch"
	case ResultParameterError:
		return "parameter error"
	case ResultAreaTypeError:
		return "area type error"
	case ResultResponseTooLong:
		return "response too long"
	case ResultOperationError:
		return "operation error"
	default:
		return fmt.Sprintf("unknown result code 0x%04X", uint16(r))
	}
}

// ResultError reports a non-normal result code returned by the device.
// Result errors describe a rejected service request (wrong area, value out
// of the device's bounds, writes while communications writing is disabled),
// so transactions that produce one are never retried.
type ResultError struct {
	Code ResultCode
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("compoway: device rejected command: %s (result code 0x%04X)", e.Code, uint16(e.Code))
}
