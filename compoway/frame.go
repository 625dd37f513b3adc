package compoway

import (
	"bytes"
	"fmt"
)

// CompoWay/F framing bytes.
const (
	// STX marks the start of every frame.
	STX byte = 0x02

	// ETX terminates the frame text; the BCC follows it immediately.
	ETX byte = 0x03
)

// MaxUnit is the highest addressable unit number. The node number field is
// two ASCII decimal digits.
const MaxUnit = 99

// MaxFrameSize bounds a single wire frame, command or response. The largest
// legal exchange (a full coalesced read of wide elements) stays well inside
// this; anything longer is line garbage.
const MaxFrameSize = 256

// respHeaderSize is the fixed response prefix after STX:
// node (2) + sub-address (2) + end code (2).
const respHeaderSize = 6

// svcHeaderSize is the response service prefix: MRC (2) + SRC (2) +
// result code (4).
const svcHeaderSize = 8

// Sub-address and SID are fixed on this device family.
const (
	defaultSID byte = '0'
)

var defaultSubAddress = []byte("00")

// bcc computes the block check character: XOR of every byte after STX up to
// and including ETX.
func bcc(data []byte) byte {
	var c byte
	for _, v := range data {
		c ^= v
	}

	return c
}

// EncodeFrame serializes a command frame for the given unit:
//
//	[STX][node(2)][sub-address "00"][SID '0'][service PDU][ETX][BCC]
//
// The node number is rendered as two ASCII decimal digits. pdu must be the
// full service text starting with MRC/SRC and must not contain framing bytes.
func EncodeFrame(unit uint8, pdu []byte) ([]byte, error) {
	if unit > MaxUnit {
		return nil, fmt.Errorf("%w: unit %d exceeds maximum %d", ErrEncoding, unit, MaxUnit)
	}
	if len(pdu) < 4 {
		return nil, fmt.Errorf("%w: service PDU too short (%d bytes)", ErrEncoding, len(pdu))
	}
	if i := bytes.IndexAny(pdu, "\x02\x03"); i >= 0 {
		return nil, fmt.Errorf("%w: service PDU contains framing byte 0x%02X", ErrEncoding, pdu[i])
	}

	wireLen := 1 + 2 + len(defaultSubAddress) + 1 + len(pdu) + 2
	if wireLen > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d exceeds maximum %d", ErrEncoding, wireLen, MaxFrameSize)
	}

	buf := make([]byte, 0, wireLen)
	buf = append(buf, STX)
	buf = appendDec2(buf, unit)
	buf = append(buf, defaultSubAddress...)
	buf = append(buf, defaultSID)
	buf = append(buf, pdu...)
	buf = append(buf, ETX)
	buf = append(buf, bcc(buf[1:]))

	return buf, nil
}

// Response is a decoded CompoWay/F response frame.
type Response struct {
	// Node is the responding unit number.
	Node uint8

	// SubAddress echoes the two-character sub-address ("00" on this device).
	SubAddress string

	// EndCode is the frame-level receive result.
	EndCode EndCode

	// MRC and SRC echo the command's service codes. They are zero when the
	// device rejected the frame before parsing the service text (EndCode
	// reports the reason in that case).
	MRC byte
	SRC byte

	// Result is the service-level completion code. It is only meaningful
	// when EndCode is EndNormal.
	Result ResultCode

	// Data holds the ASCII payload following the result code.
	Data []byte
}

// ParseResponse locates and decodes one response frame in data.
//
// Leading bytes before STX are treated as line noise and skipped. On success
// the remainder after the frame's BCC is returned so callers can detect and
// discard trailing noise.
//
// ParseResponse validates:
//   - A complete [STX]...[ETX][BCC] envelope is present (ErrIncomplete when
//     the tail has not arrived yet, ErrFraming when the envelope is
//     malformed or oversized).
//   - The BCC matches (ErrChecksum).
//   - The header fields parse and, for a normally completed frame, the
//     service section is present (ErrFraming).
func ParseResponse(data []byte) (*Response, []byte, error) {
	start := bytes.IndexByte(data, STX)
	if start < 0 {
		return nil, nil, fmt.Errorf("%w: no frame start in %d bytes", ErrIncomplete, len(data))
	}

	frame := data[start:]

	etx := bytes.IndexByte(frame, ETX)
	if etx < 0 {
		if len(frame) > MaxFrameSize {
			return nil, nil, fmt.Errorf("%w: no frame end within %d bytes", ErrFraming, MaxFrameSize)
		}

		return nil, nil, fmt.Errorf("%w: frame end not received", ErrIncomplete)
	}

	if etx+1 >= len(frame) {
		return nil, nil, fmt.Errorf("%w: checksum byte not received", ErrIncomplete)
	}

	// BCC covers node through ETX inclusive.
	body := frame[1 : etx+1]
	wireBCC := frame[etx+1]
	if calc := bcc(body); calc != wireBCC {
		return nil, nil, fmt.Errorf("%w: wire=0x%02X, computed=0x%02X", ErrChecksum, wireBCC, calc)
	}

	payload := frame[1:etx]
	if len(payload) < respHeaderSize {
		return nil, nil, fmt.Errorf("%w: response header truncated (%d bytes)", ErrFraming, len(payload))
	}

	node, err := parseDec2(payload[0:2])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: node number: %w", ErrFraming, err)
	}

	endVal, err := parseHex(payload[4:6], 2)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: end code: %w", ErrFraming, err)
	}

	resp := &Response{
		Node:       node,
		SubAddress: string(payload[2:4]),
		EndCode:    EndCode(endVal),
	}

	// The service section is omitted when the device could not parse the
	// command at all (receive-level end codes).
	svc := payload[respHeaderSize:]
	if len(svc) > 0 {
		if len(svc) < 4 {
			return nil, nil, fmt.Errorf("%w: service echo truncated (%d bytes)", ErrFraming, len(svc))
		}

		if resp.MRC, err = parseDec2(svc[0:2]); err != nil {
			return nil, nil, fmt.Errorf("%w: MRC echo: %w", ErrFraming, err)
		}
		if resp.SRC, err = parseDec2(svc[2:4]); err != nil {
			return nil, nil, fmt.Errorf("%w: SRC echo: %w", ErrFraming, err)
		}

		if len(svc) >= svcHeaderSize {
			rc, err := parseHex(svc[4:8], 4)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: result code: %w", ErrFraming, err)
			}
			resp.Result = ResultCode(rc)

			if len(svc) > svcHeaderSize {
				resp.Data = make([]byte, len(svc)-svcHeaderSize)
				copy(resp.Data, svc[svcHeaderSize:])
			}
		}
	}

	if resp.EndCode.OK() && len(svc) < svcHeaderSize {
		return nil, nil, fmt.Errorf("%w: service section truncated (%d bytes)", ErrFraming, len(svc))
	}

	return resp, frame[etx+2:], nil
}

// EncodeResponse serializes a complete response frame. It is the wire-level
// inverse of ParseResponse and exists for device simulators and tests.
func EncodeResponse(unit uint8, end EndCode, mrc, src byte, result ResultCode, data []byte) ([]byte, error) {
	if unit > MaxUnit {
		return nil, fmt.Errorf("%w: unit %d exceeds maximum %d", ErrEncoding, unit, MaxUnit)
	}
	if mrc > MaxUnit || src > MaxUnit {
		return nil, fmt.Errorf("%w: service code %02d/%02d not representable", ErrEncoding, mrc, src)
	}
	if i := bytes.IndexAny(data, "\x02\x03"); i >= 0 {
		return nil, fmt.Errorf("%w: data contains framing byte 0x%02X", ErrEncoding, data[i])
	}

	wireLen := 1 + respHeaderSize + svcHeaderSize + len(data) + 2
	if wireLen > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d exceeds maximum %d", ErrEncoding, wireLen, MaxFrameSize)
	}

	buf := make([]byte, 0, wireLen)
	buf = append(buf, STX)
	buf = appendDec2(buf, unit)
	buf = append(buf, defaultSubAddress...)
	buf = appendHex(buf, uint64(end), 2)
	buf = appendDec2(buf, mrc)
	buf = appendDec2(buf, src)
	buf = appendHex(buf, uint64(result), 4)
	buf = append(buf, data...)
	buf = append(buf, ETX)
	buf = append(buf, bcc(buf[1:]))

	return buf, nil
}

// EncodeErrorResponse serializes a response that carries only an end code,
// the shape the device produces when it could not parse the command text
// (parity, framing, BCC, or format errors).
func EncodeErrorResponse(unit uint8, end EndCode) ([]byte, error) {
	if unit > MaxUnit {
		return nil, fmt.Errorf("%w: unit %d exceeds maximum %d", ErrEncoding, unit, MaxUnit)
	}

	buf := make([]byte, 0, 1+respHeaderSize+2)
	buf = append(buf, STX)
	buf = appendDec2(buf, unit)
	buf = append(buf, defaultSubAddress...)
	buf = appendHex(buf, uint64(end), 2)
	buf = append(buf, ETX)
	buf = append(buf, bcc(buf[1:]))

	return buf, nil
}
