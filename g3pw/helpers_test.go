package g3pw

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/thermalworks/go-compoway/compoway"
)

// newTestClient builds a Client over the fake device with short timeouts.
func newTestClient(t *testing.T, dev *fakeDevice, cfg *Config) *Client {
	t.Helper()

	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ReplyTimeoutMS == 0 {
		cfg.ReplyTimeoutMS = 50
	}
	if cfg.CharTimeoutMS == 0 {
		cfg.CharTimeoutMS = 10
	}

	client, err := NewClient(dev, cfg)
	if err != nil {
		t.Fatalf("newTestClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

type regKey struct {
	area compoway.Area
	addr uint16
}

// fakeDevice emulates a G3PW on the far end of the transport: it parses each
// command frame the client writes and queues the response the real device
// would produce. State (registers, communications writing, setting area) is
// tracked so multi-step scenarios behave like the hardware.
type fakeDevice struct {
	mu sync.Mutex

	unit     uint8
	model    string
	opStatus byte
	regs     map[regKey]int64

	commWriting  bool
	settingArea1 bool

	// silent drops commands without responding; corruptEcho flips a byte of
	// echo-back data before returning it.
	silent      bool
	corruptEcho bool

	inq         bytes.Buffer
	readTimeout time.Duration
	writes      [][]byte
	closed      bool
}

var _ compoway.Transport = (*fakeDevice)(nil)

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		unit:  1,
		model: "G3PW-A245E",
		regs: map[regKey]int64{
			{compoway.AreaMonitor, 0x0000}: 1234,       // input 123.4 %
			{compoway.AreaMonitor, 0x0001}: 250,        // duty 25.0 %
			{compoway.AreaMonitor, 0x0002}: 469,        // output 46.9 %
			{compoway.AreaMonitor, 0x0003}: 900,        // phase angle 90.0 deg
			{compoway.AreaMonitor, 0x0004}: 123,        // current 12.3 A
			{compoway.AreaMonitor, 0x0005}: 42,         // run time 42 h
			{compoway.AreaMonitor, 0x0006}: 0x02230000, // status bitfield
			{compoway.AreaMonitor, 0x0007}: 85,         // resistance 8.5 ohm
			{compoway.AreaMonitor, 0x0014}: 100,        // version 1.00
		},
	}
}

func (f *fakeDevice) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, errors.New("fake device closed")
	}

	frame := make([]byte, len(p))
	copy(frame, p)
	f.writes = append(f.writes, frame)

	if f.silent {
		return len(p), nil
	}

	if resp := f.respond(frame); resp != nil {
		f.inq.Write(resp)
	}

	return len(p), nil
}

func (f *fakeDevice) Read(p []byte) (int, error) {
	f.mu.Lock()
	timeout := f.readTimeout
	f.mu.Unlock()

	deadline := time.Now().Add(timeout)

	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()

			return 0, errors.New("fake device closed")
		}
		if f.inq.Len() > 0 {
			n, _ := f.inq.Read(p)
			f.mu.Unlock()

			return n, nil
		}
		f.mu.Unlock()

		if !time.Now().Before(deadline) {
			return 0, nil
		}
		time.Sleep(500 * time.Microsecond)
	}
}

func (f *fakeDevice) SetReadTimeout(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readTimeout = d

	return nil
}

func (f *fakeDevice) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inq.Reset()

	return nil
}

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true

	return nil
}

func (f *fakeDevice) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.writes)
}

func (f *fakeDevice) register(area compoway.Area, addr uint16) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.regs[regKey{area, addr}]
}

func (f *fakeDevice) setRegister(area compoway.Area, addr uint16, v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[regKey{area, addr}] = v
}

func (f *fakeDevice) setSilent(silent bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silent = silent
}

// respond parses one command frame and produces the device's answer.
// Callers hold f.mu.
func (f *fakeDevice) respond(frame []byte) []byte {
	// [STX][node 2][sub 2][SID][MRC 2][SRC 2][params][ETX][BCC]
	if len(frame) < 12 || frame[0] != 0x02 {
		return nil
	}

	node := int(frame[1]-'0')*10 + int(frame[2]-'0')
	if node != int(f.unit) {
		return nil // addressed to another unit, stay quiet
	}

	service := string(frame[6:10])
	params := frame[10 : len(frame)-2]

	switch service {
	case "0101":
		return f.respondRead(params)
	case "0102":
		return f.respondWrite(params)
	case "0503":
		return f.ok(5, 3, []byte(f.model+"003A"))
	case "0601":
		return f.ok(6, 1, []byte(fmt.Sprintf("%02X00", f.opStatus)))
	case "0801":
		data := append([]byte(nil), params...)
		if f.corruptEcho && len(data) > 0 {
			data[0] ^= 0x20
		}

		return f.ok(8, 1, data)
	case "3005":
		return f.respondOperation(params)
	default:
		return f.errorResponse(compoway.EndFINSError)
	}
}

func (f *fakeDevice) respondRead(params []byte) []byte {
	area, wide, addr, count, ok := parseVariableHeader(params)
	if !ok || len(params) != 12 {
		return f.result(1, 1, compoway.ResultParameterError, nil)
	}

	var data []byte
	for i := uint16(0); i < count; i++ {
		data = appendElement(data, f.regs[regKey{area, addr + i}], wide)
	}

	return f.ok(1, 1, data)
}

func (f *fakeDevice) respondWrite(params []byte) []byte {
	area, wide, addr, count, ok := parseVariableHeader(params)
	if !ok {
		return f.result(1, 2, compoway.ResultParameterError, nil)
	}

	if area == compoway.AreaMonitor {
		return f.result(1, 2, compoway.ResultAreaTypeError, nil)
	}
	if !f.commWriting || (area == compoway.AreaInitial && !f.settingArea1) {
		return f.result(1, 2, compoway.ResultOperationError, nil)
	}

	chars := compoway.ElementChars(wide)

	values := params[12:]
	if len(values) != int(count)*chars {
		return f.result(1, 2, compoway.ResultCountMismatch, nil)
	}

	for i := uint16(0); i < count; i++ {
		v, err := strconv.ParseUint(string(values[int(i)*chars:(int(i)+1)*chars]), 16, 64)
		if err != nil {
			return f.result(1, 2, compoway.ResultParameterError, nil)
		}

		if wide {
			f.regs[regKey{area, addr + i}] = int64(int32(uint32(v)))
		} else {
			f.regs[regKey{area, addr + i}] = int64(int16(uint16(v)))
		}
	}

	return f.ok(1, 2, nil)
}

func (f *fakeDevice) respondOperation(params []byte) []byte {
	if len(params) != 4 {
		return f.result(30, 5, compoway.ResultParameterError, nil)
	}

	code, err1 := strconv.ParseUint(string(params[0:2]), 16, 8)
	related, err2 := strconv.ParseUint(string(params[2:4]), 16, 8)
	if err1 != nil || err2 != nil {
		return f.result(30, 5, compoway.ResultParameterError, nil)
	}

	switch compoway.OperationCode(code) {
	case compoway.OpCommWriting:
		f.commWriting = related == 1
	case compoway.OpSoftReset:
		// A restart drops communications writing and setting area 1.
		f.commWriting = false
		f.settingArea1 = false
	case compoway.OpMoveToSettingArea1:
		f.settingArea1 = true
	default:
		return f.result(30, 5, compoway.ResultParameterError, nil)
	}

	return f.ok(30, 5, nil)
}

func (f *fakeDevice) ok(mrc, src byte, data []byte) []byte {
	return f.result(mrc, src, compoway.ResultOK, data)
}

func (f *fakeDevice) result(mrc, src byte, rc compoway.ResultCode, data []byte) []byte {
	resp, err := compoway.EncodeResponse(f.unit, compoway.EndNormal, mrc, src, rc, data)
	if err != nil {
		panic("fakeDevice: encode response: " + err.Error())
	}

	return resp
}

func (f *fakeDevice) errorResponse(end compoway.EndCode) []byte {
	resp, err := compoway.EncodeErrorResponse(f.unit, end)
	if err != nil {
		panic("fakeDevice: encode error response: " + err.Error())
	}

	return resp
}

// parseVariableHeader decodes [area code 2][address 4][bit 2][count 4].
func parseVariableHeader(params []byte) (area compoway.Area, wide bool, addr, count uint16, ok bool) {
	if len(params) < 12 {
		return 0, false, 0, 0, false
	}

	switch params[0] {
	case 'C':
		wide = true
	case '8':
		wide = false
	default:
		return 0, false, 0, 0, false
	}

	switch params[1] {
	case 'E':
		area = compoway.AreaMonitor
	case '1':
		area = compoway.AreaSetting
	case '3':
		area = compoway.AreaInitial
	default:
		return 0, false, 0, 0, false
	}

	a, err1 := strconv.ParseUint(string(params[2:6]), 16, 16)
	n, err2 := strconv.ParseUint(string(params[8:12]), 16, 16)
	if err1 != nil || err2 != nil {
		return 0, false, 0, 0, false
	}

	return area, wide, uint16(a), uint16(n), true
}

func appendElement(dst []byte, v int64, wide bool) []byte {
	if wide {
		return fmt.Appendf(dst, "%08X", uint32(v))
	}

	return fmt.Appendf(dst, "%04X", uint16(v))
}
