package compoway

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// newTestConfig creates a ConnConfig with short timeouts suitable for tests.
func newTestConfig(t *testing.T, opts ...ConnOption) *ConnConfig {
	t.Helper()

	defaults := []ConnOption{
		WithReplyTimeout(50 * time.Millisecond),
		WithCharTimeout(10 * time.Millisecond),
	}

	cfg, err := NewConnConfig(1, append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

// newTestConn creates a Conn over the given transport with test timeouts.
func newTestConn(t *testing.T, tr Transport, opts ...ConnOption) *Conn {
	t.Helper()

	conn, err := NewConn(tr, newTestConfig(t, opts...))
	if err != nil {
		t.Fatalf("newTestConn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// makeReadCommand builds a 1-element monitor read of address 0.
func makeReadCommand(t *testing.T) *Command {
	t.Helper()

	cmd, err := NewReadCommand(AreaMonitor, false, 0, 1)
	if err != nil {
		t.Fatalf("makeReadCommand: %v", err)
	}

	return cmd
}

// mustResponse encodes a normal-completion response frame.
func mustResponse(t *testing.T, unit uint8, mrc, src byte, data string) []byte {
	t.Helper()

	frame, err := EncodeResponse(unit, EndNormal, mrc, src, ResultOK, []byte(data))
	if err != nil {
		t.Fatalf("mustResponse: %v", err)
	}

	return frame
}

// mustResultResponse encodes a response with a non-zero result code.
func mustResultResponse(t *testing.T, unit uint8, mrc, src byte, result ResultCode) []byte {
	t.Helper()

	frame, err := EncodeResponse(unit, EndNormal, mrc, src, result, nil)
	if err != nil {
		t.Fatalf("mustResultResponse: %v", err)
	}

	return frame
}

// mustErrorResponse encodes a receive-level error response (end code only).
func mustErrorResponse(t *testing.T, unit uint8, end EndCode) []byte {
	t.Helper()

	frame, err := EncodeErrorResponse(unit, end)
	if err != nil {
		t.Fatalf("mustErrorResponse: %v", err)
	}

	return frame
}

// mockTransport is a scripted in-memory Transport standing in for the
// controller. Each Write hands the frame to the script, which returns the
// bytes later Reads will see (nil for no response).
//
// A Write arriving while unconsumed response bytes are pending means two
// transactions interleaved on the line; the mock records it as an overlap.
type mockTransport struct {
	script func(i int, frame []byte) []byte

	// respondAfter delays the availability of each scripted response.
	respondAfter time.Duration

	mu          sync.Mutex
	rq          bytes.Buffer
	readyAt     time.Time
	writes      [][]byte
	flushes     int
	readTimeout time.Duration
	closed      bool
	overlapped  bool
}

var _ Transport = (*mockTransport)(nil)

func newMockTransport(script func(i int, frame []byte) []byte) *mockTransport {
	return &mockTransport{script: script}
}

// respondOnce returns a script that answers only the first write.
func respondOnce(frame []byte) func(int, []byte) []byte {
	return func(i int, _ []byte) []byte {
		if i == 0 {
			return frame
		}

		return nil
	}
}

// respondSeq returns a script that answers the i-th write with frames[i],
// repeating the last entry for later writes.
func respondSeq(frames ...[]byte) func(int, []byte) []byte {
	return func(i int, _ []byte) []byte {
		if i >= len(frames) {
			i = len(frames) - 1
		}

		return frames[i]
	}
}

func (m *mockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errors.New("mock transport closed")
	}
	if m.rq.Len() > 0 {
		m.overlapped = true
	}

	frame := make([]byte, len(p))
	copy(frame, p)
	m.writes = append(m.writes, frame)

	if m.script != nil {
		if resp := m.script(len(m.writes)-1, frame); resp != nil {
			m.readyAt = time.Now().Add(m.respondAfter)
			m.rq.Write(resp)
		}
	}

	return len(p), nil
}

func (m *mockTransport) Read(p []byte) (int, error) {
	m.mu.Lock()
	timeout := m.readTimeout
	m.mu.Unlock()

	deadline := time.Now().Add(timeout)

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()

			return 0, errors.New("mock transport closed")
		}
		if m.rq.Len() > 0 && !time.Now().Before(m.readyAt) {
			n, _ := m.rq.Read(p)
			m.mu.Unlock()

			return n, nil
		}
		m.mu.Unlock()

		if !time.Now().Before(deadline) {
			return 0, nil
		}
		time.Sleep(500 * time.Microsecond)
	}
}

func (m *mockTransport) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = d

	return nil
}

func (m *mockTransport) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	m.rq.Reset()

	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	return nil
}

func (m *mockTransport) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.writes)
}

func (m *mockTransport) lastWrite() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.writes) == 0 {
		return nil
	}

	return m.writes[len(m.writes)-1]
}

func (m *mockTransport) pendingBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rq.Len()
}

func (m *mockTransport) flushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.flushes
}

func (m *mockTransport) overlapDetected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.overlapped
}
