package compoway

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermalworks/go-compoway/logger"
)

func TestMain(m *testing.M) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	var level logger.Level

	switch logLevel {
	case "debug":
		level = logger.DebugLevel
	case "info":
		level = logger.InfoLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	default:
		level = logger.InfoLevel
	}

	logger.SetLevel(level)

	os.Exit(m.Run())
}

// --- Happy path ---

func TestConnExecute_RoundTrip(t *testing.T) {
	mock := newMockTransport(respondOnce([]byte(wireReadResp)))
	conn := newTestConn(t, mock)

	assert.Equal(t, uint8(1), conn.Unit())

	resp, err := conn.Execute(context.Background(), makeReadCommand(t))
	require.NoError(t, err)

	assert.Equal(t, uint8(1), resp.Node)
	assert.Equal(t, EndNormal, resp.EndCode)
	assert.Equal(t, ResultOK, resp.Result)
	assert.Equal(t, "04D2", string(resp.Data))

	// Exactly one frame on the wire, byte for byte.
	assert.Equal(t, 1, mock.writeCount())
	assert.Equal(t, []byte(wireReadCmd), mock.lastWrite())

	m := conn.Metrics()
	assert.Equal(t, uint64(1), m.TransactionCount.Load())
	assert.Equal(t, uint64(0), m.RetryCount.Load())
	assert.Equal(t, uint64(0), m.DesyncCount.Load())
	assert.Equal(t, uint64(len(wireReadCmd)), m.BytesSent.Load())
	assert.Equal(t, uint64(len(wireReadResp)), m.BytesRecv.Load())
}

func TestConnExecute_WriteCommand(t *testing.T) {
	mock := newMockTransport(respondOnce(mustResponse(t, 1, 1, 2, "")))
	conn := newTestConn(t, mock)

	cmd, err := NewWriteCommand(AreaSetting, false, 0, []int64{750})
	require.NoError(t, err)

	resp, err := conn.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
	assert.Equal(t, 1, mock.writeCount())
}

func TestConnExecute_NoiseBeforeResponse(t *testing.T) {
	noisy := append([]byte("\x15\x15ABC"), wireReadResp...)
	mock := newMockTransport(respondOnce(noisy))
	conn := newTestConn(t, mock)

	resp, err := conn.Execute(context.Background(), makeReadCommand(t))
	require.NoError(t, err)
	assert.Equal(t, "04D2", string(resp.Data))
	assert.Equal(t, 1, mock.writeCount())
}

// --- Retry behavior ---

func TestConnExecute_TimeoutExhaustsAttempts(t *testing.T) {
	mock := newMockTransport(nil) // dead line, never answers
	conn := newTestConn(t, mock, WithMaxAttempts(3))

	_, err := conn.Execute(context.Background(), makeReadCommand(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	// The frame is written exactly maxAttempts times, no more.
	assert.Equal(t, 3, mock.writeCount())

	m := conn.Metrics()
	assert.Equal(t, uint64(1), m.TransactionCount.Load())
	assert.Equal(t, uint64(3), m.TimeoutCount.Load())
	assert.Equal(t, uint64(2), m.RetryCount.Load())
}

func TestConnExecute_RecoversAfterChecksumError(t *testing.T) {
	corrupt := make([]byte, len(wireReadResp))
	copy(corrupt, wireReadResp)
	corrupt[16] ^= 0x01 // flip one data bit, BCC now stale

	mock := newMockTransport(respondSeq(corrupt, []byte(wireReadResp)))
	conn := newTestConn(t, mock)

	resp, err := conn.Execute(context.Background(), makeReadCommand(t))
	require.NoError(t, err)
	assert.Equal(t, "04D2", string(resp.Data))

	assert.Equal(t, 2, mock.writeCount())
	assert.GreaterOrEqual(t, mock.flushCount(), 1, "corrupt frame must be followed by a drain")

	m := conn.Metrics()
	assert.Equal(t, uint64(1), m.ChecksumErrCount.Load())
	assert.Equal(t, uint64(1), m.RetryCount.Load())
	assert.Equal(t, uint64(0), m.TimeoutCount.Load())
}

func TestConnExecute_RecoversAfterStalledResponse(t *testing.T) {
	partial := []byte(wireReadResp)[:10]

	mock := newMockTransport(respondSeq(partial, []byte(wireReadResp)))
	conn := newTestConn(t, mock)

	resp, err := conn.Execute(context.Background(), makeReadCommand(t))
	require.NoError(t, err)
	assert.Equal(t, "04D2", string(resp.Data))

	assert.Equal(t, 2, mock.writeCount())

	m := conn.Metrics()
	assert.Equal(t, uint64(1), m.TimeoutCount.Load())
	assert.Equal(t, uint64(1), m.RetryCount.Load())
}

func TestConnExecute_RecoversAfterDeviceNAK(t *testing.T) {
	nak := mustErrorResponse(t, 1, EndBCCError)

	mock := newMockTransport(respondSeq(nak, []byte(wireReadResp)))
	conn := newTestConn(t, mock)

	resp, err := conn.Execute(context.Background(), makeReadCommand(t))
	require.NoError(t, err)
	assert.Equal(t, "04D2", string(resp.Data))

	assert.Equal(t, 2, mock.writeCount())

	m := conn.Metrics()
	assert.Equal(t, uint64(1), m.RetryCount.Load())
	assert.Equal(t, uint64(0), m.TimeoutCount.Load())
}

func TestConnExecute_DeviceNAKExhaustsAttempts(t *testing.T) {
	nak := mustErrorResponse(t, 1, EndFormatError)

	mock := newMockTransport(respondSeq(nak))
	conn := newTestConn(t, mock, WithMaxAttempts(2))

	_, err := conn.Execute(context.Background(), makeReadCommand(t))
	require.Error(t, err)

	var ecErr *EndCodeError
	require.ErrorAs(t, err, &ecErr)
	assert.Equal(t, EndFormatError, ecErr.Code)
	assert.Equal(t, 2, mock.writeCount())
}

// --- Failures that must not be retried ---

func TestConnExecute_NonRetryableEndCode(t *testing.T) {
	tests := []struct {
		name string
		code EndCode
	}{
		{"FINS error", EndFINSError},
		{"sub-address error", EndSubAddrError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockTransport(respondSeq(mustErrorResponse(t, 1, tt.code)))
			conn := newTestConn(t, mock)

			_, err := conn.Execute(context.Background(), makeReadCommand(t))
			require.Error(t, err)

			var ecErr *EndCodeError
			require.ErrorAs(t, err, &ecErr)
			assert.Equal(t, tt.code, ecErr.Code)

			assert.Equal(t, 1, mock.writeCount(), "non-retryable end codes must fail on the first attempt")
			assert.Equal(t, uint64(0), conn.Metrics().RetryCount.Load())
		})
	}
}

func TestConnExecute_ResultErrorNotRetried(t *testing.T) {
	mock := newMockTransport(respondSeq(mustResultResponse(t, 1, 1, 2, ResultParameterError)))
	conn := newTestConn(t, mock)

	cmd, err := NewWriteCommand(AreaSetting, false, 0, []int64{1})
	require.NoError(t, err)

	_, err = conn.Execute(context.Background(), cmd)
	require.Error(t, err)

	var resErr *ResultError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, ResultParameterError, resErr.Code)

	assert.Equal(t, 1, mock.writeCount(), "device rejections must not be replayed")
	assert.Equal(t, uint64(0), conn.Metrics().RetryCount.Load())
}

// --- Desynchronized line ---

func TestConnExecute_DiscardsMismatchedResponse(t *testing.T) {
	tests := []struct {
		name  string
		stale []byte
	}{
		{"wrong unit", mustResponse(t, 2, 1, 1, "04D2")},
		{"wrong service echo", mustResponse(t, 1, 6, 1, "000000")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockTransport(respondSeq(tt.stale, []byte(wireReadResp)))
			conn := newTestConn(t, mock)

			resp, err := conn.Execute(context.Background(), makeReadCommand(t))
			require.NoError(t, err)
			assert.Equal(t, "04D2", string(resp.Data))

			assert.Equal(t, 2, mock.writeCount())

			m := conn.Metrics()
			assert.Equal(t, uint64(1), m.DesyncCount.Load())
			assert.Equal(t, uint64(0), m.RetryCount.Load(), "desyncs are budgeted separately from retries")
			assert.Equal(t, uint64(0), m.TimeoutCount.Load())
		})
	}
}

func TestConnExecute_DesyncExhaustsBudget(t *testing.T) {
	mock := newMockTransport(respondSeq(mustResponse(t, 2, 1, 1, "04D2")))
	conn := newTestConn(t, mock, WithMaxAttempts(2))

	_, err := conn.Execute(context.Background(), makeReadCommand(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)

	assert.Equal(t, 2, mock.writeCount())
	assert.Equal(t, uint64(2), conn.Metrics().DesyncCount.Load())
}

// --- Cancellation ---

func TestConnExecute_CancelBeforeDispatch(t *testing.T) {
	mock := newMockTransport(respondOnce([]byte(wireReadResp)))
	conn := newTestConn(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.Execute(ctx, makeReadCommand(t))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 0, mock.writeCount(), "a cancelled transaction must not touch the wire")
	assert.Equal(t, uint64(0), conn.Metrics().TransactionCount.Load())
}

func TestConnExecute_CancelAfterDispatchDrainsLine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// The command reaches the wire, then the caller goes away while the
	// device is still composing its answer.
	mock := newMockTransport(func(i int, _ []byte) []byte {
		if i == 0 {
			cancel()
		}

		return []byte(wireReadResp)
	})
	mock.respondAfter = 20 * time.Millisecond

	conn := newTestConn(t, mock)

	_, err := conn.Execute(ctx, makeReadCommand(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mock.writeCount())

	// The late reply was consumed before the line was released.
	assert.Equal(t, 0, mock.pendingBytes())
	assert.GreaterOrEqual(t, mock.flushCount(), 1)
	assert.Greater(t, conn.Metrics().BytesRecv.Load(), uint64(0))

	// The next transaction starts on a clean line.
	resp, err := conn.Execute(context.Background(), makeReadCommand(t))
	require.NoError(t, err)
	assert.Equal(t, "04D2", string(resp.Data))
	assert.False(t, mock.overlapDetected())
}

// --- Serialization ---

func TestConnExecute_SerializesConcurrentCallers(t *testing.T) {
	const callers = 8

	// Answer every read with a value derived from the requested address so
	// each caller can verify it got its own response.
	mock := newMockTransport(func(_ int, frame []byte) []byte {
		addr, err := parseHex(frame[12:16], 4)
		if err != nil {
			panic("unexpected command layout: " + err.Error())
		}

		data := appendValue(nil, int64(addr)+1000, false)

		resp, err := EncodeResponse(1, EndNormal, 1, 1, ResultOK, data)
		if err != nil {
			panic(err)
		}

		return resp
	})
	conn := newTestConn(t, mock)

	var wg sync.WaitGroup

	errs := make(chan error, callers)

	for g := 0; g < callers; g++ {
		wg.Add(1)

		go func(addr uint16) {
			defer wg.Done()

			cmd, err := NewReadCommand(AreaMonitor, false, addr, 1)
			if err != nil {
				errs <- err

				return
			}

			resp, err := conn.Execute(context.Background(), cmd)
			if err != nil {
				errs <- err

				return
			}

			got, err := parseValue(resp.Data, false)
			if err != nil {
				errs <- err

				return
			}

			if want := int64(addr) + 1000; got != want {
				errs <- fmt.Errorf("address %d: got value %d, want %d", addr, got, want)

				return
			}

			errs <- nil
		}(uint16(g))
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.False(t, mock.overlapDetected(), "transactions must not interleave on the wire")
	assert.Equal(t, callers, mock.writeCount())
	assert.Equal(t, uint64(callers), conn.Metrics().TransactionCount.Load())
}

func TestConnExecute_TransactionDelay(t *testing.T) {
	mock := newMockTransport(func(int, []byte) []byte { return []byte(wireReadResp) })
	conn := newTestConn(t, mock, WithTransactionDelay(30*time.Millisecond))

	start := time.Now()

	_, err := conn.Execute(context.Background(), makeReadCommand(t))
	require.NoError(t, err)

	_, err = conn.Execute(context.Background(), makeReadCommand(t))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond,
		"second transaction must wait out the quiet period")
}

// --- Lifecycle ---

func TestConn_Close(t *testing.T) {
	mock := newMockTransport(nil)
	conn := newTestConn(t, mock)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "close must be idempotent")

	_, err := conn.Execute(context.Background(), makeReadCommand(t))
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.Equal(t, 0, mock.writeCount())

	_, err = mock.Write([]byte("x"))
	assert.Error(t, err, "close must release the transport")
}

func TestConnExecute_TransportWriteError(t *testing.T) {
	mock := newMockTransport(nil)
	require.NoError(t, mock.Close())

	conn, err := NewConn(mock, newTestConfig(t))
	require.NoError(t, err)

	_, err = conn.Execute(context.Background(), makeReadCommand(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestNewConn_Invalid(t *testing.T) {
	_, err := NewConn(nil, newTestConfig(t))
	require.Error(t, err)

	_, err = NewConn(newMockTransport(nil), nil)
	require.Error(t, err)
}

func TestConnExecute_NilCommand(t *testing.T) {
	conn := newTestConn(t, newMockTransport(nil))

	_, err := conn.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command")
}
