package compoway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thermalworks/go-compoway/internal/pool"
	"github.com/thermalworks/go-compoway/logger"
)

// pollTimeout is the timeout for each poll of the transport while waiting
// for a response to start. It trades off between CPU usage and cancellation
// latency.
const pollTimeout = 50 * time.Millisecond

// maxReadBuffer bounds the bytes accumulated while hunting for a frame in
// line noise before the attempt is abandoned.
const maxReadBuffer = 1024

// Conn is a CompoWay/F master endpoint bound to a single addressed unit.
//
// Conn serializes transactions: exactly one command frame is in flight at a
// time, and concurrent Execute calls queue on an internal mutex, so writes
// and reads of different transactions never interleave on the wire. All
// methods are safe for concurrent use.
type Conn struct {
	cfg       *ConnConfig
	logger    logger.Logger
	transport Transport

	// mu serializes transactions; the line is half duplex.
	mu       sync.Mutex
	lastDone time.Time
	rbuf     []byte
	scratch  [64]byte

	closed  atomic.Bool
	metrics ConnectionMetrics
}

// NewConn creates a connection over the given transport.
//
// The transport is owned by the connection after this call; Close releases it.
func NewConn(t Transport, cfg *ConnConfig) (*Conn, error) {
	if t == nil {
		return nil, errors.New("compoway: transport is nil")
	}
	if cfg == nil {
		return nil, errors.New("compoway: connection config is nil")
	}

	return &Conn{
		cfg:       cfg,
		logger:    cfg.logger,
		transport: t,
	}, nil
}

// Unit returns the node number this connection addresses.
func (c *Conn) Unit() uint8 { return c.cfg.unit }

// Metrics returns the connection's transaction metrics.
func (c *Conn) Metrics() *ConnectionMetrics { return &c.metrics }

// Execute sends cmd to the configured unit and returns its response.
//
// The command frame is written up to MaxAttempts times: reply timeouts,
// corrupt responses (BCC or framing), and device-side receive errors (the
// retryable end codes) each consume one attempt, after which the identical
// frame is re-sent. When attempts are exhausted the last error is returned.
//
// A response whose node or MRC/SRC echo does not match the command is a
// stale or foreign frame: it is discarded with ErrProtocol, the input is
// flushed, and the command is retried on a separate desync budget that does
// not consume timeout attempts.
//
// Device-level rejections (non-retryable end codes, non-zero result codes)
// and transport I/O failures surface immediately.
//
// Cancelling ctx before the frame is written returns ctx.Err() with no wire
// traffic. Cancelling mid-transaction drains the in-flight response before
// releasing the line, so a late reply cannot surface in the next
// transaction.
func (c *Conn) Execute(ctx context.Context, cmd *Command) (*Response, error) {
	if cmd == nil {
		return nil, errors.New("compoway: command is nil")
	}
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := EncodeFrame(c.cfg.unit, cmd.pdu)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, ErrConnClosed
	}

	// Honor the quiet period after the previous transaction.
	if wait := c.cfg.txnDelay - time.Since(c.lastDone); wait > 0 {
		if !pool.WaitContext(ctx, wait) {
			return nil, ctx.Err()
		}
	}
	defer func() { c.lastDone = time.Now() }()

	c.metrics.incTransactionCount()

	var lastErr error
	attempts := 0
	desyncs := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := c.writeFrame(frame); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnection, err)
		}

		resp, err := c.readResponse(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// The command is already on the wire: drain the late
				// response so it cannot surface in the next transaction.
				c.drainInFlight()

				return nil, err
			}

			switch {
			case errors.Is(err, ErrTimeout):
				c.metrics.incTimeoutCount()

			case errors.Is(err, ErrChecksum):
				c.metrics.incChecksumErrCount()
				c.drainUntilSilence()

			case errors.Is(err, ErrFraming):
				c.drainUntilSilence()

			default:
				return nil, fmt.Errorf("%w: %w", ErrConnection, err)
			}

			lastErr = err
			attempts++
			if attempts >= c.cfg.maxAttempts {
				return nil, lastErr
			}

			c.metrics.incRetryCount()
			c.logger.Debug("compoway: transaction retry",
				"attempt", attempts+1,
				"maxAttempts", c.cfg.maxAttempts,
				"error", err,
			)

			continue
		}

		if !c.matches(cmd, resp) {
			c.metrics.incDesyncCount()
			c.drainUntilSilence()

			lastErr = fmt.Errorf("%w: sent %02d/%02d to unit %02d, got %02d/%02d from unit %02d",
				ErrProtocol, cmd.mrc, cmd.src, c.cfg.unit, resp.MRC, resp.SRC, resp.Node)

			desyncs++
			if desyncs >= c.cfg.maxAttempts {
				return nil, lastErr
			}

			c.logger.Warn("compoway: discarded mismatched response",
				"desyncs", desyncs,
				"error", lastErr,
			)

			continue
		}

		if !resp.EndCode.OK() {
			ecErr := &EndCodeError{Code: resp.EndCode}
			if !resp.EndCode.Retryable() {
				return nil, ecErr
			}

			lastErr = ecErr
			attempts++
			if attempts >= c.cfg.maxAttempts {
				return nil, lastErr
			}

			c.metrics.incRetryCount()
			c.logger.Debug("compoway: device reported receive error, retrying",
				"attempt", attempts+1,
				"endCode", resp.EndCode.String(),
			)

			continue
		}

		if !resp.Result.OK() {
			return nil, &ResultError{Code: resp.Result}
		}

		return resp, nil
	}
}

// Close releases the transport. It is idempotent; transactions started after
// Close fail with ErrConnClosed.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.logger.Debug("compoway: closing connection", "unit", c.cfg.unit)

	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("compoway: close transport: %w", err)
	}

	return nil
}

// matches reports whether resp answers cmd. Receive-level rejections carry
// no service echo, so only the node is checked for those.
func (c *Conn) matches(cmd *Command, resp *Response) bool {
	if resp.Node != c.cfg.unit {
		return false
	}
	if resp.MRC == 0 && resp.SRC == 0 && !resp.EndCode.OK() {
		return true
	}

	return resp.MRC == cmd.mrc && resp.SRC == cmd.src
}

// writeFrame writes the full frame to the transport.
func (c *Conn) writeFrame(frame []byte) error {
	for written := 0; written < len(frame); {
		n, err := c.transport.Write(frame[written:])
		written += n

		if err != nil {
			return err
		}
	}
	c.metrics.addBytesSent(len(frame))

	return nil
}

// readResponse accumulates bytes until a complete frame parses or a timeout
// expires. The reply timeout bounds the wait for the first byte; once bytes
// are flowing each inter-byte gap is bounded by the char timeout.
func (c *Conn) readResponse(ctx context.Context) (*Response, error) {
	c.rbuf = c.rbuf[:0]
	deadline := time.Now().Add(c.cfg.replyTimeout)
	started := false

	for {
		if len(c.rbuf) > 0 {
			resp, rest, err := ParseResponse(c.rbuf)
			if err == nil {
				if len(rest) > 0 {
					c.logger.Debug("compoway: discarding trailing bytes", "count", len(rest))
				}

				return resp, nil
			}
			if !errors.Is(err, ErrIncomplete) {
				return nil, err
			}
		}

		if len(c.rbuf) >= maxReadBuffer {
			return nil, fmt.Errorf("%w: no frame within %d buffered bytes", ErrFraming, len(c.rbuf))
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var quantum time.Duration
		if started {
			quantum = c.cfg.charTimeout
		} else {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, fmt.Errorf("%w: no response within %v", ErrTimeout, c.cfg.replyTimeout)
			}
			quantum = min(remaining, pollTimeout)
		}

		if err := c.transport.SetReadTimeout(quantum); err != nil {
			return nil, err
		}

		n, err := c.transport.Read(c.scratch[:])
		if n > 0 {
			started = true
			c.metrics.addBytesRecv(n)
			c.rbuf = append(c.rbuf, c.scratch[:n]...)
		}
		if err != nil {
			return nil, err
		}
		if n == 0 && started {
			return nil, fmt.Errorf("%w: response stalled after %d bytes", ErrTimeout, len(c.rbuf))
		}
	}
}

// drainUntilSilence reads and discards bytes until the line is idle for the
// inter-character timeout, then flushes the receive buffer. After a corrupt
// frame the device may still be transmitting; draining keeps the remnant out
// of the next attempt.
func (c *Conn) drainUntilSilence() {
	for {
		if err := c.transport.SetReadTimeout(c.cfg.charTimeout); err != nil {
			return
		}

		n, err := c.transport.Read(c.scratch[:])
		if n > 0 {
			c.metrics.addBytesRecv(n)
		}
		if err != nil || n == 0 {
			break
		}
	}

	_ = c.transport.Flush()
}

// drainInFlight waits out the response to a command whose caller has gone
// away: up to the reply timeout for the response to start, then until the
// line is silent. Called on cancellation after dispatch, before the
// transaction mutex is released.
func (c *Conn) drainInFlight() {
	deadline := time.Now().Add(c.cfg.replyTimeout)
	started := false

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		if err := c.transport.SetReadTimeout(min(remaining, c.cfg.charTimeout)); err != nil {
			return
		}

		n, err := c.transport.Read(c.scratch[:])
		if n > 0 {
			started = true
			c.metrics.addBytesRecv(n)
		}
		if err != nil {
			return
		}
		if n == 0 && started {
			break
		}
	}

	_ = c.transport.Flush()
	c.logger.Debug("compoway: drained in-flight response after cancellation")
}
