package g3pw

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/thermalworks/go-compoway/compoway"
	"github.com/thermalworks/go-compoway/internal/pool"
	"github.com/thermalworks/go-compoway/logger"
)

// Poll interval bounds. The minimum keeps a misconfigured poller from
// saturating the line with back-to-back transactions.
const (
	DefaultPollInterval = time.Second
	MinPollInterval     = 10 * time.Millisecond
)

// MonitorHandler receives each monitor snapshot a Poller takes. The handler
// runs on the polling goroutine; a slow handler delays the next sample.
type MonitorHandler func(*Monitors)

// Poller samples the controller's monitor registers at a fixed interval.
//
// Read failures are logged and counted but do not stop polling; the poller
// only returns when its context is cancelled or the client is closed.
type Poller struct {
	client   *Client
	interval time.Duration
	handler  MonitorHandler
	logger   logger.Logger

	polls    atomic.Uint64
	failures atomic.Uint64
}

// NewPoller creates a poller delivering a Monitors snapshot to handler every
// interval. A zero interval selects DefaultPollInterval.
func NewPoller(client *Client, interval time.Duration, handler MonitorHandler) (*Poller, error) {
	if client == nil {
		return nil, errors.New("g3pw: poller client is nil")
	}
	if handler == nil {
		return nil, errors.New("g3pw: poller handler is nil")
	}

	if interval == 0 {
		interval = DefaultPollInterval
	}
	if interval < MinPollInterval {
		return nil, fmt.Errorf("g3pw: poll interval %v below minimum %v", interval, MinPollInterval)
	}

	return &Poller{
		client:   client,
		interval: interval,
		handler:  handler,
		logger:   client.logger,
	}, nil
}

// Run samples monitors on the calling goroutine until ctx is cancelled or
// the client is closed. The first sample is taken immediately; subsequent
// samples follow every interval.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Debug("g3pw: poller started", "interval", p.interval)

	for {
		m, err := p.client.Monitors(ctx)

		switch {
		case err == nil:
			p.polls.Add(1)
			p.handler(m)

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()

		case errors.Is(err, compoway.ErrConnClosed):
			p.logger.Debug("g3pw: poller stopped, client closed")

			return err

		default:
			p.failures.Add(1)
			p.logger.Warn("g3pw: poll failed", "error", err)
		}

		if !pool.WaitContext(ctx, p.interval) {
			return ctx.Err()
		}
	}
}

// Polls returns the number of successful samples delivered so far.
func (p *Poller) Polls() uint64 { return p.polls.Load() }

// Failures returns the number of failed samples so far.
func (p *Poller) Failures() uint64 { return p.failures.Load() }
