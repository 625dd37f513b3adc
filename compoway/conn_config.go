package compoway

import (
	"errors"
	"fmt"
	"time"

	"github.com/thermalworks/go-compoway/logger"
)

// Default transaction parameters. The reply timeout matches the device's
// factory communications timeout.
const (
	DefaultUnit uint8 = 1

	DefaultReplyTimeout = 500 * time.Millisecond // first response byte
	DefaultCharTimeout  = 100 * time.Millisecond // gap between response bytes

	DefaultMaxAttempts = 3

	DefaultTransactionDelay = 0 // quiet period between transactions
)

// Parameter range limits.
const (
	MinReplyTimeout = 10 * time.Millisecond
	MaxReplyTimeout = 30 * time.Second

	MinCharTimeout = 5 * time.Millisecond
	MaxCharTimeout = 10 * time.Second

	MinMaxAttempts = 1
	MaxMaxAttempts = 16

	MaxTransactionDelay = 1 * time.Second
)

// ConnConfig holds all configuration for a CompoWay/F connection.
type ConnConfig struct {
	// unit is the node number of the addressed controller.
	unit uint8

	// replyTimeout bounds the wait for the first byte of a response.
	replyTimeout time.Duration

	// charTimeout bounds the gap between bytes once a response has started.
	charTimeout time.Duration

	// maxAttempts is the total number of times a command frame is written
	// before the transaction fails.
	maxAttempts int

	// txnDelay is the minimum quiet period between the end of one
	// transaction and the next write. Some controllers need line idle time
	// before they accept a new frame.
	txnDelay time.Duration

	logger logger.Logger
}

// NewConnConfig creates a connection configuration for the given unit number.
//
// opts are functional options applied in order; see With* functions.
func NewConnConfig(unit uint8, opts ...ConnOption) (*ConnConfig, error) {
	if unit > MaxUnit {
		return nil, fmt.Errorf("compoway: unit %d exceeds maximum %d", unit, MaxUnit)
	}

	cfg := &ConnConfig{
		unit:         unit,
		replyTimeout: DefaultReplyTimeout,
		charTimeout:  DefaultCharTimeout,
		maxAttempts:  DefaultMaxAttempts,
		txnDelay:     DefaultTransactionDelay,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// Unit returns the configured node number.
func (cfg *ConnConfig) Unit() uint8 { return cfg.unit }

// ReplyTimeout returns the wait for the first byte of a response.
func (cfg *ConnConfig) ReplyTimeout() time.Duration { return cfg.replyTimeout }

// CharTimeout returns the inter-character timeout within a response.
func (cfg *ConnConfig) CharTimeout() time.Duration { return cfg.charTimeout }

// MaxAttempts returns the total number of write attempts per transaction.
func (cfg *ConnConfig) MaxAttempts() int { return cfg.maxAttempts }

// TransactionDelay returns the quiet period enforced between transactions.
func (cfg *ConnConfig) TransactionDelay() time.Duration { return cfg.txnDelay }

// GetLogger returns the configured logger.
func (cfg *ConnConfig) GetLogger() logger.Logger { return cfg.logger }

// --- ConnOption ---

// ConnOption is a functional option for configuring a ConnConfig.
type ConnOption interface {
	apply(*ConnConfig) error
}

type connOptFunc func(*ConnConfig) error

func (f connOptFunc) apply(cfg *ConnConfig) error { return f(cfg) }

// WithReplyTimeout sets how long the manager waits for the first byte of a
// response before counting the attempt as timed out. Range 10ms-30s.
func WithReplyTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnConfig) error {
		if d < MinReplyTimeout || d > MaxReplyTimeout {
			return fmt.Errorf("compoway: reply timeout %v out of range [%v, %v]", d, MinReplyTimeout, MaxReplyTimeout)
		}
		cfg.replyTimeout = d

		return nil
	})
}

// WithCharTimeout sets the longest gap allowed between response bytes once
// the first byte has arrived. Range 5ms-10s.
func WithCharTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnConfig) error {
		if d < MinCharTimeout || d > MaxCharTimeout {
			return fmt.Errorf("compoway: char timeout %v out of range [%v, %v]", d, MinCharTimeout, MaxCharTimeout)
		}
		cfg.charTimeout = d

		return nil
	})
}

// WithMaxAttempts sets the total number of times a command frame is written
// before the transaction fails with the last error. Range 1-16.
func WithMaxAttempts(n int) ConnOption {
	return connOptFunc(func(cfg *ConnConfig) error {
		if n < MinMaxAttempts || n > MaxMaxAttempts {
			return fmt.Errorf("compoway: max attempts %d out of range [%d, %d]", n, MinMaxAttempts, MaxMaxAttempts)
		}
		cfg.maxAttempts = n

		return nil
	})
}

// WithTransactionDelay sets the minimum quiet period between transactions.
func WithTransactionDelay(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnConfig) error {
		if d < 0 || d > MaxTransactionDelay {
			return fmt.Errorf("compoway: transaction delay %v out of range [0, %v]", d, MaxTransactionDelay)
		}
		cfg.txnDelay = d

		return nil
	})
}

// WithLogger sets the logger for the connection.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnConfig) error {
		if l == nil {
			return errors.New("compoway: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
