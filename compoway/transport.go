package compoway

import "time"

// Transport is the byte stream the transaction manager drives. The serial
// package provides the production implementation; tests substitute scripted
// in-memory transports.
//
// Read must honor the timeout set by SetReadTimeout and return (0, nil) when
// no byte arrives in time, matching go.bug.st/serial semantics. It returns at
// most len(p) bytes and may return fewer.
type Transport interface {
	// Write sends p, returning the number of bytes written.
	Write(p []byte) (n int, err error)

	// Read fills p with available bytes, returning (0, nil) on timeout.
	Read(p []byte) (n int, err error)

	// SetReadTimeout bounds each subsequent Read call.
	SetReadTimeout(d time.Duration) error

	// Flush discards bytes already received but not yet read.
	Flush() error

	// Close releases the underlying stream. Close must unblock a pending
	// Read and must be safe to call more than once.
	Close() error
}
