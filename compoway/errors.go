package compoway

import (
	"errors"
	"fmt"
)

// Sentinel errors for the CompoWay/F protocol.
var (
	// Transport-level errors.
	ErrConnection = errors.New("compoway: transport failure")
	ErrConnClosed = errors.New("compoway: connection closed")
	ErrTimeout    = errors.New("compoway: response timeout")

	// Frame-level errors.
	ErrChecksum = errors.New("compoway: BCC mismatch")
	ErrFraming  = errors.New("compoway: malformed frame")

	// Transaction-level errors.
	ErrProtocol = errors.New("compoway: response does not match command")
	ErrEncoding = errors.New("compoway: invalid command encoding")
)

// ErrIncomplete reports that a buffer holds the beginning of a frame but not
// yet its end. It wraps ErrFraming so callers that only distinguish the
// frame-error class keep working; stream readers test for ErrIncomplete to
// keep accumulating bytes.
var ErrIncomplete = fmt.Errorf("%w: incomplete frame", ErrFraming)
