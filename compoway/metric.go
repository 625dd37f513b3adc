package compoway

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a CompoWay/F connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// TransactionCount indicates the number of transactions started.
	TransactionCount atomic.Uint64
	// RetryCount indicates the number of command re-sends caused by
	// timeouts, corrupt responses, or device-side receive errors.
	RetryCount atomic.Uint64
	// DesyncCount indicates the number of responses discarded because the
	// node or service echo did not match the command in flight.
	DesyncCount atomic.Uint64
	// TimeoutCount indicates the number of reply timeouts.
	TimeoutCount atomic.Uint64
	// ChecksumErrCount indicates the number of responses dropped for BCC
	// mismatch.
	ChecksumErrCount atomic.Uint64

	// BytesSent and BytesRecv count raw wire traffic.
	BytesSent atomic.Uint64
	BytesRecv atomic.Uint64
}

func (m *ConnectionMetrics) incTransactionCount() {
	m.TransactionCount.Add(1)
}

func (m *ConnectionMetrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *ConnectionMetrics) incDesyncCount() {
	m.DesyncCount.Add(1)
}

func (m *ConnectionMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *ConnectionMetrics) incChecksumErrCount() {
	m.ChecksumErrCount.Add(1)
}

func (m *ConnectionMetrics) addBytesSent(n int) {
	m.BytesSent.Add(uint64(n))
}

func (m *ConnectionMetrics) addBytesRecv(n int) {
	m.BytesRecv.Add(uint64(n))
}
