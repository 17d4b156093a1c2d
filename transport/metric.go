package transport

import (
	"sync/atomic"
)

// Metrics contains atomic metrics for a Transport.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// ConnectCount indicates the number of successful connects.
	ConnectCount atomic.Uint64
	// ConnAttemptCount indicates the number of dial attempts.
	ConnAttemptCount atomic.Uint64
	// ConnRetryGauge indicates the number of failed attempts of the current connect cycle.
	ConnRetryGauge atomic.Uint32

	// LineSendCount indicates the number of lines written.
	LineSendCount atomic.Uint64
	// LineRecvCount indicates the number of lines read.
	LineRecvCount atomic.Uint64
	// ByteSendCount indicates the number of bytes written, terminators included.
	ByteSendCount atomic.Uint64
	// ByteRecvCount indicates the number of bytes read.
	ByteRecvCount atomic.Uint64

	// FaultCount indicates the number of I/O faults.
	FaultCount atomic.Uint64
	// EmptyResponseCount indicates the number of times the peer closed the stream.
	EmptyResponseCount atomic.Uint64
}

func (m *Metrics) incConnectCount() {
	m.ConnectCount.Add(1)
}

func (m *Metrics) incConnAttemptCount() {
	m.ConnAttemptCount.Add(1)
}

func (m *Metrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *Metrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}

func (m *Metrics) addSent(n int) {
	m.LineSendCount.Add(1)
	m.ByteSendCount.Add(uint64(n)) //nolint:gosec
}

func (m *Metrics) addRecv(n int) {
	m.LineRecvCount.Add(1)
	m.ByteRecvCount.Add(uint64(n)) //nolint:gosec
}

func (m *Metrics) incFaultCount() {
	m.FaultCount.Add(1)
}

func (m *Metrics) incEmptyResponseCount() {
	m.EmptyResponseCount.Add(1)
}
