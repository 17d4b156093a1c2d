package link

import (
	"sync/atomic"
)

// Metrics contains atomic metrics for a Dispatcher.
type Metrics struct {
	// SubmitCount indicates the number of accepted submissions.
	SubmitCount atomic.Uint64
	// SendCount indicates the number of command lines written completely.
	SendCount atomic.Uint64
	// SuccessCount indicates the number of commands resolved without error.
	SuccessCount atomic.Uint64
	// FailCount indicates the number of commands resolved with an error.
	FailCount atomic.Uint64
	// SkipCount indicates the number of commands abandoned by their submitter before transmission.
	SkipCount atomic.Uint64
	// RejectCount indicates the number of submissions refused with ErrQueueFull.
	RejectCount atomic.Uint64

	// ConnectCount indicates the number of connect cycles started by the dispatcher.
	ConnectCount atomic.Uint64
	// ReconnectCount indicates the number of connect cycles triggered by a fault.
	ReconnectCount atomic.Uint64

	// InflightGauge indicates the number of commands being transmitted or awaiting a reply.
	InflightGauge atomic.Int64
}

func (m *Metrics) incSubmitCount() {
	m.SubmitCount.Add(1)
}

func (m *Metrics) incSendCount() {
	m.SendCount.Add(1)
}

func (m *Metrics) incSuccessCount() {
	m.SuccessCount.Add(1)
}

func (m *Metrics) incFailCount() {
	m.FailCount.Add(1)
}

func (m *Metrics) incSkipCount() {
	m.SkipCount.Add(1)
}

func (m *Metrics) incRejectCount() {
	m.RejectCount.Add(1)
}

func (m *Metrics) incConnectCount() {
	m.ConnectCount.Add(1)
}

func (m *Metrics) incReconnectCount() {
	m.ReconnectCount.Add(1)
}

func (m *Metrics) incInflight() {
	m.InflightGauge.Add(1)
}

func (m *Metrics) decInflight() {
	m.InflightGauge.Add(-1)
}
