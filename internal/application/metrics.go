package application

import "sync/atomic"

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	SuccessfulLinks int64 `json:"successful_links"`
	FailedLinks     int64 `json:"failed_links"`
	LiveStreams     int64 `json:"live_streams"`
}

// Metrics counts link outcomes and detected live streams between reports.
type Metrics struct {
	successfulLinks atomic.Int64
	failedLinks     atomic.Int64
	liveStreams     atomic.Int64
}

// NewMetrics creates zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncSuccessfulLink() { m.successfulLinks.Add(1) }
func (m *Metrics) IncFailedLink()     { m.failedLinks.Add(1) }
func (m *Metrics) IncLiveStream()     { m.liveStreams.Add(1) }

// Snapshot reads the counters without resetting them.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		SuccessfulLinks: m.successfulLinks.Load(),
		FailedLinks:     m.failedLinks.Load(),
		LiveStreams:     m.liveStreams.Load(),
	}
}

// Drain returns the counters and resets each to zero.
func (m *Metrics) Drain() MetricsSnapshot {
	return MetricsSnapshot{
		SuccessfulLinks: m.successfulLinks.Swap(0),
		FailedLinks:     m.failedLinks.Swap(0),
		LiveStreams:     m.liveStreams.Swap(0),
	}
}
