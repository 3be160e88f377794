package offline

import (
	"sync/atomic"
	"time"
)

type Metrics struct {
	RemoteCalls    int64 `json:"remote_calls"`
	RemoteFailures int64 `json:"remote_failures"`
	Enqueued       int64 `json:"enqueued"`
	Replayed       int64 `json:"replayed"`
	ReplayFailures int64 `json:"replay_failures"`
	Dropped        int64 `json:"dropped"`
	CacheFallbacks int64 `json:"cache_fallbacks"`
	StartTime      int64 `json:"start_time"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		StartTime: time.Now().Unix(),
	}
}

func (m *Metrics) RecordRemote(err error) {
	atomic.AddInt64(&m.RemoteCalls, 1)
	if err != nil {
		atomic.AddInt64(&m.RemoteFailures, 1)
	}
}

func (m *Metrics) RecordEnqueue() {
	atomic.AddInt64(&m.Enqueued, 1)
}

func (m *Metrics) RecordReplay(err error) {
	if err != nil {
		atomic.AddInt64(&m.ReplayFailures, 1)
		return
	}
	atomic.AddInt64(&m.Replayed, 1)
}

func (m *Metrics) RecordDrop() {
	atomic.AddInt64(&m.Dropped, 1)
}

func (m *Metrics) RecordCacheFallback() {
	atomic.AddInt64(&m.CacheFallbacks, 1)
}

func (m *Metrics) GetStats() Metrics {
	return Metrics{
		RemoteCalls:    atomic.LoadInt64(&m.RemoteCalls),
		RemoteFailures: atomic.LoadInt64(&m.RemoteFailures),
		Enqueued:       atomic.LoadInt64(&m.Enqueued),
		Replayed:       atomic.LoadInt64(&m.Replayed),
		ReplayFailures: atomic.LoadInt64(&m.ReplayFailures),
		Dropped:        atomic.LoadInt64(&m.Dropped),
		CacheFallbacks: atomic.LoadInt64(&m.CacheFallbacks),
		StartTime:      m.StartTime,
	}
}

// FailureRate is the percentage of remote calls that failed.
func (m *Metrics) FailureRate() float64 {
	calls := atomic.LoadInt64(&m.RemoteCalls)
	if calls == 0 {
		return 0.0
	}
	return float64(atomic.LoadInt64(&m.RemoteFailures)) / float64(calls) * 100.0
}
