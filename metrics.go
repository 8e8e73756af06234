package tensorkv

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    pushCounter   prometheus.Counter
//	    pullHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordPush(duration time.Duration, err error) {
//	    p.pushCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordInit is called after each init operation.
	// duration is the total time taken, err is nil if successful.
	RecordInit(duration time.Duration, err error)

	// RecordPush is called after each push enqueue.
	RecordPush(duration time.Duration, err error)

	// RecordPull is called after each pull enqueue.
	RecordPull(duration time.Duration, err error)

	// RecordRowSparsePull is called after each row-sparse pull enqueue.
	RecordRowSparsePull(duration time.Duration, err error)

	// RecordWaitAll is called after each barrier.
	RecordWaitAll(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInit(time.Duration, error)          {}
func (NoopMetricsCollector) RecordPush(time.Duration, error)          {}
func (NoopMetricsCollector) RecordPull(time.Duration, error)          {}
func (NoopMetricsCollector) RecordRowSparsePull(time.Duration, error) {}
func (NoopMetricsCollector) RecordWaitAll(time.Duration, error)       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InitCount               atomic.Int64
	InitErrors              atomic.Int64
	PushCount               atomic.Int64
	PushErrors              atomic.Int64
	PushTotalNanos          atomic.Int64
	PullCount               atomic.Int64
	PullErrors              atomic.Int64
	PullTotalNanos          atomic.Int64
	RowSparsePullCount      atomic.Int64
	RowSparsePullErrors     atomic.Int64
	RowSparsePullTotalNanos atomic.Int64
	WaitAllCount            atomic.Int64
	WaitAllErrors           atomic.Int64
	WaitAllTotalNanos       atomic.Int64
}

// RecordInit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInit(duration time.Duration, err error) {
	b.InitCount.Add(1)
	if err != nil {
		b.InitErrors.Add(1)
	}
}

// RecordPush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPush(duration time.Duration, err error) {
	b.PushCount.Add(1)
	b.PushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PushErrors.Add(1)
	}
}

// RecordPull implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPull(duration time.Duration, err error) {
	b.PullCount.Add(1)
	b.PullTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PullErrors.Add(1)
	}
}

// RecordRowSparsePull implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRowSparsePull(duration time.Duration, err error) {
	b.RowSparsePullCount.Add(1)
	b.RowSparsePullTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RowSparsePullErrors.Add(1)
	}
}

// RecordWaitAll implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWaitAll(duration time.Duration, err error) {
	b.WaitAllCount.Add(1)
	b.WaitAllTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WaitAllErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InitCount:           b.InitCount.Load(),
		InitErrors:          b.InitErrors.Load(),
		PushCount:           b.PushCount.Load(),
		PushErrors:          b.PushErrors.Load(),
		PushAvgNanos:        avgNanos(&b.PushTotalNanos, &b.PushCount),
		PullCount:           b.PullCount.Load(),
		PullErrors:          b.PullErrors.Load(),
		PullAvgNanos:        avgNanos(&b.PullTotalNanos, &b.PullCount),
		RowSparsePullCount:  b.RowSparsePullCount.Load(),
		RowSparsePullErrors: b.RowSparsePullErrors.Load(),
		WaitAllCount:        b.WaitAllCount.Load(),
		WaitAllErrors:       b.WaitAllErrors.Load(),
		WaitAllAvgNanos:     avgNanos(&b.WaitAllTotalNanos, &b.WaitAllCount),
	}
}

func avgNanos(total, count *atomic.Int64) int64 {
	n := count.Load()
	if n == 0 {
		return 0
	}
	return total.Load() / n
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InitCount           int64
	InitErrors          int64
	PushCount           int64
	PushErrors          int64
	PushAvgNanos        int64
	PullCount           int64
	PullErrors          int64
	PullAvgNanos        int64
	RowSparsePullCount  int64
	RowSparsePullErrors int64
	WaitAllCount        int64
	WaitAllErrors       int64
	WaitAllAvgNanos     int64
}
