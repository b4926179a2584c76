package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pike-lsp/pikels/internal/compilecache"
	"github.com/pike-lsp/pikels/internal/scheduler"
)

const (
	metricCacheHits      = "pikels.cache.hits"
	metricCacheMisses    = "pikels.cache.misses"
	metricCacheEvictions = "pikels.cache.evictions"
	metricCacheSize      = "pikels.cache.size"
	metricCacheMaxSize   = "pikels.cache.max_size"
)

// CacheStatsFunc returns a point-in-time snapshot of compile cache stats.
type CacheStatsFunc func() compilecache.Stats

// CacheMetrics exposes compile cache hit/miss/eviction counters and size
// gauges as OTel instruments, sampled from a stats snapshot on each
// collection cycle.
type CacheMetrics struct {
	hits      metric.Int64ObservableCounter
	misses    metric.Int64ObservableCounter
	evictions metric.Int64ObservableCounter
	size      metric.Int64ObservableGauge
	maxSize   metric.Int64ObservableGauge
}

// NewCacheMetrics creates cache OTel instruments and registers a callback
// that samples statsFn on each collection cycle.
func NewCacheMetrics(mt metric.Meter, statsFn CacheStatsFunc) (*CacheMetrics, error) {
	b := newMetricBuilder(mt)

	cm := &CacheMetrics{
		hits:      b.observableCounter(metricCacheHits, "Total compile cache hits", "{hit}"),
		misses:    b.observableCounter(metricCacheMisses, "Total compile cache misses", "{miss}"),
		evictions: b.observableCounter(metricCacheEvictions, "Total compile cache evictions", "{eviction}"),
		size:      b.gauge(metricCacheSize, "Current number of cached paths", "{path}"),
		maxSize:   b.gauge(metricCacheMaxSize, "Maximum number of cached paths", "{path}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	_, err := mt.RegisterCallback(cm.observe(statsFn), cm.hits, cm.misses, cm.evictions, cm.size, cm.maxSize)
	if err != nil {
		return nil, fmt.Errorf("register cache metrics callback: %w", err)
	}

	return cm, nil
}

func (cm *CacheMetrics) observe(statsFn CacheStatsFunc) metric.Callback {
	return func(_ context.Context, obs metric.Observer) error {
		stats := statsFn()

		obs.ObserveInt64(cm.hits, stats.Hits)
		obs.ObserveInt64(cm.misses, stats.Misses)
		obs.ObserveInt64(cm.evictions, stats.Evictions)
		obs.ObserveInt64(cm.size, int64(stats.Size))
		obs.ObserveInt64(cm.maxSize, int64(stats.MaxSize))

		return nil
	}
}

const (
	metricSchedulerScheduled = "pikels.scheduler.scheduled"
	metricSchedulerStarted   = "pikels.scheduler.started"
	metricSchedulerCompleted = "pikels.scheduler.completed"
	metricSchedulerFailed    = "pikels.scheduler.failed"
	metricSchedulerCanceled  = "pikels.scheduler.canceled"
	metricSchedulerWait      = "pikels.scheduler.wait.seconds"

	attrClass = "class"
)

// SchedulerDispatchMetrics implements scheduler.Metrics, recording task
// lifecycle counts and queue wait time broken down by request class.
type SchedulerDispatchMetrics struct {
	scheduled metric.Int64Counter
	started   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	canceled  metric.Int64Counter
	wait      metric.Float64Histogram
}

// NewSchedulerDispatchMetrics creates OTel instruments for scheduler task
// lifecycle events.
func NewSchedulerDispatchMetrics(mt metric.Meter) (*SchedulerDispatchMetrics, error) {
	b := newMetricBuilder(mt)

	dm := &SchedulerDispatchMetrics{
		scheduled: b.counter(metricSchedulerScheduled, "Tasks scheduled", "{task}"),
		started:   b.counter(metricSchedulerStarted, "Tasks started", "{task}"),
		completed: b.counter(metricSchedulerCompleted, "Tasks completed", "{task}"),
		failed:    b.counter(metricSchedulerFailed, "Tasks failed", "{task}"),
		canceled:  b.counter(metricSchedulerCanceled, "Tasks canceled before starting", "{task}"),
		wait:      b.histogram(metricSchedulerWait, "Queue wait time before a task starts", "s"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return dm, nil
}

// Scheduled records a task entering the queue for the given class.
func (dm *SchedulerDispatchMetrics) Scheduled(class scheduler.Class) {
	dm.scheduled.Add(context.Background(), 1, metric.WithAttributes(attribute.Int(attrClass, int(class))))
}

// Started records a task leaving the queue to run.
func (dm *SchedulerDispatchMetrics) Started(class scheduler.Class) {
	dm.started.Add(context.Background(), 1, metric.WithAttributes(attribute.Int(attrClass, int(class))))
}

// Completed records a task finishing successfully, with the time it spent queued.
func (dm *SchedulerDispatchMetrics) Completed(class scheduler.Class, wait time.Duration) {
	attrs := metric.WithAttributes(attribute.Int(attrClass, int(class)))
	dm.completed.Add(context.Background(), 1, attrs)
	dm.wait.Record(context.Background(), wait.Seconds(), attrs)
}

// Failed records a task's work function returning an error.
func (dm *SchedulerDispatchMetrics) Failed(class scheduler.Class) {
	dm.failed.Add(context.Background(), 1, metric.WithAttributes(attribute.Int(attrClass, int(class))))
}

// Canceled records a queued task being superseded or dropped before it started.
func (dm *SchedulerDispatchMetrics) Canceled(class scheduler.Class) {
	dm.canceled.Add(context.Background(), 1, metric.WithAttributes(attribute.Int(attrClass, int(class))))
}

var _ scheduler.Metrics = (*SchedulerDispatchMetrics)(nil)

const metricAnalyzerRestarts = "pikels.analyzer.restarts"

// AnalyzerRestartFunc returns the current cumulative analyzer subprocess
// restart count.
type AnalyzerRestartFunc func() int

// NewAnalyzerRestartMetric registers an observable counter that samples
// restartFn on each collection cycle, reporting how many times the
// analyzer subprocess has been respawned after a crash.
func NewAnalyzerRestartMetric(mt metric.Meter, restartFn AnalyzerRestartFunc) error {
	counter, err := mt.Int64ObservableCounter(metricAnalyzerRestarts,
		metric.WithDescription("Cumulative analyzer subprocess restarts"),
		metric.WithUnit("{restart}"),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", metricAnalyzerRestarts, err)
	}

	_, err = mt.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(counter, int64(restartFn()))

		return nil
	}, counter)
	if err != nil {
		return fmt.Errorf("register analyzer restart metric callback: %w", err)
	}

	return nil
}
