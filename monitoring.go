package seqveil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector defines the interface for collecting and reporting metrics
type MetricsCollector interface {
	// Counters
	IncrementCounter(name string, tags map[string]string)
	IncrementCounterBy(name string, value int64, tags map[string]string)

	// Histograms/Timing
	RecordTiming(name string, duration time.Duration, tags map[string]string)

	// Flush any buffered metrics
	Flush() error
}

// ObservabilityHook defines hooks for monitoring identifier operations
type ObservabilityHook interface {
	// Called before an operation starts
	OnOperationStart(ctx context.Context, operation string, attrs map[string]string)

	// Called after an operation completes (success or failure)
	OnOperationComplete(ctx context.Context, operation string, duration time.Duration, err error, attrs map[string]string)

	// Called when errors occur
	OnError(ctx context.Context, operation string, err error, attrs map[string]string)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) IncrementCounter(name string, tags map[string]string)                     {}
func (n *NoOpMetricsCollector) IncrementCounterBy(name string, value int64, tags map[string]string)      {}
func (n *NoOpMetricsCollector) RecordTiming(name string, duration time.Duration, tags map[string]string) {}
func (n *NoOpMetricsCollector) Flush() error                                                             { return nil }

// NoOpObservabilityHook is a no-op implementation of ObservabilityHook
type NoOpObservabilityHook struct{}

func (n *NoOpObservabilityHook) OnOperationStart(ctx context.Context, operation string, attrs map[string]string) {
}
func (n *NoOpObservabilityHook) OnOperationComplete(ctx context.Context, operation string, duration time.Duration, err error, attrs map[string]string) {
}
func (n *NoOpObservabilityHook) OnError(ctx context.Context, operation string, err error, attrs map[string]string) {
}

// InMemoryMetricsCollector is a simple in-memory implementation for testing and development
type InMemoryMetricsCollector struct {
	mu       sync.Mutex
	counters map[string]*int64
	timings  []TimingMetric
}

type TimingMetric struct {
	Name     string
	Duration time.Duration
	Tags     map[string]string
	Time     time.Time
}

// NewInMemoryMetricsCollector creates a new in-memory metrics collector
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters: make(map[string]*int64),
		timings:  make([]TimingMetric, 0),
	}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, tags map[string]string) {
	m.IncrementCounterBy(name, 1, tags)
}

func (m *InMemoryMetricsCollector) IncrementCounterBy(name string, value int64, tags map[string]string) {
	key := m.buildKey(name, tags)

	m.mu.Lock()
	counter, exists := m.counters[key]
	if !exists {
		counter = new(int64)
		m.counters[key] = counter
	}
	m.mu.Unlock()

	atomic.AddInt64(counter, value)
}

func (m *InMemoryMetricsCollector) RecordTiming(name string, duration time.Duration, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings = append(m.timings, TimingMetric{
		Name:     name,
		Duration: duration,
		Tags:     m.copyTags(tags),
		Time:     time.Now(),
	})
}

func (m *InMemoryMetricsCollector) Flush() error {
	// Nothing to flush for in-memory implementation
	return nil
}

// GetCounterValue returns the current value of a counter
func (m *InMemoryMetricsCollector) GetCounterValue(name string, tags map[string]string) int64 {
	key := m.buildKey(name, tags)

	m.mu.Lock()
	counter, exists := m.counters[key]
	m.mu.Unlock()

	if exists {
		return atomic.LoadInt64(counter)
	}
	return 0
}

// GetTimings returns all recorded timing metrics
func (m *InMemoryMetricsCollector) GetTimings() []TimingMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TimingMetric(nil), m.timings...)
}

func (m *InMemoryMetricsCollector) buildKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}

	// Sort tags to ensure deterministic key generation
	var keys []string
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := name
	for _, k := range keys {
		key += "," + k + ":" + tags[k]
	}
	return key
}

func (m *InMemoryMetricsCollector) copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}

	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}
	return copied
}

// StandardObservabilityHook forwards operation lifecycle events to a
// MetricsCollector.
type StandardObservabilityHook struct {
	metrics MetricsCollector
}

// NewStandardObservabilityHook creates a new standard observability hook
func NewStandardObservabilityHook(metrics MetricsCollector) *StandardObservabilityHook {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}

	return &StandardObservabilityHook{
		metrics: metrics,
	}
}

func (h *StandardObservabilityHook) OnOperationStart(ctx context.Context, operation string, attrs map[string]string) {
	tags := cloneTags(attrs)
	tags["operation"] = operation

	h.metrics.IncrementCounter("seqveil.operations.started", tags)
}

func (h *StandardObservabilityHook) OnOperationComplete(ctx context.Context, operation string, duration time.Duration, err error, attrs map[string]string) {
	tags := cloneTags(attrs)
	tags["operation"] = operation

	if err != nil {
		tags["status"] = "error"
		h.metrics.IncrementCounter("seqveil.operations.failed", tags)
	} else {
		tags["status"] = "success"
		h.metrics.IncrementCounter("seqveil.operations.completed", tags)
	}

	h.metrics.RecordTiming("seqveil.operations.duration", duration, tags)
}

func (h *StandardObservabilityHook) OnError(ctx context.Context, operation string, err error, attrs map[string]string) {
	tags := cloneTags(attrs)
	tags["operation"] = operation
	tags["error_type"] = errorType(err)

	h.metrics.IncrementCounter("seqveil.errors", tags)
}

func cloneTags(attrs map[string]string) map[string]string {
	tags := make(map[string]string, len(attrs)+2)
	for k, v := range attrs {
		tags[k] = v
	}
	return tags
}

func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrDerivedColumnTamperedWith):
		return "derived_column_tampered"
	case errors.Is(err, ErrReversibilityFault):
		return "reversibility_fault"
	case errors.Is(err, ErrConfigurationConflict):
		return "configuration_conflict"
	case errors.Is(err, ErrGuardedDrop):
		return "guarded_drop"
	case errors.Is(err, ErrBindingNotFound):
		return "binding_not_found"
	case errors.Is(err, ErrBindingExists):
		return "binding_exists"
	case errors.Is(err, ErrKeySourceUnavailable):
		return "key_source_unavailable"
	case errors.Is(err, ErrRegistryUnavailable):
		return "registry_unavailable"
	default:
		return "general_error"
	}
}
