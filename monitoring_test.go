package seqveil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryMetricsCollector(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	// Test counters
	collector.IncrementCounter("test.counter", map[string]string{"tag1": "value1"})
	collector.IncrementCounterBy("test.counter", 5, map[string]string{"tag1": "value1"})

	assert.Equal(t, int64(6), collector.GetCounterValue("test.counter", map[string]string{"tag1": "value1"}))
	assert.Equal(t, int64(0), collector.GetCounterValue("test.counter", map[string]string{"tag1": "value2"}))

	// Test timings
	duration := 100 * time.Millisecond
	collector.RecordTiming("test.timing", duration, map[string]string{"operation": "test"})

	timings := collector.GetTimings()
	require.Len(t, timings, 1)
	assert.Equal(t, "test.timing", timings[0].Name)
	assert.Equal(t, duration, timings[0].Duration)
	assert.Equal(t, "test", timings[0].Tags["operation"])

	assert.NoError(t, collector.Flush())
}

func TestInMemoryMetricsCollectorKeyIsTagOrderIndependent(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	collector.IncrementCounter("test.counter", map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, int64(1), collector.GetCounterValue("test.counter", map[string]string{"b": "2", "a": "1"}))
}

func TestStandardObservabilityHook(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	hook := NewStandardObservabilityHook(collector)
	ctx := context.Background()

	attrs := map[string]string{
		"table":   "orders",
		"binding": "orders:id:public_id",
	}

	// Test operation start
	hook.OnOperationStart(ctx, "compose", attrs)
	assert.Equal(t, int64(1), collector.GetCounterValue("seqveil.operations.started", map[string]string{
		"operation": "compose",
		"table":     "orders",
		"binding":   "orders:id:public_id",
	}))

	// Test successful completion
	duration := 50 * time.Millisecond
	hook.OnOperationComplete(ctx, "compose", duration, nil, attrs)

	assert.Equal(t, int64(1), collector.GetCounterValue("seqveil.operations.completed", map[string]string{
		"operation": "compose",
		"table":     "orders",
		"binding":   "orders:id:public_id",
		"status":    "success",
	}))

	timings := collector.GetTimings()
	require.Len(t, timings, 1)
	assert.Equal(t, "seqveil.operations.duration", timings[0].Name)
	assert.Equal(t, duration, timings[0].Duration)

	// Test failed completion
	hook.OnOperationComplete(ctx, "compose", duration, assert.AnError, attrs)
	assert.Equal(t, int64(1), collector.GetCounterValue("seqveil.operations.failed", map[string]string{
		"operation": "compose",
		"table":     "orders",
		"binding":   "orders:id:public_id",
		"status":    "error",
	}))

	// Test error classification
	hook.OnError(ctx, "compose", NewInvalidParameterError("bits", 41, "must be even"), attrs)
	assert.Equal(t, int64(1), collector.GetCounterValue("seqveil.errors", map[string]string{
		"operation":  "compose",
		"table":      "orders",
		"binding":    "orders:id:public_id",
		"error_type": "invalid_parameter",
	}))
}

func TestStandardObservabilityHookDoesNotMutateAttrs(t *testing.T) {
	hook := NewStandardObservabilityHook(nil)
	attrs := map[string]string{"table": "orders"}

	hook.OnOperationStart(context.Background(), "compose", attrs)
	assert.Equal(t, map[string]string{"table": "orders"}, attrs)
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "none"},
		{"invalid parameter", NewInvalidParameterError("bits", -2, "must not be negative"), "invalid_parameter"},
		{"tampered", NewDerivedColumnTamperedError("public_id", Int64(1), Int64(2)), "derived_column_tampered"},
		{"reversibility", NewReversibilityFaultError("public_id", 42), "reversibility_fault"},
		{"configuration conflict", NewConfigurationConflictError("over budget"), "configuration_conflict"},
		{"guarded drop", NewGuardedDropError("schema seqveil"), "guarded_drop"},
		{"not found", ErrBindingNotFound, "binding_not_found"},
		{"exists", ErrBindingExists, "binding_exists"},
		{"unknown", assert.AnError, "general_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorType(tt.err))
		})
	}
}
