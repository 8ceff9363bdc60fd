package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records framework-level measurements. Implementations must be
// safe for concurrent use.
type Metrics interface {
	RecordAgentRun(ctx context.Context, agent string, duration time.Duration, tokens int, err error)
	RecordModelCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
}

var (
	globalMetrics   Metrics = NoopMetrics{}
	globalMetricsMu sync.RWMutex
)

// SetGlobalMetrics installs the process-wide metrics recorder.
func SetGlobalMetrics(m Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics recorder.
func GetGlobalMetrics() Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	return globalMetrics
}

// PrometheusMetrics exposes measurements through the OTel prometheus
// bridge; scrape them from the server's /metrics endpoint.
type PrometheusMetrics struct {
	agentDuration metric.Float64Histogram
	agentRuns     metric.Int64Counter
	agentErrors   metric.Int64Counter
	agentTokens   metric.Int64Counter

	modelDuration     metric.Float64Histogram
	modelInputTokens  metric.Int64Counter
	modelOutputTokens metric.Int64Counter
	modelErrors       metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter
}

// InitMetrics builds a PrometheusMetrics backed by a fresh meter provider.
func InitMetrics() (*PrometheusMetrics, error) {
	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meter := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	).Meter("petrel")

	m := &PrometheusMetrics{}

	instruments := []struct {
		hist *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.agentDuration, "petrel_agent_run_duration_seconds", "Agent run duration in seconds"},
		{&m.modelDuration, "petrel_model_request_duration_seconds", "Model request duration in seconds"},
		{&m.toolDuration, "petrel_tool_execution_duration_seconds", "Tool execution duration in seconds"},
	}
	for _, inst := range instruments {
		h, err := meter.Float64Histogram(inst.name, metric.WithDescription(inst.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", inst.name, err)
		}
		*inst.hist = h
	}

	counters := []struct {
		counter *metric.Int64Counter
		name    string
		desc    string
	}{
		{&m.agentRuns, "petrel_agent_runs_total", "Total agent runs"},
		{&m.agentErrors, "petrel_agent_errors_total", "Total agent run errors"},
		{&m.agentTokens, "petrel_agent_tokens_total", "Total tokens used by agent runs"},
		{&m.modelInputTokens, "petrel_model_tokens_input_total", "Total input tokens sent to models"},
		{&m.modelOutputTokens, "petrel_model_tokens_output_total", "Total output tokens received from models"},
		{&m.modelErrors, "petrel_model_errors_total", "Total model request errors"},
		{&m.toolCalls, "petrel_tool_calls_total", "Total tool calls"},
		{&m.toolErrors, "petrel_tool_errors_total", "Total tool call errors"},
	}
	for _, inst := range counters {
		c, err := meter.Int64Counter(inst.name, metric.WithDescription(inst.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", inst.name, err)
		}
		*inst.counter = c
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordAgentRun(ctx context.Context, agent string, duration time.Duration, tokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("agent", agent))

	m.agentDuration.Record(ctx, duration.Seconds(), attrs)
	m.agentRuns.Add(ctx, 1, attrs)
	if tokens > 0 {
		m.agentTokens.Add(ctx, int64(tokens), attrs)
	}
	if err != nil {
		m.agentErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordModelCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))

	m.modelDuration.Record(ctx, duration.Seconds(), attrs)
	if inputTokens > 0 {
		m.modelInputTokens.Add(ctx, int64(inputTokens), attrs)
	}
	if outputTokens > 0 {
		m.modelOutputTokens.Add(ctx, int64(outputTokens), attrs)
	}
	if err != nil {
		m.modelErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))

	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) RecordAgentRun(context.Context, string, time.Duration, int, error)       {}
func (NoopMetrics) RecordModelCall(context.Context, string, time.Duration, int, int, error) {}
func (NoopMetrics) RecordToolCall(context.Context, string, time.Duration, error)            {}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
