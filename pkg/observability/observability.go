// Package observability wires OpenTelemetry tracing and metrics. Callers
// use the global accessors; when telemetry is disabled they get noop
// implementations and pay nothing.
package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrelhq/petrel/pkg/config"
)

// Span and attribute names used across the framework.
const (
	SpanAgentRun        = "agent.run"
	SpanWorkflowRun     = "workflow.run"
	SpanModelRequest    = "model.request"
	SpanToolExecution   = "tool.execution"
	SpanMemoryUpdate    = "memory.update"
	SpanKnowledgeSearch = "knowledge.search"

	AttrAgentName         = "agent.name"
	AttrWorkflowName      = "workflow.name"
	AttrStepName          = "step.name"
	AttrModelName         = "model.name"
	AttrModelProvider     = "model.provider"
	AttrToolName          = "tool.name"
	AttrSessionID         = "session.id"
	AttrModelTokensInput  = "model.tokens.input"
	AttrModelTokensOutput = "model.tokens.output"
)

// Manager owns the tracer provider and metrics for one process.
type Manager struct {
	cfg            config.TelemetryConfig
	tracerProvider trace.TracerProvider
	shutdown       func(context.Context) error
	mu             sync.Mutex
}

// NewManager creates an uninitialized manager.
func NewManager(cfg config.TelemetryConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Init sets up exporters and installs global providers. With telemetry
// disabled it installs noops.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.Enabled {
		SetGlobalMetrics(NoopMetrics{})
		return nil
	}

	exporter, err := newSpanExporter(ctx, m.cfg)
	if err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(m.cfg.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	m.tracerProvider = tp

	metrics, err := InitMetrics()
	if err != nil {
		return err
	}
	SetGlobalMetrics(metrics)

	m.shutdown = tp.Shutdown
	return nil
}

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
