package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("trench.execution")
	meter  = otel.Meter("trench.execution")
)

type metrics struct {
	once sync.Once

	nodeLatency     metric.Float64Histogram
	nodeSuccesses   metric.Int64Counter
	nodeFailures    metric.Int64Counter
	activeNodes     metric.Int64UpDownCounter
	passLatency     metric.Float64Histogram
	updatersApplied metric.Int64Counter
}

// init creates the instruments on first use. A failed instrument is logged
// and left nil.
func (m *metrics) init(log *slog.Logger) {
	m.once.Do(func() {
		var initErrors []string

		var err error
		m.nodeLatency, err = meter.Float64Histogram("trench_node_duration_seconds",
			metric.WithDescription("Time spent evaluating each node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		m.nodeSuccesses, err = meter.Int64Counter("trench_node_success_total",
			metric.WithDescription("Number of successful node evaluations"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_successes: "+err.Error())
		}

		m.nodeFailures, err = meter.Int64Counter("trench_node_failure_total",
			metric.WithDescription("Number of failed node evaluations"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}

		m.activeNodes, err = meter.Int64UpDownCounter("trench_active_nodes",
			metric.WithDescription("Number of nodes currently holding a queue slot"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_nodes: "+err.Error())
		}

		m.passLatency, err = meter.Float64Histogram("trench_pass_duration_seconds",
			metric.WithDescription("Time spent processing one event"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "pass_latency: "+err.Error())
		}

		m.updatersApplied, err = meter.Int64Counter("trench_state_updaters_applied_total",
			metric.WithDescription("Number of state updaters applied on commit"),
		)
		if err != nil {
			initErrors = append(initErrors, "updaters_applied: "+err.Error())
		}

		if len(initErrors) > 0 {
			log.Error("failed to initialize some engine metrics",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

func (m *metrics) recordNode(ctx context.Context, fnType string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("fn_type", fnType))
	if m.nodeLatency != nil {
		m.nodeLatency.Record(ctx, d.Seconds(), attrs)
	}
	if err != nil {
		if m.nodeFailures != nil {
			m.nodeFailures.Add(ctx, 1, attrs)
		}
		return
	}
	if m.nodeSuccesses != nil {
		m.nodeSuccesses.Add(ctx, 1, attrs)
	}
}

func (m *metrics) nodeActive(ctx context.Context, delta int64) {
	if m.activeNodes != nil {
		m.activeNodes.Add(ctx, delta)
	}
}

func (m *metrics) recordPass(ctx context.Context, eventType string, d time.Duration) {
	if m.passLatency != nil {
		m.passLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("event_type", eventType)))
	}
}

func (m *metrics) recordUpdaters(ctx context.Context, n int) {
	if m.updatersApplied != nil && n > 0 {
		m.updatersApplied.Add(ctx, int64(n))
	}
}
