package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ggoodman/mcp-obsidian-go/tools"
)

const (
	invocationsMetric = "mcp_obsidian.tool.invocations"
	latencyMetric     = "mcp_obsidian.tool.latency"
)

// ToolObserver records every tool call as a counter increment, a latency
// sample and a span.
type ToolObserver struct {
	tracer trace.Tracer

	invocations metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewToolObserver creates instruments on meter. tracer may be nil.
func NewToolObserver(meter metric.Meter, tracer trace.Tracer) (*ToolObserver, error) {
	invocations, err := meter.Int64Counter(
		invocationsMetric,
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		latencyMetric,
		metric.WithDescription("Tool latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &ToolObserver{tracer: tracer, invocations: invocations, latency: latency}, nil
}

// ObserveCall implements tools.Observer.
func (o *ToolObserver) ObserveCall(obs tools.Observation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", obs.ToolName),
		attribute.String("transport", string(obs.Transport)),
		attribute.Bool("success", obs.Success),
	}
	if obs.ErrorKind != "" {
		attrs = append(attrs, attribute.String("error_kind", obs.ErrorKind))
	}

	ctx := context.Background()
	opts := metric.WithAttributes(attrs...)
	o.invocations.Add(ctx, 1, opts)
	o.latency.Record(ctx, obs.Duration.Seconds(), opts)

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(attrs...))
	if obs.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, obs.ErrorKind)
	}
	span.End()
}

var _ tools.Observer = (*ToolObserver)(nil)
