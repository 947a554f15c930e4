package spreadsheet

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("recalc.spreadsheet")
	meter  = otel.Meter("recalc.spreadsheet")
)

var (
	passDuration     metric.Float64Histogram
	verticesTotal    metric.Int64Counter
	circularTotal    metric.Int64Counter
	recoveredPanics  metric.Int64Counter
	metricsOnce      sync.Once
	metricsInitError error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		passDuration, err = meter.Float64Histogram(
			"recalc_pass_duration_seconds",
			metric.WithDescription("Duration of recalculation passes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsInitError = err
			return
		}

		verticesTotal, err = meter.Int64Counter(
			"recalc_vertices_evaluated_total",
			metric.WithDescription("Formula vertices evaluated across passes"),
		)
		if err != nil {
			metricsInitError = err
			return
		}

		circularTotal, err = meter.Int64Counter(
			"recalc_circular_groups_total",
			metric.WithDescription("Groups resolved as circular references"),
		)
		if err != nil {
			metricsInitError = err
			return
		}

		recoveredPanics, err = meter.Int64Counter(
			"recalc_recovered_panics_total",
			metric.WithDescription("Panics converted to #N/A during evaluation"),
		)
		if err != nil {
			metricsInitError = err
			return
		}
	})
	return metricsInitError
}

// startPassSpan creates a span for one recalculation pass
func startPassSpan(ctx context.Context, full bool, dirty int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.CalculateSheet",
		trace.WithAttributes(
			attribute.Bool("recalc.full", full),
			attribute.Int("recalc.dirty", dirty),
		),
	)
}

// endPassSpan records the outcome of a pass on its span and closes it
func endPassSpan(span trace.Span, groups, evaluated, circular int) {
	span.SetAttributes(
		attribute.Int("recalc.groups", groups),
		attribute.Int("recalc.evaluated", evaluated),
		attribute.Int("recalc.circular_groups", circular),
	)
	if circular > 0 {
		span.SetStatus(codes.Error, "circular references")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func recordPassMetrics(ctx context.Context, duration time.Duration, full bool, evaluated, circular int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("full", full))
	passDuration.Record(ctx, duration.Seconds(), attrs)
	verticesTotal.Add(ctx, int64(evaluated), attrs)
	if circular > 0 {
		circularTotal.Add(ctx, int64(circular))
	}
}

func recordRecoveredPanic() {
	if err := initMetrics(); err != nil {
		return
	}
	recoveredPanics.Add(context.Background(), 1)
}
