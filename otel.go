package stepseq

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelAttrName      = "stepseq.name"
	otelAttrRunID     = "stepseq.run.id"
	otelAttrScenario  = "stepseq.scenario"
	otelAttrStep      = "stepseq.step"
	otelAttrStepIndex = "stepseq.step.index"
	otelAttrArgs      = "stepseq.args"
	otelAttrStyle     = "stepseq.style"
)

// WithOTelStepSpans wraps every handler invocation in an OpenTelemetry span.
// The span covers the synchronous part of the handler (issuing the
// operation); asynchronous completion is reported by the Observer.
func WithOTelStepSpans[T any](tr trace.Tracer) Middleware[T] {
	if tr == nil {
		tr = otel.Tracer("stepseq")
	}
	return func(next Handler[T]) Handler[T] {
		return func(ctx context.Context, c *Call[T]) error {
			info := c.info()
			spanName := fmt.Sprintf("%s %s", info.Sequencer, info.Step)
			ctx, span := tr.Start(ctx, strings.TrimSpace(spanName), trace.WithSpanKind(trace.SpanKindInternal))

			attrs := []attribute.KeyValue{
				attribute.String(otelAttrName, info.Sequencer),
				attribute.String(otelAttrRunID, info.RunID),
				attribute.String(otelAttrStep, info.Step),
				attribute.Int(otelAttrStepIndex, info.Index),
				attribute.String(otelAttrStyle, c.Style().String()),
			}
			if info.Scenario != "" {
				attrs = append(attrs, attribute.String(otelAttrScenario, info.Scenario))
			}
			if len(info.Args) > 0 {
				attrs = append(attrs, attribute.StringSlice(otelAttrArgs, renderTokens(info.Args)))
			}
			span.SetAttributes(attrs...)

			err := next(ctx, c)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
			return err
		}
	}
}
