package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("premium-ledger")

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cid := utils.EnsureCorrelationId(ctx)
	attrs = append(attrs, attribute.String("correlation_id", cid))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan marks infrastructure failures as span errors; business rejections are recorded as events only.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !utils.IsBusinessRejection(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
