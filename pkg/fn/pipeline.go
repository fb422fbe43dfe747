package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/WessleyAI/imagesearch/pkg/fn"

// Stage is one step of a pipeline.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then runs second on the output of first. It stops at the first error and
// does not start second once ctx is done.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		v, err := first(ctx, a).Unwrap()
		if err != nil {
			return Err[C](err)
		}
		if err := ctx.Err(); err != nil {
			return Err[C](err)
		}
		return second(ctx, v)
	}
}

// TracedStage wraps a stage with an OTel span named after the stage.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		span.SetAttributes(attribute.String("stage", name))
		result := stage(ctx, in)
		if _, err := result.Unwrap(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return result
	}
}
