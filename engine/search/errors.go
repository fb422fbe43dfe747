package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/WessleyAI/imagesearch/engine/domain"
	"github.com/WessleyAI/imagesearch/pkg/embed"
	"github.com/WessleyAI/imagesearch/pkg/resilience"
)

// Kind classifies a failed search for the caller.
type Kind string

const (
	KindInvalidQuery         Kind = "invalid_query"
	KindEmbeddingUnavailable Kind = "embedding_unavailable"
	KindEmbeddingFailed      Kind = "embedding_failed"
	KindDimensionMismatch    Kind = "dimension_mismatch"
	KindInternal             Kind = "internal"
)

// Error is the only error type returned by Service. Message is safe to show
// to callers; the cause is kept for logs and errors.Is.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("search: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("search: %s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// classify translates a component error into the envelope.
func classify(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	var dm *domain.DimensionMismatchError
	switch {
	case errors.Is(err, domain.ErrQueryTooLong):
		return &Error{Kind: KindInvalidQuery, Message: fmt.Sprintf("query exceeds %d characters", domain.MaxQueryRunes), cause: err}
	case errors.Is(err, domain.ErrInvalidQuery):
		return &Error{Kind: KindInvalidQuery, Message: "query must be non-empty text", cause: err}
	case errors.Is(err, resilience.ErrCircuitOpen):
		return &Error{Kind: KindEmbeddingUnavailable, Message: "embedding service unavailable", cause: err}
	case errors.As(err, &dm):
		return &Error{Kind: KindDimensionMismatch, Message: dm.Error(), cause: err}
	case errors.Is(err, domain.ErrZeroNorm), errors.Is(err, embed.ErrNonFinite), errors.Is(err, embed.ErrEmpty):
		return &Error{Kind: KindEmbeddingFailed, Message: "embedding service returned an unusable vector", cause: err}
	case errors.Is(err, domain.ErrEmbedding):
		msg := "embedding service failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "embedding service timed out"
		}
		return &Error{Kind: KindEmbeddingFailed, Message: msg, cause: err}
	default:
		return &Error{Kind: KindInternal, Message: "internal server error", cause: err}
	}
}
