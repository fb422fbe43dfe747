package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the store, index, builder and search service.
var (
	ErrInvalidQuery      = errors.New("invalid query")
	ErrQueryTooLong      = errors.New("query too long")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrEmptyCorpus       = errors.New("empty corpus")
	ErrImmutableStore    = errors.New("store is sealed")
	ErrZeroNorm          = errors.New("zero-norm embedding")
	ErrNotBuilt          = errors.New("index not built")
	ErrEmbedding         = errors.New("embedding failed")
	ErrInvalidImageName  = errors.New("invalid image name")
	ErrDuplicateID       = errors.New("duplicate image id")
)

// DimensionMismatchError reports a vector whose length differs from the
// configured dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// CheckDim returns a *DimensionMismatchError if len(v) != dim.
func CheckDim(v []float32, dim int) error {
	if len(v) != dim {
		return &DimensionMismatchError{Expected: dim, Actual: len(v)}
	}
	return nil
}

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
