// Package fn provides the small generic toolkit used to compose the index
// build pipeline: a Result type, context-aware stages and retry.
package fn

// Result carries either a value or the error that prevented it. Stages
// pass Results so a failure anywhere short-circuits the rest of a pipeline.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok wraps v as a successful Result.
func Ok[T any](v T) Result[T] { return Result[T]{val: v, ok: true} }

// Err wraps err as a failed Result.
func Err[T any](err error) Result[T] { return Result[T]{err: err} }

// FromPair adapts a conventional (value, error) return.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

func (r Result[T]) IsOk() bool { return r.ok }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Must returns the value and panics on error. Tests only.
func (r Result[T]) Must() T {
	if !r.ok {
		panic(r.err)
	}
	return r.val
}
