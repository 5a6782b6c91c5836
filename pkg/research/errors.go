package research

import (
	"errors"
	"fmt"
)

var (
	// ErrPlanning means query generation produced nothing usable.
	ErrPlanning = errors.New("query planning failed")
	// ErrRetrieval means every query of a round failed.
	ErrRetrieval = errors.New("retrieval failed for every query")
	// ErrSummarization marks a per-query summary that could not be produced.
	ErrSummarization = errors.New("summarization failed")
	// ErrReflection means the evaluator could not produce a score.
	ErrReflection = errors.New("reflection failed")
	// ErrSynthesis means no report could be composed.
	ErrSynthesis = errors.New("report synthesis failed")
)

// RequestError is a terminal failure of a research request. Partial carries
// whatever the request had committed when it failed.
type RequestError struct {
	Err     error
	Partial Result
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("research request failed after %d iterations: %v", e.Partial.Iterations, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Outcome is the result of a provider call: either a value or a soft
// failure with its reason.
type Outcome[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// OK reports whether the call succeeded.
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

func succeeded[T any](v T, attempts int) Outcome[T] {
	return Outcome[T]{Value: v, Attempts: attempts}
}

func softFailed[T any](err error, attempts int) Outcome[T] {
	return Outcome[T]{Err: err, Attempts: attempts}
}
