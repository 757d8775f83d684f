package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kfin-labs/dartdeep/internal/httpx"
	"github.com/kfin-labs/dartdeep/internal/llm"
)

// Kind classifies pipeline failures across the tool boundary.
type Kind string

const (
	KindExpansionFailed   Kind = "ExpansionFailed"
	KindSearchUnavailable Kind = "SearchUnavailable"
	KindRateLimited       Kind = "RateLimited"
	KindFetchFailed       Kind = "FetchFailed"
	KindLLMUnavailable    Kind = "LLMUnavailable"
	KindCancelled         Kind = "Cancelled"
	KindInternal          Kind = "Internal"
)

// Error carries the phase and kind of a pipeline failure.
type Error struct {
	Phase string
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Phase, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func phaseErr(phase string, kind Kind, err error) *Error {
	return &Error{Phase: phase, Kind: kind, Err: err}
}

// ClassifyKind maps an arbitrary error to its envelope kind.
func ClassifyKind(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, httpx.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, llm.ErrUnavailable):
		return KindLLMUnavailable
	default:
		return KindInternal
	}
}
