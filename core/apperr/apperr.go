// Package apperr defines the error kinds reported by the song pipeline.
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类型
type Kind string

const (
	KindResolution Kind = "ResolutionError" // bad or unreachable URL, content gone
	KindFetch      Kind = "FetchError"      // download / transcode failure
	KindAnalysis   Kind = "AnalysisError"   // decode / DSP failure
	KindCache      Kind = "CacheError"      // I/O on the song store
	KindNotFound   Kind = "NotFound"        // no persisted record for the id
)

// Error carries the kind and, once the orchestrator has seen it, the stage it failed in.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadInput reports whether resubmitting the same request can never succeed.
func (e *Error) BadInput() bool {
	return e.Kind == KindResolution || e.Kind == KindNotFound
}

// New wraps err with a kind. A nil err yields nil.
func New(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a kinded error from a format string; %w is honoured.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// As extracts the *Error from a chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// WithStage attaches the stage, keeping an existing kind or falling back to kind.
func WithStage(err error, stage string, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		if e.Stage == stage {
			return e
		}
		return &Error{Kind: e.Kind, Stage: stage, Err: e.Err}
	}
	return &Error{Kind: fallback, Stage: stage, Err: err}
}
