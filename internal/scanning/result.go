package scanning

import (
	"encoding/json"
	"errors"
	"strings"
)

// Stage identifies one step of the extraction pipeline
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageMerge         Stage = "merge"
	StageQualityCheck  Stage = "quality_check"
	StageStructuring   Stage = "structuring"
)

var (
	ErrTranscription = errors.New("transcription failed")
	ErrMerge         = errors.New("merging failed")
	ErrQualityCheck  = errors.New("quality check failed")
	ErrStructuring   = errors.New("structuring failed")
	// ErrParse means the backend answered but its output could not be decoded.
	// It also matches ErrStructuring.
	ErrParse = errors.New("parse failed")
	// ErrValidation means decoded output broke the receipt schema.
	// It also matches ErrStructuring.
	ErrValidation = errors.New("validation failed")
)

// Error is a stage-tagged pipeline failure
type Error struct {
	Stage   Stage
	Kind    error
	Message string
	Cause   error
}

func newError(stage Stage, kind error, message string, cause error) *Error {
	return &Error{Stage: stage, Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes the kind, its parent kind and the cause to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 3)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Kind == ErrParse || e.Kind == ErrValidation {
		errs = append(errs, ErrStructuring)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// MarshalJSON renders the stage and the full message
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Stage   Stage  `json:"stage"`
		Message string `json:"message"`
	}{Stage: e.Stage, Message: e.Error()})
}

// Result is the success/error envelope every stage and the pipeline return.
// Success is true exactly when Error is nil.
type Result[T any] struct {
	Success     bool   `json:"success"`
	Data        T      `json:"data,omitempty"`
	Error       *Error `json:"error,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`
}

// Succeeded wraps data in a successful result
func Succeeded[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Failed wraps err in a failed result
func Failed[T any](err *Error) Result[T] {
	return Result[T]{Error: err}
}

// FailedWithRaw is Failed keeping the raw backend text for diagnostics
func FailedWithRaw[T any](err *Error, raw string) Result[T] {
	return Result[T]{Error: err, RawResponse: raw}
}

// Propagate re-types a failed result without touching its error or raw response
func Propagate[U, T any](r Result[T]) Result[U] {
	return Result[U]{Error: r.Error, RawResponse: r.RawResponse}
}

// Err returns the failure as an error, or nil on success
func (r Result[T]) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}
