package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies pipeline failures so the driver can report them and pick an exit code.
type Kind string

const (
	KindSourceUnavailable Kind = "source_unavailable"
	KindSchemaMismatch    Kind = "schema_mismatch"
	KindMissingKey        Kind = "missing_key"
	KindInvalidConfig     Kind = "invalid_config"
	KindInternal          Kind = "internal"
)

// Sentinels for errors.Is. They match any PipelineError of the same kind.
var (
	ErrSourceUnavailable = &PipelineError{Kind: KindSourceUnavailable}
	ErrSchemaMismatch    = &PipelineError{Kind: KindSchemaMismatch}
	ErrMissingKey        = &PipelineError{Kind: KindMissingKey}
	ErrInvalidConfig     = &PipelineError{Kind: KindInvalidConfig}
)

// PipelineError is a failure of one pipeline stage with its kind and context
type PipelineError struct {
	Kind    Kind   `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
	Context string `json:"-"` // file, column or source that caused the failure
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Stage != "" {
		msg = fmt.Sprintf("%s stage: %s", e.Stage, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind. A sentinel has no message and no stage.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	if t.Message == "" && t.Stage == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// WithContext attaches the offending file, column or source name
func (e *PipelineError) WithContext(context string) *PipelineError {
	e.Context = context
	return e
}

// WithStage records which stage failed
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// NewSourceUnavailableError creates an error for a missing or unreadable source extract
func NewSourceUnavailableError(message string, err error) *PipelineError {
	return &PipelineError{
		Kind:    KindSourceUnavailable,
		Message: message,
		Err:     err,
	}
}

// NewSchemaMismatchError creates an error for a projection referencing an absent column
func NewSchemaMismatchError(message string, err error) *PipelineError {
	return &PipelineError{
		Kind:    KindSchemaMismatch,
		Message: message,
		Err:     err,
	}
}

// NewMissingKeyError creates an error for an extract without the join key
func NewMissingKeyError(message string, err error) *PipelineError {
	return &PipelineError{
		Kind:    KindMissingKey,
		Message: message,
		Err:     err,
	}
}

// NewInvalidConfigError creates an error for a configuration that failed validation
func NewInvalidConfigError(message string, err error) *PipelineError {
	return &PipelineError{
		Kind:    KindInvalidConfig,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates an error for anything that is not one of the documented kinds
func NewInternalError(message string, err error) *PipelineError {
	return &PipelineError{
		Kind:    KindInternal,
		Message: message,
		Err:     err,
	}
}

// WrapError attaches a stage to err.
// An existing PipelineError keeps its kind and context. Anything else becomes an internal error.
func WrapError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		msg := pipeErr.Message
		if msg == "" {
			msg = string(pipeErr.Kind)
		}
		// keep prefixes such as "master extract: " added on the way up
		if prefix, ok := strings.CutSuffix(err.Error(), pipeErr.Error()); ok {
			msg = prefix + msg
		}
		return &PipelineError{
			Kind:    pipeErr.Kind,
			Stage:   stage,
			Message: msg,
			Err:     pipeErr.Err,
			Context: pipeErr.Context,
		}
	}

	return NewInternalError("unexpected failure", err).WithStage(stage)
}

// KindOf returns the kind of the first PipelineError in the chain, or KindInternal.
func KindOf(err error) Kind {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Kind
	}
	return KindInternal
}

// StageOf returns the failed stage recorded in the chain, if any.
func StageOf(err error) string {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Stage
	}
	return ""
}

// ExitCode maps an error to the process exit code used by the CLI tools
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindSourceUnavailable:
		return 2
	case KindSchemaMismatch:
		return 3
	case KindMissingKey:
		return 4
	case KindInvalidConfig:
		return 5
	default:
		return 1
	}
}
