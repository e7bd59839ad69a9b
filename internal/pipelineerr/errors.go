// Package pipelineerr defines the error taxonomy shared by every stage of
// the tile cache pipeline: validation, transient network, permanent HTTP,
// storage, and programmer/fatal errors.
package pipelineerr

import "fmt"

// Code classifies an Error into one of the pipeline's error categories.
type Code string

const (
	// CodeValidation marks a malformed spec, unknown layer, or out-of-range
	// coordinate. Fatal at spec-load time; no side effects have occurred.
	CodeValidation Code = "VALIDATION"

	// CodeTransient marks a retryable failure: connection refused, socket
	// timeout, 5xx, or a broken connection. Retried up to R times.
	CodeTransient Code = "TRANSIENT"

	// CodeBanned marks an HTTP 403 — likely banned by the tile server.
	// Surfaced as a warning; never persisted.
	CodeBanned Code = "BANNED"

	// CodeStorage marks a failure writing a blob or committing metadata.
	CodeStorage Code = "STORAGE"

	// CodeFatal marks an unexpected error that terminates the owning task.
	CodeFatal Code = "FATAL"
)

// Stage names the pipeline stage an Error originated in.
type Stage string

const (
	StageEnumerate Stage = "enumerate"
	StageCull      Stage = "cull"
	StageDownload  Stage = "download"
	StagePersist   Stage = "persist"
	StageSpec      Stage = "spec"
)

// Error is the structured error type threaded through the pipeline.
type Error struct {
	Code     Code
	Stage    Stage
	Message  string
	Guidance string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s[%s]: %s. %s", e.Code, e.Stage, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Code, e.Stage, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given code, stage and message.
func New(code Code, stage Stage, message string) *Error {
	return &Error{Code: code, Stage: stage, Message: message}
}

// Wrap creates an Error that records an underlying cause.
func Wrap(code Code, stage Stage, message string, cause error) *Error {
	return &Error{Code: code, Stage: stage, Message: message, Cause: cause}
}

// WithGuidance attaches operator-facing guidance to the error.
func (e *Error) WithGuidance(guidance string) *Error {
	e.Guidance = guidance
	return e
}

// FromHTTPStatus classifies a tile-server HTTP status per the wire contract
// in spec.md §6/§7: 403 is a likely-ban warning and every other status
// (including 200/404/302, which callers classify with IsTerminal and
// IsMissing before calling this) is reported as transient and retryable.
func FromHTTPStatus(stage Stage, statusCode int, message string) *Error {
	switch statusCode {
	case 403:
		return New(CodeBanned, stage, message).
			WithGuidance("tile server likely banned this client; tile not persisted")
	default:
		return New(CodeTransient, stage, message).
			WithGuidance("retryable HTTP status; will be retried up to the configured limit")
	}
}

// IsTerminal reports whether statusCode ends a worker's retry loop for a
// single tile, per spec.md §4.6/§6: 200, 404, 302 and 403 are terminal.
func IsTerminal(statusCode int) bool {
	switch statusCode {
	case 200, 404, 302, 403:
		return true
	default:
		return false
	}
}

// IsMissing reports whether statusCode should be recorded as the null-digest
// "known missing" sentinel, per spec.md's resolved open question: 404 and
// 302 both mean missing.
func IsMissing(statusCode int) bool {
	return statusCode == 404 || statusCode == 302
}
