// Package errs defines the pipeline error taxonomy.
//
// Sentinel errors classify failures so callers can use errors.Is for
// typed assertions rather than string matching. PipelineError wraps an
// underlying error with its classification and the failing operation.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed chunk metadata or request input.
	ErrValidation = errors.New("validation failed")

	// ErrSessionNotFound indicates an unknown upload session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates a session past its deadline; the client
	// must restart the upload, partial chunks are reclaimed.
	ErrSessionExpired = errors.New("session expired")

	// ErrMergeInProgress indicates another caller holds the merge flag.
	ErrMergeInProgress = errors.New("merge already in progress")

	// ErrReconnectRequired indicates the refresh token is expired or was
	// rejected by the platform; unrecoverable without user re-authorization.
	ErrReconnectRequired = errors.New("platform reconnect required")

	// ErrCredentialNotFound indicates no stored credential for the owner.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrUpstreamSubmission indicates the platform rejected the publish.
	ErrUpstreamSubmission = errors.New("platform rejected submission")

	// ErrPollTimeout indicates status polling exhausted its attempt budget
	// without observing a terminal state. The persisted job is untouched.
	ErrPollTimeout = errors.New("status polling timed out")

	// ErrPartialCleanup indicates one or more cleanup targets failed to
	// delete. Never escalated to fail the pipeline.
	ErrPartialCleanup = errors.New("partial cleanup failure")
)

// PipelineError wraps an underlying error with its taxonomy kind and the
// operation that failed. The original error stays in the chain for
// errors.As inspection.
type PipelineError struct {
	Kind error
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Wrap classifies err under kind for operation op. Returns nil if err is nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// New creates a classified error with no underlying cause.
func New(kind error, op string) error {
	return &PipelineError{Kind: kind, Op: op}
}

// Sanitize maps err to a user-safe message. Internal identifiers, storage
// paths, and credential material never leave through this path; operators
// get full detail from logs instead.
func Sanitize(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "invalid request"
	case errors.Is(err, ErrSessionNotFound):
		return "upload session not found"
	case errors.Is(err, ErrSessionExpired):
		return "upload session expired, restart the upload"
	case errors.Is(err, ErrMergeInProgress):
		return "upload is already being finalized"
	case errors.Is(err, ErrReconnectRequired):
		return "platform connection expired, please reconnect your account"
	case errors.Is(err, ErrUpstreamSubmission):
		return "the platform rejected the publish request"
	case errors.Is(err, ErrPollTimeout):
		return "publish is still processing, check back later"
	case errors.Is(err, ErrPartialCleanup):
		return "some temporary files could not be removed"
	default:
		return "internal error"
	}
}
