package models

import (
	"errors"
	"fmt"
)

// Benign and guard errors of the synchronisation core.
var (
	// ErrEndOfCollection is returned when fetching past the last page.
	ErrEndOfCollection = errors.New("end of collection")
	// ErrNoMoreData is returned by LoadMore on an exhausted list.
	ErrNoMoreData = errors.New("no more data")
	// ErrLoadInProgress rejects a LoadMore issued while another is in flight.
	ErrLoadInProgress = errors.New("load already in progress")
	// ErrMutationInProgress rejects a follow/unfollow on a profile with one pending.
	ErrMutationInProgress = errors.New("mutation already in progress")
	// ErrStaleResponse marks a response that arrived for a superseded generation.
	ErrStaleResponse = errors.New("stale response discarded")

	// ErrFollowFailed matches any *MutationError raised by a follow.
	ErrFollowFailed = errors.New("follow failed")
	// ErrUnfollowFailed matches any *MutationError raised by an unfollow.
	ErrUnfollowFailed = errors.New("unfollow failed")

	ErrAlreadyFollowing = errors.New("profile is already followed")
	ErrNotFollowing     = errors.New("profile is not followed")
	ErrOwnProfile       = errors.New("cannot follow your own profile")
	ErrProfileNotLoaded = errors.New("profile is not loaded in this session")
)

// TransportError is a network or non-2xx HTTP failure. It is never retried by the core.
type TransportError struct {
	Op     string
	URL    string
	Status int
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.Status, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// MalformedResponseError is an unexpected page envelope. The load that hit it is
// abandoned without committing anything.
type MalformedResponseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response from %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed response from %s: %s", e.URL, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// MutationOp names a follow-state mutation.
type MutationOp string

const (
	OpFollow   MutationOp = "follow"
	OpUnfollow MutationOp = "unfollow"
)

// MutationError reports an optimistic mutation that was rolled back.
type MutationError struct {
	Op        MutationOp
	ProfileID ID
	Cause     error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s profile %s: %v", e.Op, e.ProfileID, e.Cause)
}

func (e *MutationError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match ErrFollowFailed and ErrUnfollowFailed by operation.
func (e *MutationError) Is(target error) bool {
	switch target {
	case ErrFollowFailed:
		return e.Op == OpFollow
	case ErrUnfollowFailed:
		return e.Op == OpUnfollow
	}
	return false
}

// IsBenign reports whether err is an expected, non-application condition the
// caller may ignore.
func IsBenign(err error) bool {
	return errors.Is(err, ErrEndOfCollection) ||
		errors.Is(err, ErrNoMoreData) ||
		errors.Is(err, ErrLoadInProgress) ||
		errors.Is(err, ErrMutationInProgress) ||
		errors.Is(err, ErrStaleResponse)
}

// ErrorResponse is the JSON error body served by the development API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError is an API-side error carrying a stable code.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "Internal server error",
		Err:     err,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
	}
}
