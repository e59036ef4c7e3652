package engine

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/roach88/unifeed/internal/action"
)

// ActionError represents a failed post action.
//
// The taxonomy drives what happens to the optimistic edit and the queue:
//   - Transient: rolled back, surfaced with a retry affordance
//   - Offline: not a failure - the action defers through the offline queue
//   - Permanent rejection: rolled back, surfaced, never re-queued
type ActionError struct {
	// Code identifies the error category.
	Code ActionErrorCode

	// Message is a human-readable description.
	Message string

	// PostID identifies the affected post.
	PostID string

	// Action is the attempted action type.
	Action action.Type

	// Err is the underlying cause, if any.
	Err error
}

// ActionErrorCode categorizes action failures.
type ActionErrorCode string

const (
	// ErrCodeTransient indicates a retryable network failure.
	ErrCodeTransient ActionErrorCode = "TRANSIENT"

	// ErrCodeOffline indicates no connectivity; the action was deferred,
	// not failed.
	ErrCodeOffline ActionErrorCode = "OFFLINE"

	// ErrCodePermanent indicates the server rejected the action outright.
	ErrCodePermanent ActionErrorCode = "PERMANENT_REJECTION"
)

// Error implements the error interface.
func (e *ActionError) Error() string {
	if e.PostID != "" && e.Action != "" {
		return fmt.Sprintf("%s: %s (post=%s, action=%s)", e.Code, e.Message, e.PostID, e.Action)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// IsTransient returns true for retryable failures.
// Uses errors.As to handle wrapped errors.
func IsTransient(err error) bool {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code == ErrCodeTransient
	}
	return false
}

// IsOffline returns true when the failure is connectivity-related.
// Uses errors.As to handle wrapped errors.
func IsOffline(err error) bool {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code == ErrCodeOffline
	}
	return false
}

// IsPermanent returns true when the server rejected the action and a retry
// can never succeed.
func IsPermanent(err error) bool {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code == ErrCodePermanent
	}
	return false
}

// NewTransientError creates an ActionError for a retryable failure.
func NewTransientError(postID string, actionType action.Type, err error) *ActionError {
	return &ActionError{
		Code:    ErrCodeTransient,
		Message: "action failed, retry possible",
		PostID:  postID,
		Action:  actionType,
		Err:     err,
	}
}

// NewOfflineError creates an ActionError for a connectivity failure.
func NewOfflineError(postID string, actionType action.Type, err error) *ActionError {
	return &ActionError{
		Code:    ErrCodeOffline,
		Message: "no connectivity, action deferred",
		PostID:  postID,
		Action:  actionType,
		Err:     err,
	}
}

// NewPermanentError creates an ActionError for a server-side rejection.
func NewPermanentError(postID string, actionType action.Type, err error) *ActionError {
	return &ActionError{
		Code:    ErrCodePermanent,
		Message: "action rejected by server",
		PostID:  postID,
		Action:  actionType,
		Err:     err,
	}
}

// classify maps an arbitrary dispatch error onto the taxonomy.
//
// Already-classified errors keep their code. Network-level failures count
// as connectivity loss so the action defers instead of surfacing; anything
// unrecognized is treated as transient, which rolls back and surfaces
// rather than silently dequeuing.
func classify(postID string, actionType action.Type, err error) *ActionError {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return NewOfflineError(postID, actionType, err)
	}

	return NewTransientError(postID, actionType, err)
}
