// internal/engine/errors.go
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// The controllers never let a raw fault cross their boundary: every failure
// is converted into one of these types and then into a structured result.
// The one exception is session establishment, which is fatal to the run.

// TransientNavigationError reports a navigation that kept failing inside its
// retry budget. Retryable up to the configured ceiling, then terminal.
type TransientNavigationError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransientNavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransientNavigationError) Unwrap() error { return e.Err }

// StructuralNotFoundError reports an element that never appeared. Not
// retryable; the page layout simply does not offer what the run needs.
type StructuralNotFoundError struct {
	What string
}

func (e *StructuralNotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.What)
}

// AuthenticationError reports a rejected or missing authenticated state.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ChallengeUnresolvedError reports that every resolution strategy was
// exhausted without clearing the challenge.
type ChallengeUnresolvedError struct{}

func (e *ChallengeUnresolvedError) Error() string {
	return "verification challenge unresolved"
}

// ConfirmationMissingError reports a send that completed without the
// configured acceptance indicator ever appearing. The send may or may not
// have landed; without the indicator there is no way to tell.
type ConfirmationMissingError struct{}

func (e *ConfirmationMissingError) Error() string {
	return "message dispatched but no delivery confirmation appeared"
}

// classify maps a controller failure onto its wire representation. The
// challenge check runs first so a wrapped unresolved challenge keeps its
// own code.
func classify(err error) *schemas.DeliveryError {
	var (
		challengeErr *ChallengeUnresolvedError
		authErr      *AuthenticationError
		navErr       *TransientNavigationError
		structErr    *StructuralNotFoundError
		confirmErr   *ConfirmationMissingError
	)

	code := schemas.ErrCodeInternal
	switch {
	case errors.As(err, &challengeErr):
		code = schemas.ErrCodeChallengeUnresolved
	case errors.As(err, &authErr):
		code = schemas.ErrCodeAuthentication
	case errors.As(err, &navErr):
		code = schemas.ErrCodeTransientNavigation
	case errors.As(err, &structErr):
		code = schemas.ErrCodeStructuralNotFound
	case errors.As(err, &confirmErr):
		code = schemas.ErrCodeConfirmationMissing
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = schemas.ErrCodeCancelled
	}

	return &schemas.DeliveryError{Code: code, Message: err.Error()}
}
