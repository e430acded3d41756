package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the generic kind for a missing test, question, option or attempt.
	ErrNotFound = errors.New("not found")
	// ErrTestNotFound indicates the exam definition could not be loaded.
	ErrTestNotFound = fmt.Errorf("%w: test", ErrNotFound)
	// ErrQuestionNotFound indicates the question is not part of the test.
	ErrQuestionNotFound = fmt.Errorf("%w: question", ErrNotFound)
	// ErrAttemptNotFound indicates no archived attempt has the given id.
	ErrAttemptNotFound = fmt.Errorf("%w: attempt", ErrNotFound)

	// ErrUnauthorized is returned when the caller does not own the resource.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionExpired is returned when answering or submitting against a lapsed session.
	ErrSessionExpired = errors.New("session expired")
	// ErrNoActiveSession is returned when nothing has been started for the user and test.
	ErrNoActiveSession = errors.New("no active session")
	// ErrInvalidOption indicates the option does not belong to the question.
	ErrInvalidOption = errors.New("option does not belong to question")
	// ErrTransactionFailed indicates the submit transaction did not commit. It is safe to retry.
	ErrTransactionFailed = errors.New("transaction failed")
)

// IsRetryable reports whether the operation can be retried unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}
