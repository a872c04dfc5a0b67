package scrape

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the worker.
var (
	ErrJobNotFound         = errors.New("scrape job not found")
	ErrJobStateConflict    = errors.New("scrape job is not in the expected state")
	ErrUserNotFound        = errors.New("user not found")
	ErrMissingCredentials  = errors.New("credentials missing username or password")
	ErrNoStoredCredentials = errors.New("no credentials stored for user")
	ErrDecryption          = errors.New("failed to decrypt credentials")
)

// AuthenticationError reports a rejected login or a login that never produced a
// session token.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "login failed: " + e.Reason
}

// ExtractionTimeoutError reports a wait condition that was never satisfied.
type ExtractionTimeoutError struct {
	Step    string
	Timeout time.Duration
	Err     error
}

func (e *ExtractionTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.Step)
}

func (e *ExtractionTimeoutError) Unwrap() error {
	return e.Err
}

// RecordCountMismatchError reports a gap between the advertised total and the
// number of cards extracted.
type RecordCountMismatchError struct {
	Expected int
	Actual   int
}

func (e *RecordCountMismatchError) Error() string {
	return fmt.Sprintf("record count mismatch: expected %d but scraped %d", e.Expected, e.Actual)
}

// PersistenceError wraps a failed write of a single listing.
type PersistenceError struct {
	Address string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist listing %q: %v", e.Address, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
