package wcl

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Typed errors below match them through errors.Is.
var (
	ErrAuth        = errors.New("wcl: authentication failed")
	ErrTransient   = errors.New("wcl: transient failure")
	ErrMalformed   = errors.New("wcl: malformed response")
	ErrInvalidCode = errors.New("invalid report reference")

	errMissingCredentials = errors.New("missing client id or secret")
)

// AuthError means the credentials are absent or were rejected. Retrying
// without new credentials will not help.
type AuthError struct {
	Status int // HTTP status, 0 when no request was made
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("wcl auth error %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("wcl auth error: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// TransientError means retries were exhausted on transport or 5xx failures.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("wcl %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// MalformedResponseError means the response did not match the expected shape.
type MalformedResponseError struct {
	Op     string
	Detail string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wcl %s: malformed response: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("wcl %s: malformed response: %s", e.Op, e.Detail)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformed }

// StatusError is a non-auth HTTP failure. 4xx is returned as is, 5xx ends up
// inside a TransientError once retries run out.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wcl http %d: %s", e.Code, e.Body)
}
