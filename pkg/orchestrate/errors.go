package orchestrate

import (
	"fmt"
	"time"
)

// AuthError is returned when the IAM token exchange fails: non-2xx status,
// a body that is not JSON, or a response without an access token.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	}
	return fmt.Sprintf("token exchange failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RunSubmitError is returned when the run creation endpoint rejects the
// request, e.g. for an unknown agent id or a malformed payload.
type RunSubmitError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RunSubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run submission failed: %v", e.Err)
	}
	return fmt.Sprintf("run submission failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *RunSubmitError) Unwrap() error { return e.Err }

// RunError is returned when a run reaches a failed terminal state on the
// remote side, or disappears while being polled.
type RunError struct {
	RunID  string
	Status string
	Detail string
}

func (e *RunError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("run %s failed (%s): %s", e.RunID, e.Status, e.Detail)
	}
	return fmt.Sprintf("run %s failed (%s)", e.RunID, e.Status)
}

// RunTimeoutError is returned when the client-side poll deadline elapses
// while the run is still reported as running. The run itself is not
// cancelled; the remote service may still complete it.
type RunTimeoutError struct {
	RunID  string
	Waited time.Duration
}

func (e *RunTimeoutError) Error() string {
	return fmt.Sprintf("run %s still running after %s", e.RunID, e.Waited)
}
