package host

import (
	"errors"
	"fmt"
)

// UnexpectedResponseError reports a non-success status from the manager on
// a start or stop request. It is always fatal to the calling operation;
// the controller never retries. The message is meant for human diagnosis
// of a manager-side problem, not machine parsing.
type UnexpectedResponseError struct {
	// Op is the control action that failed ("start" or "stop").
	Op string
	// Name is the controller's display name.
	Name string
	// StatusCode is the HTTP status the manager responded with.
	StatusCode int
	// Body is the raw response body text.
	Body string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("attempted to %s %s: %d - %s", e.Op, e.Name, e.StatusCode, e.Body)
}

// IsUnexpectedResponse reports whether err is an UnexpectedResponseError.
func IsUnexpectedResponse(err error) bool {
	var target *UnexpectedResponseError
	return errors.As(err, &target)
}
