package remote

import (
	"errors"
	"fmt"
)

// Error is returned for every failed remote call: transport errors, timeouts,
// non-2xx responses, application error codes and malformed payloads alike.
// Callers should not try to tell these apart.
type Error struct {
	Op    string
	Cause string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Cause, e.Err)
	}
	return fmt.Sprintf("remote %s: %s", e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRemoteError reports whether err is (or wraps) a remote *Error.
func IsRemoteError(err error) bool {
	var re *Error
	return errors.As(err, &re)
}
