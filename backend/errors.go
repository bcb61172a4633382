package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleVersion reports an update against a row whose optimistic
	// version moved since it was read.
	ErrStaleVersion = errors.New("stale version")

	// ErrUnsupported reports an operation the store cannot perform.
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrNoRows reports an update or delete that matched nothing.
	ErrNoRows = errors.New("no rows affected")
)

// Error wraps a failure reported by the store, keeping the store's own error
// code when it has one.
type Error struct {
	Op    string
	Table string
	Code  string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Table != "" {
		msg += " " + e.Table
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s] %v", msg, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the store error code carried by err, if any.
func CodeOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
