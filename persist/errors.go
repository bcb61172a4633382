package persist

import (
	"errors"
	"fmt"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/schema"
)

// Error is a persistence failure. It carries the backend error code when the
// store reported one.
type Error struct {
	Op    string
	Table string
	Code  string
	Err   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("persist: %s %s: [%s] %v", e.Op, e.Table, e.Code, e.Err)
	}
	return fmt.Sprintf("persist: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrap leaves configuration errors and already wrapped errors alone.
func wrap(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var ce *schema.ConfigError
	var pe *Error
	if errors.As(err, &ce) || errors.As(err, &pe) {
		return err
	}
	return &Error{Op: op, Table: table, Code: backend.CodeOf(err), Err: err}
}

// IsStale reports whether err is an optimistic version conflict.
func IsStale(err error) bool {
	return errors.Is(err, backend.ErrStaleVersion)
}
