// Package backend defines the boundary between the persistence engine and a
// relational store. Adapters (postgres, sqlite, memory) implement it; the
// engine never builds SQL itself.
package backend

import (
	"context"
	"strings"

	"github.com/ridoystarlord/persisto/schema"
)

// Backend is a relational store the engine persists into.
type Backend interface {
	// DefaultSchema is the SQL schema used when a table declares none.
	DefaultSchema() string

	TableExists(ctx context.Context, t *schema.Table) (bool, error)
	ValidatePrimaryKeys(ctx context.Context, t *schema.Table) error
	ValidateField(ctx context.Context, t *schema.Table, f *schema.Field) error
	ValidateForeignKey(ctx context.Context, t *schema.Table, rel *schema.ToOne) error

	// TriggerExists and CreateVersionTrigger manage the guard that rejects
	// updates carrying a stale optimistic version.
	TriggerExists(ctx context.Context, t *schema.Table, name string) (bool, error)
	CreateVersionTrigger(ctx context.Context, t *schema.Table, name string) error

	Begin(ctx context.Context) (Tx, error)
	Select(ctx context.Context, q Query) (Rows, error)
	ExecuteProcedure(ctx context.Context, name string, params []Value) (Rows, error)
	SelectView(ctx context.Context, schemaName, name string) (Rows, error)

	Ping(ctx context.Context) error
	Close()
}

// Tx is one backend transaction.
type Tx interface {
	Select(ctx context.Context, q Query) (Rows, error)
	// Insert writes a row and returns the generated key when the table's
	// first primary key is auto-increment, or 0.
	Insert(ctx context.Context, t *schema.Table, fields Values) (int64, error)
	// Update rewrites the row currently stored under oldKeys. A non-nil
	// version makes the update conditional on the stored version.
	Update(ctx context.Context, t *schema.Table, fields Values, oldKeys Values, version *int64) error
	Delete(ctx context.Context, t *schema.Table, keys Values) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows is a forward-only cursor. Row returns the current row keyed by
// column name.
type Rows interface {
	Next() bool
	Row() (Row, error)
	Err() error
	Close()
}

// Row is one result row keyed by SQL column name.
type Row map[string]any

// Lookup returns the value of a column and whether it is non-null. Drivers
// disagree on identifier case, so a miss falls back to a case-insensitive
// match.
func (r Row) Lookup(column string) (any, bool) {
	v, ok := r[column]
	if !ok {
		for c, cv := range r {
			if strings.EqualFold(c, column) {
				v, ok = cv, true
				break
			}
		}
	}
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// VersionTriggerName is the trigger guarding a versioned table.
func VersionTriggerName(t *schema.Table) string {
	return t.SQLName + "_version"
}
