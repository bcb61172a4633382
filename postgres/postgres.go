// Package postgres is the PostgreSQL backend, built on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/backend/sqlgen"
	"github.com/ridoystarlord/persisto/schema"
)

var dialect = sqlgen.Postgres{}

type Backend struct {
	pool   *pgxpool.Pool
	schema string
	log    zerolog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// Open creates a pool for url and checks that the server answers.
func Open(ctx context.Context, url, defaultSchema string, log zerolog.Logger) (*Backend, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return New(pool, defaultSchema, log), nil
}

// New wraps an existing pool. An empty defaultSchema means "public".
func New(pool *pgxpool.Pool, defaultSchema string, log zerolog.Logger) *Backend {
	if defaultSchema == "" {
		defaultSchema = "public"
	}
	return &Backend{pool: pool, schema: defaultSchema, log: log.With().Str("backend", dialect.Name()).Logger()}
}

func (b *Backend) DefaultSchema() string { return b.schema }

func (b *Backend) schemaOf(t *schema.Table) string {
	if t.Schema != "" {
		return t.Schema
	}
	return b.schema
}

func (b *Backend) TableExists(ctx context.Context, t *schema.Table) (bool, error) {
	return tableExists(ctx, b.pool, b.schemaOf(t), t.SQLName)
}

func (b *Backend) ValidatePrimaryKeys(ctx context.Context, t *schema.Table) error {
	cols, err := getColumns(ctx, b.pool, b.schemaOf(t), t.SQLName)
	if err != nil {
		return err
	}
	return backend.CheckPrimaryKeys(t, cols)
}

func (b *Backend) ValidateField(ctx context.Context, t *schema.Table, f *schema.Field) error {
	cols, err := getColumns(ctx, b.pool, b.schemaOf(t), t.SQLName)
	if err != nil {
		return err
	}
	return backend.CheckField(t, f, cols)
}

func (b *Backend) ValidateForeignKey(ctx context.Context, t *schema.Table, rel *schema.ToOne) error {
	cols, err := getColumns(ctx, b.pool, b.schemaOf(t), t.SQLName)
	if err != nil {
		return err
	}
	fks, err := getForeignKeys(ctx, b.pool, b.schemaOf(t), t.SQLName)
	if err != nil {
		return err
	}
	return backend.CheckForeignKey(rel, cols, fks)
}

func (b *Backend) TriggerExists(ctx context.Context, t *schema.Table, name string) (bool, error) {
	return triggerExists(ctx, b.pool, b.schemaOf(t), t.SQLName, name)
}

// CreateVersionTrigger installs the guard function and trigger in one
// transaction.
func (b *Backend) CreateVersionTrigger(ctx context.Context, t *schema.Table, name string) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return mapError("create trigger", t.Name, err)
	}
	defer tx.Rollback(ctx)
	for _, stmt := range dialect.VersionTrigger(t, name) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return mapError("create trigger", t.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError("create trigger", t.Name, err)
	}
	return nil
}

func (b *Backend) Begin(ctx context.Context) (backend.Tx, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, mapError("begin", "", err)
	}
	return &Tx{tx: tx, log: b.log}, nil
}

func (b *Backend) Select(ctx context.Context, q backend.Query) (backend.Rows, error) {
	return query(ctx, b.pool, b.log, "select", q.Table.Name, sqlgen.Select(dialect, q))
}

func (b *Backend) ExecuteProcedure(ctx context.Context, name string, params []backend.Value) (backend.Rows, error) {
	return query(ctx, b.pool, b.log, "procedure", name, sqlgen.Procedure(dialect, b.schema, name, params))
}

func (b *Backend) SelectView(ctx context.Context, schemaName, name string) (backend.Rows, error) {
	if schemaName == "" {
		schemaName = b.schema
	}
	return query(ctx, b.pool, b.log, "view", name, sqlgen.View(dialect, schemaName, name))
}

func (b *Backend) Ping(ctx context.Context) error { return b.pool.Ping(ctx) }

func (b *Backend) Close() { b.pool.Close() }

// Tx is a pgx transaction.
type Tx struct {
	tx  pgx.Tx
	log zerolog.Logger
}

func (t *Tx) Select(ctx context.Context, q backend.Query) (backend.Rows, error) {
	return query(ctx, t.tx, t.log, "select", q.Table.Name, sqlgen.Select(dialect, q))
}

func (t *Tx) Insert(ctx context.Context, tbl *schema.Table, fields backend.Values) (int64, error) {
	keys := tbl.PrimaryKeys()
	if len(keys) == 0 || !keys[0].AutoIncrement {
		stmt := sqlgen.Insert(dialect, tbl, fields, "")
		t.log.Debug().Str("sql", stmt.SQL).Msg("exec")
		if _, err := t.tx.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
			return 0, mapError("insert", tbl.Name, err)
		}
		return 0, nil
	}
	stmt := sqlgen.Insert(dialect, tbl, fields, keys[0].SQLName)
	t.log.Debug().Str("sql", stmt.SQL).Msg("exec")
	var id int64
	if err := t.tx.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&id); err != nil {
		return 0, mapError("insert", tbl.Name, err)
	}
	return id, nil
}

func (t *Tx) Update(ctx context.Context, tbl *schema.Table, fields, oldKeys backend.Values, version *int64) error {
	stmt := sqlgen.Update(dialect, tbl, fields, oldKeys, version)
	t.log.Debug().Str("sql", stmt.SQL).Msg("exec")
	tag, err := t.tx.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return mapError("update", tbl.Name, err)
	}
	if tag.RowsAffected() == 0 {
		if version != nil && tbl.Version != nil {
			return &backend.Error{Op: "update", Table: tbl.Name, Err: backend.ErrStaleVersion}
		}
		return &backend.Error{Op: "update", Table: tbl.Name, Err: backend.ErrNoRows}
	}
	return nil
}

func (t *Tx) Delete(ctx context.Context, tbl *schema.Table, keys backend.Values) error {
	stmt := sqlgen.Delete(dialect, tbl, keys)
	t.log.Debug().Str("sql", stmt.SQL).Msg("exec")
	if _, err := t.tx.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
		return mapError("delete", tbl.Name, err)
	}
	return nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return mapError("commit", "", err)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return mapError("rollback", "", err)
	}
	return nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func query(ctx context.Context, q queryer, log zerolog.Logger, op, table string, stmt sqlgen.Statement) (backend.Rows, error) {
	log.Debug().Str("sql", stmt.SQL).Msg("query")
	rows, err := q.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, mapError(op, table, err)
	}
	return &cursor{rows: rows, op: op, table: table}, nil
}

type cursor struct {
	rows  pgx.Rows
	op    string
	table string
}

func (c *cursor) Next() bool { return c.rows.Next() }

func (c *cursor) Row() (backend.Row, error) {
	values, err := c.rows.Values()
	if err != nil {
		return nil, mapError(c.op, c.table, err)
	}
	row := make(backend.Row, len(values))
	for i, fd := range c.rows.FieldDescriptions() {
		row[fd.Name] = decode(values[i])
	}
	return row, nil
}

func (c *cursor) Err() error {
	if err := c.rows.Err(); err != nil {
		return mapError(c.op, c.table, err)
	}
	return nil
}

func (c *cursor) Close() { c.rows.Close() }

// decode turns pgx driver types the engine does not know into plain Go
// values.
func decode(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// mapError keeps the SQLSTATE of server errors and turns the version guard's
// code into backend.ErrStaleVersion.
func mapError(op, table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == sqlgen.StaleVersionCode {
			return &backend.Error{Op: op, Table: table, Code: pgErr.Code, Err: backend.ErrStaleVersion}
		}
		return &backend.Error{Op: op, Table: table, Code: pgErr.Code, Err: errors.New(pgErr.Message)}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &backend.Error{Op: op, Table: table, Err: backend.ErrNoRows}
	}
	return &backend.Error{Op: op, Table: table, Err: err}
}
