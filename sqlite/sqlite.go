// Package sqlite is the SQLite backend, using the pure Go modernc.org/sqlite
// driver through database/sql.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/backend/sqlgen"
	"github.com/ridoystarlord/persisto/schema"
)

const (
	driverName    = "sqlite"
	defaultSchema = "main"
)

var dialect = sqlgen.SQLite{}

type Backend struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// Open opens the database at path with foreign keys enforced. path may carry
// its own query parameters.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Backend, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open(driverName, path+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if strings.Contains(path, ":memory:") {
		// every connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return New(db, log), nil
}

// New wraps an already open handle.
func New(db *sql.DB, log zerolog.Logger) *Backend {
	return &Backend{db: db, log: log.With().Str("backend", dialect.Name()).Logger()}
}

// DB exposes the handle, mainly so callers can run DDL.
func (b *Backend) DB() *sql.DB { return b.db }

func (b *Backend) DefaultSchema() string { return defaultSchema }

func schemaOf(t *schema.Table) string {
	if t.Schema != "" {
		return t.Schema
	}
	return defaultSchema
}

func (b *Backend) TableExists(ctx context.Context, t *schema.Table) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s.sqlite_master WHERE type IN ('table', 'view') AND name = ?`, dialect.Quote(schemaOf(t))),
		t.SQLName).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", t.QualifiedName(), err)
	}
	return n > 0, nil
}

func (b *Backend) columns(ctx context.Context, schemaName, table string) ([]backend.ColumnInfo, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT name, type, "notnull", pk FROM pragma_table_info(?, ?) ORDER BY cid`, table, schemaName)
	if err != nil {
		return nil, fmt.Errorf("getting columns: %w", err)
	}
	defer rows.Close()

	var cols []backend.ColumnInfo
	for rows.Next() {
		var (
			col     backend.ColumnInfo
			notNull int
			pk      int
		)
		if err := rows.Scan(&col.Name, &col.DataType, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		col.Nullable = notNull == 0
		col.PrimaryKey = pk > 0
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (b *Backend) foreignKeys(ctx context.Context, schemaName, table string) ([]backend.ForeignKeyInfo, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT "from", "table", "to" FROM pragma_foreign_key_list(?, ?) ORDER BY id, seq`, table, schemaName)
	if err != nil {
		return nil, fmt.Errorf("getting foreign keys: %w", err)
	}
	var fks []backend.ForeignKeyInfo
	for rows.Next() {
		var (
			fk backend.ForeignKeyInfo
			to sql.NullString
		)
		if err := rows.Scan(&fk.Column, &fk.RefTable, &to); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		fk.RefColumn = to.String
		fks = append(fks, fk)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// REFERENCES t without a column list points at the primary key
	for i, fk := range fks {
		if fk.RefColumn != "" {
			continue
		}
		cols, err := b.columns(ctx, schemaName, fk.RefTable)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			if c.PrimaryKey {
				fks[i].RefColumn = c.Name
				break
			}
		}
	}
	return fks, nil
}

func (b *Backend) ValidatePrimaryKeys(ctx context.Context, t *schema.Table) error {
	cols, err := b.columns(ctx, schemaOf(t), t.SQLName)
	if err != nil {
		return err
	}
	return backend.CheckPrimaryKeys(t, cols)
}

func (b *Backend) ValidateField(ctx context.Context, t *schema.Table, f *schema.Field) error {
	cols, err := b.columns(ctx, schemaOf(t), t.SQLName)
	if err != nil {
		return err
	}
	return backend.CheckField(t, f, cols)
}

func (b *Backend) ValidateForeignKey(ctx context.Context, t *schema.Table, rel *schema.ToOne) error {
	cols, err := b.columns(ctx, schemaOf(t), t.SQLName)
	if err != nil {
		return err
	}
	fks, err := b.foreignKeys(ctx, schemaOf(t), t.SQLName)
	if err != nil {
		return err
	}
	return backend.CheckForeignKey(rel, cols, fks)
}

func (b *Backend) TriggerExists(ctx context.Context, t *schema.Table, name string) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s.sqlite_master WHERE type = 'trigger' AND name = ? AND tbl_name = ?`, dialect.Quote(schemaOf(t))),
		name, t.SQLName).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking trigger %s: %w", name, err)
	}
	return n > 0, nil
}

func (b *Backend) CreateVersionTrigger(ctx context.Context, t *schema.Table, name string) error {
	for _, stmt := range dialect.VersionTrigger(t, name) {
		b.log.Debug().Str("sql", stmt).Msg("exec")
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return mapError("create trigger", t.Name, err)
		}
	}
	return nil
}

func (b *Backend) Begin(ctx context.Context) (backend.Tx, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError("begin", "", err)
	}
	return &Tx{tx: tx, log: b.log}, nil
}

func (b *Backend) Select(ctx context.Context, q backend.Query) (backend.Rows, error) {
	return query(ctx, b.db, b.log, "select", q.Table.Name, sqlgen.Select(dialect, q))
}

// ExecuteProcedure is not available: SQLite has no stored procedures.
func (b *Backend) ExecuteProcedure(_ context.Context, name string, _ []backend.Value) (backend.Rows, error) {
	return nil, &backend.Error{Op: "procedure", Table: name, Err: backend.ErrUnsupported}
}

func (b *Backend) SelectView(ctx context.Context, schemaName, name string) (backend.Rows, error) {
	if schemaName == "" {
		schemaName = defaultSchema
	}
	return query(ctx, b.db, b.log, "view", name, sqlgen.View(dialect, schemaName, name))
}

func (b *Backend) Ping(ctx context.Context) error { return b.db.PingContext(ctx) }

func (b *Backend) Close() { b.db.Close() }

type Tx struct {
	tx  *sql.Tx
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
		if _, err := t.tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return 0, mapError("insert", tbl.Name, err)
		}
		return 0, nil
	}
	stmt := sqlgen.Insert(dialect, tbl, fields, keys[0].SQLName)
	t.log.Debug().Str("sql", stmt.SQL).Msg("exec")
	var id int64
	if err := t.tx.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&id); err != nil {
		return 0, mapError("insert", tbl.Name, err)
	}
	return id, nil
}

func (t *Tx) Update(ctx context.Context, tbl *schema.Table, fields, oldKeys backend.Values, version *int64) error {
	stmt := sqlgen.Update(dialect, tbl, fields, oldKeys, version)
	t.log.Debug().Str("sql", stmt.SQL).Msg("exec")
	res, err := t.tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return mapError("update", tbl.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("update", tbl.Name, err)
	}
	if n == 0 {
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
	if _, err := t.tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
		return mapError("delete", tbl.Name, err)
	}
	return nil
}

func (t *Tx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return mapError("commit", "", err)
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return mapError("rollback", "", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func query(ctx context.Context, q queryer, log zerolog.Logger, op, table string, stmt sqlgen.Statement) (backend.Rows, error) {
	log.Debug().Str("sql", stmt.SQL).Msg("query")
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, mapError(op, table, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, mapError(op, table, err)
	}
	return &cursor{rows: rows, cols: cols, op: op, table: table}, nil
}

type cursor struct {
	rows  *sql.Rows
	cols  []string
	op    string
	table string
}

func (c *cursor) Next() bool { return c.rows.Next() }

func (c *cursor) Row() (backend.Row, error) {
	values := make([]any, len(c.cols))
	ptrs := make([]any, len(c.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, mapError(c.op, c.table, err)
	}
	row := make(backend.Row, len(c.cols))
	for i, name := range c.cols {
		row[name] = values[i]
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

// mapError keeps the extended result code of driver errors and recognises
// the version guard's abort message.
func mapError(op, table string, err error) error {
	var code string
	var se *sqlite.Error
	if errors.As(err, &se) {
		code = strconv.Itoa(se.Code())
	}
	if strings.Contains(err.Error(), sqlgen.StaleVersionMessage) {
		return &backend.Error{Op: op, Table: table, Code: code, Err: backend.ErrStaleVersion}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &backend.Error{Op: op, Table: table, Code: code, Err: backend.ErrNoRows}
	}
	return &backend.Error{Op: op, Table: table, Code: code, Err: err}
}
