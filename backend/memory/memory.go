// Package memory is an in-process backend keeping rows in maps. It logs every
// statement and can inject failures, which makes it the store used by the
// engine tests and by dry runs of the CLI.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/schema"
)

type Op string

const (
	OpSelect Op = "select"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpCommit Op = "commit"
)

// Statement is one logged write or read.
type Statement struct {
	Op     Op
	Table  string
	Fields backend.Values
	Keys   backend.Values
}

func (s Statement) String() string {
	return fmt.Sprintf("%s %s fields=%v keys=%v", s.Op, s.Table, s.Fields, s.Keys)
}

type store struct {
	rows   map[string][]backend.Row
	nextID map[string]int64
}

func (s *store) clone() *store {
	c := &store{rows: map[string][]backend.Row{}, nextID: map[string]int64{}}
	for t, rows := range s.rows {
		cp := make([]backend.Row, len(rows))
		for i, r := range rows {
			cp[i] = copyRow(r)
		}
		c.rows[t] = cp
	}
	for t, id := range s.nextID {
		c.nextID[t] = id
	}
	return c
}

type fault struct {
	table string
	op    Op
	err   error
}

// Backend is safe for concurrent use. Transactions work on a private copy of
// the data that replaces the shared copy on commit.
type Backend struct {
	mu         sync.Mutex
	writer     sync.Mutex
	schemaName string
	data       *store
	declared   map[string]bool
	triggers   map[string]bool
	log        []Statement
	faults     []fault
	filters    map[string]func(backend.Row) bool
	procedures map[string]func([]backend.Value) []backend.Row
	views      map[string][]backend.Row
}

func New() *Backend {
	return &Backend{
		schemaName: "main",
		data:       &store{rows: map[string][]backend.Row{}, nextID: map[string]int64{}},
		declared:   map[string]bool{},
		triggers:   map[string]bool{},
		filters:    map[string]func(backend.Row) bool{},
		procedures: map[string]func([]backend.Value) []backend.Row{},
		views:      map[string][]backend.Row{},
	}
}

// Declare makes tables exist for the validation checks.
func (b *Backend) Declare(tables ...*schema.Table) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range tables {
		b.declared[t.SQLName] = true
	}
}

// Fail makes every later op on table return err. An empty table matches all
// tables.
func (b *Backend) Fail(table string, op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = append(b.faults, fault{table: table, op: op, err: err})
}

// Heal removes every injected failure.
func (b *Backend) Heal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = nil
}

// RegisterFilter teaches the backend how to evaluate a raw filter string.
func (b *Backend) RegisterFilter(filter string, match func(backend.Row) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters[filter] = match
}

func (b *Backend) RegisterProcedure(name string, fn func([]backend.Value) []backend.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.procedures[name] = fn
}

func (b *Backend) RegisterView(name string, rows []backend.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.views[name] = rows
}

// Statements returns a copy of the statement log.
func (b *Backend) Statements() []Statement {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Statement(nil), b.log...)
}

// Writes returns the logged inserts, updates and deletes.
func (b *Backend) Writes() []Statement {
	var out []Statement
	for _, s := range b.Statements() {
		if s.Op == OpInsert || s.Op == OpUpdate || s.Op == OpDelete {
			out = append(out, s)
		}
	}
	return out
}

func (b *Backend) ResetLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
}

// Rows returns the committed rows of a table.
func (b *Backend) Rows(table string) []backend.Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []backend.Row
	for _, r := range b.data.rows[table] {
		out = append(out, copyRow(r))
	}
	return out
}

// Put stores a committed row directly, bypassing the log.
func (b *Backend) Put(table string, row backend.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data.rows[table] = append(b.data.rows[table], normalizeRow(row))
}

// Sequence sets the last generated key of a table, so the next insert gets
// last+1.
func (b *Backend) Sequence(table string, last int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data.nextID[table] = last
}

// Bump increments the stored version of the row matching keys, as a
// concurrent writer would.
func (b *Backend) Bump(t *schema.Table, keys backend.Values) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := find(b.data.rows[t.SQLName], keys)
	if i < 0 || t.Version == nil {
		return backend.ErrNoRows
	}
	row := b.data.rows[t.SQLName][i]
	v, _ := row[t.Version.SQLName].(int64)
	row[t.Version.SQLName] = v + 1
	return nil
}

func (b *Backend) record(s Statement) {
	b.log = append(b.log, s)
}

func (b *Backend) fault(table string, op Op) error {
	for _, f := range b.faults {
		if f.op == op && (f.table == "" || f.table == table) {
			return &backend.Error{Op: string(op), Table: table, Code: "injected", Err: f.err}
		}
	}
	return nil
}

func (b *Backend) DefaultSchema() string { return b.schemaName }

func (b *Backend) TableExists(_ context.Context, t *schema.Table) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.declared[t.SQLName] {
		return true, nil
	}
	_, ok := b.data.rows[t.SQLName]
	return ok, nil
}

func (b *Backend) requireTable(ctx context.Context, t *schema.Table) error {
	ok, _ := b.TableExists(ctx, t)
	if !ok {
		return &schema.ConfigError{Table: t.Name, Message: fmt.Sprintf("table %s does not exist", t.QualifiedName())}
	}
	return nil
}

func (b *Backend) ValidatePrimaryKeys(ctx context.Context, t *schema.Table) error {
	return b.requireTable(ctx, t)
}

func (b *Backend) ValidateField(ctx context.Context, t *schema.Table, _ *schema.Field) error {
	return b.requireTable(ctx, t)
}

func (b *Backend) ValidateForeignKey(ctx context.Context, t *schema.Table, rel *schema.ToOne) error {
	if err := b.requireTable(ctx, t); err != nil {
		return err
	}
	return b.requireTable(ctx, rel.Target())
}

func (b *Backend) TriggerExists(_ context.Context, _ *schema.Table, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.triggers[name], nil
}

func (b *Backend) CreateVersionTrigger(_ context.Context, _ *schema.Table, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.triggers[name] = true
	return nil
}

// Begin starts a transaction. Transactions are serialized: Begin blocks
// until the previous one commits or rolls back.
func (b *Backend) Begin(context.Context) (backend.Tx, error) {
	b.writer.Lock()
	b.mu.Lock()
	defer b.mu.Unlock()
	return &tx{b: b, data: b.data.clone()}, nil
}

func (b *Backend) Select(_ context.Context, q backend.Query) (backend.Rows, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selectFrom(b.data, q)
}

func (b *Backend) selectFrom(data *store, q backend.Query) (backend.Rows, error) {
	b.record(Statement{Op: OpSelect, Table: q.Table.SQLName, Keys: q.Keys})
	if err := b.fault(q.Table.SQLName, OpSelect); err != nil {
		return nil, err
	}
	var match func(backend.Row) bool
	if q.Filter != "" {
		var ok bool
		if match, ok = b.filters[q.Filter]; !ok {
			return nil, &backend.Error{Op: string(OpSelect), Table: q.Table.SQLName,
				Err: fmt.Errorf("filter %q: %w", q.Filter, backend.ErrUnsupported)}
		}
	}
	var out []backend.Row
	skipped := 0
	for _, r := range data.rows[q.Table.SQLName] {
		if !matches(r, q.Keys) || (match != nil && !match(r)) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, copyRow(r))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return &rows{rows: out}, nil
}

func (b *Backend) ExecuteProcedure(_ context.Context, name string, params []backend.Value) (backend.Rows, error) {
	b.mu.Lock()
	fn, ok := b.procedures[name]
	b.mu.Unlock()
	if !ok {
		return nil, &backend.Error{Op: "procedure", Table: name, Err: fmt.Errorf("unknown procedure")}
	}
	return &rows{rows: fn(params)}, nil
}

func (b *Backend) SelectView(_ context.Context, _ string, name string) (backend.Rows, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.views[name]
	if !ok {
		return nil, &backend.Error{Op: "view", Table: name, Err: fmt.Errorf("unknown view")}
	}
	out := make([]backend.Row, len(v))
	for i, r := range v {
		out[i] = copyRow(r)
	}
	return &rows{rows: out}, nil
}

func (b *Backend) Ping(context.Context) error { return nil }

func (b *Backend) Close() {}

type tx struct {
	b    *Backend
	data *store
	done bool
}

func (t *tx) Select(_ context.Context, q backend.Query) (backend.Rows, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	return t.b.selectFrom(t.data, q)
}

func (t *tx) Insert(_ context.Context, table *schema.Table, fields backend.Values) (int64, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	name := table.SQLName
	t.b.record(Statement{Op: OpInsert, Table: name, Fields: fields})
	if err := t.b.fault(name, OpInsert); err != nil {
		return 0, err
	}
	row := backend.Row{}
	for _, f := range fields {
		row[f.Column] = schema.Normalize(f.Value)
	}
	var generated int64
	if pks := table.PrimaryKeys(); len(pks) > 0 && pks[0].AutoIncrement {
		col := pks[0].SQLName
		if v, ok := row[col].(int64); ok {
			if v > t.data.nextID[name] {
				t.data.nextID[name] = v
			}
		} else {
			t.data.nextID[name]++
			generated = t.data.nextID[name]
			row[col] = generated
		}
	}
	if find(t.data.rows[name], keysOf(table, row)) >= 0 {
		return 0, &backend.Error{Op: string(OpInsert), Table: name, Code: "unique_violation",
			Err: fmt.Errorf("duplicate key %v", keysOf(table, row))}
	}
	t.data.rows[name] = append(t.data.rows[name], row)
	return generated, nil
}

func (t *tx) Update(_ context.Context, table *schema.Table, fields, oldKeys backend.Values, version *int64) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	name := table.SQLName
	t.b.record(Statement{Op: OpUpdate, Table: name, Fields: fields, Keys: oldKeys})
	if err := t.b.fault(name, OpUpdate); err != nil {
		return err
	}
	i := find(t.data.rows[name], oldKeys)
	if version != nil && table.Version != nil {
		if i < 0 || t.data.rows[name][i][table.Version.SQLName] != *version {
			return &backend.Error{Op: string(OpUpdate), Table: name, Err: backend.ErrStaleVersion}
		}
		if next, ok := fields.Get(table.Version.SQLName); ok && schema.Normalize(next) != *version+1 {
			return &backend.Error{Op: string(OpUpdate), Table: name, Err: backend.ErrStaleVersion}
		}
	}
	if i < 0 {
		return &backend.Error{Op: string(OpUpdate), Table: name, Err: backend.ErrNoRows}
	}
	row := copyRow(t.data.rows[name][i])
	for _, f := range fields {
		row[f.Column] = schema.Normalize(f.Value)
	}
	if j := find(t.data.rows[name], keysOf(table, row)); j >= 0 && j != i {
		return &backend.Error{Op: string(OpUpdate), Table: name, Code: "unique_violation",
			Err: fmt.Errorf("duplicate key %v", keysOf(table, row))}
	}
	t.data.rows[name][i] = row
	return nil
}

func (t *tx) Delete(_ context.Context, table *schema.Table, keys backend.Values) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	name := table.SQLName
	t.b.record(Statement{Op: OpDelete, Table: name, Keys: keys})
	if err := t.b.fault(name, OpDelete); err != nil {
		return err
	}
	if i := find(t.data.rows[name], keys); i >= 0 {
		rows := t.data.rows[name]
		t.data.rows[name] = append(rows[:i:i], rows[i+1:]...)
	}
	return nil
}

func (t *tx) Commit(context.Context) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.b.writer.Unlock()
	if err := t.b.fault("", OpCommit); err != nil {
		return err
	}
	t.b.data = t.data
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if !t.done {
		t.done = true
		t.b.writer.Unlock()
	}
	return nil
}

type rows struct {
	rows []backend.Row
	pos  int
}

func (r *rows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *rows) Row() (backend.Row, error) {
	if r.pos == 0 || r.pos > len(r.rows) {
		return nil, fmt.Errorf("no current row")
	}
	return r.rows[r.pos-1], nil
}

func (r *rows) Err() error { return nil }

func (r *rows) Close() { r.pos = len(r.rows) }

func keysOf(t *schema.Table, row backend.Row) backend.Values {
	var keys backend.Values
	for _, pk := range t.PrimaryKeys() {
		keys = append(keys, backend.Value{Column: pk.SQLName, Value: row[pk.SQLName]})
	}
	return keys
}

func matches(row backend.Row, keys backend.Values) bool {
	for _, k := range keys {
		if schema.Normalize(row[lookupColumn(row, k.Column)]) != schema.Normalize(k.Value) {
			return false
		}
	}
	return true
}

func lookupColumn(row backend.Row, column string) string {
	if _, ok := row[column]; ok {
		return column
	}
	for c := range row {
		if strings.EqualFold(c, column) {
			return c
		}
	}
	return column
}

func find(rows []backend.Row, keys backend.Values) int {
	if len(keys) == 0 {
		return -1
	}
	for i, r := range rows {
		if matches(r, keys) {
			return i
		}
	}
	return -1
}

func copyRow(r backend.Row) backend.Row {
	c := make(backend.Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

func normalizeRow(r backend.Row) backend.Row {
	c := make(backend.Row, len(r))
	for k, v := range r {
		c[k] = schema.Normalize(v)
	}
	return c
}
