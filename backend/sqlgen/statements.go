package sqlgen

import (
	"fmt"
	"strings"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/schema"
)

// Statement is rendered SQL plus its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

func (s Statement) String() string {
	return fmt.Sprintf("%s\n-- args: %v", s.SQL, s.Args)
}

// Table returns the quoted, schema-qualified name of t.
func Table(d Dialect, t *schema.Table) string {
	if t.Schema == "" {
		return d.Quote(t.SQLName)
	}
	return d.Quote(t.Schema) + "." + d.Quote(t.SQLName)
}

// Columns lists every stored column of t: keys, scalar fields, to-one link
// columns, then the version column.
func Columns(t *schema.Table) []string {
	var cols []string
	for _, f := range t.Fields() {
		cols = append(cols, f.SQLName)
	}
	for _, r := range t.ToOnes() {
		cols = append(cols, r.LinkNames()...)
	}
	if t.Version != nil {
		cols = append(cols, t.Version.SQLName)
	}
	return cols
}

type builder struct {
	d    Dialect
	sql  strings.Builder
	args []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

func (b *builder) where(keys backend.Values, filter string) {
	var preds []string
	if filter != "" {
		preds = append(preds, "("+filter+")")
	}
	for _, k := range keys {
		if k.Value == nil {
			preds = append(preds, b.d.Quote(k.Column)+" IS NULL")
			continue
		}
		preds = append(preds, b.d.Quote(k.Column)+" = "+b.arg(k.Value))
	}
	if len(preds) > 0 {
		b.sql.WriteString(" WHERE ")
		b.sql.WriteString(strings.Join(preds, " AND "))
	}
}

func (b *builder) quoteAll(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = b.d.Quote(c)
	}
	return strings.Join(q, ", ")
}

func (b *builder) done() Statement {
	return Statement{SQL: b.sql.String(), Args: b.args}
}

// Select renders q ordered by primary key so pages are stable.
func Select(d Dialect, q backend.Query) Statement {
	b := &builder{d: d}
	fmt.Fprintf(&b.sql, "SELECT %s FROM %s", b.quoteAll(Columns(q.Table)), Table(d, q.Table))
	b.where(q.Keys, q.Filter)
	var order []string
	for _, pk := range q.Table.PrimaryKeys() {
		order = append(order, pk.SQLName)
	}
	fmt.Fprintf(&b.sql, " ORDER BY %s", b.quoteAll(order))
	b.sql.WriteString(d.Paging(q.Limit, q.Offset))
	return b.done()
}

// Insert renders an insert. returning names the generated key column, or is
// empty when the table has none.
func Insert(d Dialect, t *schema.Table, fields backend.Values, returning string) Statement {
	b := &builder{d: d}
	if len(fields) == 0 {
		fmt.Fprintf(&b.sql, "INSERT INTO %s DEFAULT VALUES", Table(d, t))
	} else {
		ph := make([]string, len(fields))
		for i, f := range fields {
			ph[i] = b.arg(f.Value)
		}
		fmt.Fprintf(&b.sql, "INSERT INTO %s (%s) VALUES (%s)",
			Table(d, t), b.quoteAll(fields.Columns()), strings.Join(ph, ", "))
	}
	if returning != "" {
		fmt.Fprintf(&b.sql, " RETURNING %s", d.Quote(returning))
	}
	return b.done()
}

// Update renders an update of the row stored under oldKeys. A non-nil
// version adds the optimistic version predicate.
func Update(d Dialect, t *schema.Table, fields, oldKeys backend.Values, version *int64) Statement {
	b := &builder{d: d}
	set := make([]string, len(fields))
	for i, f := range fields {
		set[i] = d.Quote(f.Column) + " = " + b.arg(f.Value)
	}
	fmt.Fprintf(&b.sql, "UPDATE %s SET %s", Table(d, t), strings.Join(set, ", "))
	keys := append(backend.Values(nil), oldKeys...)
	if version != nil && t.Version != nil {
		keys = append(keys, backend.Value{Column: t.Version.SQLName, Value: *version})
	}
	b.where(keys, "")
	return b.done()
}

func Delete(d Dialect, t *schema.Table, keys backend.Values) Statement {
	b := &builder{d: d}
	fmt.Fprintf(&b.sql, "DELETE FROM %s", Table(d, t))
	b.where(keys, "")
	return b.done()
}

// Procedure renders a call to a set-returning function.
func Procedure(d Dialect, schemaName, name string, params []backend.Value) Statement {
	b := &builder{d: d}
	ph := make([]string, len(params))
	for i, p := range params {
		ph[i] = b.arg(p.Value)
	}
	fmt.Fprintf(&b.sql, "SELECT * FROM %s(%s)", qualified(d, schemaName, name), strings.Join(ph, ", "))
	return b.done()
}

func View(d Dialect, schemaName, name string) Statement {
	return Statement{SQL: "SELECT * FROM " + qualified(d, schemaName, name)}
}

func qualified(d Dialect, schemaName, name string) string {
	if schemaName == "" {
		return d.Quote(name)
	}
	return d.Quote(schemaName) + "." + d.Quote(name)
}
