// Package sqlgen renders the statements the SQL adapters send to the store.
// It is shared by the postgres and sqlite packages; only placeholders,
// paging and trigger DDL differ between them.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/ridoystarlord/persisto/schema"
)

type Dialect interface {
	Name() string
	Placeholder(n int) string
	Quote(ident string) string
	Paging(limit, offset int) string
	// VersionTrigger returns the statements installing the guard that rejects
	// an update whose version is not exactly the stored version plus one.
	VersionTrigger(t *schema.Table, name string) []string
}

// Postgres renders $n placeholders and PL/pgSQL triggers.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Postgres) Quote(ident string) string { return quote(ident) }

func (Postgres) Paging(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

// StaleVersionCode is the SQLSTATE raised by the postgres version guard.
const StaleVersionCode = "PV001"

func (d Postgres) VersionTrigger(t *schema.Table, name string) []string {
	fn := d.qualify(t.Schema, name+"_guard")
	col := quote(schema.VersionColumn)
	return []string{
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
BEGIN
  IF NEW.%s <> OLD.%s + 1 THEN
    RAISE EXCEPTION 'stale version on %%', TG_TABLE_NAME USING ERRCODE = '%s';
  END IF;
  RETURN NEW;
END;
$$ LANGUAGE plpgsql`, fn, col, col, StaleVersionCode),
		fmt.Sprintf("CREATE TRIGGER %s BEFORE UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
			quote(name), Table(d, t), fn),
	}
}

func (Postgres) qualify(schemaName, name string) string {
	if schemaName == "" {
		return quote(name)
	}
	return quote(schemaName) + "." + quote(name)
}

// SQLite renders ? placeholders. Triggers live in the table's schema and
// must name the table unqualified.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) Quote(ident string) string { return quote(ident) }

func (SQLite) Paging(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

// StaleVersionMessage is the abort message raised by the sqlite version guard.
const StaleVersionMessage = "stale version"

func (SQLite) VersionTrigger(t *schema.Table, name string) []string {
	col := quote(schema.VersionColumn)
	trigger := quote(name)
	if t.Schema != "" {
		trigger = quote(t.Schema) + "." + trigger
	}
	return []string{
		fmt.Sprintf("CREATE TRIGGER IF NOT EXISTS %s BEFORE UPDATE OF %s ON %s WHEN NEW.%s <> OLD.%s + 1 BEGIN SELECT RAISE(ABORT, '%s'); END",
			trigger, col, quote(t.SQLName), col, col, StaleVersionMessage),
	}
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
