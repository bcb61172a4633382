package schema

import (
	"fmt"
	"strings"
)

// Accessor is the typed property access an entity type provides to the
// engine. It replaces runtime type inspection: the engine only ever reads and
// writes properties by the names declared in the schema.
type Accessor interface {
	Get(property string) any
	Set(property string, value any)
}

// Cascade is the set of operations propagated across a relationship edge.
type Cascade uint8

const (
	CascadeSave Cascade = 1 << iota
	CascadeDelete
	CascadeRefresh
	CascadeFree
)

const (
	CascadeNone Cascade = 0
	CascadeAll          = CascadeSave | CascadeDelete | CascadeRefresh | CascadeFree
)

// Has reports whether every bit of flag is set.
func (c Cascade) Has(flag Cascade) bool {
	return flag != 0 && c&flag == flag
}

func (c Cascade) String() string {
	if c == CascadeNone {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag Cascade
		name string
	}{
		{CascadeSave, "save"},
		{CascadeDelete, "delete"},
		{CascadeRefresh, "refresh"},
		{CascadeFree, "free"},
	} {
		if c.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseCascade turns names like "save" or "all" into a Cascade set.
func ParseCascade(names ...string) (Cascade, error) {
	var c Cascade
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "", "none":
		case "save":
			c |= CascadeSave
		case "delete":
			c |= CascadeDelete
		case "refresh":
			c |= CascadeRefresh
		case "free":
			c |= CascadeFree
		case "all":
			c |= CascadeAll
		default:
			return CascadeNone, fmt.Errorf("unknown cascade %q", name)
		}
	}
	return c, nil
}

// Fetch decides whether an association is materialized at load time.
type Fetch int

const (
	FetchLazy Fetch = iota
	FetchEager
)

func (f Fetch) String() string {
	if f == FetchEager {
		return "eager"
	}
	return "lazy"
}

// ParseFetch parses "lazy" or "eager"; empty means lazy.
func ParseFetch(name string) (Fetch, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "lazy":
		return FetchLazy, nil
	case "eager":
		return FetchEager, nil
	default:
		return FetchLazy, fmt.Errorf("unknown fetch strategy %q", name)
	}
}

type Nullability int

const (
	Nullable Nullability = iota
	NotNull
)

// Column is one persisted property of a table: a *Field, *PrimaryKey,
// *ToOne or *ToMany.
type Column interface {
	Name() string
	Owner() *Table
}

// Field is a scalar column.
type Field struct {
	Property    string
	SQLName     string
	SQLType     string
	Nullability Nullability
	Default     any
	ReadOnly    bool
	Enum        bool
	Kind        Kind

	table *Table
}

func (f *Field) Name() string { return f.Property }
func (f *Field) Owner() *Table { return f.table }

// PrimaryKey is a scalar key column. Unset is the value a property holds
// before a key has been assigned.
type PrimaryKey struct {
	Field
	AutoIncrement bool
	Unset         any
}

// IsUnset reports whether v equals the key's unset sentinel.
func (pk *PrimaryKey) IsUnset(v any) bool {
	if v == nil {
		return true
	}
	return Normalize(v) == Normalize(pk.Unset)
}

// Link is a shadow column on the owning table mirroring one primary key of
// the referenced table.
type Link struct {
	SQLName string
	Key     *PrimaryKey
}

// ToOne is a many-to-one reference stored through link columns.
type ToOne struct {
	Property    string
	Referenced  string
	Cascade     Cascade
	Fetch       Fetch
	Nullability Nullability
	Links       []Link

	table *Table
	ref   *Table
}

func (r *ToOne) Name() string { return r.Property }
func (r *ToOne) Owner() *Table { return r.table }
func (r *ToOne) Target() *Table { return r.ref }

// LinkNames returns the SQL names of the shadow link columns in key order.
func (r *ToOne) LinkNames() []string {
	names := make([]string, len(r.Links))
	for i, l := range r.Links {
		names[i] = l.SQLName
	}
	return names
}

// ToMany is a one-to-many collection resolved through the inverse ToOne on
// the child table.
type ToMany struct {
	Property      string
	Child         string
	Cascade       Cascade
	Fetch         Fetch
	OrphanRemoval bool
	PageSize      int
	Inverse       *ToOne

	table *Table
	child *Table
}

func (r *ToMany) Name() string { return r.Property }
func (r *ToMany) Owner() *Table { return r.table }
func (r *ToMany) Target() *Table { return r.child }

// Table describes one persisted entity type.
type Table struct {
	Name      string
	SQLName   string
	Schema    string
	Versioned bool
	Base      *Table
	Version   *Field

	keys    []*PrimaryKey
	columns []Column
	byName  map[string]Column
	factory func() Accessor
}

// IsSpecialization reports whether the table stores a subtype whose base
// columns live in Base.
func (t *Table) IsSpecialization() bool { return t.Base != nil }

func (t *Table) PrimaryKeys() []*PrimaryKey { return t.keys }

func (t *Table) SingleKey() bool { return len(t.keys) == 1 }

// Columns returns the columns in declaration order: keys, fields,
// to-one and to-many relationships.
func (t *Table) Columns() []Column { return t.columns }

// Column looks a property up case-insensitively.
func (t *Table) Column(property string) (Column, bool) {
	c, ok := t.byName[strings.ToLower(property)]
	return c, ok
}

// IsKey reports whether property is one of the table's primary keys.
func (t *Table) IsKey(property string) bool {
	for _, pk := range t.keys {
		if strings.EqualFold(pk.Property, property) {
			return true
		}
	}
	return false
}

func (t *Table) Fields() []*Field {
	var out []*Field
	for _, c := range t.columns {
		switch col := c.(type) {
		case *PrimaryKey:
			out = append(out, &col.Field)
		case *Field:
			out = append(out, col)
		}
	}
	return out
}

func (t *Table) ToOnes() []*ToOne {
	var out []*ToOne
	for _, c := range t.columns {
		if r, ok := c.(*ToOne); ok {
			out = append(out, r)
		}
	}
	return out
}

func (t *Table) ToManys() []*ToMany {
	var out []*ToMany
	for _, c := range t.columns {
		if r, ok := c.(*ToMany); ok {
			out = append(out, r)
		}
	}
	return out
}

// QualifiedName is schema.table, or just the table when no schema is set.
func (t *Table) QualifiedName() string {
	if t.Schema == "" {
		return t.SQLName
	}
	return t.Schema + "." + t.SQLName
}

// Root walks specializations up to the table that owns the generated key.
func (t *Table) Root() *Table {
	for t.Base != nil {
		t = t.Base
	}
	return t
}

// New builds a fresh instance through the bound factory.
func (t *Table) New() (Accessor, error) {
	if t.factory == nil {
		return nil, &ConfigError{Table: t.Name, Message: "no entity factory bound"}
	}
	return t.factory(), nil
}

func (t *Table) add(c Column) error {
	key := strings.ToLower(c.Name())
	if _, dup := t.byName[key]; dup {
		return &ConfigError{Table: t.Name, Column: c.Name(), Message: "duplicate column"}
	}
	t.byName[key] = c
	t.columns = append(t.columns, c)
	return nil
}
