package schema

import (
	"fmt"
	"strings"
)

// TableDef is the declarative description of one entity type. The YAML
// loader produces these, and Go code can build them directly.
type TableDef struct {
	Name      string
	SQLName   string
	Schema    string
	Versioned bool
	Extends   string
	Keys      []KeyDef
	Fields    []FieldDef
	ToOne     []ToOneDef
	ToMany    []ToManyDef
}

type FieldDef struct {
	Property string
	SQLName  string
	Type     string
	NotNull  bool
	ReadOnly bool
	Enum     bool
	Default  any
}

type KeyDef struct {
	FieldDef
	AutoIncrement bool
	Unset         any
}

type ToOneDef struct {
	Property string
	Table    string
	Cascade  Cascade
	Fetch    Fetch
	NotNull  bool
	// LinkPrefix replaces the referenced table's SQL name when deriving link
	// column names, for tables holding two references to the same table.
	LinkPrefix string
}

type ToManyDef struct {
	Property      string
	Table         string
	Cascade       Cascade
	Fetch         Fetch
	OrphanRemoval bool
	PageSize      int
	// Inverse names the child's ToOne property when the owning table name
	// alone is ambiguous.
	Inverse string
}

const (
	DefaultPageSize = 1000
	VersionColumn   = "__version"
	ImplicitKey     = "Id"
)

// Registry holds the tables of one application schema. It is built once and
// passed explicitly to the engine.
type Registry struct {
	tables map[string]*Table
	order  []string
}

type buildOptions struct {
	defaultSchema string
}

type BuildOption func(*buildOptions)

// WithDefaultSchema sets the SQL schema used by tables that declare none.
func WithDefaultSchema(name string) BuildOption {
	return func(o *buildOptions) { o.defaultSchema = name }
}

// Build validates the definitions and links them into a Registry.
// Configuration problems are reported eagerly as *ConfigError.
func Build(defs []TableDef, opts ...BuildOption) (*Registry, error) {
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	reg := &Registry{tables: map[string]*Table{}}
	byName := map[string]TableDef{}
	for _, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			return nil, &ConfigError{Message: "table name cannot be empty"}
		}
		if _, dup := reg.tables[def.Name]; dup {
			return nil, &ConfigError{Table: def.Name, Message: "duplicate table"}
		}
		t := &Table{
			Name:      def.Name,
			SQLName:   def.SQLName,
			Schema:    def.Schema,
			Versioned: def.Versioned,
			byName:    map[string]Column{},
		}
		if t.SQLName == "" {
			t.SQLName = def.Name
		}
		if t.Schema == "" {
			t.Schema = o.defaultSchema
		}
		reg.tables[def.Name] = t
		reg.order = append(reg.order, def.Name)
		byName[def.Name] = def
	}

	// bases first so a specialization can mirror its base keys
	for _, def := range defs {
		if def.Extends == "" {
			continue
		}
		base, ok := reg.tables[def.Extends]
		if !ok {
			return nil, &ConfigError{Table: def.Name, Message: fmt.Sprintf("extends unknown table %q", def.Extends)}
		}
		reg.tables[def.Name].Base = base
	}
	ordered, err := reg.inheritanceOrder()
	if err != nil {
		return nil, err
	}

	for _, t := range ordered {
		if err := buildKeysAndFields(t, byName[t.Name]); err != nil {
			return nil, err
		}
	}
	for _, t := range ordered {
		if err := buildToOnes(reg, t, byName[t.Name]); err != nil {
			return nil, err
		}
	}
	for _, t := range ordered {
		if err := buildToManys(reg, t, byName[t.Name]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *Registry) inheritanceOrder() ([]*Table, error) {
	var out []*Table
	done := map[*Table]bool{}
	for _, name := range r.order {
		t := r.tables[name]
		var chain []*Table
		seen := map[*Table]bool{}
		for c := t; c != nil && !done[c]; c = c.Base {
			if seen[c] {
				return nil, &ConfigError{Table: t.Name, Message: "cyclic specialization"}
			}
			seen[c] = true
			chain = append(chain, c)
		}
		for i := len(chain) - 1; i >= 0; i-- {
			done[chain[i]] = true
			out = append(out, chain[i])
		}
	}
	return out, nil
}

func newField(t *Table, def FieldDef) (Field, error) {
	if strings.TrimSpace(def.Property) == "" {
		return Field{}, &ConfigError{Table: t.Name, Message: "column property cannot be empty"}
	}
	f := Field{
		Property: def.Property,
		SQLName:  def.SQLName,
		SQLType:  def.Type,
		Default:  def.Default,
		ReadOnly: def.ReadOnly,
		Enum:     def.Enum,
		Kind:     KindOf(def.Type),
		table:    t,
	}
	if f.SQLName == "" {
		f.SQLName = def.Property
	}
	if def.NotNull {
		f.Nullability = NotNull
	}
	return f, nil
}

func buildKeysAndFields(t *Table, def TableDef) error {
	if t.Base != nil {
		if len(def.Keys) > 0 {
			return &ConfigError{Table: t.Name, Message: "a specialization inherits its primary key from " + t.Base.Name}
		}
		for _, bk := range t.Base.keys {
			pk := &PrimaryKey{Field: bk.Field, Unset: bk.Unset}
			pk.SQLName = t.Base.SQLName + "_" + bk.SQLName
			pk.table = t
			if err := addKey(t, pk); err != nil {
				return err
			}
		}
	} else {
		keys := def.Keys
		if len(keys) == 0 {
			keys = []KeyDef{{
				FieldDef:      FieldDef{Property: ImplicitKey, SQLName: "id", Type: "bigint", NotNull: true},
				AutoIncrement: true,
			}}
		}
		for _, kd := range keys {
			f, err := newField(t, kd.FieldDef)
			if err != nil {
				return err
			}
			f.Nullability = NotNull
			pk := &PrimaryKey{Field: f, AutoIncrement: kd.AutoIncrement, Unset: kd.Unset}
			if pk.Unset == nil {
				pk.Unset = zeroOf(f.Kind)
			}
			if err := addKey(t, pk); err != nil {
				return err
			}
		}
	}

	for _, fd := range def.Fields {
		f, err := newField(t, fd)
		if err != nil {
			return err
		}
		if err := t.add(&f); err != nil {
			return err
		}
	}

	if t.Versioned {
		t.Version = &Field{
			Property:    VersionColumn,
			SQLName:     VersionColumn,
			SQLType:     "bigint",
			Nullability: NotNull,
			Default:     int64(1),
			Kind:        KindInt,
			table:       t,
		}
	}
	return checkSQLNames(t)
}

// addKey keeps auto-increment keys ahead of the others so the generated key
// is always at a stable position.
func addKey(t *Table, pk *PrimaryKey) error {
	if err := t.add(pk); err != nil {
		return err
	}
	if pk.AutoIncrement {
		t.keys = append([]*PrimaryKey{pk}, t.keys...)
	} else {
		t.keys = append(t.keys, pk)
	}
	return nil
}

func zeroOf(k Kind) any {
	switch k {
	case KindInt:
		return int64(0)
	case KindString:
		return ""
	}
	return nil
}

func buildToOnes(reg *Registry, t *Table, def TableDef) error {
	for _, d := range def.ToOne {
		ref, ok := reg.tables[d.Table]
		if !ok {
			return &ConfigError{Table: t.Name, Column: d.Property,
				Message: fmt.Sprintf("depends on table %s to be persisted", d.Table)}
		}
		rel := &ToOne{
			Property:   d.Property,
			Referenced: ref.Name,
			Cascade:    d.Cascade,
			Fetch:      d.Fetch,
			table:      t,
			ref:        ref,
		}
		if d.NotNull {
			rel.Nullability = NotNull
		}
		prefix := d.LinkPrefix
		if prefix == "" {
			prefix = ref.SQLName
		}
		for _, pk := range ref.keys {
			rel.Links = append(rel.Links, Link{SQLName: prefix + "_" + pk.SQLName, Key: pk})
		}
		if err := t.add(rel); err != nil {
			return err
		}
	}
	return checkSQLNames(t)
}

func buildToManys(reg *Registry, t *Table, def TableDef) error {
	for _, d := range def.ToMany {
		child, ok := reg.tables[d.Table]
		if !ok {
			return &ConfigError{Table: t.Name, Column: d.Property,
				Message: fmt.Sprintf("depends on table %s to be persisted", d.Table)}
		}
		var matches []*ToOne
		for _, r := range child.ToOnes() {
			if r.Referenced != t.Name {
				continue
			}
			if d.Inverse != "" && !strings.EqualFold(r.Property, d.Inverse) {
				continue
			}
			matches = append(matches, r)
		}
		switch len(matches) {
		case 0:
			return &ConfigError{Table: t.Name, Column: d.Property,
				Message: fmt.Sprintf("no inverse relationship on %s references %s", child.Name, t.Name)}
		case 1:
		default:
			return &ConfigError{Table: t.Name, Column: d.Property,
				Message: fmt.Sprintf("ambiguous inverse relationship: %d properties on %s reference %s", len(matches), child.Name, t.Name)}
		}
		rel := &ToMany{
			Property:      d.Property,
			Child:         child.Name,
			Cascade:       d.Cascade,
			Fetch:         d.Fetch,
			OrphanRemoval: d.OrphanRemoval,
			PageSize:      d.PageSize,
			Inverse:       matches[0],
			table:         t,
			child:         child,
		}
		if rel.PageSize <= 0 {
			rel.PageSize = DefaultPageSize
		}
		if err := t.add(rel); err != nil {
			return err
		}
	}
	return nil
}

func checkSQLNames(t *Table) error {
	seen := map[string]string{}
	check := func(sqlName, property string) error {
		k := strings.ToLower(sqlName)
		if other, dup := seen[k]; dup {
			return &ConfigError{Table: t.Name, Column: property,
				Message: fmt.Sprintf("sql name %q already used by %s", sqlName, other)}
		}
		seen[k] = property
		return nil
	}
	for _, c := range t.columns {
		switch col := c.(type) {
		case *PrimaryKey:
			if err := check(col.SQLName, col.Property); err != nil {
				return err
			}
		case *Field:
			if err := check(col.SQLName, col.Property); err != nil {
				return err
			}
		case *ToOne:
			for _, l := range col.Links {
				if err := check(l.SQLName, col.Property); err != nil {
					return err
				}
			}
		}
	}
	if t.Version != nil {
		return check(t.Version.SQLName, t.Version.Property)
	}
	return nil
}

// Table returns the named table.
func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// MustTable is Table for names known to exist.
func (r *Registry) MustTable(name string) *Table {
	t, ok := r.tables[name]
	if !ok {
		panic(fmt.Sprintf("schema: unknown table %q", name))
	}
	return t
}

// Tables returns every table in definition order.
func (r *Registry) Tables() []*Table {
	out := make([]*Table, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tables[name])
	}
	return out
}

// Bind attaches the factory the engine uses to build instances of a table.
func (r *Registry) Bind(name string, factory func() Accessor) error {
	t, ok := r.tables[name]
	if !ok {
		return &ConfigError{Table: name, Message: "cannot bind factory to unknown table"}
	}
	if factory == nil {
		return &ConfigError{Table: name, Message: "factory cannot be nil"}
	}
	t.factory = factory
	return nil
}
