package backend

import (
	"fmt"
	"strings"

	"github.com/ridoystarlord/persisto/schema"
)

// ColumnInfo is one live column as reported by the store's catalog.
type ColumnInfo struct {
	Name       string
	DataType   string
	Nullable   bool
	PrimaryKey bool
}

// ForeignKeyInfo is one column of a live foreign key constraint.
type ForeignKeyInfo struct {
	Column    string
	RefTable  string
	RefColumn string
}

func findColumn(cols []ColumnInfo, name string) (ColumnInfo, bool) {
	for _, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

// CheckPrimaryKeys compares the declared keys of t with the live ones.
func CheckPrimaryKeys(t *schema.Table, cols []ColumnInfo) error {
	var live []string
	for _, c := range cols {
		if c.PrimaryKey {
			live = append(live, strings.ToLower(c.Name))
		}
	}
	if len(live) != len(t.PrimaryKeys()) {
		return &schema.ConfigError{Table: t.Name,
			Message: fmt.Sprintf("declares %d primary key columns, %s has %d", len(t.PrimaryKeys()), t.QualifiedName(), len(live))}
	}
	for _, pk := range t.PrimaryKeys() {
		c, ok := findColumn(cols, pk.SQLName)
		if !ok || !c.PrimaryKey {
			return &schema.ConfigError{Table: t.Name, Column: pk.Property,
				Message: fmt.Sprintf("column %s is not a primary key of %s", pk.SQLName, t.QualifiedName())}
		}
	}
	return nil
}

// CheckField verifies that f exists with a compatible type and nullability.
func CheckField(t *schema.Table, f *schema.Field, cols []ColumnInfo) error {
	c, ok := findColumn(cols, f.SQLName)
	if !ok {
		return &schema.ConfigError{Table: t.Name, Column: f.Property,
			Message: fmt.Sprintf("column %s does not exist in %s", f.SQLName, t.QualifiedName())}
	}
	if live := schema.KindOf(c.DataType); f.Kind != schema.KindAny && live != schema.KindAny && live != f.Kind && !f.Enum {
		return &schema.ConfigError{Table: t.Name, Column: f.Property,
			Message: fmt.Sprintf("declared type %s does not match column type %s", f.SQLType, c.DataType)}
	}
	if f.Nullability == schema.NotNull && c.Nullable && !c.PrimaryKey {
		return &schema.ConfigError{Table: t.Name, Column: f.Property,
			Message: fmt.Sprintf("declared not null but column %s is nullable", f.SQLName)}
	}
	return nil
}

// CheckForeignKey verifies that every link column of rel exists and is
// constrained to the referenced key.
func CheckForeignKey(rel *schema.ToOne, cols []ColumnInfo, fks []ForeignKeyInfo) error {
	t, ref := rel.Owner(), rel.Target()
	for _, l := range rel.Links {
		if _, ok := findColumn(cols, l.SQLName); !ok {
			return &schema.ConfigError{Table: t.Name, Column: rel.Property,
				Message: fmt.Sprintf("link column %s does not exist in %s", l.SQLName, t.QualifiedName())}
		}
		found := false
		for _, fk := range fks {
			if strings.EqualFold(fk.Column, l.SQLName) &&
				strings.EqualFold(fk.RefTable, ref.SQLName) &&
				strings.EqualFold(fk.RefColumn, l.Key.SQLName) {
				found = true
				break
			}
		}
		if !found {
			return &schema.ConfigError{Table: t.Name, Column: rel.Property,
				Message: fmt.Sprintf("no foreign key from %s to %s(%s)", l.SQLName, ref.QualifiedName(), l.Key.SQLName)}
		}
	}
	return nil
}
