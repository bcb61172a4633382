package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shopDefs() []TableDef {
	return []TableDef{
		{
			Name:    "Customer",
			SQLName: "customers",
			Fields:  []FieldDef{{Property: "Name", SQLName: "name", Type: "text", NotNull: true}},
			ToMany:  []ToManyDef{{Property: "Orders", Table: "Order", Cascade: CascadeAll}},
		},
		{
			Name:      "Order",
			SQLName:   "orders",
			Versioned: true,
			Fields:    []FieldDef{{Property: "Total", SQLName: "total", Type: "real"}},
			ToOne:     []ToOneDef{{Property: "Customer", Table: "Customer", NotNull: true}},
		},
	}
}

func TestBuildImplicitKeyAndLinks(t *testing.T) {
	reg, err := Build(shopDefs(), WithDefaultSchema("shop"))
	require.NoError(t, err)

	c := reg.MustTable("Customer")
	assert.Equal(t, "shop.customers", c.QualifiedName())
	require.Len(t, c.PrimaryKeys(), 1)
	pk := c.PrimaryKeys()[0]
	assert.Equal(t, ImplicitKey, pk.Property)
	assert.Equal(t, "id", pk.SQLName)
	assert.True(t, pk.AutoIncrement)
	assert.Equal(t, int64(0), pk.Unset)
	assert.True(t, pk.IsUnset(0))
	assert.True(t, pk.IsUnset(nil))
	assert.False(t, pk.IsUnset(int32(4)))

	o := reg.MustTable("Order")
	require.Len(t, o.ToOnes(), 1)
	rel := o.ToOnes()[0]
	assert.Equal(t, []string{"customers_id"}, rel.LinkNames())
	assert.Same(t, c, rel.Target())
	assert.Equal(t, NotNull, rel.Nullability)

	require.NotNil(t, o.Version)
	assert.Equal(t, VersionColumn, o.Version.SQLName)

	many := c.ToManys()[0]
	assert.Same(t, rel, many.Inverse)
	assert.Equal(t, DefaultPageSize, many.PageSize)
	assert.True(t, many.Cascade.Has(CascadeDelete))
}

func TestBuildColumnLookupIsCaseInsensitive(t *testing.T) {
	reg, err := Build(shopDefs())
	require.NoError(t, err)
	c := reg.MustTable("Customer")

	col, ok := c.Column("name")
	require.True(t, ok)
	assert.Equal(t, "Name", col.Name())
	assert.True(t, c.IsKey("ID"))
	assert.Len(t, c.Fields(), 2)
	assert.Equal(t, []string{"Customer", "Order"}, names(reg.Tables()))
}

func names(ts []*Table) []string {
	var out []string
	for _, t := range ts {
		out = append(out, t.Name)
	}
	return out
}

func TestBuildMissingInverse(t *testing.T) {
	defs := shopDefs()
	defs[1].ToOne = nil
	_, err := Build(defs)
	var cfg *ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "Customer", cfg.Table)
	assert.Equal(t, "Orders", cfg.Column)
}

func TestBuildAmbiguousInverse(t *testing.T) {
	defs := shopDefs()
	defs[1].ToOne = append(defs[1].ToOne, ToOneDef{Property: "Referrer", Table: "Customer", LinkPrefix: "referrer"})
	_, err := Build(defs)
	var cfg *ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Contains(t, cfg.Message, "ambiguous")

	defs[0].ToMany[0].Inverse = "customer"
	reg, err := Build(defs)
	require.NoError(t, err)
	assert.Equal(t, "Customer", reg.MustTable("Customer").ToManys()[0].Inverse.Property)
}

func TestBuildDuplicateColumns(t *testing.T) {
	defs := shopDefs()
	defs[0].Fields = append(defs[0].Fields, FieldDef{Property: "name", Type: "text"})
	_, err := Build(defs)
	var cfg *ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "duplicate column", cfg.Message)

	defs = shopDefs()
	defs[0].Fields = append(defs[0].Fields, FieldDef{Property: "Alias", SQLName: "NAME"})
	_, err = Build(defs)
	require.ErrorAs(t, err, &cfg)
	assert.Contains(t, cfg.Message, "already used by Name")
}

func TestBuildUnknownReference(t *testing.T) {
	_, err := Build([]TableDef{{Name: "Order", ToOne: []ToOneDef{{Property: "Customer", Table: "Customer"}}}})
	var cfg *ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Contains(t, cfg.Message, "depends on table Customer")
}

func TestBuildSpecialization(t *testing.T) {
	reg, err := Build([]TableDef{
		{Name: "Car", SQLName: "cars", Extends: "Vehicle", Fields: []FieldDef{{Property: "Doors", Type: "integer"}}},
		{Name: "Vehicle", SQLName: "vehicles", Fields: []FieldDef{{Property: "Wheels", Type: "integer"}}},
	})
	require.NoError(t, err)

	car := reg.MustTable("Car")
	assert.True(t, car.IsSpecialization())
	assert.Same(t, reg.MustTable("Vehicle"), car.Root())
	require.Len(t, car.PrimaryKeys(), 1)
	pk := car.PrimaryKeys()[0]
	assert.Equal(t, "Id", pk.Property)
	assert.Equal(t, "vehicles_id", pk.SQLName)
	assert.False(t, pk.AutoIncrement)
	assert.Same(t, car, pk.Owner())
}

func TestBuildSpecializationRules(t *testing.T) {
	_, err := Build([]TableDef{{Name: "Car", Extends: "Vehicle"}})
	var cfg *ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Contains(t, cfg.Message, "extends unknown table")

	_, err = Build([]TableDef{
		{Name: "A", Extends: "B"},
		{Name: "B", Extends: "A"},
	})
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "cyclic specialization", cfg.Message)

	_, err = Build([]TableDef{
		{Name: "Vehicle"},
		{Name: "Car", Extends: "Vehicle", Keys: []KeyDef{{FieldDef: FieldDef{Property: "Vin", Type: "text"}}}},
	})
	require.ErrorAs(t, err, &cfg)
	assert.Contains(t, cfg.Message, "inherits its primary key")
}

func TestBuildCompositeKeysKeepAutoIncrementFirst(t *testing.T) {
	reg, err := Build([]TableDef{{
		Name: "Line",
		Keys: []KeyDef{
			{FieldDef: FieldDef{Property: "Invoice", Type: "text"}},
			{FieldDef: FieldDef{Property: "Seq", Type: "bigint"}, AutoIncrement: true},
		},
	}})
	require.NoError(t, err)
	keys := reg.MustTable("Line").PrimaryKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, "Seq", keys[0].Property)
	assert.Equal(t, "", keys[1].Unset)
	assert.False(t, reg.MustTable("Line").SingleKey())
}

func TestBind(t *testing.T) {
	reg, err := Build(shopDefs())
	require.NoError(t, err)

	_, err = reg.MustTable("Customer").New()
	var cfg *ConfigError
	require.ErrorAs(t, err, &cfg)

	assert.Error(t, reg.Bind("Nope", func() Accessor { return nil }))
	assert.Error(t, reg.Bind("Customer", nil))
}

func TestCascade(t *testing.T) {
	c, err := ParseCascade("save", "Delete")
	require.NoError(t, err)
	assert.True(t, c.Has(CascadeSave))
	assert.True(t, c.Has(CascadeDelete))
	assert.False(t, c.Has(CascadeFree))
	assert.False(t, c.Has(CascadeNone))
	assert.Equal(t, "save|delete", c.String())

	all, err := ParseCascade("all")
	require.NoError(t, err)
	assert.Equal(t, CascadeAll, all)
	assert.Equal(t, "none", CascadeNone.String())

	_, err = ParseCascade("explode")
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	f, err := ParseFetch("EAGER")
	require.NoError(t, err)
	assert.Equal(t, FetchEager, f)
	f, err = ParseFetch("")
	require.NoError(t, err)
	assert.Equal(t, FetchLazy, f)
	_, err = ParseFetch("sometimes")
	assert.Error(t, err)
}
