package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/persist"
	"github.com/ridoystarlord/persisto/schema"
	"github.com/ridoystarlord/persisto/sqlite"
)

const ddl = `
CREATE TABLE customers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT
);
CREATE TABLE orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	total REAL,
	customers_id INTEGER NOT NULL REFERENCES customers(id)
);
CREATE TABLE accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT,
	__version INTEGER NOT NULL DEFAULT 1
);
CREATE VIEW customer_names AS SELECT name FROM customers;
`

type customer struct {
	persist.Base
	ID     int64
	Name   string
	Orders *persist.Collection
}

func (c *customer) TableName() string { return "Customer" }

func (c *customer) Get(p string) any {
	switch p {
	case "Id":
		return c.ID
	case "Name":
		return c.Name
	case "Orders":
		if c.Orders == nil {
			return nil
		}
		return c.Orders
	}
	return nil
}

func (c *customer) Set(p string, v any) {
	switch p {
	case "Id":
		c.ID, _ = v.(int64)
	case "Name":
		c.Name, _ = v.(string)
	case "Orders":
		c.Orders, _ = v.(*persist.Collection)
	}
}

type order struct {
	persist.Base
	ID       int64
	Total    float64
	Customer *customer
}

func (o *order) TableName() string { return "Order" }

func (o *order) Get(p string) any {
	switch p {
	case "Id":
		return o.ID
	case "Total":
		return o.Total
	case "Customer":
		if o.Customer == nil {
			return nil
		}
		return o.Customer
	}
	return nil
}

func (o *order) Set(p string, v any) {
	switch p {
	case "Id":
		o.ID, _ = v.(int64)
	case "Total":
		o.Total, _ = v.(float64)
	case "Customer":
		o.Customer, _ = v.(*customer)
	}
}

type account struct {
	persist.Base
	ID    int64
	Owner string
}

func (a *account) TableName() string { return "Account" }

func (a *account) Get(p string) any {
	switch p {
	case "Id":
		return a.ID
	case "Owner":
		return a.Owner
	}
	return nil
}

func (a *account) Set(p string, v any) {
	switch p {
	case "Id":
		a.ID, _ = v.(int64)
	case "Owner":
		a.Owner, _ = v.(string)
	}
}

func registry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Build([]schema.TableDef{
		{
			Name:    "Customer",
			SQLName: "customers",
			Fields:  []schema.FieldDef{{Property: "Name", SQLName: "name", Type: "text"}},
			ToMany: []schema.ToManyDef{{
				Property:      "Orders",
				Table:         "Order",
				Cascade:       schema.CascadeAll,
				OrphanRemoval: true,
			}},
		},
		{
			Name:    "Order",
			SQLName: "orders",
			Fields:  []schema.FieldDef{{Property: "Total", SQLName: "total", Type: "real"}},
			ToOne: []schema.ToOneDef{{
				Property: "Customer",
				Table:    "Customer",
				Cascade:  schema.CascadeSave,
				NotNull:  true,
			}},
		},
		{
			Name:      "Account",
			SQLName:   "accounts",
			Versioned: true,
			Fields:    []schema.FieldDef{{Property: "Owner", SQLName: "owner", Type: "text"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Bind("Customer", func() schema.Accessor { return &customer{} }))
	require.NoError(t, reg.Bind("Order", func() schema.Accessor { return &order{} }))
	require.NoError(t, reg.Bind("Account", func() schema.Accessor { return &account{} }))
	return reg
}

func openEngine(t *testing.T) (context.Context, *sqlite.Backend, *persist.Engine) {
	t.Helper()
	ctx := context.Background()
	be, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(be.Close)

	_, err = be.DB().ExecContext(ctx, ddl)
	require.NoError(t, err)

	eng, err := persist.Open(ctx, registry(t), be, persist.WithValidation(true))
	require.NoError(t, err)
	return ctx, be, eng
}

func count(t *testing.T, be *sqlite.Backend, table string) int {
	t.Helper()
	var n int
	require.NoError(t, be.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestOpenInstallsVersionTrigger(t *testing.T) {
	ctx, be, eng := openEngine(t)
	tbl := eng.Registry().MustTable("Account")

	ok, err := be.TriggerExists(ctx, tbl, backend.VersionTriggerName(tbl))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = be.TriggerExists(ctx, eng.Registry().MustTable("Customer"), "customers_version")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidationRejectsMissingColumn(t *testing.T) {
	ctx := context.Background()
	be, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	defer be.Close()
	_, err = be.DB().ExecContext(ctx, `
		CREATE TABLE customers (id INTEGER PRIMARY KEY AUTOINCREMENT);
		CREATE TABLE orders (id INTEGER PRIMARY KEY AUTOINCREMENT, total REAL, customers_id INTEGER NOT NULL REFERENCES customers(id));
		CREATE TABLE accounts (id INTEGER PRIMARY KEY AUTOINCREMENT, owner TEXT, __version INTEGER NOT NULL DEFAULT 1);`)
	require.NoError(t, err)

	_, err = persist.Open(ctx, registry(t), be, persist.WithValidation(true))
	var cfg *schema.ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "Customer", cfg.Table)
	assert.Equal(t, "Name", cfg.Column)
}

func TestValidationRejectsMissingForeignKey(t *testing.T) {
	ctx := context.Background()
	be, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	defer be.Close()
	_, err = be.DB().ExecContext(ctx, `
		CREATE TABLE customers (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT);
		CREATE TABLE orders (id INTEGER PRIMARY KEY AUTOINCREMENT, total REAL, customers_id INTEGER NOT NULL);
		CREATE TABLE accounts (id INTEGER PRIMARY KEY AUTOINCREMENT, owner TEXT, __version INTEGER NOT NULL DEFAULT 1);`)
	require.NoError(t, err)

	_, err = persist.Open(ctx, registry(t), be, persist.WithValidation(true))
	var cfg *schema.ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "Order", cfg.Table)
	assert.Equal(t, "Customer", cfg.Column)
}

func TestSaveAndLoadGraph(t *testing.T) {
	ctx, be, eng := openEngine(t)
	c := &customer{Name: "Ada", Orders: persist.NewCollection(&order{Total: 10}, &order{Total: 2.5})}

	ok, err := eng.NewScope().Save(ctx, c)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), c.ID)
	assert.Equal(t, 2, count(t, be, "orders"))

	s := eng.NewScope()
	e, found, err := s.Get(ctx, "Customer", c.ID)
	require.NoError(t, err)
	require.True(t, found)
	got := e.(*customer)
	assert.Equal(t, "Ada", got.Name)

	require.NotNil(t, got.Orders)
	require.NoError(t, got.Orders.Load(ctx))
	require.Equal(t, 2, got.Orders.Len())
	first := got.Orders.At(0).(*order)
	assert.Equal(t, 10.0, first.Total)
	assert.Same(t, got, first.Customer)
	assert.Equal(t, 2.5, got.Orders.At(1).(*order).Total)
}

func TestStaleVersionIsRejected(t *testing.T) {
	ctx, _, eng := openEngine(t)
	a := &account{Owner: "x"}
	s1 := eng.NewScope()
	ok, err := s1.Save(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), a.Meta().Version("Account"))

	s2 := eng.NewScope()
	e, found, err := s2.Get(ctx, "Account", a.ID)
	require.NoError(t, err)
	require.True(t, found)

	persist.Set(a, "Owner", "y")
	ok, err = s1.Save(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), a.Meta().Version("Account"))

	persist.Set(e, "Owner", "z")
	ok, err = s2.Save(ctx, e)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh := eng.NewScope()
	e, _, err = fresh.Get(ctx, "Account", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "y", e.(*account).Owner)
}

func TestDeleteCascadesToOrders(t *testing.T) {
	ctx, be, eng := openEngine(t)
	s := eng.NewScope()
	c := &customer{Name: "Ada", Orders: persist.NewCollection(&order{Total: 1}, &order{Total: 2})}
	_, err := s.Save(ctx, c)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, c))
	assert.Equal(t, 0, count(t, be, "orders"))
	assert.Equal(t, 0, count(t, be, "customers"))
	assert.True(t, c.Meta().Deleted())
}

func TestFindByFilter(t *testing.T) {
	ctx, _, eng := openEngine(t)
	s := eng.NewScope()
	for _, name := range []string{"Ada", "Bob", "Cy"} {
		_, err := s.Save(ctx, &customer{Name: name})
		require.NoError(t, err)
	}

	col, err := eng.NewScope().FindByFilter("Customer", "name <> 'Bob'")
	require.NoError(t, err)
	require.NoError(t, col.Load(ctx))
	require.Equal(t, 2, col.Len())
	assert.Equal(t, "Cy", col.At(1).(*customer).Name)
}

func TestViewAndProcedure(t *testing.T) {
	ctx, _, eng := openEngine(t)
	s := eng.NewScope()
	_, err := s.Save(ctx, &customer{Name: "Ada"})
	require.NoError(t, err)

	rows, err := s.View(ctx, "customer_names")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	name, ok := rows[0].Lookup("name")
	require.True(t, ok)
	assert.Equal(t, "Ada", name)

	_, err = s.Call(ctx, "Customer", "top_customers")
	assert.True(t, errors.Is(err, backend.ErrUnsupported))
}
