package persist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/persisto/backend/memory"
	"github.com/ridoystarlord/persisto/schema"
)

type Customer struct {
	Base
	Id     int64
	Name   string
	Orders *Collection
}

func (c *Customer) TableName() string { return "Customer" }

func (c *Customer) Get(p string) any {
	switch p {
	case "Id":
		return c.Id
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

func (c *Customer) Set(p string, v any) {
	switch p {
	case "Id":
		c.Id, _ = v.(int64)
	case "Name":
		c.Name, _ = v.(string)
	case "Orders":
		c.Orders, _ = v.(*Collection)
	}
}

type Order struct {
	Base
	Id       int64
	Total    float64
	Customer *Customer
}

func (o *Order) TableName() string { return "Order" }

func (o *Order) Get(p string) any {
	switch p {
	case "Id":
		return o.Id
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

func (o *Order) Set(p string, v any) {
	switch p {
	case "Id":
		o.Id, _ = v.(int64)
	case "Total":
		o.Total, _ = v.(float64)
	case "Customer":
		o.Customer, _ = v.(*Customer)
	}
}

type Note struct {
	Base
	Id     int64
	Text   string
	Author *Customer
}

func (n *Note) TableName() string { return "Note" }

func (n *Note) Get(p string) any {
	switch p {
	case "Id":
		return n.Id
	case "Text":
		return n.Text
	case "Author":
		if n.Author == nil {
			return nil
		}
		return n.Author
	}
	return nil
}

func (n *Note) Set(p string, v any) {
	switch p {
	case "Id":
		n.Id, _ = v.(int64)
	case "Text":
		n.Text, _ = v.(string)
	case "Author":
		n.Author, _ = v.(*Customer)
	}
}

type Account struct {
	Base
	Id    int64
	Owner string
}

func (a *Account) TableName() string { return "Account" }

func (a *Account) Get(p string) any {
	switch p {
	case "Id":
		return a.Id
	case "Owner":
		return a.Owner
	}
	return nil
}

func (a *Account) Set(p string, v any) {
	switch p {
	case "Id":
		a.Id, _ = v.(int64)
	case "Owner":
		a.Owner, _ = v.(string)
	}
}

type Car struct {
	Base
	Id     int64
	Wheels int64
	Doors  int64
}

func (c *Car) TableName() string { return "Car" }

func (c *Car) Get(p string) any {
	switch p {
	case "Id":
		return c.Id
	case "Wheels":
		return c.Wheels
	case "Doors":
		return c.Doors
	}
	return nil
}

func (c *Car) Set(p string, v any) {
	switch p {
	case "Id":
		c.Id, _ = v.(int64)
	case "Wheels":
		c.Wheels, _ = v.(int64)
	case "Doors":
		c.Doors, _ = v.(int64)
	}
}

type Tag struct {
	Base
	Namespace string
	Name      string
	Label     string
}

func (t *Tag) TableName() string { return "Tag" }

func (t *Tag) Get(p string) any {
	switch p {
	case "Namespace":
		return t.Namespace
	case "Name":
		return t.Name
	case "Label":
		return t.Label
	}
	return nil
}

func (t *Tag) Set(p string, v any) {
	switch p {
	case "Namespace":
		t.Namespace, _ = v.(string)
	case "Name":
		t.Name, _ = v.(string)
	case "Label":
		t.Label, _ = v.(string)
	}
}

func testRegistry(t *testing.T) *schema.Registry {
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
				PageSize:      2,
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
				Fetch:    schema.FetchEager,
				NotNull:  true,
			}},
		},
		{
			Name:    "Note",
			SQLName: "notes",
			Fields:  []schema.FieldDef{{Property: "Text", SQLName: "body", Type: "text"}},
			ToOne:   []schema.ToOneDef{{Property: "Author", Table: "Customer", LinkPrefix: "author"}},
		},
		{
			Name:      "Account",
			SQLName:   "accounts",
			Versioned: true,
			Fields:    []schema.FieldDef{{Property: "Owner", SQLName: "owner", Type: "text"}},
		},
		{
			Name:    "Vehicle",
			SQLName: "vehicles",
			Fields:  []schema.FieldDef{{Property: "Wheels", SQLName: "wheels", Type: "integer"}},
		},
		{
			Name:    "Car",
			SQLName: "cars",
			Extends: "Vehicle",
			Fields:  []schema.FieldDef{{Property: "Doors", SQLName: "doors", Type: "integer"}},
		},
		{
			Name:    "Tag",
			SQLName: "tags",
			Keys: []schema.KeyDef{
				{FieldDef: schema.FieldDef{Property: "Namespace", SQLName: "ns", Type: "text"}},
				{FieldDef: schema.FieldDef{Property: "Name", SQLName: "name", Type: "text"}},
			},
			Fields: []schema.FieldDef{{Property: "Label", SQLName: "label", Type: "text"}},
		},
	})
	require.NoError(t, err)

	for name, factory := range map[string]func() schema.Accessor{
		"Customer": func() schema.Accessor { return &Customer{} },
		"Order":    func() schema.Accessor { return &Order{} },
		"Note":     func() schema.Accessor { return &Note{} },
		"Account":  func() schema.Accessor { return &Account{} },
		"Car":      func() schema.Accessor { return &Car{} },
		"Tag":      func() schema.Accessor { return &Tag{} },
	} {
		require.NoError(t, reg.Bind(name, factory))
	}
	return reg
}

type fixture struct {
	ctx    context.Context
	reg    *schema.Registry
	mem    *memory.Backend
	engine *Engine
	scope  *Scope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	reg := testRegistry(t)
	mem := memory.New()
	eng, err := Open(ctx, reg, mem)
	require.NoError(t, err)
	return &fixture{ctx: ctx, reg: reg, mem: mem, engine: eng, scope: eng.NewScope()}
}

// seedCustomers stores one customer per name with ids from 1.
func (f *fixture) seedCustomers(names ...string) {
	for i, name := range names {
		f.mem.Put("customers", map[string]any{"id": i + 1, "name": name})
	}
	f.mem.Sequence("customers", int64(len(names)))
}
