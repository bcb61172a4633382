package persist

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/backend/memory"
	"github.com/ridoystarlord/persisto/schema"
)

func TestSaveAssignsGeneratedKey(t *testing.T) {
	f := newFixture(t)
	c := &Customer{Name: "A"}
	assert.Equal(t, StateNew, c.Meta().State())

	ok, err := f.scope.Save(f.ctx, c)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), c.Id)
	assert.Equal(t, StateLoaded, c.Meta().State())
	assert.False(t, c.Meta().Changed())

	writes := f.mem.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, memory.OpInsert, writes[0].Op)
	assert.Equal(t, backend.Values{{Column: "name", Value: "A"}}, writes[0].Fields)

	got, ok := f.scope.TryGet("Customer", 1)
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestSaveUnchangedIsNoop(t *testing.T) {
	f := newFixture(t)
	c := &Customer{Name: "A"}
	_, err := f.scope.Save(f.ctx, c)
	require.NoError(t, err)
	f.mem.ResetLog()

	ok, err := f.scope.Save(f.ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, f.mem.Writes())
}

func TestSaveUpdatesChangedFieldsOnly(t *testing.T) {
	f := newFixture(t)
	f.mem.Put("tags", backend.Row{"ns": "a", "name": "x", "label": "old"})
	e, found, err := f.scope.Get(f.ctx, "Tag", "a", "x")
	require.NoError(t, err)
	require.True(t, found)

	Set(e, "Label", "new")
	assert.Equal(t, StateModified, e.Meta().State())
	assert.Equal(t, []string{"label"}, e.Meta().ChangedFields())
	ok, err := f.scope.Save(f.ctx, e)
	require.NoError(t, err)
	require.True(t, ok)

	writes := f.mem.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, memory.OpUpdate, writes[0].Op)
	assert.Equal(t, backend.Values{{Column: "label", Value: "new"}}, writes[0].Fields)
}

func TestSaveCascadesToReferencedEntityFirst(t *testing.T) {
	f := newFixture(t)
	f.mem.Sequence("customers", 6)
	o := &Order{Total: 9.5, Customer: &Customer{Name: "A"}}

	ok, err := f.scope.Save(f.ctx, o)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), o.Customer.Id)

	writes := f.mem.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "customers", writes[0].Table)
	assert.Equal(t, "orders", writes[1].Table)
	link, ok := writes[1].Fields.Get("customers_id")
	require.True(t, ok)
	assert.Equal(t, int64(7), link)
	assert.False(t, o.Customer.Meta().Changed())
}

func TestSaveWithoutCascadeSkipsReferencedEntity(t *testing.T) {
	f := newFixture(t)
	n := &Note{Text: "hello", Author: &Customer{Name: "B"}}

	ok, err := f.scope.Save(f.ctx, n)
	require.NoError(t, err)
	require.True(t, ok)

	writes := f.mem.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "notes", writes[0].Table)
	link, ok := writes[0].Fields.Get("author_id")
	require.True(t, ok)
	assert.Nil(t, link)
	assert.Equal(t, int64(0), n.Author.Id)
}

func TestSaveRejectsNullRequiredReference(t *testing.T) {
	f := newFixture(t)
	ok, err := f.scope.Save(f.ctx, &Order{Total: 1})
	assert.False(t, ok)
	var ce *schema.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "Customer", ce.Column)
	assert.Empty(t, f.mem.Writes())
}

func TestSaveRejectsUnsetKeyWithoutAutoIncrement(t *testing.T) {
	f := newFixture(t)
	ok, err := f.scope.Save(f.ctx, &Tag{Namespace: "a", Label: "l"})
	assert.False(t, ok)
	var ce *schema.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "Name", ce.Column)
}

func TestKeyRenameUpdatesByPreviousKey(t *testing.T) {
	f := newFixture(t)
	f.mem.Put("tags", backend.Row{"ns": "a", "name": "x", "label": "L"})
	tag, found, err := f.scope.Get(f.ctx, "Tag", "a", "x")
	require.NoError(t, err)
	require.True(t, found)

	Set(tag, "Name", "y")
	_, stillOld := f.scope.TryGet("Tag", "a", "x")
	assert.False(t, stillOld)

	ok, err := f.scope.Save(f.ctx, tag)
	require.NoError(t, err)
	require.True(t, ok)

	writes := f.mem.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, memory.OpUpdate, writes[0].Op)
	assert.Equal(t, backend.Values{{Column: "name", Value: "y"}}, writes[0].Fields)
	assert.Equal(t, backend.Values{{Column: "ns", Value: "a"}, {Column: "name", Value: "x"}}, writes[0].Keys)

	got, ok := f.scope.TryGet("Tag", "a", "y")
	require.True(t, ok)
	assert.Same(t, tag, got)
	assert.True(t, tag.Meta().LastKeys().Equal(Key("Namespace", "a").With("Name", "y")))

	rows := f.mem.Rows("tags")
	require.Len(t, rows, 1)
	assert.Equal(t, "y", rows[0]["name"])
}

func TestStaleVersionReturnsFalse(t *testing.T) {
	f := newFixture(t)
	f.mem.Put("accounts", backend.Row{"id": 1, "owner": "ann", "__version": 1})

	first, _, err := f.scope.Get(f.ctx, "Account", 1)
	require.NoError(t, err)
	other := f.engine.NewScope()
	second, _, err := other.Get(f.ctx, "Account", 1)
	require.NoError(t, err)
	require.NotSame(t, first, second)

	Set(first, "Owner", "x")
	ok, err := f.scope.Save(f.ctx, first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), first.Meta().Version("Account"))

	Set(second, "Owner", "y")
	ok, err = other.Save(f.ctx, second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), second.Meta().Version("Account"))
	assert.Equal(t, StateModified, second.Meta().State())

	rows := f.mem.Rows("accounts")
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0]["owner"])
}

func TestVersionedInsertStartsAtOne(t *testing.T) {
	f := newFixture(t)
	a := &Account{Owner: "ann"}
	ok, err := f.scope.Save(f.ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), a.Meta().Version("Account"))
	assert.Equal(t, int64(1), f.mem.Rows("accounts")[0]["__version"])
}

func TestSpecializationWritesBaseRowFirst(t *testing.T) {
	f := newFixture(t)
	car := &Car{Wheels: 4, Doors: 2}

	ok, err := f.scope.Save(f.ctx, car)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), car.Id)

	writes := f.mem.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "vehicles", writes[0].Table)
	assert.Equal(t, backend.Values{{Column: "wheels", Value: int64(4)}}, writes[0].Fields)
	assert.Equal(t, "cars", writes[1].Table)
	assert.Equal(t, backend.Values{
		{Column: "vehicles_id", Value: int64(1)},
		{Column: "doors", Value: int64(2)},
	}, writes[1].Fields)
}

func TestSaveCollectionAfterParentKeyExists(t *testing.T) {
	f := newFixture(t)
	first, second := &Order{Total: 1}, &Order{Total: 2}
	c := &Customer{Name: "A", Orders: NewCollection(first, second)}

	ok, err := f.scope.Save(f.ctx, c)
	require.NoError(t, err)
	require.True(t, ok)

	writes := f.mem.Writes()
	require.Len(t, writes, 3)
	assert.Equal(t, "customers", writes[0].Table)
	for _, w := range writes[1:] {
		assert.Equal(t, "orders", w.Table)
		link, _ := w.Fields.Get("customers_id")
		assert.Equal(t, c.Id, link)
	}
	assert.Same(t, c, first.Customer)
	assert.Same(t, c, second.Customer)
	assert.False(t, c.Orders.Changed())
}

func TestOrphanRemovalDeletesRemovedMember(t *testing.T) {
	f := newFixture(t)
	f.seedCustomers("A")
	f.mem.Put("orders", backend.Row{"id": 1, "total": 1.0, "customers_id": 1})
	f.mem.Put("orders", backend.Row{"id": 2, "total": 2.0, "customers_id": 1})

	e, _, err := f.scope.Get(f.ctx, "Customer", 1)
	require.NoError(t, err)
	c := e.(*Customer)
	require.NoError(t, c.Orders.Load(f.ctx))
	require.Equal(t, 2, c.Orders.Len())
	gone := c.Orders.At(0)
	require.True(t, c.Orders.Remove(gone))
	f.mem.ResetLog()

	ok, err := f.scope.Save(f.ctx, c)
	require.NoError(t, err)
	require.True(t, ok)

	writes := f.mem.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, memory.OpDelete, writes[0].Op)
	assert.Equal(t, backend.Values{{Column: "id", Value: int64(1)}}, writes[0].Keys)
	assert.True(t, gone.Meta().Deleted())
	assert.Len(t, f.mem.Rows("orders"), 1)
}

func TestFailedSaveRestoresKeys(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.mem.Fail("orders", memory.OpInsert, boom)
	o := &Order{Total: 1, Customer: &Customer{Name: "A"}}

	ok, err := f.scope.Save(f.ctx, o)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "injected", pe.Code)
	assert.Equal(t, "Order", pe.Table)

	assert.Equal(t, int64(0), o.Customer.Id)
	assert.Equal(t, StateNew, o.Customer.Meta().State())
	assert.True(t, o.Customer.Meta().LastKeys().IsZero())
	assert.Zero(t, f.scope.Len())
	assert.Empty(t, f.mem.Rows("customers"))
}

func TestCommitFailureSkipsCommitHooks(t *testing.T) {
	f := newFixture(t)
	f.mem.Fail("", memory.OpCommit, errors.New("disk full"))
	c := &Customer{Name: "A"}

	ok, err := f.scope.Save(f.ctx, c)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, int64(0), c.Id)
	assert.False(t, c.Meta().Persisted())
	assert.Zero(t, f.scope.Len())
}

func TestPersistReadsBack(t *testing.T) {
	f := newFixture(t)
	a := &Account{Owner: "ann"}
	ok, err := f.scope.Persist(f.ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, a.Meta().Loaded())
	assert.Equal(t, int64(1), a.Meta().Version("Account"))
}
