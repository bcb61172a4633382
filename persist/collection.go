package persist

import (
	"context"
	"fmt"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/schema"
)

// Collection is an ordered list of entities of one table. It is either the
// to-many side of a relationship or the result of a query, and it reads its
// rows only when loaded. Lazy relationships of a loaded entity stay empty
// until Load or LoadPage is called.
type Collection struct {
	scope    *Scope
	table    *schema.Table
	owner    Entity
	rel      *schema.ToMany
	keys     backend.Values
	filter   string
	pageSize int

	items   []Entity
	removed []Entity
	loaded  bool
	changed bool
}

// NewCollection builds an unbound collection for a new owner. It binds to
// the owner's relationship the first time the owner is saved.
func NewCollection(items ...Entity) *Collection {
	return &Collection{items: append([]Entity(nil), items...), changed: len(items) > 0, loaded: true}
}

func newRelation(s *Scope, owner Entity, rel *schema.ToMany) *Collection {
	c := &Collection{}
	c.bind(s, owner, rel)
	return c
}

func newQuery(s *Scope, t *schema.Table, keys backend.Values, filter string) *Collection {
	return &Collection{scope: s, table: t, keys: keys, filter: filter, pageSize: schema.DefaultPageSize}
}

func (c *Collection) bind(s *Scope, owner Entity, rel *schema.ToMany) {
	c.scope = s
	c.owner = owner
	c.rel = rel
	c.table = rel.Target()
	if c.pageSize == 0 {
		c.pageSize = rel.PageSize
	}
}

// query returns the selection of the collection. A relationship whose owner
// has no key yet selects nothing.
func (c *Collection) query() (backend.Query, bool) {
	if c.rel == nil {
		return backend.Query{Table: c.table, Keys: c.keys, Filter: c.filter}, true
	}
	var keys backend.Values
	for _, l := range c.rel.Inverse.Links {
		v := c.owner.Get(l.Key.Property)
		if l.Key.IsUnset(v) {
			return backend.Query{}, false
		}
		keys = append(keys, backend.Value{Column: l.SQLName, Value: l.Key.Encode(v)})
	}
	return backend.Query{Table: c.table, Keys: keys}, true
}

// Load reads every member, one page at a time, replacing the current items
// and discarding pending additions and removals.
func (c *Collection) Load(ctx context.Context) error {
	return c.load(ctx, nil)
}

func (c *Collection) load(ctx context.Context, x *Executor) error {
	if c.scope == nil {
		return fmt.Errorf("persist: collection is not bound to a scope")
	}
	q, ok := c.query()
	if !ok {
		c.reset(nil)
		return nil
	}
	var items []Entity
	for offset := 0; ; offset += c.pageSize {
		page, err := c.fetch(ctx, x, q, offset, c.pageSize)
		if err != nil {
			return err
		}
		items = append(items, page...)
		if len(page) < c.pageSize {
			break
		}
	}
	c.reset(items)
	return nil
}

// LoadPage replaces the items with one page of members.
func (c *Collection) LoadPage(ctx context.Context, offset, limit int) error {
	if c.scope == nil {
		return fmt.Errorf("persist: collection is not bound to a scope")
	}
	q, ok := c.query()
	if !ok {
		c.reset(nil)
		return nil
	}
	page, err := c.fetch(ctx, nil, q, offset, limit)
	if err != nil {
		return err
	}
	c.reset(page)
	return nil
}

func (c *Collection) reset(items []Entity) {
	c.items = items
	c.removed = nil
	c.loaded = true
	c.changed = false
}

// fetch drains the cursor before materializing, so follow-up reads never
// overlap an open cursor on the same connection.
func (c *Collection) fetch(ctx context.Context, x *Executor, q backend.Query, offset, limit int) ([]Entity, error) {
	q.Offset, q.Limit = offset, limit
	rs, err := x.reader(c.scope.engine.be).Select(ctx, q)
	if err != nil {
		return nil, wrap("load", c.table.Name, err)
	}
	var rows []backend.Row
	for rs.Next() {
		r, err := rs.Row()
		if err != nil {
			rs.Close()
			return nil, wrap("load", c.table.Name, err)
		}
		rows = append(rows, r)
	}
	err = rs.Err()
	rs.Close()
	if err != nil {
		return nil, wrap("load", c.table.Name, err)
	}

	out := make([]Entity, 0, len(rows))
	for _, r := range rows {
		e, err := c.scope.materialize(ctx, x, c.table, r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Add appends e unless it is already a member.
func (c *Collection) Add(e Entity) {
	if c.index(e) >= 0 {
		return
	}
	c.items = append(c.items, e)
	for i, r := range c.removed {
		if r == e {
			c.removed = append(c.removed[:i:i], c.removed[i+1:]...)
			break
		}
	}
	c.changed = true
}

// Remove drops e. With orphan removal the next save of the owner deletes it.
func (c *Collection) Remove(e Entity) bool {
	i := c.index(e)
	if i < 0 {
		return false
	}
	c.items = append(c.items[:i:i], c.items[i+1:]...)
	c.removed = append(c.removed, e)
	c.changed = true
	return true
}

func (c *Collection) index(e Entity) int {
	for i, it := range c.items {
		if it == e {
			return i
		}
	}
	return -1
}

func (c *Collection) Items() []Entity { return append([]Entity(nil), c.items...) }

func (c *Collection) Len() int { return len(c.items) }

func (c *Collection) At(i int) Entity { return c.items[i] }

// Removed returns members removed since the last load or save.
func (c *Collection) Removed() []Entity { return append([]Entity(nil), c.removed...) }

func (c *Collection) Loaded() bool { return c.loaded }

// Changed reports whether members were added or removed.
func (c *Collection) Changed() bool { return c.changed }

func (c *Collection) membersChanged() bool {
	for _, e := range c.items {
		if e.Meta().Changed() {
			return true
		}
	}
	return false
}

// save writes every member and deletes orphans inside x.
func (c *Collection) save(ctx context.Context, x *Executor) error {
	for _, e := range c.items {
		if err := c.scope.saveEntity(ctx, x, e); err != nil {
			return err
		}
	}
	removed := c.removed
	if c.rel != nil && c.rel.OrphanRemoval {
		for _, e := range removed {
			if err := c.scope.deleteEntity(ctx, x, e); err != nil {
				return err
			}
		}
	}
	x.OnCommit(func() {
		c.changed = false
		c.removed = nil
	})
	return nil
}
