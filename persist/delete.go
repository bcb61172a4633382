package persist

import (
	"context"

	"github.com/ridoystarlord/persisto/schema"
)

// Delete removes e and everything its DELETE cascades reach, as one
// transaction. Members of cascading to-many relationships go first so no
// child outlives its parent; referenced to-one entities go after e's row,
// once nothing in the transaction points at them.
func (s *Scope) Delete(ctx context.Context, e Entity) error {
	t, err := s.engine.table(e)
	if err != nil {
		return err
	}
	x, err := newExecutor(ctx, s.engine.be, s.engine.log, "delete", t.Name)
	if err != nil {
		return err
	}
	if err := s.deleteEntity(ctx, x, e); err != nil {
		x.Rollback(ctx)
		return err
	}
	if err := x.Commit(ctx); err != nil {
		x.Rollback(ctx)
		return wrap("delete", t.Name, err)
	}
	return nil
}

func (s *Scope) deleteEntity(ctx context.Context, x *Executor, e Entity) error {
	if !x.visit(e) {
		return nil
	}
	t, err := s.engine.table(e)
	if err != nil {
		return err
	}
	m := e.Meta()
	if m.stub {
		found, err := s.load(ctx, x, e, t)
		if err != nil || !found {
			return err
		}
	}
	keys := keysOf(t, e)
	if m.scope != s && !m.loaded && !m.persisted && !keyUnset(t, e) {
		// references read while cascading resolve to e
		if _, ok := s.tryAdd(t, keys, e); ok {
			x.OnRollback(func() { s.remove(t, e) })
		}
	}
	if err := s.deleteTable(ctx, x, e, t); err != nil {
		return err
	}
	x.OnCommit(func() {
		s.remove(t, e)
		s.forget(t, keys)
		m.deleted = true
		m.loaded = false
		m.persisted = false
		m.changed = false
		m.fields = nil
		m.lastKeys = Keys{}
		m.scope = nil
	})
	return nil
}

func (s *Scope) deleteTable(ctx context.Context, x *Executor, e Entity, t *schema.Table) error {
	m := e.Meta()
	var q queue

	for _, rel := range t.ToManys() {
		if !rel.Cascade.Has(schema.CascadeDelete) {
			continue
		}
		c, _ := e.Get(rel.Property).(*Collection)
		if c == nil {
			c = newRelation(s, e, rel)
		} else {
			c.bind(s, e, rel)
		}
		if !c.loaded {
			if err := c.load(ctx, x); err != nil {
				return err
			}
		}
		members := c.Items()
		if rel.OrphanRemoval {
			members = append(members, c.removed...)
		}
		for _, member := range members {
			if err := s.deleteEntity(ctx, x, member); err != nil {
				return err
			}
		}
	}

	for _, rel := range t.ToOnes() {
		if !rel.Cascade.Has(schema.CascadeDelete) {
			continue
		}
		child, _ := e.Get(rel.Property).(Entity)
		if child == nil {
			continue
		}
		q.Later(func(ctx context.Context, x *Executor) error {
			return s.deleteEntity(ctx, x, child)
		})
	}

	if m.loaded || m.persisted || !keyUnset(t, e) {
		keys := m.lastKeys
		if keys.IsZero() {
			keys = keysOf(t, e)
		}
		if err := x.tx.Delete(ctx, t, keys.columns(t)); err != nil {
			return wrap("delete", t.Name, err)
		}
		x.log.Debug().Str("entity", Describe(e)).Str("table", t.Name).Msg("deleted")
	}

	if t.IsSpecialization() {
		if err := s.deleteTable(ctx, x, e, t.Base); err != nil {
			return err
		}
	}
	return q.Run(ctx, x)
}

// keyUnset reports whether every primary key of e still holds its unset
// value, meaning e has no row to delete.
func keyUnset(t *schema.Table, e Entity) bool {
	for _, pk := range t.PrimaryKeys() {
		if !pk.IsUnset(e.Get(pk.Property)) {
			return false
		}
	}
	return true
}
