package persist

import (
	"context"
	"fmt"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/schema"
)

// Save writes e and everything its SAVE cascades reach, as one transaction.
// An optimistic version conflict anywhere in the graph rolls everything back
// and is reported as (false, nil).
func (s *Scope) Save(ctx context.Context, e Entity) (bool, error) {
	t, err := s.engine.table(e)
	if err != nil {
		return false, err
	}
	x, err := newExecutor(ctx, s.engine.be, s.engine.log, "save", t.Name)
	if err != nil {
		return false, err
	}
	if err := s.saveEntity(ctx, x, e); err != nil {
		x.Rollback(ctx)
		if IsStale(err) {
			x.log.Info().Str("entity", Describe(e)).Msg("stale version")
			return false, nil
		}
		return false, err
	}
	if err := x.Commit(ctx); err != nil {
		x.Rollback(ctx)
		return false, wrap("save", t.Name, err)
	}
	return true, nil
}

// Persist saves e and reads it back.
func (s *Scope) Persist(ctx context.Context, e Entity) (bool, error) {
	ok, err := s.Save(ctx, e)
	if err != nil || !ok {
		return ok, err
	}
	return s.Load(ctx, e)
}

func (s *Scope) saveEntity(ctx context.Context, x *Executor, e Entity) error {
	if !x.visit(e) {
		return nil
	}
	t, err := s.engine.table(e)
	if err != nil {
		return err
	}
	m := e.Meta()
	if m.stub {
		return nil
	}
	if err := checkRequired(t, e); err != nil {
		return err
	}

	insert := !m.loaded && !m.persisted
	prevKeys := m.lastKeys
	if err := s.saveTable(ctx, x, e, t, insert); err != nil {
		return err
	}

	keys := keysOf(t, e)
	m.lastKeys = keys
	x.OnRollback(func() { m.lastKeys = prevKeys })
	x.OnCommit(func() {
		s.addOrUpdate(t, keys, e)
		m.clean()
	})
	return nil
}

// checkRequired rejects a null NotNull reference before anything is written.
func checkRequired(t *schema.Table, e Entity) error {
	for tb := t; tb != nil; tb = tb.Base {
		for _, rel := range tb.ToOnes() {
			if rel.Nullability != schema.NotNull {
				continue
			}
			if child, _ := e.Get(rel.Property).(Entity); child == nil {
				return &schema.ConfigError{Table: tb.Name, Column: rel.Property, Message: "required association is null"}
			}
		}
	}
	return nil
}

// saveTable writes the part of e stored in t, base tables first.
func (s *Scope) saveTable(ctx context.Context, x *Executor, e Entity, t *schema.Table, insert bool) error {
	if t.IsSpecialization() {
		if err := s.saveTable(ctx, x, e, t.Base, insert); err != nil {
			return err
		}
	}
	m := e.Meta()

	var (
		q        queue
		links    backend.Values
		relDirty bool
	)
	for _, rel := range t.ToOnes() {
		vals, dirty, err := s.saveReference(ctx, x, e, rel)
		if err != nil {
			return err
		}
		links = append(links, vals...)
		relDirty = relDirty || dirty
	}
	for _, rel := range t.ToManys() {
		s.saveRelation(&q, e, rel)
	}

	if !m.Changed() && !relDirty && t.Version == nil {
		return q.Run(ctx, x)
	}

	var generated *schema.PrimaryKey
	for _, pk := range t.PrimaryKeys() {
		if !pk.IsUnset(e.Get(pk.Property)) {
			continue
		}
		if pk.AutoIncrement && insert {
			generated = pk
			continue
		}
		return &schema.ConfigError{Table: t.Name, Column: pk.Property,
			Message: "primary key holds its unset value and is not auto-increment"}
	}

	var fields backend.Values
	for _, f := range t.Fields() {
		if f.ReadOnly || (generated != nil && f.Property == generated.Property) {
			continue
		}
		if !insert && !m.FieldChanged(f.Property) {
			continue
		}
		v := e.Get(f.Property)
		if v == nil && insert && f.Default != nil {
			continue
		}
		fields = append(fields, backend.Value{Column: f.SQLName, Value: f.Encode(v)})
	}
	fields = append(fields, links...)

	var check *int64
	prevVersion := m.Version(t.Name)
	next := int64(1)
	if t.Version != nil {
		if !insert {
			next = prevVersion + 1
			check = &prevVersion
		}
		fields = append(fields, backend.Value{Column: t.Version.SQLName, Value: next})
	}

	if insert {
		id, err := x.tx.Insert(ctx, t, fields)
		if err != nil {
			return wrap("save", t.Name, err)
		}
		if generated != nil {
			e.Set(generated.Property, id)
			pk := generated
			x.OnRollback(func() { e.Set(pk.Property, pk.Unset) })
		}
		x.log.Debug().Str("entity", Describe(e)).Str("table", t.Name).Msg("inserted")
	} else if len(fields) > 0 {
		old := m.lastKeys
		if old.IsZero() {
			old = keysOf(t, e)
		}
		if err := x.tx.Update(ctx, t, fields, old.columns(t), check); err != nil {
			return wrap("save", t.Name, err)
		}
		x.log.Debug().Str("entity", Describe(e)).Str("table", t.Name).Int("fields", len(fields)).Msg("updated")
	}

	if t.Version != nil {
		m.setVersion(t.Name, next)
		name := t.Name
		x.OnRollback(func() { m.setVersion(name, prevVersion) })
	}
	return q.Run(ctx, x)
}

// saveReference cascades into a to-one and returns its link column values.
// dirty reports whether the links must be rewritten even when e itself is
// unchanged.
func (s *Scope) saveReference(ctx context.Context, x *Executor, e Entity, rel *schema.ToOne) (backend.Values, bool, error) {
	child, _ := e.Get(rel.Property).(Entity)
	changed := e.Meta().FieldChanged(rel.Property)

	var links backend.Values
	if child == nil {
		for _, l := range rel.Links {
			links = append(links, backend.Value{Column: l.SQLName})
		}
		return links, changed, nil
	}

	cm := child.Meta()
	if rel.Cascade.Has(schema.CascadeSave) && !cm.stub {
		inserting := !cm.loaded && !cm.persisted
		if err := s.saveEntity(ctx, x, child); err != nil {
			return nil, false, err
		}
		changed = changed || inserting
	}

	for _, l := range rel.Links {
		v := child.Get(l.Key.Property)
		if l.Key.IsUnset(v) {
			if rel.Nullability == schema.NotNull {
				return nil, false, &schema.ConfigError{Table: rel.Owner().Name, Column: rel.Property,
					Message: fmt.Sprintf("referenced %s has no key yet", rel.Referenced)}
			}
			v = nil
		}
		links = append(links, backend.Value{Column: l.SQLName, Value: l.Key.Encode(v)})
	}
	return links, changed, nil
}

// saveRelation points every member of a changed to-many at e and defers
// saving them until e's row, and so its key, exists.
func (s *Scope) saveRelation(q *queue, e Entity, rel *schema.ToMany) {
	if !rel.Cascade.Has(schema.CascadeSave) {
		return
	}
	c, _ := e.Get(rel.Property).(*Collection)
	if c == nil {
		return
	}
	c.bind(s, e, rel)
	if !c.changed && !c.membersChanged() {
		return
	}
	for _, member := range c.items {
		if cur, _ := member.Get(rel.Inverse.Property).(Entity); cur != e {
			Set(member, rel.Inverse.Property, e)
		}
	}
	q.LaterAt(PriorityCollection, c.save)
}
