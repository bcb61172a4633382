package persist

import (
	"context"
	"fmt"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/schema"
)

// Load reads the row stored under e's key into e. A missing row is a normal
// outcome: Load returns false and e keeps its state.
//
// To-one references are bound as stubs carrying only their key. Eager ones
// are loaded before Load returns; lazy ones stay stubs until the caller
// loads them.
func (s *Scope) Load(ctx context.Context, e Entity) (bool, error) {
	t, err := s.engine.table(e)
	if err != nil {
		return false, err
	}
	return s.load(ctx, nil, e, t)
}

func (s *Scope) load(ctx context.Context, x *Executor, e Entity, t *schema.Table) (bool, error) {
	m := e.Meta()
	m.loading = true
	defer func() { m.loading = false }()

	row, found, err := s.fetchOne(ctx, x, backend.Query{Table: t, Keys: keysOf(t, e).columns(t), Limit: 1})
	if err != nil || !found {
		return false, err
	}
	var q queue
	if err := s.assign(&q, e, t, row); err != nil {
		return false, err
	}
	if err := q.Run(ctx, x); err != nil {
		return false, wrap("load", t.Name, err)
	}
	return true, nil
}

// fetchOne reads the first row of q and closes the cursor before returning.
func (s *Scope) fetchOne(ctx context.Context, x *Executor, q backend.Query) (backend.Row, bool, error) {
	rs, err := x.reader(s.engine.be).Select(ctx, q)
	if err != nil {
		return nil, false, wrap("load", q.Table.Name, err)
	}
	defer rs.Close()
	if !rs.Next() {
		return nil, false, wrap("load", q.Table.Name, rs.Err())
	}
	row, err := rs.Row()
	if err != nil {
		return nil, false, wrap("load", q.Table.Name, err)
	}
	return row, true, nil
}

type assignment struct {
	property string
	value    any
}

// assign copies a row into e. Every value is converted before the first one
// is written, so a bad row leaves e untouched.
func (s *Scope) assign(q *queue, e Entity, t *schema.Table, row backend.Row) error {
	var (
		writes []assignment
		keys   Keys
	)
	for _, f := range t.Fields() {
		raw, _ := row.Lookup(f.SQLName)
		v, err := f.Coerce(raw)
		if err != nil {
			return wrap("load", t.Name, fmt.Errorf("column %s: %w", f.SQLName, err))
		}
		writes = append(writes, assignment{f.Property, v})
		if t.IsKey(f.Property) {
			keys = keys.With(f.Property, v)
		}
	}

	var version int64
	if t.Version != nil {
		raw, _ := row.Lookup(t.Version.SQLName)
		v, err := t.Version.Coerce(raw)
		if err != nil {
			return wrap("load", t.Name, fmt.Errorf("column %s: %w", t.Version.SQLName, err))
		}
		version, _ = v.(int64)
	}

	for _, rel := range t.ToOnes() {
		child, err := s.reference(q, rel, row)
		if err != nil {
			return err
		}
		if child == nil {
			writes = append(writes, assignment{rel.Property, nil})
			continue
		}
		writes = append(writes, assignment{rel.Property, child})
	}

	for _, rel := range t.ToManys() {
		c := newRelation(s, e, rel)
		writes = append(writes, assignment{rel.Property, c})
		if rel.Fetch == schema.FetchEager {
			q.LaterAt(PriorityCollection, c.load)
		}
	}

	if t.IsSpecialization() {
		base := t.Base
		q.Later(func(ctx context.Context, x *Executor) error {
			found, err := s.load(ctx, x, e, base)
			if err != nil {
				return err
			}
			if !found {
				return &Error{Op: "load", Table: base.Name, Err: fmt.Errorf("no %s row for %s", base.Name, keys)}
			}
			return nil
		})
	}

	for _, w := range writes {
		e.Set(w.property, w.value)
	}
	m := e.Meta()
	m.lastKeys = keys
	if t.Version != nil {
		m.setVersion(t.Name, version)
	}
	m.clean()
	if t.Name == e.TableName() {
		s.tryAdd(t, keys, e)
	}
	return nil
}

// reference binds the entity a to-one points at. Null links leave the
// reference unset.
func (s *Scope) reference(q *queue, rel *schema.ToOne, row backend.Row) (Entity, error) {
	target := rel.Target()
	var k Keys
	for _, l := range rel.Links {
		raw, ok := row.Lookup(l.SQLName)
		if !ok {
			return nil, nil
		}
		v, err := l.Key.Coerce(raw)
		if err != nil {
			return nil, wrap("load", rel.Owner().Name, fmt.Errorf("column %s: %w", l.SQLName, err))
		}
		k = k.With(l.Key.Property, v)
	}

	child, ok := s.lookup(target, k)
	if !ok {
		var err error
		if child, err = newEntity(target); err != nil {
			return nil, err
		}
		for _, pk := range target.PrimaryKeys() {
			v, _ := k.Get(pk.Property)
			child.Set(pk.Property, v)
		}
		cm := child.Meta()
		cm.stub = true
		cm.lastKeys = k
		child, _ = s.tryAdd(target, k, child)
	}

	if rel.Fetch == schema.FetchEager {
		if cm := child.Meta(); !cm.loaded && !cm.loading {
			q.Later(func(ctx context.Context, x *Executor) error {
				if child.Meta().loaded {
					return nil
				}
				found, err := s.load(ctx, x, child, target)
				if err == nil && !found {
					s.engine.log.Debug().Str("table", target.Name).Str("keys", k.String()).Msg("dangling reference")
				}
				return err
			})
		}
	}
	return child, nil
}

// materialize returns the scope's instance for a row, reading the row into
// a new instance or a stub. Loaded instances win over the row so pending
// changes survive.
func (s *Scope) materialize(ctx context.Context, x *Executor, t *schema.Table, row backend.Row) (Entity, error) {
	k, ok := keysFromRow(t, row)
	if !ok {
		return nil, &Error{Op: "load", Table: t.Name, Err: fmt.Errorf("row without primary key")}
	}
	e, found := s.lookup(t, k)
	if found && !e.Meta().stub {
		return e, nil
	}
	if !found {
		var err error
		if e, err = newEntity(t); err != nil {
			return nil, err
		}
	}
	m := e.Meta()
	m.loading = true
	defer func() { m.loading = false }()

	var q queue
	if err := s.assign(&q, e, t, row); err != nil {
		return nil, err
	}
	if err := q.Run(ctx, x); err != nil {
		return nil, wrap("load", t.Name, err)
	}
	return e, nil
}
