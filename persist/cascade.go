package persist

import (
	"context"

	"github.com/ridoystarlord/persisto/schema"
)

// Free detaches e from the scope, and with it every association declaring
// the FREE cascade. A freed entity stays usable as a plain value.
func (s *Scope) Free(e Entity) {
	s.free(e, map[Entity]struct{}{})
}

func (s *Scope) free(e Entity, seen map[Entity]struct{}) {
	if e == nil {
		return
	}
	if _, ok := seen[e]; ok {
		return
	}
	seen[e] = struct{}{}
	t, err := s.engine.table(e)
	if err != nil {
		return
	}
	m := e.Meta()
	if m.scope == s {
		s.remove(t, e)
	}
	m.scope = nil
	m.detached = true

	s.cascade(t, e, schema.CascadeFree, func(child Entity) {
		s.free(child, seen)
	})
}

// cascade calls fn for each associated entity across edges declaring flag,
// including the edges of base tables.
func (s *Scope) cascade(t *schema.Table, e Entity, flag schema.Cascade, fn func(Entity)) {
	for tb := t; tb != nil; tb = tb.Base {
		for _, rel := range tb.ToOnes() {
			if !rel.Cascade.Has(flag) {
				continue
			}
			if child, _ := e.Get(rel.Property).(Entity); child != nil {
				fn(child)
			}
		}
		for _, rel := range tb.ToManys() {
			if !rel.Cascade.Has(flag) {
				continue
			}
			if c, _ := e.Get(rel.Property).(*Collection); c != nil {
				for _, member := range c.Items() {
					fn(member)
				}
			}
		}
	}
}

// Refresh rereads e, dropping unsaved changes, then refreshes associations
// declaring the REFRESH cascade. Cascading to-many collections are reloaded
// before their members are refreshed.
func (s *Scope) Refresh(ctx context.Context, e Entity) (bool, error) {
	return s.refresh(ctx, e, map[Entity]struct{}{})
}

func (s *Scope) refresh(ctx context.Context, e Entity, seen map[Entity]struct{}) (bool, error) {
	if _, ok := seen[e]; ok {
		return true, nil
	}
	seen[e] = struct{}{}
	t, err := s.engine.table(e)
	if err != nil {
		return false, err
	}
	found, err := s.load(ctx, nil, e, t)
	if err != nil || !found {
		return found, err
	}
	for tb := t; tb != nil; tb = tb.Base {
		for _, rel := range tb.ToManys() {
			if !rel.Cascade.Has(schema.CascadeRefresh) {
				continue
			}
			if c, _ := e.Get(rel.Property).(*Collection); c != nil && !c.loaded {
				if err := c.Load(ctx); err != nil {
					return false, err
				}
			}
		}
	}
	var firstErr error
	s.cascade(t, e, schema.CascadeRefresh, func(child Entity) {
		if firstErr != nil {
			return
		}
		if _, err := s.refresh(ctx, child, seen); err != nil {
			firstErr = err
		}
	})
	return true, firstErr
}
