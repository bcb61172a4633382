package persist

import (
	"github.com/ridoystarlord/persisto/schema"
)

// Clone deep-copies the graph reachable from e. Shared and cyclic
// references are copied once. The copy carries the same state flags but is
// bound to no scope.
func (s *Scope) Clone(e Entity) (Entity, error) {
	return clone(s.engine.reg, e, map[Entity]Entity{})
}

func clone(reg *schema.Registry, e Entity, seen map[Entity]Entity) (Entity, error) {
	if c, ok := seen[e]; ok {
		return c, nil
	}
	t, ok := reg.Table(e.TableName())
	if !ok {
		return nil, &schema.ConfigError{Table: e.TableName(), Message: "table is not registered"}
	}
	c, err := newEntity(t)
	if err != nil {
		return nil, err
	}
	seen[e] = c

	for tb := t; tb != nil; tb = tb.Base {
		for _, f := range tb.Fields() {
			c.Set(f.Property, e.Get(f.Property))
		}
		for _, rel := range tb.ToOnes() {
			child, _ := e.Get(rel.Property).(Entity)
			if child == nil {
				c.Set(rel.Property, nil)
				continue
			}
			cc, err := clone(reg, child, seen)
			if err != nil {
				return nil, err
			}
			c.Set(rel.Property, cc)
		}
		for _, rel := range tb.ToManys() {
			src, _ := e.Get(rel.Property).(*Collection)
			if src == nil {
				continue
			}
			dst := &Collection{
				table:    src.table,
				rel:      src.rel,
				owner:    c,
				keys:     src.keys,
				filter:   src.filter,
				pageSize: src.pageSize,
				loaded:   src.loaded,
				changed:  src.changed,
			}
			for _, member := range src.items {
				mc, err := clone(reg, member, seen)
				if err != nil {
					return nil, err
				}
				dst.items = append(dst.items, mc)
			}
			c.Set(rel.Property, dst)
		}
	}

	src, dst := e.Meta(), c.Meta()
	dst.loaded = src.loaded
	dst.changed = src.changed
	dst.persisted = src.persisted
	dst.stub = src.stub
	dst.deleted = src.deleted
	dst.lastKeys = src.lastKeys
	for f := range src.fields {
		dst.touch(f)
	}
	dst.changed = src.changed
	for name, v := range src.versions {
		dst.setVersion(name, v)
	}
	return c, nil
}
