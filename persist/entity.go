// Package persist binds entity instances to rows. It tracks entity state,
// keeps one instance per key in each scope and turns Load, Save and Delete
// calls on an object graph into backend statements inside one transaction.
package persist

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ridoystarlord/persisto/schema"
)

// Entity is an in-memory object bound to one row of the table it names.
type Entity interface {
	schema.Accessor
	TableName() string
	Meta() *Meta
}

// Base can be embedded to provide the Meta method.
type Base struct {
	meta Meta
}

func (b *Base) Meta() *Meta { return &b.meta }

type State int

const (
	StateNew State = iota
	StateLoaded
	StateModified
	StateDeleted
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLoaded:
		return "loaded"
	case StateModified:
		return "modified"
	case StateDeleted:
		return "deleted"
	case StateDetached:
		return "detached"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Meta is the runtime state the engine keeps for each entity. The zero value
// is a new entity.
type Meta struct {
	loaded    bool
	changed   bool
	persisted bool
	stub      bool
	deleted   bool
	detached  bool
	loading   bool

	lastKeys Keys
	bucket   string
	fields   map[string]struct{}
	versions map[string]int64
	scope    *Scope
}

// Loaded reports whether row data has been read into the entity.
func (m *Meta) Loaded() bool { return m.loaded }

// Persisted reports whether the entity was ever written or read back.
func (m *Meta) Persisted() bool { return m.persisted }

// Stub reports whether the entity only carries the key it was referenced by.
func (m *Meta) Stub() bool { return m.stub }

func (m *Meta) Deleted() bool { return m.deleted }

func (m *Meta) Scope() *Scope { return m.scope }

// Changed reports whether the entity has anything to write. New entities
// always do.
func (m *Meta) Changed() bool {
	return m.changed || m.isNew()
}

func (m *Meta) isNew() bool {
	return !m.loaded && !m.persisted && !m.stub && !m.deleted
}

// ChangedFields returns the properties set since the last clean point, sorted.
func (m *Meta) ChangedFields() []string {
	out := make([]string, 0, len(m.fields))
	for f := range m.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// FieldChanged reports whether property was set since the last clean point.
func (m *Meta) FieldChanged(property string) bool {
	_, ok := m.fields[strings.ToLower(property)]
	return ok
}

// LastKeys is the key the entity was last read or written under.
func (m *Meta) LastKeys() Keys { return m.lastKeys }

// Version returns the optimistic version last seen for table.
func (m *Meta) Version(table string) int64 { return m.versions[table] }

func (m *Meta) State() State {
	switch {
	case m.deleted:
		return StateDeleted
	case m.detached:
		return StateDetached
	case m.changed && (m.loaded || m.persisted):
		return StateModified
	case m.loaded || m.persisted:
		return StateLoaded
	}
	return StateNew
}

func (m *Meta) touch(property string) {
	if m.fields == nil {
		m.fields = map[string]struct{}{}
	}
	m.fields[strings.ToLower(property)] = struct{}{}
	m.changed = true
}

func (m *Meta) setVersion(table string, v int64) {
	if m.versions == nil {
		m.versions = map[string]int64{}
	}
	m.versions[table] = v
}

func (m *Meta) clean() {
	m.loaded = true
	m.persisted = true
	m.changed = false
	m.stub = false
	m.deleted = false
	m.fields = nil
}

// Set writes a property through the accessor and records the change. Key
// properties of an entity bound to a scope are moved to their new bucket in
// the scope's identity map.
func Set(e Entity, property string, value any) {
	m := e.Meta()
	if s := m.scope; s != nil {
		if t, ok := s.engine.reg.Table(e.TableName()); ok && t.IsKey(property) {
			old := keysOf(t, e)
			e.Set(property, value)
			s.rekey(t, e, old, keysOf(t, e))
			m.touch(property)
			return
		}
	}
	e.Set(property, value)
	m.touch(property)
}

// Touch marks properties as changed without writing them.
func Touch(e Entity, properties ...string) {
	m := e.Meta()
	for _, p := range properties {
		m.touch(p)
	}
	if len(properties) == 0 {
		m.changed = true
	}
}

// Describe renders an entity as Table{Key=value, ...} for messages.
func Describe(e Entity) string {
	if e == nil {
		return "<nil>"
	}
	if s := e.Meta().scope; s != nil {
		if t, ok := s.engine.reg.Table(e.TableName()); ok {
			return e.TableName() + keysOf(t, e).String()
		}
	}
	return fmt.Sprintf("%s{%s}", e.TableName(), e.Meta().State())
}
