package persist

import (
	"context"
	"sync"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/schema"
)

// Scope is one session's identity map: at most one live instance per table
// and key. Bucket changes are serialized, so a scope may be shared between
// goroutines, but the entities themselves are not synchronized.
type Scope struct {
	engine *Engine

	mu      sync.Mutex
	buckets map[string]map[string]Entity
}

func (s *Scope) Engine() *Engine { return s.engine }

func (s *Scope) bucket(t *schema.Table) map[string]Entity {
	b, ok := s.buckets[t.Name]
	if !ok {
		b = map[string]Entity{}
		s.buckets[t.Name] = b
	}
	return b
}

// tryAdd binds e under k unless another instance already owns k, in which
// case that instance is returned and e is left untouched.
func (s *Scope) tryAdd(t *schema.Table, k Keys, e Entity) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(t)
	if cur, ok := b[k.canonical()]; ok {
		return cur, cur == e
	}
	s.bind(b, k.canonical(), e)
	return e, true
}

// addOrUpdate binds e under k, replacing any other instance, and drops any
// bucket e held under a different key.
func (s *Scope) addOrUpdate(t *schema.Table, k Keys, e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(t)
	ck := k.canonical()
	if e.Meta().bucket != ck {
		unbind(b, e)
	}
	if cur, ok := b[ck]; ok && cur != e {
		detach(cur)
	}
	s.bind(b, ck, e)
}

func (s *Scope) bind(b map[string]Entity, ck string, e Entity) {
	b[ck] = e
	m := e.Meta()
	m.bucket = ck
	m.scope = s
	m.detached = false
}

// unbind drops e from b by the key it was bound under, scanning the bucket
// only when that entry no longer points at e.
func unbind(b map[string]Entity, e Entity) {
	m := e.Meta()
	if m.bucket == "" {
		return
	}
	if b[m.bucket] == e {
		delete(b, m.bucket)
	} else {
		for ck, cur := range b {
			if cur == e {
				delete(b, ck)
			}
		}
	}
	m.bucket = ""
}

func detach(e Entity) {
	m := e.Meta()
	m.scope = nil
	m.bucket = ""
	m.detached = true
}

func (s *Scope) lookup(t *schema.Table, k Keys) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.buckets[t.Name][k.canonical()]
	return e, ok
}

// remove unbinds e from its bucket.
func (s *Scope) remove(t *schema.Table, e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unbind(s.buckets[t.Name], e)
}

// forget detaches whatever instance is bound under k.
func (s *Scope) forget(t *schema.Table, k Keys) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.buckets[t.Name]
	if cur, ok := b[k.canonical()]; ok {
		delete(b, k.canonical())
		detach(cur)
	}
}

func (s *Scope) rekey(t *schema.Table, e Entity, old, cur Keys) {
	if old.Equal(cur) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(t)
	if b[old.canonical()] == e {
		delete(b, old.canonical())
	}
	if other, ok := b[cur.canonical()]; ok && other != e {
		s.engine.log.Warn().Str("table", t.Name).Str("keys", cur.String()).
			Msg("key change displaces another instance")
		detach(other)
	}
	s.bind(b, cur.canonical(), e)
}

// Len is the number of entities bound to the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.buckets {
		n += len(b)
	}
	return n
}

// Attach binds e to the scope. It fails when another instance already owns
// e's key.
func (s *Scope) Attach(e Entity) error {
	t, err := s.engine.table(e)
	if err != nil {
		return err
	}
	if _, ok := s.tryAdd(t, keysOf(t, e), e); !ok {
		return &schema.ConfigError{Table: t.Name,
			Message: "another instance is already bound to key " + keysOf(t, e).String()}
	}
	return nil
}

// TryGet returns the instance bound to the given key values, given in the
// table's key order, without touching the store.
func (s *Scope) TryGet(table string, key ...any) (Entity, bool) {
	t, ok := s.engine.reg.Table(table)
	if !ok {
		return nil, false
	}
	k, err := positional(t, key)
	if err != nil {
		return nil, false
	}
	return s.lookup(t, k)
}

// Get returns the instance for a key, reading it from the store when the
// scope does not hold a loaded one. A missing row is (nil, false, nil).
func (s *Scope) Get(ctx context.Context, table string, key ...any) (Entity, bool, error) {
	t, err := s.engine.tableByName(table)
	if err != nil {
		return nil, false, err
	}
	k, err := positional(t, key)
	if err != nil {
		return nil, false, err
	}
	if e, ok := s.lookup(t, k); ok {
		if m := e.Meta(); m.loaded || m.persisted {
			return e, true, nil
		}
		found, err := s.load(ctx, nil, e, t)
		if err != nil || !found {
			return nil, false, err
		}
		return e, true, nil
	}
	e, err := newEntity(t)
	if err != nil {
		return nil, false, err
	}
	for _, pk := range t.PrimaryKeys() {
		v, _ := k.Get(pk.Property)
		e.Set(pk.Property, v)
	}
	found, err := s.load(ctx, nil, e, t)
	if err != nil || !found {
		return nil, false, err
	}
	cur, _ := s.lookup(t, k)
	if cur == nil {
		cur = e
	}
	return cur, true, nil
}

// Clear detaches every entity from the scope.
func (s *Scope) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buckets {
		for _, e := range b {
			detach(e)
		}
	}
	s.buckets = map[string]map[string]Entity{}
}

// View runs a named view and returns its raw rows.
func (s *Scope) View(ctx context.Context, name string) ([]backend.Row, error) {
	rs, err := s.engine.be.SelectView(ctx, s.engine.be.DefaultSchema(), name)
	if err != nil {
		return nil, wrap("view", name, err)
	}
	defer rs.Close()
	var out []backend.Row
	for rs.Next() {
		r, err := rs.Row()
		if err != nil {
			return nil, wrap("view", name, err)
		}
		out = append(out, r)
	}
	return out, wrap("view", name, rs.Err())
}
