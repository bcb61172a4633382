package persist

import (
	"fmt"
	"hash/maphash"
	"sort"
	"strings"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/schema"
)

var keySeed = maphash.MakeSeed()

// Keys is the identity of a row: primary key values named by property.
// Two Keys are equal when they hold equal values under the same names,
// whatever order the names were added in.
type Keys struct {
	names  []string
	values []any
}

// Key starts a Keys value with one named component.
func Key(name string, value any) Keys {
	return Keys{}.With(name, value)
}

// With returns a copy of k with name set to value.
func (k Keys) With(name string, value any) Keys {
	name = strings.ToLower(name)
	out := Keys{names: append([]string(nil), k.names...), values: append([]any(nil), k.values...)}
	for i, n := range out.names {
		if n == name {
			out.values[i] = schema.Normalize(value)
			return out
		}
	}
	out.names = append(out.names, name)
	out.values = append(out.values, schema.Normalize(value))
	return out
}

func (k Keys) Len() int { return len(k.names) }

func (k Keys) IsZero() bool { return len(k.names) == 0 }

// Get returns the value stored under name.
func (k Keys) Get(name string) (any, bool) {
	name = strings.ToLower(name)
	for i, n := range k.names {
		if n == name {
			return k.values[i], true
		}
	}
	return nil, false
}

// Equal compares by name.
func (k Keys) Equal(o Keys) bool {
	if len(k.names) != len(o.names) {
		return false
	}
	for i, n := range k.names {
		v, ok := o.Get(n)
		if !ok || v != k.values[i] {
			return false
		}
	}
	return true
}

// Hash combines the components in name order, so equal Keys hash equally.
func (k Keys) Hash() uint64 {
	var h maphash.Hash
	h.SetSeed(keySeed)
	h.WriteString(k.canonical())
	return h.Sum64()
}

func (k Keys) canonical() string {
	idx := make([]int, len(k.names))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return k.names[idx[a]] < k.names[idx[b]] })
	var b strings.Builder
	for _, i := range idx {
		fmt.Fprintf(&b, "%s=%T:%v;", k.names[i], k.values[i], k.values[i])
	}
	return b.String()
}

func (k Keys) String() string {
	parts := make([]string, len(k.names))
	for i, n := range k.names {
		parts[i] = fmt.Sprintf("%s=%v", n, k.values[i])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// keysOf reads the primary key properties of e for table t.
func keysOf(t *schema.Table, e schema.Accessor) Keys {
	var k Keys
	for _, pk := range t.PrimaryKeys() {
		k = k.With(pk.Property, e.Get(pk.Property))
	}
	return k
}

// keysFromRow reads the primary key columns of a row.
func keysFromRow(t *schema.Table, row backend.Row) (Keys, bool) {
	var k Keys
	for _, pk := range t.PrimaryKeys() {
		v, ok := row.Lookup(pk.SQLName)
		if !ok {
			return Keys{}, false
		}
		cv, err := pk.Coerce(v)
		if err != nil {
			return Keys{}, false
		}
		k = k.With(pk.Property, cv)
	}
	return k, true
}

// values maps named keys onto the key columns of t.
func (k Keys) columns(t *schema.Table) backend.Values {
	var out backend.Values
	for _, pk := range t.PrimaryKeys() {
		v, _ := k.Get(pk.Property)
		out = append(out, backend.Value{Column: pk.SQLName, Value: pk.Encode(v)})
	}
	return out
}

// positional builds Keys from values given in t's key order.
func positional(t *schema.Table, values []any) (Keys, error) {
	pks := t.PrimaryKeys()
	if len(values) != len(pks) {
		return Keys{}, &schema.ConfigError{Table: t.Name,
			Message: fmt.Sprintf("expected %d key values, got %d", len(pks), len(values))}
	}
	var k Keys
	for i, pk := range pks {
		k = k.With(pk.Property, values[i])
	}
	return k, nil
}
