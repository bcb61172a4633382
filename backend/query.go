package backend

import (
	"strings"

	"github.com/ridoystarlord/persisto/schema"
)

// Value is one column/value pair. Values keep insertion order so generated
// statements are deterministic.
type Value struct {
	Column string
	Value  any
}

type Values []Value

// Get returns the value stored for column.
func (vs Values) Get(column string) (any, bool) {
	for _, v := range vs {
		if strings.EqualFold(v.Column, column) {
			return v.Value, true
		}
	}
	return nil, false
}

// Set replaces the value for column or appends it.
func (vs *Values) Set(column string, value any) {
	for i, v := range *vs {
		if strings.EqualFold(v.Column, column) {
			(*vs)[i].Value = value
			return
		}
	}
	*vs = append(*vs, Value{Column: column, Value: value})
}

func (vs Values) Columns() []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Column
	}
	return out
}

// Query selects rows of one table. Keys are ANDed equality predicates and
// Filter is a raw predicate handed to the store untouched; both may be
// empty to select every row. Limit 0 means no limit.
type Query struct {
	Table  *schema.Table
	Keys   Values
	Filter string
	Offset int
	Limit  int
}
