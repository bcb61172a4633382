package persist

import (
	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/schema"
)

// Find selects the rows whose named properties equal those of template.
// A to-one property matches on the referenced entity's key; an unset
// reference matches null links. The result is loaded on demand.
func (s *Scope) Find(template Entity, properties ...string) (*Collection, error) {
	t, err := s.engine.table(template)
	if err != nil {
		return nil, err
	}
	var keys backend.Values
	for _, p := range properties {
		col, ok := t.Column(p)
		if !ok {
			return nil, &schema.ConfigError{Table: t.Name, Column: p, Message: "no such property"}
		}
		switch c := col.(type) {
		case *schema.PrimaryKey:
			keys = append(keys, backend.Value{Column: c.SQLName, Value: c.Encode(template.Get(c.Property))})
		case *schema.Field:
			keys = append(keys, backend.Value{Column: c.SQLName, Value: c.Encode(template.Get(c.Property))})
		case *schema.ToOne:
			child, _ := template.Get(c.Property).(Entity)
			for _, l := range c.Links {
				var v any
				if child != nil {
					v = l.Key.Encode(child.Get(l.Key.Property))
				}
				keys = append(keys, backend.Value{Column: l.SQLName, Value: v})
			}
		case *schema.ToMany:
			return nil, &schema.ConfigError{Table: t.Name, Column: p, Message: "cannot match on a to-many property"}
		}
	}
	return newQuery(s, t, keys, ""), nil
}

// FindByFilter selects the rows matching a raw predicate, handed to the
// store as is.
func (s *Scope) FindByFilter(table, filter string) (*Collection, error) {
	t, err := s.engine.tableByName(table)
	if err != nil {
		return nil, err
	}
	return newQuery(s, t, nil, filter), nil
}

// All selects every row of a table.
func (s *Scope) All(table string) (*Collection, error) {
	return s.FindByFilter(table, "")
}
