package persist

import (
	"context"

	"github.com/ridoystarlord/persisto/backend"
)

// Call runs a stored procedure whose rows belong to table and binds them
// into the scope like any other read.
func (s *Scope) Call(ctx context.Context, table, procedure string, params ...backend.Value) ([]Entity, error) {
	t, err := s.engine.tableByName(table)
	if err != nil {
		return nil, err
	}
	rs, err := s.engine.be.ExecuteProcedure(ctx, procedure, params)
	if err != nil {
		return nil, wrap("call", procedure, err)
	}
	var rows []backend.Row
	for rs.Next() {
		r, err := rs.Row()
		if err != nil {
			rs.Close()
			return nil, wrap("call", procedure, err)
		}
		rows = append(rows, r)
	}
	err = rs.Err()
	rs.Close()
	if err != nil {
		return nil, wrap("call", procedure, err)
	}

	out := make([]Entity, 0, len(rows))
	for _, r := range rows {
		e, err := s.materialize(ctx, nil, t, r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
