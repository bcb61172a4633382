package persist

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ridoystarlord/persisto/backend"
)

// Executor is the transactional unit of one top-level Save or Delete. The
// whole cascaded graph runs inside its transaction, and its hooks keep the
// in-memory state in line with whatever the store ended up holding.
type Executor struct {
	id         uuid.UUID
	tx         backend.Tx
	log        zerolog.Logger
	onCommit   []func()
	onRollback []func()
	visited    map[Entity]struct{}
	done       bool
}

func newExecutor(ctx context.Context, be backend.Backend, log zerolog.Logger, op, table string) (*Executor, error) {
	tx, err := be.Begin(ctx)
	if err != nil {
		return nil, wrap(op, table, fmt.Errorf("begin transaction: %w", err))
	}
	id := uuid.New()
	x := &Executor{
		id:      id,
		tx:      tx,
		log:     log.With().Str("executor", id.String()).Str("op", op).Str("table", table).Logger(),
		visited: map[Entity]struct{}{},
	}
	x.log.Debug().Msg("begin")
	return x, nil
}

func (x *Executor) ID() uuid.UUID { return x.id }

// OnCommit registers a hook run after a successful commit, in registration
// order.
func (x *Executor) OnCommit(fn func()) {
	x.onCommit = append(x.onCommit, fn)
}

// OnRollback registers a compensation hook. Hooks run newest first so each
// one sees the state the later ones restored.
func (x *Executor) OnRollback(fn func()) {
	x.onRollback = append(x.onRollback, fn)
}

// visit reports whether e is seen for the first time in this executor.
func (x *Executor) visit(e Entity) bool {
	if _, seen := x.visited[e]; seen {
		return false
	}
	x.visited[e] = struct{}{}
	return true
}

// Commit commits the transaction and runs the commit hooks. When the store
// refuses the commit no hook runs and the error is returned.
func (x *Executor) Commit(ctx context.Context) error {
	if x.done {
		return fmt.Errorf("executor %s already finished", x.id)
	}
	x.done = true
	if err := x.tx.Commit(ctx); err != nil {
		x.log.Warn().Err(err).Msg("commit failed")
		return err
	}
	for _, fn := range x.onCommit {
		fn()
	}
	x.log.Debug().Int("hooks", len(x.onCommit)).Msg("committed")
	return nil
}

// Rollback rolls the transaction back and runs the compensation hooks. It
// never fails: a rollback error is logged and dropped so the caller keeps
// the error of the operation that failed.
func (x *Executor) Rollback(ctx context.Context) {
	if !x.done {
		x.done = true
		if err := x.tx.Rollback(ctx); err != nil {
			x.log.Error().Err(err).Msg("rollback failed")
		}
	}
	for i := len(x.onRollback) - 1; i >= 0; i-- {
		x.onRollback[i]()
	}
	x.onRollback = nil
	x.log.Debug().Msg("rolled back")
}

// selector is the read side shared by backend.Backend and backend.Tx.
type selector interface {
	Select(ctx context.Context, q backend.Query) (backend.Rows, error)
}

func (x *Executor) reader(be backend.Backend) selector {
	if x == nil {
		return be
	}
	return x.tx
}
