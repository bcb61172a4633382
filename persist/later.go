package persist

import (
	"context"
	"sort"
)

// Priorities of deferred actions. Lower runs first.
const (
	PriorityRelation   = 0
	PriorityCollection = 10
)

// Action is deferred work run against the operation's executor. The
// executor is nil for reads outside a transaction.
type Action func(ctx context.Context, x *Executor) error

type deferred struct {
	priority int
	seq      int
	action   Action
}

// queue orders the follow-up work of one entity operation.
type queue struct {
	items []deferred
	seq   int
}

// Later enqueues at PriorityRelation.
func (q *queue) Later(a Action) {
	q.LaterAt(PriorityRelation, a)
}

func (q *queue) LaterAt(priority int, a Action) {
	q.items = append(q.items, deferred{priority: priority, seq: q.seq, action: a})
	q.seq++
}

func (q *queue) Len() int { return len(q.items) }

// Run drains the queue in priority order, insertion order within a
// priority. Actions may enqueue more work; it runs in the same drain. The
// first failure stops the drain and discards what is left.
func (q *queue) Run(ctx context.Context, x *Executor) error {
	for len(q.items) > 0 {
		sort.SliceStable(q.items, func(i, j int) bool {
			if q.items[i].priority != q.items[j].priority {
				return q.items[i].priority < q.items[j].priority
			}
			return q.items[i].seq < q.items[j].seq
		})
		next := q.items[0]
		q.items = q.items[1:]
		if err := next.action(ctx, x); err != nil {
			q.items = nil
			return err
		}
	}
	return nil
}
