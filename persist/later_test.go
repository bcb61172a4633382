package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsByPriorityThenInsertion(t *testing.T) {
	var q queue
	var order []string
	record := func(name string) Action {
		return func(context.Context, *Executor) error {
			order = append(order, name)
			return nil
		}
	}
	q.LaterAt(PriorityCollection, record("collection"))
	q.Later(record("first"))
	q.Later(record("second"))
	q.LaterAt(PriorityCollection, record("collection2"))

	require.NoError(t, q.Run(context.Background(), nil))
	assert.Equal(t, []string{"first", "second", "collection", "collection2"}, order)
	assert.Zero(t, q.Len())
}

func TestQueueRunsWorkEnqueuedWhileDraining(t *testing.T) {
	var q queue
	var order []string
	q.LaterAt(PriorityCollection, func(context.Context, *Executor) error {
		order = append(order, "outer")
		q.Later(func(context.Context, *Executor) error {
			order = append(order, "inner")
			return nil
		})
		return nil
	})
	require.NoError(t, q.Run(context.Background(), nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestQueueStopsOnFirstError(t *testing.T) {
	var q queue
	boom := errors.New("boom")
	ran := false
	q.Later(func(context.Context, *Executor) error { return boom })
	q.Later(func(context.Context, *Executor) error { ran = true; return nil })

	err := q.Run(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
	assert.Zero(t, q.Len())
}
