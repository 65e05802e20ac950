package txn

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/graph"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	ctx := context.Background()
	store, err := graph.NewSQLite(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })
	return NewManager(store, zerolog.Nop())
}

func exists(t *testing.T, m *Manager, id int64) bool {
	t.Helper()
	var found bool
	err := m.Run(context.Background(), core.RequestContext{}, func(tx *Tx) error {
		var err error
		found, err = tx.Graph().Exists(context.Background(), id)
		return err
	})
	require.NoError(t, err)
	return found
}

func TestFinishCommitsAfterSuccess(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	tx, err := m.Begin(ctx, core.RequestContext{WorkspaceID: 7})
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID())
	assert.Equal(t, int64(7), tx.Request().WorkspaceID)

	committed := false
	tx.OnCommit(func() { committed = true })
	id, err := tx.Graph().CreateNode(ctx)
	require.NoError(t, err)

	tx.Success()
	require.NoError(t, tx.Finish(ctx))
	assert.True(t, committed)
	assert.True(t, tx.Finished())
	// second Finish is a no-op
	require.NoError(t, tx.Finish(ctx))

	assert.True(t, exists(t, m, id))
}

func TestFinishRollsBack(t *testing.T) {
	tests := []struct {
		name string
		mark func(tx *Tx)
	}{
		{"no mark", func(tx *Tx) {}},
		{"failure", func(tx *Tx) { tx.Failure() }},
		{"success then failure", func(tx *Tx) { tx.Success(); tx.Failure() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := newManager(t)

			tx, err := m.Begin(ctx, core.RequestContext{})
			require.NoError(t, err)
			rolledBack := false
			tx.OnRollback(func() { rolledBack = true })
			id, err := tx.Graph().CreateNode(ctx)
			require.NoError(t, err)

			tt.mark(tx)
			require.NoError(t, tx.Finish(ctx))
			assert.True(t, rolledBack)
			assert.False(t, exists(t, m, id))
		})
	}
}

func TestRunRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	boom := errors.New("boom")

	var id int64
	err := m.Run(ctx, core.RequestContext{}, func(tx *Tx) error {
		var err error
		id, err = tx.Graph().CreateNode(ctx)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, exists(t, m, id))
}

func TestRunRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	var id int64
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = m.Run(ctx, core.RequestContext{}, func(tx *Tx) error {
			id, _ = tx.Graph().CreateNode(ctx)
			panic("kaboom")
		})
	})
	assert.False(t, exists(t, m, id))
}

func TestLoggerIsTaggedWithTxID(t *testing.T) {
	ctx := context.Background()
	store, err := graph.NewSQLite(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	var buf bytes.Buffer
	m := NewManager(store, zerolog.New(&buf))
	tx, err := m.Begin(ctx, core.RequestContext{})
	require.NoError(t, err)
	defer tx.Finish(ctx)

	tx.Logger().Info().Msg("hello")
	assert.Contains(t, buf.String(), `"tx":"`+tx.ID()+`"`)
	assert.Contains(t, buf.String(), "hello")
}
