package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	s, err := NewSQLite(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	return s
}

func beginTest(t *testing.T, s Store) Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback(context.Background()) })
	return tx
}

func TestSQLiteNodesAndEdges(t *testing.T) {
	ctx := context.Background()
	tx := beginTest(t, openTestStore(t))

	require.NoError(t, tx.CreateNodeAt(ctx, 0))
	a, err := tx.CreateNode(ctx)
	require.NoError(t, err)
	b, err := tx.CreateNode(ctx)
	require.NoError(t, err)
	assert.Greater(t, a, int64(0))
	assert.NotEqual(t, a, b)

	e, err := tx.CreateEdge(ctx,
		Endpoint{ID: a, Kind: KindNode, Role: "from"},
		Endpoint{ID: b, Kind: KindNode, Role: "to"})
	require.NoError(t, err)

	// edges may connect edges
	ee, err := tx.CreateEdge(ctx,
		Endpoint{ID: e, Kind: KindEdge, Role: "meta"},
		Endpoint{ID: a, Kind: KindNode, Role: "about"})
	require.NoError(t, err)

	el, err := tx.Fetch(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, KindEdge, el.Kind)
	assert.Equal(t, Endpoint{ID: a, Kind: KindNode, Role: "from"}, el.Ends[0])
	assert.Equal(t, Endpoint{ID: b, Kind: KindNode, Role: "to"}, el.Ends[1])
	assert.Equal(t, b, el.Other(1).ID)

	edges, err := tx.Edges(ctx, a, AdjacencyFilter{})
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, e, edges[0].ID)
	assert.Equal(t, ee, edges[1].ID)

	edges, err = tx.Edges(ctx, a, AdjacencyFilter{OthersKind: KindEdge})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, ee, edges[0].ID)

	edges, err = tx.Edges(ctx, a, AdjacencyFilter{Role: "from"})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, e, edges[0].ID)

	require.NoError(t, tx.SetRole(ctx, e, 2, "target"))
	el, err = tx.Fetch(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "target", el.Ends[1].Role)
}

func TestSQLiteCreateEdgeRejectsMissingOrMiskindedEnds(t *testing.T) {
	ctx := context.Background()
	tx := beginTest(t, openTestStore(t))

	a, err := tx.CreateNode(ctx)
	require.NoError(t, err)

	_, err = tx.CreateEdge(ctx, Endpoint{ID: a, Kind: KindNode}, Endpoint{ID: 999, Kind: KindNode})
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	_, err = tx.CreateEdge(ctx, Endpoint{ID: a, Kind: KindEdge}, Endpoint{ID: a, Kind: KindNode})
	assert.Error(t, err)
}

func TestSQLiteDeleteLeavesDanglingEdge(t *testing.T) {
	ctx := context.Background()
	tx := beginTest(t, openTestStore(t))

	a, _ := tx.CreateNode(ctx)
	b, _ := tx.CreateNode(ctx)
	e, err := tx.CreateEdge(ctx, Endpoint{ID: a, Kind: KindNode, Role: "x"}, Endpoint{ID: b, Kind: KindNode, Role: "y"})
	require.NoError(t, err)
	require.NoError(t, tx.SetProperty(ctx, b, "uri", "b"))
	require.NoError(t, tx.IndexPut(ctx, "topic", "uri", "b", b))

	require.NoError(t, tx.Delete(ctx, b))

	ok, err := tx.Exists(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tx.Fetch(ctx, e)
	assert.True(t, errors.Is(err, ErrDangling), "got %v", err)

	ids, err := tx.IndexGet(ctx, "topic", "uri", "b")
	require.NoError(t, err)
	assert.Empty(t, ids)

	err = tx.Delete(ctx, b)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteProperties(t *testing.T) {
	ctx := context.Background()
	tx := beginTest(t, openTestStore(t))

	id, err := tx.CreateNode(ctx)
	require.NoError(t, err)

	tests := []struct {
		key   string
		value any
		want  any
	}{
		{"s", "hello", "hello"},
		{"i", 42, int64(42)},
		{"f", 1.5, 1.5},
		{"b", true, true},
	}
	for _, tt := range tests {
		require.NoError(t, tx.SetProperty(ctx, id, tt.key, tt.value))
		got, ok, err := tx.Property(ctx, id, tt.key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, tt.want, got, tt.key)
	}

	require.NoError(t, tx.SetProperty(ctx, id, "s", "again"))
	props, err := tx.Properties(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"s": "again", "i": int64(42), "f": 1.5, "b": true}, props)

	require.NoError(t, tx.RemoveProperty(ctx, id, "s"))
	_, ok, err := tx.Property(ctx, id, "s")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, tx.SetProperty(ctx, id, "bad", []string{"x"}))
}

func TestSQLiteExactIndexIsTypeAware(t *testing.T) {
	ctx := context.Background()
	tx := beginTest(t, openTestStore(t))

	a, _ := tx.CreateNode(ctx)
	b, _ := tx.CreateNode(ctx)
	require.NoError(t, tx.IndexPut(ctx, "topic", "k", "1", a))
	require.NoError(t, tx.IndexPut(ctx, "topic", "k", int64(1), b))
	// idempotent
	require.NoError(t, tx.IndexPut(ctx, "topic", "k", "1", a))

	ids, err := tx.IndexGet(ctx, "topic", "k", "1")
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, ids)

	ids, err = tx.IndexGet(ctx, "topic", "k", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, ids)

	ids, err = tx.IndexGet(ctx, "assoc", "k", "1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, tx.IndexRemove(ctx, "topic", "k", a))
	ids, err = tx.IndexGet(ctx, "topic", "k", "1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLiteFulltext(t *testing.T) {
	ctx := context.Background()
	tx := beginTest(t, openTestStore(t))

	a, _ := tx.CreateNode(ctx)
	b, _ := tx.CreateNode(ctx)
	require.NoError(t, tx.FulltextPut(ctx, "topic", "_fulltext_", "Ada Lovelace", a))
	require.NoError(t, tx.FulltextPut(ctx, "topic", "_fulltext_", "Charles Babbage", b))
	require.NoError(t, tx.FulltextPut(ctx, "topic", "note", "Ada", b))

	ids, err := tx.FulltextQuery(ctx, "topic", "_fulltext_", "ada")
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, ids)

	ids, err = tx.FulltextQuery(ctx, "topic", "_fulltext_", "Bab")
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, ids)

	ids, err = tx.FulltextQuery(ctx, "topic", "note", "ada")
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, ids)

	ids, err = tx.FulltextQuery(ctx, "topic", "_fulltext_", "  ")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, tx.FulltextRemove(ctx, "topic", "_fulltext_", a))
	ids, err = tx.FulltextQuery(ctx, "topic", "_fulltext_", "ada")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLiteFulltextErrors(t *testing.T) {
	ctx := context.Background()
	tx := beginTest(t, openTestStore(t))
	a, _ := tx.CreateNode(ctx)
	require.NoError(t, tx.FulltextPut(ctx, "topic", "_fulltext_", "Ada Lovelace", a))

	// a MATCH expression FTS5 cannot parse
	query := func() error {
		rows, err := tx.(*sqliteTx).tx.QueryContext(ctx,
			`SELECT element_id FROM fulltext_index WHERE fulltext_index MATCH ?`, `AND ada`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
		}
		return rows.Err()
	}
	err := query()
	require.Error(t, err)
	assert.True(t, isFTSSyntaxError(err))
	assert.False(t, isFTSSyntaxError(context.Canceled))

	// cancellation is reported, not papered over with a LIKE search
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = tx.FulltextQuery(cancelled, "topic", "_fulltext_", "ada")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteRollbackAndPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")

	s, err := NewSQLite(ctx, path, zerolog.Nop())
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	kept, err := tx.CreateNode(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetProperty(ctx, kept, "uri", "kept"))
	require.NoError(t, tx.Commit(ctx))

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	dropped, err := tx.CreateNode(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, s.Close(ctx))

	s, err = NewSQLite(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })

	tx = beginTest(t, s)
	ok, err := tx.Exists(ctx, kept)
	require.NoError(t, err)
	assert.True(t, ok)
	v, _, err := tx.Property(ctx, kept, "uri")
	require.NoError(t, err)
	assert.Equal(t, "kept", v)

	ok, err = tx.Exists(ctx, dropped)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      any
		want    any
		wantErr bool
	}{
		{"x", "x", false},
		{7, int64(7), false},
		{int32(7), int64(7), false},
		{float32(0.5), 0.5, false},
		{false, false, false},
		{nil, nil, true},
		{struct{}{}, nil, true},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Normalize(%v): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Normalize(%v): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
