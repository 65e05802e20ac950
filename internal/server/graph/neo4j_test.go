package graph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openNeo4j needs a running Neo4j instance; set NEO4J_URI to enable.
func openNeo4j(t *testing.T) *Neo4jStore {
	t.Helper()
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}
	ctx := context.Background()
	s, err := NewNeo4j(ctx, Neo4jConfig{
		URI:      uri,
		Username: os.Getenv("NEO4J_USER"),
		Password: os.Getenv("NEO4J_PASSWORD"),
		Database: os.Getenv("NEO4J_DATABASE"),
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	return s
}

func TestNeo4jStore(t *testing.T) {
	ctx := context.Background()
	s := openNeo4j(t)

	// Everything happens in one transaction that is rolled back.
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	a, err := tx.CreateNode(ctx)
	require.NoError(t, err)
	b, err := tx.CreateNode(ctx)
	require.NoError(t, err)
	e, err := tx.CreateEdge(ctx,
		Endpoint{ID: a, Kind: KindNode, Role: "from"},
		Endpoint{ID: b, Kind: KindNode, Role: "to"})
	require.NoError(t, err)

	el, err := tx.Fetch(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, a, el.Ends[0].ID)
	assert.Equal(t, "to", el.Ends[1].Role)

	require.NoError(t, tx.SetProperty(ctx, a, "value", "Ada Lovelace"))
	v, ok, err := tx.Property(ctx, a, "value")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", v)

	require.NoError(t, tx.IndexPut(ctx, "topic", "uri", "test.ada", a))
	ids, err := tx.IndexGet(ctx, "topic", "uri", "test.ada")
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, ids)

	require.NoError(t, tx.FulltextPut(ctx, "topic", "_fulltext_", "Ada Lovelace", a))
	ids, err = tx.FulltextQuery(ctx, "topic", "_fulltext_", "lovelace")
	require.NoError(t, err)
	assert.Contains(t, ids, a)

	edges, err := tx.Edges(ctx, b, AdjacencyFilter{Role: "to"})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, e, edges[0].ID)

	require.NoError(t, tx.Delete(ctx, a))
	ids, err = tx.IndexGet(ctx, "topic", "uri", "test.ada")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNeo4jLockWaitsForHolder(t *testing.T) {
	ctx := context.Background()
	s := openNeo4j(t)

	a, err := s.Begin(ctx)
	require.NoError(t, err)
	defer a.Rollback(ctx)
	require.NoError(t, a.Lock(ctx, "test.lock"))

	b, err := s.Begin(ctx)
	require.NoError(t, err)
	defer b.Rollback(ctx)
	acquired := make(chan error, 1)
	go func() { acquired <- b.Lock(ctx, "test.lock") }()

	select {
	case <-acquired:
		t.Fatal("second transaction took a held lock")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, a.Rollback(ctx))
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("lock not released when the holder ended")
	}
}
