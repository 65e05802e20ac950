package index

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/graph"
)

func setup(t *testing.T) (*Indexer, graph.Tx) {
	t.Helper()
	ctx := context.Background()
	store, err := graph.NewSQLite(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback(ctx) })
	return New(zerolog.Nop()), tx
}

func TestKeyModeRemovesThenAdds(t *testing.T) {
	ctx := context.Background()
	ix, g := setup(t)
	id, err := g.CreateNode(ctx)
	require.NoError(t, err)

	modes := []core.IndexMode{core.IndexKey}
	require.NoError(t, ix.IndexValue(ctx, g, core.KindTopic, id, "person.name", modes, core.String("A")))
	require.NoError(t, ix.IndexValue(ctx, g, core.KindTopic, id, "person.name", modes, core.String("B")))

	ids, err := ix.Lookup(ctx, g, core.KindTopic, "person.name", "A")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = ix.Lookup(ctx, g, core.KindTopic, "person.name", "B")
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, ids)

	// the assoc index is separate
	ids, err = ix.Lookup(ctx, g, core.KindAssoc, "person.name", "B")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOffModeWritesNothing(t *testing.T) {
	ctx := context.Background()
	ix, g := setup(t)
	id, _ := g.CreateNode(ctx)

	require.NoError(t, ix.IndexValue(ctx, g, core.KindTopic, id, "k", []core.IndexMode{core.IndexOff}, core.String("v")))
	ids, err := ix.Lookup(ctx, g, core.KindTopic, "k", "v")
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = ix.QueryFulltext(ctx, g, core.KindTopic, core.None[string](), "v")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFulltextModes(t *testing.T) {
	ctx := context.Background()
	ix, g := setup(t)
	a, _ := g.CreateNode(ctx)
	b, _ := g.CreateNode(ctx)

	require.NoError(t, ix.IndexValue(ctx, g, core.KindTopic, a, "note", []core.IndexMode{core.IndexFulltext}, core.String("graph engines")))
	require.NoError(t, ix.IndexValue(ctx, g, core.KindTopic, b, "title", []core.IndexMode{core.IndexFulltextKey}, core.String("graph theory")))

	// FULLTEXT entries share the reserved key
	ids, err := ix.QueryFulltext(ctx, g, core.KindTopic, core.None[string](), "graph")
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, ids)

	// FULLTEXT_KEY entries are scoped to the field
	ids, err = ix.QueryFulltext(ctx, g, core.KindTopic, core.Some("title"), "graph")
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, ids)

	// re-indexing replaces the old text
	require.NoError(t, ix.IndexValue(ctx, g, core.KindTopic, a, "note", []core.IndexMode{core.IndexFulltext}, core.String("relational")))
	ids, err = ix.QueryFulltext(ctx, g, core.KindTopic, core.None[string](), "graph")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestURIIndex(t *testing.T) {
	ctx := context.Background()
	ix, g := setup(t)
	id, _ := g.CreateNode(ctx)

	require.NoError(t, ix.IndexURI(ctx, g, core.KindTopic, id, "a.b"))
	require.NoError(t, ix.IndexURI(ctx, g, core.KindTopic, id, "a.c"))
	ids, err := ix.Lookup(ctx, g, core.KindTopic, KeyURI, "a.b")
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = ix.Lookup(ctx, g, core.KindTopic, KeyURI, "a.c")
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, ids)

	require.NoError(t, ix.IndexURI(ctx, g, core.KindTopic, id, ""))
	ids, err = ix.Lookup(ctx, g, core.KindTopic, KeyURI, "a.c")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestQueryAssocsIsSymmetric(t *testing.T) {
	ctx := context.Background()
	ix, g := setup(t)

	x, _ := g.CreateNode(ctx)
	y, _ := g.CreateNode(ctx)
	e, err := g.CreateEdge(ctx,
		graph.Endpoint{ID: x, Kind: graph.KindNode, Role: "dmx.core.parent"},
		graph.Endpoint{ID: y, Kind: graph.KindNode, Role: "dmx.core.child"})
	require.NoError(t, err)

	require.NoError(t, ix.IndexAssocMetadata(ctx, g, AssocMetadata{
		AssocID:      e,
		AssocTypeURI: "dmx.core.composition",
		Players: [2]PlayerMeta{
			{RoleTypeURI: "dmx.core.parent", Kind: core.KindTopic, ID: x, TypeURI: "person"},
			{RoleTypeURI: "dmx.core.child", Kind: core.KindTopic, ID: y, TypeURI: "name"},
		},
	}))

	tests := []struct {
		name string
		q    AssocQuery
		want []int64
	}{
		{"by type", AssocQuery{AssocTypeURI: core.Some("dmx.core.composition")}, []int64{e}},
		{"wrong type", AssocQuery{AssocTypeURI: core.Some("dmx.core.aggregation")}, []int64{}},
		{"player in position 1", AssocQuery{Player1: PlayerFilter{ID: core.Some(x), RoleTypeURI: core.Some("dmx.core.parent")}}, []int64{e}},
		{"player in position 2", AssocQuery{Player1: PlayerFilter{ID: core.Some(y), RoleTypeURI: core.Some("dmx.core.child")}}, []int64{e}},
		{"swapped players", AssocQuery{
			Player1: PlayerFilter{ID: core.Some(y)},
			Player2: PlayerFilter{ID: core.Some(x)},
		}, []int64{e}},
		{"role mismatch", AssocQuery{Player1: PlayerFilter{ID: core.Some(x), RoleTypeURI: core.Some("dmx.core.child")}}, []int64{}},
		{"by player type", AssocQuery{Player1: PlayerFilter{TypeURI: core.Some("name"), Kind: core.Some(core.KindTopic)}}, []int64{e}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ix.QueryAssocs(ctx, g, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	require.NoError(t, ix.ReindexPlayerType(ctx, g, e, 2, "nickname"))
	got, err := ix.QueryAssocs(ctx, g, AssocQuery{Player1: PlayerFilter{TypeURI: core.Some("name")}})
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = ix.QueryAssocs(ctx, g, AssocQuery{Player1: PlayerFilter{TypeURI: core.Some("nickname")}})
	require.NoError(t, err)
	assert.Equal(t, []int64{e}, got)

	_, err = ix.QueryAssocs(ctx, g, AssocQuery{})
	assert.Error(t, err)
}
