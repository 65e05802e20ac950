package sequence

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/graph"
	"github.com/systemshift/dmx/internal/server/index"
	"github.com/systemshift/dmx/internal/server/storage"
	"github.com/systemshift/dmx/internal/server/txn"
)

type fixture struct {
	ctx    context.Context
	b      *storage.Bridge
	tx     *txn.Tx
	parent *core.TopicModel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := graph.NewSQLite(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })
	tx, err := txn.NewManager(store, zerolog.Nop()).Begin(ctx, core.RequestContext{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Finish(ctx) })

	b := storage.New(index.New(zerolog.Nop()), zerolog.Nop())
	_, err = b.Setup(ctx, tx)
	require.NoError(t, err)
	for _, uri := range []string{core.SequenceURI, core.SequenceStartURI} {
		require.NoError(t, b.CreateTopic(ctx, tx, &core.TopicModel{URI: uri, TypeURI: core.AssocTypeURI}))
	}

	parent := &core.TopicModel{TypeURI: "test.list"}
	require.NoError(t, b.CreateTopic(ctx, tx, parent))
	return &fixture{ctx: ctx, b: b, tx: tx, parent: parent}
}

// child creates a child topic and returns the id of its composition assoc,
// which is what a sequence orders.
func (f *fixture) child(t *testing.T) int64 {
	t.Helper()
	c := &core.TopicModel{TypeURI: "test.item"}
	require.NoError(t, f.b.CreateTopic(f.ctx, f.tx, c))
	a := &core.AssocModel{
		TypeURI: core.CompositionURI,
		Player1: core.TopicPlayer(f.parent.ID, core.ParentRoleURI),
		Player2: core.TopicPlayer(c.ID, core.ChildRoleURI),
	}
	require.NoError(t, f.b.CreateAssoc(f.ctx, f.tx, a))
	return a.ID
}

func (f *fixture) seq(key string) *Sequence {
	return New(f.ctx, f.b, f.tx, f.parent.Ref(), key)
}

func (f *fixture) chainEdges(t *testing.T, item int64) []*core.AssocModel {
	t.Helper()
	all, err := f.b.FetchAssocs(f.ctx, f.tx, core.AssocRef(item))
	require.NoError(t, err)
	var chain []*core.AssocModel
	for _, a := range all {
		if a.TypeURI == core.SequenceURI || a.TypeURI == core.SequenceStartURI {
			chain = append(chain, a)
		}
	}
	return chain
}

func TestInsertAtHeadAndRemove(t *testing.T) {
	f := newFixture(t)
	s := f.seq("test.item")
	c1, c2, c3 := f.child(t), f.child(t), f.child(t)

	for _, c := range []int64{c1, c2, c3} {
		require.NoError(t, s.Insert(c, core.None[int64]()))
	}
	ids, err := s.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{c3, c2, c1}, ids)

	require.NoError(t, s.Remove(c2))
	ids, err = s.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{c3, c1}, ids)
	assert.Empty(t, f.chainEdges(t, c2))
}

func TestChainAssocsAreTyped(t *testing.T) {
	f := newFixture(t)
	s := f.seq("test.item")
	c1, c2 := f.child(t), f.child(t)
	require.NoError(t, s.Append(c1))
	require.NoError(t, s.Append(c2))

	chain := f.chainEdges(t, c1)
	require.Len(t, chain, 2)
	for _, a := range chain {
		typ, err := f.b.FetchObjectType(f.ctx, f.tx, a.Ref())
		require.NoError(t, err)
		require.NotNil(t, typ)
		assert.Equal(t, a.TypeURI, typ.URI)
	}

	// type edges go away with the links they belong to
	require.NoError(t, s.Remove(c1))
	inst, err := f.b.FetchAssocsByType(f.ctx, f.tx, core.InstantiationURI)
	require.NoError(t, err)
	assert.Len(t, inst, 1)
	start := f.chainEdges(t, c2)
	require.Len(t, start, 1)
	typ, err := f.b.FetchObjectType(f.ctx, f.tx, start[0].Ref())
	require.NoError(t, err)
	assert.Equal(t, core.SequenceStartURI, typ.URI)
}

func TestInsertAfterPredecessor(t *testing.T) {
	f := newFixture(t)
	s := f.seq("test.item")
	c1, c2, c3, c4 := f.child(t), f.child(t), f.child(t), f.child(t)

	require.NoError(t, s.Insert(c1, core.None[int64]()))
	require.NoError(t, s.Insert(c3, core.Some(c1)))
	require.NoError(t, s.Insert(c2, core.Some(c1)))
	require.NoError(t, s.Append(c4))

	ids, err := s.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{c1, c2, c3, c4}, ids)
}

func TestRemoveHeadAndTail(t *testing.T) {
	f := newFixture(t)
	s := f.seq("test.item")
	c1, c2, c3 := f.child(t), f.child(t), f.child(t)
	for _, c := range []int64{c1, c2, c3} {
		require.NoError(t, s.Append(c))
	}

	require.NoError(t, s.Remove(c1))
	ids, err := s.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{c2, c3}, ids)
	assert.Empty(t, f.chainEdges(t, c1))

	require.NoError(t, s.Remove(c3))
	ids, err = s.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{c2}, ids)
	assert.Empty(t, f.chainEdges(t, c3))

	require.NoError(t, s.Remove(c2))
	ids, err = s.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	// an item in no sequence is left alone
	require.NoError(t, s.Remove(c2))
}

func TestSequencesOnOneParentAreIndependent(t *testing.T) {
	f := newFixture(t)
	a, b := f.seq("test.a"), f.seq("test.b")
	a1, a2, b1 := f.child(t), f.child(t), f.child(t)

	require.NoError(t, a.Append(a1))
	require.NoError(t, b.Append(b1))
	require.NoError(t, a.Append(a2))

	ids, err := a.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{a1, a2}, ids)
	ids, err = b.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{b1}, ids)
}

func TestIterationIsRestartableAndStopsEarly(t *testing.T) {
	f := newFixture(t)
	s := f.seq("test.item")
	c1, c2 := f.child(t), f.child(t)
	require.NoError(t, s.Append(c1))
	require.NoError(t, s.Append(c2))

	for range 2 {
		var got []int64
		for id, err := range s.All() {
			require.NoError(t, err)
			got = append(got, id)
			break
		}
		assert.Equal(t, []int64{c1}, got)
	}
}

func TestCycleIsDetected(t *testing.T) {
	f := newFixture(t)
	s := f.seq("test.item")
	c1, c2 := f.child(t), f.child(t)
	require.NoError(t, s.Append(c1))
	require.NoError(t, s.Append(c2))

	// corrupt the chain: c2 -> c1
	require.NoError(t, f.b.CreateAssoc(f.ctx, f.tx, &core.AssocModel{
		TypeURI: core.SequenceURI,
		Player1: core.AssocPlayer(c2, core.PredecessorRoleURI),
		Player2: core.AssocPlayer(c1, core.SuccessorRoleURI),
	}))

	_, err := s.IDs()
	assert.ErrorIs(t, err, core.ErrDataInconsistency)
}
