package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/graph"
	"github.com/systemshift/dmx/internal/server/storage"
	"github.com/systemshift/dmx/internal/server/subscriptions"
	"github.com/systemshift/dmx/internal/server/txn"
)

const (
	nameType   = "test.name"
	emailType  = "test.email"
	cityType   = "test.city"
	personType = "test.person"
)

type fixture struct {
	ctx context.Context
	e   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := graph.NewSQLite(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	e := New(store, zerolog.Nop())
	clean, err := e.Setup(ctx)
	require.NoError(t, err)
	require.True(t, clean)
	return &fixture{ctx: ctx, e: e}
}

// run executes fn in a committed transaction.
func (f *fixture) run(t *testing.T, fn func(tx *txn.Tx) error) {
	t.Helper()
	require.NoError(t, f.e.Run(f.ctx, core.RequestContext{WorkspaceID: 9, Username: "ada"}, fn))
}

// personTypes installs Name (keyed, fulltext), Email, City (keyed) and the
// composite Person: one Name in the label, many Emails, one aggregated City.
func (f *fixture) personTypes(t *testing.T) {
	t.Helper()
	f.run(t, func(tx *txn.Tx) error {
		name := core.NewTopicType(nameType, "Name", core.DataTypeText)
		name.IndexModes = []core.IndexMode{core.IndexKey, core.IndexFulltext}
		if _, err := f.e.CreateTopicType(f.ctx, tx, name); err != nil {
			return err
		}
		if _, err := f.e.CreateTopicType(f.ctx, tx, core.NewTopicType(emailType, "Email", core.DataTypeText)); err != nil {
			return err
		}
		city := core.NewTopicType(cityType, "City", core.DataTypeText)
		city.IndexModes = []core.IndexMode{core.IndexKey}
		if _, err := f.e.CreateTopicType(f.ctx, tx, city); err != nil {
			return err
		}
		person := core.NewTopicType(personType, "Person", core.DataTypeComposite).
			AddCompDef(&core.CompDef{ChildTypeURI: nameType, IncludeInLabel: true}).
			AddCompDef(&core.CompDef{ChildTypeURI: emailType, Cardinality: core.Many}).
			AddCompDef(&core.CompDef{ChildTypeURI: cityType, Aggregation: true})
		_, err := f.e.CreateTopicType(f.ctx, tx, person)
		return err
	})
}

func (f *fixture) person(t *testing.T, children *core.ChildTopics) *core.TopicModel {
	t.Helper()
	var p *core.TopicModel
	f.run(t, func(tx *txn.Tx) error {
		var err error
		p, err = f.e.CreateTopic(f.ctx, tx, &core.TopicModel{TypeURI: personType, Children: children})
		return err
	})
	return p
}

func emails(p *core.TopicModel) []string {
	var out []string
	for _, rt := range p.Children.GetTopics(emailType) {
		out = append(out, rt.Topic.Value.Text())
	}
	return out
}

func TestSetupInstallsCoreTypesOnce(t *testing.T) {
	f := newFixture(t)
	clean, err := f.e.Setup(f.ctx)
	require.NoError(t, err)
	assert.False(t, clean)

	f.run(t, func(tx *txn.Tx) error {
		uris, err := f.e.GetTopicTypeURIs(f.ctx, tx)
		require.NoError(t, err)
		assert.Contains(t, uris, core.DataTypeURI)
		assert.Contains(t, uris, core.ViewConfigURI)

		assocTypes, err := f.e.GetAssocTypeURIs(f.ctx, tx)
		require.NoError(t, err)
		assert.Contains(t, assocTypes, core.CompositionURI)
		assert.Contains(t, assocTypes, core.SequenceURI)

		comp, err := f.e.GetAssocType(f.ctx, tx, core.CompositionURI)
		require.NoError(t, err)
		assert.Equal(t, core.DataTypeText, comp.DataTypeURI)

		vc, err := f.e.GetTopicType(f.ctx, tx, core.ViewConfigURI)
		require.NoError(t, err)
		assert.True(t, vc.IsComposite())
		require.Len(t, vc.CompDefs, 2)
		assert.Equal(t, core.ViewIconURI, vc.CompDefs[0].CompDefURI)
		assert.Equal(t, core.ViewColorURI, vc.CompDefs[1].CompDefURI)

		n, err := f.e.Bridge().MigrationNr(f.ctx, tx)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
}

func TestTypeDefinitionRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)

	f.run(t, func(tx *txn.Tx) error {
		p, err := f.e.GetTopicType(f.ctx, tx, personType)
		require.NoError(t, err)
		assert.Equal(t, core.TopicTypeURI, p.TypeURI)
		assert.Equal(t, "Person", p.Value.Text())
		assert.Equal(t, core.DataTypeComposite, p.DataTypeURI)
		require.Len(t, p.CompDefs, 3)

		assert.Equal(t, nameType, p.CompDefs[0].CompDefURI)
		assert.Equal(t, core.One, p.CompDefs[0].Cardinality)
		assert.True(t, p.CompDefs[0].IncludeInLabel)
		assert.Equal(t, emailType, p.CompDefs[1].CompDefURI)
		assert.Equal(t, core.Many, p.CompDefs[1].Cardinality)
		assert.True(t, p.CompDefs[2].Aggregation)
		assert.Equal(t, []string{nameType}, p.LabelConfig())

		n, err := f.e.GetTopicType(f.ctx, tx, nameType)
		require.NoError(t, err)
		assert.Equal(t, []core.IndexMode{core.IndexKey, core.IndexFulltext}, n.IndexModes)

		_, err = f.e.GetAssocType(f.ctx, tx, personType)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = f.e.GetTopicType(f.ctx, tx, "test.nope")
		assert.ErrorIs(t, err, core.ErrNotFound)
		return nil
	})
}

func TestPersonNameScenario(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)

	p := f.person(t, core.NewChildTopics().
		SetValue(nameType, "Ada Lovelace").
		AddValue(emailType, "ada@example.org").
		AddValue(emailType, "countess@example.org"))

	assert.Equal(t, "Ada Lovelace", p.Value.Text())
	name, ok := p.Children.Get(nameType)
	require.True(t, ok)
	assert.Equal(t, nameType, name.Topic.TypeURI)
	require.NotNil(t, name.Assoc)
	assert.Equal(t, core.CompositionURI, name.Assoc.TypeURI)
	assert.Equal(t, []string{"ada@example.org", "countess@example.org"}, emails(p))

	f.run(t, func(tx *txn.Tx) error {
		byValue, err := f.e.GetTopicByValue(f.ctx, tx, nameType, core.String("Ada Lovelace"))
		require.NoError(t, err)
		assert.Equal(t, name.Topic.ID, byValue.ID)

		found, err := f.e.SearchTopics(f.ctx, tx, "lovelace", core.None[string]())
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, name.Topic.ID, found[0].ID)

		typ, err := f.e.GetType(f.ctx, tx, p.Ref())
		require.NoError(t, err)
		assert.Equal(t, personType, typ.URI)

		ws, ok, err := f.e.Bridge().FetchWorkspaceID(f.ctx, tx, p.Ref())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(9), ws)
		return nil
	})

	// cascade: the Name child and its composition association go with the person
	f.run(t, func(tx *txn.Tx) error {
		return f.e.DeleteTopic(f.ctx, tx, p.ID)
	})
	f.run(t, func(tx *txn.Tx) error {
		_, err := f.e.GetTopic(f.ctx, tx, p.ID, false)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = f.e.GetTopic(f.ctx, tx, name.Topic.ID, false)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = f.e.GetAssoc(f.ctx, tx, name.Assoc.ID, false)
		assert.ErrorIs(t, err, core.ErrNotFound)

		left, err := f.e.GetTopicsByType(f.ctx, tx, emailType)
		require.NoError(t, err)
		assert.Empty(t, left)

		_, err = f.e.GetTopicType(f.ctx, tx, personType)
		assert.NoError(t, err)
		return nil
	})
}

func TestRetypeMovesIndexEntries(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)

	var n *core.TopicModel
	f.run(t, func(tx *txn.Tx) error {
		var err error
		n, err = f.e.CreateTopic(f.ctx, tx, &core.TopicModel{TypeURI: nameType, Value: core.String("Ada")})
		return err
	})
	f.run(t, func(tx *txn.Tx) error {
		_, err := f.e.UpdateTopic(f.ctx, tx, &core.TopicModel{ID: n.ID, TypeURI: cityType})
		return err
	})

	f.run(t, func(tx *txn.Tx) error {
		stale, err := f.e.GetTopicsByValue(f.ctx, tx, nameType, core.String("Ada"))
		require.NoError(t, err)
		assert.Empty(t, stale)

		found, err := f.e.SearchTopics(f.ctx, tx, "Ada", core.None[string]())
		require.NoError(t, err)
		assert.Empty(t, found)

		city, err := f.e.GetTopicByValue(f.ctx, tx, cityType, core.String("Ada"))
		require.NoError(t, err)
		assert.Equal(t, n.ID, city.ID)
		assert.Equal(t, cityType, city.TypeURI)
		return nil
	})
}

func TestReferencedURIsCannotChange(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)
	p := f.person(t, core.NewChildTopics().SetValue(nameType, "Ada"))

	for _, uri := range []string{nameType, core.ParentRoleURI, core.DataTypeText} {
		err := f.e.Run(f.ctx, core.RequestContext{}, func(tx *txn.Tx) error {
			topic, err := f.e.GetTopicByURI(f.ctx, tx, uri, false)
			if err != nil {
				return err
			}
			_, err = f.e.UpdateTopic(f.ctx, tx, &core.TopicModel{ID: topic.ID, URI: uri + "2"})
			return err
		})
		assert.ErrorIs(t, err, core.ErrInvalidModel, uri)
	}

	f.run(t, func(tx *txn.Tx) error {
		got, err := f.e.GetTopic(f.ctx, tx, p.ID, true)
		require.NoError(t, err)
		assert.Equal(t, "Ada", got.Value.Text())
		_, err = f.e.GetTopicType(f.ctx, tx, nameType)
		assert.NoError(t, err)
		return nil
	})

	// ordinary topics can still be renamed
	f.run(t, func(tx *txn.Tx) error {
		n, ok := p.Children.Get(nameType)
		require.True(t, ok)
		got, err := f.e.UpdateTopic(f.ctx, tx, &core.TopicModel{ID: n.Topic.ID, URI: "test.ada"})
		require.NoError(t, err)
		assert.Equal(t, "test.ada", got.URI)
		return nil
	})
}

func TestTypeResolution(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)
	p := f.person(t, core.NewChildTopics().SetValue(nameType, "Grace"))

	f.run(t, func(tx *txn.Tx) error {
		root, err := f.e.GetType(f.ctx, tx, core.TopicRef(core.RootID))
		require.NoError(t, err)
		assert.Equal(t, core.MetaMetaTypeURI, root.URI)

		typ, err := f.e.GetTopicType(f.ctx, tx, personType)
		require.NoError(t, err)
		meta, err := f.e.GetType(f.ctx, tx, typ.Ref())
		require.NoError(t, err)
		assert.Equal(t, core.TopicTypeURI, meta.URI)

		name, _ := p.Children.Get(nameType)
		assocType, err := f.e.GetType(f.ctx, tx, name.Assoc.Ref())
		require.NoError(t, err)
		assert.Equal(t, core.CompositionURI, assocType.URI)

		inst, err := f.e.GetAssocsBetween(f.ctx, tx, storage.Between{
			TypeURI: core.Some(core.InstantiationURI),
			Player1: p.Ref(),
			Player2: typ.Ref(),
		})
		require.NoError(t, err)
		require.Len(t, inst, 1)
		none, err := f.e.GetType(f.ctx, tx, inst[0].Ref())
		require.NoError(t, err)
		assert.Nil(t, none)

		class, err := f.e.Classify(f.ctx, tx, typ.Ref())
		require.NoError(t, err)
		assert.Equal(t, core.ClassType, class)
		class, err = f.e.Classify(f.ctx, tx, p.Ref())
		require.NoError(t, err)
		assert.Equal(t, core.ClassInstance, class)
		return nil
	})
}

func TestUpdateChildren(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)
	p := f.person(t, core.NewChildTopics().
		SetValue(nameType, "Ada Lovelace").
		AddValue(emailType, "a@example.org").
		AddValue(emailType, "b@example.org"))
	name, _ := p.Children.Get(nameType)
	list := p.Children.GetTopics(emailType)
	a, b := list[0].Topic, list[1].Topic

	var updated *core.TopicModel
	f.run(t, func(tx *txn.Tx) error {
		var err error
		updated, err = f.e.UpdateTopic(f.ctx, tx, &core.TopicModel{
			ID: p.ID,
			Children: core.NewChildTopics().
				SetValue(nameType, "Ada King").
				SetMulti(emailType, []*core.RelatedTopic{
					{Topic: &core.TopicModel{ID: b.ID}},
					{Topic: &core.TopicModel{Value: core.String("c@example.org")}},
				}),
		})
		return err
	})

	assert.Equal(t, "Ada King", updated.Value.Text())
	newName, _ := updated.Children.Get(nameType)
	assert.Equal(t, name.Topic.ID, newName.Topic.ID, "composition child is edited in place")
	assert.Equal(t, []string{"b@example.org", "c@example.org"}, emails(updated))

	f.run(t, func(tx *txn.Tx) error {
		_, err := f.e.GetTopic(f.ctx, tx, a.ID, false)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = f.e.GetTopicByValue(f.ctx, tx, nameType, core.String("Ada Lovelace"))
		assert.ErrorIs(t, err, core.ErrNotFound)
		return nil
	})

	// editing the child directly relabels the parent
	f.run(t, func(tx *txn.Tx) error {
		_, err := f.e.UpdateTopic(f.ctx, tx, &core.TopicModel{ID: name.Topic.ID, Value: core.String("Augusta Ada King")})
		require.NoError(t, err)
		got, err := f.e.GetTopic(f.ctx, tx, p.ID, false)
		require.NoError(t, err)
		assert.Equal(t, "Augusta Ada King", got.Value.Text())
		return nil
	})

	// removing an entry deletes the owned children
	f.run(t, func(tx *txn.Tx) error {
		got, err := f.e.UpdateTopic(f.ctx, tx, &core.TopicModel{ID: p.ID, Children: core.NewChildTopics().Remove(emailType)})
		require.NoError(t, err)
		assert.Empty(t, emails(got))
		left, err := f.e.GetTopicsByType(f.ctx, tx, emailType)
		require.NoError(t, err)
		assert.Empty(t, left)
		return nil
	})
}

func TestAggregatedChildIsShared(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)
	p1 := f.person(t, core.NewChildTopics().SetValue(nameType, "Ada").SetValue(cityType, "London"))
	p2 := f.person(t, core.NewChildTopics().SetValue(nameType, "Charles").SetValue(cityType, "London"))

	c1, _ := p1.Children.Get(cityType)
	c2, _ := p2.Children.Get(cityType)
	assert.Equal(t, c1.Topic.ID, c2.Topic.ID)
	assert.Equal(t, core.AggregationURI, c1.Assoc.TypeURI)

	f.run(t, func(tx *txn.Tx) error {
		return f.e.DeleteTopic(f.ctx, tx, p1.ID)
	})
	f.run(t, func(tx *txn.Tx) error {
		city, err := f.e.GetTopic(f.ctx, tx, c1.Topic.ID, false)
		require.NoError(t, err)
		assert.Equal(t, "London", city.Value.Text())
		_, err = f.e.GetAssoc(f.ctx, tx, c1.Assoc.ID, false)
		assert.ErrorIs(t, err, core.ErrNotFound)
		return nil
	})
}

func TestChildValidation(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)

	tests := []struct {
		name     string
		children *core.ChildTopics
	}{
		{"unknown comp def", core.NewChildTopics().SetValue("test.nope", "x")},
		{"list for single", core.NewChildTopics().AddValue(nameType, "x")},
		{"wrong data type", core.NewChildTopics().SetValue(nameType, int64(5))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.e.Run(f.ctx, core.RequestContext{}, func(tx *txn.Tx) error {
				_, err := f.e.CreateTopic(f.ctx, tx, &core.TopicModel{TypeURI: personType, Children: tt.children})
				return err
			})
			assert.ErrorIs(t, err, core.ErrInvalidModel)
		})
	}

	err := f.e.Run(f.ctx, core.RequestContext{}, func(tx *txn.Tx) error {
		_, err := f.e.CreateTopic(f.ctx, tx, &core.TopicModel{TypeURI: nameType, Children: core.NewChildTopics().SetValue(emailType, "x")})
		return err
	})
	assert.ErrorIs(t, err, core.ErrInvalidModel)
}

func TestURIConflict(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)
	err := f.e.Run(f.ctx, core.RequestContext{}, func(tx *txn.Tx) error {
		_, err := f.e.CreateTopic(f.ctx, tx, &core.TopicModel{URI: personType, TypeURI: nameType, Value: core.String("x")})
		return err
	})
	assert.ErrorIs(t, err, core.ErrURIConflict)
}

func TestRollbackForgetsTypes(t *testing.T) {
	f := newFixture(t)
	tx, err := f.e.Begin(f.ctx, core.RequestContext{})
	require.NoError(t, err)
	_, err = f.e.CreateTopicType(f.ctx, tx, core.NewTopicType("test.temp", "Temp", core.DataTypeText))
	require.NoError(t, err)
	_, err = f.e.GetTopicType(f.ctx, tx, "test.temp")
	require.NoError(t, err)
	tx.Failure()
	require.NoError(t, tx.Finish(f.ctx))

	f.run(t, func(tx *txn.Tx) error {
		_, err := f.e.GetTopicType(f.ctx, tx, "test.temp")
		assert.ErrorIs(t, err, core.ErrNotFound)
		return nil
	})
}

func TestUncommittedTypesStayPrivate(t *testing.T) {
	f := newFixture(t)
	other := &txn.Tx{}

	tx, err := f.e.Begin(f.ctx, core.RequestContext{})
	require.NoError(t, err)
	_, err = f.e.CreateTopicType(f.ctx, tx, core.NewTopicType("test.draft", "Draft", core.DataTypeText))
	require.NoError(t, err)
	_, err = f.e.GetTopicType(f.ctx, tx, "test.draft")
	require.NoError(t, err)

	_, ok := f.e.types.get(tx, "test.draft")
	assert.True(t, ok)
	_, ok = f.e.types.get(other, "test.draft")
	assert.False(t, ok)
	_, ok = f.e.types.get(other, core.TopicTypeURI)
	assert.False(t, ok)

	tx.Success()
	require.NoError(t, tx.Finish(f.ctx))

	// unchanged definitions are shared after the commit, changed ones reload
	_, ok = f.e.types.get(other, core.TopicTypeURI)
	assert.True(t, ok)
	_, ok = f.e.types.get(other, "test.draft")
	assert.False(t, ok)

	f.run(t, func(tx *txn.Tx) error {
		typ, err := f.e.GetTopicType(f.ctx, tx, "test.draft")
		require.NoError(t, err)
		assert.Equal(t, "Draft", typ.Value.Text())
		return nil
	})
}

func TestCompDefChanges(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)
	f.run(t, func(tx *txn.Tx) error {
		typ, err := f.e.RemoveCompDef(f.ctx, tx, personType, emailType)
		require.NoError(t, err)
		require.Len(t, typ.CompDefs, 2)
		assert.Equal(t, cityType, typ.CompDefs[1].CompDefURI)

		_, err = f.e.AddCompDef(f.ctx, tx, personType, &core.CompDef{ChildTypeURI: nameType})
		assert.ErrorIs(t, err, core.ErrInvalidModel)

		typ, err = f.e.AddCompDef(f.ctx, tx, personType, &core.CompDef{ChildTypeURI: emailType, Cardinality: core.Many})
		require.NoError(t, err)
		require.Len(t, typ.CompDefs, 3)
		assert.Equal(t, emailType, typ.CompDefs[2].CompDefURI)
		assert.Equal(t, core.Many, typ.CompDefs[2].Cardinality)
		return nil
	})
}

func TestViewConfig(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)
	f.run(t, func(tx *txn.Tx) error {
		typ, err := f.e.StoreViewConfig(f.ctx, tx, personType, core.NewViewConfig().Set(core.ViewIconURI, "user"))
		require.NoError(t, err)
		icon, ok := typ.ViewConfig.Setting(core.ViewIconURI)
		require.True(t, ok)
		assert.Equal(t, "user", icon.Text())

		typ, err = f.e.StoreViewConfig(f.ctx, tx, personType, core.NewViewConfig().Set(core.ViewColorURI, "#fc0"))
		require.NoError(t, err)
		icon, _ = typ.ViewConfig.Setting(core.ViewIconURI)
		color, _ := typ.ViewConfig.Setting(core.ViewColorURI)
		assert.Equal(t, "user", icon.Text())
		assert.Equal(t, "#fc0", color.Text())
		return nil
	})
}

func TestDeleteTopicTypeDeletesInstances(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)
	p := f.person(t, core.NewChildTopics().SetValue(nameType, "Ada"))

	f.run(t, func(tx *txn.Tx) error {
		return f.e.DeleteTopicType(f.ctx, tx, personType)
	})
	f.run(t, func(tx *txn.Tx) error {
		_, err := f.e.GetTopic(f.ctx, tx, p.ID, false)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = f.e.GetTopicType(f.ctx, tx, personType)
		assert.ErrorIs(t, err, core.ErrNotFound)
		uris, err := f.e.GetTopicTypeURIs(f.ctx, tx)
		require.NoError(t, err)
		assert.NotContains(t, uris, personType)
		assert.Contains(t, uris, nameType)

		err = f.e.DeleteTopic(f.ctx, tx, core.RootID)
		assert.ErrorIs(t, err, core.ErrInvalidModel)
		return nil
	})
}

func TestAssociations(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)
	ada := f.person(t, core.NewChildTopics().SetValue(nameType, "Ada"))
	charles := f.person(t, core.NewChildTopics().SetValue(nameType, "Charles"))

	var a *core.AssocModel
	f.run(t, func(tx *txn.Tx) error {
		var err error
		a, err = f.e.CreateAssoc(f.ctx, tx, &core.AssocModel{
			Player1: core.TopicPlayer(ada.ID, core.DefaultRoleURI),
			Player2: core.TopicPlayer(charles.ID, core.DefaultRoleURI),
			Value:   core.String("friends"),
		})
		return err
	})
	assert.Equal(t, core.AssociationURI, a.TypeURI)
	assert.Equal(t, "friends", a.Value.Text())

	f.run(t, func(tx *txn.Tx) error {
		related, err := f.e.GetRelatedTopics(f.ctx, tx, ada.Ref(), storage.RelatedQuery{
			AssocTypeURIs: storage.AssocType(core.AssociationURI),
			OthersTypeURI: core.Some(personType),
		})
		require.NoError(t, err)
		require.Equal(t, 1, related.TotalCount)
		assert.Equal(t, charles.ID, related.Items[0].Topic.ID)

		got, err := f.e.UpdateAssoc(f.ctx, tx, &core.AssocModel{
			ID:      a.ID,
			Player1: core.TopicPlayer(ada.ID, core.ParentRoleURI),
		})
		require.NoError(t, err)
		assert.Equal(t, core.ParentRoleURI, got.Player1.RoleTypeURI)

		_, err = f.e.UpdateAssoc(f.ctx, tx, &core.AssocModel{ID: a.ID, TypeURI: personType})
		assert.ErrorIs(t, err, core.ErrInvalidModel)
		return nil
	})

	f.run(t, func(tx *txn.Tx) error {
		return f.e.DeleteTopic(f.ctx, tx, charles.ID)
	})
	f.run(t, func(tx *txn.Tx) error {
		_, err := f.e.GetAssoc(f.ctx, tx, a.ID, false)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = f.e.GetTopic(f.ctx, tx, ada.ID, false)
		assert.NoError(t, err)
		return nil
	})
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	f.personTypes(t)

	var seen, committed []subscriptions.Event
	f.e.Listen(func(ctx context.Context, tx *txn.Tx, ev subscriptions.Event) error {
		if ev.Type == subscriptions.EventTopicCreated && ev.Value == "forbidden" {
			return errors.New("vetoed")
		}
		seen = append(seen, ev)
		return nil
	})
	f.e.SetEmitter(func(ev subscriptions.Event) { committed = append(committed, ev) })

	tx, err := f.e.Begin(f.ctx, core.RequestContext{WorkspaceID: 3})
	require.NoError(t, err)
	_, err = f.e.CreateTopic(f.ctx, tx, &core.TopicModel{TypeURI: nameType, Value: core.String("Ada")})
	require.NoError(t, err)
	assert.NotEmpty(t, seen)
	assert.Empty(t, committed, "nothing is delivered before commit")
	tx.Success()
	require.NoError(t, tx.Finish(f.ctx))

	var created *subscriptions.Event
	for i, ev := range committed {
		if ev.Type == subscriptions.EventTopicCreated && ev.TypeURI == nameType {
			created = &committed[i]
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, "Ada", created.Value)
	assert.Equal(t, int64(3), created.Meta["workspace_id"])

	committed = nil
	err = f.e.Run(f.ctx, core.RequestContext{}, func(tx *txn.Tx) error {
		_, err := f.e.CreateTopic(f.ctx, tx, &core.TopicModel{TypeURI: nameType, Value: core.String("forbidden")})
		return err
	})
	assert.EqualError(t, err, "vetoed")
	assert.Empty(t, committed, "a rolled back transaction delivers nothing")
}
