package storage

import (
	"context"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/index"
	"github.com/systemshift/dmx/internal/server/txn"
)

// CreateInstantiation connects an object to its type topic: the object plays
// the instance role, the type the type role. The new association has no type
// edge of its own.
func (b *Bridge) CreateInstantiation(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, typeURI string) (*core.AssocModel, error) {
	t, err := b.FetchTopicByURI(ctx, tx, typeURI)
	if err != nil {
		return nil, err
	}
	a := &core.AssocModel{
		TypeURI: core.InstantiationURI,
		Player1: core.PlayerModel{Ref: ref, RoleTypeURI: core.InstanceRoleURI},
		Player2: core.TopicPlayer(t.ID, core.TypeRoleURI),
	}
	if err := b.CreateAssoc(ctx, tx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// instantiations finds the instance→type edges of an object through the
// association metadata index.
func (b *Bridge) instantiations(ctx context.Context, tx *txn.Tx, ref core.PlayerRef) ([]int64, error) {
	ids, err := b.ix.QueryAssocs(ctx, tx.Graph(), index.AssocQuery{
		AssocTypeURI: core.Some(core.InstantiationURI),
		Player1: index.PlayerFilter{
			ID:          core.Some(ref.ID),
			Kind:        core.Some(ref.Kind),
			RoleTypeURI: core.Some(core.InstanceRoleURI),
		},
		Player2: index.PlayerFilter{
			Kind:        core.Some(core.KindTopic),
			RoleTypeURI: core.Some(core.TypeRoleURI),
		},
	})
	if err != nil {
		return nil, wrap("instantiation lookup", err)
	}
	return ids, nil
}

// FetchObjectType resolves the type of an object by traversing its single
// instantiation edge. The bootstrap root is its own type and needs no
// traversal. Instantiation associations have no type: they resolve to nil.
// Any other object without exactly one type edge is a data inconsistency.
func (b *Bridge) FetchObjectType(ctx context.Context, tx *txn.Tx, ref core.PlayerRef) (*core.TopicModel, error) {
	defer observe("fetch_type")()
	if ref.Kind == core.KindTopic && ref.ID == core.RootID {
		return b.FetchTopic(ctx, tx, core.RootID)
	}
	if ref.Kind == core.KindAssoc {
		typeURI, err := b.typeURIOf(ctx, tx, ref.ID)
		if err != nil {
			return nil, err
		}
		if typeURI == core.InstantiationURI {
			return nil, nil
		}
	}

	ids, err := b.instantiations(ctx, tx, ref)
	if err != nil {
		return nil, err
	}
	if len(ids) != 1 {
		return nil, core.Inconsistentf("%v has %d type edges", ref, len(ids))
	}
	a, err := b.FetchAssoc(ctx, tx, ids[0])
	if err != nil {
		return nil, err
	}
	p, err := a.PlayerByRole(core.TypeRoleURI)
	if err != nil {
		return nil, core.Inconsistentf("instantiation %d: %v", a.ID, err)
	}
	return b.FetchTopic(ctx, tx, p.Ref.ID)
}

// ReplaceInstantiation moves an object to another type: the old type edge is
// deleted (if any) and a new one created.
func (b *Bridge) ReplaceInstantiation(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, typeURI string) error {
	if err := b.DeleteInstantiations(ctx, tx, ref); err != nil {
		return err
	}
	_, err := b.CreateInstantiation(ctx, tx, ref, typeURI)
	return err
}

// DeleteInstantiations removes the type edges of an object.
func (b *Bridge) DeleteInstantiations(ctx context.Context, tx *txn.Tx, ref core.PlayerRef) error {
	ids, err := b.instantiations(ctx, tx, ref)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := b.DeleteAssoc(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

// Classify tells the bootstrap root, types and instances apart.
func (b *Bridge) Classify(ctx context.Context, tx *txn.Tx, ref core.PlayerRef) (core.TypeClass, error) {
	if ref.Kind == core.KindAssoc {
		if _, err := b.FetchAssoc(ctx, tx, ref.ID); err != nil {
			return 0, err
		}
		return core.ClassInstance, nil
	}
	t, err := b.FetchTopic(ctx, tx, ref.ID)
	if err != nil {
		return 0, err
	}
	return core.ClassOf(t), nil
}

// Setup prepares an empty store: the bootstrap root goes into slot 0 together
// with the migration counter. It reports whether the store was empty, in
// which case the caller runs its one-time setup.
func (b *Bridge) Setup(ctx context.Context, tx *txn.Tx) (bool, error) {
	g := tx.Graph()
	ok, err := g.Exists(ctx, core.RootID)
	if err != nil {
		return false, wrap("setup", err)
	}
	if ok {
		return false, nil
	}

	if err := g.CreateNodeAt(ctx, core.RootID); err != nil {
		return false, wrap("create root", err)
	}
	props := map[string]any{
		propURI:         core.MetaMetaTypeURI,
		propTypeURI:     core.MetaMetaTypeURI,
		propValue:       "Meta Meta Type",
		propMigrationNr: int64(0),
	}
	for k, v := range props {
		if err := g.SetProperty(ctx, core.RootID, k, v); err != nil {
			return false, wrap("store root", err)
		}
	}
	if err := b.ix.IndexURI(ctx, g, core.KindTopic, core.RootID, core.MetaMetaTypeURI); err != nil {
		return false, wrap("index root", err)
	}
	if err := b.ix.IndexTypeURI(ctx, g, core.KindTopic, core.RootID, core.MetaMetaTypeURI); err != nil {
		return false, wrap("index root", err)
	}
	tx.Logger().Info().Msg("clean install: root created")
	return true, nil
}

// MigrationNr returns the migration counter stored on the root.
func (b *Bridge) MigrationNr(ctx context.Context, tx *txn.Tx) (int64, error) {
	v, ok, err := tx.Graph().Property(ctx, core.RootID, propMigrationNr)
	if err != nil {
		return 0, wrap("migration nr", err)
	}
	if !ok {
		return 0, core.Inconsistentf("root has no migration counter")
	}
	n, _ := v.(int64)
	return n, nil
}

// StoreMigrationNr updates the migration counter.
func (b *Bridge) StoreMigrationNr(ctx context.Context, tx *txn.Tx, n int64) error {
	return wrap("store migration nr", tx.Graph().SetProperty(ctx, core.RootID, propMigrationNr, n))
}
