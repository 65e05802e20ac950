package storage

import (
	"context"
	"errors"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/graph"
	"github.com/systemshift/dmx/internal/server/index"
	"github.com/systemshift/dmx/internal/server/metrics"
	"github.com/systemshift/dmx/internal/server/txn"
)

// resolvePlayer turns a player given by URI into one given by id and checks
// that the referenced object exists with the right kind.
func (b *Bridge) resolvePlayer(ctx context.Context, tx *txn.Tx, p *core.PlayerModel) error {
	if p.TopicURI != "" && p.Ref.ID == 0 {
		t, err := b.FetchTopicByURI(ctx, tx, p.TopicURI)
		if err != nil {
			return err
		}
		p.Ref = t.Ref()
	}
	if err := p.Ref.Validate(); err != nil {
		return err
	}
	if p.RoleTypeURI == "" {
		return core.Invalidf("player %v has no role type", p.Ref)
	}
	_, err := fetchElement(ctx, tx.Graph(), p.Ref.ID, p.Ref.Kind)
	return err
}

func (b *Bridge) typeURIOf(ctx context.Context, tx *txn.Tx, id int64) (string, error) {
	v, _, err := tx.Graph().Property(ctx, id, propTypeURI)
	if err != nil {
		return "", wrap("fetch type uri", err)
	}
	s, _ := v.(string)
	return s, nil
}

// CreateAssoc stores a new association between two existing players and sets
// m.ID. Topic players given by URI are resolved first.
func (b *Bridge) CreateAssoc(ctx context.Context, tx *txn.Tx, m *core.AssocModel) error {
	defer observe("create_assoc")()
	if m.TypeURI == "" {
		return core.Invalidf("association %q has no type", m.URI)
	}
	if err := b.resolvePlayer(ctx, tx, &m.Player1); err != nil {
		return err
	}
	if err := b.resolvePlayer(ctx, tx, &m.Player2); err != nil {
		return err
	}
	if err := b.CheckURIUnique(ctx, tx, m.URI, core.None[core.PlayerRef]()); err != nil {
		return err
	}

	g := tx.Graph()
	id, err := g.CreateEdge(ctx,
		graph.Endpoint{ID: m.Player1.Ref.ID, Kind: graphKind(m.Player1.Ref.Kind), Role: m.Player1.RoleTypeURI},
		graph.Endpoint{ID: m.Player2.Ref.ID, Kind: graphKind(m.Player2.Ref.Kind), Role: m.Player2.RoleTypeURI},
	)
	if err != nil {
		return wrap("create assoc", err)
	}
	if err := b.storeNewObject(ctx, tx, core.KindAssoc, id, m.URI, m.TypeURI); err != nil {
		return err
	}

	meta := index.AssocMetadata{AssocID: id, AssocTypeURI: m.TypeURI}
	for i, p := range m.Players() {
		typeURI, err := b.typeURIOf(ctx, tx, p.Ref.ID)
		if err != nil {
			return err
		}
		meta.Players[i] = index.PlayerMeta{
			RoleTypeURI: p.RoleTypeURI,
			Kind:        p.Ref.Kind,
			ID:          p.Ref.ID,
			TypeURI:     typeURI,
		}
	}
	if err := b.ix.IndexAssocMetadata(ctx, g, meta); err != nil {
		return wrap("index assoc metadata", err)
	}

	m.ID = id
	tx.Logger().Debug().Int64("id", id).Str("type", m.TypeURI).
		Stringer("player1", m.Player1.Ref).Stringer("player2", m.Player2.Ref).Msg("assoc created")
	return nil
}

// FetchAssoc returns the stored association without children. An edge that
// lost one of its players is a data inconsistency.
func (b *Bridge) FetchAssoc(ctx context.Context, tx *txn.Tx, id int64) (*core.AssocModel, error) {
	defer observe("fetch_assoc")()
	el, err := fetchElement(ctx, tx.Graph(), id, core.KindAssoc)
	if err != nil {
		return nil, err
	}
	return b.assocFromElement(ctx, tx, el)
}

func (b *Bridge) assocFromElement(ctx context.Context, tx *txn.Tx, el *graph.Element) (*core.AssocModel, error) {
	p, err := readProps(ctx, tx.Graph(), el.ID)
	if err != nil {
		return nil, err
	}
	player := func(end graph.Endpoint) core.PlayerModel {
		return core.PlayerModel{
			Ref:         core.PlayerRef{Kind: objectKind(end.Kind), ID: end.ID},
			RoleTypeURI: end.Role,
		}
	}
	return &core.AssocModel{
		ID:      el.ID,
		URI:     p.uri,
		TypeURI: p.typeURI,
		Player1: player(el.Ends[0]),
		Player2: player(el.Ends[1]),
		Value:   p.value,
	}, nil
}

func (b *Bridge) fetchAssocs(ctx context.Context, tx *txn.Tx, ids []int64) ([]*core.AssocModel, error) {
	assocs := make([]*core.AssocModel, 0, len(ids))
	for _, id := range ids {
		a, err := b.FetchAssoc(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		assocs = append(assocs, a)
	}
	return assocs, nil
}

// FetchAssocByURI returns the association with the given URI.
func (b *Bridge) FetchAssocByURI(ctx context.Context, tx *txn.Tx, uri string) (*core.AssocModel, error) {
	return b.FetchAssocByValue(ctx, tx, index.KeyURI, core.String(uri))
}

// FetchAssocByValue returns the one association indexed under key with value.
func (b *Bridge) FetchAssocByValue(ctx context.Context, tx *txn.Tx, key string, value core.SimpleValue) (*core.AssocModel, error) {
	ids, err := b.ix.Lookup(ctx, tx.Graph(), core.KindAssoc, key, value.Raw())
	if err != nil {
		return nil, wrap("fetch assoc by value", err)
	}
	id, err := single(ids, "assoc "+key+"="+value.Text())
	if err != nil {
		return nil, err
	}
	return b.FetchAssoc(ctx, tx, id)
}

// FetchAssocsByValue returns every association indexed under key with value.
func (b *Bridge) FetchAssocsByValue(ctx context.Context, tx *txn.Tx, key string, value core.SimpleValue) ([]*core.AssocModel, error) {
	ids, err := b.ix.Lookup(ctx, tx.Graph(), core.KindAssoc, key, value.Raw())
	if err != nil {
		return nil, wrap("fetch assocs by value", err)
	}
	return b.fetchAssocs(ctx, tx, ids)
}

// FetchAssocsByType returns every association of the given type.
func (b *Bridge) FetchAssocsByType(ctx context.Context, tx *txn.Tx, typeURI string) ([]*core.AssocModel, error) {
	return b.FetchAssocsByValue(ctx, tx, index.KeyTypeURI, core.String(typeURI))
}

// Between selects associations connecting two given players.
type Between struct {
	TypeURI   core.Opt[string]
	Player1   core.PlayerRef
	Player2   core.PlayerRef
	RoleType1 core.Opt[string]
	RoleType2 core.Opt[string]
}

// FetchAssocsBetween answers q through the association metadata index. The
// players match in either order.
func (b *Bridge) FetchAssocsBetween(ctx context.Context, tx *txn.Tx, q Between) ([]*core.AssocModel, error) {
	defer observe("fetch_assocs_between")()
	ids, err := b.ix.QueryAssocs(ctx, tx.Graph(), index.AssocQuery{
		AssocTypeURI: q.TypeURI,
		Player1: index.PlayerFilter{
			ID:          core.Some(q.Player1.ID),
			Kind:        core.Some(q.Player1.Kind),
			RoleTypeURI: q.RoleType1,
		},
		Player2: index.PlayerFilter{
			ID:          core.Some(q.Player2.ID),
			Kind:        core.Some(q.Player2.Kind),
			RoleTypeURI: q.RoleType2,
		},
	})
	if err != nil {
		return nil, wrap("fetch assocs between", err)
	}
	return b.fetchAssocs(ctx, tx, ids)
}

// FetchAssocBetween is FetchAssocsBetween for callers that expect at most one
// result. It returns nil when there is none.
func (b *Bridge) FetchAssocBetween(ctx context.Context, tx *txn.Tx, q Between) (*core.AssocModel, error) {
	assocs, err := b.FetchAssocsBetween(ctx, tx, q)
	if err != nil {
		return nil, err
	}
	switch len(assocs) {
	case 0:
		return nil, nil
	case 1:
		return assocs[0], nil
	}
	return nil, core.Ambiguousf("%d associations between %v and %v", len(assocs), q.Player1, q.Player2)
}

// FetchAssocs returns every association the object plays in.
func (b *Bridge) FetchAssocs(ctx context.Context, tx *txn.Tx, ref core.PlayerRef) ([]*core.AssocModel, error) {
	edges, err := tx.Graph().Edges(ctx, ref.ID, zeroFilter)
	if err != nil {
		return nil, wrap("fetch assocs", err)
	}
	assocs := make([]*core.AssocModel, 0, len(edges))
	for _, e := range edges {
		a, err := b.assocFromElement(ctx, tx, e)
		if err != nil {
			return nil, err
		}
		assocs = append(assocs, a)
	}
	return assocs, nil
}

// StoreAssocURI changes the URI of an association.
func (b *Bridge) StoreAssocURI(ctx context.Context, tx *txn.Tx, id int64, uri string) error {
	return b.storeURI(ctx, tx, core.AssocRef(id), uri)
}

// StoreAssocTypeURI changes the type URI of an association, including its
// metadata index entry.
func (b *Bridge) StoreAssocTypeURI(ctx context.Context, tx *txn.Tx, id int64, typeURI string) error {
	return b.storeTypeURI(ctx, tx, core.AssocRef(id), typeURI)
}

// StoreRoleTypeURI changes the role of one player. A player occupying both
// ends is ambiguous.
func (b *Bridge) StoreRoleTypeURI(ctx context.Context, tx *txn.Tx, assocID int64, player core.PlayerRef, roleTypeURI string) error {
	g := tx.Graph()
	el, err := fetchElement(ctx, g, assocID, core.KindAssoc)
	if err != nil {
		return err
	}
	position := 0
	for i, end := range el.Ends {
		if end.ID != player.ID || objectKind(end.Kind) != player.Kind {
			continue
		}
		if position != 0 {
			return core.Ambiguousf("%v plays both ends of assoc %d", player, assocID)
		}
		position = i + 1
	}
	if position == 0 {
		return core.NotFoundf("%v is not a player of assoc %d", player, assocID)
	}
	if err := g.SetRole(ctx, assocID, position, roleTypeURI); err != nil {
		return wrap("store role type", err)
	}
	return wrap("reindex role type", b.ix.ReindexRoleType(ctx, g, assocID, position, roleTypeURI))
}

// DeleteAssoc removes the association, its indexes and the endpoint rows of
// associations that reference it.
func (b *Bridge) DeleteAssoc(ctx context.Context, tx *txn.Tx, id int64) error {
	defer observe("delete_assoc")()
	g := tx.Graph()
	el, err := g.Fetch(ctx, id)
	switch {
	case errors.Is(err, graph.ErrDangling):
		// an edge that lost a player can still be removed
	case err != nil:
		return wrap("delete assoc", err)
	case el.Kind != graph.KindEdge:
		return core.NotFoundf("%d is not an assoc", id)
	}
	if err := g.Delete(ctx, id); err != nil {
		return wrap("delete assoc", err)
	}
	metrics.ObjectsDeletedTotal.WithLabelValues(core.KindAssoc.String()).Inc()
	return nil
}
