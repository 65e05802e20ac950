package storage

import (
	"context"
	"slices"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/graph"
	"github.com/systemshift/dmx/internal/server/txn"
)

var zeroFilter graph.AdjacencyFilter

// RelatedQuery narrows a traversal. Absent filters do not constrain. A present
// but empty AssocTypeURIs list matches nothing.
type RelatedQuery struct {
	AssocTypeURIs     core.Opt[[]string]
	MyRoleTypeURI     core.Opt[string]
	OthersRoleTypeURI core.Opt[string]
	OthersTypeURI     core.Opt[string]
	// Limit bounds the returned items; 0 means unbounded.
	Limit int
}

// AssocType is a query for one association type.
func AssocType(uri string) core.Opt[[]string] { return core.Some([]string{uri}) }

// hop is one step from an anchor object across an association.
type hop struct {
	assoc *core.AssocModel
	other core.PlayerModel
}

// hops enumerates the associations the anchor plays in and applies the
// association-level filters in memory. Results are ordered by association id.
func (b *Bridge) hops(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, othersKind core.ObjectKind, q RelatedQuery) ([]hop, error) {
	filter := graph.AdjacencyFilter{OthersKind: graphKind(othersKind)}
	if role, ok := q.MyRoleTypeURI.Get(); ok {
		filter.Role = role
	}
	edges, err := tx.Graph().Edges(ctx, ref.ID, filter)
	if err != nil {
		return nil, wrap("adjacency", err)
	}

	assocTypes, filterTypes := q.AssocTypeURIs.Get()
	var out []hop
	for _, e := range edges {
		a, err := b.assocFromElement(ctx, tx, e)
		if err != nil {
			return nil, err
		}
		if filterTypes && !slices.Contains(assocTypes, a.TypeURI) {
			continue
		}
		// a self-loop yields the anchor once from each end
		for i, me := range a.Players() {
			if me.Ref != ref {
				continue
			}
			if role, ok := q.MyRoleTypeURI.Get(); ok && me.RoleTypeURI != role {
				continue
			}
			other := a.Players()[1-i]
			if other.Ref.Kind != othersKind {
				continue
			}
			if role, ok := q.OthersRoleTypeURI.Get(); ok && other.RoleTypeURI != role {
				continue
			}
			out = append(out, hop{assoc: a, other: other})
		}
	}
	return out, nil
}

// GetRelatedTopics returns the topics reachable from ref across one
// association. TotalCount is the number of matches before Limit applies.
func (b *Bridge) GetRelatedTopics(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, q RelatedQuery) (core.RelatedTopics, error) {
	defer observe("related_topics")()
	hops, err := b.hops(ctx, tx, ref, core.KindTopic, q)
	if err != nil {
		return core.RelatedTopics{}, err
	}
	var items []*core.RelatedTopic
	for _, h := range hops {
		t, err := b.FetchTopic(ctx, tx, h.other.Ref.ID)
		if err != nil {
			return core.RelatedTopics{}, err
		}
		if typeURI, ok := q.OthersTypeURI.Get(); ok && t.TypeURI != typeURI {
			continue
		}
		items = append(items, &core.RelatedTopic{Topic: t, Assoc: h.assoc})
	}
	res := core.RelatedTopics{TotalCount: len(items), Items: items}
	if q.Limit > 0 && len(res.Items) > q.Limit {
		res.Items = res.Items[:q.Limit]
	}
	if res.Items == nil {
		res.Items = []*core.RelatedTopic{}
	}
	return res, nil
}

// GetRelatedTopic returns the single related topic, nil when there is none.
func (b *Bridge) GetRelatedTopic(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, q RelatedQuery) (*core.RelatedTopic, error) {
	q.Limit = 0
	res, err := b.GetRelatedTopics(ctx, tx, ref, q)
	if err != nil {
		return nil, err
	}
	switch res.TotalCount {
	case 0:
		return nil, nil
	case 1:
		return res.Items[0], nil
	}
	return nil, core.Ambiguousf("%v has %d related topics where one was expected", ref, res.TotalCount)
}

// GetRelatedAssocs returns the associations reachable from ref across one
// association (associations of associations).
func (b *Bridge) GetRelatedAssocs(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, q RelatedQuery) (core.RelatedAssocs, error) {
	defer observe("related_assocs")()
	hops, err := b.hops(ctx, tx, ref, core.KindAssoc, q)
	if err != nil {
		return core.RelatedAssocs{}, err
	}
	var items []*core.RelatedAssoc
	for _, h := range hops {
		a, err := b.FetchAssoc(ctx, tx, h.other.Ref.ID)
		if err != nil {
			return core.RelatedAssocs{}, err
		}
		if typeURI, ok := q.OthersTypeURI.Get(); ok && a.TypeURI != typeURI {
			continue
		}
		items = append(items, &core.RelatedAssoc{Assoc: a, Via: h.assoc})
	}
	res := core.RelatedAssocs{TotalCount: len(items), Items: items}
	if q.Limit > 0 && len(res.Items) > q.Limit {
		res.Items = res.Items[:q.Limit]
	}
	if res.Items == nil {
		res.Items = []*core.RelatedAssoc{}
	}
	return res, nil
}

// GetRelatedAssoc returns the single related association, nil when there is
// none.
func (b *Bridge) GetRelatedAssoc(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, q RelatedQuery) (*core.RelatedAssoc, error) {
	q.Limit = 0
	res, err := b.GetRelatedAssocs(ctx, tx, ref, q)
	if err != nil {
		return nil, err
	}
	switch res.TotalCount {
	case 0:
		return nil, nil
	case 1:
		return res.Items[0], nil
	}
	return nil, core.Ambiguousf("%v has %d related assocs where one was expected", ref, res.TotalCount)
}
