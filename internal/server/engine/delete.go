package engine

import (
	"context"
	"errors"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/sequence"
	"github.com/systemshift/dmx/internal/server/storage"
	"github.com/systemshift/dmx/internal/server/subscriptions"
	"github.com/systemshift/dmx/internal/server/txn"
)

// deletion removes objects in depth. done remembers what this run already
// removed; objects that vanished as a side effect (sequence segments) are
// skipped when reached again.
type deletion struct {
	e    *Engine
	tx   *txn.Tx
	done map[core.PlayerRef]bool
}

func (e *Engine) delete(ctx context.Context, tx *txn.Tx, ref core.PlayerRef) error {
	d := &deletion{e: e, tx: tx, done: make(map[core.PlayerRef]bool)}
	return d.run(ctx, ref)
}

func (d *deletion) run(ctx context.Context, ref core.PlayerRef) error {
	if d.done[ref] {
		return nil
	}
	d.done[ref] = true
	b := d.e.b

	var (
		ev      subscriptions.Event
		typeURI string
	)
	switch ref.Kind {
	case core.KindTopic:
		t, err := b.FetchTopic(ctx, d.tx, ref.ID)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if t.ID == core.RootID {
			return core.Invalidf("the bootstrap root cannot be deleted")
		}
		if core.IsMetaType(t.TypeURI) {
			d.e.touchAllTypes(d.tx)
		}
		typeURI = t.TypeURI
		ev = subscriptions.TopicEvent(subscriptions.EventTopicDeleted, t)
	case core.KindAssoc:
		a, err := b.FetchAssoc(ctx, d.tx, ref.ID)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if a.TypeURI == core.CompositionDefURI || a.TypeURI == core.AggregationDefURI {
			d.e.touchAllTypes(d.tx)
		}
		typeURI = a.TypeURI
		ev = subscriptions.AssocEvent(subscriptions.EventAssocDeleted, a)
	default:
		return ref.Validate()
	}

	// owned children first
	children, err := d.ownedChildren(ctx, ref, typeURI)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := d.run(ctx, child); err != nil {
			return err
		}
	}

	if ref.Kind == core.KindAssoc {
		if err := sequence.Unlink(ctx, b, d.tx, ref.ID); err != nil {
			return err
		}
	}

	// then everything still attached, associations of associations included
	assocs, err := b.FetchAssocs(ctx, d.tx, ref)
	if err != nil {
		return err
	}
	for _, a := range assocs {
		if err := d.run(ctx, a.Ref()); err != nil {
			return err
		}
	}

	if ref.Kind == core.KindTopic {
		err = b.DeleteTopic(ctx, d.tx, ref.ID)
	} else {
		err = b.DeleteAssoc(ctx, d.tx, ref.ID)
	}
	if err != nil {
		return err
	}
	d.tx.Logger().Debug().Stringer("ref", ref).Str("type", typeURI).Msg("deleted")
	return d.e.fire(ctx, d.tx, ev)
}

// ownedChildren lists the topics ref holds through composition: generic
// composition associations plus the custom association types its type
// declares for composition comp defs.
func (d *deletion) ownedChildren(ctx context.Context, ref core.PlayerRef, typeURI string) ([]core.PlayerRef, error) {
	assocTypes := []string{core.CompositionURI}
	if typeURI != core.InstantiationURI {
		typ, err := d.e.typeByURI(ctx, d.tx, typeURI)
		switch {
		case errors.Is(err, core.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			for _, cd := range typ.CompDefs {
				if !cd.Aggregation && cd.CustomAssocTypeURI != "" {
					assocTypes = append(assocTypes, cd.CustomAssocTypeURI)
				}
			}
		}
	}
	res, err := d.e.b.GetRelatedTopics(ctx, d.tx, ref, storage.RelatedQuery{
		AssocTypeURIs:     core.Some(assocTypes),
		MyRoleTypeURI:     core.Some(core.ParentRoleURI),
		OthersRoleTypeURI: core.Some(core.ChildRoleURI),
	})
	if err != nil {
		return nil, err
	}
	refs := make([]core.PlayerRef, 0, len(res.Items))
	for _, rt := range res.Items {
		refs = append(refs, rt.Topic.Ref())
	}
	return refs, nil
}
