package engine

import (
	"context"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/storage"
	"github.com/systemshift/dmx/internal/server/subscriptions"
	"github.com/systemshift/dmx/internal/server/txn"
)

func (e *Engine) createAssoc(ctx context.Context, tx *txn.Tx, m *core.AssocModel) error {
	if m.TypeURI == "" {
		m.TypeURI = core.AssociationURI
	}
	typ, err := e.typeByURI(ctx, tx, m.TypeURI)
	if err != nil {
		return err
	}
	if typ.TypeURI != core.AssocTypeURI {
		return core.Invalidf("%q is not an association type", m.TypeURI)
	}
	if err := e.b.CreateAssoc(ctx, tx, m); err != nil {
		return err
	}
	if m.TypeURI != core.InstantiationURI {
		if _, err := e.b.CreateInstantiation(ctx, tx, m.Ref(), m.TypeURI); err != nil {
			return err
		}
	}
	if err := e.writeValue(ctx, tx, m.Ref(), typ, &m.Value, m.Children); err != nil {
		return err
	}
	return e.fire(ctx, tx, subscriptions.AssocEvent(subscriptions.EventAssocCreated, m))
}

// CreateAssoc stores a new association, defaulting to the generic
// association type, and returns it as stored.
func (e *Engine) CreateAssoc(ctx context.Context, tx *txn.Tx, m *core.AssocModel) (*core.AssocModel, error) {
	if err := e.createAssoc(ctx, tx, m); err != nil {
		return nil, err
	}
	return e.GetAssoc(ctx, tx, m.ID, true)
}

// GetAssoc fetches an association, with its child tree when children is set.
func (e *Engine) GetAssoc(ctx context.Context, tx *txn.Tx, id int64, children bool) (*core.AssocModel, error) {
	a, err := e.b.FetchAssoc(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if children && a.TypeURI != core.InstantiationURI {
		typ, err := e.typeByURI(ctx, tx, a.TypeURI)
		if err != nil {
			return nil, err
		}
		if typ.IsComposite() {
			if a.Children, err = e.fetchChildren(ctx, tx, a.Ref(), typ, true); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// GetAssocByURI fetches the association with the given URI.
func (e *Engine) GetAssocByURI(ctx context.Context, tx *txn.Tx, uri string) (*core.AssocModel, error) {
	return e.b.FetchAssocByURI(ctx, tx, uri)
}

// GetAssocsByType fetches every association of a type.
func (e *Engine) GetAssocsByType(ctx context.Context, tx *txn.Tx, typeURI string) ([]*core.AssocModel, error) {
	return e.b.FetchAssocsByType(ctx, tx, typeURI)
}

// GetAssocsBetween fetches the associations connecting two objects.
func (e *Engine) GetAssocsBetween(ctx context.Context, tx *txn.Tx, q storage.Between) ([]*core.AssocModel, error) {
	return e.b.FetchAssocsBetween(ctx, tx, q)
}

// GetAssocBetween fetches the association connecting two objects, nil when
// there is none.
func (e *Engine) GetAssocBetween(ctx context.Context, tx *txn.Tx, q storage.Between) (*core.AssocModel, error) {
	return e.b.FetchAssocBetween(ctx, tx, q)
}

// GetAssocs fetches every association ref plays in.
func (e *Engine) GetAssocs(ctx context.Context, tx *txn.Tx, ref core.PlayerRef) ([]*core.AssocModel, error) {
	return e.b.FetchAssocs(ctx, tx, ref)
}

// UpdateAssoc applies the set fields of m: URI, type, player roles (players
// are matched by reference), value or children.
func (e *Engine) UpdateAssoc(ctx context.Context, tx *txn.Tx, m *core.AssocModel) (*core.AssocModel, error) {
	cur, err := e.b.FetchAssoc(ctx, tx, m.ID)
	if err != nil {
		return nil, err
	}
	if m.URI != "" && m.URI != cur.URI {
		if err := e.b.StoreAssocURI(ctx, tx, cur.ID, m.URI); err != nil {
			return nil, err
		}
	}

	typeURI := cur.TypeURI
	retyped := m.TypeURI != "" && m.TypeURI != cur.TypeURI
	if retyped {
		if cur.TypeURI == core.InstantiationURI || m.TypeURI == core.InstantiationURI {
			return nil, core.Invalidf("assoc %d cannot change between instantiation and %s", cur.ID, m.TypeURI)
		}
		typ, err := e.typeByURI(ctx, tx, m.TypeURI)
		if err != nil {
			return nil, err
		}
		if typ.TypeURI != core.AssocTypeURI {
			return nil, core.Invalidf("%q is not an association type", m.TypeURI)
		}
		if err := e.dropValueIndex(ctx, tx, cur.Ref(), cur.TypeURI); err != nil {
			return nil, err
		}
		if err := e.b.StoreAssocTypeURI(ctx, tx, cur.ID, m.TypeURI); err != nil {
			return nil, err
		}
		if err := e.b.ReplaceInstantiation(ctx, tx, cur.Ref(), m.TypeURI); err != nil {
			return nil, err
		}
		typeURI = m.TypeURI
	}

	for _, p := range m.Players() {
		if p.Ref.Kind == 0 || p.RoleTypeURI == "" {
			continue
		}
		var old string
		switch p.Ref {
		case cur.Player1.Ref:
			old = cur.Player1.RoleTypeURI
		case cur.Player2.Ref:
			old = cur.Player2.RoleTypeURI
		default:
			return nil, core.Invalidf("%v is not a player of assoc %d", p.Ref, cur.ID)
		}
		if old == p.RoleTypeURI {
			continue
		}
		if err := e.b.StoreRoleTypeURI(ctx, tx, cur.ID, p.Ref, p.RoleTypeURI); err != nil {
			return nil, err
		}
	}

	typ, err := e.typeByURI(ctx, tx, typeURI)
	if err != nil {
		return nil, err
	}
	switch {
	case typ.IsComposite():
		if m.Children.Len() > 0 || retyped {
			if err := e.writeValue(ctx, tx, cur.Ref(), typ, &m.Value, m.Children); err != nil {
				return nil, err
			}
		}
	case !m.Value.IsZero() && (!m.Value.Equal(cur.Value) || retyped):
		if err := e.writeValue(ctx, tx, cur.Ref(), typ, &m.Value, m.Children); err != nil {
			return nil, err
		}
	case retyped && !cur.Value.IsZero():
		if err := e.writeValue(ctx, tx, cur.Ref(), typ, &cur.Value, nil); err != nil {
			return nil, err
		}
	case m.Children.Len() > 0:
		return nil, core.Invalidf("%q is a simple type and takes no children", typ.URI)
	}

	updated, err := e.GetAssoc(ctx, tx, cur.ID, true)
	if err != nil {
		return nil, err
	}
	if err := e.fire(ctx, tx, subscriptions.AssocEvent(subscriptions.EventAssocUpdated, updated)); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteAssoc deletes an association with its composite children and the
// associations attached to it. A sequence member is unlinked first.
func (e *Engine) DeleteAssoc(ctx context.Context, tx *txn.Tx, id int64) error {
	if _, err := e.b.FetchAssoc(ctx, tx, id); err != nil {
		return err
	}
	return e.delete(ctx, tx, core.AssocRef(id))
}
