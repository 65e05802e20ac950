package engine

import (
	"context"
	"errors"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/storage"
	"github.com/systemshift/dmx/internal/server/subscriptions"
	"github.com/systemshift/dmx/internal/server/txn"
)

// referencedByURI reports whether topics of typeURI are referred to by their
// URI from other objects: types by their instances and comp defs, role types
// by association players, and the data type, index mode and cardinality
// topics by type definitions.
func referencedByURI(typeURI string) bool {
	if core.IsMetaType(typeURI) {
		return true
	}
	switch typeURI {
	case core.RoleTypeURI, core.DataTypeURI, core.IndexModeURI, core.CardinalityURI:
		return true
	}
	return false
}

// checkValue rejects values that do not fit the data type of a simple type.
func checkValue(typ *core.TypeModel, v core.SimpleValue) error {
	if v.IsZero() {
		return nil
	}
	ok := true
	switch typ.DataTypeURI {
	case core.DataTypeText:
		_, ok = v.Raw().(string)
	case core.DataTypeNumber:
		switch v.Raw().(type) {
		case int64, float64:
		default:
			ok = false
		}
	case core.DataTypeBoolean:
		_, ok = v.Raw().(bool)
	}
	if !ok {
		return core.Invalidf("value %v does not fit data type %s of %q", v.Raw(), typ.DataTypeURI, typ.URI)
	}
	return nil
}

// storeValue stores v and indexes it under the type URI with the type's
// index modes.
func (e *Engine) storeValue(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, typ *core.TypeModel, v core.SimpleValue) error {
	if err := e.b.StoreSimpleValue(ctx, tx, ref, v); err != nil {
		return err
	}
	return e.b.IndexValue(ctx, tx, ref, typ.URI, typ.IndexModes, v)
}

// dropValueIndex removes the index entries an object's value has under its
// current type. A type that no longer exists left nothing to remove.
func (e *Engine) dropValueIndex(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, typeURI string) error {
	typ, err := e.typeByURI(ctx, tx, typeURI)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.b.IndexValue(ctx, tx, ref, typ.URI, typ.IndexModes, core.SimpleValue{})
}

// writeValue stores the value of a new or updated object: composites get
// their children written and their label computed, simple objects their
// value. *value is updated to what was stored.
func (e *Engine) writeValue(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, typ *core.TypeModel, value *core.SimpleValue, children *core.ChildTopics) error {
	if typ.IsComposite() {
		if children.Len() > 0 {
			if err := e.writeChildren(ctx, tx, ref, typ, children); err != nil {
				return err
			}
		}
		v, err := e.relabel(ctx, tx, ref, typ)
		if err != nil {
			return err
		}
		*value = v
		return nil
	}
	if children.Len() > 0 {
		return core.Invalidf("%q is a simple type and takes no children", typ.URI)
	}
	if value.IsZero() {
		return nil
	}
	if err := checkValue(typ, *value); err != nil {
		return err
	}
	return e.storeValue(ctx, tx, ref, typ, *value)
}

func (e *Engine) createTopic(ctx context.Context, tx *txn.Tx, m *core.TopicModel) error {
	if m.TypeURI == "" {
		return core.Invalidf("topic %q has no type", m.URI)
	}
	typ, err := e.typeByURI(ctx, tx, m.TypeURI)
	if err != nil {
		return err
	}
	if err := e.b.CreateTopic(ctx, tx, m); err != nil {
		return err
	}
	if _, err := e.b.CreateInstantiation(ctx, tx, m.Ref(), m.TypeURI); err != nil {
		return err
	}
	if err := e.writeValue(ctx, tx, m.Ref(), typ, &m.Value, m.Children); err != nil {
		return err
	}
	return e.fire(ctx, tx, subscriptions.TopicEvent(subscriptions.EventTopicCreated, m))
}

// CreateTopic stores a new topic together with its children and returns the
// stored topic. m.ID is set, and the children of m carry their stored state.
func (e *Engine) CreateTopic(ctx context.Context, tx *txn.Tx, m *core.TopicModel) (*core.TopicModel, error) {
	if err := e.createTopic(ctx, tx, m); err != nil {
		return nil, err
	}
	return e.GetTopic(ctx, tx, m.ID, true)
}

// GetTopic fetches a topic, with its child tree when children is set.
func (e *Engine) GetTopic(ctx context.Context, tx *txn.Tx, id int64, children bool) (*core.TopicModel, error) {
	t, err := e.b.FetchTopic(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if children {
		if err := e.loadChildren(ctx, tx, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// GetTopicByURI fetches the topic with the given URI.
func (e *Engine) GetTopicByURI(ctx context.Context, tx *txn.Tx, uri string, children bool) (*core.TopicModel, error) {
	t, err := e.b.FetchTopicByURI(ctx, tx, uri)
	if err != nil {
		return nil, err
	}
	if children {
		if err := e.loadChildren(ctx, tx, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// GetTopicByValue fetches the one topic indexed under key with value.
func (e *Engine) GetTopicByValue(ctx context.Context, tx *txn.Tx, key string, value core.SimpleValue) (*core.TopicModel, error) {
	return e.b.FetchTopicByValue(ctx, tx, key, value)
}

// GetTopicsByValue fetches every topic indexed under key with value.
func (e *Engine) GetTopicsByValue(ctx context.Context, tx *txn.Tx, key string, value core.SimpleValue) ([]*core.TopicModel, error) {
	return e.b.FetchTopicsByValue(ctx, tx, key, value)
}

// GetTopicsByType fetches every topic of a type.
func (e *Engine) GetTopicsByType(ctx context.Context, tx *txn.Tx, typeURI string) ([]*core.TopicModel, error) {
	if _, err := e.typeByURI(ctx, tx, typeURI); err != nil {
		return nil, err
	}
	return e.b.FetchTopicsByType(ctx, tx, typeURI)
}

// SearchTopics runs a fulltext query, optionally restricted to one key.
func (e *Engine) SearchTopics(ctx context.Context, tx *txn.Tx, query string, key core.Opt[string]) ([]*core.TopicModel, error) {
	return e.b.QueryTopicsFulltext(ctx, tx, query, key)
}

// updateTopic applies the set fields of m to the stored topic: URI, type,
// value (simple types) or children (composites). Zero fields are left alone.
func (e *Engine) updateTopic(ctx context.Context, tx *txn.Tx, m *core.TopicModel) (*core.TopicModel, error) {
	cur, err := e.b.FetchTopic(ctx, tx, m.ID)
	if err != nil {
		return nil, err
	}
	if core.IsMetaType(cur.TypeURI) {
		e.touchType(tx, cur.URI, m.URI)
	}
	if m.URI != "" && m.URI != cur.URI {
		if referencedByURI(cur.TypeURI) {
			return nil, core.Invalidf("%q is referenced by its URI and cannot be renamed", cur.URI)
		}
		if err := e.b.StoreTopicURI(ctx, tx, cur.ID, m.URI); err != nil {
			return nil, err
		}
	}

	typeURI := cur.TypeURI
	retyped := m.TypeURI != "" && m.TypeURI != cur.TypeURI
	if retyped {
		if _, err := e.typeByURI(ctx, tx, m.TypeURI); err != nil {
			return nil, err
		}
		if err := e.dropValueIndex(ctx, tx, cur.Ref(), cur.TypeURI); err != nil {
			return nil, err
		}
		if err := e.b.StoreTopicTypeURI(ctx, tx, cur.ID, m.TypeURI); err != nil {
			return nil, err
		}
		if err := e.b.ReplaceInstantiation(ctx, tx, cur.Ref(), m.TypeURI); err != nil {
			return nil, err
		}
		typeURI = m.TypeURI
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

	updated, err := e.b.FetchTopic(ctx, tx, cur.ID)
	if err != nil {
		return nil, err
	}
	if err := e.fire(ctx, tx, subscriptions.TopicEvent(subscriptions.EventTopicUpdated, updated)); err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateTopic applies m to the stored topic and refreshes the labels of the
// composites containing it.
func (e *Engine) UpdateTopic(ctx context.Context, tx *txn.Tx, m *core.TopicModel) (*core.TopicModel, error) {
	t, err := e.updateTopic(ctx, tx, m)
	if err != nil {
		return nil, err
	}
	if err := e.relabelParents(ctx, tx, t.Ref(), map[core.PlayerRef]bool{}); err != nil {
		return nil, err
	}
	return e.GetTopic(ctx, tx, t.ID, true)
}

// DeleteTopic deletes a topic with its composite children and every
// association it plays in.
func (e *Engine) DeleteTopic(ctx context.Context, tx *txn.Tx, id int64) error {
	if _, err := e.b.FetchTopic(ctx, tx, id); err != nil {
		return err
	}
	return e.delete(ctx, tx, core.TopicRef(id))
}

// GetRelatedTopics traverses one association hop from ref to topics.
func (e *Engine) GetRelatedTopics(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, q storage.RelatedQuery) (core.RelatedTopics, error) {
	return e.b.GetRelatedTopics(ctx, tx, ref, q)
}

// GetRelatedAssocs traverses one association hop from ref to associations.
func (e *Engine) GetRelatedAssocs(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, q storage.RelatedQuery) (core.RelatedAssocs, error) {
	return e.b.GetRelatedAssocs(ctx, tx, ref, q)
}
