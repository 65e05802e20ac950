package storage

import (
	"context"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/index"
	"github.com/systemshift/dmx/internal/server/metrics"
	"github.com/systemshift/dmx/internal/server/txn"
)

// CreateTopic stores a new topic with its URI, type URI and an empty value,
// and sets m.ID. Children and the final value are the caller's job.
func (b *Bridge) CreateTopic(ctx context.Context, tx *txn.Tx, m *core.TopicModel) error {
	defer observe("create_topic")()
	if m.TypeURI == "" {
		return core.Invalidf("topic %q has no type", m.URI)
	}
	if err := b.CheckURIUnique(ctx, tx, m.URI, core.None[core.PlayerRef]()); err != nil {
		return err
	}
	id, err := tx.Graph().CreateNode(ctx)
	if err != nil {
		return wrap("create topic", err)
	}
	if err := b.storeNewObject(ctx, tx, core.KindTopic, id, m.URI, m.TypeURI); err != nil {
		return err
	}
	m.ID = id
	tx.Logger().Debug().Int64("id", id).Str("type", m.TypeURI).Str("uri", m.URI).Msg("topic created")
	return nil
}

// FetchTopic returns the stored topic without children.
func (b *Bridge) FetchTopic(ctx context.Context, tx *txn.Tx, id int64) (*core.TopicModel, error) {
	defer observe("fetch_topic")()
	if _, err := fetchElement(ctx, tx.Graph(), id, core.KindTopic); err != nil {
		return nil, err
	}
	p, err := readProps(ctx, tx.Graph(), id)
	if err != nil {
		return nil, err
	}
	return &core.TopicModel{ID: id, URI: p.uri, TypeURI: p.typeURI, Value: p.value}, nil
}

func (b *Bridge) fetchTopics(ctx context.Context, tx *txn.Tx, ids []int64) ([]*core.TopicModel, error) {
	topics := make([]*core.TopicModel, 0, len(ids))
	for _, id := range ids {
		t, err := b.FetchTopic(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, nil
}

// FetchTopicByURI returns the topic with the given URI.
func (b *Bridge) FetchTopicByURI(ctx context.Context, tx *txn.Tx, uri string) (*core.TopicModel, error) {
	return b.FetchTopicByValue(ctx, tx, index.KeyURI, core.String(uri))
}

// FetchTopicByValue returns the one topic indexed under key with value. More
// than one match is an error, never resolved silently.
func (b *Bridge) FetchTopicByValue(ctx context.Context, tx *txn.Tx, key string, value core.SimpleValue) (*core.TopicModel, error) {
	ids, err := b.ix.Lookup(ctx, tx.Graph(), core.KindTopic, key, value.Raw())
	if err != nil {
		return nil, wrap("fetch topic by value", err)
	}
	id, err := single(ids, "topic "+key+"="+value.Text())
	if err != nil {
		return nil, err
	}
	return b.FetchTopic(ctx, tx, id)
}

// FetchTopicsByValue returns every topic indexed under key with value.
func (b *Bridge) FetchTopicsByValue(ctx context.Context, tx *txn.Tx, key string, value core.SimpleValue) ([]*core.TopicModel, error) {
	ids, err := b.ix.Lookup(ctx, tx.Graph(), core.KindTopic, key, value.Raw())
	if err != nil {
		return nil, wrap("fetch topics by value", err)
	}
	return b.fetchTopics(ctx, tx, ids)
}

// FetchTopicsByType returns every topic of the given type.
func (b *Bridge) FetchTopicsByType(ctx context.Context, tx *txn.Tx, typeURI string) ([]*core.TopicModel, error) {
	return b.FetchTopicsByValue(ctx, tx, index.KeyTypeURI, core.String(typeURI))
}

// QueryTopicsFulltext searches topic values. Without a key the shared
// fulltext entries are searched.
func (b *Bridge) QueryTopicsFulltext(ctx context.Context, tx *txn.Tx, query string, key core.Opt[string]) ([]*core.TopicModel, error) {
	defer observe("query_fulltext")()
	ids, err := b.ix.QueryFulltext(ctx, tx.Graph(), core.KindTopic, key, query)
	if err != nil {
		return nil, wrap("query fulltext", err)
	}
	return b.fetchTopics(ctx, tx, ids)
}

// StoreTopicURI changes the URI of a topic.
func (b *Bridge) StoreTopicURI(ctx context.Context, tx *txn.Tx, id int64, uri string) error {
	return b.storeURI(ctx, tx, core.TopicRef(id), uri)
}

func (b *Bridge) storeURI(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, uri string) error {
	if _, err := fetchElement(ctx, tx.Graph(), ref.ID, ref.Kind); err != nil {
		return err
	}
	if err := b.CheckURIUnique(ctx, tx, uri, core.Some(ref)); err != nil {
		return err
	}
	g := tx.Graph()
	var err error
	if uri == "" {
		err = g.RemoveProperty(ctx, ref.ID, propURI)
	} else {
		err = g.SetProperty(ctx, ref.ID, propURI, uri)
	}
	if err != nil {
		return wrap("store uri", err)
	}
	return wrap("index uri", b.ix.IndexURI(ctx, g, ref.Kind, ref.ID, uri))
}

// StoreTopicTypeURI changes the type URI property of a topic and re-indexes
// the player type of every association the topic plays in. The instantiation
// edge is the caller's job.
func (b *Bridge) StoreTopicTypeURI(ctx context.Context, tx *txn.Tx, id int64, typeURI string) error {
	return b.storeTypeURI(ctx, tx, core.TopicRef(id), typeURI)
}

func (b *Bridge) storeTypeURI(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, typeURI string) error {
	g := tx.Graph()
	if _, err := fetchElement(ctx, g, ref.ID, ref.Kind); err != nil {
		return err
	}
	if err := g.SetProperty(ctx, ref.ID, propTypeURI, typeURI); err != nil {
		return wrap("store type uri", err)
	}
	if err := b.ix.IndexTypeURI(ctx, g, ref.Kind, ref.ID, typeURI); err != nil {
		return wrap("index type uri", err)
	}
	if ref.Kind == core.KindAssoc {
		if err := b.ix.ReindexAssocType(ctx, g, ref.ID, typeURI); err != nil {
			return wrap("reindex assoc type", err)
		}
	}

	edges, err := g.Edges(ctx, ref.ID, zeroFilter)
	if err != nil {
		return wrap("incident assocs", err)
	}
	for _, e := range edges {
		for i, end := range e.Ends {
			if end.ID != ref.ID {
				continue
			}
			if err := b.ix.ReindexPlayerType(ctx, g, e.ID, i+1, typeURI); err != nil {
				return wrap("reindex player type", err)
			}
		}
	}
	return nil
}

// DeleteTopic removes the topic, its indexes and the endpoint rows that
// reference it. Cascading to children and associations is the caller's job.
func (b *Bridge) DeleteTopic(ctx context.Context, tx *txn.Tx, id int64) error {
	defer observe("delete_topic")()
	if _, err := fetchElement(ctx, tx.Graph(), id, core.KindTopic); err != nil {
		return err
	}
	if err := tx.Graph().Delete(ctx, id); err != nil {
		return wrap("delete topic", err)
	}
	metrics.ObjectsDeletedTotal.WithLabelValues(core.KindTopic.String()).Inc()
	return nil
}
