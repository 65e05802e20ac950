// Package index maintains the exact, fulltext and association metadata
// indexes on top of a graph store transaction.
package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/graph"
	"github.com/systemshift/dmx/internal/server/metrics"
)

// Index names. Topics and associations have separate exact and fulltext
// indexes; the metadata index only holds associations.
const (
	TopicIndex         = "topic"
	AssocIndex         = "assoc"
	AssocMetadataIndex = "assoc_metadata"
)

// Reserved keys.
const (
	// FulltextKey is shared by every FULLTEXT-indexed value of one object kind,
	// so a single query spans all of them.
	FulltextKey = "_fulltext_"
	KeyURI      = "uri"
	KeyTypeURI  = "type_uri"
)

// Association metadata fields.
const (
	fieldAssocType  = "assoc_type"
	fieldRoleType   = "role_type_"
	fieldPlayerKind = "player_kind_"
	fieldPlayerID   = "player_id_"
	fieldPlayerType = "player_type_"
)

// Name returns the exact/fulltext index name of an object kind.
func Name(kind core.ObjectKind) string {
	if kind == core.KindAssoc {
		return AssocIndex
	}
	return TopicIndex
}

// Indexer writes and queries indexes. It holds no state of its own; every
// call works inside the caller's transaction.
type Indexer struct {
	log zerolog.Logger
}

// New returns an indexer.
func New(log zerolog.Logger) *Indexer {
	return &Indexer{log: log}
}

// IndexValue indexes value under key for every mode. Each mode first removes
// whatever the object had indexed under that key, then adds the new entry,
// so an old and a new value are never indexed at the same time.
func (ix *Indexer) IndexValue(ctx context.Context, g graph.Tx, kind core.ObjectKind, id int64, key string, modes []core.IndexMode, value core.SimpleValue) error {
	name := Name(kind)
	for _, mode := range modes {
		var err error
		switch mode {
		case core.IndexOff:
			continue
		case core.IndexKey:
			err = ix.putExact(ctx, g, name, key, value, id)
		case core.IndexFulltext:
			err = ix.putFulltext(ctx, g, name, FulltextKey, value, id)
		case core.IndexFulltextKey:
			err = ix.putFulltext(ctx, g, name, key, value, id)
		default:
			err = fmt.Errorf("unknown index mode %v", mode)
		}
		if err != nil {
			return fmt.Errorf("indexing %s %d under %s (%s): %w", kind, id, key, mode, err)
		}
		metrics.IndexWritesTotal.WithLabelValues(mode.String()).Inc()
	}
	return nil
}

func (ix *Indexer) putExact(ctx context.Context, g graph.Tx, name, key string, value core.SimpleValue, id int64) error {
	if err := g.IndexRemove(ctx, name, key, id); err != nil {
		return err
	}
	if value.IsZero() {
		return nil
	}
	return g.IndexPut(ctx, name, key, value.Raw(), id)
}

func (ix *Indexer) putFulltext(ctx context.Context, g graph.Tx, name, key string, value core.SimpleValue, id int64) error {
	if err := g.FulltextRemove(ctx, name, key, id); err != nil {
		return err
	}
	text := value.Text()
	if text == "" {
		return nil
	}
	return g.FulltextPut(ctx, name, key, text, id)
}

// IndexURI replaces the URI entry of an object. An empty URI is not indexed.
func (ix *Indexer) IndexURI(ctx context.Context, g graph.Tx, kind core.ObjectKind, id int64, uri string) error {
	var v core.SimpleValue
	if uri != "" {
		v = core.String(uri)
	}
	if err := ix.putExact(ctx, g, Name(kind), KeyURI, v, id); err != nil {
		return fmt.Errorf("indexing uri of %s %d: %w", kind, id, err)
	}
	metrics.IndexWritesTotal.WithLabelValues(KeyURI).Inc()
	return nil
}

// IndexTypeURI replaces the type URI entry of an object.
func (ix *Indexer) IndexTypeURI(ctx context.Context, g graph.Tx, kind core.ObjectKind, id int64, typeURI string) error {
	var v core.SimpleValue
	if typeURI != "" {
		v = core.String(typeURI)
	}
	if err := ix.putExact(ctx, g, Name(kind), KeyTypeURI, v, id); err != nil {
		return fmt.Errorf("indexing type uri of %s %d: %w", kind, id, err)
	}
	metrics.IndexWritesTotal.WithLabelValues(KeyTypeURI).Inc()
	return nil
}

// Lookup returns the ids indexed under key with exactly value.
func (ix *Indexer) Lookup(ctx context.Context, g graph.Tx, kind core.ObjectKind, key string, value any) ([]int64, error) {
	ids, err := g.IndexGet(ctx, Name(kind), key, value)
	if err != nil {
		return nil, fmt.Errorf("looking up %s %s=%v: %w", kind, key, value, err)
	}
	return ids, nil
}

// QueryFulltext searches FULLTEXT_KEY entries of key, or the shared FULLTEXT
// entries when key is absent.
func (ix *Indexer) QueryFulltext(ctx context.Context, g graph.Tx, kind core.ObjectKind, key core.Opt[string], query string) ([]int64, error) {
	k := key.Or(FulltextKey)
	ids, err := g.FulltextQuery(ctx, Name(kind), k, query)
	if err != nil {
		return nil, fmt.Errorf("fulltext query %s %s %q: %w", kind, k, query, err)
	}
	return ids, nil
}

// PlayerMeta is the indexed description of one association end.
type PlayerMeta struct {
	RoleTypeURI string
	Kind        core.ObjectKind
	ID          int64
	TypeURI     string
}

// AssocMetadata is the indexed description of one association.
type AssocMetadata struct {
	AssocID      int64
	AssocTypeURI string
	Players      [2]PlayerMeta
}

// IndexAssocMetadata (re)writes every metadata field of an association.
func (ix *Indexer) IndexAssocMetadata(ctx context.Context, g graph.Tx, meta AssocMetadata) error {
	if err := ix.metaPut(ctx, g, meta.AssocID, fieldAssocType, meta.AssocTypeURI); err != nil {
		return err
	}
	for i, p := range meta.Players {
		n := fmt.Sprint(i + 1)
		fields := []struct {
			field string
			value any
		}{
			{fieldRoleType + n, p.RoleTypeURI},
			{fieldPlayerKind + n, p.Kind.String()},
			{fieldPlayerID + n, p.ID},
			{fieldPlayerType + n, p.TypeURI},
		}
		for _, f := range fields {
			if err := ix.metaPut(ctx, g, meta.AssocID, f.field, f.value); err != nil {
				return err
			}
		}
	}
	metrics.IndexWritesTotal.WithLabelValues(AssocMetadataIndex).Inc()
	return nil
}

// ReindexAssocType rewrites the association type field.
func (ix *Indexer) ReindexAssocType(ctx context.Context, g graph.Tx, assocID int64, typeURI string) error {
	return ix.metaPut(ctx, g, assocID, fieldAssocType, typeURI)
}

// ReindexRoleType rewrites the role type field of one player position (1 or 2).
func (ix *Indexer) ReindexRoleType(ctx context.Context, g graph.Tx, assocID int64, position int, roleTypeURI string) error {
	return ix.metaPut(ctx, g, assocID, fieldRoleType+fmt.Sprint(position), roleTypeURI)
}

// ReindexPlayerType rewrites the player type field of one player position
// (1 or 2) after the player's type changed.
func (ix *Indexer) ReindexPlayerType(ctx context.Context, g graph.Tx, assocID int64, position int, typeURI string) error {
	return ix.metaPut(ctx, g, assocID, fieldPlayerType+fmt.Sprint(position), typeURI)
}

func (ix *Indexer) metaPut(ctx context.Context, g graph.Tx, assocID int64, field string, value any) error {
	if err := g.IndexRemove(ctx, AssocMetadataIndex, field, assocID); err != nil {
		return fmt.Errorf("unindexing %s of assoc %d: %w", field, assocID, err)
	}
	if s, ok := value.(string); ok && s == "" {
		return nil
	}
	if err := g.IndexPut(ctx, AssocMetadataIndex, field, value, assocID); err != nil {
		return fmt.Errorf("indexing %s of assoc %d: %w", field, assocID, err)
	}
	return nil
}

// PlayerFilter constrains one end of an association. Absent fields do not
// constrain.
type PlayerFilter struct {
	ID          core.Opt[int64]
	Kind        core.Opt[core.ObjectKind]
	RoleTypeURI core.Opt[string]
	TypeURI     core.Opt[string]
}

func (f PlayerFilter) fields(position int) map[string]any {
	n := fmt.Sprint(position)
	m := make(map[string]any)
	if v, ok := f.ID.Get(); ok {
		m[fieldPlayerID+n] = v
	}
	if v, ok := f.Kind.Get(); ok {
		m[fieldPlayerKind+n] = v.String()
	}
	if v, ok := f.RoleTypeURI.Get(); ok {
		m[fieldRoleType+n] = v
	}
	if v, ok := f.TypeURI.Get(); ok {
		m[fieldPlayerType+n] = v
	}
	return m
}

// AssocQuery selects associations through the metadata index. The two player
// filters match in either order.
type AssocQuery struct {
	AssocTypeURI core.Opt[string]
	Player1      PlayerFilter
	Player2      PlayerFilter
}

// QueryAssocs answers q as the intersection of index lookups, once per player
// orientation. At least one field must be constrained.
func (ix *Indexer) QueryAssocs(ctx context.Context, g graph.Tx, q AssocQuery) ([]int64, error) {
	found := make(map[int64]bool)
	for _, orient := range [2][2]PlayerFilter{{q.Player1, q.Player2}, {q.Player2, q.Player1}} {
		fields := orient[0].fields(1)
		for k, v := range orient[1].fields(2) {
			fields[k] = v
		}
		if t, ok := q.AssocTypeURI.Get(); ok {
			fields[fieldAssocType] = t
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("association query without constraints")
		}

		ids, err := ix.intersect(ctx, g, fields)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			found[id] = true
		}
	}

	out := make([]int64, 0, len(found))
	for id := range found {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (ix *Indexer) intersect(ctx context.Context, g graph.Tx, fields map[string]any) ([]int64, error) {
	// deterministic lookup order
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var acc map[int64]bool
	for _, k := range keys {
		ids, err := g.IndexGet(ctx, AssocMetadataIndex, k, fields[k])
		if err != nil {
			return nil, fmt.Errorf("querying %s: %w", k, err)
		}
		next := make(map[int64]bool, len(ids))
		for _, id := range ids {
			if acc == nil || acc[id] {
				next[id] = true
			}
		}
		acc = next
		if len(acc) == 0 {
			return nil, nil
		}
	}

	out := make([]int64, 0, len(acc))
	for id := range acc {
		out = append(out, id)
	}
	return out, nil
}
