// Package storage translates topics and associations into graph store
// elements and back. It owns URI uniqueness, type resolution and traversal.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/graph"
	"github.com/systemshift/dmx/internal/server/index"
	"github.com/systemshift/dmx/internal/server/metrics"
	"github.com/systemshift/dmx/internal/server/txn"
)

// Property keys of stored elements.
const (
	propURI         = "uri"
	propTypeURI     = "type_uri"
	propValue       = "value"
	propWorkspace   = "workspace_id"
	propMigrationNr = "migration_nr"
)

// Bridge maps the object model onto a graph store. It keeps no state between
// calls; everything happens inside the caller's transaction.
type Bridge struct {
	ix  *index.Indexer
	log zerolog.Logger
}

// New returns a bridge that indexes through ix.
func New(ix *index.Indexer, log zerolog.Logger) *Bridge {
	return &Bridge{ix: ix, log: log}
}

// Indexer returns the indexer used by the bridge.
func (b *Bridge) Indexer() *index.Indexer { return b.ix }

func observe(op string) func() {
	start := time.Now()
	return func() {
		metrics.BridgeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// wrap maps port errors onto the domain error kinds.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case core.IsDomainError(err):
		return err
	case errors.Is(err, graph.ErrDangling):
		return core.Inconsistentf("%s: %v", op, err)
	case errors.Is(err, graph.ErrNotFound):
		return core.NotFoundf("%s: %v", op, err)
	}
	return core.Backend(op, err)
}

func graphKind(k core.ObjectKind) graph.Kind {
	if k == core.KindAssoc {
		return graph.KindEdge
	}
	return graph.KindNode
}

func objectKind(k graph.Kind) core.ObjectKind {
	if k == graph.KindEdge {
		return core.KindAssoc
	}
	return core.KindTopic
}

// fetchElement fetches id and checks that it is of the expected kind.
func fetchElement(ctx context.Context, g graph.Tx, id int64, want core.ObjectKind) (*graph.Element, error) {
	el, err := g.Fetch(ctx, id)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, core.NotFoundf("%s %d", want, id)
	}
	if err != nil {
		return nil, wrap("fetch", err)
	}
	if objectKind(el.Kind) != want {
		return nil, core.NotFoundf("%d is not a %s", id, want)
	}
	return el, nil
}

type objectProps struct {
	uri     string
	typeURI string
	value   core.SimpleValue
}

func readProps(ctx context.Context, g graph.Tx, id int64) (objectProps, error) {
	props, err := g.Properties(ctx, id)
	if err != nil {
		return objectProps{}, wrap("properties", err)
	}
	var p objectProps
	p.uri, _ = props[propURI].(string)
	p.typeURI, _ = props[propTypeURI].(string)
	if raw, ok := props[propValue]; ok {
		if s, isStr := raw.(string); !isStr || s != "" {
			v, err := core.ValueOf(raw)
			if err != nil {
				return objectProps{}, core.Inconsistentf("value of %d: %v", id, err)
			}
			p.value = v
		}
	}
	return p, nil
}

// storeNewObject writes the properties and indexes every new element gets.
func (b *Bridge) storeNewObject(ctx context.Context, tx *txn.Tx, kind core.ObjectKind, id int64, uri, typeURI string) error {
	g := tx.Graph()
	if uri != "" {
		if err := g.SetProperty(ctx, id, propURI, uri); err != nil {
			return wrap("store uri", err)
		}
		if err := b.ix.IndexURI(ctx, g, kind, id, uri); err != nil {
			return wrap("index uri", err)
		}
	}
	if err := g.SetProperty(ctx, id, propTypeURI, typeURI); err != nil {
		return wrap("store type uri", err)
	}
	if err := b.ix.IndexTypeURI(ctx, g, kind, id, typeURI); err != nil {
		return wrap("index type uri", err)
	}
	// Every object carries a value from creation on, even before its final
	// value is stored.
	if err := g.SetProperty(ctx, id, propValue, ""); err != nil {
		return wrap("store value", err)
	}
	if ws := tx.Request().WorkspaceID; ws != 0 {
		if err := g.SetProperty(ctx, id, propWorkspace, ws); err != nil {
			return wrap("store workspace", err)
		}
	}
	metrics.ObjectsCreatedTotal.WithLabelValues(kind.String()).Inc()
	return nil
}

// CheckURIUnique fails with ErrURIConflict if uri is used by any topic or
// association other than self. Empty URIs are exempt. The check holds the
// store's URI lock until the transaction ends, so a concurrent creator of the
// same URI sees this one's entry once it commits.
func (b *Bridge) CheckURIUnique(ctx context.Context, tx *txn.Tx, uri string, self core.Opt[core.PlayerRef]) error {
	if uri == "" {
		return nil
	}
	if err := tx.Graph().Lock(ctx, index.KeyURI); err != nil {
		return wrap("uri lock", err)
	}
	for _, kind := range []core.ObjectKind{core.KindTopic, core.KindAssoc} {
		ids, err := b.ix.Lookup(ctx, tx.Graph(), kind, index.KeyURI, uri)
		if err != nil {
			return wrap("uri check", err)
		}
		for _, id := range ids {
			if s, ok := self.Get(); ok && s == (core.PlayerRef{Kind: kind, ID: id}) {
				continue
			}
			return fmt.Errorf("%w: %q is taken by %v", core.ErrURIConflict, uri, core.PlayerRef{Kind: kind, ID: id})
		}
	}
	return nil
}

// StoreSimpleValue writes the raw value of an object without indexing it.
func (b *Bridge) StoreSimpleValue(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, value core.SimpleValue) error {
	defer observe("store_value")()
	raw := value.Raw()
	if raw == nil {
		raw = ""
	}
	if err := tx.Graph().SetProperty(ctx, ref.ID, propValue, raw); err != nil {
		return wrap("store value", err)
	}
	return nil
}

// IndexValue indexes an already stored value under 0..N modes.
func (b *Bridge) IndexValue(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, key string, modes []core.IndexMode, value core.SimpleValue) error {
	return wrap("index value", b.ix.IndexValue(ctx, tx.Graph(), ref.Kind, ref.ID, key, modes, value))
}

// FetchWorkspaceID returns the workspace an object was created in.
func (b *Bridge) FetchWorkspaceID(ctx context.Context, tx *txn.Tx, ref core.PlayerRef) (int64, bool, error) {
	v, ok, err := tx.Graph().Property(ctx, ref.ID, propWorkspace)
	if err != nil || !ok {
		return 0, false, wrap("fetch workspace", err)
	}
	id, _ := v.(int64)
	return id, true, nil
}

// single reduces a lookup result to one id.
func single(ids []int64, what string) (int64, error) {
	switch len(ids) {
	case 0:
		return 0, core.NotFoundf("%s", what)
	case 1:
		return ids[0], nil
	}
	return 0, core.Ambiguousf("%s matches %d objects %v", what, len(ids), ids)
}
