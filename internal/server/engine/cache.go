package engine

import (
	"sync"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/metrics"
	"github.com/systemshift/dmx/internal/server/txn"
)

// typeCache holds loaded types by URI. Entries are shared and never mutated;
// callers outside the package get clones.
//
// A transaction first collects what it loads in its own set. The set reaches
// the shared map only after a commit, and only entries loaded at the current
// generation: any committed type change bumps the generation, so a definition
// read before that change is dropped instead of shared.
type typeCache struct {
	mu    sync.RWMutex
	types map[string]*core.TypeModel
	gen   uint64
	txs   map[*txn.Tx]*txTypes
}

// txTypes are the definitions one transaction loaded, with the generation
// each was loaded at. Types the transaction changed are never read from the
// shared map again; all marks every type as changed.
type txTypes struct {
	types   map[string]*core.TypeModel
	gens    map[string]uint64
	changed map[string]bool
	all     bool
}

func newTypeCache() *typeCache {
	return &typeCache{
		types: make(map[string]*core.TypeModel),
		txs:   make(map[*txn.Tx]*txTypes),
	}
}

func (c *typeCache) get(tx *txn.Tx, uri string) (*core.TypeModel, bool) {
	c.mu.RLock()
	t, ok := c.types[uri]
	if l := c.txs[tx]; l != nil {
		if lt, lok := l.types[uri]; lok {
			t, ok = lt, true
		} else if l.all || l.changed[uri] {
			t, ok = nil, false
		}
	}
	c.mu.RUnlock()
	if ok {
		metrics.TypeCacheLookups.WithLabelValues("hit").Inc()
	} else {
		metrics.TypeCacheLookups.WithLabelValues("miss").Inc()
	}
	return t, ok
}

// generation is taken before loading a type and handed to put.
func (c *typeCache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// put records t as loaded by tx at generation gen.
func (c *typeCache) put(tx *txn.Tx, t *core.TypeModel, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.local(tx)
	l.types[t.URI] = t
	l.gens[t.URI] = gen
}

// local returns the set of tx, creating it on first use. c.mu must be held.
func (c *typeCache) local(tx *txn.Tx) *txTypes {
	if l := c.txs[tx]; l != nil {
		return l
	}
	l := &txTypes{
		types:   make(map[string]*core.TypeModel),
		gens:    make(map[string]uint64),
		changed: make(map[string]bool),
	}
	c.txs[tx] = l
	tx.OnCommit(func() { c.promote(tx) })
	tx.OnRollback(func() { c.forget(tx) })
	return l
}

func (c *typeCache) promote(tx *txn.Tx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.txs[tx]
	delete(c.txs, tx)
	if l == nil {
		return
	}
	for uri, t := range l.types {
		if l.gens[uri] == c.gen {
			c.types[uri] = t
		}
	}
}

func (c *typeCache) forget(tx *txn.Tx) {
	c.mu.Lock()
	delete(c.txs, tx)
	c.mu.Unlock()
}

// drop marks the given types, or all of them when uris is empty, as changed
// by tx and discards what tx loaded of them.
func (c *typeCache) drop(tx *txn.Tx, uris ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.local(tx)
	if len(uris) == 0 {
		clear(l.types)
		l.all = true
		return
	}
	for _, uri := range uris {
		delete(l.types, uri)
		l.changed[uri] = true
	}
}

func (c *typeCache) remove(uris ...string) {
	c.mu.Lock()
	for _, uri := range uris {
		delete(c.types, uri)
	}
	c.gen++
	c.mu.Unlock()
}

func (c *typeCache) clear() {
	c.mu.Lock()
	c.types = make(map[string]*core.TypeModel)
	c.gen++
	c.mu.Unlock()
}

// touchType marks the given types as changed by tx: tx reloads them, and the
// shared copies go once tx commits.
func (e *Engine) touchType(tx *txn.Tx, uris ...string) {
	e.types.drop(tx, uris...)
	tx.OnCommit(func() { e.types.remove(uris...) })
}

// touchAllTypes is touchType for changes whose reach is not known, such as
// deleting a type other types refer to.
func (e *Engine) touchAllTypes(tx *txn.Tx) {
	e.types.drop(tx)
	tx.OnCommit(e.types.clear)
}

func cloneType(t *core.TypeModel) *core.TypeModel {
	c := *t
	c.IndexModes = append([]core.IndexMode(nil), t.IndexModes...)
	c.CompDefs = make([]*core.CompDef, len(t.CompDefs))
	for i, d := range t.CompDefs {
		dc := *d
		c.CompDefs[i] = &dc
	}
	if t.ViewConfig != nil {
		vc := *t.ViewConfig
		c.ViewConfig = &vc
	}
	return &c
}
