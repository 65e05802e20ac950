// Package engine gives the object model its behaviour on top of the storage
// bridge: the self-describing type system, composite child topics, cascading
// deletion and change events.
package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/graph"
	"github.com/systemshift/dmx/internal/server/index"
	"github.com/systemshift/dmx/internal/server/storage"
	"github.com/systemshift/dmx/internal/server/subscriptions"
	"github.com/systemshift/dmx/internal/server/txn"
)

// Listener observes a change while its transaction is still open. It may read
// through tx; a returned error aborts the operation.
type Listener func(ctx context.Context, tx *txn.Tx, ev subscriptions.Event) error

// Engine is the entry point for callers. Every operation but Setup runs inside
// a transaction the caller opened with Begin or Run.
type Engine struct {
	tm    *txn.Manager
	b     *storage.Bridge
	log   zerolog.Logger
	types *typeCache

	listeners []Listener
	emit      subscriptions.EventEmitter
}

// New returns an engine over store.
func New(store graph.Store, log zerolog.Logger) *Engine {
	return &Engine{
		tm:    txn.NewManager(store, log),
		b:     storage.New(index.New(log), log),
		log:   log.With().Str("component", "engine").Logger(),
		types: newTypeCache(),
	}
}

// Bridge returns the storage bridge for callers that need raw access.
func (e *Engine) Bridge() *storage.Bridge { return e.b }

// Listen registers a synchronous listener. Listeners are not safe to add
// while requests are running.
func (e *Engine) Listen(l Listener) { e.listeners = append(e.listeners, l) }

// SetEmitter sets the receiver of committed events.
func (e *Engine) SetEmitter(emit subscriptions.EventEmitter) { e.emit = emit }

// Begin opens a transaction scope.
func (e *Engine) Begin(ctx context.Context, rc core.RequestContext) (*txn.Tx, error) {
	return e.tm.Begin(ctx, rc)
}

// Run executes fn in a transaction scope that commits when fn returns nil.
func (e *Engine) Run(ctx context.Context, rc core.RequestContext, fn func(tx *txn.Tx) error) error {
	return e.tm.Run(ctx, rc, fn)
}

// Setup prepares the store. On an empty store it creates the bootstrap root
// and the core type system and reports a clean install.
func (e *Engine) Setup(ctx context.Context) (bool, error) {
	var clean bool
	err := e.Run(ctx, core.RequestContext{}, func(tx *txn.Tx) error {
		var err error
		if clean, err = e.b.Setup(ctx, tx); err != nil || !clean {
			return err
		}
		return e.bootstrap(ctx, tx)
	})
	// types loaded half-built during bootstrap must not survive it
	e.types.clear()
	if err != nil {
		return false, err
	}
	if clean {
		e.log.Info().Msg("core type system installed")
	}
	return clean, nil
}

// fire runs the listeners and schedules delivery of ev after commit.
func (e *Engine) fire(ctx context.Context, tx *txn.Tx, ev subscriptions.Event) error {
	rc := tx.Request()
	if rc.WorkspaceID != 0 || rc.Username != "" {
		ev.Meta = map[string]any{}
		if rc.WorkspaceID != 0 {
			ev.Meta["workspace_id"] = rc.WorkspaceID
		}
		if rc.Username != "" {
			ev.Meta["username"] = rc.Username
		}
	}
	for _, l := range e.listeners {
		if err := l(ctx, tx, ev); err != nil {
			return err
		}
	}
	if e.emit != nil {
		emit := e.emit
		tx.OnCommit(func() { emit(ev) })
	}
	return nil
}
