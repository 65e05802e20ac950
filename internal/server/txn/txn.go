// Package txn wraps graph store transactions behind a success/failure/finish
// protocol and carries the request context of the caller.
package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/graph"
	"github.com/systemshift/dmx/internal/server/metrics"
)

type intent int

const (
	intentNone intent = iota
	intentSuccess
	intentFailure
)

// Manager opens transactions against one store.
type Manager struct {
	store graph.Store
	log   zerolog.Logger
}

// NewManager returns a manager for store.
func NewManager(store graph.Store, log zerolog.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// Begin opens a transaction. Transactions do not nest; every Begin must be
// paired with a Finish.
func (m *Manager) Begin(ctx context.Context, rc core.RequestContext) (*Tx, error) {
	g, err := m.store.Begin(ctx)
	if err != nil {
		return nil, core.Backend("begin", err)
	}
	id := uuid.New().String()
	return &Tx{
		id:      id,
		g:       g,
		rc:      rc,
		log:     m.log.With().Str("tx", id).Logger(),
		started: time.Now(),
	}, nil
}

// Run executes fn inside one transaction scope. The transaction commits when
// fn returns nil and rolls back when fn fails or panics; a panic is re-raised
// after the rollback.
func (m *Manager) Run(ctx context.Context, rc core.RequestContext, fn func(tx *Tx) error) (err error) {
	tx, err := m.Begin(ctx, rc)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Failure()
			if ferr := tx.Finish(ctx); ferr != nil {
				tx.log.Error().Err(ferr).Msg("rollback after panic failed")
			}
			panic(p)
		}
		if ferr := tx.Finish(ctx); ferr != nil && err == nil {
			err = ferr
		}
	}()

	if err = fn(tx); err != nil {
		tx.Failure()
		return err
	}
	tx.Success()
	return nil
}

// Tx is one transaction scope. It is not safe for concurrent use.
type Tx struct {
	id       string
	g        graph.Tx
	rc       core.RequestContext
	log      zerolog.Logger
	started  time.Time
	mark     intent
	finished bool

	onCommit   []func()
	onRollback []func()
}

// ID returns the transaction id.
func (t *Tx) ID() string { return t.id }

// Graph returns the underlying store transaction.
func (t *Tx) Graph() graph.Tx { return t.g }

// Request returns the request-scoped values of the caller.
func (t *Tx) Request() core.RequestContext { return t.rc }

// Logger returns a logger tagged with the transaction id.
func (t *Tx) Logger() *zerolog.Logger { return &t.log }

// Success marks the transaction for commit.
func (t *Tx) Success() { t.mark = intentSuccess }

// Failure marks the transaction for rollback.
func (t *Tx) Failure() { t.mark = intentFailure }

// Finished reports whether Finish has run.
func (t *Tx) Finished() bool { return t.finished }

// OnCommit registers fn to run after a successful commit.
func (t *Tx) OnCommit(fn func()) { t.onCommit = append(t.onCommit, fn) }

// OnRollback registers fn to run after a rollback, including a failed commit.
func (t *Tx) OnRollback(fn func()) { t.onRollback = append(t.onRollback, fn) }

// Finish commits if the last mark was Success and rolls back otherwise. It is
// safe to call more than once; only the first call has an effect.
func (t *Tx) Finish(ctx context.Context) error {
	if t.finished {
		return nil
	}
	t.finished = true
	defer func() {
		metrics.TransactionDuration.Observe(time.Since(t.started).Seconds())
	}()

	if t.mark != intentSuccess {
		err := t.g.Rollback(ctx)
		t.run(t.onRollback)
		if err != nil {
			metrics.TransactionsTotal.WithLabelValues("error").Inc()
			return core.Backend("rollback", err)
		}
		metrics.TransactionsTotal.WithLabelValues("rollback").Inc()
		t.log.Debug().Msg("transaction rolled back")
		return nil
	}

	if err := t.g.Commit(ctx); err != nil {
		// the backend discards the transaction on a failed commit
		_ = t.g.Rollback(ctx)
		t.run(t.onRollback)
		metrics.TransactionsTotal.WithLabelValues("error").Inc()
		return core.Backend("commit", fmt.Errorf("transaction %s: %w", t.id, err))
	}
	metrics.TransactionsTotal.WithLabelValues("commit").Inc()
	t.run(t.onCommit)
	return nil
}

func (t *Tx) run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
