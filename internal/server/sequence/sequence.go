// Package sequence keeps an ordered list of associations as an explicit chain:
// one start association from the parent to the first item, then one
// predecessor→successor association per neighbour pair. Each chain
// association is typed like any other. The graph store has no ordered
// adjacency of its own.
package sequence

import (
	"context"
	"iter"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/storage"
	"github.com/systemshift/dmx/internal/server/txn"
)

// Sequence is one ordered list hanging off a parent. Key tells several lists
// on the same parent apart; it is stored as the value of the start
// association.
type Sequence struct {
	ctx    context.Context
	b      *storage.Bridge
	tx     *txn.Tx
	parent core.PlayerRef
	key    string
}

// New returns the sequence key of parent.
func New(ctx context.Context, b *storage.Bridge, tx *txn.Tx, parent core.PlayerRef, key string) *Sequence {
	return &Sequence{ctx: ctx, b: b, tx: tx, parent: parent, key: key}
}

// link is an association of the chain together with the item on its far end.
type link struct {
	assoc *core.AssocModel
	item  int64
}

// start returns the start association and the first item, nil when empty.
func (s *Sequence) start() (*link, error) {
	res, err := s.b.GetRelatedAssocs(s.ctx, s.tx, s.parent, storage.RelatedQuery{
		AssocTypeURIs:     storage.AssocType(core.SequenceStartURI),
		MyRoleTypeURI:     core.Some(core.ParentRoleURI),
		OthersRoleTypeURI: core.Some(core.ChildRoleURI),
	})
	if err != nil {
		return nil, err
	}
	var found *link
	for _, ra := range res.Items {
		if ra.Via.Value.Text() != s.key {
			continue
		}
		if found != nil {
			return nil, core.Inconsistentf("sequence %q of %v has more than one start", s.key, s.parent)
		}
		found = &link{assoc: ra.Via, item: ra.Assoc.ID}
	}
	return found, nil
}

// neighbour follows the chain one step from item. forward goes to the
// successor, otherwise to the predecessor.
func (s *Sequence) neighbour(item int64, forward bool) (*link, error) {
	return neighbour(s.ctx, s.b, s.tx, item, forward)
}

func neighbour(ctx context.Context, b *storage.Bridge, tx *txn.Tx, item int64, forward bool) (*link, error) {
	my, other := core.PredecessorRoleURI, core.SuccessorRoleURI
	if !forward {
		my, other = other, my
	}
	ra, err := b.GetRelatedAssoc(ctx, tx, core.AssocRef(item), storage.RelatedQuery{
		AssocTypeURIs:     storage.AssocType(core.SequenceURI),
		MyRoleTypeURI:     core.Some(my),
		OthersRoleTypeURI: core.Some(other),
	})
	if err != nil {
		if core.IsDomainError(err) {
			return nil, core.Inconsistentf("sequence around %d: %v", item, err)
		}
		return nil, err
	}
	if ra == nil {
		return nil, nil
	}
	return &link{assoc: ra.Via, item: ra.Assoc.ID}, nil
}

// createLink stores a chain association together with its type edge.
func createLink(ctx context.Context, b *storage.Bridge, tx *txn.Tx, a *core.AssocModel) error {
	if err := b.CreateAssoc(ctx, tx, a); err != nil {
		return err
	}
	_, err := b.CreateInstantiation(ctx, tx, a.Ref(), a.TypeURI)
	return err
}

// deleteLink removes a chain association and its type edge.
func deleteLink(ctx context.Context, b *storage.Bridge, tx *txn.Tx, id int64) error {
	if err := b.DeleteInstantiations(ctx, tx, core.AssocRef(id)); err != nil {
		return err
	}
	return b.DeleteAssoc(ctx, tx, id)
}

func createSegment(ctx context.Context, b *storage.Bridge, tx *txn.Tx, pred, succ int64) error {
	return createLink(ctx, b, tx, &core.AssocModel{
		TypeURI: core.SequenceURI,
		Player1: core.AssocPlayer(pred, core.PredecessorRoleURI),
		Player2: core.AssocPlayer(succ, core.SuccessorRoleURI),
	})
}

func createStart(ctx context.Context, b *storage.Bridge, tx *txn.Tx, parent core.PlayerRef, key string, first int64) error {
	a := &core.AssocModel{
		TypeURI: core.SequenceStartURI,
		Player1: core.PlayerModel{Ref: parent, RoleTypeURI: core.ParentRoleURI},
		Player2: core.AssocPlayer(first, core.ChildRoleURI),
		Value:   core.String(key),
	}
	if err := createLink(ctx, b, tx, a); err != nil {
		return err
	}
	return b.StoreSimpleValue(ctx, tx, a.Ref(), a.Value)
}

// startOf returns the start association pointing at item, nil when item is
// not the head of a sequence.
func startOf(ctx context.Context, b *storage.Bridge, tx *txn.Tx, item int64) (*core.AssocModel, error) {
	assocs, err := b.FetchAssocs(ctx, tx, core.AssocRef(item))
	if err != nil {
		return nil, err
	}
	var found *core.AssocModel
	for _, a := range assocs {
		if a.TypeURI != core.SequenceStartURI {
			continue
		}
		p, err := a.PlayerByRole(core.ChildRoleURI)
		if err != nil || p.Ref != core.AssocRef(item) {
			continue
		}
		if found != nil {
			return nil, core.Inconsistentf("%d is the head of more than one sequence", item)
		}
		found = a
	}
	return found, nil
}

// Insert puts item right after predecessor, or at the head when predecessor
// is absent.
func (s *Sequence) Insert(item int64, predecessor core.Opt[int64]) error {
	if pred, ok := predecessor.Get(); ok {
		next, err := s.neighbour(pred, true)
		if err != nil {
			return err
		}
		if next != nil {
			if err := deleteLink(s.ctx, s.b, s.tx, next.assoc.ID); err != nil {
				return err
			}
		}
		if err := createSegment(s.ctx, s.b, s.tx, pred, item); err != nil {
			return err
		}
		if next != nil {
			return createSegment(s.ctx, s.b, s.tx, item, next.item)
		}
		return nil
	}

	first, err := s.start()
	if err != nil {
		return err
	}
	if first != nil {
		if err := deleteLink(s.ctx, s.b, s.tx, first.assoc.ID); err != nil {
			return err
		}
	}
	if err := createStart(s.ctx, s.b, s.tx, s.parent, s.key, item); err != nil {
		return err
	}
	if first != nil {
		return createSegment(s.ctx, s.b, s.tx, item, first.item)
	}
	return nil
}

// Append puts item at the end of the sequence.
func (s *Sequence) Append(item int64) error {
	var last core.Opt[int64]
	for id, err := range s.All() {
		if err != nil {
			return err
		}
		last = core.Some(id)
	}
	return s.Insert(item, last)
}

// Remove takes item out of the sequence. It must run before item is deleted.
func (s *Sequence) Remove(item int64) error {
	return Unlink(s.ctx, s.b, s.tx, item)
}

// Unlink takes item out of whatever sequence it belongs to, splicing its
// predecessor (or the parent's start) to its successor, then deleting the
// associations that touched item. An item in no sequence is left alone.
func Unlink(ctx context.Context, b *storage.Bridge, tx *txn.Tx, item int64) error {
	prev, err := neighbour(ctx, b, tx, item, false)
	if err != nil {
		return err
	}
	next, err := neighbour(ctx, b, tx, item, true)
	if err != nil {
		return err
	}

	var start *core.AssocModel
	if prev == nil {
		if start, err = startOf(ctx, b, tx, item); err != nil {
			return err
		}
	}

	// splice
	switch {
	case prev != nil && next != nil:
		if err := createSegment(ctx, b, tx, prev.item, next.item); err != nil {
			return err
		}
	case start != nil && next != nil:
		p, err := start.PlayerByRole(core.ParentRoleURI)
		if err != nil {
			return core.Inconsistentf("sequence start %d: %v", start.ID, err)
		}
		if err := createStart(ctx, b, tx, p.Ref, start.Value.Text(), next.item); err != nil {
			return err
		}
	}

	for _, l := range []*link{prev, next} {
		if l == nil {
			continue
		}
		if err := deleteLink(ctx, b, tx, l.assoc.ID); err != nil {
			return err
		}
	}
	if start != nil {
		return deleteLink(ctx, b, tx, start.ID)
	}
	return nil
}

// All iterates the items from the head along successor links. Each call
// starts over. A chain that revisits an item is reported as a data
// inconsistency instead of looping forever.
func (s *Sequence) All() iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		first, err := s.start()
		if err != nil {
			yield(0, err)
			return
		}
		seen := make(map[int64]bool)
		for cur := first; cur != nil; {
			if seen[cur.item] {
				yield(0, core.Inconsistentf("sequence %q of %v has a cycle at %d", s.key, s.parent, cur.item))
				return
			}
			seen[cur.item] = true
			if !yield(cur.item, nil) {
				return
			}
			if cur, err = s.neighbour(cur.item, true); err != nil {
				yield(0, err)
				return
			}
		}
	}
}

// IDs collects All.
func (s *Sequence) IDs() ([]int64, error) {
	var ids []int64
	for id, err := range s.All() {
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
