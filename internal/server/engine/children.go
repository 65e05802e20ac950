package engine

import (
	"context"
	"strings"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/sequence"
	"github.com/systemshift/dmx/internal/server/storage"
	"github.com/systemshift/dmx/internal/server/txn"
)

// childQuery selects the instance-level associations of one comp def.
func childQuery(d *core.CompDef) storage.RelatedQuery {
	return storage.RelatedQuery{
		AssocTypeURIs:     storage.AssocType(d.InstanceLevelAssocTypeURI()),
		MyRoleTypeURI:     core.Some(core.ParentRoleURI),
		OthersRoleTypeURI: core.Some(core.ChildRoleURI),
		OthersTypeURI:     core.Some(d.ChildTypeURI),
	}
}

func (e *Engine) childSequence(ctx context.Context, tx *txn.Tx, parent core.PlayerRef, d *core.CompDef) *sequence.Sequence {
	return sequence.New(ctx, e.b, tx, parent, d.CompDefURI)
}

// loadChildren fills t.Children recursively when t is of a composite type.
func (e *Engine) loadChildren(ctx context.Context, tx *txn.Tx, t *core.TopicModel) error {
	typ, err := e.typeByURI(ctx, tx, t.TypeURI)
	if err != nil {
		return err
	}
	if !typ.IsComposite() {
		return nil
	}
	t.Children, err = e.fetchChildren(ctx, tx, t.Ref(), typ, true)
	return err
}

// fetchChildren reads the children of parent as declared by typ. Deep also
// loads the children of composite children.
func (e *Engine) fetchChildren(ctx context.Context, tx *txn.Tx, parent core.PlayerRef, typ *core.TypeModel, deep bool) (*core.ChildTopics, error) {
	children := core.NewChildTopics()
	for _, d := range typ.CompDefs {
		if d.IsMulti() {
			items, err := e.fetchMulti(ctx, tx, parent, d)
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				continue
			}
			if deep {
				for _, rt := range items {
					if err := e.loadChildren(ctx, tx, rt.Topic); err != nil {
						return nil, err
					}
				}
			}
			children.SetMulti(d.CompDefURI, items)
			continue
		}

		rt, err := e.b.GetRelatedTopic(ctx, tx, parent, childQuery(d))
		if err != nil {
			return nil, err
		}
		if rt == nil {
			continue
		}
		if deep {
			if err := e.loadChildren(ctx, tx, rt.Topic); err != nil {
				return nil, err
			}
		}
		children.SetRelated(d.CompDefURI, rt)
	}
	return children, nil
}

// fetchMulti reads a multi-valued entry in sequence order.
func (e *Engine) fetchMulti(ctx context.Context, tx *txn.Tx, parent core.PlayerRef, d *core.CompDef) ([]*core.RelatedTopic, error) {
	var items []*core.RelatedTopic
	for id, err := range e.childSequence(ctx, tx, parent, d).All() {
		if err != nil {
			return nil, err
		}
		a, err := e.b.FetchAssoc(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		p, err := a.PlayerByRole(core.ChildRoleURI)
		if err != nil {
			return nil, core.Inconsistentf("child assoc %d: %v", id, err)
		}
		t, err := e.b.FetchTopic(ctx, tx, p.Ref.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, &core.RelatedTopic{Topic: t, Assoc: a})
	}
	return items, nil
}

// writeChildren applies the entries of in to the stored children of parent.
// On return every written entry carries the stored topic and association.
func (e *Engine) writeChildren(ctx context.Context, tx *txn.Tx, parent core.PlayerRef, typ *core.TypeModel, in *core.ChildTopics) error {
	for _, uri := range in.URIs() {
		d, ok := typ.CompDef(uri)
		if !ok {
			return core.Invalidf("type %q has no comp def %q", typ.URI, uri)
		}
		childType, err := e.typeByURI(ctx, tx, d.ChildTypeURI)
		if err != nil {
			return err
		}
		switch {
		case in.IsRemoved(uri):
			err = e.removeChildren(ctx, tx, parent, d)
		case d.IsMulti():
			items := in.GetTopics(uri)
			if rt, ok := in.Get(uri); ok {
				items = []*core.RelatedTopic{rt}
			}
			err = e.writeMulti(ctx, tx, parent, d, childType, items)
		case in.IsMulti(uri):
			err = core.Invalidf("comp def %q is single-valued", uri)
		default:
			rt, _ := in.Get(uri)
			err = e.writeSingle(ctx, tx, parent, d, childType, rt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func hasContent(t *core.TopicModel) bool {
	return !t.Value.IsZero() || t.Children.Len() > 0
}

// resolveChild turns an input child into a stored topic: a referenced topic,
// the current child edited in place (composition), an existing topic with the
// same value (aggregation of a keyed simple type) or a new topic.
func (e *Engine) resolveChild(ctx context.Context, tx *txn.Tx, d *core.CompDef, childType *core.TypeModel, in *core.TopicModel, cur *core.RelatedTopic) (*core.TopicModel, error) {
	if in.TypeURI != "" && in.TypeURI != childType.URI {
		return nil, core.Invalidf("child of %q must be a %s, got %s", d.CompDefURI, childType.URI, in.TypeURI)
	}
	in.TypeURI = childType.URI

	if in.ID != 0 {
		t, err := e.b.FetchTopic(ctx, tx, in.ID)
		if err != nil {
			return nil, err
		}
		if t.TypeURI != childType.URI {
			return nil, core.Invalidf("topic %d is a %s, not a %s", t.ID, t.TypeURI, childType.URI)
		}
		if !d.Aggregation && hasContent(in) {
			return e.updateTopic(ctx, tx, in)
		}
		return t, nil
	}

	if !d.Aggregation && cur != nil {
		in.ID = cur.Topic.ID
		return e.updateTopic(ctx, tx, in)
	}

	if d.Aggregation && !childType.IsComposite() && childType.HasIndexMode(core.IndexKey) && !in.Value.IsZero() {
		found, err := e.b.FetchTopicsByValue(ctx, tx, childType.URI, in.Value)
		if err != nil {
			return nil, err
		}
		var same []*core.TopicModel
		for _, t := range found {
			if t.TypeURI == childType.URI {
				same = append(same, t)
			}
		}
		switch len(same) {
		case 0:
		case 1:
			return same[0], nil
		default:
			return nil, core.Ambiguousf("%d %s topics have value %q", len(same), childType.URI, in.Value.Text())
		}
	}

	if err := e.createTopic(ctx, tx, in); err != nil {
		return nil, err
	}
	return e.b.FetchTopic(ctx, tx, in.ID)
}

// dropChild ends a child relation: an owned child is deleted with its
// association, an aggregated one only loses the association.
func (e *Engine) dropChild(ctx context.Context, tx *txn.Tx, d *core.CompDef, rt *core.RelatedTopic) error {
	if d.Aggregation {
		return e.delete(ctx, tx, rt.Assoc.Ref())
	}
	return e.delete(ctx, tx, rt.Topic.Ref())
}

func (e *Engine) linkChild(ctx context.Context, tx *txn.Tx, parent core.PlayerRef, d *core.CompDef, childID int64) (*core.AssocModel, error) {
	return e.relate(ctx, tx, d.InstanceLevelAssocTypeURI(), parent, core.ParentRoleURI, core.TopicRef(childID), core.ChildRoleURI)
}

func (e *Engine) writeSingle(ctx context.Context, tx *txn.Tx, parent core.PlayerRef, d *core.CompDef, childType *core.TypeModel, rt *core.RelatedTopic) error {
	if rt == nil || rt.Topic == nil {
		return core.Invalidf("child %q has no topic", d.CompDefURI)
	}
	cur, err := e.b.GetRelatedTopic(ctx, tx, parent, childQuery(d))
	if err != nil {
		return err
	}
	child, err := e.resolveChild(ctx, tx, d, childType, rt.Topic, cur)
	if err != nil {
		return err
	}
	if cur != nil && cur.Topic.ID == child.ID {
		rt.Topic, rt.Assoc = child, cur.Assoc
		return nil
	}
	if cur != nil {
		if err := e.dropChild(ctx, tx, d, cur); err != nil {
			return err
		}
	}
	a, err := e.linkChild(ctx, tx, parent, d, child.ID)
	if err != nil {
		return err
	}
	rt.Topic, rt.Assoc = child, a
	return nil
}

// writeMulti makes items the complete, ordered list of children. Listed
// current children are kept, unlisted ones dropped, and the sequence is
// rebuilt in list order.
func (e *Engine) writeMulti(ctx context.Context, tx *txn.Tx, parent core.PlayerRef, d *core.CompDef, childType *core.TypeModel, items []*core.RelatedTopic) error {
	cur, err := e.fetchMulti(ctx, tx, parent, d)
	if err != nil {
		return err
	}
	byChild := make(map[int64]*core.RelatedTopic, len(cur))
	for _, rt := range cur {
		byChild[rt.Topic.ID] = rt
		if err := sequence.Unlink(ctx, e.b, tx, rt.Assoc.ID); err != nil {
			return err
		}
	}

	keep := make(map[int64]bool)
	order := make([]int64, 0, len(items))
	for _, rt := range items {
		if rt == nil || rt.Topic == nil {
			return core.Invalidf("child %q has no topic", d.CompDefURI)
		}
		if rt.Topic.ID != 0 && keep[rt.Topic.ID] {
			return core.Invalidf("topic %d is listed twice under %q", rt.Topic.ID, d.CompDefURI)
		}
		child, err := e.resolveChild(ctx, tx, d, childType, rt.Topic, nil)
		if err != nil {
			return err
		}
		if existing, ok := byChild[child.ID]; ok && !keep[child.ID] {
			keep[child.ID] = true
			rt.Topic, rt.Assoc = child, existing.Assoc
			order = append(order, existing.Assoc.ID)
			continue
		}
		a, err := e.linkChild(ctx, tx, parent, d, child.ID)
		if err != nil {
			return err
		}
		keep[child.ID] = true
		rt.Topic, rt.Assoc = child, a
		order = append(order, a.ID)
	}

	for _, rt := range cur {
		if !keep[rt.Topic.ID] {
			if err := e.dropChild(ctx, tx, d, rt); err != nil {
				return err
			}
		}
	}
	s := e.childSequence(ctx, tx, parent, d)
	for _, id := range order {
		if err := s.Append(id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) removeChildren(ctx context.Context, tx *txn.Tx, parent core.PlayerRef, d *core.CompDef) error {
	if !d.IsMulti() {
		cur, err := e.b.GetRelatedTopic(ctx, tx, parent, childQuery(d))
		if err != nil || cur == nil {
			return err
		}
		return e.dropChild(ctx, tx, d, cur)
	}
	return e.writeMulti(ctx, tx, parent, d, nil, nil)
}

// label builds the value of a composite from its label children, or from the
// first child when no comp def is marked for the label.
func label(typ *core.TypeModel, children *core.ChildTopics) string {
	uris := typ.LabelConfig()
	if len(uris) == 0 && len(typ.CompDefs) > 0 {
		uris = []string{typ.CompDefs[0].CompDefURI}
	}
	var parts []string
	for _, uri := range uris {
		if rt, ok := children.Get(uri); ok && rt.Topic != nil {
			if s := rt.Topic.Value.Text(); s != "" {
				parts = append(parts, s)
			}
			continue
		}
		var items []string
		for _, rt := range children.GetTopics(uri) {
			if s := rt.Topic.Value.Text(); s != "" {
				items = append(items, s)
			}
		}
		if len(items) > 0 {
			parts = append(parts, strings.Join(items, ", "))
		}
	}
	return strings.Join(parts, " ")
}

// relabel recomputes and stores the value of a composite object.
func (e *Engine) relabel(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, typ *core.TypeModel) (core.SimpleValue, error) {
	children, err := e.fetchChildren(ctx, tx, ref, typ, false)
	if err != nil {
		return core.SimpleValue{}, err
	}
	v := core.String(label(typ, children))
	return v, e.storeValue(ctx, tx, ref, typ, v)
}

// relabelParents refreshes the value of every composite that holds ref as a
// child, up to the top.
func (e *Engine) relabelParents(ctx context.Context, tx *txn.Tx, ref core.PlayerRef, seen map[core.PlayerRef]bool) error {
	if seen[ref] {
		return nil
	}
	seen[ref] = true
	parents, err := e.b.GetRelatedTopics(ctx, tx, ref, storage.RelatedQuery{
		MyRoleTypeURI:     core.Some(core.ChildRoleURI),
		OthersRoleTypeURI: core.Some(core.ParentRoleURI),
	})
	if err != nil {
		return err
	}
	for _, rt := range parents.Items {
		typ, err := e.typeByURI(ctx, tx, rt.Topic.TypeURI)
		if err != nil {
			return err
		}
		if !typ.IsComposite() || !declaresChild(typ, rt.Assoc.TypeURI) {
			continue
		}
		if _, err := e.relabel(ctx, tx, rt.Topic.Ref(), typ); err != nil {
			return err
		}
		if err := e.relabelParents(ctx, tx, rt.Topic.Ref(), seen); err != nil {
			return err
		}
	}
	return nil
}

func declaresChild(typ *core.TypeModel, assocTypeURI string) bool {
	for _, d := range typ.CompDefs {
		if d.InstanceLevelAssocTypeURI() == assocTypeURI {
			return true
		}
	}
	return false
}
