package engine

import (
	"context"
	"slices"
	"sort"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/sequence"
	"github.com/systemshift/dmx/internal/server/storage"
	"github.com/systemshift/dmx/internal/server/txn"
)

// aggregated selects shared topics of one type hanging off an object.
func aggregated(othersTypeURI string) storage.RelatedQuery {
	return storage.RelatedQuery{
		AssocTypeURIs:     storage.AssocType(core.AggregationURI),
		MyRoleTypeURI:     core.Some(core.ParentRoleURI),
		OthersRoleTypeURI: core.Some(core.ChildRoleURI),
		OthersTypeURI:     core.Some(othersTypeURI),
	}
}

// composed selects owned topics of one type hanging off an object.
func composed(othersTypeURI string) storage.RelatedQuery {
	return storage.RelatedQuery{
		AssocTypeURIs:     storage.AssocType(core.CompositionURI),
		MyRoleTypeURI:     core.Some(core.ParentRoleURI),
		OthersRoleTypeURI: core.Some(core.ChildRoleURI),
		OthersTypeURI:     core.Some(othersTypeURI),
	}
}

// typeByURI returns the shared, read-only definition of a type.
func (e *Engine) typeByURI(ctx context.Context, tx *txn.Tx, uri string) (*core.TypeModel, error) {
	if t, ok := e.types.get(tx, uri); ok {
		return t, nil
	}
	gen := e.types.generation()
	t, err := e.loadType(ctx, tx, uri)
	if err != nil {
		return nil, err
	}
	e.types.put(tx, t, gen)
	return t, nil
}

func (e *Engine) loadType(ctx context.Context, tx *txn.Tx, uri string) (*core.TypeModel, error) {
	if uri == "" {
		return nil, core.Invalidf("empty type uri")
	}
	topic, err := e.b.FetchTopicByURI(ctx, tx, uri)
	if err != nil {
		return nil, err
	}
	if !core.IsMetaType(topic.TypeURI) {
		return nil, core.NotFoundf("%q is not a type", uri)
	}
	t := &core.TypeModel{TopicModel: *topic}
	ref := topic.Ref()

	dt, err := e.b.GetRelatedTopic(ctx, tx, ref, aggregated(core.DataTypeURI))
	if err != nil {
		return nil, err
	}
	if dt != nil {
		t.DataTypeURI = dt.Topic.URI
	}

	modes, err := e.b.GetRelatedTopics(ctx, tx, ref, aggregated(core.IndexModeURI))
	if err != nil {
		return nil, err
	}
	for _, rt := range modes.Items {
		m, err := core.IndexModeFromURI(rt.Topic.URI)
		if err != nil {
			return nil, core.Inconsistentf("type %q: %v", uri, err)
		}
		t.IndexModes = append(t.IndexModes, m)
	}
	slices.Sort(t.IndexModes)

	ids, err := sequence.New(ctx, e.b, tx, ref, core.CompositionDefURI).IDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		d, err := e.loadCompDef(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		t.CompDefs = append(t.CompDefs, d)
	}

	// the view config type carries no view config of its own
	if uri != core.ViewConfigURI {
		if t.ViewConfig, err = e.loadViewConfig(ctx, tx, ref); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (e *Engine) loadCompDef(ctx context.Context, tx *txn.Tx, assocID int64) (*core.CompDef, error) {
	a, err := e.b.FetchAssoc(ctx, tx, assocID)
	if err != nil {
		return nil, err
	}
	parent, err := a.PlayerByRole(core.ParentTypeRoleURI)
	if err != nil {
		return nil, core.Inconsistentf("comp def %d: %v", assocID, err)
	}
	child, err := a.PlayerByRole(core.ChildTypeRoleURI)
	if err != nil {
		return nil, core.Inconsistentf("comp def %d: %v", assocID, err)
	}
	pt, err := e.b.FetchTopic(ctx, tx, parent.Ref.ID)
	if err != nil {
		return nil, err
	}
	ct, err := e.b.FetchTopic(ctx, tx, child.Ref.ID)
	if err != nil {
		return nil, err
	}
	d := &core.CompDef{
		ParentTypeURI: pt.URI,
		ChildTypeURI:  ct.URI,
		Aggregation:   a.TypeURI == core.AggregationDefURI,
		Cardinality:   core.One,
		AssocID:       a.ID,
	}

	ref := a.Ref()
	card, err := e.b.GetRelatedTopic(ctx, tx, ref, aggregated(core.CardinalityURI))
	if err != nil {
		return nil, err
	}
	if card != nil {
		if d.Cardinality, err = core.CardinalityFromURI(card.Topic.URI); err != nil {
			return nil, core.Inconsistentf("comp def %d: %v", assocID, err)
		}
	}
	custom, err := e.b.GetRelatedTopic(ctx, tx, ref, storage.RelatedQuery{
		AssocTypeURIs:     storage.AssocType(core.AggregationURI),
		MyRoleTypeURI:     core.Some(core.ParentRoleURI),
		OthersRoleTypeURI: core.Some(core.CustomAssocRoleURI),
	})
	if err != nil {
		return nil, err
	}
	if custom != nil {
		d.CustomAssocTypeURI = custom.Topic.URI
	}
	incl, err := e.b.GetRelatedTopic(ctx, tx, ref, composed(core.IncludeInLabelURI))
	if err != nil {
		return nil, err
	}
	if incl != nil {
		d.IncludeInLabel = incl.Topic.Value.Bool()
	}
	d.Normalize()
	return d, nil
}

func (e *Engine) loadViewConfig(ctx context.Context, tx *txn.Tx, typeRef core.PlayerRef) (*core.ViewConfig, error) {
	rt, err := e.b.GetRelatedTopic(ctx, tx, typeRef, composed(core.ViewConfigURI))
	if err != nil || rt == nil {
		return nil, err
	}
	if err := e.loadChildren(ctx, tx, rt.Topic); err != nil {
		return nil, err
	}
	return &core.ViewConfig{Topic: rt.Topic}, nil
}

// relate connects parent and child with a new association of the given type.
func (e *Engine) relate(ctx context.Context, tx *txn.Tx, assocTypeURI string, parent core.PlayerRef, parentRole string, child core.PlayerRef, childRole string) (*core.AssocModel, error) {
	a := &core.AssocModel{
		TypeURI: assocTypeURI,
		Player1: core.PlayerModel{Ref: parent, RoleTypeURI: parentRole},
		Player2: core.PlayerModel{Ref: child, RoleTypeURI: childRole},
	}
	if err := e.createAssoc(ctx, tx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (e *Engine) topicOfType(ctx context.Context, tx *txn.Tx, uri, typeURI string) (*core.TopicModel, error) {
	t, err := e.b.FetchTopicByURI(ctx, tx, uri)
	if err != nil {
		return nil, err
	}
	if t.TypeURI != typeURI {
		return nil, core.Invalidf("%q is a %s, not a %s", uri, t.TypeURI, typeURI)
	}
	return t, nil
}

func (e *Engine) setDataType(ctx context.Context, tx *txn.Tx, typeRef core.PlayerRef, uri string) error {
	dt, err := e.topicOfType(ctx, tx, uri, core.DataTypeURI)
	if err != nil {
		return err
	}
	cur, err := e.b.GetRelatedTopic(ctx, tx, typeRef, aggregated(core.DataTypeURI))
	if err != nil {
		return err
	}
	if cur != nil {
		if cur.Topic.ID == dt.ID {
			return nil
		}
		if err := e.delete(ctx, tx, cur.Assoc.Ref()); err != nil {
			return err
		}
	}
	_, err = e.relate(ctx, tx, core.AggregationURI, typeRef, core.ParentRoleURI, dt.Ref(), core.ChildRoleURI)
	return err
}

func (e *Engine) setIndexModes(ctx context.Context, tx *txn.Tx, typeRef core.PlayerRef, modes []core.IndexMode) error {
	cur, err := e.b.GetRelatedTopics(ctx, tx, typeRef, aggregated(core.IndexModeURI))
	if err != nil {
		return err
	}
	for _, rt := range cur.Items {
		if err := e.delete(ctx, tx, rt.Assoc.Ref()); err != nil {
			return err
		}
	}
	seen := make(map[core.IndexMode]bool)
	for _, m := range modes {
		if m == core.IndexOff || seen[m] {
			continue
		}
		seen[m] = true
		mt, err := e.topicOfType(ctx, tx, m.URI(), core.IndexModeURI)
		if err != nil {
			return err
		}
		if _, err := e.relate(ctx, tx, core.AggregationURI, typeRef, core.ParentRoleURI, mt.Ref(), core.ChildRoleURI); err != nil {
			return err
		}
	}
	return nil
}

// addCompDef stores d as an association from the parent type to the child
// type and appends it to the parent's comp def sequence.
func (e *Engine) addCompDef(ctx context.Context, tx *txn.Tx, parentRef core.PlayerRef, d *core.CompDef) error {
	d.Normalize()
	child, err := e.b.FetchTopicByURI(ctx, tx, d.ChildTypeURI)
	if err != nil {
		return err
	}
	if !core.IsMetaType(child.TypeURI) {
		return core.Invalidf("comp def child %q is not a type", d.ChildTypeURI)
	}
	a := &core.AssocModel{
		TypeURI: d.TypeLevelAssocTypeURI(),
		Player1: core.PlayerModel{Ref: parentRef, RoleTypeURI: core.ParentTypeRoleURI},
		Player2: core.TopicPlayer(child.ID, core.ChildTypeRoleURI),
	}
	if err := e.createAssoc(ctx, tx, a); err != nil {
		return err
	}

	card, err := e.topicOfType(ctx, tx, d.Cardinality.URI(), core.CardinalityURI)
	if err != nil {
		return err
	}
	if _, err := e.relate(ctx, tx, core.AggregationURI, a.Ref(), core.ParentRoleURI, card.Ref(), core.ChildRoleURI); err != nil {
		return err
	}
	if d.CustomAssocTypeURI != "" {
		ct, err := e.topicOfType(ctx, tx, d.CustomAssocTypeURI, core.AssocTypeURI)
		if err != nil {
			return err
		}
		if _, err := e.relate(ctx, tx, core.AggregationURI, a.Ref(), core.ParentRoleURI, ct.Ref(), core.CustomAssocRoleURI); err != nil {
			return err
		}
	}
	if d.IncludeInLabel {
		incl := &core.TopicModel{TypeURI: core.IncludeInLabelURI, Value: core.Bool(true)}
		if err := e.createTopic(ctx, tx, incl); err != nil {
			return err
		}
		if _, err := e.relate(ctx, tx, core.CompositionURI, a.Ref(), core.ParentRoleURI, incl.Ref(), core.ChildRoleURI); err != nil {
			return err
		}
	}
	if err := sequence.New(ctx, e.b, tx, parentRef, core.CompositionDefURI).Append(a.ID); err != nil {
		return err
	}
	d.AssocID = a.ID
	return nil
}

func (e *Engine) storeViewConfig(ctx context.Context, tx *txn.Tx, typeRef core.PlayerRef, vc *core.ViewConfig) error {
	if vc == nil || vc.Topic == nil {
		return nil
	}
	cur, err := e.b.GetRelatedTopic(ctx, tx, typeRef, composed(core.ViewConfigURI))
	if err != nil {
		return err
	}
	if cur != nil {
		_, err := e.updateTopic(ctx, tx, &core.TopicModel{ID: cur.Topic.ID, Children: vc.Topic.Children})
		return err
	}
	topic := &core.TopicModel{TypeURI: core.ViewConfigURI, Children: vc.Topic.Children}
	if err := e.createTopic(ctx, tx, topic); err != nil {
		return err
	}
	_, err = e.relate(ctx, tx, core.CompositionURI, typeRef, core.ParentRoleURI, topic.Ref(), core.ChildRoleURI)
	return err
}

// CreateTopicType stores a new topic type with its comp defs and view config.
func (e *Engine) CreateTopicType(ctx context.Context, tx *txn.Tx, t *core.TypeModel) (*core.TypeModel, error) {
	t.TypeURI = core.TopicTypeURI
	return e.createType(ctx, tx, t)
}

// CreateAssocType stores a new association type.
func (e *Engine) CreateAssocType(ctx context.Context, tx *txn.Tx, t *core.TypeModel) (*core.TypeModel, error) {
	t.TypeURI = core.AssocTypeURI
	return e.createType(ctx, tx, t)
}

func (e *Engine) createType(ctx context.Context, tx *txn.Tx, t *core.TypeModel) (*core.TypeModel, error) {
	if t.URI == "" {
		return nil, core.Invalidf("type %q has no uri", t.Value.Text())
	}
	if t.DataTypeURI == "" {
		t.DataTypeURI = core.DataTypeText
	}
	if len(t.CompDefs) > 0 && !t.IsComposite() {
		return nil, core.Invalidf("type %q has comp defs but data type %s", t.URI, t.DataTypeURI)
	}
	topic := t.TopicModel
	topic.Children = nil
	if err := e.createTopic(ctx, tx, &topic); err != nil {
		return nil, err
	}
	e.touchType(tx, t.URI)

	ref := topic.Ref()
	if err := e.setDataType(ctx, tx, ref, t.DataTypeURI); err != nil {
		return nil, err
	}
	if err := e.setIndexModes(ctx, tx, ref, t.IndexModes); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, d := range t.CompDefs {
		d.ParentTypeURI = t.URI
		d.Normalize()
		if seen[d.CompDefURI] {
			return nil, core.Invalidf("type %q declares comp def %q twice", t.URI, d.CompDefURI)
		}
		seen[d.CompDefURI] = true
		if err := e.addCompDef(ctx, tx, ref, d); err != nil {
			return nil, err
		}
	}
	if err := e.storeViewConfig(ctx, tx, ref, t.ViewConfig); err != nil {
		return nil, err
	}
	tx.Logger().Info().Str("type", t.URI).Str("kind", t.TypeURI).Msg("type created")
	return e.getType(ctx, tx, t.URI)
}

func (e *Engine) getType(ctx context.Context, tx *txn.Tx, uri string) (*core.TypeModel, error) {
	t, err := e.typeByURI(ctx, tx, uri)
	if err != nil {
		return nil, err
	}
	return cloneType(t), nil
}

// GetTopicType returns the topic type with the given URI.
func (e *Engine) GetTopicType(ctx context.Context, tx *txn.Tx, uri string) (*core.TypeModel, error) {
	t, err := e.getType(ctx, tx, uri)
	if err != nil {
		return nil, err
	}
	if t.TypeURI == core.AssocTypeURI {
		return nil, core.NotFoundf("%q is an association type", uri)
	}
	return t, nil
}

// GetAssocType returns the association type with the given URI.
func (e *Engine) GetAssocType(ctx context.Context, tx *txn.Tx, uri string) (*core.TypeModel, error) {
	t, err := e.getType(ctx, tx, uri)
	if err != nil {
		return nil, err
	}
	if t.TypeURI != core.AssocTypeURI {
		return nil, core.NotFoundf("%q is not an association type", uri)
	}
	return t, nil
}

// GetTopicTypeURIs lists the URIs of all topic types, sorted.
func (e *Engine) GetTopicTypeURIs(ctx context.Context, tx *txn.Tx) ([]string, error) {
	return e.typeURIs(ctx, tx, core.TopicTypeURI)
}

// GetAssocTypeURIs lists the URIs of all association types, sorted.
func (e *Engine) GetAssocTypeURIs(ctx context.Context, tx *txn.Tx) ([]string, error) {
	return e.typeURIs(ctx, tx, core.AssocTypeURI)
}

func (e *Engine) typeURIs(ctx context.Context, tx *txn.Tx, metaTypeURI string) ([]string, error) {
	topics, err := e.b.FetchTopicsByType(ctx, tx, metaTypeURI)
	if err != nil {
		return nil, err
	}
	uris := make([]string, 0, len(topics))
	for _, t := range topics {
		uris = append(uris, t.URI)
	}
	sort.Strings(uris)
	return uris, nil
}

// AddCompDef appends a comp def to an existing composite type.
func (e *Engine) AddCompDef(ctx context.Context, tx *txn.Tx, typeURI string, d *core.CompDef) (*core.TypeModel, error) {
	t, err := e.typeByURI(ctx, tx, typeURI)
	if err != nil {
		return nil, err
	}
	if !t.IsComposite() {
		return nil, core.Invalidf("type %q is not composite", typeURI)
	}
	d.ParentTypeURI = typeURI
	d.Normalize()
	if _, ok := t.CompDef(d.CompDefURI); ok {
		return nil, core.Invalidf("type %q already has comp def %q", typeURI, d.CompDefURI)
	}
	e.touchType(tx, typeURI)
	if err := e.addCompDef(ctx, tx, t.Ref(), d); err != nil {
		return nil, err
	}
	return e.getType(ctx, tx, typeURI)
}

// RemoveCompDef deletes a comp def. Instance-level children stay in place but
// are no longer part of the composite.
func (e *Engine) RemoveCompDef(ctx context.Context, tx *txn.Tx, typeURI, compDefURI string) (*core.TypeModel, error) {
	t, err := e.typeByURI(ctx, tx, typeURI)
	if err != nil {
		return nil, err
	}
	d, ok := t.CompDef(compDefURI)
	if !ok {
		return nil, core.NotFoundf("type %q has no comp def %q", typeURI, compDefURI)
	}
	e.touchType(tx, typeURI)
	if err := e.delete(ctx, tx, core.AssocRef(d.AssocID)); err != nil {
		return nil, err
	}
	return e.getType(ctx, tx, typeURI)
}

// StoreViewConfig replaces the settings given in vc on the type's view config.
func (e *Engine) StoreViewConfig(ctx context.Context, tx *txn.Tx, typeURI string, vc *core.ViewConfig) (*core.TypeModel, error) {
	t, err := e.typeByURI(ctx, tx, typeURI)
	if err != nil {
		return nil, err
	}
	e.touchType(tx, typeURI)
	if err := e.storeViewConfig(ctx, tx, t.Ref(), vc); err != nil {
		return nil, err
	}
	return e.getType(ctx, tx, typeURI)
}

// DeleteTopicType deletes every instance of the type, then the type itself.
func (e *Engine) DeleteTopicType(ctx context.Context, tx *txn.Tx, uri string) error {
	t, err := e.GetTopicType(ctx, tx, uri)
	if err != nil {
		return err
	}
	instances, err := e.b.FetchTopicsByType(ctx, tx, uri)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if err := e.delete(ctx, tx, inst.Ref()); err != nil {
			return err
		}
	}
	return e.delete(ctx, tx, t.Ref())
}

// DeleteAssocType deletes every association of the type, then the type itself.
func (e *Engine) DeleteAssocType(ctx context.Context, tx *txn.Tx, uri string) error {
	t, err := e.GetAssocType(ctx, tx, uri)
	if err != nil {
		return err
	}
	instances, err := e.b.FetchAssocsByType(ctx, tx, uri)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if err := e.delete(ctx, tx, inst.Ref()); err != nil {
			return err
		}
	}
	return e.delete(ctx, tx, t.Ref())
}

// GetType resolves the type of any object through its instantiation edge.
// Instantiation associations have no type and yield nil.
func (e *Engine) GetType(ctx context.Context, tx *txn.Tx, ref core.PlayerRef) (*core.TypeModel, error) {
	t, err := e.b.FetchObjectType(ctx, tx, ref)
	if err != nil || t == nil {
		return nil, err
	}
	return e.getType(ctx, tx, t.URI)
}

// Classify tells the bootstrap root, types and instances apart.
func (e *Engine) Classify(ctx context.Context, tx *txn.Tx, ref core.PlayerRef) (core.TypeClass, error) {
	return e.b.Classify(ctx, tx, ref)
}
