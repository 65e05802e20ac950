package engine

import (
	"context"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/txn"
)

// coreTopic is one topic of the core type system. Each entry's type comes
// earlier in coreTopics.
type coreTopic struct {
	uri, typeURI, name string
	dataType           string // types only
}

var coreTopics = []coreTopic{
	{core.MetaTypeURI, core.MetaMetaTypeURI, "Meta Type", core.DataTypeText},
	{core.TopicTypeURI, core.MetaTypeURI, "Topic Type", core.DataTypeText},
	{core.AssocTypeURI, core.MetaTypeURI, "Association Type", core.DataTypeText},

	{core.DataTypeURI, core.TopicTypeURI, "Data Type", core.DataTypeText},
	{core.RoleTypeURI, core.TopicTypeURI, "Role Type", core.DataTypeText},
	{core.IndexModeURI, core.TopicTypeURI, "Index Mode", core.DataTypeText},
	{core.CardinalityURI, core.TopicTypeURI, "Cardinality", core.DataTypeText},
	{core.IncludeInLabelURI, core.TopicTypeURI, "Include in Label", core.DataTypeBoolean},
	{core.ViewConfigURI, core.TopicTypeURI, "View Configuration", core.DataTypeComposite},
	{core.ViewIconURI, core.TopicTypeURI, "Icon", core.DataTypeText},
	{core.ViewColorURI, core.TopicTypeURI, "Color", core.DataTypeText},

	{core.DataTypeText, core.DataTypeURI, "Text", ""},
	{core.DataTypeNumber, core.DataTypeURI, "Number", ""},
	{core.DataTypeBoolean, core.DataTypeURI, "Boolean", ""},
	{core.DataTypeComposite, core.DataTypeURI, "Composite", ""},

	{core.IndexModeKeyURI, core.IndexModeURI, "Key", ""},
	{core.IndexModeFulltextURI, core.IndexModeURI, "Fulltext", ""},
	{core.IndexModeFulltextKeyURI, core.IndexModeURI, "Fulltext Key", ""},

	{core.CardinalityOneURI, core.CardinalityURI, "One", ""},
	{core.CardinalityManyURI, core.CardinalityURI, "Many", ""},

	{core.InstanceRoleURI, core.RoleTypeURI, "Instance", ""},
	{core.TypeRoleURI, core.RoleTypeURI, "Type", ""},
	{core.ParentRoleURI, core.RoleTypeURI, "Parent", ""},
	{core.ChildRoleURI, core.RoleTypeURI, "Child", ""},
	{core.ParentTypeRoleURI, core.RoleTypeURI, "Parent Type", ""},
	{core.ChildTypeRoleURI, core.RoleTypeURI, "Child Type", ""},
	{core.PredecessorRoleURI, core.RoleTypeURI, "Predecessor", ""},
	{core.SuccessorRoleURI, core.RoleTypeURI, "Successor", ""},
	{core.DefaultRoleURI, core.RoleTypeURI, "Default", ""},
	{core.CustomAssocRoleURI, core.RoleTypeURI, "Custom Association Type", ""},

	{core.InstantiationURI, core.AssocTypeURI, "Instantiation", core.DataTypeText},
	{core.CompositionURI, core.AssocTypeURI, "Composition", core.DataTypeText},
	{core.AggregationURI, core.AssocTypeURI, "Aggregation", core.DataTypeText},
	{core.CompositionDefURI, core.AssocTypeURI, "Composition Definition", core.DataTypeText},
	{core.AggregationDefURI, core.AssocTypeURI, "Aggregation Definition", core.DataTypeText},
	{core.SequenceURI, core.AssocTypeURI, "Sequence", core.DataTypeText},
	{core.SequenceStartURI, core.AssocTypeURI, "Sequence Start", core.DataTypeText},
	{core.AssociationURI, core.AssocTypeURI, "Association", core.DataTypeText},
}

// bootstrap installs the core type system on a fresh store. Topics come
// first, then the associations between them, since those need the
// association types to exist.
func (e *Engine) bootstrap(ctx context.Context, tx *txn.Tx) error {
	ids := make(map[string]int64, len(coreTopics))
	for _, ct := range coreTopics {
		t := &core.TopicModel{URI: ct.uri, TypeURI: ct.typeURI, Value: core.String(ct.name)}
		if err := e.createTopic(ctx, tx, t); err != nil {
			return err
		}
		ids[ct.uri] = t.ID
	}
	for _, ct := range coreTopics {
		if ct.dataType == "" {
			continue
		}
		if err := e.setDataType(ctx, tx, core.TopicRef(ids[ct.uri]), ct.dataType); err != nil {
			return err
		}
		e.touchType(tx, ct.uri)
	}

	viewConfig := core.TopicRef(ids[core.ViewConfigURI])
	for _, setting := range []string{core.ViewIconURI, core.ViewColorURI} {
		d := &core.CompDef{ParentTypeURI: core.ViewConfigURI, ChildTypeURI: setting, Cardinality: core.One}
		if err := e.addCompDef(ctx, tx, viewConfig, d); err != nil {
			return err
		}
	}
	e.touchAllTypes(tx)

	tx.Logger().Info().Int("topics", len(coreTopics)).Msg("core type system created")
	return nil
}
