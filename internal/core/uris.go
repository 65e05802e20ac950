package core

// Well-known URIs of the core type system. These topics are created once, on a
// clean install, and every other type is built from them.
const (
	// Meta types
	MetaMetaTypeURI = "dmx.core.meta_meta_type"
	MetaTypeURI     = "dmx.core.meta_type"
	TopicTypeURI    = "dmx.core.topic_type"
	AssocTypeURI    = "dmx.core.assoc_type"

	// Topic types of the type system itself
	DataTypeURI       = "dmx.core.data_type"
	RoleTypeURI       = "dmx.core.role_type"
	IndexModeURI      = "dmx.core.index_mode"
	CardinalityURI    = "dmx.core.cardinality"
	IncludeInLabelURI = "dmx.core.include_in_label"
	ViewConfigURI     = "dmx.core.view_config"

	// View configuration settings
	ViewIconURI  = "dmx.core.view_icon"
	ViewColorURI = "dmx.core.view_color"

	// Data types
	DataTypeText      = "dmx.core.text"
	DataTypeNumber    = "dmx.core.number"
	DataTypeBoolean   = "dmx.core.boolean"
	DataTypeComposite = "dmx.core.composite"

	// Index mode topics
	IndexModeKeyURI         = "dmx.core.key"
	IndexModeFulltextURI    = "dmx.core.fulltext"
	IndexModeFulltextKeyURI = "dmx.core.fulltext_key"

	// Cardinality topics
	CardinalityOneURI  = "dmx.core.one"
	CardinalityManyURI = "dmx.core.many"

	// Association types
	InstantiationURI  = "dmx.core.instantiation"
	CompositionURI    = "dmx.core.composition"
	AggregationURI    = "dmx.core.aggregation"
	CompositionDefURI = "dmx.core.composition_def"
	AggregationDefURI = "dmx.core.aggregation_def"
	SequenceURI       = "dmx.core.sequence"
	SequenceStartURI  = "dmx.core.sequence_start"
	AssociationURI    = "dmx.core.association"

	// Role types
	InstanceRoleURI    = "dmx.core.instance"
	TypeRoleURI        = "dmx.core.type"
	ParentRoleURI      = "dmx.core.parent"
	ChildRoleURI       = "dmx.core.child"
	ParentTypeRoleURI  = "dmx.core.parent_type"
	ChildTypeRoleURI   = "dmx.core.child_type"
	PredecessorRoleURI = "dmx.core.predecessor"
	SuccessorRoleURI   = "dmx.core.successor"
	DefaultRoleURI     = "dmx.core.default"
	CustomAssocRoleURI = "dmx.core.custom_assoc_type"
)

// RootID is the store slot of the bootstrap meta-meta-type.
const RootID int64 = 0

// IsMetaType reports whether uri names one of the types whose instances are types.
func IsMetaType(uri string) bool {
	switch uri {
	case MetaMetaTypeURI, MetaTypeURI, TopicTypeURI, AssocTypeURI:
		return true
	}
	return false
}
