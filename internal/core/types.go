package core

import (
	"fmt"
	"strings"
)

// IndexMode controls how a value is indexed for later lookup.
type IndexMode int

const (
	IndexOff IndexMode = iota
	IndexKey
	IndexFulltext
	IndexFulltextKey
)

var indexModeURIs = map[IndexMode]string{
	IndexKey:         IndexModeKeyURI,
	IndexFulltext:    IndexModeFulltextURI,
	IndexFulltextKey: IndexModeFulltextKeyURI,
}

func (m IndexMode) String() string {
	switch m {
	case IndexOff:
		return "OFF"
	case IndexKey:
		return "KEY"
	case IndexFulltext:
		return "FULLTEXT"
	case IndexFulltextKey:
		return "FULLTEXT_KEY"
	}
	return fmt.Sprintf("IndexMode(%d)", int(m))
}

// URI returns the URI of the index mode topic; OFF has none.
func (m IndexMode) URI() string { return indexModeURIs[m] }

// IndexModeFromURI maps an index mode topic URI back to its mode.
func IndexModeFromURI(uri string) (IndexMode, error) {
	for m, u := range indexModeURIs {
		if u == uri {
			return m, nil
		}
	}
	return IndexOff, fmt.Errorf("unknown index mode %q", uri)
}

// ParseIndexMode accepts the String form of an index mode.
func ParseIndexMode(s string) (IndexMode, error) {
	switch strings.ToUpper(s) {
	case "OFF":
		return IndexOff, nil
	case "KEY":
		return IndexKey, nil
	case "FULLTEXT":
		return IndexFulltext, nil
	case "FULLTEXT_KEY":
		return IndexFulltextKey, nil
	}
	return IndexOff, fmt.Errorf("unknown index mode %q", s)
}

func (m IndexMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *IndexMode) UnmarshalText(b []byte) error {
	mode, err := ParseIndexMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Cardinality of a comp def's child end.
type Cardinality int

const (
	One Cardinality = iota + 1
	Many
)

func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	}
	return fmt.Sprintf("Cardinality(%d)", int(c))
}

// URI returns the URI of the cardinality topic.
func (c Cardinality) URI() string {
	if c == Many {
		return CardinalityManyURI
	}
	return CardinalityOneURI
}

// CardinalityFromURI maps a cardinality topic URI back to its value.
func CardinalityFromURI(uri string) (Cardinality, error) {
	switch uri {
	case CardinalityOneURI:
		return One, nil
	case CardinalityManyURI:
		return Many, nil
	}
	return 0, fmt.Errorf("unknown cardinality %q", uri)
}

func (c Cardinality) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Cardinality) UnmarshalText(b []byte) error {
	switch string(b) {
	case "one", "":
		*c = One
	case "many":
		*c = Many
	default:
		return fmt.Errorf("unknown cardinality %q", b)
	}
	return nil
}

// CompDef declares one composition or aggregation edge between a parent type
// and a child type.
type CompDef struct {
	CompDefURI         string      `json:"comp_def_uri"`
	ParentTypeURI      string      `json:"parent_type_uri"`
	ChildTypeURI       string      `json:"child_type_uri"`
	CustomAssocTypeURI string      `json:"custom_assoc_type_uri,omitempty"`
	Cardinality        Cardinality `json:"child_cardinality"`
	Aggregation        bool        `json:"aggregation,omitempty"`
	IncludeInLabel     bool        `json:"include_in_label,omitempty"`

	// AssocID is the id of the association storing this definition.
	AssocID int64 `json:"assoc_id,omitempty"`
}

// BuildCompDefURI derives a comp def URI from its child type and custom type.
func BuildCompDefURI(childTypeURI, customAssocTypeURI string) string {
	if customAssocTypeURI == "" {
		return childTypeURI
	}
	return childTypeURI + "#" + customAssocTypeURI
}

// Normalize fills CompDefURI and Cardinality when unset.
func (d *CompDef) Normalize() {
	if d.CompDefURI == "" {
		d.CompDefURI = BuildCompDefURI(d.ChildTypeURI, d.CustomAssocTypeURI)
	}
	if d.Cardinality == 0 {
		d.Cardinality = One
	}
}

// InstanceLevelAssocTypeURI is the association type used between parent and
// child instances.
func (d *CompDef) InstanceLevelAssocTypeURI() string {
	if d.CustomAssocTypeURI != "" {
		return d.CustomAssocTypeURI
	}
	if d.Aggregation {
		return AggregationURI
	}
	return CompositionURI
}

// TypeLevelAssocTypeURI is the association type storing the definition itself.
func (d *CompDef) TypeLevelAssocTypeURI() string {
	if d.Aggregation {
		return AggregationDefURI
	}
	return CompositionDefURI
}

// IsMulti reports whether the child end holds a list.
func (d *CompDef) IsMulti() bool { return d.Cardinality == Many }

// ViewConfig is the view configuration topic of a type. Settings are its
// child topics, keyed by the setting's comp def URI.
type ViewConfig struct {
	Topic *TopicModel `json:"topic"`
}

// NewViewConfig returns an empty configuration.
func NewViewConfig() *ViewConfig {
	return &ViewConfig{Topic: &TopicModel{TypeURI: ViewConfigURI, Children: NewChildTopics()}}
}

// Setting returns one setting value.
func (v *ViewConfig) Setting(uri string) (SimpleValue, bool) {
	if v == nil || v.Topic == nil {
		return SimpleValue{}, false
	}
	return v.Topic.Children.Value(uri)
}

// Set puts one setting value.
func (v *ViewConfig) Set(uri string, value any) *ViewConfig {
	v.Topic.ChildTopics().SetValue(uri, value)
	return v
}

// TypeModel is a topic type or association type: a topic plus its data type,
// index modes, ordered comp defs and view configuration.
type TypeModel struct {
	TopicModel
	DataTypeURI string      `json:"data_type_uri"`
	IndexModes  []IndexMode `json:"index_modes,omitempty"`
	CompDefs    []*CompDef  `json:"comp_defs,omitempty"`
	ViewConfig  *ViewConfig `json:"view_config,omitempty"`
}

// NewTopicType returns a topic type model.
func NewTopicType(uri, name, dataTypeURI string) *TypeModel {
	return &TypeModel{
		TopicModel:  TopicModel{URI: uri, TypeURI: TopicTypeURI, Value: String(name)},
		DataTypeURI: dataTypeURI,
	}
}

// NewAssocType returns an association type model.
func NewAssocType(uri, name, dataTypeURI string) *TypeModel {
	return &TypeModel{
		TopicModel:  TopicModel{URI: uri, TypeURI: AssocTypeURI, Value: String(name)},
		DataTypeURI: dataTypeURI,
	}
}

// AddCompDef appends a comp def and returns the type for chaining.
func (t *TypeModel) AddCompDef(d *CompDef) *TypeModel {
	d.ParentTypeURI = t.URI
	d.Normalize()
	t.CompDefs = append(t.CompDefs, d)
	return t
}

// CompDef looks up a comp def by URI.
func (t *TypeModel) CompDef(compDefURI string) (*CompDef, bool) {
	for _, d := range t.CompDefs {
		if d.CompDefURI == compDefURI {
			return d, true
		}
	}
	return nil, false
}

// IsComposite reports whether instances carry child topics.
func (t *TypeModel) IsComposite() bool { return t.DataTypeURI == DataTypeComposite }

// IsTopicType reports whether the type describes topics.
func (t *TypeModel) IsTopicType() bool { return t.TypeURI != AssocTypeURI }

// HasIndexMode reports whether m is configured.
func (t *TypeModel) HasIndexMode(m IndexMode) bool {
	for _, im := range t.IndexModes {
		if im == m {
			return true
		}
	}
	return false
}

// LabelConfig lists the comp defs whose children make up the label of a
// composite instance.
func (t *TypeModel) LabelConfig() []string {
	var uris []string
	for _, d := range t.CompDefs {
		if d.IncludeInLabel {
			uris = append(uris, d.CompDefURI)
		}
	}
	return uris
}

// TypeClass is the closed set of roles an object plays in the self-describing
// type system.
type TypeClass int

const (
	// ClassBootstrap is the meta-meta-type at the root slot; it has no type edge.
	ClassBootstrap TypeClass = iota + 1
	// ClassType is a topic whose type is a meta type.
	ClassType
	// ClassInstance is every other object.
	ClassInstance
)

func (c TypeClass) String() string {
	switch c {
	case ClassBootstrap:
		return "bootstrap"
	case ClassType:
		return "type"
	case ClassInstance:
		return "instance"
	}
	return fmt.Sprintf("TypeClass(%d)", int(c))
}

// ClassOf classifies a topic by its id and type URI.
func ClassOf(t *TopicModel) TypeClass {
	switch {
	case t.ID == RootID && t.URI == MetaMetaTypeURI:
		return ClassBootstrap
	case IsMetaType(t.TypeURI):
		return ClassType
	}
	return ClassInstance
}
