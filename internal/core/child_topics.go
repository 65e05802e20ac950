package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ChildTopics is the composite tree of an object, keyed by comp def URI.
// Single-valued entries hold one related topic, multi-valued entries an
// ordered list. On input, a removed entry asks for the child to be deleted.
type ChildTopics struct {
	single  map[string]*RelatedTopic
	multi   map[string][]*RelatedTopic
	removed map[string]bool
}

// NewChildTopics returns an empty set.
func NewChildTopics() *ChildTopics {
	return &ChildTopics{
		single:  make(map[string]*RelatedTopic),
		multi:   make(map[string][]*RelatedTopic),
		removed: make(map[string]bool),
	}
}

// Set puts a single-valued child.
func (c *ChildTopics) Set(compDefURI string, t *TopicModel) *ChildTopics {
	return c.SetRelated(compDefURI, &RelatedTopic{Topic: t})
}

// SetValue puts a single-valued child given only by its value.
func (c *ChildTopics) SetValue(compDefURI string, v any) *ChildTopics {
	return c.Set(compDefURI, &TopicModel{Value: MustValue(v)})
}

// SetRef puts a single-valued child referencing an existing topic.
func (c *ChildTopics) SetRef(compDefURI string, topicID int64) *ChildTopics {
	return c.Set(compDefURI, &TopicModel{ID: topicID})
}

// SetRelated puts a single-valued child together with its association.
func (c *ChildTopics) SetRelated(compDefURI string, rt *RelatedTopic) *ChildTopics {
	delete(c.multi, compDefURI)
	delete(c.removed, compDefURI)
	c.single[compDefURI] = rt
	return c
}

// Add appends a multi-valued child.
func (c *ChildTopics) Add(compDefURI string, t *TopicModel) *ChildTopics {
	return c.AddRelated(compDefURI, &RelatedTopic{Topic: t})
}

// AddValue appends a multi-valued child given only by its value.
func (c *ChildTopics) AddValue(compDefURI string, v any) *ChildTopics {
	return c.Add(compDefURI, &TopicModel{Value: MustValue(v)})
}

// AddRelated appends a multi-valued child together with its association.
func (c *ChildTopics) AddRelated(compDefURI string, rt *RelatedTopic) *ChildTopics {
	delete(c.single, compDefURI)
	delete(c.removed, compDefURI)
	c.multi[compDefURI] = append(c.multi[compDefURI], rt)
	return c
}

// SetMulti replaces a multi-valued entry; an empty list removes all children.
func (c *ChildTopics) SetMulti(compDefURI string, items []*RelatedTopic) *ChildTopics {
	delete(c.single, compDefURI)
	delete(c.removed, compDefURI)
	c.multi[compDefURI] = append([]*RelatedTopic{}, items...)
	return c
}

// Remove marks the entry for deletion.
func (c *ChildTopics) Remove(compDefURI string) *ChildTopics {
	delete(c.single, compDefURI)
	delete(c.multi, compDefURI)
	c.removed[compDefURI] = true
	return c
}

// Get returns a single-valued child.
func (c *ChildTopics) Get(compDefURI string) (*RelatedTopic, bool) {
	if c == nil {
		return nil, false
	}
	rt, ok := c.single[compDefURI]
	return rt, ok
}

// GetTopics returns the children of a multi-valued entry in sequence order.
func (c *ChildTopics) GetTopics(compDefURI string) []*RelatedTopic {
	if c == nil {
		return nil
	}
	return c.multi[compDefURI]
}

// Value returns the simple value of a single-valued child.
func (c *ChildTopics) Value(compDefURI string) (SimpleValue, bool) {
	rt, ok := c.Get(compDefURI)
	if !ok || rt.Topic == nil {
		return SimpleValue{}, false
	}
	return rt.Topic.Value, true
}

// Has reports whether the entry is present (set, listed or removed).
func (c *ChildTopics) Has(compDefURI string) bool {
	if c == nil {
		return false
	}
	_, s := c.single[compDefURI]
	_, m := c.multi[compDefURI]
	return s || m || c.removed[compDefURI]
}

// IsMulti reports whether the entry holds a list.
func (c *ChildTopics) IsMulti(compDefURI string) bool {
	if c == nil {
		return false
	}
	_, ok := c.multi[compDefURI]
	return ok
}

// IsRemoved reports whether the entry is marked for deletion.
func (c *ChildTopics) IsRemoved(compDefURI string) bool {
	return c != nil && c.removed[compDefURI]
}

// URIs returns the comp def URIs of all entries, sorted.
func (c *ChildTopics) URIs() []string {
	if c == nil {
		return nil
	}
	uris := make([]string, 0, len(c.single)+len(c.multi)+len(c.removed))
	for uri := range c.single {
		uris = append(uris, uri)
	}
	for uri := range c.multi {
		uris = append(uris, uri)
	}
	for uri := range c.removed {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Len returns the number of entries.
func (c *ChildTopics) Len() int {
	if c == nil {
		return 0
	}
	return len(c.single) + len(c.multi) + len(c.removed)
}

// MarshalJSON renders single entries as objects, multi entries as arrays and
// removed entries as null.
func (c *ChildTopics) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, c.Len())
	for uri, rt := range c.single {
		out[uri] = rt
	}
	for uri, items := range c.multi {
		out[uri] = items
	}
	for uri := range c.removed {
		out[uri] = nil
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON. A bare topic object is accepted
// in place of a related topic.
func (c *ChildTopics) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = *NewChildTopics()
	for uri, msg := range raw {
		msg = bytes.TrimSpace(msg)
		switch {
		case bytes.Equal(msg, []byte("null")):
			c.Remove(uri)
		case len(msg) > 0 && msg[0] == '[':
			var items []json.RawMessage
			if err := json.Unmarshal(msg, &items); err != nil {
				return fmt.Errorf("decoding children %q: %w", uri, err)
			}
			list := make([]*RelatedTopic, 0, len(items))
			for _, item := range items {
				rt, err := decodeRelatedTopic(item)
				if err != nil {
					return fmt.Errorf("decoding child %q: %w", uri, err)
				}
				list = append(list, rt)
			}
			c.SetMulti(uri, list)
		default:
			rt, err := decodeRelatedTopic(msg)
			if err != nil {
				return fmt.Errorf("decoding child %q: %w", uri, err)
			}
			c.SetRelated(uri, rt)
		}
	}
	return nil
}

func decodeRelatedTopic(msg json.RawMessage) (*RelatedTopic, error) {
	if len(msg) > 0 && msg[0] != '{' {
		var v SimpleValue
		if err := json.Unmarshal(msg, &v); err != nil {
			return nil, err
		}
		return &RelatedTopic{Topic: &TopicModel{Value: v}}, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(msg, &probe); err != nil {
		return nil, err
	}
	if _, ok := probe["topic"]; ok {
		var rt RelatedTopic
		if err := json.Unmarshal(msg, &rt); err != nil {
			return nil, err
		}
		return &rt, nil
	}
	var t TopicModel
	if err := json.Unmarshal(msg, &t); err != nil {
		return nil, err
	}
	return &RelatedTopic{Topic: &t}, nil
}
