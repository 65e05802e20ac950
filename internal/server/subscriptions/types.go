package subscriptions

import (
	"time"

	"github.com/google/uuid"

	"github.com/systemshift/dmx/internal/core"
)

// Event represents a change in the graph that can trigger subscriptions
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // topic.created, topic.updated, topic.deleted, assoc.created, assoc.updated, assoc.deleted
	Timestamp time.Time `json:"timestamp"`

	Kind     string `json:"kind"` // topic or assoc
	ObjectID int64  `json:"object_id"`
	URI      string `json:"uri,omitempty"`
	TypeURI  string `json:"type_uri,omitempty"`
	Value    any    `json:"value,omitempty"`

	// Association event fields
	Players []core.PlayerRef `json:"players,omitempty"`

	// Context
	Meta map[string]any `json:"meta,omitempty"`
}

// Event type constants
const (
	EventTopicCreated = "topic.created"
	EventTopicUpdated = "topic.updated"
	EventTopicDeleted = "topic.deleted"
	EventAssocCreated = "assoc.created"
	EventAssocUpdated = "assoc.updated"
	EventAssocDeleted = "assoc.deleted"
)

// EventTypes lists every event type, in a stable order.
var EventTypes = []string{
	EventTopicCreated, EventTopicUpdated, EventTopicDeleted,
	EventAssocCreated, EventAssocUpdated, EventAssocDeleted,
}

// TopicEvent describes a change to t.
func TopicEvent(typ string, t *core.TopicModel) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
		Kind:      core.KindTopic.String(),
		ObjectID:  t.ID,
		URI:       t.URI,
		TypeURI:   t.TypeURI,
		Value:     t.Value.Raw(),
	}
}

// AssocEvent describes a change to a.
func AssocEvent(typ string, a *core.AssocModel) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
		Kind:      core.KindAssoc.String(),
		ObjectID:  a.ID,
		URI:       a.URI,
		TypeURI:   a.TypeURI,
		Value:     a.Value.Raw(),
		Players:   []core.PlayerRef{a.Player1.Ref, a.Player2.Ref},
	}
}

// SubscriptionPattern defines what events a subscription matches. Empty
// criteria match everything.
type SubscriptionPattern struct {
	EventTypes  []string       `json:"event_types,omitempty"`
	TypeURIs    []string       `json:"type_uris,omitempty"`
	ObjectKinds []string       `json:"object_kinds,omitempty"`
	MetaMatch   map[string]any `json:"meta_match,omitempty"`
}

// Subscription represents a standing pattern that fires when events match
type Subscription struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// What to match
	Pattern SubscriptionPattern `json:"pattern"`

	// How to notify
	Webhook string `json:"webhook"`

	// State
	Enabled   bool       `json:"enabled"`
	Created   time.Time  `json:"created"`
	Modified  time.Time  `json:"modified"`
	LastFired *time.Time `json:"last_fired,omitempty"`
	FireCount int        `json:"fire_count"`
}

// Notification is sent when a subscription pattern matches
type Notification struct {
	SubscriptionID   string    `json:"subscription_id"`
	SubscriptionName string    `json:"subscription_name"`
	Event            Event     `json:"event"`
	MatchedAt        time.Time `json:"matched_at"`
}

// CreateSubscriptionRequest is the API request to create a subscription
type CreateSubscriptionRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Pattern     SubscriptionPattern `json:"pattern"`
	Webhook     string              `json:"webhook"`
}

// UpdateSubscriptionRequest is the API request to update a subscription
type UpdateSubscriptionRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Pattern     *SubscriptionPattern `json:"pattern,omitempty"`
	Webhook     *string              `json:"webhook,omitempty"`
	Enabled     *bool                `json:"enabled,omitempty"`
}

// ListSubscriptionsResponse is the API response for listing subscriptions
type ListSubscriptionsResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Count         int             `json:"count"`
}
