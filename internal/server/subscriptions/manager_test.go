package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/dmx/internal/core"
)

func TestMatch(t *testing.T) {
	person := &core.TopicModel{ID: 7, URI: "people.ada", TypeURI: "test.person", Value: core.String("Ada")}
	created := TopicEvent(EventTopicCreated, person)
	created.Meta = map[string]any{"workspace_id": int64(3)}

	tests := []struct {
		name    string
		pattern SubscriptionPattern
		want    bool
	}{
		{"empty pattern", SubscriptionPattern{}, true},
		{"event type", SubscriptionPattern{EventTypes: []string{EventTopicCreated}}, true},
		{"other event type", SubscriptionPattern{EventTypes: []string{EventAssocCreated}}, false},
		{"type uri", SubscriptionPattern{TypeURIs: []string{"test.city", "test.person"}}, true},
		{"other type uri", SubscriptionPattern{TypeURIs: []string{"test.city"}}, false},
		{"kind", SubscriptionPattern{ObjectKinds: []string{"assoc"}}, false},
		{"value ignores case", SubscriptionPattern{MetaMatch: map[string]any{"value": "ada"}}, true},
		{"uri", SubscriptionPattern{MetaMatch: map[string]any{"uri": "people.ada"}}, true},
		{"numeric meta", SubscriptionPattern{MetaMatch: map[string]any{"workspace_id": float64(3)}}, true},
		{"missing meta", SubscriptionPattern{MetaMatch: map[string]any{"username": "bob"}}, false},
	}
	m := NewMatcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(created, tt.pattern))
		})
	}
}

func TestRegisterValidates(t *testing.T) {
	m := NewManager(10, zerolog.Nop())

	_, err := m.Register(&CreateSubscriptionRequest{Webhook: "http://example.com"})
	assert.ErrorIs(t, err, core.ErrInvalidModel)

	_, err = m.Register(&CreateSubscriptionRequest{Name: "x", Webhook: "ftp://example.com"})
	assert.ErrorIs(t, err, core.ErrInvalidModel)

	_, err = m.Register(&CreateSubscriptionRequest{
		Name:    "x",
		Webhook: "http://example.com",
		Pattern: SubscriptionPattern{EventTypes: []string{"node.created"}},
	})
	assert.ErrorIs(t, err, core.ErrInvalidModel)

	sub, err := m.Register(&CreateSubscriptionRequest{Name: "x", Webhook: "http://example.com"})
	require.NoError(t, err)
	assert.True(t, sub.Enabled)
	assert.Len(t, m.List(), 1)
}

func TestUpdateAndUnregister(t *testing.T) {
	m := NewManager(10, zerolog.Nop())
	sub, err := m.Register(&CreateSubscriptionRequest{Name: "x", Webhook: "http://example.com"})
	require.NoError(t, err)

	off := false
	name := "renamed"
	updated, err := m.Update(sub.ID, &UpdateSubscriptionRequest{Name: &name, Enabled: &off})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.Enabled)

	require.NoError(t, m.Unregister(sub.ID))
	assert.ErrorIs(t, m.Unregister(sub.ID), core.ErrNotFound)
	_, err = m.Get(sub.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = m.Update(sub.ID, &UpdateSubscriptionRequest{Name: &name})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMatchingEventIsDelivered(t *testing.T) {
	received := make(chan Notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err == nil {
			received <- n
		}
		assert.Equal(t, EventTopicCreated, r.Header.Get("X-DMX-Event"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewManager(10, zerolog.Nop())
	m.Start()
	defer m.Stop()

	sub, err := m.Register(&CreateSubscriptionRequest{
		Name:    "people",
		Webhook: srv.URL,
		Pattern: SubscriptionPattern{TypeURIs: []string{"test.person"}},
	})
	require.NoError(t, err)

	m.EmitEvent(TopicEvent(EventTopicCreated, &core.TopicModel{ID: 1, TypeURI: "test.city"}))
	m.EmitEvent(TopicEvent(EventTopicCreated, &core.TopicModel{ID: 2, TypeURI: "test.person"}))

	select {
	case n := <-received:
		assert.Equal(t, sub.ID, n.SubscriptionID)
		assert.Equal(t, int64(2), n.Event.ObjectID)
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}

	got, err := m.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FireCount)
	assert.NotNil(t, got.LastFired)
}

func TestFullQueueDropsEvents(t *testing.T) {
	m := NewManager(1, zerolog.Nop())
	// not started: nothing drains the queue
	m.EmitEvent(Event{ID: "a"})
	m.EmitEvent(Event{ID: "b"})
	assert.Len(t, m.eventChan, 1)
	m.Stop()
	m.EmitEvent(Event{ID: "c"})
}

func TestWebhookRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(zerolog.Nop())
	n.backoff = func(int) time.Duration { return time.Millisecond }
	require.NoError(t, n.SendWebhook(context.Background(), srv.URL, Notification{}))
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(-10)
	err := n.SendWebhook(context.Background(), srv.URL, Notification{})
	var we *WebhookError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, http.StatusServiceUnavailable, we.StatusCode)
}
