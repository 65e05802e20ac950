// Package subscriptions delivers committed graph changes to webhooks whose
// patterns match them.
package subscriptions

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/metrics"
)

// EventEmitter is a function that receives committed events
type EventEmitter func(Event)

// Manager handles subscription lifecycle and event processing
type Manager struct {
	subscriptions map[string]*Subscription
	eventChan     chan Event
	notifier      *Notifier
	matcher       *Matcher
	log           zerolog.Logger
	mu            sync.RWMutex
	closed        bool
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewManager creates a new subscription manager. queueSize bounds the events
// waiting for evaluation; further events are dropped.
func NewManager(queueSize int, log zerolog.Logger) *Manager {
	if queueSize <= 0 {
		queueSize = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		subscriptions: make(map[string]*Subscription),
		eventChan:     make(chan Event, queueSize),
		notifier:      NewNotifier(log),
		matcher:       NewMatcher(),
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins processing events
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.processEvents()
	m.log.Info().Msg("subscription manager started")
}

// Stop drains the queue, waits for running deliveries and shuts down.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.eventChan)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.log.Info().Msg("subscription manager stopped")
}

// EmitEvent queues an event without blocking; a full queue drops it.
func (m *Manager) EmitEvent(event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.eventChan <- event:
	default:
		metrics.EventsDroppedTotal.Inc()
		m.log.Warn().Str("event", event.ID).Str("type", event.Type).Msg("event queue full, dropping event")
	}
}

// GetEmitter returns a function that can be used to emit events
func (m *Manager) GetEmitter() EventEmitter {
	return m.EmitEvent
}

// Register adds a new subscription
func (m *Manager) Register(req *CreateSubscriptionRequest) (*Subscription, error) {
	if req.Name == "" {
		return nil, core.Invalidf("subscription name is required")
	}
	if err := validateWebhook(req.Webhook); err != nil {
		return nil, err
	}
	if err := validatePattern(req.Pattern); err != nil {
		return nil, err
	}

	now := time.Now()
	sub := &Subscription{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Pattern:     req.Pattern,
		Webhook:     req.Webhook,
		Enabled:     true,
		Created:     now,
		Modified:    now,
	}

	m.mu.Lock()
	m.subscriptions[sub.ID] = sub
	m.mu.Unlock()

	m.log.Info().Str("subscription", sub.ID).Str("name", sub.Name).Msg("subscription registered")
	return sub.clone(), nil
}

// Unregister removes a subscription
func (m *Manager) Unregister(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subscriptions[id]; !exists {
		return core.NotFoundf("subscription %s", id)
	}
	delete(m.subscriptions, id)

	m.log.Info().Str("subscription", id).Msg("subscription unregistered")
	return nil
}

// Update modifies an existing subscription
func (m *Manager) Update(id string, req *UpdateSubscriptionRequest) (*Subscription, error) {
	if req.Webhook != nil {
		if err := validateWebhook(*req.Webhook); err != nil {
			return nil, err
		}
	}
	if req.Pattern != nil {
		if err := validatePattern(*req.Pattern); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return nil, core.NotFoundf("subscription %s", id)
	}
	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.Description != nil {
		sub.Description = *req.Description
	}
	if req.Pattern != nil {
		sub.Pattern = *req.Pattern
	}
	if req.Webhook != nil {
		sub.Webhook = *req.Webhook
	}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}
	sub.Modified = time.Now()
	return sub.clone(), nil
}

// Get returns a subscription by ID
func (m *Manager) Get(id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return nil, core.NotFoundf("subscription %s", id)
	}
	return sub.clone(), nil
}

// List returns all subscriptions, oldest first.
func (m *Manager) List() []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		result = append(result, sub.clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Created.Before(result[j].Created)
	})
	return result
}

// processEvents is the main event processing loop
func (m *Manager) processEvents() {
	defer m.wg.Done()

	for event := range m.eventChan {
		m.handleEvent(event)
	}
}

// handleEvent processes a single event against all subscriptions
func (m *Manager) handleEvent(event Event) {
	m.mu.Lock()
	var fired []*Subscription
	now := time.Now()
	for _, sub := range m.subscriptions {
		if !sub.Enabled || !m.matcher.Match(event, sub.Pattern) {
			continue
		}
		sub.LastFired = &now
		sub.FireCount++
		fired = append(fired, sub.clone())
	}
	m.mu.Unlock()

	for _, sub := range fired {
		notification := Notification{
			SubscriptionID:   sub.ID,
			SubscriptionName: sub.Name,
			Event:            event,
			MatchedAt:        now,
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			_ = m.notifier.SendWebhook(m.ctx, sub.Webhook, notification)
		}()
		m.log.Debug().Str("subscription", sub.ID).Str("event", event.Type).Msg("subscription fired")
	}
}

func (s *Subscription) clone() *Subscription {
	c := *s
	if s.LastFired != nil {
		t := *s.LastFired
		c.LastFired = &t
	}
	return &c
}

func validateWebhook(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return core.Invalidf("webhook %q is not an http(s) URL", raw)
	}
	return nil
}

func validatePattern(p SubscriptionPattern) error {
	known := make(map[string]bool, len(EventTypes))
	for _, t := range EventTypes {
		known[t] = true
	}
	for _, t := range p.EventTypes {
		if !known[t] {
			return core.Invalidf("unknown event type %q", t)
		}
	}
	for _, k := range p.ObjectKinds {
		if _, err := core.ParseObjectKind(k); err != nil {
			return core.Invalidf("%v", err)
		}
	}
	return nil
}
