package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/subscriptions"
)

var errNoSubscriptions = core.NotFoundf("subscriptions are disabled")

// CreateSubscription handles POST /api/subscriptions
func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		s.writeError(w, r, errNoSubscriptions)
		return
	}

	var req subscriptions.CreateSubscriptionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sub, err := s.subMgr.Register(&req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /api/subscriptions
func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		s.writeError(w, r, errNoSubscriptions)
		return
	}

	subs := s.subMgr.List()
	writeJSON(w, http.StatusOK, subscriptions.ListSubscriptionsResponse{
		Subscriptions: subs,
		Count:         len(subs),
	})
}

// GetSubscription handles GET /api/subscriptions/{id}
func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		s.writeError(w, r, errNoSubscriptions)
		return
	}

	sub, err := s.subMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// UpdateSubscription handles PATCH /api/subscriptions/{id}
func (s *Server) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		s.writeError(w, r, errNoSubscriptions)
		return
	}

	var req subscriptions.UpdateSubscriptionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sub, err := s.subMgr.Update(chi.URLParam(r, "id"), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// DeleteSubscription handles DELETE /api/subscriptions/{id}
func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		s.writeError(w, r, errNoSubscriptions)
		return
	}

	if err := s.subMgr.Unregister(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
