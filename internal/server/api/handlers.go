package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/storage"
	"github.com/systemshift/dmx/internal/server/txn"
)

// CreateTopic handles POST /api/topics
func (s *Server) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var m core.TopicModel
	if err := decode(r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}

	var t *core.TopicModel
	err := s.run(r, func(tx *txn.Tx) error {
		var err error
		t, err = s.engine.CreateTopic(r.Context(), tx, &m)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListTopics handles GET /api/topics
// Exactly one selector: ?type=URI, ?query=TEXT (optionally with ?key=), or
// ?key=KEY&value=V for an exact index lookup.
func (s *Server) ListTopics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typeURI, text, key := q.Get("type"), q.Get("query"), q.Get("key")

	var topics []*core.TopicModel
	err := s.run(r, func(tx *txn.Tx) error {
		var err error
		switch {
		case typeURI != "":
			topics, err = s.engine.GetTopicsByType(r.Context(), tx, typeURI)
		case text != "":
			topics, err = s.engine.SearchTopics(r.Context(), tx, text, core.NonEmpty(key))
		case key != "" && q.Has("value"):
			topics, err = s.engine.GetTopicsByValue(r.Context(), tx, key, queryValue(q.Get("value")))
		default:
			err = core.Invalidf("one of type, query or key+value is required")
		}
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if topics == nil {
		topics = []*core.TopicModel{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topics": topics,
		"count":  len(topics),
	})
}

// GetTopic handles GET /api/topics/{id}
// ?children=true includes the child tree.
func (s *Server) GetTopic(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	children := r.URL.Query().Get("children") == "true"

	var t *core.TopicModel
	err = s.run(r, func(tx *txn.Tx) error {
		var err error
		t, err = s.engine.GetTopic(r.Context(), tx, id, children)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetTopicByURI handles GET /api/topics/by-uri/{uri}
func (s *Server) GetTopicByURI(w http.ResponseWriter, r *http.Request) {
	uri := chi.URLParam(r, "uri")
	children := r.URL.Query().Get("children") == "true"

	var t *core.TopicModel
	err := s.run(r, func(tx *txn.Tx) error {
		var err error
		t, err = s.engine.GetTopicByURI(r.Context(), tx, uri, children)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateTopic handles PUT /api/topics/{id}
// Only the fields present in the body change.
func (s *Server) UpdateTopic(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var m core.TopicModel
	if err := decode(r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}
	m.ID = id

	var t *core.TopicModel
	err = s.run(r, func(tx *txn.Tx) error {
		var err error
		t, err = s.engine.UpdateTopic(r.Context(), tx, &m)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTopic handles DELETE /api/topics/{id}
func (s *Server) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.run(r, func(tx *txn.Tx) error {
		return s.engine.DeleteTopic(r.Context(), tx, id)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRelatedTopics handles GET /api/topics/{id}/related
// Filters: assoc_type (repeatable), my_role, others_role, others_type, limit.
func (s *Server) GetRelatedTopics(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := relatedQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var related core.RelatedTopics
	err = s.run(r, func(tx *txn.Tx) error {
		var err error
		related, err = s.engine.GetRelatedTopics(r.Context(), tx, core.TopicRef(id), q)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if related.Items == nil {
		related.Items = []*core.RelatedTopic{}
	}
	writeJSON(w, http.StatusOK, related)
}

// GetTopicTypeOf handles GET /api/topics/{id}/type
func (s *Server) GetTopicTypeOf(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var typ *core.TypeModel
	err = s.run(r, func(tx *txn.Tx) error {
		var err error
		typ, err = s.engine.GetType(r.Context(), tx, core.TopicRef(id))
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, typ)
}

// CreateAssoc handles POST /api/assocs
func (s *Server) CreateAssoc(w http.ResponseWriter, r *http.Request) {
	var m core.AssocModel
	if err := decode(r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}

	var a *core.AssocModel
	err := s.run(r, func(tx *txn.Tx) error {
		var err error
		a, err = s.engine.CreateAssoc(r.Context(), tx, &m)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAssocs handles GET /api/assocs
// Selectors: ?type=URI, ?uri=URI, ?player=kind:id, or ?player1=kind:id&player2=kind:id
// (optionally with ?type=).
func (s *Server) ListAssocs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var assocs []*core.AssocModel
	err := s.run(r, func(tx *txn.Tx) error {
		ctx := r.Context()
		switch {
		case q.Get("player1") != "" || q.Get("player2") != "":
			p1, err := parseRef(q.Get("player1"))
			if err != nil {
				return err
			}
			p2, err := parseRef(q.Get("player2"))
			if err != nil {
				return err
			}
			assocs, err = s.engine.GetAssocsBetween(ctx, tx, storage.Between{
				TypeURI: core.NonEmpty(q.Get("type")),
				Player1: p1,
				Player2: p2,
			})
			return err
		case q.Get("player") != "":
			ref, err := parseRef(q.Get("player"))
			if err != nil {
				return err
			}
			assocs, err = s.engine.GetAssocs(ctx, tx, ref)
			return err
		case q.Get("uri") != "":
			a, err := s.engine.GetAssocByURI(ctx, tx, q.Get("uri"))
			if err != nil {
				return err
			}
			assocs = []*core.AssocModel{a}
			return nil
		case q.Get("type") != "":
			var err error
			assocs, err = s.engine.GetAssocsByType(ctx, tx, q.Get("type"))
			return err
		}
		return core.Invalidf("one of type, uri, player or player1+player2 is required")
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if assocs == nil {
		assocs = []*core.AssocModel{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assocs": assocs,
		"count":  len(assocs),
	})
}

// GetAssoc handles GET /api/assocs/{id}
func (s *Server) GetAssoc(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	children := r.URL.Query().Get("children") == "true"

	var a *core.AssocModel
	err = s.run(r, func(tx *txn.Tx) error {
		var err error
		a, err = s.engine.GetAssoc(r.Context(), tx, id, children)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateAssoc handles PUT /api/assocs/{id}
func (s *Server) UpdateAssoc(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var m core.AssocModel
	if err := decode(r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}
	m.ID = id

	var a *core.AssocModel
	err = s.run(r, func(tx *txn.Tx) error {
		var err error
		a, err = s.engine.UpdateAssoc(r.Context(), tx, &m)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DeleteAssoc handles DELETE /api/assocs/{id}
func (s *Server) DeleteAssoc(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.run(r, func(tx *txn.Tx) error {
		return s.engine.DeleteAssoc(r.Context(), tx, id)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func relatedQuery(r *http.Request) (storage.RelatedQuery, error) {
	q := r.URL.Query()
	rq := storage.RelatedQuery{
		MyRoleTypeURI:     core.NonEmpty(q.Get("my_role")),
		OthersRoleTypeURI: core.NonEmpty(q.Get("others_role")),
		OthersTypeURI:     core.NonEmpty(q.Get("others_type")),
	}
	if types := q["assoc_type"]; len(types) > 0 {
		rq.AssocTypeURIs = core.Some(types)
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return rq, core.Invalidf("bad limit %q", l)
		}
		rq.Limit = n
	}
	return rq, nil
}

// parseRef reads "topic:12" or "assoc:7".
func parseRef(s string) (core.PlayerRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return core.PlayerRef{}, core.Invalidf("bad object reference %q", s)
	}
	k, err := core.ParseObjectKind(kind)
	if err != nil {
		return core.PlayerRef{}, core.Invalidf("bad object reference %q: %v", s, err)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return core.PlayerRef{}, core.Invalidf("bad object reference %q", s)
	}
	return core.PlayerRef{Kind: k, ID: n}, nil
}

// queryValue interprets a query string value: integers, floats and booleans
// keep their type, anything else is text.
func queryValue(s string) core.SimpleValue {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return core.Int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return core.Float(f)
	}
	switch s {
	case "true":
		return core.Bool(true)
	case "false":
		return core.Bool(false)
	}
	return core.String(s)
}
