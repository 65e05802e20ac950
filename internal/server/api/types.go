package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/txn"
)

// typeOps binds the type endpoints to topic or association types, chosen by
// the {kind} path segment.
type typeOps struct {
	list   func(ctx context.Context, tx *txn.Tx) ([]string, error)
	get    func(ctx context.Context, tx *txn.Tx, uri string) (*core.TypeModel, error)
	create func(ctx context.Context, tx *txn.Tx, t *core.TypeModel) (*core.TypeModel, error)
	delete func(ctx context.Context, tx *txn.Tx, uri string) error
}

func (s *Server) opsFor(r *http.Request) (typeOps, error) {
	switch kind := chi.URLParam(r, "kind"); kind {
	case "topic":
		return typeOps{
			list:   s.engine.GetTopicTypeURIs,
			get:    s.engine.GetTopicType,
			create: s.engine.CreateTopicType,
			delete: s.engine.DeleteTopicType,
		}, nil
	case "assoc":
		return typeOps{
			list:   s.engine.GetAssocTypeURIs,
			get:    s.engine.GetAssocType,
			create: s.engine.CreateAssocType,
			delete: s.engine.DeleteAssocType,
		}, nil
	default:
		return typeOps{}, core.NotFoundf("no type kind %q", kind)
	}
}

// ListTypes handles GET /api/types/{kind}
func (s *Server) ListTypes(w http.ResponseWriter, r *http.Request) {
	ops, err := s.opsFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var uris []string
	err = s.run(r, func(tx *txn.Tx) error {
		var err error
		uris, err = ops.list(r.Context(), tx)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uris":  uris,
		"count": len(uris),
	})
}

// CreateType handles POST /api/types/{kind}
func (s *Server) CreateType(w http.ResponseWriter, r *http.Request) {
	ops, err := s.opsFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var m core.TypeModel
	if err := decode(r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}

	var t *core.TypeModel
	err = s.run(r, func(tx *txn.Tx) error {
		var err error
		t, err = ops.create(r.Context(), tx, &m)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetType handles GET /api/types/{kind}/{uri}
func (s *Server) GetType(w http.ResponseWriter, r *http.Request) {
	ops, err := s.opsFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var t *core.TypeModel
	err = s.run(r, func(tx *txn.Tx) error {
		var err error
		t, err = ops.get(r.Context(), tx, chi.URLParam(r, "uri"))
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteType handles DELETE /api/types/{kind}/{uri}
// Every instance of the type is deleted with it.
func (s *Server) DeleteType(w http.ResponseWriter, r *http.Request) {
	ops, err := s.opsFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.run(r, func(tx *txn.Tx) error {
		return ops.delete(r.Context(), tx, chi.URLParam(r, "uri"))
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddCompDef handles POST /api/types/{kind}/{uri}/comp-defs
func (s *Server) AddCompDef(w http.ResponseWriter, r *http.Request) {
	ops, err := s.opsFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var d core.CompDef
	if err := decode(r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	uri := chi.URLParam(r, "uri")

	var t *core.TypeModel
	err = s.run(r, func(tx *txn.Tx) error {
		if _, err := ops.get(r.Context(), tx, uri); err != nil {
			return err
		}
		var err error
		t, err = s.engine.AddCompDef(r.Context(), tx, uri, &d)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// RemoveCompDef handles DELETE /api/types/{kind}/{uri}/comp-defs/{compDef}
func (s *Server) RemoveCompDef(w http.ResponseWriter, r *http.Request) {
	ops, err := s.opsFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	uri := chi.URLParam(r, "uri")

	var t *core.TypeModel
	err = s.run(r, func(tx *txn.Tx) error {
		if _, err := ops.get(r.Context(), tx, uri); err != nil {
			return err
		}
		var err error
		t, err = s.engine.RemoveCompDef(r.Context(), tx, uri, chi.URLParam(r, "compDef"))
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// StoreViewConfig handles PUT /api/types/{kind}/{uri}/view-config
// The body maps setting URIs to values.
func (s *Server) StoreViewConfig(w http.ResponseWriter, r *http.Request) {
	ops, err := s.opsFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var settings map[string]core.SimpleValue
	if err := decode(r, &settings); err != nil {
		s.writeError(w, r, err)
		return
	}
	vc := core.NewViewConfig()
	for k, v := range settings {
		vc.Set(k, v)
	}
	uri := chi.URLParam(r, "uri")

	var t *core.TypeModel
	err = s.run(r, func(tx *txn.Tx) error {
		if _, err := ops.get(r.Context(), tx, uri); err != nil {
			return err
		}
		var err error
		t, err = s.engine.StoreViewConfig(r.Context(), tx, uri, vc)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
