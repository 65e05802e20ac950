package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/engine"
	"github.com/systemshift/dmx/internal/server/subscriptions"
	"github.com/systemshift/dmx/internal/server/txn"
)

// Request headers carrying the request context of a call.
const (
	HeaderWorkspace = "X-DMX-Workspace"
	HeaderUser      = "X-DMX-User"
)

// Server holds the HTTP server dependencies
type Server struct {
	engine *engine.Engine
	subMgr *subscriptions.Manager
	log    zerolog.Logger
}

// New creates a new API server. subMgr may be nil, which disables the
// subscription endpoints.
func New(e *engine.Engine, subMgr *subscriptions.Manager, log zerolog.Logger) *Server {
	return &Server{engine: e, subMgr: subMgr, log: log.With().Str("component", "api").Logger()}
}

// Routes builds the router with middleware and every endpoint.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/topics", func(r chi.Router) {
			r.Post("/", s.CreateTopic)
			r.Get("/", s.ListTopics)
			r.Get("/by-uri/{uri}", s.GetTopicByURI)
			r.Get("/{id}", s.GetTopic)
			r.Put("/{id}", s.UpdateTopic)
			r.Delete("/{id}", s.DeleteTopic)
			r.Get("/{id}/related", s.GetRelatedTopics)
			r.Get("/{id}/type", s.GetTopicTypeOf)
		})
		r.Route("/assocs", func(r chi.Router) {
			r.Post("/", s.CreateAssoc)
			r.Get("/", s.ListAssocs)
			r.Get("/{id}", s.GetAssoc)
			r.Put("/{id}", s.UpdateAssoc)
			r.Delete("/{id}", s.DeleteAssoc)
		})
		r.Route("/types/{kind}", func(r chi.Router) {
			r.Get("/", s.ListTypes)
			r.Post("/", s.CreateType)
			r.Get("/{uri}", s.GetType)
			r.Delete("/{uri}", s.DeleteType)
			r.Post("/{uri}/comp-defs", s.AddCompDef)
			r.Delete("/{uri}/comp-defs/{compDef}", s.RemoveCompDef)
			r.Put("/{uri}/view-config", s.StoreViewConfig)
		})
		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", s.CreateSubscription)
			r.Get("/", s.ListSubscriptions)
			r.Get("/{id}", s.GetSubscription)
			r.Patch("/{id}", s.UpdateSubscription)
			r.Delete("/{id}", s.DeleteSubscription)
		})
	})
	return r
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// requestContext reads the workspace and user headers.
func requestContext(r *http.Request) (core.RequestContext, error) {
	rc := core.RequestContext{Username: r.Header.Get(HeaderUser)}
	if ws := r.Header.Get(HeaderWorkspace); ws != "" {
		id, err := strconv.ParseInt(ws, 10, 64)
		if err != nil {
			return rc, core.Invalidf("bad %s header %q", HeaderWorkspace, ws)
		}
		rc.WorkspaceID = id
	}
	return rc, nil
}

// run executes fn in one transaction scoped to the request.
func (s *Server) run(r *http.Request, fn func(tx *txn.Tx) error) error {
	rc, err := requestContext(r)
	if err != nil {
		return err
	}
	return s.engine.Run(r.Context(), rc, fn)
}

// decode reads a JSON body into v. Failures are reported as invalid input.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.Invalidf("decoding request body: %v", err)
	}
	return nil
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, core.Invalidf("bad id %q", raw)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps the error kinds of the core onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAmbiguous), errors.Is(err, core.ErrURIConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidModel):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	ev := s.log.Warn()
	if status == http.StatusInternalServerError {
		ev = s.log.Error()
	}
	ev.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
