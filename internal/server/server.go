// Package server exposes history sessions over HTTP. Each session tracks
// one account+chain subject; a client reports its infinite-scroll sentinel
// becoming visible with POST /v1/sessions/{id}/visible and reads the grouped
// history with GET /v1/sessions/{id}/history.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emperorhan/wallet-history/internal/pipeline"
	"github.com/emperorhan/wallet-history/internal/pipeline/grouping"
)

const maxRequestBodyBytes = 1 << 16

type Server struct {
	registry *Registry
	limiter  *RateLimitMiddleware
	logger   *slog.Logger
}

type ServerOption func(*Server)

func WithRateLimit(rl *RateLimitMiddleware) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

func NewServer(registry *Registry, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		registry: registry,
		logger:   logger.With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(AuditMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Wrap)
		}
		r.Post("/v1/sessions", s.handleCreate)
		r.Route("/v1/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleState)
			r.Delete("/", s.handleDelete)
			r.Put("/subject", s.handleSetSubject)
			r.Post("/visible", s.handleVisible)
			r.Get("/history", s.handleHistory)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSONBody writes a 400 and returns false when the body is not valid
// JSON for v.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeRegistryError maps registry and session errors onto status codes.
func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, ErrUnknownChain):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrInvalidSubject):
		writeError(w, http.StatusBadRequest, "account and chain are required")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type subjectRequest struct {
	Account string `json:"account"`
	Chain   string `json:"chain"`
}

type sessionResponse struct {
	ID string `json:"id"`
	pipeline.Snapshot
}

type historyResponse struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	grouping.Result
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.registry.Len()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Account == "" || req.Chain == "" {
		writeError(w, http.StatusBadRequest, "account and chain are required")
		return
	}

	id, sess, err := s.registry.Create(req.Account, req.Chain)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{ID: id, Snapshot: sess.Snapshot()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.registry.Get(id)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, Snapshot: sess.Snapshot()})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetSubject(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	sess, err := s.registry.SetSubject(id, req.Account, req.Chain)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, Snapshot: sess.Snapshot()})
}

func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"observing": sess.Visible()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.registry.Get(id)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	filter, err := parseFilter(r.URL.Query()["filter"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		ID:      id,
		Subject: sess.Fingerprint().String(),
		Result:  sess.View(filter),
	})
}

// parseFilter reads repeated or comma separated filter values. No value
// means no filter.
func parseFilter(values []string) (*grouping.Filter, error) {
	var f grouping.Filter
	seen := false
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "":
				continue
			case "transfers":
				f.Transfers = true
			case "governance":
				f.Governance = true
			case "staking":
				f.Staking = true
			default:
				return nil, errors.New("unknown filter " + strings.TrimSpace(name))
			}
			seen = true
		}
	}
	if !seen {
		return nil, nil
	}
	return &f, nil
}
