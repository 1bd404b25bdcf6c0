package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/isparth/Distributed-Systems/raftkv/internal/distributedkv"
	"github.com/isparth/Distributed-Systems/raftkv/internal/raft"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

// Config describes the node the API runs on.
type Config struct {
	Name    types.NodeID
	APIPort int
	Logger  *zap.Logger
}

// Server serves the HTTP API backed by a DistributedKV.
type Server struct {
	dkv    *distributedkv.DistributedKV
	cfg    Config
	logger *zap.Logger
}

// New creates a new HTTP API server.
func New(dkv *distributedkv.DistributedKV, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{dkv: dkv, cfg: cfg, logger: logger.Named("httpapi")}
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// shared middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.Healthz)
	r.Get("/status", s.Status)

	// plain-text map API
	r.Get("/", handleIndex(s.dkv))
	r.Get("/about", handleAbout(s.cfg))
	r.Get("/get/{key}", handleGetText(s.dkv))
	r.Get("/has/{key}", handleHasText(s.dkv))
	r.Get("/set/{key}/{value}", handleSetText(s.dkv))

	r.Route("/kv", func(r chi.Router) {
		r.Get("/", s.ListKeys)
		r.Post("/mget", s.MGet)
		r.Post("/mput", s.MPut)
		r.Get("/{key}", s.GetKey)
		r.Put("/{key}", s.PutKey)
	})
	return r
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dkv.Status())
}

func (s *Server) ListKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": s.dkv.All()})
}

func (s *Server) GetKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, ok := s.dkv.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "value": v})
}

func (s *Server) PutKey(w http.ResponseWriter, r *http.Request) {
	if s.redirectIfNotLeader(w, r) {
		return
	}
	key := chi.URLParam(r, "key")
	var body struct {
		Value *string `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Value == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be {\"value\": \"...\"}")
		return
	}
	if err := s.dkv.Put(r.Context(), key, *body.Value); err != nil {
		s.writeWriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) MGet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keys []string `json:"keys"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	if len(body.Keys) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "keys is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "values": s.dkv.MGet(body.Keys)})
}

func (s *Server) MPut(w http.ResponseWriter, r *http.Request) {
	if s.redirectIfNotLeader(w, r) {
		return
	}
	var body struct {
		Entries []types.Entry `json:"entries"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	if len(body.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "entries is required")
		return
	}
	if err := s.dkv.MPut(r.Context(), body.Entries); err != nil {
		s.writeWriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "written": len(body.Entries)})
}

// redirectIfNotLeader returns 307 with leader hint if this node is not the leader.
func (s *Server) redirectIfNotLeader(w http.ResponseWriter, r *http.Request) bool {
	if s.dkv.IsLeader() {
		return false
	}
	writeNotLeader(w, r, s.dkv.LeaderHint())
	return true
}

// writeWriteError maps a failed write to a response. Losing leadership
// mid-write is answered like any other write to a follower.
func (s *Server) writeWriteError(w http.ResponseWriter, r *http.Request, err error) {
	var nle *raft.NotLeaderError
	switch {
	case errors.As(err, &nle):
		writeNotLeader(w, r, nle.Hint)
	case errors.Is(err, distributedkv.ErrEmptyKey):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, "timeout", "write not committed in time")
	default:
		s.logger.Error("write failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeNotLeader(w http.ResponseWriter, r *http.Request, hint types.LeaderHint) {
	if hint.LeaderAddr != "" {
		w.Header().Set("Location", hint.LeaderAddr+r.URL.RequestURI())
	}
	writeJSON(w, http.StatusTemporaryRedirect, map[string]any{
		"error":       "not_leader",
		"leader_hint": hint,
	})
}

// --- JSON helpers ---

type errorBody struct {
	Ok      bool   `json:"ok"`
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Ok: false, ErrCode: code, ErrMsg: msg})
}
