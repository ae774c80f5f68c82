// Package httpapi serves the local admin API: health, metrics, tenant and
// watch-list management, deploy counts and the live feed.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/launchwatch/engine/internal/config"
	"github.com/launchwatch/engine/internal/state"
	"github.com/launchwatch/engine/internal/store"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// DeployReader answers deploy-count questions for a scope.
type DeployReader interface {
	DeployCount(ctx context.Context, scope, address string) (int, error)
	TopDeployers(ctx context.Context, scope string, n int) ([]state.ActorCount, error)
}

// Options wires the server to the rest of the engine. Metrics, Feed and
// Scopes are optional.
type Options struct {
	Addr     string
	Registry *state.Registry
	Deploys  DeployReader
	Metrics  http.Handler
	Feed     http.Handler
	Scopes   func() []string
}

// Server is the admin HTTP server.
type Server struct {
	router  *mux.Router
	server  *http.Server
	opts    Options
	started time.Time
}

func NewServer(opts Options) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		opts:    opts,
		started: time.Now(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}
	if s.opts.Feed != nil {
		s.router.Handle("/feed", s.opts.Feed).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/tenants", s.listTenants).Methods(http.MethodGet)
	api.HandleFunc("/tenants/{id}", s.getTenant).Methods(http.MethodGet)
	api.HandleFunc("/tenants/{id}", s.putTenant).Methods(http.MethodPut)
	api.HandleFunc("/tenants/{id}", s.deleteTenant).Methods(http.MethodDelete)

	api.HandleFunc("/scopes/{scope}/watch", s.listWatch).Methods(http.MethodGet)
	api.HandleFunc("/scopes/{scope}/watch/{axis}", s.addWatch).Methods(http.MethodPost)
	api.HandleFunc("/scopes/{scope}/watch/{axis}/{value}", s.removeWatch).Methods(http.MethodDelete)

	api.HandleFunc("/scopes/{scope}/deploys", s.topDeployers).Methods(http.MethodGet)
	api.HandleFunc("/scopes/{scope}/deploys/{address}", s.deployCount).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http_server_started", "addr", s.opts.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("http_server_stopping")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		slog.Debug("http_request",
			"request_id", r.Context().Value(requestIDKey),
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapper.statusCode,
			"duration", time.Since(start),
		)
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade pass through the logging wrapper.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	var scopes []string
	if s.opts.Scopes != nil {
		scopes = s.opts.Scopes()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"scopes":  scopes,
		"tenants": len(s.opts.Registry.Tenants()),
	})
}

// tenantBody is the wire form of a tenant for PUT requests and responses.
type tenantBody struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name,omitempty"`
	GeneralWebhook      string             `json:"general_webhook,omitempty"`
	WatchWebhook        string             `json:"watch_webhook,omitempty"`
	Filter              store.FilterConfig `json:"filter"`
	PollIntervalSeconds int                `json:"poll_interval_seconds,omitempty"`
	Active              bool               `json:"active"`
}

// maskedTenant renders t with webhook URLs masked.
func maskedTenant(t store.Tenant) tenantBody {
	return tenantBody{
		ID:                  t.ID,
		Name:                t.Name,
		GeneralWebhook:      maskWebhook(t.GeneralWebhook),
		WatchWebhook:        maskWebhook(t.WatchWebhook),
		Filter:              t.Filter,
		PollIntervalSeconds: int(t.PollInterval / time.Second),
		Active:              t.Active(),
	}
}

func maskWebhook(url string) string {
	if url == "" {
		return ""
	}
	return config.MaskSecret(url)
}

// reload refreshes the registry so edits made by the CLI show up in reads.
func (s *Server) reload(r *http.Request) {
	if err := s.opts.Registry.Reload(r.Context()); err != nil {
		slog.Warn("registry_reload_failed", "error", err)
	}
}

func (s *Server) listTenants(w http.ResponseWriter, r *http.Request) {
	s.reload(r)
	tenants := s.opts.Registry.Tenants()
	out := make([]tenantBody, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, maskedTenant(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	s.reload(r)
	t, ok := s.opts.Registry.Tenant(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, maskedTenant(t))
}

func (s *Server) putTenant(w http.ResponseWriter, r *http.Request) {
	var body tenantBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.PollIntervalSeconds < 0 {
		writeError(w, http.StatusUnprocessableEntity, "poll_interval_seconds must be non-negative")
		return
	}
	if limit := body.Filter.MaxItemsPerActor; limit != nil && *limit < 0 {
		writeError(w, http.StatusUnprocessableEntity, "max_items_per_actor must be non-negative")
		return
	}

	t := store.Tenant{
		ID:             mux.Vars(r)["id"],
		Name:           body.Name,
		GeneralWebhook: body.GeneralWebhook,
		WatchWebhook:   body.WatchWebhook,
		Filter:         body.Filter,
		PollInterval:   time.Duration(body.PollIntervalSeconds) * time.Second,
	}
	if err := s.opts.Registry.SetTenant(r.Context(), t); err != nil {
		writeStateError(w, err)
		return
	}
	saved, _ := s.opts.Registry.Tenant(t.ID)
	slog.Info("tenant_updated", "tenant", saved.ID, "active", saved.Active())
	writeJSON(w, http.StatusOK, maskedTenant(saved))
}

func (s *Server) deleteTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	removed, err := s.opts.Registry.RemoveTenant(r.Context(), id)
	if err != nil {
		writeStateError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	slog.Info("tenant_removed", "tenant", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listWatch(w http.ResponseWriter, r *http.Request) {
	scope := mux.Vars(r)["scope"]
	s.reload(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"scope":    scope,
		"entries":  s.opts.Registry.List(scope),
		"defaults": s.opts.Registry.Defaults(),
	})
}

type watchBody struct {
	Value string `json:"value"`
}

func (s *Server) addWatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	axis, err := store.ParseAxis(vars["axis"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body watchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	ok, err := s.opts.Registry.Add(r.Context(), vars["scope"], axis, body.Value)
	if err != nil {
		writeStateError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "invalid "+string(axis)+" value")
		return
	}
	slog.Info("watch_entry_added", "scope", vars["scope"], "axis", axis)
	writeJSON(w, http.StatusCreated, map[string]any{
		"scope": vars["scope"],
		"axis":  axis,
		"value": axis.Normalize(body.Value),
	})
}

func (s *Server) removeWatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	axis, err := store.ParseAxis(vars["axis"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := s.opts.Registry.Remove(r.Context(), vars["scope"], axis, vars["value"])
	if err != nil {
		writeStateError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "watch entry not found")
		return
	}
	slog.Info("watch_entry_removed", "scope", vars["scope"], "axis", axis)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deployCount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr := store.NormalizeAddress(vars["address"])
	if !store.ValidAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	n, err := s.opts.Deploys.DeployCount(r.Context(), vars["scope"], addr)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "deploy index unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scope":   vars["scope"],
		"address": addr,
		"count":   n,
	})
}

func (s *Server) topDeployers(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	rows, err := s.opts.Deploys.TopDeployers(r.Context(), mux.Vars(r)["scope"], limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "deploy index unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeStateError(w http.ResponseWriter, err error) {
	if errors.Is(err, state.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error("state_write_failed", "error", err)
	writeError(w, http.StatusInternalServerError, "state write failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http_encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
