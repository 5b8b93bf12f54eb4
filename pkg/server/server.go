// Package server implements the inbound HTTP surface and the SSE
// event stream framing on top of the Host facade, using a chi-based
// route-pattern metrics middleware and a net/http SSE helper.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chrisyu/mcphost/pkg/config"
	"github.com/chrisyu/mcphost/pkg/herrors"
	"github.com/chrisyu/mcphost/pkg/host"
)

// Server is the inbound HTTP surface: one chi router bound to a Host facade.
type Server struct {
	facade  *host.Facade
	cfg     *config.Config
	metrics *metrics
	logger  *slog.Logger
	router  chi.Router
	http    *http.Server
}

// New builds a Server wired to facade and cfg (the live MCP server
// definitions new stdio/SSE sessions are started from).
func New(facade *host.Facade, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{facade: facade, cfg: cfg, metrics: newMetrics(), logger: logger}
	if facade.Sampling != nil {
		facade.Sampling.OnRateLimited(func(serverKey string) {
			s.metrics.samplingRateLimited.WithLabelValues(serverKey).Inc()
		})
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(s.metricsMiddleware)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleGetSession)
		r.Delete("/{id}", s.handleDeleteSession)
		r.Post("/{id}/chat", s.handleChat)
		r.Get("/{id}/confirmations", s.handleListConfirmations)
		r.Post("/{id}/confirmations/{req}", s.handleResolveConfirmation)
		r.Post("/{id}/confirmations/{req}/continue", s.handleContinueConfirmation)
	})

	r.Get("/tools", s.handleListTools)
	r.Post("/tools/call", s.handleCallTool)

	r.Route("/servers", func(r chi.Router) {
		r.Get("/", s.handleListServers)
		r.Post("/stdio/{key}/start", s.handleStartStdioServer)
		r.Post("/stdio/{key}/stop", s.handleStopStdioServer)
		r.Post("/sse/connect", s.handleConnectSSEServer)
		r.Post("/sse/{key}/disconnect", s.handleDisconnectSSEServer)
		r.Post("/{key}/validate-path", s.handleValidatePath)
		r.Get("/{key}/roots", s.handleListServerRoots)
		r.Post("/{key}/roots", s.handleAddServerRoot)
		r.Delete("/{key}/roots", s.handleRemoveServerRoot)
	})

	r.Route("/roots", func(r chi.Router) {
		r.Get("/global", s.handleListGlobalRoots)
		r.Post("/global", s.handleAddGlobalRoot)
		r.Delete("/global", s.handleRemoveGlobalRoot)
		r.Post("/configure", s.handleConfigureSessionRoots)
	})

	r.Route("/sampling", func(r chi.Router) {
		r.Get("/config", s.handleGetSamplingConfig)
		r.Get("/requests", s.handleListSamplingRequests)
		r.Post("/requests/{req}/approve", s.handleApproveSamplingRequest)
		r.Post("/requests/{req}/reject", s.handleRejectSamplingRequest)
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.handler())

	return r
}

// ServeHTTP lets Server stand in directly for http.Handler in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// ListenAndServe blocks serving on addr until ctx is canceled, then shuts
// down gracefully with a 10s grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a herrors.Kind to the matching HTTP status.
func writeError(w http.ResponseWriter, err error) {
	kind := herrors.KindOf(err)
	writeJSON(w, herrors.HTTPStatus(kind), map[string]any{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return herrors.Validation("malformed request body", err)
	}
	return nil
}
