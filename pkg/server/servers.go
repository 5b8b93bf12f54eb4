package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chrisyu/mcphost/pkg/herrors"
	"github.com/chrisyu/mcphost/pkg/mcpsse"
	"github.com/chrisyu/mcphost/pkg/mcpstdio"
)

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.ListServers())
}

// handleStartStdioServer spawns a configured stdio server by key and blocks
// until its initialize handshake completes or its handshake timeout fires.
func (s *Server) handleStartStdioServer(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, exists := s.facade.GetStdioSession(key); exists {
		writeError(w, herrors.Conflict("stdio server "+key+" is already running", nil))
		return
	}
	cfg, ok := s.cfg.Servers.Stdio[key]
	if !ok {
		writeError(w, herrors.NotFound("no stdio server configured under key "+key, nil))
		return
	}

	session := mcpstdio.NewSession(mcpstdio.Config{
		ServerKey:       key,
		Command:         cfg.Command,
		Args:            cfg.Args,
		Env:             cfg.Env,
		SamplingEnabled: true,
	}, s.facade.SamplingHandler, s.facade.RootsListHandler, nil, s.logger)

	if err := session.Start(r.Context()); err != nil {
		writeError(w, herrors.Transport("starting stdio server "+key, err))
		return
	}
	s.facade.AddStdioSession(key, session)
	writeJSON(w, http.StatusOK, map[string]any{"server_key": key, "connected": session.Connected()})
}

func (s *Server) handleStopStdioServer(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.facade.RemoveStdioSession(key) {
		writeError(w, herrors.NotFound("stdio server "+key+" is not running", nil))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type connectSSERequest struct {
	ServerKey      string `json:"server_key"`
	URL            string `json:"url"`
	PostURL        string `json:"post_url"`
	Auth           string `json:"auth"`
	AuthHeaderName string `json:"auth_header_name"`
	AuthValue      string `json:"auth_value"`
}

func (s *Server) handleConnectSSEServer(w http.ResponseWriter, r *http.Request) {
	var req connectSSERequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ServerKey == "" || req.URL == "" {
		writeError(w, herrors.Validation("server_key and url are required", nil))
		return
	}
	if _, exists := s.facade.GetSSESession(req.ServerKey); exists {
		writeError(w, herrors.Conflict("sse server "+req.ServerKey+" is already connected", nil))
		return
	}

	session := mcpsse.NewSession(mcpsse.Config{
		ServerKey:       req.ServerKey,
		URL:             req.URL,
		PostURL:         req.PostURL,
		Auth:            mcpsse.AuthMode(req.Auth),
		AuthHeaderName:  req.AuthHeaderName,
		AuthValue:       req.AuthValue,
		SamplingEnabled: true,
	}, s.facade.SamplingHandler, s.facade.RootsListHandler, nil, s.logger)

	if err := session.Start(r.Context()); err != nil {
		writeError(w, herrors.Transport("connecting sse server "+req.ServerKey, err))
		return
	}
	s.facade.AddSSESession(req.ServerKey, session)
	writeJSON(w, http.StatusOK, map[string]any{"server_key": req.ServerKey, "connected": session.Connected()})
}

func (s *Server) handleDisconnectSSEServer(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.facade.RemoveSSESession(key) {
		writeError(w, herrors.NotFound("sse server "+key+" is not connected", nil))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
