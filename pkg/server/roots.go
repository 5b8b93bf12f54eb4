package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chrisyu/mcphost/pkg/herrors"
	"github.com/chrisyu/mcphost/pkg/roots"
)

// handleValidatePath checks a single path against a server's *session*
// roots, keyed by the session_id query parameter — roots.Registry scopes by
// session, not by server_key, so {key} is read but not used.
func (s *Server) handleValidatePath(w http.ResponseWriter, r *http.Request) {
	_ = chi.URLParam(r, "key")
	sessionID := r.URL.Query().Get("session_id")
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, herrors.Validation("path query parameter is required", nil))
		return
	}
	result := s.facade.Roots.ValidatePath(sessionID, path)
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    result.Path,
		"status":  string(result.Status),
		"allowed": result.Allowed(),
	})
}

func (s *Server) handleListServerRoots(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	writeJSON(w, http.StatusOK, rootViews(s.facade.Roots.EffectiveRoots(sessionID)))
}

type addRootRequest struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	Type      string `json:"type"`
}

func (s *Server) handleAddServerRoot(w http.ResponseWriter, r *http.Request) {
	var req addRootRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	root, err := roots.FromPath(req.Path, req.Name, rootType(req.Type))
	if err != nil {
		writeError(w, herrors.Validation("invalid root path", err))
		return
	}
	s.facade.Roots.AddSessionRoot(req.SessionID, root)
	writeJSON(w, http.StatusCreated, rootView(root))
}

func (s *Server) handleRemoveServerRoot(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	path := r.URL.Query().Get("path")
	s.facade.Roots.RemoveSessionRoot(sessionID, path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListGlobalRoots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootViews(s.facade.Roots.GlobalRoots()))
}

func (s *Server) handleAddGlobalRoot(w http.ResponseWriter, r *http.Request) {
	var req addRootRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	root, err := roots.FromPath(req.Path, req.Name, rootType(req.Type))
	if err != nil {
		writeError(w, herrors.Validation("invalid root path", err))
		return
	}
	s.facade.Roots.AddGlobalRoot(root)
	writeJSON(w, http.StatusCreated, rootView(root))
}

func (s *Server) handleRemoveGlobalRoot(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	s.facade.Roots.RemoveGlobalRoot(path)
	w.WriteHeader(http.StatusNoContent)
}

type configureRootsRequest struct {
	SessionID  string           `json:"session_id"`
	Roots      []addRootRequest `json:"roots"`
	StrictMode bool             `json:"strict_mode"`
}

func (s *Server) handleConfigureSessionRoots(w http.ResponseWriter, r *http.Request) {
	var req configureRootsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	parsed := make([]roots.Root, 0, len(req.Roots))
	for _, rr := range req.Roots {
		root, err := roots.FromPath(rr.Path, rr.Name, rootType(rr.Type))
		if err != nil {
			writeError(w, herrors.Validation("invalid root path "+rr.Path, err))
			return
		}
		parsed = append(parsed, root)
	}
	s.facade.Roots.ConfigureSession(req.SessionID, parsed, req.StrictMode)
	writeJSON(w, http.StatusOK, rootViews(parsed))
}

func rootType(s string) roots.Type {
	switch s {
	case "project":
		return roots.TypeProject
	case "workspace":
		return roots.TypeWorkspace
	case "resource":
		return roots.TypeResource
	default:
		return roots.TypeCustom
	}
}

func rootView(r roots.Root) map[string]any {
	return map[string]any{"path": r.Path, "name": r.Name, "type": string(r.Type), "uri": r.URI()}
}

func rootViews(rs []roots.Root) []map[string]any {
	out := make([]map[string]any, 0, len(rs))
	for _, r := range rs {
		out = append(out, rootView(r))
	}
	return out
}
