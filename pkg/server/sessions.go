package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chrisyu/mcphost/pkg/herrors"
	"github.com/chrisyu/mcphost/pkg/host"
	"github.com/chrisyu/mcphost/pkg/react"
)

type createSessionRequest struct {
	SystemPrompt string `json:"system_prompt"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Provider == "" {
		req.Provider = s.cfg.LLM.DefaultProvider
	}
	session := s.facade.CreateSession("", req.SystemPrompt, req.Provider, req.Model)
	writeJSON(w, http.StatusCreated, sessionView(session))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok := s.facade.GetSession(id)
	if !ok {
		writeError(w, herrors.NotFound("session not found", nil))
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.facade.DeleteSession(id) {
		writeError(w, herrors.NotFound("session not found", nil))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok := s.facade.GetSession(id)
	if !ok {
		writeError(w, herrors.NotFound("session not found", nil))
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tools := s.facade.ToolSchemas()
	rc := s.facade.React.GetOrCreate(session.ID, tools, session.Provider, session.Model)

	wantsStream := req.Stream || r.Header.Get("Accept") == "text/event-stream"
	if wantsStream {
		sw, ok := newSSEWriter(w)
		if !ok {
			writeError(w, herrors.Transport("streaming not supported by this response writer", nil))
			return
		}
		var lastKind react.EventKind
		s.facade.React.Run(r.Context(), rc, req.Message, func(e react.Event) {
			lastKind = e.Kind
			sw.send(frameEvent(e))
		})
		if lastKind != react.EventConfirmationRequired {
			sw.done()
		}
		return
	}

	events := collectEvents(func(emit func(react.Event)) {
		s.facade.React.Run(r.Context(), rc, req.Message, emit)
	})
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleListConfirmations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pending := s.facade.HITL.ListPending(id)
	out := make([]map[string]any, 0, len(pending))
	for _, req := range pending {
		out = append(out, map[string]any{
			"request_id": req.ID,
			"tool":       req.ToolName,
			"arguments":  req.Arguments,
			"risk_level": req.RiskLevel.String(),
			"status":     string(req.Status),
			"expires_at": req.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type confirmationResolution struct {
	Approved         bool           `json:"approved"`
	ModifiedArguments map[string]any `json:"modified_arguments"`
	Reason           string         `json:"reason"`
}

func (s *Server) handleResolveConfirmation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	reqID := chi.URLParam(r, "req")

	var body confirmationResolution
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.facade.ConfirmToolCall(r.Context(), sessionID, reqID, body.Approved, body.ModifiedArguments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": result.Success, "observation": result.Observation})
}

func (s *Server) handleContinueConfirmation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	reqID := chi.URLParam(r, "req")

	session, ok := s.facade.GetSession(sessionID)
	if !ok {
		writeError(w, herrors.NotFound("session not found", nil))
		return
	}

	var body confirmationResolution
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	tools := s.facade.ToolSchemas()
	rc := s.facade.React.GetOrCreate(session.ID, tools, session.Provider, session.Model)

	sw, ok := newSSEWriter(w)
	if !ok {
		writeError(w, herrors.Transport("streaming not supported by this response writer", nil))
		return
	}
	var lastKind react.EventKind
	s.facade.React.ContinueAfterConfirmation(r.Context(), rc, reqID, body.Approved, body.ModifiedArguments, func(e react.Event) {
		lastKind = e.Kind
		sw.send(frameEvent(e))
	})
	if lastKind != react.EventConfirmationRequired {
		sw.done()
	}
}

func sessionView(s *host.Session) map[string]any {
	return map[string]any{
		"id":            s.ID,
		"system_prompt": s.SystemPrompt,
		"provider":      s.Provider,
		"model":         s.Model,
		"created_at":    s.CreatedAt,
		"last_activity": s.LastActivity,
	}
}
