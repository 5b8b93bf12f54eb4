package server

import (
	"net/http"
	"time"
)

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	entries := s.facade.GetAggregatedTools()
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"name":        e.PublicName,
			"description": e.Description,
			"parameters":  e.Parameters,
			"server_key":  e.ServerKey,
			"transport":   string(e.Transport),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type callToolRequest struct {
	SessionID string         `json:"session_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// handleCallTool bypasses the ReAct loop entirely: prepare, then either
// execute directly (when the risk policy doesn't require confirmation) or
// open a HITL request and report it instead of executing.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callToolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	prepared, err := s.facade.PrepareToolCall(r.Context(), req.SessionID, req.Tool, req.Arguments)
	if err != nil {
		writeError(w, err)
		return
	}

	if prepared.NeedsConfirmation {
		requestID, err := s.facade.RequestConfirmation(r.Context(), req.SessionID, prepared)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"needs_confirmation": true,
			"request_id":         requestID,
			"risk_level":         prepared.RiskLevel,
		})
		return
	}

	start := time.Now()
	result, err := s.facade.ExecuteToolCall(r.Context(), prepared, false, false)
	s.metrics.recordToolCall(req.Tool, outcomeOf(err, result.Success), time.Since(start))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": result.Success, "result": result.Observation})
}

func outcomeOf(err error, success bool) string {
	if err != nil {
		return "error"
	}
	if !success {
		return "failed"
	}
	return "ok"
}
