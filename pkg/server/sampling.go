package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chrisyu/mcphost/pkg/herrors"
)

func (s *Server) handleGetSamplingConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Sampling
	writeJSON(w, http.StatusOK, map[string]any{
		"blocked_servers":        cfg.BlockedServers,
		"allowed_servers":        cfg.AllowedServers,
		"global_rate_per_minute": cfg.GlobalRatePerMinute,
		"server_rate_per_minute": cfg.ServerRatePerMinute,
		"max_tokens_limit":       cfg.MaxTokensLimit,
		"default_max_tokens":     cfg.DefaultMaxTokens,
		"content_filter_enabled": cfg.ContentFilterEnabled,
		"require_approval":       cfg.RequireApproval,
		"auto_approve_threshold": cfg.AutoApproveThreshold,
		"approval_timeout_secs":  cfg.ApprovalTimeoutSecs,
		"default_model":          cfg.DefaultModel,
		"default_provider":       cfg.DefaultProvider,
	})
}

func (s *Server) handleListSamplingRequests(w http.ResponseWriter, r *http.Request) {
	pending := s.facade.Sampling.PendingRequests()
	out := make([]map[string]any, 0, len(pending))
	for _, req := range pending {
		out = append(out, map[string]any{
			"request_id":    req.ID,
			"server_key":    req.ServerKey,
			"max_tokens":    req.MaxTokens,
			"model_hint":    req.ModelHint,
			"provider_hint": req.ProviderHint,
			"created_at":    req.CreatedAt,
			"expires_at":    req.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleApproveSamplingRequest(w http.ResponseWriter, r *http.Request) {
	reqID := chi.URLParam(r, "req")
	result, err := s.facade.Sampling.Approve(r.Context(), reqID)
	if err != nil {
		writeError(w, herrors.NotFound(err.Error(), err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content":     result.Content,
		"model":       result.Model,
		"stop_reason": result.StopReason,
	})
}

func (s *Server) handleRejectSamplingRequest(w http.ResponseWriter, r *http.Request) {
	reqID := chi.URLParam(r, "req")
	if err := s.facade.Sampling.Reject(reqID); err != nil {
		writeError(w, herrors.NotFound(err.Error(), err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
