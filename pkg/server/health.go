package server

import "net/http"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts := s.facade.AggregateCounts()
	s.metrics.hitlQueueDepth.Set(float64(counts.HITLPending))
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"servers": map[string]any{
			"stdio_sessions":  counts.StdioSessions,
			"stdio_connected": counts.StdioConnected,
			"sse_sessions":    counts.SSESessions,
			"sse_connected":   counts.SSEConnected,
		},
		"hitl_pending":     counts.HITLPending,
		"sampling_pending": counts.SamplingPending,
		"host_sessions":    counts.HostSessions,
	})
}
