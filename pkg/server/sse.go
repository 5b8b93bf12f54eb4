package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chrisyu/mcphost/pkg/react"
)

// sseWriter frames events as `data: <json>\n\n`, terminated by
// `data: [DONE]\n\n` (plain data-only framing; this host's wire schema carries its own "type"
// discriminator instead of the SSE "event:" field).
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) send(payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", raw)
	s.flusher.Flush()
}

func (s *sseWriter) done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

// frameEvent translates one react.Event into its SSE wire schema.
func frameEvent(e react.Event) map[string]any {
	switch e.Kind {
	case react.EventStateReasoning:
		return map[string]any{"type": "state", "state": "reasoning"}
	case react.EventToolCallPreparing:
		return map[string]any{"type": "tool_call", "tool": e.ToolName, "arguments": e.Arguments, "state": "preparing"}
	case react.EventToolCallExecuting:
		return map[string]any{"type": "tool_call", "tool": e.ToolName, "arguments": e.Arguments, "state": "executing"}
	case react.EventToolResult:
		if !e.Success && e.Observation == "user rejected this tool call" {
			return map[string]any{"type": "tool_rejected", "request_id": e.RequestID, "message": e.Observation}
		}
		return map[string]any{
			"type":              "tool_result",
			"tool":              e.ToolName,
			"success":           e.Success,
			"result":            e.Observation,
			"execution_time_ms": e.ElapsedMS,
		}
	case react.EventConfirmationRequired:
		return map[string]any{
			"type":       "confirmation_required",
			"request_id": e.RequestID,
			"tool":       e.ToolName,
			"arguments":  e.Arguments,
			"risk_level": e.Risk,
		}
	case react.EventFinal:
		return map[string]any{"type": "final", "content": e.Content}
	case react.EventError:
		msg := e.Observation
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return map[string]any{"type": "error", "error": msg}
	default:
		return map[string]any{"type": string(e.Kind)}
	}
}

// collectEvents runs run with an emit function that appends to a slice and returns
// every framed event, for the non-streaming "JSON reply" mode of POST
// /sessions/{id}/chat.
func collectEvents(run func(emit func(react.Event))) []map[string]any {
	var events []map[string]any
	run(func(e react.Event) { events = append(events, frameEvent(e)) })
	return events
}
