// Package mcpsse implements the SSE MCP session manager: a long-lived
// GET stream carrying text/event-stream JSON-RPC responses/notifications,
// and a separate POST channel for outbound requests. A POST's own HTTP
// response is not the JSON-RPC response — that arrives later on the SSE
// stream, correlated by id — so this mirrors pkg/mcpstdio's pending-futures
// core but swaps the transport mechanics for GET+POST+reconnect.
package mcpsse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chrisyu/mcphost/pkg/herrors"
	"github.com/chrisyu/mcphost/pkg/mcpwire"
)

// AuthMode selects how credentials are attached to both the GET and POST
// channels.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthBearer AuthMode = "bearer"
	AuthAPIKey AuthMode = "api_key"
	AuthCustom AuthMode = "custom"
)

// Config describes one SSE MCP server endpoint.
type Config struct {
	ServerKey       string
	URL             string // GET stream endpoint
	PostURL         string // outbound POST endpoint; defaults to URL if empty
	Auth            AuthMode
	AuthHeaderName  string // used for AuthAPIKey/AuthCustom
	AuthValue       string
	CallTimeout     time.Duration // overall per-call timeout, default 30s
	SamplingEnabled bool
}

// SamplingHandler and RootsListHandler mirror pkg/mcpstdio's.
type SamplingHandler func(ctx context.Context, serverKey string, params mcpwire.SamplingCreateMessageParams) (*mcpwire.SamplingCreateMessageResult, error)
type RootsListHandler func(serverKey string) mcpwire.RootsListResult

// state tracks the GET stream's connection lifecycle.
type state int32

const (
	stateConnecting state = iota
	stateConnected
	stateReconnecting
	stateStopped
)

// Session manages one SSE MCP server connection.
type Session struct {
	cfg    Config
	client *http.Client

	nextID int64

	pendingMu sync.Mutex
	pending   map[int64]chan *mcpwire.Response

	onSampling    SamplingHandler
	onRoots       RootsListHandler
	onListChanged func(kind string)

	tools     []mcpwire.ToolDescriptor
	connState atomic.Int32
	mu        sync.RWMutex

	reconnectBackoff time.Duration // server-advertised retry: override, else defaults to 1s initial
	stop             chan struct{}
	stopOnce         sync.Once

	logger *slog.Logger
}

// NewSession constructs a session; call Start to open the GET stream and
// perform the initialize handshake.
func NewSession(cfg Config, onSampling SamplingHandler, onRoots RootsListHandler, onListChanged func(kind string), logger *slog.Logger) *Session {
	if cfg.PostURL == "" {
		cfg.PostURL = cfg.URL
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:              cfg,
		client:           &http.Client{},
		pending:          make(map[int64]chan *mcpwire.Response),
		onSampling:       onSampling,
		onRoots:          onRoots,
		onListChanged:    onListChanged,
		reconnectBackoff: time.Second,
		stop:             make(chan struct{}),
		logger:           logger.With("server_key", cfg.ServerKey, "transport", "sse"),
	}
}

// Start opens the GET stream in the background and performs the initialize
// handshake over POST.
func (s *Session) Start(ctx context.Context) error {
	s.connState.Store(int32(stateConnecting))
	go s.streamLoop()

	handshakeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	capabilities := map[string]any{"roots": map[string]any{"listChanged": true}}
	if s.cfg.SamplingEnabled {
		capabilities["sampling"] = map[string]any{}
	}
	if _, err := s.call(handshakeCtx, "initialize", mcpwire.InitializeParams{
		ProtocolVersion: mcpwire.ProtocolVersion,
		Capabilities:    capabilities,
		ClientInfo:      mcpwire.ClientInfo{Name: mcpwire.ClientName, Version: mcpwire.ClientVersion},
	}); err != nil {
		return herrors.Upstream("sse: initialize handshake failed", err)
	}
	if err := s.notify(handshakeCtx, "notifications/initialized", nil); err != nil {
		return herrors.Transport("sse: send initialized notification", err)
	}

	s.refreshTools(handshakeCtx)
	s.tolerateList(handshakeCtx, "resources/list")
	s.tolerateList(handshakeCtx, "prompts/list")
	return nil
}

func (s *Session) Connected() bool {
	return state(s.connState.Load()) == stateConnected
}

func (s *Session) refreshTools(ctx context.Context) {
	result, err := s.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		s.logger.Warn("tools/list failed, session remains usable", "error", err)
		return
	}
	var parsed struct {
		Tools []mcpwire.ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		s.logger.Warn("tools/list response malformed", "error", err)
		return
	}
	s.mu.Lock()
	s.tools = parsed.Tools
	s.mu.Unlock()
}

func (s *Session) tolerateList(ctx context.Context, method string) {
	if _, err := s.call(ctx, method, map[string]any{}); err != nil {
		s.logger.Debug("optional list method failed, tolerated", "method", method, "error", err)
	}
}

// Tools returns the last known tool set.
func (s *Session) Tools() []mcpwire.ToolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mcpwire.ToolDescriptor, len(s.tools))
	copy(out, s.tools)
	return out
}

// CallTool issues a tools/call and returns the parsed result.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcpwire.ToolCallResult, error) {
	raw, err := s.call(ctx, "tools/call", mcpwire.ToolCallParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var result mcpwire.ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, herrors.Upstream("sse: malformed tools/call result", err)
	}
	return &result, nil
}

func (s *Session) applyAuth(req *http.Request) {
	switch s.cfg.Auth {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+s.cfg.AuthValue)
	case AuthAPIKey:
		name := s.cfg.AuthHeaderName
		if name == "" {
			name = "X-API-Key"
		}
		req.Header.Set(name, s.cfg.AuthValue)
	case AuthCustom:
		if s.cfg.AuthHeaderName != "" {
			req.Header.Set(s.cfg.AuthHeaderName, s.cfg.AuthValue)
		}
	}
}

// call POSTs a request and blocks on the pending-futures map until the
// correlated response arrives on the SSE stream, or the overall call
// timeout / ctx elapses.
func (s *Session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&s.nextID, 1)
	req, err := mcpwire.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *mcpwire.Response, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	if err := s.post(callCtx, req); err != nil {
		return nil, herrors.Transport("sse: post request", err)
	}

	select {
	case <-callCtx.Done():
		return nil, herrors.Timeout("sse: request timed out", callCtx.Err())
	case resp := <-ch:
		if resp == nil {
			return nil, herrors.Transport("sse: connection closed", nil)
		}
		if resp.Error != nil {
			return nil, herrors.Upstream(fmt.Sprintf("sse: server error %d: %s", resp.Error.Code, resp.Error.Message), resp.Error)
		}
		return resp.Result, nil
	}
}

func (s *Session) notify(ctx context.Context, method string, params any) error {
	req, err := mcpwire.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	return s.post(ctx, req)
}

func (s *Session) post(ctx context.Context, req *mcpwire.Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.PostURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	s.applyAuth(httpReq)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sse: post HTTP %d", resp.StatusCode)
	}
	return nil
}

// streamLoop holds the long-lived GET connection open, reconnecting with
// linearly-increasing backoff (starting at 1s, overridable by the server's
// `retry:` field) whenever the stream errors out.
func (s *Session) streamLoop() {
	for {
		select {
		case <-s.stop:
			s.connState.Store(int32(stateStopped))
			return
		default:
		}

		if err := s.connectAndRead(); err != nil {
			s.logger.Warn("sse stream error, reconnecting", "error", err, "backoff", s.reconnectBackoff)
		}

		select {
		case <-s.stop:
			s.connState.Store(int32(stateStopped))
			return
		case <-time.After(s.reconnectBackoff):
			s.connState.Store(int32(stateReconnecting))
			s.reconnectBackoff += time.Second // linear increase
			if s.reconnectBackoff > 30*time.Second {
				s.reconnectBackoff = 30 * time.Second
			}
		}
	}
}

func (s *Session) connectAndRead() error {
	req, err := http.NewRequest(http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	s.applyAuth(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sse: GET stream HTTP %d", resp.StatusCode)
	}

	s.connState.Store(int32(stateConnected))
	s.reconnectBackoff = time.Second // reset on successful (re)connect

	return s.readEvents(resp.Body)
}

// readEvents parses the text/event-stream wire format: `event:`/`data:`/
// `id:`/`retry:` prefixed lines, `:`-comment lines ignored, an empty line
// flushes the accumulated event, and multi-line data fields are joined by
// newline per the SSE spec.
func (s *Session) readEvents(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var dataLines []string
	var eventType string

	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		data := strings.Join(dataLines, "\n")
		s.handleEventData(eventType, data)
		dataLines = nil
		eventType = ""
	}

	for scanner.Scan() {
		select {
		case <-s.stop:
			return nil
		default:
		}

		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// comment, ignore
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "id:"):
			// correlation is by JSON-RPC id inside the payload, not the SSE id field
		case strings.HasPrefix(line, "retry:"):
			if ms, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "retry:"))); err == nil {
				s.reconnectBackoff = time.Duration(ms) * time.Millisecond
			}
		}
	}
	flush()
	return scanner.Err()
}

func (s *Session) handleEventData(eventType, data string) {
	if eventType != "" && eventType != "message" {
		s.logger.Debug("ignoring non-message SSE event", "event", eventType)
		return
	}
	s.routeLine([]byte(data))
}

func (s *Session) routeLine(line []byte) {
	var envelope struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Result json.RawMessage   `json:"result"`
		Error  *mcpwire.RPCError `json:"error"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		s.logger.Warn("malformed JSON-RPC SSE payload, skipping", "error", err)
		return
	}

	if envelope.Method != "" && len(envelope.ID) > 0 {
		s.handleServerRequest(line, envelope.Method, envelope.ID)
		return
	}
	if envelope.Method != "" {
		s.handleNotification(envelope.Method, line)
		return
	}
	if len(envelope.ID) > 0 {
		s.resolveResponse(envelope.ID, line)
	}
}

func (s *Session) resolveResponse(rawID json.RawMessage, line []byte) {
	var id int64
	if err := json.Unmarshal(rawID, &id); err != nil {
		return
	}
	var resp mcpwire.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return
	}
	s.pendingMu.Lock()
	ch, ok := s.pending[id]
	s.pendingMu.Unlock()
	if ok {
		ch <- &resp
	}
}

func (s *Session) handleNotification(method string, line []byte) {
	switch {
	case strings.HasSuffix(method, "list_changed"):
		s.refreshTools(context.Background())
		if s.onListChanged != nil {
			s.onListChanged(method)
		}
	case method == "notifications/message":
		s.logger.Info("server notification", "raw", string(line))
	default:
		s.logger.Debug("unhandled notification", "method", method)
	}
}

func (s *Session) handleServerRequest(line []byte, method string, rawID json.RawMessage) {
	ctx := context.Background()
	switch method {
	case "sampling/createMessage":
		var req struct {
			Params mcpwire.SamplingCreateMessageParams `json:"params"`
		}
		_ = json.Unmarshal(line, &req)
		if s.onSampling == nil {
			s.respondError(ctx, rawID, mcpwire.CodeMethodNotFound, "sampling not supported")
			return
		}
		result, err := s.onSampling(ctx, s.cfg.ServerKey, req.Params)
		if err != nil {
			if rpcErr, ok := err.(*mcpwire.RPCError); ok {
				s.respondError(ctx, rawID, rpcErr.Code, rpcErr.Message)
				return
			}
			s.respondError(ctx, rawID, mcpwire.CodeInternalError, err.Error())
			return
		}
		s.respondResult(ctx, rawID, result)
	case "roots/list":
		if s.onRoots == nil {
			s.respondResult(ctx, rawID, mcpwire.RootsListResult{})
			return
		}
		s.respondResult(ctx, rawID, s.onRoots(s.cfg.ServerKey))
	default:
		s.respondError(ctx, rawID, mcpwire.CodeMethodNotFound, "method not found: "+method)
	}
}

// respondResult/respondError POST the server-initiated call's response back,
// since the SSE transport has no reverse channel of its own beyond POST.
func (s *Session) respondResult(ctx context.Context, id json.RawMessage, result any) {
	raw, _ := json.Marshal(result)
	resp := mcpwire.Response{JSONRPC: "2.0", ID: json.RawMessage(id), Result: raw}
	out, _ := json.Marshal(resp)
	s.postRaw(ctx, out)
}

func (s *Session) respondError(ctx context.Context, id json.RawMessage, code int, message string) {
	resp := mcpwire.Response{JSONRPC: "2.0", ID: json.RawMessage(id), Error: &mcpwire.RPCError{Code: code, Message: message}}
	out, _ := json.Marshal(resp)
	s.postRaw(ctx, out)
}

func (s *Session) postRaw(ctx context.Context, raw []byte) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.PostURL, bytes.NewReader(raw))
	if err != nil {
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	s.applyAuth(httpReq)
	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn("failed to post server-request response", "error", err)
		return
	}
	_ = resp.Body.Close()
}

// Stop signals the GET stream loop to exit and fails any pending calls.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}
