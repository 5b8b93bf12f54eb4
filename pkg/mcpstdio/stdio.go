// Package mcpstdio implements the stdio MCP session manager: one
// child process per server_key, line-delimited JSON-RPC framing on
// stdin/stdout, and the MCP initialize handshake, extended with
// bidirectional dispatch (server-initiated sampling/roots requests) and
// notification handling.
package mcpstdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chrisyu/mcphost/pkg/herrors"
	"github.com/chrisyu/mcphost/pkg/mcpwire"
)

// Config describes how to launch and initialize one stdio MCP server.
type Config struct {
	ServerKey          string
	Command            string
	Args               []string
	Env                []string
	HandshakeTimeout   time.Duration
	SamplingEnabled    bool
}

// nodePackageRunners get a longer handshake timeout since they may cold
// download the package on first run.
var nodePackageRunners = map[string]bool{"npx": true, "pnpm": true, "yarn": true}

func defaultHandshakeTimeout(command string) time.Duration {
	if nodePackageRunners[command] {
		return 60 * time.Second
	}
	return 30 * time.Second
}

// SamplingHandler processes an inbound sampling/createMessage request and
// returns the JSON-RPC result (or an error, including a *mcpwire.RPCError
// for -32001 "needs review").
type SamplingHandler func(ctx context.Context, serverKey string, params mcpwire.SamplingCreateMessageParams) (*mcpwire.SamplingCreateMessageResult, error)

// RootsListHandler returns this session's current roots for a server's
// roots/list request.
type RootsListHandler func(serverKey string) mcpwire.RootsListResult

// Session manages one child-process MCP server connection.
type Session struct {
	cfg     Config
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser

	writeMu sync.Mutex
	nextID  int64

	pendingMu sync.Mutex
	pending   map[int64]chan *mcpwire.Response

	onSampling SamplingHandler
	onRoots    RootsListHandler
	onListChanged func(kind string)

	tools     []mcpwire.ToolDescriptor
	connected bool
	mu        sync.RWMutex

	logger *slog.Logger
}

// NewSession constructs a session; call Start to spawn and initialize it.
func NewSession(cfg Config, onSampling SamplingHandler, onRoots RootsListHandler, onListChanged func(kind string), logger *slog.Logger) *Session {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout(cfg.Command)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:           cfg,
		pending:       make(map[int64]chan *mcpwire.Response),
		onSampling:    onSampling,
		onRoots:       onRoots,
		onListChanged: onListChanged,
		logger:        logger.With("server_key", cfg.ServerKey, "transport", "stdio"),
	}
}

// Start spawns the child process and performs the initialize handshake.
func (s *Session) Start(ctx context.Context) error {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	if len(s.cfg.Env) > 0 {
		cmd.Env = s.cfg.Env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return herrors.Transport("stdio: open stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return herrors.Transport("stdio: open stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return herrors.Transport("stdio: open stderr", err)
	}
	if err := cmd.Start(); err != nil {
		return herrors.Transport("stdio: start child process", err)
	}

	s.cmd, s.stdin, s.stdout = cmd, stdin, stdout
	go s.drainStderr(stderr)
	go s.listen()

	handshakeCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	if err := s.handshake(handshakeCtx); err != nil {
		s.Stop()
		return err
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Session) drainStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Warn("stderr", "line", scanner.Text())
	}
}

func (s *Session) handshake(ctx context.Context) error {
	capabilities := map[string]any{"roots": map[string]any{"listChanged": true}}
	if s.cfg.SamplingEnabled {
		capabilities["sampling"] = map[string]any{}
	}

	if _, err := s.call(ctx, "initialize", mcpwire.InitializeParams{
		ProtocolVersion: mcpwire.ProtocolVersion,
		Capabilities:    capabilities,
		ClientInfo:      mcpwire.ClientInfo{Name: mcpwire.ClientName, Version: mcpwire.ClientVersion},
	}); err != nil {
		return herrors.Upstream("stdio: initialize handshake failed", err)
	}

	if err := s.notify(ctx, "notifications/initialized", nil); err != nil {
		return herrors.Transport("stdio: send initialized notification", err)
	}

	s.refreshTools(ctx)
	s.tolerateList(ctx, "resources/list")
	s.tolerateList(ctx, "prompts/list")
	return nil
}

// refreshTools calls tools/list and updates the cached tool set; failures
// are logged but leave the session usable.
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

// Connected reports whether the handshake completed successfully.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// CallTool issues a tools/call and returns the parsed result.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcpwire.ToolCallResult, error) {
	raw, err := s.call(ctx, "tools/call", mcpwire.ToolCallParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var result mcpwire.ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, herrors.Upstream("stdio: malformed tools/call result", err)
	}
	return &result, nil
}

// call sends a request and blocks until its response arrives or ctx expires.
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

	if err := s.writeLine(req); err != nil {
		return nil, herrors.Transport("stdio: write request", err)
	}

	select {
	case <-ctx.Done():
		return nil, herrors.Timeout("stdio: request timed out", ctx.Err())
	case resp := <-ch:
		if resp == nil {
			return nil, herrors.Transport("stdio: connection closed", nil)
		}
		if resp.Error != nil {
			return nil, herrors.Upstream(fmt.Sprintf("stdio: server error %d: %s", resp.Error.Code, resp.Error.Message), resp.Error)
		}
		return resp.Result, nil
	}
}

// notify sends a one-way notification (no response expected).
func (s *Session) notify(ctx context.Context, method string, params any) error {
	req, err := mcpwire.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	return s.writeLine(req)
}

func (s *Session) writeLine(req *mcpwire.Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(append(raw, '\n')); err != nil {
		return err
	}
	return nil
}

// listen drains stdout, decoding one JSON-RPC message per line and routing
// it by shape: a response resolves a pending call, a request is a
// server-initiated call (sampling/createMessage, roots/list), a
// notification triggers a refresh or is logged.
func (s *Session) listen() {
	scanner := bufio.NewScanner(s.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.routeLine(line)
	}
	s.closeAllPending()
}

func (s *Session) routeLine(line []byte) {
	var envelope struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  *mcpwire.RPCError `json:"error"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		s.logger.Warn("malformed JSON-RPC line, skipping", "error", err)
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
			s.respondError(rawID, mcpwire.CodeMethodNotFound, "sampling not supported")
			return
		}
		result, err := s.onSampling(ctx, s.cfg.ServerKey, req.Params)
		if err != nil {
			if rpcErr, ok := err.(*mcpwire.RPCError); ok {
				s.respondError(rawID, rpcErr.Code, rpcErr.Message)
				return
			}
			s.respondError(rawID, mcpwire.CodeInternalError, err.Error())
			return
		}
		s.respondResult(rawID, result)
	case "roots/list":
		if s.onRoots == nil {
			s.respondResult(rawID, mcpwire.RootsListResult{})
			return
		}
		s.respondResult(rawID, s.onRoots(s.cfg.ServerKey))
	default:
		s.respondError(rawID, mcpwire.CodeMethodNotFound, "method not found: "+method)
	}
}

func (s *Session) respondResult(id json.RawMessage, result any) {
	raw, _ := json.Marshal(result)
	resp := mcpwire.Response{JSONRPC: "2.0", ID: json.RawMessage(id), Result: raw}
	out, _ := json.Marshal(resp)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = s.stdin.Write(append(out, '\n'))
}

func (s *Session) respondError(id json.RawMessage, code int, message string) {
	resp := mcpwire.Response{JSONRPC: "2.0", ID: json.RawMessage(id), Error: &mcpwire.RPCError{Code: code, Message: message}}
	out, _ := json.Marshal(resp)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = s.stdin.Write(append(out, '\n'))
}

func (s *Session) closeAllPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

// Stop gracefully terminates the child process: SIGTERM, wait up to 5s,
// then SIGKILL. Any remaining pending calls fail with a closed-connection
// error.
func (s *Session) Stop() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Signal(terminateSignal())

	done := make(chan struct{})
	go func() {
		_ = s.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = s.cmd.Process.Kill()
		<-done
	}
}
