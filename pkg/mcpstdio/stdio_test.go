package mcpstdio

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/chrisyu/mcphost/pkg/mcpwire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultHandshakeTimeout(t *testing.T) {
	if defaultHandshakeTimeout("npx") != 60*time.Second {
		t.Fatal("expected npx to get the longer handshake timeout")
	}
	if defaultHandshakeTimeout("python3") != 30*time.Second {
		t.Fatal("expected non-node-runner command to get the default timeout")
	}
}

func TestSession_RouteLine_ResolvesResponse(t *testing.T) {
	s := &Session{pending: make(map[int64]chan *mcpwire.Response), logger: discardLogger()}
	ch := make(chan *mcpwire.Response, 1)
	s.pendingMu.Lock()
	s.pending[1] = ch
	s.pendingMu.Unlock()

	s.routeLine([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))

	select {
	case resp := <-ch:
		if resp == nil || resp.Error != nil {
			t.Fatalf("expected successful response, got %+v", resp)
		}
	default:
		t.Fatal("expected response to be routed to pending channel")
	}
}

func TestSession_RouteLine_ServerRequestDispatchesSampling(t *testing.T) {
	called := false
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go io.Copy(io.Discard, server)

	s := &Session{
		pending: make(map[int64]chan *mcpwire.Response),
		logger:  discardLogger(),
		cfg:     Config{ServerKey: "test"},
		stdin:   client,
		onSampling: func(ctx context.Context, serverKey string, params mcpwire.SamplingCreateMessageParams) (*mcpwire.SamplingCreateMessageResult, error) {
			called = true
			return &mcpwire.SamplingCreateMessageResult{Role: "assistant", Content: "hi"}, nil
		},
	}

	line := []byte(`{"jsonrpc":"2.0","id":7,"method":"sampling/createMessage","params":{"maxTokens":10,"messages":[]}}`)
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	_ = json.Unmarshal(line, &envelope)
	s.handleServerRequest(line, "sampling/createMessage", envelope.ID)

	if !called {
		t.Fatal("expected sampling handler to be invoked")
	}
}

func TestSession_RouteLine_NotificationTriggersListChanged(t *testing.T) {
	triggered := ""
	s := &Session{
		pending:       make(map[int64]chan *mcpwire.Response),
		logger:        discardLogger(),
		onListChanged: func(kind string) { triggered = kind },
	}
	// refreshTools issues s.call, which needs stdin and pending wiring; both
	// are provided below.
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go io.Copy(io.Discard, server)
	s.stdin = client

	// refreshTools issues a blocking tools/list call under the hood; answer
	// it from a background goroutine so the notification handler returns.
	go func() {
		for i := 0; i < 200; i++ {
			s.pendingMu.Lock()
			ch, ok := s.pending[1]
			s.pendingMu.Unlock()
			if ok {
				ch <- &mcpwire.Response{JSONRPC: "2.0", ID: float64(1), Result: json.RawMessage(`{"tools":[]}`)}
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	s.handleNotification("notifications/tools/list_changed", []byte(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`))

	if triggered != "notifications/tools/list_changed" {
		t.Fatalf("expected onListChanged to fire, got %q", triggered)
	}
}
