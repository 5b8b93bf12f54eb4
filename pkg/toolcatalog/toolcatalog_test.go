package toolcatalog

import (
	"testing"

	"github.com/chrisyu/mcphost/pkg/mcpwire"
)

type fakeSource struct {
	tools []mcpwire.ToolDescriptor
}

func (f *fakeSource) Tools() []mcpwire.ToolDescriptor { return f.tools }

func TestCatalog_FusesNameAndDescription(t *testing.T) {
	stdio := map[string]StdioSource{
		"fs": &fakeSource{tools: []mcpwire.ToolDescriptor{{Name: "read_file", Description: "reads a file"}}},
	}
	entries := Catalog(stdio, nil)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.PublicName != "fs__read_file" {
		t.Fatalf("unexpected public name: %q", e.PublicName)
	}
	if e.Description != "[stdio:fs] reads a file" {
		t.Fatalf("unexpected description: %q", e.Description)
	}
	if e.Parameters == nil {
		t.Fatal("expected a default empty-object schema when InputSchema is nil")
	}
}

func TestCatalog_StdioTakesPriorityOverSSE(t *testing.T) {
	stdio := map[string]StdioSource{
		"dup": &fakeSource{tools: []mcpwire.ToolDescriptor{{Name: "a"}}},
	}
	sse := map[string]SSESource{
		"dup": &fakeSource{tools: []mcpwire.ToolDescriptor{{Name: "b"}}},
	}
	entries := Catalog(stdio, sse)
	if len(entries) != 1 || entries[0].Transport != TransportStdio {
		t.Fatalf("expected stdio to win the collision, got %+v", entries)
	}
}

func TestParse(t *testing.T) {
	serverKey, localName, err := Parse("fs__read_file")
	if err != nil || serverKey != "fs" || localName != "read_file" {
		t.Fatalf("unexpected parse result: %q %q %v", serverKey, localName, err)
	}
	serverKey, localName, err = Parse("fs__nested__tool")
	if err != nil || serverKey != "fs" || localName != "nested__tool" {
		t.Fatalf("expected split on first __ only, got %q %q", serverKey, localName)
	}
}

func TestParse_Malformed(t *testing.T) {
	if _, _, err := Parse("no-separator"); err != ErrMalformedName {
		t.Fatalf("expected ErrMalformedName, got %v", err)
	}
}

func TestDetectTransport(t *testing.T) {
	stdio := map[string]StdioSource{"a": &fakeSource{}}
	sse := map[string]SSESource{"b": &fakeSource{}}

	if transport, ok := DetectTransport("a", stdio, sse); !ok || transport != TransportStdio {
		t.Fatalf("expected stdio for a, got %v %v", transport, ok)
	}
	if transport, ok := DetectTransport("b", stdio, sse); !ok || transport != TransportSSE {
		t.Fatalf("expected sse for b, got %v %v", transport, ok)
	}
	if _, ok := DetectTransport("missing", stdio, sse); ok {
		t.Fatal("expected unreachable server to report not-ok")
	}
}
