// Package toolcatalog aggregates tools advertised by connected stdio/SSE
// sessions into one public namespace. Aggregation is a snapshot
// operation with no caching: every Catalog() call re-walks the live session
// set, so a just-connected server's tools appear on the very next tool list
// request.
package toolcatalog

import (
	"fmt"
	"strings"

	"github.com/chrisyu/mcphost/pkg/mcpwire"
)

// Transport identifies which session kind served a tool.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
)

// Entry is one fused, publicly addressable tool.
type Entry struct {
	PublicName  string
	Description string
	Parameters  map[string]any
	ServerKey   string
	LocalName   string
	Transport   Transport
}

// StdioSource and SSESource are the minimal views the catalog needs from
// pkg/mcpstdio.Session / pkg/mcpsse.Session — kept as interfaces so this
// package has no import-cycle dependency on either transport package.
type StdioSource interface {
	Tools() []mcpwire.ToolDescriptor
}

type SSESource interface {
	Tools() []mcpwire.ToolDescriptor
}

// Catalog builds the fused tool list for the current set of sessions.
// stdioSessions and sseSessions are keyed by server_key; a server_key
// present in both is resolved to stdio per the transport-detection priority.
func Catalog(stdioSessions map[string]StdioSource, sseSessions map[string]SSESource) []Entry {
	var entries []Entry
	seen := make(map[string]bool)

	for serverKey, session := range stdioSessions {
		seen[serverKey] = true
		entries = append(entries, fuse(serverKey, TransportStdio, session.Tools())...)
	}
	for serverKey, session := range sseSessions {
		if seen[serverKey] {
			continue // stdio takes priority for a server_key present in both
		}
		entries = append(entries, fuse(serverKey, TransportSSE, session.Tools())...)
	}
	return entries
}

func fuse(serverKey string, transport Transport, tools []mcpwire.ToolDescriptor) []Entry {
	out := make([]Entry, 0, len(tools))
	for _, tool := range tools {
		params := mcpwire.NormalizeInputSchema(tool.InputSchema)
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, Entry{
			PublicName:  serverKey + "__" + tool.Name,
			Description: fmt.Sprintf("[%s:%s] %s", transport, serverKey, tool.Description),
			Parameters:  params,
			ServerKey:   serverKey,
			LocalName:   tool.Name,
			Transport:   transport,
		})
	}
	return out
}

// ErrMalformedName is returned by Parse when publicName has no "__"
// separator.
var ErrMalformedName = fmt.Errorf("toolcatalog: malformed public tool name, expected server_key__local_name")

// Parse splits a public tool name into its server_key and local_name on the
// first "__" occurrence.
func Parse(publicName string) (serverKey, localName string, err error) {
	idx := strings.Index(publicName, "__")
	if idx < 0 {
		return "", "", ErrMalformedName
	}
	return publicName[:idx], publicName[idx+2:], nil
}

// DetectTransport reports which transport serves a given server_key, with
// stdio taking priority over SSE when both are present, matching Catalog's
// fusion order.
func DetectTransport(serverKey string, stdioSessions map[string]StdioSource, sseSessions map[string]SSESource) (Transport, bool) {
	if _, ok := stdioSessions[serverKey]; ok {
		return TransportStdio, true
	}
	if _, ok := sseSessions[serverKey]; ok {
		return TransportSSE, true
	}
	return "", false
}
