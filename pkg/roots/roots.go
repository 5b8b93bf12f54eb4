// Package roots implements the filesystem scoping registry: a
// per-session allow-list of root directories that every tool-call path
// argument is checked against before dispatch.
// Global roots are a flat, ungated list unioned ahead of session roots; a
// session's RootsConfig defaults strict_mode to true, but a session with no
// RootsConfig at all is permissive (there is nothing to be strict about yet).
package roots

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Type classifies why a root was added.
type Type string

const (
	TypeProject   Type = "project"
	TypeWorkspace Type = "workspace"
	TypeResource  Type = "resource"
	TypeCustom    Type = "custom"
)

// Root is one allow-listed filesystem root.
type Root struct {
	Path      string
	Name      string
	Type      Type
	CreatedAt time.Time
}

// URI renders the root as a file:// URI (percent-encoded), used as the
// root's identity in roots/list responses.
func (r Root) URI() string {
	return "file://" + (&url.URL{Path: r.Path}).EscapedPath()
}

// FromPath normalizes an arbitrary path into a Root, resolving ~ and making
// it absolute.
func FromPath(path, name string, typ Type) (Root, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return Root{}, err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return Root{}, fmt.Errorf("roots: %w", err)
	}
	return Root{Path: abs, Name: name, Type: typ, CreatedAt: time.Now()}, nil
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// SessionConfig is the per-session roots policy.
type SessionConfig struct {
	Roots          []Root
	StrictMode     bool // defaults true on first creation
	AllowedPatterns []*regexp.Regexp
	UpdatedAt      time.Time
}

// Status classifies the outcome of validating a single path.
type Status string

const (
	StatusAllowed             Status = "allowed"
	StatusDenied              Status = "denied"
	StatusNoRootsConfigured   Status = "no_roots_configured"
	StatusInvalidPath         Status = "invalid_path"
)

// ValidationResult is the outcome of checking one path argument.
type ValidationResult struct {
	Path   string
	Status Status
	Root   *Root
}

func (r ValidationResult) Allowed() bool { return r.Status == StatusAllowed }

// ChangeCallback is invoked whenever a session's effective root set changes.
type ChangeCallback func(sessionID string, roots []Root)

// Registry holds global and per-session roots and validates tool-call
// arguments against them.
type Registry struct {
	mu            sync.Mutex
	globalRoots   []Root
	sessionRoots  map[string]*SessionConfig
	changeCbs     map[string][]ChangeCallback
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessionRoots: make(map[string]*SessionConfig), changeCbs: make(map[string][]ChangeCallback)}
}

// AddGlobalRoot adds a root visible to every session, deduping by path.
func (reg *Registry) AddGlobalRoot(r Root) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, existing := range reg.globalRoots {
		if existing.Path == r.Path {
			return
		}
	}
	reg.globalRoots = append(reg.globalRoots, r)
}

// RemoveGlobalRoot removes a global root by path.
func (reg *Registry) RemoveGlobalRoot(path string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := reg.globalRoots[:0]
	for _, r := range reg.globalRoots {
		if r.Path != path {
			out = append(out, r)
		}
	}
	reg.globalRoots = out
}

// GlobalRoots returns a copy of the global root list.
func (reg *Registry) GlobalRoots() []Root {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]Root, len(reg.globalRoots))
	copy(out, reg.globalRoots)
	return out
}

// ConfigureSession replaces a session's roots configuration wholesale.
func (reg *Registry) ConfigureSession(sessionID string, roots []Root, strictMode bool) {
	reg.mu.Lock()
	cfg := &SessionConfig{Roots: roots, StrictMode: strictMode, UpdatedAt: time.Now()}
	reg.sessionRoots[sessionID] = cfg
	reg.mu.Unlock()
	reg.notifyChanged(sessionID)
}

// AddSessionRoot appends one root to a session, lazily creating the config
// (with the default strict_mode=true) if the session has none yet.
func (reg *Registry) AddSessionRoot(sessionID string, r Root) {
	reg.mu.Lock()
	cfg, ok := reg.sessionRoots[sessionID]
	if !ok {
		cfg = &SessionConfig{StrictMode: true}
		reg.sessionRoots[sessionID] = cfg
	}
	dup := false
	for _, existing := range cfg.Roots {
		if existing.Path == r.Path {
			dup = true
			break
		}
	}
	if !dup {
		cfg.Roots = append(cfg.Roots, r)
	}
	cfg.UpdatedAt = time.Now()
	reg.mu.Unlock()
	reg.notifyChanged(sessionID)
}

// RemoveSessionRoot removes a root from a session's config by path.
func (reg *Registry) RemoveSessionRoot(sessionID, path string) {
	reg.mu.Lock()
	cfg, ok := reg.sessionRoots[sessionID]
	found := false
	if ok {
		out := cfg.Roots[:0]
		for _, r := range cfg.Roots {
			if r.Path == path {
				found = true
				continue
			}
			out = append(out, r)
		}
		cfg.Roots = out
		cfg.UpdatedAt = time.Now()
	}
	reg.mu.Unlock()
	if found {
		reg.notifyChanged(sessionID)
	}
}

// EffectiveRoots returns the union of global roots and the session's own
// roots, global first.
func (reg *Registry) EffectiveRoots(sessionID string) []Root {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]Root, 0, len(reg.globalRoots))
	out = append(out, reg.globalRoots...)
	if cfg, ok := reg.sessionRoots[sessionID]; ok {
		out = append(out, cfg.Roots...)
	}
	return out
}

// ValidatePath checks a single filesystem path against a session's effective
// roots. A session that was never configured (no SessionConfig at all) is
// permissive by default; a session explicitly configured with strict_mode
// and zero matching roots denies.
func (reg *Registry) ValidatePath(sessionID, path string) ValidationResult {
	abs, err := expandHome(path)
	if err == nil {
		abs, err = filepath.Abs(abs)
	}
	if err != nil {
		return ValidationResult{Path: path, Status: StatusInvalidPath}
	}

	effective := reg.EffectiveRoots(sessionID)
	if len(effective) == 0 {
		reg.mu.Lock()
		cfg, hasCfg := reg.sessionRoots[sessionID]
		reg.mu.Unlock()
		if hasCfg && cfg.StrictMode {
			return ValidationResult{Path: abs, Status: StatusNoRootsConfigured}
		}
		return ValidationResult{Path: abs, Status: StatusAllowed}
	}

	for i := range effective {
		if isAncestorOrEqual(effective[i].Path, abs) {
			root := effective[i]
			return ValidationResult{Path: abs, Status: StatusAllowed, Root: &root}
		}
	}
	return ValidationResult{Path: abs, Status: StatusDenied}
}

func isAncestorOrEqual(root, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if root == path {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ValidateToolCall extracts path-shaped arguments and validates each one.
// If no paths were found, it returns allowed with no results — matching the
// original's "nothing to check" shortcut rather than vacuously passing an
// empty check list.
func (reg *Registry) ValidateToolCall(sessionID string, arguments map[string]any) (bool, []ValidationResult) {
	paths := ExtractPaths(arguments)
	if len(paths) == 0 {
		return true, nil
	}
	results := make([]ValidationResult, 0, len(paths))
	allOK := true
	for _, p := range paths {
		r := reg.ValidatePath(sessionID, p)
		if !r.Allowed() {
			allOK = false
		}
		results = append(results, r)
	}
	return allOK, results
}

// ClientCapabilities reports the "roots" capability block a server should be
// told about: present once a session has any global root or any session
// roots entry at all, even an empty one (the presence of configuration
// matters, not its non-emptiness).
func (reg *Registry) ClientCapabilities(sessionID string) map[string]any {
	reg.mu.Lock()
	_, hasCfg := reg.sessionRoots[sessionID]
	hasGlobal := len(reg.globalRoots) > 0
	reg.mu.Unlock()
	if hasGlobal || hasCfg {
		return map[string]any{"roots": map[string]any{"listChanged": true}}
	}
	return map[string]any{}
}

// OnChange registers a callback invoked whenever sessionID's effective roots
// change. notifyChanged runs the callbacks synchronously in registration
// order and recovers a panic in each one, so one failing callback doesn't
// stop the others.
func (reg *Registry) OnChange(sessionID string, cb ChangeCallback) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.changeCbs[sessionID] = append(reg.changeCbs[sessionID], cb)
}

func (reg *Registry) notifyChanged(sessionID string) {
	reg.mu.Lock()
	cbs := append([]ChangeCallback(nil), reg.changeCbs[sessionID]...)
	reg.mu.Unlock()
	roots := reg.EffectiveRoots(sessionID)
	for _, cb := range cbs {
		func() {
			defer func() { recover() }()
			cb(sessionID, roots)
		}()
	}
}

// reservedPathKeys is the case-insensitive set of argument keys treated as
// carrying a filesystem path, a resource URI, or a location, matching the
// original service's reserved-key set verbatim.
var reservedPathKeys = map[string]bool{
	"path": true, "file": true, "filepath": true, "filename": true,
	"file_path": true, "uri": true, "url": true, "source": true,
	"target": true, "destination": true, "dest": true, "input": true,
	"output": true, "directory": true, "dir": true, "folder": true,
	"location": true, "resource": true,
}

const maxExtractDepth = 6

// ExtractPaths walks a tool-call's arguments looking for path-shaped values.
// Recursion is capped at 6 levels. A dict value under a reserved key is
// collected directly (string, or each string in a list) without further
// recursion; any bare string containing '/' or '\' or starting with '~' is
// collected unconditionally, wherever it's found — a deliberately permissive
// heuristic kept intentionally simple rather than a full glob engine.
func ExtractPaths(arguments map[string]any) []string {
	var out []string
	extract(arguments, 0, &out)
	return out
}

func extract(value any, depth int, out *[]string) {
	if depth > maxExtractDepth {
		return
	}
	switch v := value.(type) {
	case map[string]any:
		for k, val := range v {
			if reservedPathKeys[strings.ToLower(k)] {
				collectPathValue(val, out)
				continue
			}
			extract(val, depth+1, out)
		}
	case []any:
		for _, item := range v {
			extract(item, depth+1, out)
		}
	case string:
		if looksLikePath(v) {
			*out = append(*out, v)
		}
	}
}

func collectPathValue(value any, out *[]string) {
	switch v := value.(type) {
	case string:
		*out = append(*out, v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				*out = append(*out, s)
			}
		}
	}
}

func looksLikePath(s string) bool {
	return strings.Contains(s, "/") || strings.Contains(s, `\`) || strings.HasPrefix(s, "~")
}
