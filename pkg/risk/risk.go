// Package risk implements the keyword-based risk classifier: a pure
// function from a tool's local name to one of four risk tiers.
package risk

import "strings"

// Level is a totally-ordered risk tier.
type Level int

const (
	Low Level = iota
	Medium
	High
	Critical
)

func (l Level) String() string {
	switch l {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

var criticalKeywords = []string{
	"delete", "remove", "drop", "truncate", "destroy", "execute", "exec",
	"run", "eval", "shell", "command", "transfer", "payment", "transaction",
	"send_money",
}

var highKeywords = []string{
	"write", "update", "modify", "create", "insert", "edit", "patch", "put",
	"post", "upload", "install", "uninstall", "deploy",
}

var mediumKeywords = []string{
	"list", "search", "query", "fetch", "download", "export", "generate",
	"convert",
}

// Classify maps a tool's local name (with any "server_key__" prefix already
// stripped) to a risk level. Evaluated in descending risk order: the first
// tier whose keyword set matches wins.
func Classify(localName string) Level {
	name := strings.ToLower(localName)
	if containsAny(name, criticalKeywords) {
		return Critical
	}
	if containsAny(name, highKeywords) {
		return High
	}
	if containsAny(name, mediumKeywords) {
		return Medium
	}
	return Low
}

func containsAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// Policy decides whether a risk level needs human confirmation, with
// per-tool allow/deny overrides.
type Policy struct {
	NeedsConfirmation map[Level]bool
	AllowList         map[string]bool // tool local name -> bypass confirmation
	DenyList          map[string]bool // tool local name -> force confirmation
}

// DefaultPolicy requires confirmation for {high, critical}, matching the
// spec's default admin-configurable subset.
func DefaultPolicy() Policy {
	return Policy{
		NeedsConfirmation: map[Level]bool{High: true, Critical: true},
		AllowList:         map[string]bool{},
		DenyList:          map[string]bool{},
	}
}

// RequiresConfirmation applies the policy to a classified call, honoring the
// per-tool allow-list (bypass) and deny-list (force) overrides.
func (p Policy) RequiresConfirmation(localName string, level Level) bool {
	if p.DenyList[localName] {
		return true
	}
	if p.AllowList[localName] {
		return false
	}
	return p.NeedsConfirmation[level]
}
