// Package hitl implements the human-in-the-loop approval gate: a
// state machine per tool-call confirmation request, a 60-second expiry
// sweep, and a capped audit log of terminal requests.
package hitl

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chrisyu/mcphost/pkg/herrors"
	"github.com/chrisyu/mcphost/pkg/risk"
)

// Status is a confirmation request's lifecycle state. All states reachable
// from Pending are terminal.
type Status string

const (
	Pending  Status = "pending"
	Approved Status = "approved"
	Modified Status = "modified"
	Rejected Status = "rejected"
	Expired  Status = "expired"
)

// CompletionFunc is invoked exactly once when a request leaves Pending.
type CompletionFunc func(req *Request)

// Request is one confirmation request tracked by the gate.
type Request struct {
	ID              string
	SessionID       string
	ToolName        string
	Arguments       map[string]any
	RiskLevel       risk.Level
	Status          Status
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ResolvedAt      time.Time
	Approver        string
	ModifiedArgs    map[string]any
	RejectReason    string
	onComplete      CompletionFunc
}

// View is the UI-facing projection of a request.
type View struct {
	ID                    string
	RiskLevel             string
	RiskDescription       string
	Arguments             map[string]any
	TimeRemainingSeconds  float64
	ModificationAllowed   bool
	DoubleConfirmRequired bool
}

// Policy configures the gate's behavior.
type Policy struct {
	Timeout                time.Duration
	AllowModification      bool
	DoubleConfirmCritical  bool
	AuditLogCapacity       int
}

// DefaultPolicy matches the original service's defaults: a generous timeout,
// modification allowed, no double-confirmation, a 500-entry audit cap.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:               5 * time.Minute,
		AllowModification:     true,
		DoubleConfirmCritical: false,
		AuditLogCapacity:      500,
	}
}

// Gate is the human-in-the-loop approval service.
type Gate struct {
	mu       sync.Mutex
	policy   Policy
	pending  map[string]*Request
	audit    []*Request // ring-buffer-capped, oldest evicted first
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewGate constructs a gate and starts its expiry-sweep goroutine.
func NewGate(policy Policy) *Gate {
	g := &Gate{
		policy:  policy,
		pending: make(map[string]*Request),
		stopCh:  make(chan struct{}),
	}
	go g.sweepLoop()
	return g
}

// Stop halts the background sweep goroutine.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

func (g *Gate) sweepLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sweepExpired()
		case <-g.stopCh:
			return
		}
	}
}

func (g *Gate) sweepExpired() {
	now := time.Now()
	var expired []*Request
	g.mu.Lock()
	for id, req := range g.pending {
		if now.After(req.ExpiresAt) {
			req.Status = Expired
			req.ResolvedAt = now
			expired = append(expired, req)
			delete(g.pending, id)
			g.appendAudit(req)
		}
	}
	g.mu.Unlock()

	for _, req := range expired {
		if req.onComplete != nil {
			req.onComplete(req)
		}
	}
}

// Create registers a new pending confirmation request.
func (g *Gate) Create(sessionID, toolName string, arguments map[string]any, level risk.Level, onComplete CompletionFunc) *Request {
	req := &Request{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		ToolName:   toolName,
		Arguments:  arguments,
		RiskLevel:  level,
		Status:     Pending,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(g.policy.Timeout),
		onComplete: onComplete,
	}
	g.mu.Lock()
	g.pending[req.ID] = req
	g.mu.Unlock()
	return req
}

// Approve transitions a pending request to approved (or modified, if
// modifiedArgs is non-nil).
func (g *Gate) Approve(id, approver string, modifiedArgs map[string]any) (*Request, error) {
	g.mu.Lock()
	req, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return nil, herrors.NotFound("confirmation request not found", nil)
	}
	if time.Now().After(req.ExpiresAt) {
		delete(g.pending, id)
		req.Status = Expired
		req.ResolvedAt = time.Now()
		g.appendAudit(req)
		g.mu.Unlock()
		if req.onComplete != nil {
			req.onComplete(req)
		}
		return nil, herrors.Conflict("confirmation request has expired", nil)
	}

	req.Approver = approver
	req.ResolvedAt = time.Now()
	if modifiedArgs != nil {
		if !g.policy.AllowModification {
			g.mu.Unlock()
			return nil, herrors.Policy("modification is not permitted by policy", nil)
		}
		req.Status = Modified
		req.ModifiedArgs = modifiedArgs
	} else {
		req.Status = Approved
	}
	delete(g.pending, id)
	g.appendAudit(req)
	g.mu.Unlock()

	if req.onComplete != nil {
		req.onComplete(req)
	}
	return req, nil
}

// Reject transitions a pending request to rejected.
func (g *Gate) Reject(id, approver, reason string) (*Request, error) {
	g.mu.Lock()
	req, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return nil, herrors.NotFound("confirmation request not found", nil)
	}
	req.Status = Rejected
	req.Approver = approver
	req.RejectReason = reason
	req.ResolvedAt = time.Now()
	delete(g.pending, id)
	g.appendAudit(req)
	g.mu.Unlock()

	if req.onComplete != nil {
		req.onComplete(req)
	}
	return req, nil
}

// ListPending returns pending requests, optionally filtered by session,
// sorted by creation time.
func (g *Gate) ListPending(sessionID string) []*Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Request, 0, len(g.pending))
	for _, req := range g.pending {
		if sessionID == "" || req.SessionID == sessionID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns a request by id, pending or terminal.
func (g *Gate) Get(id string) (*Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if req, ok := g.pending[id]; ok {
		return req, true
	}
	for _, req := range g.audit {
		if req.ID == id {
			return req, true
		}
	}
	return nil, false
}

// AuditLog returns the capped audit history, optionally filtered by session,
// most recent last.
func (g *Gate) AuditLog(sessionID string) []*Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Request, 0, len(g.audit))
	for _, req := range g.audit {
		if sessionID == "" || req.SessionID == sessionID {
			out = append(out, req)
		}
	}
	return out
}

func (g *Gate) appendAudit(req *Request) {
	g.audit = append(g.audit, req)
	if over := len(g.audit) - g.policy.AuditLogCapacity; over > 0 {
		g.audit = g.audit[over:]
	}
}

// ToView projects a request into its UI-facing shape.
func (g *Gate) ToView(req *Request) View {
	remaining := time.Until(req.ExpiresAt).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return View{
		ID:                    req.ID,
		RiskLevel:             req.RiskLevel.String(),
		RiskDescription:       riskDescription(req.RiskLevel),
		Arguments:             req.Arguments,
		TimeRemainingSeconds:  remaining,
		ModificationAllowed:   g.policy.AllowModification && req.Status == Pending,
		DoubleConfirmRequired: req.RiskLevel == risk.Critical && g.policy.DoubleConfirmCritical,
	}
}

func riskDescription(level risk.Level) string {
	switch level {
	case risk.Critical:
		return "This action is irreversible or destructive and requires explicit approval."
	case risk.High:
		return "This action modifies state and should be reviewed before running."
	case risk.Medium:
		return "This action reads or queries data."
	default:
		return "This action is read-only and low-impact."
	}
}
