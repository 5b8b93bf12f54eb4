package hitl

import (
	"testing"
	"time"

	"github.com/chrisyu/mcphost/pkg/risk"
)

func TestApproveFlow(t *testing.T) {
	g := NewGate(DefaultPolicy())
	defer g.Stop()

	var completed *Request
	req := g.Create("sess-1", "fs__write_file", map[string]any{"path": "/tmp/x"}, risk.High, func(r *Request) {
		completed = r
	})

	if got, _ := g.Approve(req.ID, "alice", nil); got.Status != Approved {
		t.Fatalf("expected approved, got %v", got.Status)
	}
	if completed == nil || completed.Status != Approved {
		t.Fatal("expected completion callback invoked with approved status")
	}
	if _, ok := g.Get(req.ID); !ok {
		t.Fatal("expected request retrievable from audit log after terminal")
	}
	if len(g.ListPending("sess-1")) != 0 {
		t.Fatal("expected no pending requests after approval")
	}
}

func TestApproveWithModifiedArgs(t *testing.T) {
	g := NewGate(DefaultPolicy())
	defer g.Stop()

	req := g.Create("sess-1", "fs__write_file", map[string]any{"path": "/tmp/x"}, risk.High, nil)
	got, err := g.Approve(req.ID, "alice", map[string]any{"path": "/tmp/y"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != Modified {
		t.Fatalf("expected modified, got %v", got.Status)
	}
}

func TestRejectFlow(t *testing.T) {
	g := NewGate(DefaultPolicy())
	defer g.Stop()

	req := g.Create("sess-1", "fs__delete_file", nil, risk.Critical, nil)
	got, err := g.Reject(req.ID, "bob", "not authorized")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != Rejected {
		t.Fatalf("expected rejected, got %v", got.Status)
	}
}

func TestApproveExpired(t *testing.T) {
	policy := DefaultPolicy()
	policy.Timeout = -1 * time.Second // already expired on creation
	g := NewGate(policy)
	defer g.Stop()

	req := g.Create("sess-1", "fs__write_file", nil, risk.High, nil)
	if _, err := g.Approve(req.ID, "alice", nil); err == nil {
		t.Fatal("expected error approving an expired request")
	}
}

func TestToViewTimeRemainingNeverNegative(t *testing.T) {
	policy := DefaultPolicy()
	policy.Timeout = -1 * time.Second
	g := NewGate(policy)
	defer g.Stop()

	req := g.Create("sess-1", "x", nil, risk.Low, nil)
	view := g.ToView(req)
	if view.TimeRemainingSeconds != 0 {
		t.Fatalf("expected 0, got %f", view.TimeRemainingSeconds)
	}
}
