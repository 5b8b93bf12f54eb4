package roots

import "testing"

func TestValidatePath_UnconfiguredSessionIsPermissive(t *testing.T) {
	reg := NewRegistry()
	result := reg.ValidatePath("sess-1", "/tmp/anything")
	if result.Status != StatusAllowed {
		t.Fatalf("expected allowed for unconfigured session, got %s", result.Status)
	}
}

func TestValidatePath_StrictEmptyConfigDenies(t *testing.T) {
	reg := NewRegistry()
	reg.ConfigureSession("sess-1", nil, true)
	result := reg.ValidatePath("sess-1", "/tmp/anything")
	if result.Status != StatusNoRootsConfigured {
		t.Fatalf("expected no_roots_configured, got %s", result.Status)
	}
}

func TestValidatePath_NonStrictEmptyConfigAllows(t *testing.T) {
	reg := NewRegistry()
	reg.ConfigureSession("sess-1", nil, false)
	result := reg.ValidatePath("sess-1", "/tmp/anything")
	if result.Status != StatusAllowed {
		t.Fatalf("expected allowed, got %s", result.Status)
	}
}

func TestValidatePath_AncestorMatch(t *testing.T) {
	reg := NewRegistry()
	root, err := FromPath("/workspace/project", "proj", TypeProject)
	if err != nil {
		t.Fatal(err)
	}
	reg.ConfigureSession("sess-1", []Root{root}, true)

	if r := reg.ValidatePath("sess-1", "/workspace/project/src/main.go"); !r.Allowed() {
		t.Fatalf("expected allowed, got %s", r.Status)
	}
	if r := reg.ValidatePath("sess-1", "/workspace/other/main.go"); r.Allowed() {
		t.Fatalf("expected denied, got %s", r.Status)
	}
}

func TestClientCapabilities(t *testing.T) {
	reg := NewRegistry()
	if caps := reg.ClientCapabilities("sess-1"); len(caps) != 0 {
		t.Fatalf("expected empty capabilities, got %v", caps)
	}
	reg.ConfigureSession("sess-1", nil, true)
	caps := reg.ClientCapabilities("sess-1")
	if _, ok := caps["roots"]; !ok {
		t.Fatalf("expected roots capability after configure, got %v", caps)
	}
}

func TestExtractPaths_ReservedKeysAndBareStrings(t *testing.T) {
	args := map[string]any{
		"path":       "/a/b/c",
		"note":       "see /var/log/app.log for details",
		"unrelated":  "just text",
		"candidates": []any{"~/docs", "not-a-path"},
	}
	paths := ExtractPaths(args)
	if len(paths) != 3 {
		t.Fatalf("expected 3 extracted paths, got %d: %v", len(paths), paths)
	}
}

func TestExtractPaths_DepthCap(t *testing.T) {
	nested := map[string]any{"path": "/deep/path"}
	for i := 0; i < 10; i++ {
		nested = map[string]any{"wrapper": nested}
	}
	paths := ExtractPaths(nested)
	if len(paths) != 0 {
		t.Fatalf("expected depth cap to suppress deeply nested path, got %v", paths)
	}
}
