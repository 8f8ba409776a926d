package tool

import (
	"context"
	"testing"

	"github.com/voxloop-ai/voxloop/pkg/types"
)

// toolNamed returns the first definition with the given name, or nil.
func toolNamed(defs []types.ToolDefinition, name string) *types.ToolDefinition {
	for i := range defs {
		if defs[i].Name == name {
			return &defs[i]
		}
	}
	return nil
}

// TestRegistry_RegisterAndGet verifies registration, duplicate rejection
// and lookup.
func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(echoTool("echo")); err == nil {
		t.Error("Register() duplicate error = nil, want error")
	}
	if _, ok := reg.Get("echo"); !ok {
		t.Error("Get(echo) ok = false, want true")
	}
	if _, ok := reg.Get("nope"); ok {
		t.Error("Get(nope) ok = true, want false")
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

// TestRegistry_Replace verifies that Replace overwrites without erroring and
// preserves registration order for existing names.
func TestRegistry_Replace(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	if err := reg.Register(echoTool("a")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(echoTool("b")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	reg.Replace(failTool("a"))
	if reg.Len() != 2 {
		t.Fatalf("Len() = %d after Replace, want 2", reg.Len())
	}

	defs := reg.Definitions(nil)
	if len(defs) != 2 || defs[0].Name != "a" || defs[1].Name != "b" {
		t.Errorf("Definitions() order = %v, want [a b]", defs)
	}
}

// TestRegistry_Unregister verifies removal from both lookup and listing.
func TestRegistry_Unregister(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	if err := reg.Register(echoTool("gone")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	reg.Unregister("gone")
	if _, ok := reg.Get("gone"); ok {
		t.Error("Get() ok = true after Unregister")
	}
	if defs := reg.Definitions(nil); len(defs) != 0 {
		t.Errorf("Definitions() = %v after Unregister, want empty", defs)
	}
	// Unregistering an unknown name is a no-op.
	reg.Unregister("never-existed")
}

// TestRegistry_DefinitionsAllowlist verifies that a non-nil allowlist
// restricts the catalogue while the call-control tools stay visible.
func TestRegistry_DefinitionsAllowlist(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	for _, name := range []string{"crm_lookup", "calendar_book", "weather"} {
		if err := reg.Register(echoTool(name)); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	endCall := NewEndCall(func(context.Context, string) error { return nil })
	if err := reg.Register(endCall); err != nil {
		t.Fatalf("Register(end_call) error = %v", err)
	}

	defs := reg.Definitions([]string{"crm_lookup"})
	if toolNamed(defs, "crm_lookup") == nil {
		t.Error("Definitions() missing allowed tool crm_lookup")
	}
	if toolNamed(defs, "calendar_book") != nil || toolNamed(defs, "weather") != nil {
		t.Errorf("Definitions() = %v, want only allowed + call-control tools", defs)
	}
	if toolNamed(defs, EndCallName) == nil {
		t.Error("Definitions() missing end_call, call-control tools bypass the allowlist")
	}

	// Nil allowlist exposes everything.
	if all := reg.Definitions(nil); len(all) != 4 {
		t.Errorf("Definitions(nil) len = %d, want 4", len(all))
	}

	// Empty non-nil allowlist exposes only call-control tools.
	if restricted := reg.Definitions([]string{}); len(restricted) != 1 {
		t.Errorf("Definitions(empty) = %v, want only end_call", restricted)
	}
}

// TestSchemaToMap verifies the JSON round-trip conversion used for imported
// tool schemas.
func TestSchemaToMap(t *testing.T) {
	t.Parallel()
	if m := schemaToMap(nil); m != nil {
		t.Errorf("schemaToMap(nil) = %v, want nil", m)
	}

	in := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
		},
	}
	out := schemaToMap(in)
	if out == nil {
		t.Fatal("schemaToMap() = nil, want map")
	}
	if out["type"] != "object" {
		t.Errorf("schemaToMap() type = %v, want object", out["type"])
	}
	props, ok := out["properties"].(map[string]any)
	if !ok || props["city"] == nil {
		t.Errorf("schemaToMap() properties = %v, want city entry", out["properties"])
	}
}

// TestSplitCommand verifies command-line splitting for stdio servers.
func TestSplitCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       string
		wantExec string
		wantArgs int
	}{
		{"", "", 0},
		{"server", "server", 0},
		{"/usr/bin/mcp-crm --config /etc/crm.json", "/usr/bin/mcp-crm", 2},
		{"  padded   args  ", "padded", 1},
	}
	for _, tt := range tests {
		gotExec, gotArgs := splitCommand(tt.in)
		if gotExec != tt.wantExec || len(gotArgs) != tt.wantArgs {
			t.Errorf("splitCommand(%q) = %q, %d args; want %q, %d args",
				tt.in, gotExec, len(gotArgs), tt.wantExec, tt.wantArgs)
		}
	}
}
