package toolregistry

import (
	"os"
	"strings"
	"testing"
	"time"

	"dispatchd/internal/config"
	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
)

func TestResolve(t *testing.T) {
	r := New()
	r.Register(models.ToolDescriptor{Name: "chat", Category: models.ToolCategorySimple, Visibility: models.VisibilityPublic})
	r.Register(models.ToolDescriptor{Name: "disabled_tool", Disabled: true})

	tests := []struct {
		name     string
		tool     string
		wantKind domain.Kind
	}{
		{name: "known enabled tool resolves", tool: "chat", wantKind: ""},
		{name: "unknown tool rejected", tool: "nope", wantKind: domain.KindUnknownTool},
		{name: "disabled tool rejected", tool: "disabled_tool", wantKind: domain.KindToolDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.tool)
			if tt.wantKind == "" {
				if err != nil {
					t.Errorf("Resolve() unexpected error: %v", err)
				}
				return
			}
			if domain.KindOf(err) != tt.wantKind {
				t.Errorf("Resolve() error kind = %v, want %v", domain.KindOf(err), tt.wantKind)
			}
		})
	}
}

func TestResolveRejectsOverlongToolName(t *testing.T) {
	r := New()
	name := strings.Repeat("x", config.MaxToolNameLength+1)

	_, err := r.Resolve(name)
	if domain.KindOf(err) != domain.KindInvalidInput {
		t.Errorf("Resolve() error kind = %v, want InvalidInput", domain.KindOf(err))
	}
}

func TestListFiltersInternalVisibility(t *testing.T) {
	r := New()
	r.Register(models.ToolDescriptor{Name: "chat", Visibility: models.VisibilityPublic})
	r.Register(models.ToolDescriptor{Name: "internal_ping", Visibility: models.VisibilityInternal})

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("List() returned %d descriptors, want 1", len(list))
	}
	if list[0].Name != "chat" {
		t.Errorf("List()[0].Name = %q, want %q", list[0].Name, "chat")
	}
}

func TestDisableEnable(t *testing.T) {
	r := New()
	r.Register(models.ToolDescriptor{Name: "chat", Visibility: models.VisibilityPublic})

	r.Disable("chat")
	if _, err := r.Resolve("chat"); domain.KindOf(err) != domain.KindToolDisabled {
		t.Fatalf("expected chat to be disabled after Disable()")
	}

	r.Enable("chat")
	if _, err := r.Resolve("chat"); err != nil {
		t.Fatalf("Resolve() unexpected error after Enable(): %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := t.TempDir() + "/tools.yaml"
	const doc = `
tools:
  - name: chat
    category: simple
    visibility: public
    timeout_budget_secs: 30
  - name: internal_ping
    category: utility
    visibility: internal
    timeout_budget_secs: 5
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}

	r := New()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() unexpected error: %v", err)
	}

	td, err := r.Resolve("chat")
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if td.TimeoutBudget != 30*time.Second {
		t.Errorf("TimeoutBudget = %s, want 30s", td.TimeoutBudget)
	}

	if len(r.List()) != 1 {
		t.Errorf("List() length = %d, want 1 (internal_ping filtered out)", len(r.List()))
	}
}
