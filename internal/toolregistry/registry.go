// Package toolregistry holds every tool descriptor loaded at startup
// (spec.md §4.5). Grounded on the teacher's provider registry shape
// (internal/service/llm/registry.go): an immutable-after-load,
// mutex-guarded map behind narrow accessors, generalized from "provider
// by model prefix" to "tool descriptor by name" with a feature-flag
// disable path the teacher's registry doesn't need.
package toolregistry

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"dispatchd/internal/config"
	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
)

// Registry holds tool descriptors, immutable after Load except for
// Disable/Enable feature-flag toggles (§4.5).
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]models.ToolDescriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]models.ToolDescriptor)}
}

type descriptorFile struct {
	Tools []models.ToolDescriptor `yaml:"tools"`
}

// LoadFile parses a YAML tool-descriptor file (configs/tools.yaml) and
// registers every entry. Called once at startup.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tool descriptors: %w", err)
	}

	var doc descriptorFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse tool descriptors: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, td := range doc.Tools {
		td.TimeoutBudget = time.Duration(td.TimeoutBudgetSecs) * time.Second
		r.byName[td.Name] = td
	}
	return nil
}

// Register adds or overwrites one descriptor directly (used by tests
// and any built-in tool that doesn't come from the YAML file).
func (r *Registry) Register(td models.ToolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[td.Name] = td
}

// Resolve returns the descriptor for name, or UnknownTool /
// ToolDisabled per §4.5.
func (r *Registry) Resolve(name string) (models.ToolDescriptor, error) {
	if len(name) > config.MaxToolNameLength {
		return models.ToolDescriptor{}, domain.New(domain.KindInvalidInput, "tool name exceeds max length")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	td, ok := r.byName[name]
	if !ok {
		return models.ToolDescriptor{}, domain.New(domain.KindUnknownTool, "unknown tool: "+name)
	}
	if td.Disabled {
		return models.ToolDescriptor{}, domain.New(domain.KindToolDisabled, "tool disabled: "+name)
	}
	return td, nil
}

// List returns every public-visibility descriptor (§4.5: "Listing for a
// client MUST filter out visibility = internal entries").
func (r *Registry) List() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ToolDescriptor, 0, len(r.byName))
	for _, td := range r.byName {
		if td.Visibility == models.VisibilityInternal {
			continue
		}
		out = append(out, td)
	}
	return out
}

// Disable marks a tool unavailable via feature flag without removing
// its descriptor from the registry.
func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if td, ok := r.byName[name]; ok {
		td.Disabled = true
		r.byName[name] = td
	}
}

// Enable clears a feature-flag disable.
func (r *Registry) Enable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if td, ok := r.byName[name]; ok {
		td.Disabled = false
		r.byName[name] = td
	}
}
