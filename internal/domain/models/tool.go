package models

import "time"

// ToolCategory distinguishes one-shot tools from pausable state machines
// and internal utility tools (§3 Tool descriptor).
type ToolCategory string

const (
	ToolCategorySimple   ToolCategory = "simple"
	ToolCategoryWorkflow ToolCategory = "workflow"
	ToolCategoryUtility  ToolCategory = "utility"
)

// Visibility controls whether a tool is returned by a public listing.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityInternal Visibility = "internal"
)

// Capability names a provider feature a tool may require of the model
// chosen to serve it (§3, §4.4, §4.6).
type Capability string

const (
	CapabilityVision      Capability = "vision"
	CapabilityLongContext Capability = "long_context"
	CapabilityTools       Capability = "tools"
	CapabilityWebSearch   Capability = "web_search"
)

// ToolDescriptor is immutable after registry load (§3, §4.5).
type ToolDescriptor struct {
	Name                 string                 `yaml:"name"`
	Category             ToolCategory           `yaml:"category"`
	Visibility           Visibility             `yaml:"visibility"`
	InputSchema          map[string]interface{} `yaml:"input_schema"`
	RequiredCapabilities []Capability           `yaml:"required_capabilities"`
	TimeoutBudget        time.Duration          `yaml:"-"`
	TimeoutBudgetSecs    int                    `yaml:"timeout_budget_secs"`
	Disabled             bool                   `yaml:"-"`
	ExpertValidation     bool                   `yaml:"expert_validation"`
}

// RequiresCapability reports whether cap is in the descriptor's required set.
func (d ToolDescriptor) RequiresCapability(cap Capability) bool {
	for _, c := range d.RequiredCapabilities {
		if c == cap {
			return true
		}
	}
	return false
}
