package models

// Tier buckets models by role in the routing algorithm (§4.4).
type Tier string

const (
	TierManager     Tier = "manager"
	TierComplex     Tier = "complex"
	TierLongContext Tier = "long_context"
)

// ModelDescriptor is loaded at startup and re-probed on provider error
// (§3 Model descriptor).
type ModelDescriptor struct {
	Name          string       `yaml:"name"`
	ProviderID    string       `yaml:"provider_id"`
	ContextWindow int          `yaml:"context_window"`
	CostPerToken  float64      `yaml:"cost_per_token"`
	Capabilities  []Capability `yaml:"capabilities"`
	Tier          Tier         `yaml:"tier"`
	Available     bool         `yaml:"-"`
}

// SupportsCapability reports whether cap is advertised by this model.
func (m ModelDescriptor) SupportsCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
