// Package provider defines the ProviderClient collaborator interface
// and the tier-bucketed registry that selects and escalates across
// models (spec.md §4.4). Grounded on the teacher's
// internal/service/llm.ProviderRegistry — a mutex-guarded map behind
// narrow accessor methods — generalized from "provider by model name
// prefix" to "provider by tier, cost, and capability".
package provider

import (
	"context"

	"dispatchd/internal/domain/models"
)

// Message is one turn handed to a provider call.
type Message struct {
	Role    string
	Content string
}

// CallOptions carries the per-call knobs a tool frame computes:
// required capabilities and the tool names offered to the model. The
// call's timeout travels on its context, not here.
type CallOptions struct {
	Capabilities []models.Capability
	Tools        []string
}

// Result is a provider completion.
type Result struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Client is the out-of-scope "call(model, messages, tools, opts)"
// collaborator from spec.md §1 — the registry selects a model and a
// Client implementation, then the tool frame issues the call under a
// context deadline derived from the timeout hierarchy (§4.1).
type Client interface {
	// Name identifies the provider for error messages and logging.
	Name() string

	// Call issues one completion request against model.
	Call(ctx context.Context, model models.ModelDescriptor, messages []Message, opts CallOptions) (Result, error)
}
