// Package toolframe implements the two tool-execution contracts from
// spec.md: the one-shot simple tool frame (§4.6) and the pausable
// workflow state machine (§4.7). Grounded on the teacher's
// tools.ToolExecutor interface (internal/service/llm/tools/executor.go)
// — a narrow Execute(ctx, input) collaborator — wired here into a
// bigger frame that also owns continuation handling, provider routing,
// and size-gated response envelopes (the teacher leaves those to its
// TurnExecutor, which this frame generalizes away from a single chat
// product into one shared path for every simple tool).
package toolframe

import (
	"context"
	"time"

	"dispatchd/internal/bus"
	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
	"dispatchd/internal/provider"
	"dispatchd/internal/store/conversation"
)

// SimpleHandler is one one-shot tool's business logic: given the
// resolved prompt messages, produce the assistant's reply content. The
// frame owns everything around it — validation, continuation, routing,
// response envelope.
type SimpleHandler interface {
	// Capabilities required of the model that serves this call (§4.6).
	Capabilities() []models.Capability

	// ComplexityScore feeds tier selection (§4.4) for this simple tool's
	// call; a tool can raise its own score (e.g. a multi-file search).
	// Workflow tools are not scored: their expert call is dispatched at
	// WorkflowFrame.ExpertTier.
	ComplexityScore(args map[string]interface{}) float64

	// BuildMessages turns validated args plus prior turns into the
	// provider call's message list.
	BuildMessages(args map[string]interface{}, prior []models.Turn) ([]provider.Message, error)

	// Validate rejects malformed args with InvalidInput.
	Validate(args map[string]interface{}) error
}

// SimpleFrame executes any SimpleHandler per the §4.6 contract.
type SimpleFrame struct {
	Conversation conversation.Store
	Registry     *provider.Registry
	Bus          bus.Bus
	ContextTurns int // max prior turns kept before dropping the oldest (never split a turn)
	ContinuationTTL time.Duration
}

// SimpleResult is what the handler layer turns into a response envelope.
type SimpleResult struct {
	Content        string
	ContinuationID string
	Route          bus.Route
}

// Run executes the simple tool contract end to end.
func (f *SimpleFrame) Run(ctx context.Context, handler SimpleHandler, args map[string]interface{}, continuationID string, estimatedInputTokens int) (SimpleResult, error) {
	if err := handler.Validate(args); err != nil {
		return SimpleResult{}, domain.Wrap(domain.KindInvalidInput, "tool input validation failed", err)
	}

	var prior []models.Turn
	if continuationID != "" {
		conv, err := f.Conversation.Load(ctx, continuationID)
		if err != nil {
			return SimpleResult{}, err
		}
		prior = truncateTurns(conv.Turns, f.ContextTurns)
	} else {
		id, err := f.Conversation.Create(ctx, f.ContinuationTTL)
		if err != nil {
			return SimpleResult{}, err
		}
		continuationID = id
	}

	messages, err := handler.BuildMessages(args, prior)
	if err != nil {
		return SimpleResult{}, domain.Wrap(domain.KindInvalidInput, "build provider messages", err)
	}

	complexity := handler.ComplexityScore(args)
	result, _, err := f.Registry.Dispatch(ctx, "", estimatedInputTokens, complexity, handler.Capabilities(), messages, provider.CallOptions{
		Capabilities: handler.Capabilities(),
	})
	if err != nil {
		return SimpleResult{}, err
	}

	turn := models.Turn{Role: "assistant", Content: result.Content, Timestamp: time.Now()}
	if err := f.Conversation.Append(ctx, continuationID, turn, f.ContinuationTTL); err != nil {
		return SimpleResult{}, err
	}

	route, err := f.Bus.Route(ctx, []byte(result.Content), "text/plain")
	if err != nil {
		return SimpleResult{}, err
	}

	return SimpleResult{
		Content:        result.Content,
		ContinuationID: continuationID,
		Route:          route,
	}, nil
}

// truncateTurns drops the oldest turns first when the context budget is
// exceeded, never splitting a turn (§4.6 step 2).
func truncateTurns(turns []models.Turn, max int) []models.Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}
