// Package handler is the request glue layer (spec.md §4.10): touch →
// authorize → validate → acquire → execute → envelope → release. It
// has no teacher-specific analogue as a single file, but the shape —
// a Handler struct holding every shared collaborator, one method per
// opcode — follows the teacher's TurnExecutor
// (internal/service/llm/turn_executor.go), which plays the same
// "receives a decoded request, drives every subsystem, returns an
// envelope" role for the chat turn path.
package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/time/rate"

	"dispatchd/internal/bus"
	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
	"dispatchd/internal/session"
	"dispatchd/internal/toolframe"
	"dispatchd/internal/toolregistry"
)

// SimpleHandlers and WorkflowHandlers key tool name to its
// implementation; Handler looks up by the resolved descriptor's name.
type Handler struct {
	Sessions    *session.Manager
	Connections *session.Connections
	Tools       *toolregistry.Registry
	SimpleFrame *toolframe.SimpleFrame
	Workflow    *toolframe.WorkflowFrame
	Bus         bus.Bus

	SimpleHandlers   map[string]toolframe.SimpleHandler
	WorkflowHandlers map[string]toolframe.WorkflowHandler

	QueueLimiter *rate.Limiter
	MaxQueueDepth int
}

// CallToolRequest bundles one call_tool frame's decoded fields.
type CallToolRequest struct {
	SessionID      string
	ConnID         string
	RequestID      string
	Tool           string
	Arguments      map[string]interface{}
	ContinuationID string
}

// CallToolResponse is what the wsserver layer serializes into an
// OutboundEnvelope.
type CallToolResponse struct {
	Status         models.Status
	Payload        interface{}
	Pointer        *models.PointerEnvelope
	ContinuationID string
}

// HandleCallTool implements the §4.10 pipeline for one call_tool frame.
func (h *Handler) HandleCallTool(ctx context.Context, req CallToolRequest) (CallToolResponse, error) {
	if err := h.Sessions.Touch(req.SessionID); err != nil {
		return CallToolResponse{}, err
	}

	descriptor, err := h.Tools.Resolve(req.Tool)
	if err != nil {
		return CallToolResponse{}, err
	}
	if descriptor.Visibility == models.VisibilityInternal {
		// §4.10 step 2 "authorise the tool against the session (visibility
		// ...)": internal tools are filtered out of List() but must also be
		// unreachable by direct name, not merely absent a bound handler.
		// Reported as UnknownTool rather than a distinct kind so an
		// internal tool's existence isn't distinguishable from a typo.
		return CallToolResponse{}, domain.New(domain.KindUnknownTool, "unknown tool: "+req.Tool)
	}

	if !h.QueueLimiter.Allow() {
		return CallToolResponse{}, domain.New(domain.KindBusy, "max_queue_depth exceeded")
	}

	if err := h.Sessions.Acquire(ctx, req.SessionID); err != nil {
		return CallToolResponse{}, err
	}
	defer h.Sessions.Release(req.SessionID)

	if err := h.Connections.Acquire(ctx, req.ConnID); err != nil {
		return CallToolResponse{}, err
	}
	defer h.Connections.Release(req.ConnID)

	toolCtx, cancel := context.WithTimeout(ctx, descriptor.TimeoutBudget)
	defer cancel()

	switch descriptor.Category {
	case models.ToolCategoryWorkflow:
		return h.handleWorkflowCall(toolCtx, descriptor, req)
	default:
		return h.handleSimpleCall(toolCtx, descriptor, req)
	}
}

func (h *Handler) handleSimpleCall(ctx context.Context, descriptor models.ToolDescriptor, req CallToolRequest) (CallToolResponse, error) {
	impl, ok := h.SimpleHandlers[descriptor.Name]
	if !ok {
		return CallToolResponse{}, domain.New(domain.KindUnknownTool, "no implementation bound for tool: "+descriptor.Name)
	}

	result, err := h.SimpleFrame.Run(ctx, impl, req.Arguments, req.ContinuationID, estimateTokens(req.Arguments))
	if err != nil {
		return CallToolResponse{}, err
	}

	resp := CallToolResponse{Status: models.StatusOK, ContinuationID: result.ContinuationID}
	if result.Route.Inline {
		resp.Payload = map[string]interface{}{"content": result.Content}
	} else {
		resp.Pointer = bus.PointerEnvelope(result.Route)
	}
	return resp, nil
}

func (h *Handler) handleWorkflowCall(ctx context.Context, descriptor models.ToolDescriptor, req CallToolRequest) (CallToolResponse, error) {
	impl, ok := h.WorkflowHandlers[descriptor.Name]
	if !ok {
		return CallToolResponse{}, domain.New(domain.KindUnknownTool, "no implementation bound for tool: "+descriptor.Name)
	}

	args := parseWorkflowArgs(req.Arguments, req.ContinuationID)
	state, err := h.Workflow.Step(ctx, impl, descriptor.Name, args)
	if err != nil {
		return CallToolResponse{}, err
	}

	status := models.StatusOK
	if state.Status == models.WorkflowPaused {
		status = models.StatusWorkflowPaused
	}

	return CallToolResponse{
		Status: status,
		Payload: map[string]interface{}{
			"workflow_id":        state.WorkflowID,
			"status":             state.Status,
			"step_number":        state.StepNumber,
			"findings":           state.FindingsJSON,
			"next_step_required": state.NextStepRequired,
		},
		ContinuationID: state.ContinuationID,
	}, nil
}

// HandleCancel transitions the workflow workflowID to cancelled and
// interrupts its in-flight expert call, if any (§4.7, §5
// "Cancellation"). It cancels by workflow id only; an in-flight simple
// tool call is not cancelled.
func (h *Handler) HandleCancel(ctx context.Context, workflowID string) error {
	return h.Workflow.Cancel(ctx, workflowID)
}

// HandleRetrieve answers a `retrieve` frame by fetching a bus transaction
// (§6: `retrieve → {bytes_b64, sha256}`). The hash is recomputed from the
// fetched bytes rather than trusted from storage, so testable property #3's
// round-trip integrity check is actually exercised end to end.
func (h *Handler) HandleRetrieve(ctx context.Context, transactionID string) ([]byte, string, error) {
	payload, err := h.Bus.Fetch(ctx, transactionID)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(payload)
	return payload, hex.EncodeToString(sum[:]), nil
}

func parseWorkflowArgs(args map[string]interface{}, continuationID string) toolframe.WorkflowArgs {
	get := func(k string) string { s, _ := args[k].(string); return s }
	getInt := func(k string) int {
		if v, ok := args[k].(float64); ok {
			return int(v)
		}
		return 0
	}
	getBool := func(k string) bool { b, _ := args[k].(bool); return b }

	var relevantFiles []string
	if raw, ok := args["relevant_files"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				relevantFiles = append(relevantFiles, s)
			}
		}
	}

	return toolframe.WorkflowArgs{
		WorkflowID:       get("workflow_id"),
		Step:             get("step"),
		StepNumber:       getInt("step_number"),
		TotalSteps:       getInt("total_steps"),
		NextStepRequired: getBool("next_step_required"),
		Findings:         get("findings"),
		Hypothesis:       get("hypothesis"),
		Confidence:       models.Confidence(get("confidence")),
		RelevantFiles:    relevantFiles,
		ContinuationID:   continuationID,
	}
}

// estimateTokens is a crude input-size proxy for tier routing (§4.4)
// until a real tokenizer is wired in; 4 bytes/token is the teacher's own
// rough heuristic used elsewhere for budget checks.
func estimateTokens(args map[string]interface{}) int {
	total := 0
	for _, v := range args {
		if s, ok := v.(string); ok {
			total += len(s) / 4
		}
	}
	return total
}
