package toolframe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"dispatchd/internal/config"
	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
	"dispatchd/internal/provider"
	storeworkflow "dispatchd/internal/store/workflow"
)

// WorkflowArgs is the fixed argument shape every workflow tool call
// carries (§4.7).
type WorkflowArgs struct {
	WorkflowID        string
	Step              string
	StepNumber        int
	TotalSteps        int
	NextStepRequired  bool
	Findings          string
	Hypothesis        string
	Confidence        models.Confidence
	RelevantFiles     []string
	ContinuationID    string
}

// WorkflowHandler is one workflow tool's domain logic: it only decides
// what the expert-validation prompt looks like once the frame reaches
// FINALIZING. Everything about step ordering, pausing, and the
// exactly-once expert call is owned by WorkflowFrame.
type WorkflowHandler interface {
	// ExpertValidationEnabled reports whether this tool is configured for
	// a FINALIZING expert call (§4.7).
	ExpertValidationEnabled() bool

	// BuildExpertPrompt renders the accumulated findings into a provider
	// message list. includeFiles is false whenever the expert-analysis
	// file-inclusion config is off; the handler MUST NOT inline file
	// contents in that case regardless of any per-tool override (§4.7).
	BuildExpertPrompt(findingsJSON string, relevantFiles []string, includeFiles bool) ([]provider.Message, error)
}

// stepOutcome is either an accepted step's resulting state or a
// FINALIZING failure, cached together so a resume with an identical
// step_number replays whichever one actually happened (§4.7: "a
// subsequent resume with identical step_number is idempotent and
// returns the cached failure").
type stepOutcome struct {
	state *models.WorkflowState
	err   error
}

// stepResultCache caches the outcome of each accepted step so that a
// resume with an identical step_number is idempotent (§4.7) without
// re-running side effects.
type stepResultCache struct {
	mu    sync.Mutex
	byKey map[string]stepOutcome
}

func newStepResultCache() *stepResultCache {
	return &stepResultCache{byKey: make(map[string]stepOutcome)}
}

func cacheKey(workflowID string, step int) string {
	return fmt.Sprintf("%s:%d", workflowID, step)
}

func (c *stepResultCache) get(workflowID string, step int) (stepOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.byKey[cacheKey(workflowID, step)]
	return o, ok
}

func (c *stepResultCache) put(st models.WorkflowState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := st
	c.byKey[cacheKey(st.WorkflowID, st.StepNumber)] = stepOutcome{state: &cp}
}

// putFailure caches a FINALIZING failure for (workflowID, step) so an
// identical-step resume replays the same error instead of hitting
// CanAdvanceTo's ordering check (the persisted state's step_number
// didn't roll back, so a naive resume would otherwise see
// WorkflowOrderError instead of the failure that actually occurred).
func (c *stepResultCache) putFailure(workflowID string, step int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[cacheKey(workflowID, step)] = stepOutcome{err: err}
}

// WorkflowFrame runs the pausable workflow state machine (§4.7).
type WorkflowFrame struct {
	Store    storeworkflow.Store
	Registry *provider.Registry

	IncludeFilesInExpertPrompt bool
	ExpertTier                 models.Tier

	cache *stepResultCache
	once  sync.Once

	inFlightMu sync.Mutex
	inFlight   map[string]context.CancelFunc
}

func (f *WorkflowFrame) ensureCache() *stepResultCache {
	f.once.Do(func() { f.cache = newStepResultCache() })
	return f.cache
}

// registerInFlight tracks the cancel func for a workflow's currently
// running FINALIZING call, so a concurrent Cancel() can interrupt it
// instead of merely flipping the persisted status once it's too late.
func (f *WorkflowFrame) registerInFlight(workflowID string, cancel context.CancelFunc) {
	f.inFlightMu.Lock()
	defer f.inFlightMu.Unlock()
	if f.inFlight == nil {
		f.inFlight = make(map[string]context.CancelFunc)
	}
	f.inFlight[workflowID] = cancel
}

func (f *WorkflowFrame) clearInFlight(workflowID string) {
	f.inFlightMu.Lock()
	defer f.inFlightMu.Unlock()
	delete(f.inFlight, workflowID)
}

func (f *WorkflowFrame) cancelInFlight(workflowID string) {
	f.inFlightMu.Lock()
	cancel, ok := f.inFlight[workflowID]
	f.inFlightMu.Unlock()
	if ok {
		cancel()
	}
}

// Step advances (or idempotently replays) one workflow step.
func (f *WorkflowFrame) Step(ctx context.Context, handler WorkflowHandler, toolName string, args WorkflowArgs) (*models.WorkflowState, error) {
	if len(args.RelevantFiles) > config.MaxRelevantFilesPerStep {
		// Rejected outright rather than silently truncated — a client
		// relying on every listed file being inspected must know when
		// one was dropped, not discover it later.
		return nil, domain.New(domain.KindInvalidInput, "relevant_files exceeds per-step limit")
	}

	cache := f.ensureCache()

	workflowID := args.WorkflowID
	isStart := workflowID == "" && args.StepNumber == 1

	var state *models.WorkflowState
	if isStart {
		// Create, not Save: a plain INSERT so a colliding workflow_id
		// (two starts racing onto the same freshly minted id) surfaces
		// as storeworkflow.ErrIDCollision instead of an upsert silently
		// clobbering whatever workflow already owns that row.
		for attempt := 0; ; attempt++ {
			state = &models.WorkflowState{
				WorkflowID:     newWorkflowID(),
				ToolName:       toolName,
				StepNumber:     0,
				TotalSteps:     args.TotalSteps,
				FindingsJSON:   "{}",
				ContinuationID: args.ContinuationID,
				Status:         models.WorkflowRunning,
			}
			err := f.Store.Create(ctx, state)
			if err == nil {
				break
			}
			if errors.Is(err, storeworkflow.ErrIDCollision) && attempt < 3 {
				continue
			}
			return nil, err
		}
	} else {
		if cached, ok := cache.get(workflowID, args.StepNumber); ok {
			// Idempotent resume on identical step_number (§4.7): replay
			// whichever outcome actually happened, success or failure.
			if cached.err != nil {
				return nil, cached.err
			}
			result := *cached.state
			return &result, nil
		}

		var err error
		state, err = f.Store.Load(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if state.Status == models.WorkflowCancelled || state.Status == models.WorkflowComplete {
			return nil, domain.New(domain.KindWorkflowOrderError, "workflow already terminal")
		}
		if !state.CanAdvanceTo(args.StepNumber) {
			return nil, domain.New(domain.KindWorkflowOrderError, "step_number out of order")
		}
	}

	state.StepNumber = args.StepNumber
	state.TotalSteps = args.TotalSteps
	state.NextStepRequired = args.NextStepRequired
	state.Hypothesis = args.Hypothesis
	state.Confidence = args.Confidence
	state.RelevantFiles = args.RelevantFiles

	merged, err := mergeFindings(state.FindingsJSON, args.Step, args.Findings, args.StepNumber)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "patch findings json", err)
	}
	state.FindingsJSON = merged

	if args.NextStepRequired {
		state.Status = models.WorkflowPaused
		state.PausedAt = time.Now()
		if err := f.Store.Save(ctx, state); err != nil {
			return nil, err
		}
		cache.put(*state)
		return state, nil
	}

	state.Status = models.WorkflowFinalizing
	if err := f.Store.Save(ctx, state); err != nil {
		return nil, err
	}

	if handler.ExpertValidationEnabled() {
		if err := f.runExpertValidation(ctx, handler, state); err != nil {
			state.Status = models.WorkflowRunning
			state.LastError = err.Error()
			_ = f.Store.Save(ctx, state)
			// Cache the failure itself, not just successful outcomes: a
			// resume with this same step_number must replay the cached
			// failure (§4.7), not hit CanAdvanceTo and come back as
			// WorkflowOrderError — state.StepNumber already advanced to
			// args.StepNumber above, so the ordering check alone can't
			// tell "failed here" from "out of order".
			cache.putFailure(state.WorkflowID, args.StepNumber, err)
			return nil, err
		}
	}

	state.Status = models.WorkflowComplete
	if err := f.Store.Save(ctx, state); err != nil {
		return nil, err
	}
	cache.put(*state)
	return state, nil
}

// runExpertValidation issues exactly one expert dispatch, at f.ExpertTier,
// with the accumulated findings (§4.7: "duplicate expert calls are forbidden
// (historically the source of a 240s latency bug)"). The call runs
// under a cancellable derived context registered against the workflow's
// id, so a concurrent Cancel() interrupts the in-flight request instead
// of only updating persisted state after the fact.
func (f *WorkflowFrame) runExpertValidation(ctx context.Context, handler WorkflowHandler, state *models.WorkflowState) error {
	messages, err := handler.BuildExpertPrompt(state.FindingsJSON, state.RelevantFiles, f.IncludeFilesInExpertPrompt)
	if err != nil {
		return domain.Wrap(domain.KindInvalidInput, "build expert prompt", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	cancelCtx, cancel := context.WithCancel(gctx)
	f.registerInFlight(state.WorkflowID, cancel)
	defer f.clearInFlight(state.WorkflowID)
	defer cancel()

	g.Go(func() error {
		_, _, err := f.Registry.DispatchTier(cancelCtx, f.ExpertTier, nil, messages, provider.CallOptions{})
		return err
	})
	return g.Wait()
}

// Cancel transitions a non-terminal workflow to CANCELLED (§4.7:
// "Cancellation by client closure transitions any non-terminal state to
// CANCELLED").
func (f *WorkflowFrame) Cancel(ctx context.Context, workflowID string) error {
	f.cancelInFlight(workflowID)

	state, err := f.Store.Load(ctx, workflowID)
	if err != nil {
		return err
	}
	if state.Status == models.WorkflowComplete || state.Status == models.WorkflowCancelled {
		return nil
	}
	state.Status = models.WorkflowCancelled
	state.PausedAt = time.Now()
	return f.Store.Save(ctx, state)
}

// mergeFindings appends this step's findings to the JSON document under
// "steps", keyed by step_number, using sjson to patch without a full
// unmarshal/marshal round trip, and gjson only to validate the document
// parses.
func mergeFindings(existingJSON, step, findings string, stepNumber int) (string, error) {
	if !gjson.Valid(existingJSON) {
		existingJSON = "{}"
	}
	path := fmt.Sprintf("steps.%d", stepNumber)
	updated, err := sjson.Set(existingJSON, path, map[string]interface{}{
		"step":     step,
		"findings": findings,
	})
	if err != nil {
		return "", err
	}
	return updated, nil
}

func newWorkflowID() string {
	return models.NewOpaqueID()
}
