package toolframe

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
	"dispatchd/internal/provider"
	storeworkflow "dispatchd/internal/store/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWorkflowStore struct {
	mu   sync.Mutex
	byID map[string]*models.WorkflowState
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{byID: make(map[string]*models.WorkflowState)}
}

func (s *fakeWorkflowStore) Create(_ context.Context, state *models.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[state.WorkflowID]; exists {
		return storeworkflow.ErrIDCollision
	}
	cp := *state
	s.byID[state.WorkflowID] = &cp
	return nil
}

func (s *fakeWorkflowStore) Save(_ context.Context, state *models.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.byID[state.WorkflowID] = &cp
	return nil
}

func (s *fakeWorkflowStore) Load(_ context.Context, workflowID string) (*models.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[workflowID]
	if !ok {
		return nil, domain.New(domain.KindUnknownContinuation, "no such workflow")
	}
	cp := *st
	return &cp, nil
}

func (s *fakeWorkflowStore) Delete(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, workflowID)
	return nil
}

func (s *fakeWorkflowStore) SweepTombstoned(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

type fakeWorkflowHandler struct {
	expertEnabled bool
	promptCalls   int
}

func (h *fakeWorkflowHandler) ExpertValidationEnabled() bool { return h.expertEnabled }

func (h *fakeWorkflowHandler) BuildExpertPrompt(findingsJSON string, relevantFiles []string, includeFiles bool) ([]provider.Message, error) {
	h.promptCalls++
	return []provider.Message{{Role: "user", Content: findingsJSON}}, nil
}

func TestMergeFindings(t *testing.T) {
	tests := []struct {
		name       string
		existing   string
		step       string
		findings   string
		stepNumber int
		wantErr    bool
	}{
		{name: "empty document accepts first step", existing: "", step: "investigate", findings: "looked at auth.go", stepNumber: 1},
		{name: "invalid existing json is reset instead of erroring", existing: "not json", step: "investigate", findings: "x", stepNumber: 1},
		{name: "second step patches under its own key", existing: `{"steps":{"1":{"step":"a","findings":"b"}}}`, step: "narrow", findings: "found it", stepNumber: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mergeFindings(tt.existing, tt.step, tt.findings, tt.stepNumber)
			if (err != nil) != tt.wantErr {
				t.Fatalf("mergeFindings() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got == "" {
				t.Error("mergeFindings() returned an empty document")
			}
		})
	}
}

func TestWorkflowFrameStepStartsAndPauses(t *testing.T) {
	store := newFakeWorkflowStore()
	frame := &WorkflowFrame{Store: store}
	handler := &fakeWorkflowHandler{}

	state, err := frame.Step(context.Background(), handler, "debug", WorkflowArgs{
		StepNumber:       1,
		TotalSteps:       3,
		NextStepRequired: true,
		Step:             "investigate",
		Findings:         "initial findings",
	})
	if err != nil {
		t.Fatalf("Step() unexpected error: %v", err)
	}
	if state.Status != models.WorkflowPaused {
		t.Errorf("Status = %v, want Paused", state.Status)
	}
	if state.WorkflowID == "" {
		t.Error("expected a workflow id to be minted on start")
	}
}

func TestWorkflowFrameStepIdempotentResume(t *testing.T) {
	store := newFakeWorkflowStore()
	frame := &WorkflowFrame{Store: store}
	handler := &fakeWorkflowHandler{}

	first, err := frame.Step(context.Background(), handler, "debug", WorkflowArgs{
		StepNumber:       1,
		NextStepRequired: true,
		Step:             "investigate",
		Findings:         "initial findings",
	})
	if err != nil {
		t.Fatalf("Step() unexpected error: %v", err)
	}

	second, err := frame.Step(context.Background(), handler, "debug", WorkflowArgs{
		WorkflowID:       first.WorkflowID,
		StepNumber:       1,
		NextStepRequired: true,
		Step:             "investigate",
		Findings:         "initial findings",
	})
	if err != nil {
		t.Fatalf("Step() resume unexpected error: %v", err)
	}
	if second.StepNumber != first.StepNumber {
		t.Errorf("resumed step_number = %d, want %d", second.StepNumber, first.StepNumber)
	}
}

func TestWorkflowFrameStepRejectsOutOfOrder(t *testing.T) {
	store := newFakeWorkflowStore()
	frame := &WorkflowFrame{Store: store}
	handler := &fakeWorkflowHandler{}

	first, err := frame.Step(context.Background(), handler, "debug", WorkflowArgs{
		StepNumber:       1,
		NextStepRequired: true,
		Step:             "investigate",
		Findings:         "initial findings",
	})
	if err != nil {
		t.Fatalf("Step() unexpected error: %v", err)
	}

	_, err = frame.Step(context.Background(), handler, "debug", WorkflowArgs{
		WorkflowID:       first.WorkflowID,
		StepNumber:       3,
		NextStepRequired: false,
		Step:             "skip ahead",
		Findings:         "jumped",
	})
	if domain.KindOf(err) != domain.KindWorkflowOrderError {
		t.Errorf("error kind = %v, want WorkflowOrderError", domain.KindOf(err))
	}
}

func TestWorkflowFrameStepCompletesWithoutExpertValidation(t *testing.T) {
	store := newFakeWorkflowStore()
	frame := &WorkflowFrame{Store: store}
	handler := &fakeWorkflowHandler{expertEnabled: false}

	first, err := frame.Step(context.Background(), handler, "chat-workflow", WorkflowArgs{
		StepNumber:       1,
		NextStepRequired: true,
		Step:             "investigate",
		Findings:         "initial",
	})
	if err != nil {
		t.Fatalf("Step() unexpected error: %v", err)
	}

	final, err := frame.Step(context.Background(), handler, "chat-workflow", WorkflowArgs{
		WorkflowID:       first.WorkflowID,
		StepNumber:       2,
		NextStepRequired: false,
		Step:             "conclude",
		Findings:         "done",
	})
	if err != nil {
		t.Fatalf("final Step() unexpected error: %v", err)
	}
	if final.Status != models.WorkflowComplete {
		t.Errorf("Status = %v, want Complete", final.Status)
	}
	if handler.promptCalls != 0 {
		t.Errorf("promptCalls = %d, want 0 when expert validation is disabled", handler.promptCalls)
	}
}

type stubDispatchClient struct{}

func (stubDispatchClient) Name() string { return "stub" }

func (stubDispatchClient) Call(_ context.Context, _ models.ModelDescriptor, _ []provider.Message, _ provider.CallOptions) (provider.Result, error) {
	return provider.Result{Content: "expert says ship it"}, nil
}

func TestWorkflowFrameStepRunsExpertValidationExactlyOnce(t *testing.T) {
	store := newFakeWorkflowStore()
	registry := provider.NewRegistry(provider.Config{}, testLogger())
	registry.RegisterClient("stub", stubDispatchClient{})
	registry.RegisterModel(models.ModelDescriptor{Name: "stub-model", ProviderID: "stub", Tier: models.TierComplex, CostPerToken: 0.001})

	frame := &WorkflowFrame{Store: store, Registry: registry, ExpertTier: models.TierComplex}
	handler := &fakeWorkflowHandler{expertEnabled: true}

	first, err := frame.Step(context.Background(), handler, "codereview", WorkflowArgs{
		StepNumber:       1,
		NextStepRequired: true,
		Step:             "investigate",
		Findings:         "initial",
	})
	if err != nil {
		t.Fatalf("Step() unexpected error: %v", err)
	}

	final, err := frame.Step(context.Background(), handler, "codereview", WorkflowArgs{
		WorkflowID:       first.WorkflowID,
		StepNumber:       2,
		NextStepRequired: false,
		Step:             "conclude",
		Findings:         "done",
	})
	if err != nil {
		t.Fatalf("final Step() unexpected error: %v", err)
	}
	if final.Status != models.WorkflowComplete {
		t.Errorf("Status = %v, want Complete", final.Status)
	}
	if handler.promptCalls != 1 {
		t.Errorf("promptCalls = %d, want exactly 1", handler.promptCalls)
	}

	// Resuming with the same terminal step_number must not re-invoke the
	// expert call (idempotent resume, §4.7).
	again, err := frame.Step(context.Background(), handler, "codereview", WorkflowArgs{
		WorkflowID:       first.WorkflowID,
		StepNumber:       2,
		NextStepRequired: false,
		Step:             "conclude",
		Findings:         "done",
	})
	if err != nil {
		t.Fatalf("resumed Step() unexpected error: %v", err)
	}
	if again.Status != models.WorkflowComplete {
		t.Errorf("resumed Status = %v, want Complete", again.Status)
	}
	if handler.promptCalls != 1 {
		t.Errorf("promptCalls after resume = %d, want still 1", handler.promptCalls)
	}
}

type failingDispatchClient struct{ calls int }

func (c *failingDispatchClient) Name() string { return "stub" }

func (c *failingDispatchClient) Call(_ context.Context, _ models.ModelDescriptor, _ []provider.Message, _ provider.CallOptions) (provider.Result, error) {
	c.calls++
	return provider.Result{}, domain.New(domain.KindProviderError, "upstream exploded")
}

func TestWorkflowFrameStepResumeReplaysCachedFinalizingFailure(t *testing.T) {
	store := newFakeWorkflowStore()
	client := &failingDispatchClient{}
	registry := provider.NewRegistry(provider.Config{}, testLogger())
	registry.RegisterClient("stub", client)
	registry.RegisterModel(models.ModelDescriptor{Name: "stub-model", ProviderID: "stub", Tier: models.TierComplex, CostPerToken: 0.001})

	frame := &WorkflowFrame{Store: store, Registry: registry, ExpertTier: models.TierComplex}
	handler := &fakeWorkflowHandler{expertEnabled: true}

	first, err := frame.Step(context.Background(), handler, "codereview", WorkflowArgs{
		StepNumber:       1,
		NextStepRequired: true,
		Step:             "investigate",
		Findings:         "initial",
	})
	if err != nil {
		t.Fatalf("Step() unexpected error: %v", err)
	}

	_, err = frame.Step(context.Background(), handler, "codereview", WorkflowArgs{
		WorkflowID:       first.WorkflowID,
		StepNumber:       2,
		NextStepRequired: false,
		Step:             "conclude",
		Findings:         "done",
	})
	if domain.KindOf(err) != domain.KindProviderError {
		t.Fatalf("first finalize error kind = %v, want ProviderError", domain.KindOf(err))
	}

	// Resuming with the identical step_number must replay the cached
	// failure (§4.7) rather than re-dispatch the expert call or return
	// WorkflowOrderError.
	_, err = frame.Step(context.Background(), handler, "codereview", WorkflowArgs{
		WorkflowID:       first.WorkflowID,
		StepNumber:       2,
		NextStepRequired: false,
		Step:             "conclude",
		Findings:         "done",
	})
	if domain.KindOf(err) != domain.KindProviderError {
		t.Errorf("resumed error kind = %v, want cached ProviderError", domain.KindOf(err))
	}
	if client.calls != 1 {
		t.Errorf("expert call count = %d, want exactly 1 (resume must not re-dispatch)", client.calls)
	}
}

func TestWorkflowFrameCancelNonTerminal(t *testing.T) {
	store := newFakeWorkflowStore()
	frame := &WorkflowFrame{Store: store}
	handler := &fakeWorkflowHandler{}

	first, err := frame.Step(context.Background(), handler, "debug", WorkflowArgs{
		StepNumber:       1,
		NextStepRequired: true,
		Step:             "investigate",
		Findings:         "initial",
	})
	if err != nil {
		t.Fatalf("Step() unexpected error: %v", err)
	}

	if err := frame.Cancel(context.Background(), first.WorkflowID); err != nil {
		t.Fatalf("Cancel() unexpected error: %v", err)
	}

	cancelled, err := store.Load(context.Background(), first.WorkflowID)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cancelled.Status != models.WorkflowCancelled {
		t.Errorf("Status = %v, want Cancelled", cancelled.Status)
	}
}
