package models

import "time"

// Confidence is the client-reported confidence level carried on every
// workflow step (§3 Workflow state).
type Confidence string

const (
	ConfidenceExploring Confidence = "exploring"
	ConfidenceLow       Confidence = "low"
	ConfidenceMedium    Confidence = "medium"
	ConfidenceHigh      Confidence = "high"
	ConfidenceVeryHigh  Confidence = "very_high"
	ConfidenceCertain   Confidence = "certain"
)

// WorkflowStatus is the state machine's current phase (§4.7 diagram).
type WorkflowStatus string

const (
	WorkflowRunning    WorkflowStatus = "running"
	WorkflowPaused     WorkflowStatus = "paused"
	WorkflowFinalizing WorkflowStatus = "finalizing"
	WorkflowComplete   WorkflowStatus = "complete"
	WorkflowCancelled  WorkflowStatus = "cancelled"
)

// WorkflowState is persisted between steps so a client may return after
// an arbitrary delay (§3 Workflow state, §4.7).
//
// FindingsJSON holds the accumulated findings as a raw JSON document
// rather than a fixed struct — each step can append heterogeneous
// findings without a rigid schema — and is read/patched with gjson/sjson
// by the workflow frame instead of full unmarshal/marshal round-trips.
type WorkflowState struct {
	WorkflowID        string
	ToolName          string
	StepNumber        int
	TotalSteps        int
	NextStepRequired  bool
	FindingsJSON      string
	Hypothesis        string
	Confidence        Confidence
	RelevantFiles     []string
	Status            WorkflowStatus
	PausedAt          time.Time
	ContinuationID    string
	LastError         string
}

// CanAdvanceTo reports whether nextStep is the single valid successor of
// the current step number (§4.7: "step_number MUST be monotonically
// increasing by 1 per continuation").
func (w *WorkflowState) CanAdvanceTo(nextStep int) bool {
	return nextStep == w.StepNumber+1
}

// IsResumeOfCurrent reports whether nextStep repeats the last accepted
// step — the idempotent-resume case called out in §4.7.
func (w *WorkflowState) IsResumeOfCurrent(nextStep int) bool {
	return nextStep == w.StepNumber
}
