package models

import "testing"

func TestWorkflowStateCanAdvanceTo(t *testing.T) {
	tests := []struct {
		name       string
		stepNumber int
		nextStep   int
		want       bool
	}{
		{name: "next step in sequence advances", stepNumber: 2, nextStep: 3, want: true},
		{name: "repeated step does not advance", stepNumber: 2, nextStep: 2, want: false},
		{name: "skipped step does not advance", stepNumber: 2, nextStep: 4, want: false},
		{name: "out of order step does not advance", stepNumber: 2, nextStep: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &WorkflowState{StepNumber: tt.stepNumber}
			if got := w.CanAdvanceTo(tt.nextStep); got != tt.want {
				t.Errorf("CanAdvanceTo(%d) = %v, want %v", tt.nextStep, got, tt.want)
			}
		})
	}
}

func TestWorkflowStateIsResumeOfCurrent(t *testing.T) {
	w := &WorkflowState{StepNumber: 3}

	if !w.IsResumeOfCurrent(3) {
		t.Error("expected identical step_number to count as a resume")
	}
	if w.IsResumeOfCurrent(4) {
		t.Error("expected the next step_number to not count as a resume")
	}
}
