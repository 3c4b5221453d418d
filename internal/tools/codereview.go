package tools

import (
	"fmt"

	"dispatchd/internal/provider"
)

// CodeReview is a workflow tool: the client walks it through several
// RUNNING/PAUSED steps accumulating findings, then FINALIZING issues one
// expert-validation call over the accumulated findings (§4.7).
type CodeReview struct{}

func (CodeReview) ExpertValidationEnabled() bool { return true }

func (CodeReview) BuildExpertPrompt(findingsJSON string, relevantFiles []string, includeFiles bool) ([]provider.Message, error) {
	prompt := "Review the accumulated findings and confirm or refute each one:\n" + findingsJSON

	if includeFiles && len(relevantFiles) > 0 {
		prompt += "\n\nRelevant files:\n"
		for _, f := range relevantFiles {
			prompt += fmt.Sprintf("- %s\n", f)
		}
	}

	return []provider.Message{{Role: "user", Content: prompt}}, nil
}
