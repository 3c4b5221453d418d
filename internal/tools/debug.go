package tools

import "dispatchd/internal/provider"

// Debug is a workflow tool for step-by-step root-cause investigation,
// structurally identical to CodeReview but with its own expert prompt
// framing (§4.7 applies to every workflow tool uniformly).
type Debug struct{}

func (Debug) ExpertValidationEnabled() bool { return true }

func (Debug) BuildExpertPrompt(findingsJSON string, relevantFiles []string, includeFiles bool) ([]provider.Message, error) {
	prompt := "Given the investigation findings below, identify the most likely root cause:\n" + findingsJSON

	if includeFiles && len(relevantFiles) > 0 {
		prompt += "\n\nRelevant files:\n"
		for _, f := range relevantFiles {
			prompt += "- " + f + "\n"
		}
	}

	return []provider.Message{{Role: "user", Content: prompt}}, nil
}
