package tools

import (
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"dispatchd/internal/domain/models"
	"dispatchd/internal/provider"
)

// WebResearchArgs is the validated shape of the "web_research" tool's
// arguments, modeled on the teacher's WebSearchTool input (query,
// max_results, topic — internal/service/llm/tools/web_search.go).
type WebResearchArgs struct {
	Query      string
	MaxResults int
	Topic      string
}

func extractWebResearchArgs(args map[string]interface{}) WebResearchArgs {
	query, _ := args["query"].(string)

	maxResults := 5
	if v, ok := args["max_results"].(float64); ok {
		maxResults = int(v)
	}

	topic, _ := args["topic"].(string)
	if topic == "" {
		topic = "general"
	}

	return WebResearchArgs{
		Query:      strings.TrimSpace(query),
		MaxResults: maxResults,
		Topic:      topic,
	}
}

// WebResearch is a simple tool that requires the web_search capability
// (§4.6: "if no available model supports it, the frame fails with
// CapabilityUnavailable").
type WebResearch struct{}

func (WebResearch) Capabilities() []models.Capability {
	return []models.Capability{models.CapabilityWebSearch}
}

func (WebResearch) ComplexityScore(_ map[string]interface{}) float64 {
	return 0.4
}

func (WebResearch) Validate(args map[string]interface{}) error {
	a := extractWebResearchArgs(args)
	return validation.ValidateStruct(&a,
		validation.Field(&a.Query, validation.Required, validation.Length(1, 1000)),
		validation.Field(&a.MaxResults, validation.Min(1), validation.Max(10)),
		validation.Field(&a.Topic, validation.In("general", "news", "finance")),
	)
}

func (WebResearch) BuildMessages(args map[string]interface{}, prior []models.Turn) ([]provider.Message, error) {
	a := extractWebResearchArgs(args)

	messages := make([]provider.Message, 0, len(prior)+1)
	for _, t := range prior {
		messages = append(messages, provider.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, provider.Message{
		Role:    "user",
		Content: "Research (" + a.Topic + ", top " + strconv.Itoa(a.MaxResults) + "): " + a.Query,
	})
	return messages, nil
}
