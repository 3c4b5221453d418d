// Package tools holds the concrete tool implementations bound into the
// tool registry at startup. Each implements either
// toolframe.SimpleHandler or toolframe.WorkflowHandler; argument
// extraction follows the teacher's tools.ToolExecutor convention of
// pulling typed values out of a map[string]interface{} (Execute's input
// parameter), adapted here to a validated-struct style via
// ozzo-validation instead of manual type assertions throughout.
package tools

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"dispatchd/internal/domain/models"
	"dispatchd/internal/provider"
)

// ChatArgs is the validated shape of the "chat" tool's arguments.
type ChatArgs struct {
	Prompt string
}

func extractChatArgs(args map[string]interface{}) ChatArgs {
	prompt, _ := args["prompt"].(string)
	return ChatArgs{Prompt: strings.TrimSpace(prompt)}
}

// Chat is the simplest possible simple-tool handler: one prompt, one
// reply, no special capabilities.
type Chat struct{}

func (Chat) Capabilities() []models.Capability { return nil }

func (Chat) ComplexityScore(_ map[string]interface{}) float64 {
	return 0.1
}

func (Chat) Validate(args map[string]interface{}) error {
	a := extractChatArgs(args)
	return validation.ValidateStruct(&a,
		validation.Field(&a.Prompt, validation.Required, validation.Length(1, 32000)),
	)
}

func (Chat) BuildMessages(args map[string]interface{}, prior []models.Turn) ([]provider.Message, error) {
	a := extractChatArgs(args)

	messages := make([]provider.Message, 0, len(prior)+1)
	for _, t := range prior {
		messages = append(messages, provider.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, provider.Message{Role: "user", Content: a.Prompt})
	return messages, nil
}
