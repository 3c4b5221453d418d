package tools

import (
	"testing"

	"dispatchd/internal/domain/models"
)

func TestChatValidate(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{name: "non-empty prompt passes", args: map[string]interface{}{"prompt": "hello"}, wantErr: false},
		{name: "empty prompt fails", args: map[string]interface{}{"prompt": ""}, wantErr: true},
		{name: "missing prompt fails", args: map[string]interface{}{}, wantErr: true},
		{name: "whitespace-only prompt fails", args: map[string]interface{}{"prompt": "   "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Chat{}.Validate(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChatBuildMessagesIncludesPriorTurns(t *testing.T) {
	prior := []models.Turn{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}

	msgs, err := Chat{}.BuildMessages(map[string]interface{}{"prompt": "follow up"}, prior)
	if err != nil {
		t.Fatalf("BuildMessages() unexpected error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("BuildMessages() returned %d messages, want 3", len(msgs))
	}
	if msgs[2].Content != "follow up" {
		t.Errorf("last message content = %q, want %q", msgs[2].Content, "follow up")
	}
}
