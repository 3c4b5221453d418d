package tools

import "testing"

func TestWebResearchValidate(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{name: "valid query with defaults passes", args: map[string]interface{}{"query": "golang circuit breakers"}, wantErr: false},
		{name: "empty query fails", args: map[string]interface{}{"query": ""}, wantErr: true},
		{name: "explicit valid topic passes", args: map[string]interface{}{"query": "q", "topic": "finance"}, wantErr: false},
		{name: "unknown topic fails", args: map[string]interface{}{"query": "q", "topic": "sports"}, wantErr: true},
		{name: "max_results above ten fails", args: map[string]interface{}{"query": "q", "max_results": float64(20)}, wantErr: true},
		{name: "max_results below one fails", args: map[string]interface{}{"query": "q", "max_results": float64(0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WebResearch{}.Validate(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWebResearchBuildMessagesIncludesQueryAndTopic(t *testing.T) {
	msgs, err := WebResearch{}.BuildMessages(map[string]interface{}{
		"query":       "latest Go release notes",
		"topic":       "news",
		"max_results": float64(3),
	}, nil)
	if err != nil {
		t.Fatalf("BuildMessages() unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("BuildMessages() returned %d messages, want 1", len(msgs))
	}
	want := "Research (news, top 3): latest Go release notes"
	if msgs[0].Content != want {
		t.Errorf("message content = %q, want %q", msgs[0].Content, want)
	}
}

func TestWebResearchCapabilitiesRequireWebSearch(t *testing.T) {
	caps := WebResearch{}.Capabilities()
	if len(caps) != 1 || caps[0] != "web_search" {
		t.Errorf("Capabilities() = %v, want [web_search]", caps)
	}
}
