package hook

import (
	"slices"
	"strings"
	"testing"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Input
	}{
		{
			name: "stop payload",
			input: `{
				"workspace_roots": ["/src/app", "/src/other"],
				"conversation_id": "c-1",
				"conversation": {
					"userPrompt": "fix it",
					"agentTextResponse": "fixed",
					"agentCodeResponse": [{"path": "a.go"}, {"nope": 1}, {"path": "b.go"}]
				}
			}`,
			want: Input{
				WorkspaceRoot:  "/src/app",
				ConversationID: "c-1",
				UserPrompt:     "fix it",
				AgentResponse:  "fixed",
				FilesChanged:   []string{"a.go", "b.go"},
			},
		},
		{
			name:  "tool payload",
			input: `{"conversation_id": "c-2", "toolUse": {"name": "view", "input": {"path": "x"}}}`,
			want:  Input{ConversationID: "c-2", ToolName: "view"},
		},
		{
			name:  "mistyped fields",
			input: `{"workspace_roots": "/src", "conversation_id": 7, "conversation": {"agentCodeResponse": "a.go"}}`,
			want:  Input{},
		},
		{name: "empty roots", input: `{"workspace_roots": []}`, want: Input{}},
		{name: "not json", input: `not json`, want: Input{}},
		{name: "array", input: `[1, 2]`, want: Input{}},
		{name: "empty", input: ``, want: Input{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseInput([]byte(tt.input))
			if got.WorkspaceRoot != tt.want.WorkspaceRoot ||
				got.ConversationID != tt.want.ConversationID ||
				got.UserPrompt != tt.want.UserPrompt ||
				got.AgentResponse != tt.want.AgentResponse ||
				got.ToolName != tt.want.ToolName ||
				!slices.Equal(got.FilesChanged, tt.want.FilesChanged) {
				t.Errorf("ParseInput() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseInput_ToolInputIsRaw(t *testing.T) {
	got := ParseInput([]byte(`{"toolUse": {"name": "edit", "input": {"path": "x", "n": [1,2]}}}`))
	if string(got.ToolInput) != `{"path": "x", "n": [1,2]}` {
		t.Errorf("ToolInput = %s", got.ToolInput)
	}

	if got := ParseInput([]byte(`{"toolUse": {"name": "edit"}}`)); got.ToolInput != nil {
		t.Errorf("ToolInput without input = %s", got.ToolInput)
	}
}

func TestReadInput(t *testing.T) {
	got := ReadInput(strings.NewReader(`{"conversation_id": "c-3"}`))
	if got.ConversationID != "c-3" {
		t.Errorf("ReadInput() = %+v", got)
	}
}
