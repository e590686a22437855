// Package hook implements the agent hook protocol: a JSON payload on stdin,
// routed to the continuation engine, and a reply on stdout. Hooks must
// never break the agent, so malformed input is treated as empty and every
// failure is logged rather than returned.
package hook

import (
	"encoding/json"
	"io"

	"github.com/tidwall/gjson"
)

// Input is the subset of a hook payload the dashboard uses.
type Input struct {
	WorkspaceRoot  string
	ConversationID string
	UserPrompt     string
	AgentResponse  string
	FilesChanged   []string
	ToolName       string
	ToolInput      json.RawMessage
}

// ParseInput extracts an Input from a raw payload. Anything that is not a
// JSON object yields the zero Input; missing or mistyped fields are left
// empty.
func ParseInput(data []byte) Input {
	if !gjson.ValidBytes(data) {
		return Input{}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Input{}
	}

	in := Input{
		WorkspaceRoot:  str(root.Get("workspace_roots.0")),
		ConversationID: str(root.Get("conversation_id")),
		UserPrompt:     str(root.Get("conversation.userPrompt")),
		AgentResponse:  str(root.Get("conversation.agentTextResponse")),
		ToolName:       str(root.Get("toolUse.name")),
	}

	root.Get("conversation.agentCodeResponse").ForEach(func(_, change gjson.Result) bool {
		if p := str(change.Get("path")); p != "" {
			in.FilesChanged = append(in.FilesChanged, p)
		}
		return true
	})

	if raw := root.Get("toolUse.input"); raw.Exists() {
		in.ToolInput = json.RawMessage(raw.Raw)
	}
	return in
}

// ReadInput reads and parses a payload. Read errors yield the zero Input.
func ReadInput(r io.Reader) Input {
	data, err := io.ReadAll(r)
	if err != nil {
		return Input{}
	}
	return ParseInput(data)
}

func str(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.String()
}
