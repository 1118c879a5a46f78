package streamnorm

import "encoding/json"

// InteractiveDialect decodes the long-lived interactive backend's NDJSON
// shape: {"type": "assistant"|"tool_use"|"tool_result"|"idle", ...}. This
// is the dialect of an agent CLI kept running across turns (e.g. a
// Claude-Code-style interactive session).
type InteractiveDialect struct{}

func (InteractiveDialect) Name() string { return "interactive" }

func (InteractiveDialect) Sniff(first map[string]any) bool {
	t, _ := first["type"].(string)
	switch t {
	case "assistant", "tool_use", "tool_result", "idle", "error":
		return true
	}
	return false
}

func (InteractiveDialect) Decode(line []byte) []Event {
	var msg struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		Tool    string `json:"tool"`
		Input   any    `json:"input"`
		Summary string `json:"summary"`
		OK      bool   `json:"ok"`
		Reason  string `json:"reason"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(line, &msg); err != nil {
		return []Event{{Kind: KindError, Detail: err.Error()}}
	}
	switch msg.Type {
	case "assistant":
		return []Event{{Kind: KindAssistantText, Content: msg.Content}}
	case "tool_use":
		return []Event{{Kind: KindToolInvocation, Tool: msg.Tool, InputSummary: summarize(msg.Input)}}
	case "tool_result":
		return []Event{{Kind: KindToolResult, Tool: msg.Tool, Summary: msg.Summary, OK: msg.OK}}
	case "idle":
		return []Event{{Kind: KindIdle, Reason: msg.Reason}}
	case "error":
		return []Event{{Kind: KindError, Detail: msg.Detail}}
	default:
		return []Event{{Kind: KindError, Detail: "unrecognised interactive type: " + msg.Type}}
	}
}

// PerTurnDialect decodes the per-turn backend's NDJSON shape, where the
// first line of a turn carries a session/thread token (e.g. a Codex-style
// backend that spawns a fresh process per turn, resumed via a token).
type PerTurnDialect struct{}

func (PerTurnDialect) Name() string { return "per-turn" }

func (PerTurnDialect) Sniff(first map[string]any) bool {
	t, _ := first["msg_type"].(string)
	switch t {
	case "session_start", "message", "tool_call", "tool_output", "turn_complete", "turn_error":
		return true
	}
	return false
}

func (PerTurnDialect) Decode(line []byte) []Event {
	var msg struct {
		MsgType   string `json:"msg_type"`
		Text      string `json:"text"`
		SessionID string `json:"session_id"`
		Tool      string `json:"tool"`
		Args      any    `json:"args"`
		Output    string `json:"output"`
		Success   bool   `json:"success"`
		Reason    string `json:"reason"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(line, &msg); err != nil {
		return []Event{{Kind: KindError, Detail: err.Error()}}
	}
	switch msg.MsgType {
	case "session_start":
		return []Event{{Kind: KindThread, Token: msg.SessionID}}
	case "message":
		return []Event{{Kind: KindAssistantText, Content: msg.Text}}
	case "tool_call":
		return []Event{{Kind: KindToolInvocation, Tool: msg.Tool, InputSummary: summarize(msg.Args)}}
	case "tool_output":
		return []Event{{Kind: KindToolResult, Tool: msg.Tool, Summary: msg.Output, OK: msg.Success}}
	case "turn_complete":
		return []Event{{Kind: KindIdle, Reason: msg.Reason}}
	case "turn_error":
		return []Event{{Kind: KindError, Detail: msg.Error}}
	default:
		return []Event{{Kind: KindError, Detail: "unrecognised per-turn msg_type: " + msg.MsgType}}
	}
}

func summarize(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	const max = 256
	s := string(b)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
