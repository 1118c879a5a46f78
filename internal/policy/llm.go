package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/karan-zipline/murmur/internal/broker"
)

// LLMDecider asks an OpenAI-compatible chat-completions endpoint to
// classify a tool invocation as allow/deny/unsure, via a single
// forced-choice tool call — grounded on the teacher's manager LLM client
// (internal/manager/llm.go), generalized from task-management tools to a
// single decide_approval tool.
type LLMDecider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

// NewLLMDecider returns a decider that calls baseURL/v1/chat/completions.
// Returns nil if apiKey or baseURL is empty (LLM escalation not configured).
func NewLLMDecider(baseURL, apiKey, model string) *LLMDecider {
	if baseURL == "" || apiKey == "" {
		return nil
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &LLMDecider{BaseURL: baseURL, APIKey: apiKey, Model: model, Client: http.DefaultClient}
}

var decideApprovalTool = map[string]any{
	"type": "function",
	"function": map[string]any{
		"name":        "decide_approval",
		"description": "Render a verdict on whether to allow a coding agent's tool invocation",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"verdict": map[string]any{
					"type":        "string",
					"enum":        []string{"allow", "deny", "unsure"},
					"description": "unsure if the tool call's risk cannot be confidently assessed from the input alone",
				},
				"reason": map[string]any{"type": "string"},
			},
			"required": []string{"verdict"},
		},
	},
}

// Decide implements broker.Decider.
func (d *LLMDecider) Decide(ctx context.Context, agentID, tool, input string) (broker.PolicyVerdict, error) {
	body, err := json.Marshal(map[string]any{
		"model": d.Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You approve or deny tool invocations made by an autonomous coding agent. Deny anything destructive or irreversible outside the agent's worktree. Use unsure when you cannot tell."},
			{"role": "user", "content": fmt.Sprintf("agent=%s tool=%s input=%s", agentID, tool, input)},
		},
		"tools":       []map[string]any{decideApprovalTool},
		"tool_choice": map[string]any{"type": "function", "function": map[string]string{"name": "decide_approval"}},
	})
	if err != nil {
		return broker.PolicyUnsure, err
	}

	url := strings.TrimSuffix(d.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return broker.PolicyUnsure, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.APIKey)

	resp, err := d.Client.Do(req)
	if err != nil {
		return broker.PolicyUnsure, err
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp struct {
		Choices []struct {
			Message struct {
				ToolCalls []struct {
					Function struct {
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return broker.PolicyUnsure, err
	}
	if len(apiResp.Choices) == 0 || len(apiResp.Choices[0].Message.ToolCalls) == 0 {
		return broker.PolicyUnsure, fmt.Errorf("llm decider: no tool call in response")
	}

	var args struct {
		Verdict string `json:"verdict"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(apiResp.Choices[0].Message.ToolCalls[0].Function.Arguments), &args); err != nil {
		return broker.PolicyUnsure, err
	}

	switch args.Verdict {
	case "allow":
		return broker.PolicyAllow, nil
	case "deny":
		return broker.PolicyDeny, nil
	default:
		return broker.PolicyUnsure, nil
	}
}
