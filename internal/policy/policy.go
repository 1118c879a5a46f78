// Package policy supplies two github.com/karan-zipline/murmur/internal/broker.Decider
// implementations: a rule-based one that reuses the Permission Evaluator,
// and an LLM-backed one for projects that opt into autonomous approval,
// grounded on the teacher's OpenAI-compatible tool-calling client.
package policy

import (
	"context"
	"sync"

	"github.com/karan-zipline/murmur/internal/broker"
	"github.com/karan-zipline/murmur/internal/permission"
)

// RuleDecider answers broker.OpenApproval calls using a per-project
// ordered rule list, evaluated with permission.Evaluate. An undecided
// verdict (no rule matched) is reported as PolicyUnsure so the broker
// fails closed to a human (or a chained LLMDecider) rather than silently
// allowing unrecognised tools.
type RuleDecider struct {
	mu    sync.RWMutex
	rules map[string][]permission.Rule // project -> rules

	// ProjectForAgent resolves which project's rules apply to an approval;
	// set by the caller since Decide only receives an agent ID.
	ProjectForAgent func(agentID string) string
}

// NewRuleDecider returns a decider with no configured rules.
func NewRuleDecider(projectForAgent func(agentID string) string) *RuleDecider {
	return &RuleDecider{rules: make(map[string][]permission.Rule), ProjectForAgent: projectForAgent}
}

// SetRules replaces the ordered rule list for project.
func (d *RuleDecider) SetRules(project string, rules []permission.Rule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules[project] = rules
}

// Decide implements broker.Decider.
func (d *RuleDecider) Decide(ctx context.Context, agentID, tool, input string) (broker.PolicyVerdict, error) {
	project := ""
	if d.ProjectForAgent != nil {
		project = d.ProjectForAgent(agentID)
	}
	d.mu.RLock()
	rules := d.rules[project]
	d.mu.RUnlock()

	switch permission.Evaluate(tool, input, rules) {
	case permission.VerdictAllow:
		return broker.PolicyAllow, nil
	case permission.VerdictDeny:
		return broker.PolicyDeny, nil
	default:
		return broker.PolicyUnsure, nil
	}
}

// Chain tries each Decider in order and returns the first verdict that is
// not PolicyUnsure (and no error); if every decider is unsure or errors,
// it returns PolicyUnsure so the broker still fails closed.
type Chain struct {
	Deciders []broker.Decider
}

// Decide implements broker.Decider.
func (c Chain) Decide(ctx context.Context, agentID, tool, input string) (broker.PolicyVerdict, error) {
	for _, d := range c.Deciders {
		verdict, err := d.Decide(ctx, agentID, tool, input)
		if err != nil {
			continue
		}
		if verdict != broker.PolicyUnsure {
			return verdict, nil
		}
	}
	return broker.PolicyUnsure, nil
}
