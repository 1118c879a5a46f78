// Package permission implements the Permission Evaluator (C5): a pure,
// deterministic, first-match-wins rule engine over (tool name, tool input).
package permission

import "strings"

// Action is the effect of a matched rule.
type Action string

const (
	Allow Action = "allow"
	Deny  Action = "deny"
)

// Verdict is the closed result of evaluation.
type Verdict string

const (
	VerdictAllow     Verdict = "allow"
	VerdictDeny      Verdict = "deny"
	VerdictUndecided Verdict = "undecided"
)

// Rule is one ordered permission rule.
type Rule struct {
	ToolPattern  string // exact tool name, or "*"
	Action       Action
	InputPattern string // prefix match against canonicalised input text; "" matches any input
}

// Evaluate applies rules in order to (tool, input) and returns the first
// match's action, or Undecided if none matched. input is the already
// canonicalised text form (for a shell-style tool, the command line; for
// other tools, the concatenated significant fields).
func Evaluate(tool, input string, rules []Rule) Verdict {
	for _, r := range rules {
		if !toolMatches(r.ToolPattern, tool) {
			continue
		}
		if !inputMatches(r.InputPattern, input) {
			continue
		}
		switch r.Action {
		case Allow:
			return VerdictAllow
		case Deny:
			return VerdictDeny
		}
	}
	return VerdictUndecided
}

func toolMatches(pattern, tool string) bool {
	return pattern == "*" || pattern == tool
}

func inputMatches(pattern, input string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	prefix := strings.TrimSuffix(pattern, "*")
	return strings.HasPrefix(input, prefix)
}

// CanonicalizeShell renders a shell-style tool's argv as the command-line
// text form rules match against.
func CanonicalizeShell(argv []string) string {
	return strings.Join(argv, " ")
}

// CanonicalizeFields renders the concatenated significant fields of a
// non-shell tool's input as the text form rules match against.
func CanonicalizeFields(fields ...string) string {
	return strings.Join(fields, " ")
}
