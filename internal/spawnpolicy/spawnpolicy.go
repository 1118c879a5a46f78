// Package spawnpolicy implements the pure spawn-decision function (C2):
// given the current active agent count, the per-project cap, the ordered
// ready-issue list, and the current claim set, decide which issues to
// spawn agents for this orchestrator tick.
package spawnpolicy

// Tick returns the prefix of readyOrdered of length
// min(cap-active, count_unclaimed(readyOrdered)), skipping issues already
// present in claimed and de-duplicating readyOrdered in first-seen order.
// No side effects, no randomness (R1: idempotent under re-evaluation with
// unchanged inputs).
func Tick(active, cap int, readyOrdered []string, claimed map[string]struct{}) []string {
	if cap <= active {
		return nil
	}
	budget := cap - active

	seen := make(map[string]struct{}, len(readyOrdered))
	out := make([]string, 0, budget)
	for _, issue := range readyOrdered {
		if len(out) >= budget {
			break
		}
		if _, dup := seen[issue]; dup {
			continue
		}
		seen[issue] = struct{}{}
		if _, busy := claimed[issue]; busy {
			continue
		}
		out = append(out, issue)
	}
	return out
}
