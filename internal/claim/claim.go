// Package claim implements the Claim Registry: an in-memory, linearizable
// exclusive-claim set keyed by (project, issue).
package claim

import (
	"sync"

	"github.com/karan-zipline/murmur/internal/foremanerr"
)

// Key identifies a claimable unit of work.
type Key struct {
	Project string
	Issue   string
}

// Entry is a claim as returned by List.
type Entry struct {
	Key     Key
	AgentID string
}

// Registry arbitrates which (project, issue) pairs are currently owned.
// One exclusive lock guards the map; it is held only across the in-memory
// operation, never across I/O.
type Registry struct {
	mu     sync.Mutex
	claims map[Key]string // key -> agent id
	byAgent map[string]map[Key]struct{}
}

// New returns an empty claim registry.
func New() *Registry {
	return &Registry{
		claims:  make(map[Key]string),
		byAgent: make(map[string]map[Key]struct{}),
	}
}

// TryClaim atomically inserts a claim. If the pair is already claimed, it
// returns an *AlreadyClaimedError whose By field carries the current
// owner's agent ID; its message is that of a PolicyViolation error.
func (r *Registry) TryClaim(project, issue, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := Key{Project: project, Issue: issue}
	if owner, ok := r.claims[k]; ok {
		return &AlreadyClaimedError{By: owner}
	}
	r.claims[k] = agentID
	if r.byAgent[agentID] == nil {
		r.byAgent[agentID] = make(map[Key]struct{})
	}
	r.byAgent[agentID][k] = struct{}{}
	return nil
}

// AlreadyClaimedError is returned by TryClaim when the pair is owned.
type AlreadyClaimedError struct {
	By string
}

func (e *AlreadyClaimedError) Error() string {
	return foremanerr.New(foremanerr.PolicyViolation, "issue already claimed by "+e.By).Error()
}

// Release idempotently removes a claim for (project, issue).
func (r *Registry) Release(project, issue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := Key{Project: project, Issue: issue}
	agentID, ok := r.claims[k]
	if !ok {
		return
	}
	delete(r.claims, k)
	if set, ok := r.byAgent[agentID]; ok {
		delete(set, k)
		if len(set) == 0 {
			delete(r.byAgent, agentID)
		}
	}
}

// ReleaseForAgent removes every claim owned by agentID. Idempotent (R2).
func (r *Registry) ReleaseForAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.byAgent[agentID] {
		delete(r.claims, k)
	}
	delete(r.byAgent, agentID)
}

// List returns all current claims, optionally filtered to one project.
func (r *Registry) List(project string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.claims))
	for k, agentID := range r.claims {
		if project != "" && k.Project != project {
			continue
		}
		out = append(out, Entry{Key: k, AgentID: agentID})
	}
	return out
}

// Owner returns the agent ID claiming (project, issue), if any.
func (r *Registry) Owner(project, issue string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agentID, ok := r.claims[Key{Project: project, Issue: issue}]
	return agentID, ok
}

// IsClaimed reports whether (project, issue) currently has an owner.
func (r *Registry) IsClaimed(project, issue string) bool {
	_, ok := r.Owner(project, issue)
	return ok
}
