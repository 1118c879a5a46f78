// Package broker implements the Broker (C10): the table mapping
// correlation IDs to pending approval/question one-shot futures, with
// deadline-based fail-closed timeout and an optional policy-backed
// decider.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/karan-zipline/murmur/internal/foremanerr"
)

// Kind distinguishes the two pending tables.
type Kind string

const (
	KindApproval Kind = "approval"
	KindQuestion Kind = "question"
)

// Decision is the closed outcome of an approval.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// PolicyVerdict is what a policy decider returns.
type PolicyVerdict string

const (
	PolicyAllow  PolicyVerdict = "allow"
	PolicyDeny   PolicyVerdict = "deny"
	PolicyUnsure PolicyVerdict = "unsure"
)

// Decider is the policy-backed approval seam (one of the three dynamic
// dispatch boundaries named in the design notes).
type Decider interface {
	Decide(ctx context.Context, agentID, tool, input string) (PolicyVerdict, error)
}

// ApprovalPayload is the request content for a pending approval.
type ApprovalPayload struct {
	AgentID string
	Tool    string
	Input   string
}

// QuestionPayload is the request content for a pending question; the
// response is a mapping from question-key to free-text answer.
type QuestionPayload struct {
	AgentID string
	Prompts map[string]string // question-key -> prompt text
}

// Answer is the response slot of a pending question.
type Answer map[string]string

// entry is one pending table row. Exactly one of approvalResult/
// questionResult channels is used, matching Kind.
type entry struct {
	kind     Kind
	agentID  string
	approval ApprovalPayload
	question QuestionPayload
	deadline time.Time

	mu       sync.Mutex
	resolved bool
	decisionCh chan Decision
	answerCh   chan Answer
}

// Broker owns the pending-approval and pending-question tables.
type Broker struct {
	mu      sync.Mutex
	entries map[string]*entry

	// Decider, if set, is consulted for every opened approval before it
	// is ever exposed to a human; DefaultDeadline governs both tables
	// when the caller does not supply one.
	Decider         Decider
	DefaultDeadline time.Duration
}

// New returns an empty broker. defaultDeadline of 0 means 10 minutes
// (spec default).
func New(decider Decider, defaultDeadline time.Duration) *Broker {
	if defaultDeadline <= 0 {
		defaultDeadline = 10 * time.Minute
	}
	return &Broker{
		entries:         make(map[string]*entry),
		Decider:         decider,
		DefaultDeadline: defaultDeadline,
	}
}

// OpenApproval inserts a pending approval and returns its correlation ID
// and a future resolved when a decision arrives (by human response,
// policy decider, or deadline expiry -> deny). If a Decider is configured,
// it is consulted synchronously before the entry is ever exposed outside
// this call: allow/deny resolve immediately, and a decider error fails
// closed (deny) immediately. An unsure verdict is not a decision — it
// means the rules-then-human mode escalates to a human, so the entry is
// inserted into the pending table exactly as if no Decider existed, and
// a human response (or deadline expiry -> deny) resolves it, per
// §4.10/§7.7 and the rules-then-human approval mode.
func (b *Broker) OpenApproval(ctx context.Context, p ApprovalPayload, deadline time.Duration) (correlationID string, future <-chan Decision) {
	if deadline <= 0 {
		deadline = b.DefaultDeadline
	}
	id := uuid.NewString()
	e := &entry{
		kind:       KindApproval,
		agentID:    p.AgentID,
		approval:   p,
		deadline:   time.Now().Add(deadline),
		decisionCh: make(chan Decision, 1),
	}

	if b.Decider != nil {
		verdict, err := b.Decider.Decide(ctx, p.AgentID, p.Tool, p.Input)
		if err != nil {
			e.decisionCh <- DecisionDeny
			e.resolved = true
			return id, e.decisionCh
		}
		switch verdict {
		case PolicyAllow:
			e.decisionCh <- DecisionAllow
			e.resolved = true
			return id, e.decisionCh
		case PolicyDeny:
			e.decisionCh <- DecisionDeny
			e.resolved = true
			return id, e.decisionCh
		}
		// PolicyUnsure falls through to human escalation below.
	}

	b.mu.Lock()
	b.entries[id] = e
	b.mu.Unlock()
	b.scheduleTimeout(id, e)
	return id, e.decisionCh
}

// OpenQuestion inserts a pending question and returns its correlation ID
// and a future resolved when an answer arrives or the deadline expires
// (default answer is empty).
func (b *Broker) OpenQuestion(p QuestionPayload, deadline time.Duration) (correlationID string, future <-chan Answer) {
	if deadline <= 0 {
		deadline = b.DefaultDeadline
	}
	id := uuid.NewString()
	e := &entry{
		kind:     KindQuestion,
		agentID:  p.AgentID,
		question: p,
		deadline: time.Now().Add(deadline),
		answerCh: make(chan Answer, 1),
	}
	b.mu.Lock()
	b.entries[id] = e
	b.mu.Unlock()
	b.scheduleTimeout(id, e)
	return id, e.answerCh
}

func (b *Broker) scheduleTimeout(id string, e *entry) {
	d := time.Until(e.deadline)
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, func() {
		b.expire(id)
	})
}

func (b *Broker) expire(id string) {
	b.mu.Lock()
	e, ok := b.entries[id]
	if ok {
		delete(b.entries, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved {
		return
	}
	e.resolved = true
	switch e.kind {
	case KindApproval:
		e.decisionCh <- DecisionDeny
	case KindQuestion:
		e.answerCh <- Answer{}
	}
}

// RespondApproval resolves a pending approval. Returns an error of kind
// PolicyViolation if the correlation ID is unknown, or if it was already
// answered.
func (b *Broker) RespondApproval(correlationID string, decision Decision) error {
	e, err := b.take(correlationID, KindApproval)
	if err != nil {
		return err
	}
	e.decisionCh <- decision
	return nil
}

// RespondQuestion resolves a pending question.
func (b *Broker) RespondQuestion(correlationID string, answer Answer) error {
	e, err := b.take(correlationID, KindQuestion)
	if err != nil {
		return err
	}
	e.answerCh <- answer
	return nil
}

func (b *Broker) take(id string, kind Kind) (*entry, error) {
	b.mu.Lock()
	e, ok := b.entries[id]
	if ok && e.kind != kind {
		b.mu.Unlock()
		return nil, foremanerr.New(foremanerr.PolicyViolation, "kind mismatch for: "+id)
	}
	if ok {
		delete(b.entries, id)
	}
	b.mu.Unlock()
	if !ok {
		return nil, foremanerr.New(foremanerr.PolicyViolation, "unknown correlation id: "+id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved {
		return nil, foremanerr.New(foremanerr.PolicyViolation, "already answered: "+id)
	}
	e.resolved = true
	return e, nil
}

// Cancel resolves a pending entry with its fail-safe default (deny for
// approvals, empty answer for questions), e.g. on supervisor shutdown.
func (b *Broker) Cancel(correlationID, reason string) {
	b.mu.Lock()
	e, ok := b.entries[correlationID]
	if ok {
		delete(b.entries, correlationID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved {
		return
	}
	e.resolved = true
	switch e.kind {
	case KindApproval:
		e.decisionCh <- DecisionDeny
	case KindQuestion:
		e.answerCh <- Answer{}
	}
}

// ListEntry describes one pending row for `permission.list`/`question.list`.
type ListEntry struct {
	CorrelationID string
	AgentID       string
	Approval      *ApprovalPayload
	Question      *QuestionPayload
	Deadline      time.Time
}

// List returns all unresolved entries of kind.
func (b *Broker) List(kind Kind) []ListEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []ListEntry
	for id, e := range b.entries {
		if e.kind != kind {
			continue
		}
		le := ListEntry{CorrelationID: id, AgentID: e.agentID, Deadline: e.deadline}
		if kind == KindApproval {
			a := e.approval
			le.Approval = &a
		} else {
			q := e.question
			le.Question = &q
		}
		out = append(out, le)
	}
	return out
}

// CancelAll resolves every pending entry with its fail-safe default; used
// on supervisor shutdown.
func (b *Broker) CancelAll(reason string) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.Cancel(id, reason)
	}
}
