// Package mergepipe implements the Merge Pipeline (C7): the ordered
// git-operation sequence triggered by agent completion, serialised per
// project (I5/P6).
package mergepipe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karan-zipline/murmur/internal/foremanerr"
	"github.com/karan-zipline/murmur/internal/gitadapter"
	"github.com/karan-zipline/murmur/internal/issuebackend"
	"github.com/karan-zipline/murmur/internal/otel"
)

// Strategy selects the merge behaviour (project attribute, per spec §3).
type Strategy string

const (
	StrategyDirect            Strategy = "direct"
	StrategyPreparePullRequest Strategy = "prepare-pull-request"
)

// Outcome is the closed result of a pipeline run.
type Outcome string

const (
	OutcomeMerged          Outcome = "merged"
	OutcomeNeedsResolution Outcome = "needs_resolution"
	OutcomePullRequested   Outcome = "pull_requested"
)

// Request describes one completion to process.
type Request struct {
	Project      string
	Issue        string
	AgentID      string
	RepoDir      string // main checkout
	WorktreeDir  string // agent's worktree
	BranchName   string
	Remote       string // default "origin"
	Strategy     Strategy
	PRTitle      string
	PRBody       string
}

// CommitLogEntry is one record in the bounded status-output ring (step 11).
type CommitLogEntry struct {
	Project   string
	AgentID   string
	Issue     string
	SHA       string
	Timestamp time.Time
}

// AgentTerminator is the subset of agentrt.Runtime the pipeline needs to
// drive terminal-state transitions without importing agentrt (kept
// narrow, per the design notes' "handle not pointer" guidance).
type AgentTerminator interface {
	MarkNeedsResolution()
	MarkExited()
}

// ClaimReleaser is the subset of the claim registry the pipeline needs.
type ClaimReleaser interface {
	Release(project, issue string)
}

// EventKind is the closed set of events the pipeline emits.
type EventKind string

const (
	EventNeedsResolution EventKind = "agent.state.needs_resolution"
	EventMerged          EventKind = "merge.completed"
	EventPullRequested   EventKind = "merge.pull_requested"
)

// Event is emitted as the pipeline progresses.
type Event struct {
	Kind    EventKind
	Project string
	Issue   string
	AgentID string
	Detail  string
}

// Pipeline runs completions against one GitAdapter and IssueBackend,
// holding one mutex per project so pipelines on the same project never
// overlap (I5/P6).
type Pipeline struct {
	Git       gitadapter.Adapter
	Issues    issuebackend.Backend
	Emit      func(Event)
	CommitLog *Ring
	// OnCommit, if set, is called after CommitLog.Append with the same
	// entry so a caller can durably persist it (e.g. store.Store).
	OnCommit func(CommitLogEntry)

	mu            sync.Mutex
	projectLock   map[string]*sync.Mutex
	defaultBranch map[string]string
}

// New returns a Pipeline ready to accept Run calls.
func New(git gitadapter.Adapter, issues issuebackend.Backend, ring *Ring, emit func(Event)) *Pipeline {
	return &Pipeline{
		Git:           git,
		Issues:        issues,
		Emit:          emit,
		CommitLog:     ring,
		projectLock:   make(map[string]*sync.Mutex),
		defaultBranch: make(map[string]string),
	}
}

func (p *Pipeline) lockFor(project string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.projectLock[project]
	if !ok {
		l = &sync.Mutex{}
		p.projectLock[project] = l
	}
	return l
}

func (p *Pipeline) emit(ev Event) {
	if p.Emit != nil {
		p.Emit(ev)
	}
}

// Run executes the pipeline for one completion. claims and agent let the
// caller wire in the claim registry and agent runtime without this
// package importing either.
func (p *Pipeline) Run(ctx context.Context, req Request, claims ClaimReleaser, agent AgentTerminator) (Outcome, error) {
	if req.Remote == "" {
		req.Remote = "origin"
	}
	if req.Strategy == "" {
		req.Strategy = StrategyDirect
	}

	lock := p.lockFor(req.Project)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	defer func() { otel.RecordMergeStage(ctx, req.Project, "run", time.Since(started)) }()

	if err := p.Git.Fetch(ctx, req.RepoDir, req.Remote, true); err != nil {
		return "", foremanerr.Wrap(foremanerr.TransientExternal, "fetch", err)
	}

	branch, err := p.defaultBranchFor(ctx, req.Project, req.RepoDir)
	if err != nil {
		return "", err
	}

	if err := p.Git.CheckoutAndResetHard(ctx, req.RepoDir, branch, req.Remote+"/"+branch); err != nil {
		return "", foremanerr.Wrap(foremanerr.Resource, "reset default branch", err)
	}

	rebaseErr := p.Git.RebaseOnto(ctx, req.WorktreeDir, req.Remote+"/"+branch)
	var conflict *gitadapter.ConflictError
	if rebaseErr != nil {
		if asConflict(rebaseErr, &conflict) {
			agent.MarkNeedsResolution()
			p.emit(Event{Kind: EventNeedsResolution, Project: req.Project, Issue: req.Issue, AgentID: req.AgentID, Detail: conflict.Error()})
			return OutcomeNeedsResolution, nil
		}
		return "", foremanerr.Wrap(foremanerr.Resource, "rebase", rebaseErr)
	}

	if req.Strategy == StrategyPreparePullRequest {
		if err := p.Git.ForcePushBranch(ctx, req.WorktreeDir, req.BranchName, req.Remote); err != nil {
			return "", foremanerr.Wrap(foremanerr.TransientExternal, "force push branch", err)
		}
		url, err := p.Issues.CreatePullRequest(ctx, req.Project, req.BranchName, req.PRTitle, req.PRBody)
		if err != nil {
			slog.Warn("create pull request failed", "project", req.Project, "issue", req.Issue, "err", err)
		} else {
			p.emit(Event{Kind: EventPullRequested, Project: req.Project, Issue: req.Issue, AgentID: req.AgentID, Detail: url})
		}
		return OutcomePullRequested, nil
	}

	if err := p.Git.FastForwardMerge(ctx, req.RepoDir, req.BranchName); err != nil {
		return "", foremanerr.Wrap(foremanerr.Resource, "fast-forward merge", err)
	}
	if err := p.Git.Push(ctx, req.RepoDir, branch, req.Remote); err != nil {
		return "", foremanerr.Wrap(foremanerr.TransientExternal, "push default branch", err)
	}

	if err := p.Issues.Close(ctx, req.Project, req.Issue); err != nil {
		slog.Warn("close issue failed after merge", "project", req.Project, "issue", req.Issue, "err", err)
	}

	claims.Release(req.Project, req.Issue)
	agent.MarkExited()
	if err := p.Git.RemoveWorktree(ctx, req.RepoDir, req.WorktreeDir); err != nil {
		slog.Warn("remove worktree failed", "project", req.Project, "worktree", req.WorktreeDir, "err", err)
	}

	if sha, err := p.Git.HeadSHA(ctx, req.RepoDir); err == nil {
		entry := CommitLogEntry{Project: req.Project, AgentID: req.AgentID, Issue: req.Issue, SHA: sha, Timestamp: time.Now().UTC()}
		if p.CommitLog != nil {
			p.CommitLog.Append(entry)
		}
		if p.OnCommit != nil {
			p.OnCommit(entry)
		}
	}

	p.emit(Event{Kind: EventMerged, Project: req.Project, Issue: req.Issue, AgentID: req.AgentID})
	return OutcomeMerged, nil
}

func (p *Pipeline) defaultBranchFor(ctx context.Context, project, repoDir string) (string, error) {
	p.mu.Lock()
	if b, ok := p.defaultBranch[project]; ok {
		p.mu.Unlock()
		return b, nil
	}
	p.mu.Unlock()

	b, err := p.Git.DefaultBranch(ctx, repoDir)
	if err != nil {
		return "", foremanerr.Wrap(foremanerr.Resource, "determine default branch", err)
	}
	p.mu.Lock()
	p.defaultBranch[project] = b
	p.mu.Unlock()
	return b, nil
}

func asConflict(err error, target **gitadapter.ConflictError) bool {
	c, ok := err.(*gitadapter.ConflictError)
	if ok {
		*target = c
	}
	return ok
}
