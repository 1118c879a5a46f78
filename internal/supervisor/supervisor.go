// Package supervisor implements the Supervisor (C9): the single
// process-wide owner of the project map, agent map, claim registry,
// broker, and orchestrator, and the thing the control-plane transport
// calls into.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/karan-zipline/murmur/internal/agentrt"
	"github.com/karan-zipline/murmur/internal/broker"
	"github.com/karan-zipline/murmur/internal/capabilities"
	"github.com/karan-zipline/murmur/internal/chatbuffer"
	"github.com/karan-zipline/murmur/internal/claim"
	"github.com/karan-zipline/murmur/internal/gitadapter"
	"github.com/karan-zipline/murmur/internal/issuebackend"
	"github.com/karan-zipline/murmur/internal/mergepipe"
	"github.com/karan-zipline/murmur/internal/orchestrator"
	"github.com/karan-zipline/murmur/internal/otel"
	"github.com/karan-zipline/murmur/internal/permission"
	"github.com/karan-zipline/murmur/internal/policy"
	"github.com/karan-zipline/murmur/internal/sandbox"
	"github.com/karan-zipline/murmur/internal/store"
)

// ProjectConfig is the supervisor's persisted, per-project configuration.
type ProjectConfig struct {
	Name          string
	RepoDir       string
	WorktreesDir  string
	Command       string
	Args          []string
	Backend       agentrt.Backend
	Role          agentrt.Role
	Cap           int
	PollInterval  time.Duration
	Remote        string
	Strategy      mergepipe.Strategy
	Rules         []permission.Rule
	// UsesLLMDecider opts this project into consulting Supervisor.LLMDecider
	// when its rules leave a tool call undecided, before escalating to a
	// human. False means rules-then-human only.
	UsesLLMDecider bool
}

func (c ProjectConfig) withDefaults() ProjectConfig {
	if c.Backend == "" {
		c.Backend = agentrt.BackendPerTurn
	}
	if c.Role == "" {
		c.Role = agentrt.RoleCoding
	}
	if c.Remote == "" {
		c.Remote = "origin"
	}
	if c.Strategy == "" {
		c.Strategy = mergepipe.StrategyDirect
	}
	if c.Cap <= 0 {
		c.Cap = 1
	}
	return c
}

type agentEntry struct {
	runtime *agentrt.Runtime
	project string
	issue   string

	worktreesRoot string
	worktreePath  string

	mu      sync.Mutex
	handled bool
}

// Supervisor wires every core component together. Project-map and
// agent-map locks are held only across in-memory bookkeeping, never
// across git or subprocess I/O.
type Supervisor struct {
	Git    gitadapter.Adapter
	Claims *claim.Registry
	Broker *broker.Broker
	Hub    *Hub
	Orch   *orchestrator.Orchestrator
	Rules  *policy.RuleDecider
	// LLMDecider, if set, is offered a tool call only for projects whose
	// ProjectConfig.UsesLLMDecider is true, after Rules leaves it
	// undecided and before escalating to a human.
	LLMDecider broker.Decider
	// Store, if set, receives agent snapshots for advisory rehydration
	// across daemon restarts. Nil disables persistence.
	Store store.Store

	// Home, if set, sandboxes every spawned agent under bubblewrap via
	// sandbox.WrapCommand (Linux only; no-op elsewhere).
	Home string

	// Notifiers delivers operator-facing pushes (e.g. Slack) for events a
	// human should see promptly, like an agent hitting needs-resolution.
	// Empty registry is a no-op.
	Notifiers *capabilities.Registry

	issuesMu sync.Mutex
	issues   map[string]issuebackend.Backend // project -> backend

	projMu   sync.Mutex
	projects map[string]ProjectConfig

	agentsMu sync.Mutex
	agents   map[string]*agentEntry

	pipelines map[string]*mergepipe.Pipeline // one ring/pipeline per issue backend instance
	pipeMu    sync.Mutex

	roleMu    sync.Mutex
	roleAgents map[roleAgentKey]*agentrt.Runtime
}

// roleAgentKey identifies one non-coding wrapper agent. The director is
// the single instance with an empty Project; a manager or planner is
// scoped to one project.
type roleAgentKey struct {
	Role    agentrt.Role
	Project string
}

// New wires a Supervisor around a concrete GitAdapter. Issue backends are
// registered per project with SetIssueBackend.
func New(git gitadapter.Adapter) *Supervisor {
	claims := claim.New()
	hub := NewHub()
	s := &Supervisor{
		Git:       git,
		Claims:    claims,
		Hub:       hub,
		issues:    make(map[string]issuebackend.Backend),
		projects:  make(map[string]ProjectConfig),
		agents:    make(map[string]*agentEntry),
		pipelines: make(map[string]*mergepipe.Pipeline),
		Notifiers: capabilities.NewRegistry(),
		roleAgents: make(map[roleAgentKey]*agentrt.Runtime),
	}
	s.Rules = policy.NewRuleDecider(s.projectForAgent)
	s.Broker = broker.New(s, 0)
	s.Orch = orchestrator.New(issuesAdapter{s}, claims, s.spawn, s.activeCount)
	return s
}

func (s *Supervisor) projectForAgent(agentID string) string {
	s.agentsMu.Lock()
	defer s.agentsMu.Unlock()
	if e, ok := s.agents[agentID]; ok {
		return e.project
	}
	return ""
}

// Decide implements broker.Decider as the project-aware top-level policy:
// project rules are consulted first; only if they leave the call
// undecided, and only for a project configured with UsesLLMDecider, is
// LLMDecider given a vote. Any remaining Unsure is left for the broker to
// escalate to a human, implementing the rules-then-human (and optionally
// rules-then-LLM-then-human) approval mode per project.
func (s *Supervisor) Decide(ctx context.Context, agentID, tool, input string) (broker.PolicyVerdict, error) {
	verdict, err := s.Rules.Decide(ctx, agentID, tool, input)
	if err != nil || verdict != broker.PolicyUnsure {
		return verdict, err
	}
	cfg, ok := s.project(s.projectForAgent(agentID))
	if !ok || !cfg.UsesLLMDecider || s.LLMDecider == nil {
		return broker.PolicyUnsure, nil
	}
	return s.LLMDecider.Decide(ctx, agentID, tool, input)
}

// issuesAdapter routes orchestrator.Ready/issuebackend calls to the
// per-project backend registered via SetIssueBackend.
type issuesAdapter struct{ s *Supervisor }

func (a issuesAdapter) List(ctx context.Context, project string) ([]issuebackend.Issue, error) {
	return a.s.issueBackend(project).List(ctx, project)
}
func (a issuesAdapter) Get(ctx context.Context, project, issueID string) (issuebackend.Issue, error) {
	return a.s.issueBackend(project).Get(ctx, project, issueID)
}
func (a issuesAdapter) Ready(ctx context.Context, project string) ([]issuebackend.Issue, error) {
	b := a.s.issueBackend(project)
	if b == nil {
		return nil, nil
	}
	return b.Ready(ctx, project)
}
func (a issuesAdapter) Create(ctx context.Context, project string, issue issuebackend.Issue) (issuebackend.Issue, error) {
	return a.s.issueBackend(project).Create(ctx, project, issue)
}
func (a issuesAdapter) Update(ctx context.Context, project string, issue issuebackend.Issue) error {
	return a.s.issueBackend(project).Update(ctx, project, issue)
}
func (a issuesAdapter) Close(ctx context.Context, project, issueID string) error {
	return a.s.issueBackend(project).Close(ctx, project, issueID)
}
func (a issuesAdapter) Comment(ctx context.Context, project, issueID, body string) error {
	return a.s.issueBackend(project).Comment(ctx, project, issueID, body)
}
func (a issuesAdapter) CreatePullRequest(ctx context.Context, project, branch, title, body string) (string, error) {
	return a.s.issueBackend(project).CreatePullRequest(ctx, project, branch, title, body)
}

func (s *Supervisor) issueBackend(project string) issuebackend.Backend {
	s.issuesMu.Lock()
	defer s.issuesMu.Unlock()
	return s.issues[project]
}

// requireIssueBackend is issueBackend plus the nil check every IPC-facing
// issue operation needs, since a project with no issues_dir configured has
// no backend registered at all.
func (s *Supervisor) requireIssueBackend(project string) (issuebackend.Backend, error) {
	b := s.issueBackend(project)
	if b == nil {
		return nil, fmt.Errorf("project %q has no issue backend configured", project)
	}
	return b, nil
}

// ListIssues, ReadyIssues, GetIssue, CreateIssue, UpdateIssue, CloseIssue,
// and CommentIssue are the issuebackend.Backend operations exposed over
// IPC for manual ticket management alongside the orchestrator's own
// polling-driven use of the same backend.
func (s *Supervisor) ListIssues(ctx context.Context, project string) ([]issuebackend.Issue, error) {
	b, err := s.requireIssueBackend(project)
	if err != nil {
		return nil, err
	}
	return b.List(ctx, project)
}

func (s *Supervisor) ReadyIssues(ctx context.Context, project string) ([]issuebackend.Issue, error) {
	b, err := s.requireIssueBackend(project)
	if err != nil {
		return nil, err
	}
	return b.Ready(ctx, project)
}

func (s *Supervisor) GetIssue(ctx context.Context, project, issueID string) (issuebackend.Issue, error) {
	b, err := s.requireIssueBackend(project)
	if err != nil {
		return issuebackend.Issue{}, err
	}
	return b.Get(ctx, project, issueID)
}

func (s *Supervisor) CreateIssue(ctx context.Context, project string, issue issuebackend.Issue) (issuebackend.Issue, error) {
	b, err := s.requireIssueBackend(project)
	if err != nil {
		return issuebackend.Issue{}, err
	}
	return b.Create(ctx, project, issue)
}

func (s *Supervisor) UpdateIssue(ctx context.Context, project string, issue issuebackend.Issue) error {
	b, err := s.requireIssueBackend(project)
	if err != nil {
		return err
	}
	return b.Update(ctx, project, issue)
}

func (s *Supervisor) CloseIssue(ctx context.Context, project, issueID string) error {
	b, err := s.requireIssueBackend(project)
	if err != nil {
		return err
	}
	return b.Close(ctx, project, issueID)
}

func (s *Supervisor) CommentIssue(ctx context.Context, project, issueID, body string) error {
	b, err := s.requireIssueBackend(project)
	if err != nil {
		return err
	}
	return b.Comment(ctx, project, issueID, body)
}

// SetIssueBackend registers the IssueBackend for project. Must be called
// before AddProject starts orchestration.
func (s *Supervisor) SetIssueBackend(project string, b issuebackend.Backend) {
	s.issuesMu.Lock()
	s.issues[project] = b
	s.issuesMu.Unlock()
}

// AddProject registers project's configuration and its merge pipeline.
// It does not itself start orchestration; call StartOrchestration.
func (s *Supervisor) AddProject(cfg ProjectConfig) {
	cfg = cfg.withDefaults()
	s.projMu.Lock()
	s.projects[cfg.Name] = cfg
	s.projMu.Unlock()

	s.Rules.SetRules(cfg.Name, cfg.Rules)

	ring := mergepipe.NewRing(200)
	if s.Store != nil {
		if entries, err := s.Store.RecentCommits(context.Background(), cfg.Name, 200); err != nil {
			slog.Warn("rehydrate commit log failed", "project", cfg.Name, "err", err)
		} else {
			for _, e := range entries {
				ring.Append(e)
			}
		}
	}

	pipe := mergepipe.New(s.Git, s.issueBackend(cfg.Name), ring, func(ev mergepipe.Event) {
		s.Hub.PublishJSON(ev)
		if ev.Kind == mergepipe.EventNeedsResolution {
			msg := fmt.Sprintf("%s: agent %s needs resolution on issue %s: %s", ev.Project, ev.AgentID, ev.Issue, ev.Detail)
			if err := s.Notifiers.Notify(context.Background(), "slack", msg); err != nil {
				slog.Debug("notify needs_resolution failed", "project", ev.Project, "err", err)
			}
		}
	})
	if s.Store != nil {
		st := s.Store
		pipe.OnCommit = func(e mergepipe.CommitLogEntry) {
			if err := st.AppendCommit(context.Background(), e); err != nil {
				slog.Warn("persist commit log entry failed", "project", e.Project, "err", err)
			}
		}
	}

	s.pipeMu.Lock()
	s.pipelines[cfg.Name] = pipe
	s.pipeMu.Unlock()
}

// RemoveProject stops orchestration, aborts any of the project's running
// agents, and forgets the project. deleteWorktrees additionally removes
// the project's worktrees directory from disk; false (the default)
// unregisters only, so a mistaken removal never silently destroys
// in-progress work.
func (s *Supervisor) RemoveProject(name string, deleteWorktrees bool) error {
	s.Orch.Stop(name)

	s.agentsMu.Lock()
	for id, e := range s.agents {
		if e.project == name {
			e.runtime.Abort(true)
			delete(s.agents, id)
		}
	}
	s.agentsMu.Unlock()

	cfg, ok := s.project(name)
	s.projMu.Lock()
	delete(s.projects, name)
	s.projMu.Unlock()
	s.pipeMu.Lock()
	delete(s.pipelines, name)
	s.pipeMu.Unlock()

	if deleteWorktrees && ok && cfg.WorktreesDir != "" {
		if err := os.RemoveAll(cfg.WorktreesDir); err != nil {
			return fmt.Errorf("delete worktrees: %w", err)
		}
	}
	return nil
}

// ListProjects returns every registered project's configuration.
func (s *Supervisor) ListProjects() []ProjectConfig {
	s.projMu.Lock()
	defer s.projMu.Unlock()
	out := make([]ProjectConfig, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out
}

func (s *Supervisor) project(name string) (ProjectConfig, bool) {
	s.projMu.Lock()
	defer s.projMu.Unlock()
	p, ok := s.projects[name]
	return p, ok
}

// StartOrchestration begins project's polling loop.
func (s *Supervisor) StartOrchestration(ctx context.Context, name string) error {
	cfg, ok := s.project(name)
	if !ok {
		return fmt.Errorf("unknown project %q", name)
	}
	s.Orch.Start(ctx, name, orchestrator.ProjectConfig{Cap: cfg.Cap, PollInterval: cfg.PollInterval})
	return nil
}

// StopOrchestration halts project's polling loop.
func (s *Supervisor) StopOrchestration(name string) {
	s.Orch.Stop(name)
}

func (s *Supervisor) activeCount(project string) int {
	s.agentsMu.Lock()
	defer s.agentsMu.Unlock()
	n := 0
	for _, e := range s.agents {
		if e.project != project {
			continue
		}
		if !e.runtime.State().IsTerminal() {
			n++
		}
	}
	return n
}

// ListAgents returns a snapshot of every agent known to the supervisor,
// optionally filtered to one project (empty string means all).
func (s *Supervisor) ListAgents(project string) []agentrt.Record {
	s.agentsMu.Lock()
	defer s.agentsMu.Unlock()
	out := make([]agentrt.Record, 0, len(s.agents))
	for _, e := range s.agents {
		if project != "" && e.project != project {
			continue
		}
		rec := e.runtime.Snapshot()
		rec.ClaimedIssue = e.issue
		out = append(out, rec)
	}
	return out
}

// AbortAgent requests termination of one agent.
func (s *Supervisor) AbortAgent(agentID string, force bool) error {
	s.agentsMu.Lock()
	e, ok := s.agents[agentID]
	s.agentsMu.Unlock()
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	e.runtime.Abort(force)
	s.Claims.Release(e.project, e.issue)
	if s.Store != nil {
		if err := s.Store.DeleteAgentSnapshot(context.Background(), agentID); err != nil {
			slog.Warn("delete agent snapshot failed", "agent_id", agentID, "err", err)
		}
	}
	return nil
}

// SendMessage delivers a human-authored message to a running agent
// (Idle -> Running) and counts as human activity on the agent's project
// for the intervention gate.
func (s *Supervisor) SendMessage(agentID, text string) error {
	s.agentsMu.Lock()
	e, ok := s.agents[agentID]
	s.agentsMu.Unlock()
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	if err := e.runtime.Send(text); err != nil {
		return err
	}
	s.Orch.NoteHumanActivity(e.project)
	return nil
}

// ChatHistory returns a slice of an agent's Chat Buffer.
func (s *Supervisor) ChatHistory(agentID string, limit, offset int) ([]chatbuffer.Entry, error) {
	s.agentsMu.Lock()
	e, ok := s.agents[agentID]
	s.agentsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", agentID)
	}
	return e.runtime.Chat(limit, offset), nil
}

// DescribeAgent sets an agent's human-readable label.
func (s *Supervisor) DescribeAgent(agentID, label string) error {
	s.agentsMu.Lock()
	e, ok := s.agents[agentID]
	s.agentsMu.Unlock()
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	e.runtime.Describe(label)
	return nil
}

// MarkAgentDone lets an agent (or the tool driving it) self-report
// completion over IPC for CLIs whose stdout protocol never emits an idle
// event of its own; it drives the same Exited transition the stream
// normaliser would, which the supervisor's own event handler then carries
// through the merge pipeline exactly as if the child had exited on its own.
func (s *Supervisor) MarkAgentDone(agentID string) error {
	s.agentsMu.Lock()
	e, ok := s.agents[agentID]
	s.agentsMu.Unlock()
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	e.runtime.MarkExited()
	return nil
}

// ClaimAgent lets a caller-supplied agent ID adopt an unclaimed issue
// outside the orchestrator's own spawn loop, for operator-driven or
// scripted assignment (the `.claim` IPC operation).
func (s *Supervisor) ClaimAgent(ctx context.Context, project, issueID, agentID string) error {
	issue, err := s.issueBackend(project).Get(ctx, project, issueID)
	if err != nil {
		return fmt.Errorf("get issue: %w", err)
	}
	if err := s.Claims.TryClaim(project, issueID, agentID); err != nil {
		return err
	}
	otel.RecordClaimOp(ctx, "claim", project)
	if err := s.spawn(ctx, project, issue, agentID); err != nil {
		s.Claims.Release(project, issueID)
		otel.RecordClaimOp(ctx, "release", project)
		return err
	}
	return nil
}

// StartRoleAgent starts the director (project == "", Role: RoleDirector),
// a per-project manager (Role: RoleManager), or a per-project planner
// (Role: RolePlanner) — the non-coding wrappers over the same
// agentrt.Runtime coding agents use, minus the claim/merge lifecycle: they
// run in a fixed directory rather than a per-issue worktree, and their
// exit never touches the Claim Registry or the Merge Pipeline.
func (s *Supervisor) StartRoleAgent(ctx context.Context, role agentrt.Role, project, command string, args []string) (agentrt.Record, error) {
	key := roleAgentKey{Role: role, Project: project}
	s.roleMu.Lock()
	if _, exists := s.roleAgents[key]; exists {
		s.roleMu.Unlock()
		return agentrt.Record{}, fmt.Errorf("%s agent already running for %q", role, project)
	}
	s.roleMu.Unlock()

	workDir := filepath.Join(s.Home, "director")
	if project != "" {
		workDir = filepath.Join(s.Home, project, string(role))
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return agentrt.Record{}, err
	}

	agentID := string(role) + "-" + uuid.NewString()
	rt, err := agentrt.New(ctx, agentrt.Spawn{
		AgentID: agentID,
		Project: project,
		Role:    role,
		Backend: agentrt.BackendInteractive,
		Command: command,
		Args:    args,
		WorkDir: workDir,
		Home:    s.Home,
	}, func(ev agentrt.Event) { s.Hub.PublishJSON(ev) })
	if err != nil {
		return agentrt.Record{}, err
	}

	s.roleMu.Lock()
	s.roleAgents[key] = rt
	s.roleMu.Unlock()
	return rt.Snapshot(), nil
}

func (s *Supervisor) roleAgent(role agentrt.Role, project string) (*agentrt.Runtime, error) {
	s.roleMu.Lock()
	rt, ok := s.roleAgents[roleAgentKey{Role: role, Project: project}]
	s.roleMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no %s agent running for %q", role, project)
	}
	return rt, nil
}

// StopRoleAgent aborts a running director/manager/planner wrapper.
func (s *Supervisor) StopRoleAgent(role agentrt.Role, project string, force bool) error {
	key := roleAgentKey{Role: role, Project: project}
	s.roleMu.Lock()
	rt, ok := s.roleAgents[key]
	if ok {
		delete(s.roleAgents, key)
	}
	s.roleMu.Unlock()
	if !ok {
		return fmt.Errorf("no %s agent running for %q", role, project)
	}
	rt.Abort(force)
	return nil
}

// RoleAgentStatus reports a wrapper agent's snapshot.
func (s *Supervisor) RoleAgentStatus(role agentrt.Role, project string) (agentrt.Record, error) {
	rt, err := s.roleAgent(role, project)
	if err != nil {
		return agentrt.Record{}, err
	}
	return rt.Snapshot(), nil
}

// RoleAgentSend delivers a message to a wrapper agent.
func (s *Supervisor) RoleAgentSend(role agentrt.Role, project, text string) error {
	rt, err := s.roleAgent(role, project)
	if err != nil {
		return err
	}
	return rt.Send(text)
}

// RoleAgentChat reads a wrapper agent's Chat Buffer.
func (s *Supervisor) RoleAgentChat(role agentrt.Role, project string, limit, offset int) ([]chatbuffer.Entry, error) {
	rt, err := s.roleAgent(role, project)
	if err != nil {
		return nil, err
	}
	return rt.Chat(limit, offset), nil
}

// ListRoleAgents reports every running director/manager/planner wrapper of
// the given role, across all projects.
func (s *Supervisor) ListRoleAgents(role agentrt.Role) []agentrt.Record {
	s.roleMu.Lock()
	defer s.roleMu.Unlock()
	out := make([]agentrt.Record, 0, len(s.roleAgents))
	for key, rt := range s.roleAgents {
		if key.Role != role {
			continue
		}
		out = append(out, rt.Snapshot())
	}
	return out
}

// RoleAgentClearHistory discards a wrapper agent's Chat Buffer.
func (s *Supervisor) RoleAgentClearHistory(role agentrt.Role, project string) error {
	rt, err := s.roleAgent(role, project)
	if err != nil {
		return err
	}
	rt.ClearHistory()
	return nil
}

// spawn implements orchestrator.SpawnFunc: it creates a fresh worktree
// for the claimed issue and starts its agent process.
func (s *Supervisor) spawn(ctx context.Context, project string, issue issuebackend.Issue, agentID string) error {
	cfg, ok := s.project(project)
	if !ok {
		return fmt.Errorf("unknown project %q", project)
	}

	branch := "agents/" + agentID
	worktreePath := filepath.Join(cfg.WorktreesDir, agentID)
	baseBranch, err := s.Git.DefaultBranch(ctx, cfg.RepoDir)
	if err != nil {
		return err
	}
	if err := s.Git.CreateWorktree(ctx, cfg.RepoDir, worktreePath, branch, cfg.Remote+"/"+baseBranch); err != nil {
		return err
	}

	entry := &agentEntry{project: project, issue: issue.ID, worktreesRoot: cfg.WorktreesDir, worktreePath: worktreePath}
	sink := func(ev agentrt.Event) {
		s.handleAgentEvent(project, issue.ID, cfg, worktreePath, branch, entry, ev)
	}

	rt, err := agentrt.New(ctx, agentrt.Spawn{
		AgentID:      agentID,
		Project:      project,
		Role:         cfg.Role,
		Backend:      cfg.Backend,
		Command:      cfg.Command,
		Args:         cfg.Args,
		WorkDir:      worktreePath,
		WorktreePath: worktreePath,
		BranchName:   branch,
		Home:         s.Home,
		Env: map[string]string{
			"MURMUR_ISSUE_ID": issue.ID,
		},
	}, sink)
	if err != nil {
		_ = s.Git.RemoveWorktree(ctx, cfg.RepoDir, worktreePath)
		return err
	}
	rt.Describe(issue.Title)

	entry.runtime = rt
	s.agentsMu.Lock()
	s.agents[agentID] = entry
	s.agentsMu.Unlock()

	if s.Store != nil {
		rec := rt.Snapshot()
		rec.ClaimedIssue = issue.ID
		if err := s.Store.SaveAgentSnapshot(ctx, rec); err != nil {
			slog.Warn("save agent snapshot failed", "agent_id", agentID, "err", err)
		}
	}

	s.Hub.PublishJSON(map[string]any{"type": "agent.spawned", "agent_id": agentID, "project": project, "issue": issue.ID})
	return nil
}

func (s *Supervisor) handleAgentEvent(project, issueID string, cfg ProjectConfig, worktreeDir, branch string, entry *agentEntry, ev agentrt.Event) {
	s.Hub.PublishJSON(ev)

	switch ev.Kind {
	case agentrt.EventIdle:
		if ev.Reason == "done" {
			s.completeAgent(project, issueID, cfg, worktreeDir, branch, entry, true)
		}
	case agentrt.EventStateChanged:
		if ev.State == agentrt.StateExited {
			rec := entry.runtime.Snapshot()
			ok := rec.ExitCode == nil || *rec.ExitCode == 0
			s.completeAgent(project, issueID, cfg, worktreeDir, branch, entry, ok)
		}
	}
}

func (s *Supervisor) completeAgent(project, issueID string, cfg ProjectConfig, worktreeDir, branch string, entry *agentEntry, success bool) {
	entry.mu.Lock()
	if entry.handled {
		entry.mu.Unlock()
		return
	}
	entry.handled = true
	entry.mu.Unlock()

	rec := entry.runtime.Snapshot()
	otel.RecordAgentRun(context.Background(), project, rec.ID, time.Since(rec.SpawnedAt))
	if s.Store != nil {
		if err := s.Store.DeleteAgentSnapshot(context.Background(), rec.ID); err != nil {
			slog.Warn("delete agent snapshot failed", "agent_id", rec.ID, "err", err)
		}
	}

	if !success {
		slog.Warn("agent terminated abnormally, releasing claim", "project", project, "issue", issueID)
		s.Claims.Release(project, issueID)
		otel.RecordClaimOp(context.Background(), "release", project)
		return
	}

	s.pipeMu.Lock()
	pipe := s.pipelines[project]
	s.pipeMu.Unlock()
	if pipe == nil {
		slog.Error("no merge pipeline registered for project", "project", project)
		return
	}

	go func() {
		ctx := context.Background()
		_, err := pipe.Run(ctx, mergepipe.Request{
			Project:     project,
			Issue:       issueID,
			AgentID:     entry.runtime.Snapshot().ID,
			RepoDir:     cfg.RepoDir,
			WorktreeDir: worktreeDir,
			BranchName:  branch,
			Remote:      cfg.Remote,
			Strategy:    cfg.Strategy,
		}, s.Claims, entry.runtime)
		if err != nil {
			slog.Error("merge pipeline failed", "project", project, "issue", issueID, "err", err)
		}
	}()
}

// CheckPermission evaluates a tool invocation against project rules and
// (if undecided) a human/LLM decider, blocking until a decision or ctx
// cancellation. This is the synchronous call the hook helper binary
// makes before letting an agent's tool run.
//
// Two invariants are enforced up front, before any configurable rule or
// LLM decider gets a vote: an agent may never issue a git command that
// changes branch topology (that is the merge pipeline's job alone), and
// an agent may never write outside its own worktree.
func (s *Supervisor) CheckPermission(ctx context.Context, agentID, tool, input string) (broker.Decision, error) {
	if sandbox.BlockedGitCommandLine(input) || sandbox.BlockedShellCommand(input) {
		otel.RecordApprovalDecision(ctx, "sandbox", string(broker.DecisionDeny))
		return broker.DecisionDeny, nil
	}
	if path, ok := writeTargetPath(tool, input); ok {
		s.agentsMu.Lock()
		entry := s.agents[agentID]
		s.agentsMu.Unlock()
		if entry != nil {
			guard := &sandbox.WriteGuard{WorktreesRoot: entry.worktreesRoot, WorktreePath: entry.worktreePath}
			if !guard.AllowWrite(path) {
				otel.RecordApprovalDecision(ctx, "sandbox", string(broker.DecisionDeny))
				return broker.DecisionDeny, nil
			}
		}
	}

	_, future := s.Broker.OpenApproval(ctx, broker.ApprovalPayload{AgentID: agentID, Tool: tool, Input: input}, 0)
	select {
	case d := <-future:
		otel.RecordApprovalDecision(ctx, "broker", string(d))
		return d, nil
	case <-ctx.Done():
		return broker.DecisionDeny, ctx.Err()
	}
}

// writeTargetPath recognises filesystem-write tool calls and extracts the
// path they target, which is always the first whitespace-separated field
// of the canonicalised input by the hook's convention.
func writeTargetPath(tool, input string) (string, bool) {
	lower := strings.ToLower(tool)
	if !strings.Contains(lower, "write") && !strings.Contains(lower, "edit") {
		return "", false
	}
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// AskQuestion opens a pending question and blocks until answered or ctx
// cancellation, for the hook helper's clarifying-question path.
func (s *Supervisor) AskQuestion(ctx context.Context, agentID string, prompts map[string]string) (broker.Answer, error) {
	_, future := s.Broker.OpenQuestion(broker.QuestionPayload{AgentID: agentID, Prompts: prompts}, 0)
	select {
	case a := <-future:
		return a, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RespondApproval resolves a pending approval and, since a human just
// acted on this project, resets its intervention-gate silence clock.
func (s *Supervisor) RespondApproval(correlationID string, decision broker.Decision) error {
	project := s.projectForCorrelation(broker.KindApproval, correlationID)
	if err := s.Broker.RespondApproval(correlationID, decision); err != nil {
		return err
	}
	if project != "" {
		s.Orch.NoteHumanActivity(project)
	}
	return nil
}

// RespondQuestion resolves a pending question, resetting the intervention
// gate the same way RespondApproval does.
func (s *Supervisor) RespondQuestion(correlationID string, answer broker.Answer) error {
	project := s.projectForCorrelation(broker.KindQuestion, correlationID)
	if err := s.Broker.RespondQuestion(correlationID, answer); err != nil {
		return err
	}
	if project != "" {
		s.Orch.NoteHumanActivity(project)
	}
	return nil
}

// projectForCorrelation resolves the project a pending broker entry
// belongs to via the agent ID it was opened for, before the entry is
// taken (and its agent ID lost) by Respond*.
func (s *Supervisor) projectForCorrelation(kind broker.Kind, correlationID string) string {
	for _, e := range s.Broker.List(kind) {
		if e.CorrelationID == correlationID {
			return s.projectForAgent(e.AgentID)
		}
	}
	return ""
}

// CommitLog returns the most recent n commit-log entries for project.
func (s *Supervisor) CommitLog(project string, n int) []mergepipe.CommitLogEntry {
	s.pipeMu.Lock()
	pipe := s.pipelines[project]
	s.pipeMu.Unlock()
	if pipe == nil || pipe.CommitLog == nil {
		return nil
	}
	return pipe.CommitLog.Recent(n)
}

// Stats is the `stats` IPC response payload.
type Stats struct {
	Projects        int
	ActiveAgents    int
	PendingApprovals int
	PendingQuestions int
	Subscribers     int
}

// Stats summarizes the supervisor's current load.
func (s *Supervisor) Stats() Stats {
	s.agentsMu.Lock()
	active := 0
	for _, e := range s.agents {
		if !e.runtime.State().IsTerminal() {
			active++
		}
	}
	s.agentsMu.Unlock()

	return Stats{
		Projects:         len(s.ListProjects()),
		ActiveAgents:     active,
		PendingApprovals: len(s.Broker.List(broker.KindApproval)),
		PendingQuestions: len(s.Broker.List(broker.KindQuestion)),
		Subscribers:      s.Hub.Count(),
	}
}

// Shutdown stops every project's orchestration loop and cancels every
// pending broker entry to its fail-safe default.
func (s *Supervisor) Shutdown() {
	for _, p := range s.ListProjects() {
		s.Orch.Stop(p.Name)
	}
	s.Broker.CancelAll("supervisor shutdown")
}
