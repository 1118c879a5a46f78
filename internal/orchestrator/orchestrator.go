// Package orchestrator implements the Orchestrator (C8): one polling loop
// per project that reconciles ready issues, the claim registry, and the
// per-project concurrency cap into spawn decisions.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/karan-zipline/murmur/internal/claim"
	"github.com/karan-zipline/murmur/internal/issuebackend"
	"github.com/karan-zipline/murmur/internal/otel"
	"github.com/karan-zipline/murmur/internal/spawnpolicy"
)

const (
	defaultPollInterval       = 10 * time.Second
	defaultInterventionSilence = 60 * time.Second
)

// ProjectConfig governs one project's loop.
type ProjectConfig struct {
	Cap                 int
	PollInterval        time.Duration
	InterventionSilence time.Duration
}

func (c ProjectConfig) withDefaults() ProjectConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.InterventionSilence <= 0 {
		c.InterventionSilence = defaultInterventionSilence
	}
	return c
}

// SpawnFunc is invoked once per issue the spawn policy selects for this
// tick, with a claim already held under agentID. A non-nil error causes
// the orchestrator to release the claim immediately so the issue is
// retried on the next tick.
type SpawnFunc func(ctx context.Context, project string, issue issuebackend.Issue, agentID string) error

// ActiveCountFunc reports the number of non-terminal agents currently
// running against project, supplied by the caller (the agent map lives
// in the supervisor, not here, to avoid a dependency cycle).
type ActiveCountFunc func(project string) int

// Orchestrator owns one loop per started project.
type Orchestrator struct {
	Issues      issuebackend.Backend
	Claims      *claim.Registry
	Spawn       SpawnFunc
	ActiveCount ActiveCountFunc

	mu       sync.Mutex
	projects map[string]*projectState
}

type projectState struct {
	cfg     ProjectConfig
	cancel  context.CancelFunc
	trigger chan struct{}
	done    chan struct{}

	activityMu   sync.Mutex
	lastActivity time.Time
}

// New returns an Orchestrator with no projects started.
func New(issues issuebackend.Backend, claims *claim.Registry, spawn SpawnFunc, activeCount ActiveCountFunc) *Orchestrator {
	return &Orchestrator{
		Issues:      issues,
		Claims:      claims,
		Spawn:       spawn,
		ActiveCount: activeCount,
		projects:    make(map[string]*projectState),
	}
}

// Start begins polling project on its own goroutine. Starting an already
// running project restarts it with the new configuration.
func (o *Orchestrator) Start(ctx context.Context, project string, cfg ProjectConfig) {
	cfg = cfg.withDefaults()
	o.mu.Lock()
	if existing, ok := o.projects[project]; ok {
		existing.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	ps := &projectState{
		cfg:          cfg,
		cancel:       cancel,
		trigger:      make(chan struct{}, 1),
		done:         make(chan struct{}),
		lastActivity: time.Now(),
	}
	o.projects[project] = ps
	o.mu.Unlock()

	go o.loop(loopCtx, project, ps)
}

// Stop halts project's loop. Idempotent.
func (o *Orchestrator) Stop(project string) {
	o.mu.Lock()
	ps, ok := o.projects[project]
	if ok {
		delete(o.projects, project)
	}
	o.mu.Unlock()
	if ok {
		ps.cancel()
		<-ps.done
	}
}

// Trigger requests an immediate tick for project (e.g. on issue-backend
// change notification), coalescing with any already-pending trigger.
func (o *Orchestrator) Trigger(project string) {
	o.mu.Lock()
	ps, ok := o.projects[project]
	o.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ps.trigger <- struct{}{}:
	default:
	}
}

// NoteHumanActivity resets project's intervention-gate silence clock,
// called whenever a human responds to an approval/question or otherwise
// interacts with the project.
func (o *Orchestrator) NoteHumanActivity(project string) {
	o.mu.Lock()
	ps, ok := o.projects[project]
	o.mu.Unlock()
	if !ok {
		return
	}
	ps.activityMu.Lock()
	ps.lastActivity = time.Now()
	ps.activityMu.Unlock()
}

// IsSilent reports whether project has gone at least InterventionSilence
// without human activity. tick consults it as the intervention gate: no
// agents are spawned for project while it is not silent.
func (o *Orchestrator) IsSilent(project string) bool {
	o.mu.Lock()
	ps, ok := o.projects[project]
	o.mu.Unlock()
	if !ok {
		return true
	}
	ps.activityMu.Lock()
	defer ps.activityMu.Unlock()
	return time.Since(ps.lastActivity) >= ps.cfg.InterventionSilence
}

// Running reports whether project currently has a loop started.
func (o *Orchestrator) Running(project string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.projects[project]
	return ok
}

func (o *Orchestrator) loop(ctx context.Context, project string, ps *projectState) {
	defer close(ps.done)
	ticker := time.NewTicker(ps.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx, project, ps)
		case <-ps.trigger:
			o.tick(ctx, project, ps)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context, project string, ps *projectState) {
	ready, err := o.Issues.Ready(ctx, project)
	if err != nil {
		slog.Warn("orchestrator: list ready issues failed", "project", project, "err", err)
		return
	}
	if len(ready) == 0 {
		return
	}
	if !o.IsSilent(project) {
		return
	}

	byID := make(map[string]issuebackend.Issue, len(ready))
	ordered := make([]string, 0, len(ready))
	for _, issue := range ready {
		byID[issue.ID] = issue
		ordered = append(ordered, issue.ID)
	}

	claimedSet := make(map[string]struct{})
	for _, entry := range o.Claims.List(project) {
		claimedSet[entry.Key.Issue] = struct{}{}
	}

	active := 0
	if o.ActiveCount != nil {
		active = o.ActiveCount(project)
	}

	toSpawn := spawnpolicy.Tick(active, ps.cfg.Cap, ordered, claimedSet)
	for _, issueID := range toSpawn {
		issue, ok := byID[issueID]
		if !ok {
			continue
		}
		agentID := uuid.NewString()
		if err := o.Claims.TryClaim(project, issueID, agentID); err != nil {
			// Lost the race to another tick/worker; skip silently.
			continue
		}
		otel.RecordClaimOp(ctx, "claim", project)
		if err := o.Spawn(ctx, project, issue, agentID); err != nil {
			slog.Warn("orchestrator: spawn failed, releasing claim", "project", project, "issue", issueID, "err", err)
			o.Claims.Release(project, issueID)
			otel.RecordClaimOp(ctx, "release", project)
			continue
		}
		otel.RecordAgentSpawn(ctx, project, agentID)
	}
}
