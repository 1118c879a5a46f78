package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/karan-zipline/murmur/internal/claim"
	"github.com/karan-zipline/murmur/internal/issuebackend"
)

type fakeIssues struct {
	mu    sync.Mutex
	ready []issuebackend.Issue
}

func (f *fakeIssues) List(ctx context.Context, project string) ([]issuebackend.Issue, error) {
	return nil, nil
}
func (f *fakeIssues) Get(ctx context.Context, project, issueID string) (issuebackend.Issue, error) {
	return issuebackend.Issue{}, nil
}
func (f *fakeIssues) Ready(ctx context.Context, project string) ([]issuebackend.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]issuebackend.Issue, len(f.ready))
	copy(out, f.ready)
	return out, nil
}
func (f *fakeIssues) Create(ctx context.Context, project string, issue issuebackend.Issue) (issuebackend.Issue, error) {
	return issue, nil
}
func (f *fakeIssues) Update(ctx context.Context, project string, issue issuebackend.Issue) error {
	return nil
}
func (f *fakeIssues) Close(ctx context.Context, project, issueID string) error { return nil }
func (f *fakeIssues) Comment(ctx context.Context, project, issueID, body string) error {
	return nil
}
func (f *fakeIssues) CreatePullRequest(ctx context.Context, project, branch, title, body string) (string, error) {
	return "", nil
}

func TestTickSpawnsUpToCap(t *testing.T) {
	issues := &fakeIssues{ready: []issuebackend.Issue{
		{ID: "I-1", Status: issuebackend.StatusOpen},
		{ID: "I-2", Status: issuebackend.StatusOpen},
		{ID: "I-3", Status: issuebackend.StatusOpen},
	}}
	claims := claim.New()

	var mu sync.Mutex
	var spawned []string
	spawn := func(ctx context.Context, project string, issue issuebackend.Issue, agentID string) error {
		mu.Lock()
		spawned = append(spawned, issue.ID)
		mu.Unlock()
		return nil
	}

	o := New(issues, claims, spawn, func(project string) int { return 0 })
	o.tick(context.Background(), "p1", &projectState{cfg: ProjectConfig{Cap: 2}.withDefaults()})

	mu.Lock()
	defer mu.Unlock()
	if len(spawned) != 2 {
		t.Fatalf("expected 2 spawns under cap 2, got %v", spawned)
	}
}

func TestTickSkipsAlreadyClaimed(t *testing.T) {
	issues := &fakeIssues{ready: []issuebackend.Issue{
		{ID: "I-1", Status: issuebackend.StatusOpen},
		{ID: "I-2", Status: issuebackend.StatusOpen},
	}}
	claims := claim.New()
	_ = claims.TryClaim("p1", "I-1", "other-agent")

	var spawned []string
	spawn := func(ctx context.Context, project string, issue issuebackend.Issue, agentID string) error {
		spawned = append(spawned, issue.ID)
		return nil
	}

	o := New(issues, claims, spawn, func(project string) int { return 0 })
	o.tick(context.Background(), "p1", &projectState{cfg: ProjectConfig{Cap: 5}.withDefaults()})

	if len(spawned) != 1 || spawned[0] != "I-2" {
		t.Fatalf("expected only I-2 spawned, got %v", spawned)
	}
}

func TestTickReleasesClaimOnSpawnFailure(t *testing.T) {
	issues := &fakeIssues{ready: []issuebackend.Issue{{ID: "I-1", Status: issuebackend.StatusOpen}}}
	claims := claim.New()
	spawn := func(ctx context.Context, project string, issue issuebackend.Issue, agentID string) error {
		return context.DeadlineExceeded
	}

	o := New(issues, claims, spawn, func(project string) int { return 0 })
	o.tick(context.Background(), "p1", &projectState{cfg: ProjectConfig{Cap: 5}.withDefaults()})

	if claims.IsClaimed("p1", "I-1") {
		t.Fatal("expected claim released after spawn failure")
	}
}

func TestStartStopAndTrigger(t *testing.T) {
	issues := &fakeIssues{ready: []issuebackend.Issue{{ID: "I-1", Status: issuebackend.StatusOpen}}}
	claims := claim.New()

	spawned := make(chan string, 4)
	spawn := func(ctx context.Context, project string, issue issuebackend.Issue, agentID string) error {
		spawned <- issue.ID
		return nil
	}

	o := New(issues, claims, spawn, func(project string) int { return 0 })
	o.Start(context.Background(), "p1", ProjectConfig{Cap: 1, PollInterval: time.Hour})
	o.Trigger("p1")

	select {
	case id := <-spawned:
		if id != "I-1" {
			t.Fatalf("expected I-1, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for triggered spawn")
	}

	if !o.Running("p1") {
		t.Fatal("expected project running")
	}
	o.Stop("p1")
	if o.Running("p1") {
		t.Fatal("expected project stopped")
	}
}

func TestInterventionGate(t *testing.T) {
	issues := &fakeIssues{}
	claims := claim.New()
	o := New(issues, claims, func(ctx context.Context, project string, issue issuebackend.Issue, agentID string) error {
		return nil
	}, func(project string) int { return 0 })

	o.Start(context.Background(), "p1", ProjectConfig{InterventionSilence: 10 * time.Millisecond, PollInterval: time.Hour})
	defer o.Stop("p1")

	if o.IsSilent("p1") {
		t.Fatal("expected not silent immediately after start")
	}
	time.Sleep(30 * time.Millisecond)
	if !o.IsSilent("p1") {
		t.Fatal("expected silent after threshold elapses")
	}
	o.NoteHumanActivity("p1")
	if o.IsSilent("p1") {
		t.Fatal("expected not silent immediately after activity noted")
	}
}
