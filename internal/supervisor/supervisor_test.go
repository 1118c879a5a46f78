package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/karan-zipline/murmur/internal/agentrt"
	"github.com/karan-zipline/murmur/internal/broker"
	"github.com/karan-zipline/murmur/internal/issuebackend"
	"github.com/karan-zipline/murmur/internal/permission"
)

func writeStayAliveScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "roleagent.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\ncat\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return script
}

type fakeGit struct{}

func (fakeGit) Fetch(ctx context.Context, repoDir, remote string, prune bool) error { return nil }
func (fakeGit) DefaultBranch(ctx context.Context, repoDir string) (string, error) {
	return "main", nil
}
func (fakeGit) CheckoutAndResetHard(ctx context.Context, repoDir, branch, ref string) error {
	return nil
}
func (fakeGit) CreateWorktree(ctx context.Context, repoDir, worktreePath, branch, baseRef string) error {
	return nil
}
func (fakeGit) RemoveWorktree(ctx context.Context, repoDir, worktreePath string) error { return nil }
func (fakeGit) RebaseOnto(ctx context.Context, worktreeDir, ontoRef string) error      { return nil }
func (fakeGit) FastForwardMerge(ctx context.Context, repoDir, branch string) error     { return nil }
func (fakeGit) ForcePushBranch(ctx context.Context, worktreeDir, branch, remote string) error {
	return nil
}
func (fakeGit) Push(ctx context.Context, repoDir, branch, remote string) error { return nil }
func (fakeGit) HeadSHA(ctx context.Context, dir string) (string, error)       { return "deadbeef", nil }
func (fakeGit) IsAncestor(ctx context.Context, dir, ancestor, descendant string) (bool, error) {
	return true, nil
}

type fakeIssues struct{}

func (fakeIssues) List(ctx context.Context, project string) ([]issuebackend.Issue, error) {
	return nil, nil
}
func (fakeIssues) Get(ctx context.Context, project, issueID string) (issuebackend.Issue, error) {
	return issuebackend.Issue{}, nil
}
func (fakeIssues) Ready(ctx context.Context, project string) ([]issuebackend.Issue, error) {
	return nil, nil
}
func (fakeIssues) Create(ctx context.Context, project string, issue issuebackend.Issue) (issuebackend.Issue, error) {
	return issue, nil
}
func (fakeIssues) Update(ctx context.Context, project string, issue issuebackend.Issue) error {
	return nil
}
func (fakeIssues) Close(ctx context.Context, project, issueID string) error { return nil }
func (fakeIssues) Comment(ctx context.Context, project, issueID, body string) error {
	return nil
}
func (fakeIssues) CreatePullRequest(ctx context.Context, project, branch, title, body string) (string, error) {
	return "", nil
}

func TestAddListRemoveProject(t *testing.T) {
	s := New(fakeGit{})
	s.SetIssueBackend("p1", fakeIssues{})
	s.AddProject(ProjectConfig{Name: "p1", RepoDir: "/repo", WorktreesDir: "/wt"})

	got := s.ListProjects()
	if len(got) != 1 || got[0].Name != "p1" {
		t.Fatalf("expected p1 registered, got %+v", got)
	}

	if err := s.RemoveProject("p1", false); err != nil {
		t.Fatalf("RemoveProject: %v", err)
	}
	if len(s.ListProjects()) != 0 {
		t.Fatal("expected no projects after remove")
	}
}

func TestCheckPermissionUsesProjectRules(t *testing.T) {
	s := New(fakeGit{})
	s.SetIssueBackend("p1", fakeIssues{})
	s.AddProject(ProjectConfig{
		Name: "p1", RepoDir: "/repo", WorktreesDir: "/wt",
		Rules: []permission.Rule{{ToolPattern: "shell", Action: permission.Deny, InputPattern: "rm -rf"}},
	})

	s.agentsMu.Lock()
	s.agents["a-1"] = &agentEntry{project: "p1"}
	s.agentsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	decision, err := s.CheckPermission(ctx, "a-1", "shell", "rm -rf /")
	if err != nil {
		t.Fatalf("CheckPermission: %v", err)
	}
	if decision != broker.DecisionDeny {
		t.Fatalf("expected deny, got %v", decision)
	}
}

func TestCheckPermissionUndecidedWaitsForHumanResponse(t *testing.T) {
	s := New(fakeGit{})
	s.SetIssueBackend("p1", fakeIssues{})
	s.AddProject(ProjectConfig{Name: "p1", RepoDir: "/repo", WorktreesDir: "/wt"})
	s.agentsMu.Lock()
	s.agents["a-1"] = &agentEntry{project: "p1"}
	s.agentsMu.Unlock()

	done := make(chan broker.Decision, 1)
	go func() {
		d, err := s.CheckPermission(context.Background(), "a-1", "shell", "curl http://x")
		if err != nil {
			t.Errorf("CheckPermission: %v", err)
		}
		done <- d
	}()

	var id string
	for i := 0; i < 100; i++ {
		pending := s.Broker.List(broker.KindApproval)
		if len(pending) == 1 {
			id = pending[0].CorrelationID
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if id == "" {
		t.Fatal("expected a pending approval to appear")
	}
	if err := s.Broker.RespondApproval(id, broker.DecisionAllow); err != nil {
		t.Fatalf("RespondApproval: %v", err)
	}

	select {
	case d := <-done:
		if d != broker.DecisionAllow {
			t.Fatalf("expected allow, got %v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for permission decision")
	}
}

func TestAskQuestionAnsweredByRespondQuestion(t *testing.T) {
	s := New(fakeGit{})
	done := make(chan broker.Answer, 1)
	go func() {
		a, err := s.AskQuestion(context.Background(), "a-1", map[string]string{"q1": "continue?"})
		if err != nil {
			t.Errorf("AskQuestion: %v", err)
		}
		done <- a
	}()

	var id string
	for i := 0; i < 100; i++ {
		pending := s.Broker.List(broker.KindQuestion)
		if len(pending) == 1 {
			id = pending[0].CorrelationID
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if id == "" {
		t.Fatal("expected a pending question to appear")
	}
	if err := s.Broker.RespondQuestion(id, broker.Answer{"q1": "yes"}); err != nil {
		t.Fatalf("RespondQuestion: %v", err)
	}

	select {
	case a := <-done:
		if a["q1"] != "yes" {
			t.Fatalf("expected answer yes, got %v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for question answer")
	}
}

func TestStatsReflectsState(t *testing.T) {
	s := New(fakeGit{})
	s.SetIssueBackend("p1", fakeIssues{})
	s.AddProject(ProjectConfig{Name: "p1", RepoDir: "/repo", WorktreesDir: "/wt"})

	stats := s.Stats()
	if stats.Projects != 1 {
		t.Fatalf("expected 1 project, got %d", stats.Projects)
	}
	if stats.ActiveAgents != 0 {
		t.Fatalf("expected 0 active agents, got %d", stats.ActiveAgents)
	}
}

func TestRespondApprovalResetsIntervention(t *testing.T) {
	s := New(fakeGit{})
	s.SetIssueBackend("p1", fakeIssues{})
	s.AddProject(ProjectConfig{Name: "p1", RepoDir: "/repo", WorktreesDir: "/wt"})
	ctx := context.Background()
	if err := s.StartOrchestration(ctx, "p1"); err != nil {
		t.Fatalf("StartOrchestration: %v", err)
	}
	defer s.StopOrchestration("p1")

	s.agentsMu.Lock()
	s.agents["a-1"] = &agentEntry{project: "p1"}
	s.agentsMu.Unlock()

	id, _ := s.Broker.OpenApproval(ctx, broker.ApprovalPayload{AgentID: "a-1"}, time.Minute)
	if err := s.RespondApproval(id, broker.DecisionAllow); err != nil {
		t.Fatalf("RespondApproval: %v", err)
	}
	if s.Orch.IsSilent("p1") {
		t.Fatal("expected NoteHumanActivity to have fired, project still reports silent")
	}
}

func TestSendMessageUnknownAgent(t *testing.T) {
	s := New(fakeGit{})
	if err := s.SendMessage("no-such-agent", "hi"); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestRoleAgentLifecycle(t *testing.T) {
	s := New(fakeGit{})
	s.Home = t.TempDir()
	script := writeStayAliveScript(t)

	rec, err := s.StartRoleAgent(context.Background(), agentrt.RoleManager, "p1", script, nil)
	if err != nil {
		t.Fatalf("StartRoleAgent: %v", err)
	}
	if rec.Role != agentrt.RoleManager || rec.Project != "p1" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := s.StartRoleAgent(context.Background(), agentrt.RoleManager, "p1", script, nil); err == nil {
		t.Fatal("expected error starting a second manager for the same project")
	}

	if _, err := s.RoleAgentStatus(agentrt.RoleManager, "p1"); err != nil {
		t.Fatalf("RoleAgentStatus: %v", err)
	}

	if err := s.StopRoleAgent(agentrt.RoleManager, "p1", true); err != nil {
		t.Fatalf("StopRoleAgent: %v", err)
	}
	if _, err := s.RoleAgentStatus(agentrt.RoleManager, "p1"); err == nil {
		t.Fatal("expected no manager running after StopRoleAgent")
	}
}

func TestRoleAgentDirectorIsSingletonAcrossProjects(t *testing.T) {
	s := New(fakeGit{})
	s.Home = t.TempDir()
	script := writeStayAliveScript(t)

	if _, err := s.StartRoleAgent(context.Background(), agentrt.RoleDirector, "", script, nil); err != nil {
		t.Fatalf("StartRoleAgent: %v", err)
	}
	defer s.StopRoleAgent(agentrt.RoleDirector, "", true)

	if _, err := s.RoleAgentStatus(agentrt.RoleManager, "p1"); err == nil {
		t.Fatal("expected the director's key not to satisfy a per-project manager lookup")
	}
}

func TestShutdownCancelsPendingApprovals(t *testing.T) {
	s := New(fakeGit{})
	_, future := s.Broker.OpenApproval(context.Background(), broker.ApprovalPayload{AgentID: "a-1"}, time.Minute)
	s.Shutdown()

	select {
	case d := <-future:
		if d != broker.DecisionDeny {
			t.Fatalf("expected deny on shutdown, got %v", d)
		}
	default:
		t.Fatal("expected approval resolved by Shutdown")
	}
}
