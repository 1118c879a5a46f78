package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/karan-zipline/murmur/internal/agentrt"
	"github.com/karan-zipline/murmur/internal/mergepipe"
	"github.com/karan-zipline/murmur/internal/permission"
)

func TestWithHome_HomeFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, ok := HomeFrom(ctx); ok {
		t.Fatal("expected no home in empty context")
	}
	ctx = WithHome(ctx, "/foo/bar")
	got, ok := HomeFrom(ctx)
	if !ok || got != "/foo/bar" {
		t.Fatalf("HomeFrom: got %q, ok=%v; want /foo/bar, true", got, ok)
	}
}

func TestMustHomeFrom(t *testing.T) {
	t.Parallel()
	ctx := WithHome(context.Background(), "/murmur")
	if got := MustHomeFrom(ctx); got != "/murmur" {
		t.Fatalf("MustHomeFrom: got %q", got)
	}
}

func TestMustHomeFrom_panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when home missing")
		}
	}()
	MustHomeFrom(context.Background())
}

func TestResolveHome_override(t *testing.T) {
	t.Parallel()
	got, err := ResolveHome("/custom/home")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/custom/home") {
		t.Fatalf("ResolveHome: got %q", got)
	}
}

func TestResolveHome_env(t *testing.T) {
	t.Setenv("MURMUR_HOME", "/env/home")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/env/home") {
		t.Fatalf("ResolveHome from env: got %q", got)
	}
}

func TestResolveHome_default(t *testing.T) {
	t.Setenv("MURMUR_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("UserHomeDir: %v", err)
	}
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	want := filepath.Join(home, ".murmur")
	if got != want {
		t.Fatalf("ResolveHome default: got %q, want %q", got, want)
	}
}

const sampleTOML = `
socket = "murmur.sock"

[llm]
base_url = "https://api.openai.com"
api_key = "sk-test"
model = "gpt-4o-mini"

[[projects]]
name = "widgets"
repo_dir = "/repos/widgets"
worktrees_dir = "/repos/widgets/.worktrees"
issues_dir = "/repos/widgets/.issues"
command = "claude"
args = ["--print"]
backend = "interactive"
cap = 2
poll_seconds = 15
remote = "origin"
strategy = "prepare-pull-request"

[[projects.rules]]
tool = "shell"
action = "deny"
input = "rm -rf"
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "murmur.toml")
	if err := os.WriteFile(path, []byte(sampleTOML), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestLoadParsesProjectsAndRules(t *testing.T) {
	f, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Socket != "murmur.sock" {
		t.Fatalf("unexpected socket: %q", f.Socket)
	}
	if f.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected llm model: %q", f.LLM.Model)
	}
	if len(f.Projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(f.Projects))
	}

	p := f.Projects[0]
	if p.Name != "widgets" || p.Cap != 2 {
		t.Fatalf("unexpected project: %+v", p)
	}
	if len(p.Rules) != 1 || p.Rules[0].Tool != "shell" {
		t.Fatalf("unexpected rules: %+v", p.Rules)
	}
}

func TestLoadDefaultsSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murmur.toml")
	if err := os.WriteFile(path, []byte("[[projects]]\nname = \"bare\"\nrepo_dir = \"/repos/bare\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Socket != "murmur.sock" {
		t.Fatalf("expected default socket, got %q", f.Socket)
	}
}

func TestLoadParsesNotifyAndStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murmur.toml")
	body := "[notify]\nslack_webhook_url = \"https://hooks.slack.example/x\"\n\n[store]\ndriver = \"postgres\"\ndsn = \"postgres://x\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Notify.SlackWebhookURL != "https://hooks.slack.example/x" {
		t.Fatalf("unexpected slack webhook: %q", f.Notify.SlackWebhookURL)
	}
	if f.Store.Driver != "postgres" || f.Store.DSN != "postgres://x" {
		t.Fatalf("unexpected store config: %+v", f.Store)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/no/such/murmur.toml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestProjectConfigBackendAndStrategy(t *testing.T) {
	p := ProjectConfig{BackendName: "interactive", StrategyName: "prepare-pull-request"}
	if p.Backend() != agentrt.BackendInteractive {
		t.Fatalf("expected interactive backend, got %v", p.Backend())
	}
	if p.Strategy() != mergepipe.StrategyPreparePullRequest {
		t.Fatalf("expected prepare-pull-request strategy, got %v", p.Strategy())
	}

	def := ProjectConfig{}
	if def.Backend() != agentrt.BackendPerTurn {
		t.Fatalf("expected per-turn default, got %v", def.Backend())
	}
	if def.Strategy() != mergepipe.StrategyDirect {
		t.Fatalf("expected direct default, got %v", def.Strategy())
	}
}

func TestProjectConfigPollIntervalAndRules(t *testing.T) {
	p := ProjectConfig{PollSeconds: 15}
	if p.PollInterval().Seconds() != 15 {
		t.Fatalf("unexpected poll interval: %v", p.PollInterval())
	}
	if (ProjectConfig{}).PollInterval() != 0 {
		t.Fatal("expected zero poll interval when unset")
	}

	p = ProjectConfig{Rules: []RuleConfig{
		{Tool: "shell", Action: "deny", Input: "rm -rf"},
		{Tool: "git", Action: "allow", Input: "status"},
	}}
	rules := p.PermissionRules()
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Action != permission.Deny || rules[1].Action != permission.Allow {
		t.Fatalf("unexpected rule actions: %+v", rules)
	}
}

func TestProjectConfigUsesLLMDecider(t *testing.T) {
	if (ProjectConfig{}).UsesLLMDecider() {
		t.Fatal("expected rules-then-human by default")
	}
	if (ProjectConfig{PermissionMode: "rules-llm"}).UsesLLMDecider() != true {
		t.Fatal("expected rules-llm mode to opt into the LLM decider")
	}
}

func TestUpsertProjectCreatesFileAndAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murmur.toml")

	if err := UpsertProject(path, ProjectConfig{Name: "widgets", RepoDir: "/repos/widgets", Cap: 1}); err != nil {
		t.Fatalf("UpsertProject (new file): %v", err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Projects) != 1 || f.Projects[0].Name != "widgets" {
		t.Fatalf("expected widgets registered, got %+v", f.Projects)
	}

	if err := UpsertProject(path, ProjectConfig{Name: "gadgets", RepoDir: "/repos/gadgets", Cap: 2}); err != nil {
		t.Fatalf("UpsertProject (append): %v", err)
	}
	f, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(f.Projects))
	}
}

func TestUpsertProjectReplacesExisting(t *testing.T) {
	path := writeSample(t)

	if err := UpsertProject(path, ProjectConfig{Name: "widgets", RepoDir: "/repos/widgets", Cap: 9}); err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Projects) != 1 || f.Projects[0].Cap != 9 {
		t.Fatalf("expected cap updated in place, got %+v", f.Projects)
	}
}

func TestRemoveProject(t *testing.T) {
	path := writeSample(t)

	if err := RemoveProject(path, "widgets"); err != nil {
		t.Fatalf("RemoveProject: %v", err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Projects) != 0 {
		t.Fatalf("expected no projects left, got %+v", f.Projects)
	}
}

func TestRemoveProjectUnknownName(t *testing.T) {
	path := writeSample(t)
	if err := RemoveProject(path, "nonexistent"); err == nil {
		t.Fatal("expected error removing an unregistered project")
	}
}
