// Package config parses the TOML project-list configuration file and
// resolves the murmur home directory, in the teacher's context-carried
// home-dir idiom (home.go).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/karan-zipline/murmur/internal/agentrt"
	"github.com/karan-zipline/murmur/internal/mergepipe"
	"github.com/karan-zipline/murmur/internal/permission"
)

// File is the top-level shape of murmur.toml.
type File struct {
	Socket   string          `toml:"socket"`
	Store    StoreConfig     `toml:"store"`
	LLM      LLMConfig       `toml:"llm"`
	Notify   NotifyConfig    `toml:"notify"`
	Projects []ProjectConfig `toml:"projects"`
}

// NotifyConfig configures optional operator-facing push notifications for
// events like an agent hitting needs-resolution.
type NotifyConfig struct {
	SlackWebhookURL string `toml:"slack_webhook_url"`
}

// StoreConfig selects the persistence backend for the commit log and
// agent snapshot table.
type StoreConfig struct {
	Driver string `toml:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `toml:"dsn"`    // postgres connection string, or DATABASE_URL env if empty
}

// LLMConfig configures the optional LLM-backed policy decider.
type LLMConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// ProjectConfig is one [[projects]] table.
type ProjectConfig struct {
	Name         string       `toml:"name"`
	RepoDir      string       `toml:"repo_dir"`
	WorktreesDir string       `toml:"worktrees_dir"`
	IssuesDir    string       `toml:"issues_dir"` // markdown backend directory; empty disables it
	Command      string       `toml:"command"`
	Args         []string     `toml:"args"`
	BackendName  string       `toml:"backend"` // "interactive" or "per-turn"
	Cap          int          `toml:"cap"`
	PollSeconds  int          `toml:"poll_seconds"`
	Remote       string       `toml:"remote"`
	StrategyName string       `toml:"strategy"` // "direct" or "prepare-pull-request"
	Rules        []RuleConfig `toml:"rules"`
	// PermissionMode selects what happens when the Permission Evaluator's
	// rules leave a tool call undecided: "rules" (default) escalates
	// straight to a human, "rules-llm" additionally lets the configured
	// LLM decider rule on it before falling back to a human.
	PermissionMode string `toml:"permission_mode"`
}

// RuleConfig is one [[projects.rules]] table.
type RuleConfig struct {
	Tool   string `toml:"tool"`
	Action string `toml:"action"` // "allow" or "deny"
	Input  string `toml:"input"`
}

// Load decodes a murmur.toml file.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if f.Socket == "" {
		f.Socket = "murmur.sock"
	}
	return &f, nil
}

// loadOrEmpty decodes path, or returns a bare default File if it does not
// exist yet (the daemon's project.add can register the very first project
// before any murmur.toml has been written).
func loadOrEmpty(path string) (*File, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return &File{Socket: "murmur.sock"}, nil
	}
	return Load(path)
}

func writeFile(path string, f *File) error {
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(out).Encode(f); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// UpsertProject persists pc into murmur.toml at path, replacing any
// existing project of the same name, atomically (write-tmp, rename). This
// is the only supported way to durably register a project — the Supervisor
// is still the sole thing that mutates the live project map; this just
// keeps a future daemon restart in sync with what the Supervisor already
// holds in memory.
func UpsertProject(path string, pc ProjectConfig) error {
	f, err := loadOrEmpty(path)
	if err != nil {
		return err
	}
	for i, existing := range f.Projects {
		if existing.Name == pc.Name {
			f.Projects[i] = pc
			return writeFile(path, f)
		}
	}
	f.Projects = append(f.Projects, pc)
	return writeFile(path, f)
}

// RemoveProject deletes the named project from murmur.toml at path.
// Returns an error if no such project is registered.
func RemoveProject(path, name string) error {
	f, err := loadOrEmpty(path)
	if err != nil {
		return err
	}
	out := f.Projects[:0]
	found := false
	for _, p := range f.Projects {
		if p.Name == name {
			found = true
			continue
		}
		out = append(out, p)
	}
	if !found {
		return fmt.Errorf("no such project %q", name)
	}
	f.Projects = out
	return writeFile(path, f)
}

// Backend resolves the toml backend string to its agentrt.Backend, per
// project (empty/unrecognised defaults to per-turn).
func (p ProjectConfig) Backend() agentrt.Backend {
	if p.BackendName == string(agentrt.BackendInteractive) {
		return agentrt.BackendInteractive
	}
	return agentrt.BackendPerTurn
}

// Strategy resolves the toml strategy string to its mergepipe.Strategy.
func (p ProjectConfig) Strategy() mergepipe.Strategy {
	if p.StrategyName == string(mergepipe.StrategyPreparePullRequest) {
		return mergepipe.StrategyPreparePullRequest
	}
	return mergepipe.StrategyDirect
}

// UsesLLMDecider reports whether an undecided rule verdict should also be
// offered to the project's LLM decider before escalating to a human.
func (p ProjectConfig) UsesLLMDecider() bool {
	return p.PermissionMode == "rules-llm"
}

// PollInterval resolves PollSeconds to a duration (0 means use the
// orchestrator's own default).
func (p ProjectConfig) PollInterval() time.Duration {
	if p.PollSeconds <= 0 {
		return 0
	}
	return time.Duration(p.PollSeconds) * time.Second
}

// PermissionRules resolves the toml rule list to permission.Rule values.
func (p ProjectConfig) PermissionRules() []permission.Rule {
	out := make([]permission.Rule, 0, len(p.Rules))
	for _, r := range p.Rules {
		action := permission.Deny
		if r.Action == string(permission.Allow) {
			action = permission.Allow
		}
		out = append(out, permission.Rule{ToolPattern: r.Tool, Action: action, InputPattern: r.Input})
	}
	return out
}
