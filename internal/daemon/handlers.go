package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/karan-zipline/murmur/internal/agentrt"
	"github.com/karan-zipline/murmur/internal/broker"
	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/issuebackend"
	"github.com/karan-zipline/murmur/internal/supervisor"
	"github.com/karan-zipline/murmur/internal/transport"
)

// registerHandlers wires the control-plane RPC surface the CLI and the
// hook helper binary call into, on top of a running Supervisor.
// configPath is used to keep murmur.toml in sync with project.add/.remove,
// since the Supervisor's in-memory project map is otherwise the only
// record of what's registered. shutdown is closed by server.shutdown to
// unblock StartForeground's wait loop.
func registerHandlers(srv *transport.Server, sup *supervisor.Supervisor, configPath string, shutdown chan struct{}) {
	srv.Handle("stats", func(ctx context.Context, params json.RawMessage) (any, error) {
		return sup.Stats(), nil
	})

	srv.Handle("server.ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("server.shutdown", func(ctx context.Context, params json.RawMessage) (any, error) {
		close(shutdown)
		return map[string]bool{"ok": true}, nil
	})

	registerProjectHandlers(srv, sup, configPath)
	registerAgentHandlers(srv, sup)
	registerIssueHandlers(srv, sup)
	registerApprovalHandlers(srv, sup)
	registerRoleAgentHandlers(srv, sup)

	srv.Handle("orchestrate.start", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.StartOrchestration(ctx, req.Project); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("orchestrate.stop", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		sup.StopOrchestration(req.Project)
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("commit.list", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			N       int    `json:"n"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if req.N <= 0 {
			req.N = 20
		}
		return sup.CommitLog(req.Project, req.N), nil
	})

	srv.Handle("claim.list", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.Claims.List(req.Project), nil
	})
}

// registerProjectHandlers covers project.{add,remove,list,status,config.*}.
// Registration durably updates murmur.toml (via config.UpsertProject) in
// addition to the Supervisor's live map, so a daemon restart comes back up
// with whatever is registered right now — but the Supervisor, not the
// config file, stays the source of truth while the daemon is running.
func registerProjectHandlers(srv *transport.Server, sup *supervisor.Supervisor, configPath string) {
	srv.Handle("project.list", func(ctx context.Context, params json.RawMessage) (any, error) {
		return sup.ListProjects(), nil
	})

	srv.Handle("project.add", func(ctx context.Context, params json.RawMessage) (any, error) {
		var pc config.ProjectConfig
		if err := json.Unmarshal(params, &pc); err != nil {
			return nil, err
		}
		if pc.Name == "" || pc.RepoDir == "" {
			return nil, fmt.Errorf("name and repo_dir are required")
		}
		if err := registerProject(ctx, sup, pc); err != nil {
			return nil, err
		}
		if err := config.UpsertProject(configPath, pc); err != nil {
			return nil, fmt.Errorf("persist project: %w", err)
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("project.remove", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Name            string `json:"name"`
			DeleteWorktrees bool   `json:"delete_worktrees"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.RemoveProject(req.Name, req.DeleteWorktrees); err != nil {
			return nil, err
		}
		if err := config.RemoveProject(configPath, req.Name); err != nil {
			return nil, fmt.Errorf("persist removal: %w", err)
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("project.status", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		for _, p := range sup.ListProjects() {
			if p.Name == req.Project {
				return map[string]any{
					"project": p,
					"agents":  sup.ListAgents(req.Project),
				}, nil
			}
		}
		return nil, fmt.Errorf("unknown project %q", req.Project)
	})

	srv.Handle("project.config.show", func(ctx context.Context, params json.RawMessage) (any, error) {
		f, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return f, nil
	})

	srv.Handle("project.config.get", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			Key     string `json:"key"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		f, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		for _, pc := range f.Projects {
			if pc.Name == req.Project {
				return configField(pc, req.Key)
			}
		}
		return nil, fmt.Errorf("unknown project %q", req.Project)
	})

	srv.Handle("project.config.set", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			Key     string `json:"key"`
			Value   string `json:"value"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		f, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		var found *config.ProjectConfig
		for i := range f.Projects {
			if f.Projects[i].Name == req.Project {
				found = &f.Projects[i]
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("unknown project %q", req.Project)
		}
		if err := setConfigField(found, req.Key, req.Value); err != nil {
			return nil, err
		}
		if err := config.UpsertProject(configPath, *found); err != nil {
			return nil, err
		}
		if err := registerProject(ctx, sup, *found); err != nil {
			return nil, fmt.Errorf("reload project: %w", err)
		}
		return map[string]bool{"ok": true}, nil
	})
}

// configField and setConfigField cover the handful of fields an operator
// can reasonably inspect or flip live, rather than round-tripping the
// whole ProjectConfig through a generic reflection path.
func configField(pc config.ProjectConfig, key string) (any, error) {
	switch key {
	case "cap":
		return pc.Cap, nil
	case "backend":
		return pc.BackendName, nil
	case "strategy":
		return pc.StrategyName, nil
	case "permission_mode":
		return pc.PermissionMode, nil
	case "poll_seconds":
		return pc.PollSeconds, nil
	default:
		return nil, fmt.Errorf("unknown config key %q", key)
	}
}

func setConfigField(pc *config.ProjectConfig, key, value string) error {
	switch key {
	case "cap":
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
			return fmt.Errorf("cap must be an integer: %w", err)
		}
		pc.Cap = n
	case "backend":
		pc.BackendName = value
	case "strategy":
		pc.StrategyName = value
	case "permission_mode":
		pc.PermissionMode = value
	case "poll_seconds":
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
			return fmt.Errorf("poll_seconds must be an integer: %w", err)
		}
		pc.PollSeconds = n
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func registerAgentHandlers(srv *transport.Server, sup *supervisor.Supervisor) {
	srv.Handle("agent.list", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.ListAgents(req.Project), nil
	})

	srv.Handle("agent.abort", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			AgentID string `json:"agent_id"`
			Force   bool   `json:"force"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.AbortAgent(req.AgentID, req.Force); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("agent.send_message", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			AgentID string `json:"agent_id"`
			Text    string `json:"text"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.SendMessage(req.AgentID, req.Text); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("agent.chat_history", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			AgentID string `json:"agent_id"`
			Limit   int    `json:"limit"`
			Offset  int    `json:"offset"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.ChatHistory(req.AgentID, req.Limit, req.Offset)
	})

	srv.Handle("agent.describe", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			AgentID string `json:"agent_id"`
			Label   string `json:"label"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.DescribeAgent(req.AgentID, req.Label); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("agent.done", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.MarkAgentDone(req.AgentID); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("agent.claim", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			IssueID string `json:"issue_id"`
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.ClaimAgent(ctx, req.Project, req.IssueID, req.AgentID); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})
}

// registerIssueHandlers exposes the issuebackend.Backend operations
// project.add wires up via a markdown ticket directory. plan and commit,
// named by the external surface but absent from issuebackend.Backend, are
// not registered here — see DESIGN.md.
func registerIssueHandlers(srv *transport.Server, sup *supervisor.Supervisor) {
	srv.Handle("issue.list", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.ListIssues(ctx, req.Project)
	})

	srv.Handle("issue.ready", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.ReadyIssues(ctx, req.Project)
	})

	srv.Handle("issue.get", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			IssueID string `json:"issue_id"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.GetIssue(ctx, req.Project, req.IssueID)
	})

	srv.Handle("issue.create", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string            `json:"project"`
			Issue   issuebackend.Issue `json:"issue"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.CreateIssue(ctx, req.Project, req.Issue)
	})

	srv.Handle("issue.update", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string            `json:"project"`
			Issue   issuebackend.Issue `json:"issue"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.UpdateIssue(ctx, req.Project, req.Issue); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("issue.close", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			IssueID string `json:"issue_id"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.CloseIssue(ctx, req.Project, req.IssueID); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("issue.comment", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			IssueID string `json:"issue_id"`
			Body    string `json:"body"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.CommentIssue(ctx, req.Project, req.IssueID, req.Body); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})
}

// registerApprovalHandlers lets an operator-facing CLI poll pending
// approvals/questions and reply to them from outside the hook path.
// Responses route through the Supervisor rather than the Broker directly,
// so a human reply also resets the orchestrator's intervention-gate clock.
func registerApprovalHandlers(srv *transport.Server, sup *supervisor.Supervisor) {
	srv.Handle("approval.list", func(ctx context.Context, params json.RawMessage) (any, error) {
		return sup.Broker.List(broker.KindApproval), nil
	})

	srv.Handle("approval.respond", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			CorrelationID string          `json:"correlation_id"`
			Decision      broker.Decision `json:"decision"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.RespondApproval(req.CorrelationID, req.Decision); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("question.list", func(ctx context.Context, params json.RawMessage) (any, error) {
		return sup.Broker.List(broker.KindQuestion), nil
	})

	srv.Handle("question.respond", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			CorrelationID string        `json:"correlation_id"`
			Answers       broker.Answer `json:"answers"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.RespondQuestion(req.CorrelationID, req.Answers); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	// permission.check and question.ask are the synchronous, blocking
	// calls the foreman-hook binary makes before a tool runs and when an
	// agent needs clarification; they return only once a Decider, a
	// human response, or the broker's deadline resolves them.
	srv.Handle("permission.check", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			AgentID string `json:"agent_id"`
			Tool    string `json:"tool"`
			Input   string `json:"input"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		decision, err := sup.CheckPermission(ctx, req.AgentID, req.Tool, req.Input)
		if err != nil {
			return nil, fmt.Errorf("check permission: %w", err)
		}
		return map[string]broker.Decision{"decision": decision}, nil
	})

	srv.Handle("question.ask", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			AgentID string            `json:"agent_id"`
			Prompts map[string]string `json:"prompts"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		answer, err := sup.AskQuestion(ctx, req.AgentID, req.Prompts)
		if err != nil {
			return nil, fmt.Errorf("ask question: %w", err)
		}
		return map[string]broker.Answer{"answers": answer}, nil
	})
}

// registerRoleAgentHandlers covers the director/manager/planner wrapper
// surface: manager.* with an empty project addresses the singleton
// director, manager.* with a project addresses that project's manager,
// and plan.* always addresses a project's planner.
func registerRoleAgentHandlers(srv *transport.Server, sup *supervisor.Supervisor) {
	managerRole := func(project string) agentrt.Role {
		if project == "" {
			return agentrt.RoleDirector
		}
		return agentrt.RoleManager
	}

	srv.Handle("manager.start", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string   `json:"project"`
			Command string   `json:"command"`
			Args    []string `json:"args"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.StartRoleAgent(ctx, managerRole(req.Project), req.Project, req.Command, req.Args)
	})

	srv.Handle("manager.stop", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			Force   bool   `json:"force"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.StopRoleAgent(managerRole(req.Project), req.Project, req.Force); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("manager.status", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.RoleAgentStatus(managerRole(req.Project), req.Project)
	})

	srv.Handle("manager.send_message", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			Text    string `json:"text"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.RoleAgentSend(managerRole(req.Project), req.Project, req.Text); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("manager.chat_history", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			Limit   int    `json:"limit"`
			Offset  int    `json:"offset"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.RoleAgentChat(managerRole(req.Project), req.Project, req.Limit, req.Offset)
	})

	srv.Handle("manager.clear_history", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.RoleAgentClearHistory(managerRole(req.Project), req.Project); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("plan.start", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string   `json:"project"`
			Command string   `json:"command"`
			Args    []string `json:"args"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.StartRoleAgent(ctx, agentrt.RolePlanner, req.Project, req.Command, req.Args)
	})

	srv.Handle("plan.stop", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			Force   bool   `json:"force"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.StopRoleAgent(agentrt.RolePlanner, req.Project, req.Force); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("plan.list", func(ctx context.Context, params json.RawMessage) (any, error) {
		return sup.ListRoleAgents(agentrt.RolePlanner), nil
	})

	srv.Handle("plan.send_message", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			Text    string `json:"text"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if err := sup.RoleAgentSend(agentrt.RolePlanner, req.Project, req.Text); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Handle("plan.chat_history", func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Project string `json:"project"`
			Limit   int    `json:"limit"`
			Offset  int    `json:"offset"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		return sup.RoleAgentChat(agentrt.RolePlanner, req.Project, req.Limit, req.Offset)
	})
}
