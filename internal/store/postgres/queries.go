package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/karan-zipline/murmur/internal/agentrt"
	"github.com/karan-zipline/murmur/internal/mergepipe"
)

// AppendCommit durably records one merge pipeline commit.
func (s *Store) AppendCommit(ctx context.Context, e mergepipe.CommitLogEntry) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO commit_log(project, agent_id, issue, sha, ts) VALUES($1, $2, $3, $4, $5)`,
		e.Project, e.AgentID, e.Issue, e.SHA, e.Timestamp.Unix())
	return err
}

// RecentCommits returns up to n commits for project, newest last.
func (s *Store) RecentCommits(ctx context.Context, project string, n int) ([]mergepipe.CommitLogEntry, error) {
	if n <= 0 {
		n = 200
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT project, agent_id, issue, sha, ts FROM commit_log WHERE project = $1 ORDER BY id DESC LIMIT $2`,
		project, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mergepipe.CommitLogEntry
	for rows.Next() {
		var e mergepipe.CommitLogEntry
		var ts int64
		if err := rows.Scan(&e.Project, &e.AgentID, &e.Issue, &e.SHA, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SaveAgentSnapshot upserts the last known state of a running agent.
func (s *Store) SaveAgentSnapshot(ctx context.Context, rec agentrt.Record) error {
	_, err := s.Pool.Exec(ctx, `
INSERT INTO agent_snapshots(agent_id, project, role, claimed_issue, state, worktree_path, branch_name, label, spawned_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT(agent_id) DO UPDATE SET
  project=excluded.project, role=excluded.role, claimed_issue=excluded.claimed_issue,
  state=excluded.state, worktree_path=excluded.worktree_path, branch_name=excluded.branch_name,
  label=excluded.label, spawned_at=excluded.spawned_at`,
		rec.ID, rec.Project, string(rec.Role), nullable(rec.ClaimedIssue), string(rec.State),
		nullable(rec.WorktreePath), nullable(rec.BranchName), nullable(rec.Label), rec.SpawnedAt.Unix())
	return err
}

// DeleteAgentSnapshot removes an agent's snapshot once it terminates.
func (s *Store) DeleteAgentSnapshot(ctx context.Context, agentID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM agent_snapshots WHERE agent_id = $1`, agentID)
	return err
}

// ListAgentSnapshots returns the last known snapshots, optionally filtered to one project.
func (s *Store) ListAgentSnapshots(ctx context.Context, project string) ([]agentrt.Record, error) {
	query := `SELECT agent_id, project, role, claimed_issue, state, worktree_path, branch_name, label, spawned_at FROM agent_snapshots`
	var rows pgx.Rows
	var err error
	if project != "" {
		rows, err = s.Pool.Query(ctx, query+` WHERE project = $1 ORDER BY spawned_at ASC`, project)
	} else {
		rows, err = s.Pool.Query(ctx, query+` ORDER BY spawned_at ASC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []agentrt.Record
	for rows.Next() {
		var rec agentrt.Record
		var role, state string
		var claimedIssue, worktreePath, branchName, label *string
		var spawnedAt int64
		if err := rows.Scan(&rec.ID, &rec.Project, &role, &claimedIssue, &state, &worktreePath, &branchName, &label, &spawnedAt); err != nil {
			return nil, err
		}
		rec.Role = agentrt.Role(role)
		rec.State = agentrt.State(state)
		rec.ClaimedIssue = deref(claimedIssue)
		rec.WorktreePath = deref(worktreePath)
		rec.BranchName = deref(branchName)
		rec.Label = deref(label)
		rec.SpawnedAt = time.Unix(spawnedAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
