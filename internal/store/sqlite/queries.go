package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/karan-zipline/murmur/internal/agentrt"
	"github.com/karan-zipline/murmur/internal/mergepipe"
)

// AppendCommit durably records one merge pipeline commit.
func (s *Store) AppendCommit(ctx context.Context, e mergepipe.CommitLogEntry) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO commit_log(project, agent_id, issue, sha, ts) VALUES(?, ?, ?, ?, ?)`,
		e.Project, e.AgentID, e.Issue, e.SHA, e.Timestamp.Unix())
	return err
}

// RecentCommits returns up to n commits for project, newest last.
func (s *Store) RecentCommits(ctx context.Context, project string, n int) ([]mergepipe.CommitLogEntry, error) {
	if n <= 0 {
		n = 200
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT project, agent_id, issue, sha, ts FROM commit_log WHERE project = ? ORDER BY id DESC LIMIT ?`,
		project, n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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
	// reverse to oldest-first, matching mergepipe.Ring.Recent's ordering
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SaveAgentSnapshot upserts the last known state of a running agent.
func (s *Store) SaveAgentSnapshot(ctx context.Context, rec agentrt.Record) error {
	var claimedIssue, worktreePath, branchName, label sql.NullString
	if rec.ClaimedIssue != "" {
		claimedIssue = sql.NullString{String: rec.ClaimedIssue, Valid: true}
	}
	if rec.WorktreePath != "" {
		worktreePath = sql.NullString{String: rec.WorktreePath, Valid: true}
	}
	if rec.BranchName != "" {
		branchName = sql.NullString{String: rec.BranchName, Valid: true}
	}
	if rec.Label != "" {
		label = sql.NullString{String: rec.Label, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO agent_snapshots(agent_id, project, role, claimed_issue, state, worktree_path, branch_name, label, spawned_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(agent_id) DO UPDATE SET
  project=excluded.project, role=excluded.role, claimed_issue=excluded.claimed_issue,
  state=excluded.state, worktree_path=excluded.worktree_path, branch_name=excluded.branch_name,
  label=excluded.label, spawned_at=excluded.spawned_at`,
		rec.ID, rec.Project, string(rec.Role), claimedIssue, string(rec.State), worktreePath, branchName, label, rec.SpawnedAt.Unix())
	return err
}

// DeleteAgentSnapshot removes an agent's snapshot once it terminates.
func (s *Store) DeleteAgentSnapshot(ctx context.Context, agentID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM agent_snapshots WHERE agent_id = ?`, agentID)
	return err
}

// ListAgentSnapshots returns the last known snapshots, optionally filtered to one project.
func (s *Store) ListAgentSnapshots(ctx context.Context, project string) ([]agentrt.Record, error) {
	query := `SELECT agent_id, project, role, claimed_issue, state, worktree_path, branch_name, label, spawned_at FROM agent_snapshots`
	args := []any{}
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY spawned_at ASC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []agentrt.Record
	for rows.Next() {
		var rec agentrt.Record
		var role, state string
		var claimedIssue, worktreePath, branchName, label sql.NullString
		var spawnedAt int64
		if err := rows.Scan(&rec.ID, &rec.Project, &role, &claimedIssue, &state, &worktreePath, &branchName, &label, &spawnedAt); err != nil {
			return nil, err
		}
		rec.Role = agentrt.Role(role)
		rec.State = agentrt.State(state)
		rec.ClaimedIssue = claimedIssue.String
		rec.WorktreePath = worktreePath.String
		rec.BranchName = branchName.String
		rec.Label = label.String
		rec.SpawnedAt = time.Unix(spawnedAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
