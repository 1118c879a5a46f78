package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/karan-zipline/murmur/internal/agentrt"
	"github.com/karan-zipline/murmur/internal/mergepipe"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenDSN("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_createsDBFile(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()
}

func TestAppendCommit_RecentCommits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e := mergepipe.CommitLogEntry{
			Project: "proj1", AgentID: "agent-1", Issue: "issue-1",
			SHA: "sha" + string(rune('a'+i)), Timestamp: now.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendCommit(ctx, e); err != nil {
			t.Fatalf("AppendCommit: %v", err)
		}
	}

	got, err := s.RecentCommits(ctx, "proj1", 10)
	if err != nil {
		t.Fatalf("RecentCommits: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("RecentCommits: got %d entries, want 3", len(got))
	}
	if got[len(got)-1].SHA != "shac" {
		t.Errorf("RecentCommits: last entry SHA = %q, want %q", got[len(got)-1].SHA, "shac")
	}
}

func TestRecentCommits_filtersByProject(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_ = s.AppendCommit(ctx, mergepipe.CommitLogEntry{Project: "a", SHA: "1", Timestamp: time.Now()})
	_ = s.AppendCommit(ctx, mergepipe.CommitLogEntry{Project: "b", SHA: "2", Timestamp: time.Now()})

	got, err := s.RecentCommits(ctx, "a", 10)
	if err != nil {
		t.Fatalf("RecentCommits: %v", err)
	}
	if len(got) != 1 || got[0].SHA != "1" {
		t.Fatalf("RecentCommits: got %v, want one entry with SHA 1", got)
	}
}

func TestSaveAgentSnapshot_ListAgentSnapshots_roundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := agentrt.Record{
		ID: "agent-1", Project: "proj1", Role: agentrt.RoleCoding,
		ClaimedIssue: "issue-1", State: agentrt.StateRunning,
		WorktreePath: "/tmp/wt", BranchName: "agents/agent-1",
		SpawnedAt: time.Now().Truncate(time.Second), Label: "fix bug",
	}
	if err := s.SaveAgentSnapshot(ctx, rec); err != nil {
		t.Fatalf("SaveAgentSnapshot: %v", err)
	}

	got, err := s.ListAgentSnapshots(ctx, "proj1")
	if err != nil {
		t.Fatalf("ListAgentSnapshots: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListAgentSnapshots: got %d, want 1", len(got))
	}
	if got[0].ID != rec.ID || got[0].BranchName != rec.BranchName {
		t.Errorf("ListAgentSnapshots: got %+v, want %+v", got[0], rec)
	}
}

func TestSaveAgentSnapshot_upserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := agentrt.Record{ID: "agent-1", Project: "proj1", Role: agentrt.RoleCoding, State: agentrt.StateRunning, SpawnedAt: time.Now()}
	_ = s.SaveAgentSnapshot(ctx, rec)
	rec.State = agentrt.StateExited
	if err := s.SaveAgentSnapshot(ctx, rec); err != nil {
		t.Fatalf("SaveAgentSnapshot update: %v", err)
	}

	got, err := s.ListAgentSnapshots(ctx, "")
	if err != nil {
		t.Fatalf("ListAgentSnapshots: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one row after upsert, got %d", len(got))
	}
	if got[0].State != agentrt.StateExited {
		t.Errorf("expected updated state, got %q", got[0].State)
	}
}

func TestDeleteAgentSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := agentrt.Record{ID: "agent-1", Project: "proj1", Role: agentrt.RoleCoding, State: agentrt.StateRunning, SpawnedAt: time.Now()}
	_ = s.SaveAgentSnapshot(ctx, rec)

	if err := s.DeleteAgentSnapshot(ctx, "agent-1"); err != nil {
		t.Fatalf("DeleteAgentSnapshot: %v", err)
	}
	got, err := s.ListAgentSnapshots(ctx, "")
	if err != nil {
		t.Fatalf("ListAgentSnapshots: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no snapshots after delete, got %d", len(got))
	}
}
