package store

import (
	"context"

	"github.com/karan-zipline/murmur/internal/agentrt"
	"github.com/karan-zipline/murmur/internal/mergepipe"
)

// Store is the durable-persistence interface backing the commit log and
// agent snapshot table (advisory rehydration across daemon restarts).
// Implementations: sqlite.Store (default) and postgres.Store.
type Store interface {
	// AppendCommit durably records one merge pipeline commit, mirroring
	// what mergepipe.Ring keeps in memory.
	AppendCommit(ctx context.Context, e mergepipe.CommitLogEntry) error

	// RecentCommits returns up to n commits for project, newest last, used
	// to rehydrate mergepipe.Ring at startup.
	RecentCommits(ctx context.Context, project string, n int) ([]mergepipe.CommitLogEntry, error)

	// SaveAgentSnapshot upserts the last known state of a running agent.
	// Called on state transitions so a restart can report which agents
	// were in flight; the process itself is not resumed.
	SaveAgentSnapshot(ctx context.Context, rec agentrt.Record) error

	// DeleteAgentSnapshot removes an agent's snapshot once it terminates.
	DeleteAgentSnapshot(ctx context.Context, agentID string) error

	// ListAgentSnapshots returns the last known snapshots, optionally
	// filtered to one project. Advisory only: a snapshot with State
	// Running after a restart means the agent died with the daemon.
	ListAgentSnapshots(ctx context.Context, project string) ([]agentrt.Record, error)

	Close() error
}
