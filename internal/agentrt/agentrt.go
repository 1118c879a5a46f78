// Package agentrt implements the Agent Runtime (C6): ownership of one
// supervised child process, its stdio tasks, its chat buffer, its outbound
// message channel, and its cancellation/liveness tracking.
package agentrt

import (
	"time"

	"github.com/karan-zipline/murmur/internal/chatbuffer"
)

// Role is the closed set of agent roles.
type Role string

const (
	RoleCoding   Role = "coding"
	RolePlanner  Role = "planner"
	RoleManager  Role = "manager"
	RoleDirector Role = "director"
)

// State is the agent's closed state-machine enumeration.
type State string

const (
	StateStarting        State = "Starting"
	StateRunning          State = "Running"
	StateIdle             State = "Idle"
	StateNeedsResolution  State = "NeedsResolution"
	StateExited           State = "Exited"
	StateAborted          State = "Aborted"
)

// IsTerminal reports whether s is one of the three terminal states.
func (s State) IsTerminal() bool {
	switch s {
	case StateExited, StateAborted, StateNeedsResolution:
		return true
	}
	return false
}

// Backend selects the dialect and process-spawn shape for an agent.
type Backend string

const (
	BackendInteractive Backend = "interactive" // one long-lived child
	BackendPerTurn     Backend = "per-turn"    // one child per turn, resumed via a thread token
)

// Record is the supervisor-visible, read-only snapshot of an agent. It is
// what gets persisted to the snapshot file and what IPC responses report;
// the live Runtime is never exposed outside internal/agentrt and
// internal/supervisor.
type Record struct {
	ID           string
	Project      string
	Role         Role
	ClaimedIssue string // optional
	State        State
	WorktreePath string
	BranchName   string
	ResumeToken  string // optional, per-turn backends only
	SpawnedAt    time.Time
	ExitCode     *int
	Label        string // human-readable, set via Describe
}

// EventKind is the closed set of supervisor-visible events a Runtime emits
// to its owner (beyond raw chat entries, which land in the Chat Buffer).
type EventKind string

const (
	EventIdle            EventKind = "idle"
	EventThreadToken     EventKind = "thread"
	EventStreamError     EventKind = "stream_error"
	EventToolInvocation  EventKind = "tool_invocation"
	EventToolResult      EventKind = "tool_result"
	EventStateChanged    EventKind = "state_changed"
)

// Event is emitted by a Runtime to its EventSink.
type Event struct {
	AgentID      string
	Kind         EventKind
	Reason       string
	Token        string
	Detail       string
	Tool         string
	InputSummary string
	Summary      string
	OK           bool
	State        State
}

// ChatSnapshot lets callers read an agent's chat history without reaching
// into the runtime internals.
type ChatSnapshot interface {
	Chat(limit, offset int) []chatbuffer.Entry
}
