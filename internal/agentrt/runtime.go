package agentrt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/karan-zipline/murmur/internal/chatbuffer"
	"github.com/karan-zipline/murmur/internal/sandbox"
	"github.com/karan-zipline/murmur/internal/streamnorm"
)

const (
	defaultChatCapacity = 1000
	gracefulTimeout     = 5 * time.Second
)

// Spawn describes how to start one agent's child process.
type Spawn struct {
	AgentID      string
	Project      string
	Role         Role
	Backend      Backend
	Command      string
	Args         []string
	WorkDir      string
	WorktreePath string
	BranchName   string
	Env          map[string]string
	ChatCap      int

	// Home, if set, sandboxes the child process under bubblewrap (Linux
	// only): Home is mounted read-only and WorktreePath read-write, so the
	// agent cannot touch the daemon's protected state or other agents'
	// worktrees even if it tries. Empty disables sandboxing.
	Home string
}

// outboundMsg is one message enqueued on the writer channel.
type outboundMsg struct {
	text string
}

// Runtime owns one child process and its three supervision tasks (reader,
// writer, waiter), per C6. For a per-turn backend, cmd/stdin/cancelCurrent
// are replaced under mu once per turn as writeLoop spawns a fresh child;
// for an interactive backend they are set once, in New, and never change.
type Runtime struct {
	spawn Spawn
	sink  func(Event)

	mu             sync.Mutex
	state          State
	label          string
	resumeToken    string
	lastIdleReason string
	exitCode       *int
	cancelCurrent  context.CancelFunc
	cmd            *exec.Cmd
	stdin          io.WriteCloser

	chat *chatbuffer.Buffer

	outbound chan outboundMsg
	done     chan struct{}
	doneOnce sync.Once
	norm     *streamnorm.Normalizer
}

// New starts the child process described by s and launches its reader,
// writer, and waiter tasks. sink receives supervisor-level events; it must
// not block for long (the caller should hand off to a buffered channel).
func New(ctx context.Context, s Spawn, sink func(Event)) (*Runtime, error) {
	if s.ChatCap <= 0 {
		s.ChatCap = defaultChatCapacity
	}
	runCtx, cancel := context.WithCancel(ctx)

	r := &Runtime{
		spawn:         s,
		sink:          sink,
		state:         StateStarting,
		chat:          chatbuffer.New(s.ChatCap),
		outbound:      make(chan outboundMsg, 16),
		cancelCurrent: cancel,
		done:          make(chan struct{}),
	}
	if s.Backend == BackendInteractive {
		r.norm = streamnorm.New(streamnorm.InteractiveDialect{}, streamnorm.PerTurnDialect{})
	} else {
		r.norm = streamnorm.New(streamnorm.PerTurnDialect{}, streamnorm.InteractiveDialect{})
	}

	cmd := sandbox.WrapCommand(runCtx, s.Home, s.WorktreePath, s.Command, s.Args)
	cmd.Dir = s.WorkDir
	cmd.Env = buildEnv(s)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent %s: stdin pipe: %w", s.AgentID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent %s: stdout pipe: %w", s.AgentID, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("agent %s: spawn: %w", s.AgentID, err)
	}
	r.cmd = cmd
	r.stdin = stdin
	r.setState(StateRunning)

	go r.readLoop(stdout)
	go r.writeLoop()
	go r.waitLoop()

	return r, nil
}

func buildEnv(s Spawn) []string {
	env := []string{
		"MURMUR_AGENT_ID=" + s.AgentID,
		"MURMUR_PROJECT=" + s.Project,
		"MURMUR_ROLE=" + string(s.Role),
	}
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.emit(Event{AgentID: r.spawn.AgentID, Kind: EventStateChanged, State: s})
}

func (r *Runtime) emit(ev Event) {
	if r.sink != nil {
		r.sink(ev)
	}
}

// readLoop is the Reader task: drains stdout through the stream
// normaliser, appends chat entries, and correlates canonical events to
// supervisor-level signals.
func (r *Runtime) readLoop(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		chunk := append(append([]byte(nil), sc.Bytes()...), '\n')
		for _, ev := range r.norm.Feed(chunk) {
			r.handleNormalized(ev)
		}
	}
}

func (r *Runtime) handleNormalized(ev streamnorm.Event) {
	now := time.Now().UTC().UnixMilli()
	switch ev.Kind {
	case streamnorm.KindAssistantText:
		r.chat.Append(chatbuffer.Entry{Role: chatbuffer.RoleAssistant, Content: ev.Content, Timestamp: now})
	case streamnorm.KindToolInvocation:
		r.chat.Append(chatbuffer.Entry{Role: chatbuffer.RoleToolInvoke, Content: ev.Tool + " " + ev.InputSummary, Timestamp: now})
		r.emit(Event{AgentID: r.spawn.AgentID, Kind: EventToolInvocation, Tool: ev.Tool, InputSummary: ev.InputSummary})
	case streamnorm.KindToolResult:
		r.chat.Append(chatbuffer.Entry{Role: chatbuffer.RoleToolResult, Content: ev.Summary, Timestamp: now})
		r.emit(Event{AgentID: r.spawn.AgentID, Kind: EventToolResult, Tool: ev.Tool, Summary: ev.Summary, OK: ev.OK})
	case streamnorm.KindThread:
		r.mu.Lock()
		r.resumeToken = ev.Token
		r.mu.Unlock()
		r.emit(Event{AgentID: r.spawn.AgentID, Kind: EventThreadToken, Token: ev.Token})
	case streamnorm.KindIdle:
		r.mu.Lock()
		r.lastIdleReason = ev.Reason
		r.mu.Unlock()
		r.setState(StateIdle)
		r.emit(Event{AgentID: r.spawn.AgentID, Kind: EventIdle, Reason: ev.Reason})
	case streamnorm.KindError:
		r.emit(Event{AgentID: r.spawn.AgentID, Kind: EventStreamError, Detail: ev.Detail})
	}
}

// writeLoop is the Writer task: consumes the outbound channel. An
// interactive backend's one long-lived child is fed one JSON line per
// message on its stdin. A per-turn backend has no persistent child to
// write to by the time a second message arrives — its writer spawns a
// fresh child per turn instead, passing the resume token the previous
// turn's stream reported.
func (r *Runtime) writeLoop() {
	for msg := range r.outbound {
		if r.spawn.Backend == BackendPerTurn {
			r.spawnTurn(msg.text)
			continue
		}
		line, err := json.Marshal(map[string]string{"type": "user_message", "content": msg.text})
		if err != nil {
			continue
		}
		if _, err := r.stdin.Write(append(line, '\n')); err != nil {
			slog.Warn("agent stdin write failed", "agent", r.spawn.AgentID, "err", err)
			return
		}
	}
}

// resumeArgs builds the CLI flags a per-turn backend's child needs to pick
// a prior conversation back up. Empty token means this is the very first
// turn, already handled by New's own Spawn.Args.
func resumeArgs(token string) []string {
	if token == "" {
		return nil
	}
	return []string{"--resume", token}
}

// spawnTurn starts a fresh child for one per-turn message, replacing the
// Runtime's current cmd/stdin, and blocks until that child exits — the
// writer only ever processes one turn at a time, mirroring the one
// request-per-process shape a per-turn backend's CLI expects.
func (r *Runtime) spawnTurn(text string) {
	r.mu.Lock()
	token := r.resumeToken
	r.mu.Unlock()

	args := append(append([]string(nil), r.spawn.Args...), resumeArgs(token)...)
	runCtx, cancel := context.WithCancel(context.Background())
	cmd := sandbox.WrapCommand(runCtx, r.spawn.Home, r.spawn.WorktreePath, r.spawn.Command, args)
	cmd.Dir = r.spawn.WorkDir
	cmd.Env = buildEnv(r.spawn)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		slog.Warn("agent per-turn stdin pipe failed", "agent", r.spawn.AgentID, "err", err)
		cancel()
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		slog.Warn("agent per-turn stdout pipe failed", "agent", r.spawn.AgentID, "err", err)
		cancel()
		return
	}
	if err := cmd.Start(); err != nil {
		slog.Warn("agent per-turn spawn failed", "agent", r.spawn.AgentID, "err", err)
		cancel()
		return
	}

	r.mu.Lock()
	r.cmd = cmd
	r.stdin = stdin
	r.cancelCurrent = cancel
	r.mu.Unlock()
	r.setState(StateRunning)

	line, err := json.Marshal(map[string]string{"type": "user_message", "content": text})
	if err == nil {
		_, _ = stdin.Write(append(line, '\n'))
	}
	_ = stdin.Close()

	r.readLoop(stdout)
	waitErr := cmd.Wait()
	cancel()
	r.finishProcess(waitErr)
}

// waitLoop is the Waiter task for the child spawned in New: it awaits that
// process's exit and transitions state. For a per-turn backend this only
// covers the first turn; later turns finish through spawnTurn instead.
func (r *Runtime) waitLoop() {
	err := r.cmd.Wait()
	r.finishProcess(err)
}

// finishProcess records one child's exit and decides whether the Runtime
// itself has terminated. An interactive backend's child exiting is always
// terminal. A per-turn backend's child exiting cleanly after a turn that
// did not report itself done is expected — the agent goes Idle, awaiting
// its next message, and the Runtime's done channel stays open.
func (r *Runtime) finishProcess(err error) {
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	r.mu.Lock()
	alreadyTerminal := r.state.IsTerminal()
	r.exitCode = &code
	if !alreadyTerminal {
		if r.spawn.Backend == BackendPerTurn && r.lastIdleReason != "done" && code == 0 {
			r.state = StateIdle
		} else {
			r.state = StateExited
		}
	}
	final := r.state
	r.mu.Unlock()

	r.emit(Event{AgentID: r.spawn.AgentID, Kind: EventStateChanged, State: final})
	if final.IsTerminal() {
		r.doneOnce.Do(func() { close(r.done) })
	}
}

// Send appends a user entry to the Chat Buffer and enqueues it for the
// writer; Idle -> Running.
func (r *Runtime) Send(text string) error {
	r.mu.Lock()
	if r.state.IsTerminal() {
		r.mu.Unlock()
		return fmt.Errorf("agent %s is terminal (%s)", r.spawn.AgentID, r.state)
	}
	r.mu.Unlock()
	r.chat.Append(chatbuffer.Entry{Role: chatbuffer.RoleUser, Content: text, Timestamp: time.Now().UTC().UnixMilli()})
	r.setState(StateRunning)
	select {
	case r.outbound <- outboundMsg{text: text}:
		return nil
	case <-r.done:
		return fmt.Errorf("agent %s has exited", r.spawn.AgentID)
	}
}

// Describe sets a human-readable label on the agent record.
func (r *Runtime) Describe(label string) {
	r.mu.Lock()
	r.label = label
	r.mu.Unlock()
}

// Abort requests termination: graceful signal, then a grace period, then
// a forced kill (immediately if force is true). Resolves to Aborted. A
// per-turn backend between turns has no in-flight child to signal at
// all — it goes straight to Aborted rather than waiting out two timeouts
// for a process that already exited.
func (r *Runtime) Abort(force bool) {
	close(r.outbound)

	r.mu.Lock()
	alreadyTerminal := r.state.IsTerminal()
	betweenTurns := r.spawn.Backend == BackendPerTurn && r.state == StateIdle
	r.mu.Unlock()
	if alreadyTerminal {
		return
	}
	if betweenTurns {
		r.mu.Lock()
		r.state = StateAborted
		r.mu.Unlock()
		r.emit(Event{AgentID: r.spawn.AgentID, Kind: EventStateChanged, State: StateAborted})
		r.doneOnce.Do(func() { close(r.done) })
		return
	}

	if force {
		r.killNow()
		r.waitTerminal(gracefulTimeout)
		return
	}
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(terminationSignal())
	}
	if !r.waitTerminal(gracefulTimeout) {
		r.killNow()
		r.waitTerminal(gracefulTimeout)
	}
}

func (r *Runtime) killNow() {
	r.mu.Lock()
	cancel := r.cancelCurrent
	cmd := r.cmd
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (r *Runtime) waitTerminal(d time.Duration) bool {
	select {
	case <-r.done:
		r.mu.Lock()
		if r.state != StateExited {
			r.state = StateAborted
		} else {
			r.state = StateAborted
		}
		r.mu.Unlock()
		return true
	case <-time.After(d):
		return false
	}
}

// Chat reads entries from the Chat Buffer.
func (r *Runtime) Chat(limit, offset int) []chatbuffer.Entry {
	return r.chat.Slice(limit, offset)
}

// ClearHistory discards the agent's chat buffer, for the director/manager
// wrappers' clear_history operation.
func (r *Runtime) ClearHistory() {
	r.chat.Clear()
}

// Snapshot returns a point-in-time Record for persistence/IPC responses.
func (r *Runtime) Snapshot() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Record{
		ID:           r.spawn.AgentID,
		Project:      r.spawn.Project,
		Role:         r.spawn.Role,
		State:        r.state,
		WorktreePath: r.spawn.WorktreePath,
		BranchName:   r.spawn.BranchName,
		ResumeToken:  r.resumeToken,
		ExitCode:     r.exitCode,
		Label:        r.label,
	}
}

// State returns the current state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MarkNeedsResolution transitions the agent to NeedsResolution (merge
// pipeline rebase-conflict path). It does not touch the child process.
func (r *Runtime) MarkNeedsResolution() {
	r.setState(StateNeedsResolution)
}

// MarkExited transitions a per-turn or completion-driven agent to Exited
// without waiting on process exit (used by the merge pipeline's happy
// path once the child has already reported completion).
func (r *Runtime) MarkExited() {
	r.setState(StateExited)
}
