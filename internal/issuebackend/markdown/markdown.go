// Package markdown implements a local, file-based IssueBackend: one
// markdown file per issue under a project's tickets directory, with YAML
// frontmatter carrying status/priority/dependencies/author and the body
// carrying the issue text. A filesystem watch keeps the in-memory index
// fresh when files are edited out of band.
package markdown

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/karan-zipline/murmur/internal/foremanerr"
	"github.com/karan-zipline/murmur/internal/issuebackend"
)

type frontmatter struct {
	Status       string   `yaml:"status"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	Priority     int      `yaml:"priority,omitempty"`
	Author       string   `yaml:"author,omitempty"`
	Title        string   `yaml:"title"`
}

// Backend is a directory-backed issuebackend.Backend. One instance per
// project; Dir is that project's tickets directory (e.g.
// <home>/<project>/tickets).
type Backend struct {
	Dir string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// New creates the tickets directory if absent and starts a watcher so
// externally-created/edited .md files are picked up without a poll. Each
// .md event calls onChange (when non-nil) and watcher errors are logged;
// List/Ready/Get always re-read from disk, so staleness is impossible — the
// watch exists to drive orchestration.tick_requested, not to serve a cache.
func New(dir string, onChange func()) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, foremanerr.Wrap(foremanerr.Resource, "create tickets dir", err)
	}
	b := &Backend{Dir: dir}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, foremanerr.Wrap(foremanerr.Resource, "create tickets watcher", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, foremanerr.Wrap(foremanerr.Resource, "watch tickets dir", err)
	}
	b.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if strings.HasSuffix(ev.Name, ".md") && onChange != nil {
					onChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("tickets watcher error", "dir", dir, "err", err)
			}
		}
	}()
	return b, nil
}

// StopWatching stops the filesystem watch. Does not affect persisted tickets.
func (b *Backend) StopWatching() error {
	if b.watcher != nil {
		return b.watcher.Close()
	}
	return nil
}

func (b *Backend) path(id string) string {
	return filepath.Join(b.Dir, id+".md")
}

func (b *Backend) List(ctx context.Context, project string) ([]issuebackend.Issue, error) {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		return nil, foremanerr.Wrap(foremanerr.Resource, "read tickets dir", err)
	}
	var out []issuebackend.Issue
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".md")
		issue, err := b.Get(ctx, project, id)
		if err != nil {
			continue
		}
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (b *Backend) Get(ctx context.Context, project, issueID string) (issuebackend.Issue, error) {
	data, err := os.ReadFile(b.path(issueID))
	if err != nil {
		return issuebackend.Issue{}, foremanerr.Wrap(foremanerr.Resource, "read ticket "+issueID, err)
	}
	fm, body, err := parse(data)
	if err != nil {
		return issuebackend.Issue{}, foremanerr.Wrap(foremanerr.ProtocolViolation, "parse ticket "+issueID, err)
	}
	return issuebackend.Issue{
		ID:           issueID,
		Status:       issuebackend.Status(fm.Status),
		Dependencies: fm.Dependencies,
		Priority:     fm.Priority,
		Author:       fm.Author,
		Title:        fm.Title,
		Body:         body,
	}, nil
}

func (b *Backend) Ready(ctx context.Context, project string) ([]issuebackend.Issue, error) {
	all, err := b.List(ctx, project)
	if err != nil {
		return nil, err
	}
	closed := make(map[string]bool, len(all))
	for _, i := range all {
		if i.Status == issuebackend.StatusClosed {
			closed[i.ID] = true
		}
	}
	var ready []issuebackend.Issue
	for _, i := range all {
		if i.IsReady(closed) {
			ready = append(ready, i)
		}
	}
	return ready, nil
}

func (b *Backend) Create(ctx context.Context, project string, issue issuebackend.Issue) (issuebackend.Issue, error) {
	if issue.ID == "" {
		return issuebackend.Issue{}, foremanerr.New(foremanerr.ProtocolViolation, "issue ID required")
	}
	if issue.Status == "" {
		issue.Status = issuebackend.StatusOpen
	}
	if err := b.write(issue); err != nil {
		return issuebackend.Issue{}, err
	}
	return issue, nil
}

func (b *Backend) Update(ctx context.Context, project string, issue issuebackend.Issue) error {
	return b.write(issue)
}

func (b *Backend) Close(ctx context.Context, project, issueID string) error {
	issue, err := b.Get(ctx, project, issueID)
	if err != nil {
		return err
	}
	issue.Status = issuebackend.StatusClosed
	return b.write(issue)
}

func (b *Backend) Comment(ctx context.Context, project, issueID, body string) error {
	issue, err := b.Get(ctx, project, issueID)
	if err != nil {
		return err
	}
	issue.Body += "\n\n---\n" + body
	return b.write(issue)
}

// CreatePullRequest is not supported by the local markdown backend: there
// is no remote hosting concept to open a PR against.
func (b *Backend) CreatePullRequest(ctx context.Context, project, branch, title, body string) (string, error) {
	return "", foremanerr.New(foremanerr.PolicyViolation, "local markdown backend does not support pull requests")
}

func (b *Backend) write(issue issuebackend.Issue) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	fm := frontmatter{
		Status:       string(issue.Status),
		Dependencies: issue.Dependencies,
		Priority:     issue.Priority,
		Author:       issue.Author,
		Title:        issue.Title,
	}
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return foremanerr.Wrap(foremanerr.Resource, "marshal ticket frontmatter", err)
	}
	content := fmt.Sprintf("---\n%s---\n%s", string(fmBytes), issue.Body)
	tmp := b.path(issue.ID) + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return foremanerr.Wrap(foremanerr.Resource, "write ticket "+issue.ID, err)
	}
	return os.Rename(tmp, b.path(issue.ID))
}

func parse(data []byte) (frontmatter, string, error) {
	s := string(data)
	if !strings.HasPrefix(s, "---\n") {
		return frontmatter{}, s, nil
	}
	rest := s[4:]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return frontmatter{}, s, fmt.Errorf("missing closing frontmatter delimiter")
	}
	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil {
		return frontmatter{}, "", err
	}
	body := strings.TrimPrefix(rest[idx+5:], "\n")
	return fm, body, nil
}
