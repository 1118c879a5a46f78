package markdown

import (
	"context"
	"testing"

	"github.com/karan-zipline/murmur/internal/issuebackend"
)

func TestCreateGetClose(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.StopWatching()
	ctx := context.Background()

	if _, err := b.Create(ctx, "p1", issuebackend.Issue{ID: "I-1", Title: "first", Body: "do a thing"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := b.Get(ctx, "p1", "I-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != issuebackend.StatusOpen || got.Title != "first" {
		t.Fatalf("unexpected issue: %+v", got)
	}

	if err := b.Close(ctx, "p1", "I-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, _ = b.Get(ctx, "p1", "I-1")
	if got.Status != issuebackend.StatusClosed {
		t.Fatalf("expected closed, got %v", got.Status)
	}
}

func TestReadyRespectsDependencies(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.StopWatching()
	ctx := context.Background()

	_, _ = b.Create(ctx, "p1", issuebackend.Issue{ID: "I-1", Title: "dep", Status: issuebackend.StatusOpen})
	_, _ = b.Create(ctx, "p1", issuebackend.Issue{ID: "I-2", Title: "blocked", Status: issuebackend.StatusOpen, Dependencies: []string{"I-1"}})

	ready, err := b.Ready(ctx, "p1")
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "I-1" {
		t.Fatalf("expected only I-1 ready, got %+v", ready)
	}

	_ = b.Close(ctx, "p1", "I-1")
	ready, _ = b.Ready(ctx, "p1")
	if len(ready) != 1 || ready[0].ID != "I-2" {
		t.Fatalf("expected I-2 ready after I-1 closes, got %+v", ready)
	}
}

func TestPriorityOrdering(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.StopWatching()
	ctx := context.Background()

	_, _ = b.Create(ctx, "p1", issuebackend.Issue{ID: "I-low", Priority: 1})
	_, _ = b.Create(ctx, "p1", issuebackend.Issue{ID: "I-high", Priority: 10})

	list, err := b.List(ctx, "p1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "I-high" {
		t.Fatalf("expected I-high first, got %+v", list)
	}
}
