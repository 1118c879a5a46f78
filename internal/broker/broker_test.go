package broker

import (
	"context"
	"testing"
	"time"
)

type fakeDecider struct {
	verdict PolicyVerdict
	err     error
}

func (f *fakeDecider) Decide(ctx context.Context, agentID, tool, input string) (PolicyVerdict, error) {
	return f.verdict, f.err
}

func TestOpenApprovalRespond(t *testing.T) {
	b := New(nil, time.Minute)
	id, future := b.OpenApproval(context.Background(), ApprovalPayload{AgentID: "a-1", Tool: "shell", Input: "rm -rf /"}, 0)

	if err := b.RespondApproval(id, DecisionDeny); err != nil {
		t.Fatalf("RespondApproval: %v", err)
	}
	select {
	case d := <-future:
		if d != DecisionDeny {
			t.Fatalf("expected deny, got %v", d)
		}
	default:
		t.Fatal("expected future resolved")
	}
}

func TestOpenApprovalDoubleRespondFails(t *testing.T) {
	b := New(nil, time.Minute)
	id, _ := b.OpenApproval(context.Background(), ApprovalPayload{AgentID: "a-1"}, 0)
	if err := b.RespondApproval(id, DecisionAllow); err != nil {
		t.Fatalf("first respond: %v", err)
	}
	if err := b.RespondApproval(id, DecisionAllow); err == nil {
		t.Fatal("expected error on double respond")
	}
}

func TestOpenApprovalExpiresToDeny(t *testing.T) {
	b := New(nil, time.Millisecond)
	_, future := b.OpenApproval(context.Background(), ApprovalPayload{AgentID: "a-1"}, time.Millisecond)

	select {
	case d := <-future:
		if d != DecisionDeny {
			t.Fatalf("expected deny on expiry, got %v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}
}

func TestOpenQuestionExpiresToEmptyAnswer(t *testing.T) {
	b := New(nil, time.Millisecond)
	_, future := b.OpenQuestion(QuestionPayload{AgentID: "a-1", Prompts: map[string]string{"q1": "continue?"}}, time.Millisecond)

	select {
	case a := <-future:
		if len(a) != 0 {
			t.Fatalf("expected empty answer on expiry, got %v", a)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}
}

func TestDeciderAllowResolvesImmediately(t *testing.T) {
	b := New(&fakeDecider{verdict: PolicyAllow}, time.Minute)
	id, future := b.OpenApproval(context.Background(), ApprovalPayload{AgentID: "a-1", Tool: "shell", Input: "ls"}, 0)

	select {
	case d := <-future:
		if d != DecisionAllow {
			t.Fatalf("expected allow, got %v", d)
		}
	default:
		t.Fatal("expected immediate resolution from decider")
	}
	if entries := b.List(KindApproval); len(entries) != 0 {
		t.Fatalf("decider-resolved approval must not appear in pending list: %v", entries)
	}
	if err := b.RespondApproval(id, DecisionDeny); err == nil {
		t.Fatal("expected already-resolved error on human respond after decider resolved")
	}
}

func TestDeciderUnsureEscalatesToHuman(t *testing.T) {
	b := New(&fakeDecider{verdict: PolicyUnsure}, time.Minute)
	id, future := b.OpenApproval(context.Background(), ApprovalPayload{AgentID: "a-1"}, 0)

	entries := b.List(KindApproval)
	if len(entries) != 1 || entries[0].CorrelationID != id {
		t.Fatalf("expected unsure verdict to escalate into the pending list, got %v", entries)
	}
	if err := b.RespondApproval(id, DecisionAllow); err != nil {
		t.Fatalf("RespondApproval: %v", err)
	}
	if d := <-future; d != DecisionAllow {
		t.Fatalf("expected human's allow to win, got %v", d)
	}
}

func TestDeciderUnsureExpiresToDenyWithoutHuman(t *testing.T) {
	b := New(&fakeDecider{verdict: PolicyUnsure}, time.Millisecond)
	_, future := b.OpenApproval(context.Background(), ApprovalPayload{AgentID: "a-1"}, time.Millisecond)
	select {
	case d := <-future:
		if d != DecisionDeny {
			t.Fatalf("expected deny on expiry, got %v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}
}

func TestDeciderErrorFailsClosed(t *testing.T) {
	b := New(&fakeDecider{err: context.DeadlineExceeded}, time.Minute)
	_, future := b.OpenApproval(context.Background(), ApprovalPayload{AgentID: "a-1"}, 0)
	if d := <-future; d != DecisionDeny {
		t.Fatalf("expected deny on decider error, got %v", d)
	}
}

func TestListAndCancelAll(t *testing.T) {
	b := New(nil, time.Minute)
	_, _ = b.OpenApproval(context.Background(), ApprovalPayload{AgentID: "a-1", Tool: "shell"}, 0)
	_, qFuture := b.OpenQuestion(QuestionPayload{AgentID: "a-1"}, 0)

	if got := b.List(KindApproval); len(got) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(got))
	}
	if got := b.List(KindQuestion); len(got) != 1 {
		t.Fatalf("expected 1 pending question, got %d", len(got))
	}

	b.CancelAll("shutdown")
	select {
	case a := <-qFuture:
		if len(a) != 0 {
			t.Fatalf("expected empty answer on cancel, got %v", a)
		}
	default:
		t.Fatal("expected question resolved by CancelAll")
	}
	if got := b.List(KindApproval); len(got) != 0 {
		t.Fatalf("expected no pending approvals after CancelAll, got %v", got)
	}
}
