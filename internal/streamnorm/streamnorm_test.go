package streamnorm

import "testing"

func TestFeedEmitsAssistantTextInteractive(t *testing.T) {
	n := New(InteractiveDialect{}, PerTurnDialect{})
	evs := n.Feed([]byte(`{"type":"assistant","content":"hello"}` + "\n"))
	if len(evs) != 1 || evs[0].Kind != KindAssistantText || evs[0].Content != "hello" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestFeedBuffersPartialLines(t *testing.T) {
	n := New(InteractiveDialect{})
	evs := n.Feed([]byte(`{"type":"ass`))
	if len(evs) != 0 {
		t.Fatalf("expected no events for partial line, got %+v", evs)
	}
	evs = n.Feed([]byte(`istant","content":"hi"}` + "\n"))
	if len(evs) != 1 || evs[0].Content != "hi" {
		t.Fatalf("unexpected events after completion: %+v", evs)
	}
}

func TestFeedMalformedLineEmitsErrorAndContinues(t *testing.T) {
	n := New(InteractiveDialect{})
	evs := n.Feed([]byte("not json\n" + `{"type":"idle","reason":"done"}` + "\n"))
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(evs), evs)
	}
	if evs[0].Kind != KindError {
		t.Fatalf("expected first event to be an error, got %+v", evs[0])
	}
	if evs[1].Kind != KindIdle || evs[1].Reason != "done" {
		t.Fatalf("expected second event idle/done, got %+v", evs[1])
	}
}

func TestDialectFixedAfterFirstLine(t *testing.T) {
	n := New(InteractiveDialect{}, PerTurnDialect{})
	n.Feed([]byte(`{"type":"assistant","content":"a"}` + "\n"))
	// A per-turn shaped line arriving later must still be handled by the
	// dialect chosen at stream start (interactive), which can't decode it
	// meaningfully and should report unrecognised type, not silently
	// switch dialects mid-stream.
	evs := n.Feed([]byte(`{"msg_type":"message","text":"x"}` + "\n"))
	if len(evs) != 1 || evs[0].Kind != KindError {
		t.Fatalf("expected error from fixed interactive dialect, got %+v", evs)
	}
}

func TestEventOrderingPreserved(t *testing.T) {
	n := New(InteractiveDialect{})
	evs := n.Feed([]byte(
		`{"type":"assistant","content":"1"}` + "\n" +
			`{"type":"assistant","content":"2"}` + "\n" +
			`{"type":"assistant","content":"3"}` + "\n",
	))
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	for i, want := range []string{"1", "2", "3"} {
		if evs[i].Content != want {
			t.Fatalf("out of order at %d: %+v", i, evs[i])
		}
	}
}

func TestPerTurnThreadToken(t *testing.T) {
	n := New(PerTurnDialect{})
	evs := n.Feed([]byte(`{"msg_type":"session_start","session_id":"tok-1"}` + "\n"))
	if len(evs) != 1 || evs[0].Kind != KindThread || evs[0].Token != "tok-1" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}
