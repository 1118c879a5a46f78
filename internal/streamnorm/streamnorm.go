// Package streamnorm implements the Stream Normaliser (C4): a pure
// incremental parser turning backend-specific line-delimited JSON into a
// canonical, closed set of chat events. It owns no I/O — callers feed it
// bytes as they arrive and drain emitted events.
package streamnorm

import (
	"bytes"
	"encoding/json"
)

// EventKind is the closed set of canonical event kinds.
type EventKind string

const (
	KindAssistantText  EventKind = "assistant_text"
	KindToolInvocation EventKind = "tool_invocation"
	KindToolResult     EventKind = "tool_result"
	KindThread         EventKind = "thread"
	KindIdle           EventKind = "idle"
	KindError          EventKind = "error"
)

// Event is the canonical, closed-enum chat/control event produced by the
// normaliser. Only the fields relevant to Kind are populated.
type Event struct {
	Kind         EventKind
	Content      string // AssistantText
	Tool         string // ToolInvocation, ToolResult
	InputSummary string // ToolInvocation
	Summary      string // ToolResult
	OK           bool   // ToolResult
	Token        string // Thread
	Reason       string // Idle
	Detail       string // Error
}

// Dialect recognises and decodes one backend's line-delimited JSON shape.
// Sniff inspects the first decoded raw object and reports whether this
// dialect claims the stream. Decode turns one already-dialect-matched line
// into zero or more canonical events (a single line may, e.g., carry both
// a tool invocation and an idle signal in some backends).
type Dialect interface {
	Name() string
	Sniff(first map[string]any) bool
	Decode(line []byte) []Event
}

// Normalizer incrementally parses a byte stream of newline-delimited JSON
// into canonical events. The dialect is selected from the first decodable
// line and fixed for the stream's lifetime.
type Normalizer struct {
	dialects []Dialect
	chosen   Dialect
	buf      bytes.Buffer
}

// New returns a normaliser that will pick its dialect from candidates on
// the first recognisable line.
func New(candidates ...Dialect) *Normalizer {
	return &Normalizer{dialects: candidates}
}

// Feed appends chunk to the internal buffer and returns the events
// produced by any newline-terminated lines now complete. Partial trailing
// data is buffered for the next call. Malformed lines yield a KindError
// event and parsing continues (never fatal).
func (n *Normalizer) Feed(chunk []byte) []Event {
	n.buf.Write(chunk)
	var events []Event
	for {
		data := n.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(append([]byte(nil), data[:idx]...))
		n.buf.Next(idx + 1)
		if len(line) == 0 {
			continue
		}
		events = append(events, n.decodeLine(line)...)
	}
	return events
}

func (n *Normalizer) decodeLine(line []byte) []Event {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return []Event{{Kind: KindError, Detail: err.Error()}}
	}
	if n.chosen == nil {
		for _, d := range n.dialects {
			if d.Sniff(raw) {
				n.chosen = d
				break
			}
		}
		if n.chosen == nil {
			return []Event{{Kind: KindError, Detail: "no dialect recognised line: " + string(line)}}
		}
	}
	return n.chosen.Decode(line)
}
