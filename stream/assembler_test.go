package stream

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"agtui/wire"
)

// eventLog collects emitted events. The mutex matters for HTML tests: the
// debounced flush fires on a timer goroutine.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) clear() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

func newTestAssembler(cfg Config) (*Assembler, *eventLog) {
	log := &eventLog{}
	return NewAssembler(cfg, log.add), log
}

func textChunk(s string) *wire.Frame {
	return &wire.Frame{
		Type:    wire.TypeAIMessageChunk,
		Content: json.RawMessage(strconv.Quote(s)),
	}
}

func thinkingChunk(s string) *wire.Frame {
	return &wire.Frame{
		Type:     wire.TypeAIMessageChunk,
		Thinking: json.RawMessage(`[{"thinking":` + strconv.Quote(s) + `}]`),
	}
}

func toolChunk(index int, name, id, args string) *wire.Frame {
	return &wire.Frame{
		Type: wire.TypeAIMessageChunk,
		BaseMessage: &wire.BaseMessage{
			ToolCallChunks: []wire.ToolCallChunk{
				{Index: index, Name: name, ID: id, Args: args},
			},
		},
	}
}

func finalizedFrame(content string, calls ...wire.ToolCall) *wire.Frame {
	f := &wire.Frame{Type: wire.TypeAI}
	if content != "" {
		f.Content = json.RawMessage(strconv.Quote(content))
	}
	if len(calls) > 0 {
		f.BaseMessage = &wire.BaseMessage{ToolCalls: calls}
	}
	return f
}

func toolResultFrame(id, name, status string) *wire.Frame {
	f := &wire.Frame{
		Type:       wire.TypeTool,
		ToolCallID: id,
		Name:       name,
		Content:    json.RawMessage(`"done"`),
	}
	if status != "" {
		f.Artifact = &wire.Artifact{Status: status}
	}
	return f
}

func endFrame() *wire.Frame {
	return &wire.Frame{Type: wire.TypeEnd}
}

func TestAssemblerStreamedTextThenTool(t *testing.T) {
	// Claude/Gemini shape: thinking, then streamed text, then tool chunks,
	// then the finalized ai frame, then the tool result.
	asm, log := newTestAssembler(Config{})
	turnID := asm.StartTurn()

	asm.HandleFrame(thinkingChunk("Let me check "))
	asm.HandleFrame(thinkingChunk("the file."))
	asm.HandleFrame(textChunk("I'll "))
	asm.HandleFrame(textChunk("edit it."))
	asm.HandleFrame(toolChunk(0, "str_replace", "call_1", `{"path":`))
	asm.HandleFrame(toolChunk(0, "", "", `"x.rb"}`))
	asm.HandleFrame(finalizedFrame("I'll edit it.", wire.ToolCall{
		ID: "call_1", Name: "str_replace", Args: map[string]any{"path": "x.rb"},
	}))
	asm.HandleFrame(toolResultFrame("call_1", "str_replace", "success"))
	asm.HandleFrame(endFrame())

	events := log.snapshot()

	var kinds []string
	for _, ev := range events {
		switch ev.(type) {
		case ThinkingDelta:
			kinds = append(kinds, "thinking")
		case ThinkingFinalized:
			kinds = append(kinds, "thinking_done")
		case TextDelta:
			kinds = append(kinds, "text")
		case ToolCallStarted:
			kinds = append(kinds, "tool_started")
		case ToolCallResult:
			kinds = append(kinds, "tool_result")
		case TurnEnded:
			kinds = append(kinds, "ended")
		default:
			t.Fatalf("unexpected event %T", ev)
		}
	}
	want := []string{
		"thinking", "thinking",
		"thinking_done",
		"text", "text",
		"tool_started",
		"tool_result",
		"ended",
	}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("event order:\n got %v\nwant %v", kinds, want)
	}

	// Thinking deltas are cumulative within the block.
	if d := events[1].(ThinkingDelta); d.FullThinking != "Let me check the file." {
		t.Errorf("cumulative thinking: got %q", d.FullThinking)
	}
	// The block finalizes before the first text delta.
	if f := events[2].(ThinkingFinalized); f.BlockID != 1 {
		t.Errorf("finalized block id: got %d, want 1", f.BlockID)
	}
	// Text deltas carry the cumulative message unit.
	if d := events[4].(TextDelta); d.FullText != "I'll edit it." {
		t.Errorf("cumulative text: got %q", d.FullText)
	}

	started := events[5].(ToolCallStarted)
	if started.ToolCallID != "call_1" || started.Name != "str_replace" {
		t.Errorf("tool identity: got %q/%q", started.Name, started.ToolCallID)
	}
	// Text was already streamed, so the finalized frame's copy is not
	// re-attached to the tool call.
	if started.Text != "" {
		t.Errorf("tool started text: got %q, want empty", started.Text)
	}
	if started.FirstArgPreview != "x.rb" {
		t.Errorf("first arg preview: got %q, want %q", started.FirstArgPreview, "x.rb")
	}

	result := events[6].(ToolCallResult)
	if result.ToolCallID != "call_1" || result.Status != "success" {
		t.Errorf("tool result: got %+v", result)
	}

	for _, ev := range events {
		if ev.Turn() != turnID {
			t.Errorf("event %T carries turn %q, want %q", ev, ev.Turn(), turnID)
		}
	}
	if asm.Streaming() {
		t.Error("assembler should be idle after end frame")
	}
}

func TestAssemblerPureToolTurn(t *testing.T) {
	// OpenAI shape: no streamed text; the ai frame carries both the text and
	// the finalized tool calls. The text attaches to the first call only.
	asm, log := newTestAssembler(Config{})
	asm.StartTurn()

	asm.HandleFrame(toolChunk(0, "write_file", "call_a", `{"path":"a.go"}`))
	asm.HandleFrame(toolChunk(1, "write_file", "call_b", `{"path":"b.go"}`))
	asm.HandleFrame(finalizedFrame("I'll create both files.",
		wire.ToolCall{ID: "call_a", Name: "write_file", Args: map[string]any{"path": "a.go"}},
		wire.ToolCall{ID: "call_b", Name: "write_file", Args: map[string]any{"path": "b.go"}},
	))
	asm.HandleFrame(endFrame())

	var started []ToolCallStarted
	for _, ev := range log.snapshot() {
		if s, ok := ev.(ToolCallStarted); ok {
			started = append(started, s)
		}
		if _, ok := ev.(TextDelta); ok {
			t.Error("pure tool turn should emit no TextDelta")
		}
	}
	if len(started) != 2 {
		t.Fatalf("tool starts: got %d, want 2", len(started))
	}
	if started[0].Text != "I'll create both files." {
		t.Errorf("first call text: got %q", started[0].Text)
	}
	if started[1].Text != "" {
		t.Errorf("second call text: got %q, want empty", started[1].Text)
	}
}

func TestAssemblerTextAfterToolStartsNewUnit(t *testing.T) {
	asm, log := newTestAssembler(Config{})
	asm.StartTurn()

	asm.HandleFrame(textChunk("first unit"))
	asm.HandleFrame(finalizedFrame("first unit", wire.ToolCall{
		ID: "call_1", Name: "search", Args: map[string]any{"query": "x"},
	}))
	asm.HandleFrame(toolResultFrame("call_1", "search", "success"))
	asm.HandleFrame(textChunk("second unit"))

	var deltas []TextDelta
	for _, ev := range log.snapshot() {
		if d, ok := ev.(TextDelta); ok {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) != 2 {
		t.Fatalf("text deltas: got %d, want 2", len(deltas))
	}
	if deltas[1].FullText != "second unit" {
		t.Errorf("new unit text: got %q, want %q", deltas[1].FullText, "second unit")
	}
}

func TestAssemblerThinkingBlockSegmentation(t *testing.T) {
	// A tool result is intervening output: thinking after it is a new block.
	asm, log := newTestAssembler(Config{})
	asm.StartTurn()

	asm.HandleFrame(thinkingChunk("before"))
	asm.HandleFrame(toolResultFrame("call_1", "search", "success"))
	asm.HandleFrame(thinkingChunk("after"))

	var deltas []ThinkingDelta
	var finalized []ThinkingFinalized
	for _, ev := range log.snapshot() {
		switch ev := ev.(type) {
		case ThinkingDelta:
			deltas = append(deltas, ev)
		case ThinkingFinalized:
			finalized = append(finalized, ev)
		}
	}
	if len(deltas) != 2 {
		t.Fatalf("thinking deltas: got %d, want 2", len(deltas))
	}
	if deltas[0].BlockID == deltas[1].BlockID {
		t.Errorf("both deltas carry block %d, want distinct blocks", deltas[0].BlockID)
	}
	if deltas[1].FullThinking != "after" {
		t.Errorf("second block should not carry first block text: got %q", deltas[1].FullThinking)
	}
	if len(finalized) != 1 || finalized[0].BlockID != deltas[0].BlockID {
		t.Errorf("first block should be finalized before the result: %+v", finalized)
	}
}

func TestAssemblerNonStreamedFinalText(t *testing.T) {
	tests := []struct {
		name       string
		streamed   bool
		wantDeltas int
	}{
		{
			name:       "nothing streamed, ai frame text surfaces",
			streamed:   false,
			wantDeltas: 1,
		},
		{
			name:       "text already streamed, ai frame is a no-op",
			streamed:   true,
			wantDeltas: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asm, log := newTestAssembler(Config{})
			asm.StartTurn()
			if tt.streamed {
				asm.HandleFrame(textChunk("the reply"))
			}
			asm.HandleFrame(finalizedFrame("the reply"))

			var deltas []TextDelta
			for _, ev := range log.snapshot() {
				if d, ok := ev.(TextDelta); ok {
					deltas = append(deltas, d)
				}
			}
			if len(deltas) != tt.wantDeltas {
				t.Fatalf("text deltas: got %d, want %d", len(deltas), tt.wantDeltas)
			}
			if deltas[0].FullText != "the reply" {
				t.Errorf("text: got %q", deltas[0].FullText)
			}
		})
	}
}

func TestAssemblerHTMLStreaming(t *testing.T) {
	asm, log := newTestAssembler(Config{
		HTMLTool:      "generate_html_page",
		FlushInterval: 10 * time.Millisecond,
	})
	turnID := asm.StartTurn()

	asm.HandleFrame(toolChunk(0, "generate_html_page", "call_h", `{"html": "<html><body>`))
	asm.HandleFrame(toolChunk(0, "", "", `<p>hi</p>`))
	time.Sleep(40 * time.Millisecond)

	var fragments []HTMLFragment
	for _, ev := range log.snapshot() {
		if f, ok := ev.(HTMLFragment); ok {
			fragments = append(fragments, f)
		}
	}
	if len(fragments) == 0 {
		t.Fatal("expected at least one debounced HTML fragment")
	}
	if !strings.HasPrefix(fragments[0].Fragment, "<html><body>") {
		t.Errorf("first fragment should start at the opening tag: got %q", fragments[0].Fragment)
	}
	if fragments[0].TurnID != turnID {
		t.Errorf("fragment turn: got %q, want %q", fragments[0].TurnID, turnID)
	}

	log.clear()
	asm.HandleFrame(toolChunk(0, "", "", `</body></html>"}`))

	var ended *HTMLStreamEnded
	for _, ev := range log.snapshot() {
		if e, ok := ev.(HTMLStreamEnded); ok {
			e := e
			ended = &e
		}
	}
	if ended == nil {
		t.Fatal("expected HTMLStreamEnded after closing tag")
	}
	if ended.Document != "<html><body><p>hi</p></body></html>" {
		t.Errorf("document: got %q", ended.Document)
	}

	// Once ended, further chunks for the same index flush nothing.
	log.clear()
	asm.HandleFrame(toolChunk(0, "", "", `extra`))
	time.Sleep(40 * time.Millisecond)
	for _, ev := range log.snapshot() {
		if _, ok := ev.(HTMLFragment); ok {
			t.Error("no fragments may follow HTMLStreamEnded")
		}
		if _, ok := ev.(HTMLStreamEnded); ok {
			t.Error("HTMLStreamEnded must fire at most once per turn")
		}
	}
}

func TestAssemblerHTMLFragmentsAreEscapeDecoded(t *testing.T) {
	asm, log := newTestAssembler(Config{FlushInterval: 10 * time.Millisecond})
	asm.StartTurn()

	asm.HandleFrame(toolChunk(0, DefaultHTMLTool, "call_h", `{"html": "<html>\n<p class=\"a\">x</p>`))
	time.Sleep(40 * time.Millisecond)

	for _, ev := range log.snapshot() {
		if f, ok := ev.(HTMLFragment); ok {
			if f.Fragment != "<html>\n<p class=\"a\">x</p>" {
				t.Errorf("decoded fragment: got %q", f.Fragment)
			}
			return
		}
	}
	t.Fatal("expected an HTML fragment")
}

func TestAssemblerResetDiscardsTurn(t *testing.T) {
	asm, log := newTestAssembler(Config{FlushInterval: 10 * time.Millisecond})
	asm.StartTurn()

	asm.HandleFrame(textChunk("partial"))
	asm.HandleFrame(toolChunk(0, DefaultHTMLTool, "call_h", `{"html": "<html><p>a</p>`))
	asm.Reset()

	if asm.Streaming() {
		t.Error("assembler should be idle after reset")
	}
	if asm.CurrentTurn() != "" {
		t.Errorf("current turn: got %q, want empty", asm.CurrentTurn())
	}

	// Frames after the reset are dropped, and the pending flush timer was
	// cancelled - no stale events may fire into the next turn.
	log.clear()
	asm.HandleFrame(textChunk("orphan"))
	asm.HandleFrame(endFrame())
	time.Sleep(40 * time.Millisecond)
	if events := log.snapshot(); len(events) != 0 {
		t.Errorf("expected no events after reset, got %d: %v", len(events), events)
	}
}

func TestAssemblerStartTurnSupersedesOpenTurn(t *testing.T) {
	asm, log := newTestAssembler(Config{})
	first := asm.StartTurn()
	asm.HandleFrame(textChunk("from first turn"))

	second := asm.StartTurn()
	if first == second {
		t.Fatal("turn ids must be unique")
	}
	log.clear()
	asm.HandleFrame(textChunk("fresh"))

	events := log.snapshot()
	if len(events) != 1 {
		t.Fatalf("events: got %d, want 1", len(events))
	}
	d := events[0].(TextDelta)
	if d.FullText != "fresh" {
		t.Errorf("text leaked across turns: got %q", d.FullText)
	}
	if d.TurnID != second {
		t.Errorf("turn id: got %q, want %q", d.TurnID, second)
	}
}

func TestAssemblerDropsFramesOutsideTurn(t *testing.T) {
	asm, log := newTestAssembler(Config{})

	asm.HandleFrame(textChunk("no turn open"))
	asm.HandleFrame(nil)
	asm.HandleFrame(&wire.Frame{Type: "mystery"})
	asm.HandleFrame(endFrame())

	if events := log.snapshot(); len(events) != 0 {
		t.Errorf("expected no events, got %v", events)
	}
}

func TestAssemblerEmptyChunkIsSilent(t *testing.T) {
	// A chunk with no content, no thinking and no tool chunks (keepalive or
	// unknown shape) produces no events and no failure.
	asm, log := newTestAssembler(Config{})
	asm.StartTurn()

	empty := []*wire.Frame{
		{Type: wire.TypeAIMessageChunk},
		{Type: wire.TypeAIMessageChunk, Content: json.RawMessage(`null`)},
		{Type: wire.TypeAIMessageChunk, Content: json.RawMessage(`""`)},
		{Type: wire.TypeAIMessageChunk, BaseMessage: &wire.BaseMessage{}},
	}
	for _, f := range empty {
		asm.HandleFrame(f)
	}

	if events := log.snapshot(); len(events) != 0 {
		t.Errorf("empty chunks emitted %d events: %v", len(events), events)
	}
	if !asm.Streaming() {
		t.Error("turn should remain open")
	}
}

func TestAssemblerErrorFinalizesOpenThinking(t *testing.T) {
	asm, log := newTestAssembler(Config{})
	asm.StartTurn()

	asm.HandleFrame(thinkingChunk("partial reasoning"))
	asm.HandleFrame(&wire.Frame{
		Type:    wire.TypeError,
		Content: json.RawMessage(`"backend failure"`),
	})

	events := log.snapshot()
	if len(events) != 3 {
		t.Fatalf("events: got %d (%v), want 3", len(events), events)
	}
	fin, ok := events[1].(ThinkingFinalized)
	if !ok {
		t.Fatalf("second event: got %T, want ThinkingFinalized", events[1])
	}
	if fin.BlockID != 1 {
		t.Errorf("finalized block: got %d, want 1", fin.BlockID)
	}
	if _, ok := events[2].(TurnError); !ok {
		t.Errorf("last event: got %T, want TurnError", events[2])
	}
}

func TestAssemblerErrorFrame(t *testing.T) {
	asm, log := newTestAssembler(Config{})
	turnID := asm.StartTurn()

	asm.HandleFrame(textChunk("partial"))
	asm.HandleFrame(&wire.Frame{
		Type:    wire.TypeError,
		Content: json.RawMessage(`"model overloaded"`),
	})

	events := log.snapshot()
	last := events[len(events)-1]
	errEv, ok := last.(TurnError)
	if !ok {
		t.Fatalf("last event: got %T, want TurnError", last)
	}
	if errEv.TurnID != turnID || errEv.Message != "model overloaded" {
		t.Errorf("turn error: got %+v", errEv)
	}
	if asm.Streaming() {
		t.Error("assembler should be idle after an error frame")
	}
}

func TestAssemblerUsageAccumulates(t *testing.T) {
	asm, log := newTestAssembler(Config{})
	asm.StartTurn()

	asm.HandleFrame(&wire.Frame{
		Type:       wire.TypeAIMessageChunk,
		TokenUsage: &wire.TokenUsage{InputTokens: 100, OutputTokens: 5, TotalTokens: 105},
	})
	asm.HandleFrame(&wire.Frame{
		Type:       wire.TypeAIMessageChunk,
		TokenUsage: &wire.TokenUsage{OutputTokens: 7, TotalTokens: 7},
	})

	var updates []UsageUpdated
	for _, ev := range log.snapshot() {
		if u, ok := ev.(UsageUpdated); ok {
			updates = append(updates, u)
		}
	}
	if len(updates) != 2 {
		t.Fatalf("usage updates: got %d, want 2", len(updates))
	}
	last := updates[1]
	if last.InputTokens != 100 || last.OutputTokens != 12 || last.TotalTokens != 112 {
		t.Errorf("cumulative usage: got %+v", last)
	}
}

func TestAssemblerPreviewableToolArgs(t *testing.T) {
	asm, log := newTestAssembler(Config{PreviewTools: []string{"write_todos"}})
	asm.StartTurn()

	// Incomplete JSON parses to nothing; the completed buffer previews.
	asm.HandleFrame(toolChunk(0, "write_todos", "call_t", `{"todos":`))
	asm.HandleFrame(toolChunk(0, "", "", `"ship it"}`))
	// A non-registered tool never previews, complete JSON or not.
	asm.HandleFrame(toolChunk(1, "write_file", "call_f", `{"path":"a.go"}`))

	var previews []ToolCallArgsPreview
	for _, ev := range log.snapshot() {
		if p, ok := ev.(ToolCallArgsPreview); ok {
			previews = append(previews, p)
		}
	}
	if len(previews) != 1 {
		t.Fatalf("previews: got %d, want 1", len(previews))
	}
	if previews[0].Name != "write_todos" || previews[0].Args["todos"] != "ship it" {
		t.Errorf("preview: got %+v", previews[0])
	}
}

func TestFirstArgPreview(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]any
		expected string
	}{
		{
			name:     "single string arg",
			args:     map[string]any{"path": "x.rb"},
			expected: "x.rb",
		},
		{
			name:     "first string in key order wins",
			args:     map[string]any{"b": "bee", "a": "ay"},
			expected: "ay",
		},
		{
			name:     "string preferred over earlier non-string",
			args:     map[string]any{"a": float64(3), "b": "bee"},
			expected: "bee",
		},
		{
			name:     "no strings falls back to first value",
			args:     map[string]any{"count": float64(3)},
			expected: "3",
		},
		{
			name:     "empty args",
			args:     nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := firstArgPreview(tt.args)
			if got != tt.expected {
				t.Errorf("firstArgPreview(%v): got %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}
