// Package stream reassembles the agent runtime's frame stream into
// renderer-ready events.
//
// The runtime delivers one turn (user message → full assistant response) as
// an ordered sequence of frames: partial text deltas, reasoning-trace
// deltas, incremental tool-call argument fragments, finalized tool calls,
// tool results, and an end marker. Providers interleave these differently —
// OpenAI sends a pure tool-call turn with no streamed text, Claude and
// Gemini stream text first and finalize tool calls afterwards — so the
// assembler normalizes all of them into one event vocabulary.
//
// # Ordering
//
// Events are emitted strictly in frame-arrival order. The only buffering
// beyond the accumulators themselves is the debounced HTML flush, and a
// thinking block is always finalized before the first event of the next
// output mode.
//
// # Failure policy
//
// Normalize or drop, never throw: a malformed frame is logged and skipped,
// tool-argument JSON that never parses mid-stream is expected, and only
// backend-declared error frames surface to the renderer.
package stream

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agtui/config"
	"agtui/normalize"
	"agtui/wire"
)

// Defaults for Config zero values.
const (
	DefaultHTMLTool      = "generate_html_page"
	DefaultFlushInterval = 150 * time.Millisecond
)

// DefaultPreviewTools are the tools whose partial argument parses are
// surfaced mid-stream by default.
var DefaultPreviewTools = []string{"write_todos"}

// Config tunes an Assembler.
type Config struct {
	// HTMLTool is the tool whose string argument streams an HTML document.
	HTMLTool string

	// PreviewTools lists tools whose partially-parsed arguments are emitted
	// as ToolCallArgsPreview events during streaming.
	PreviewTools []string

	// FlushInterval is the debounce interval for HTML fragment flushes.
	FlushInterval time.Duration
}

// Assembler consumes frames for one turn at a time and drives the
// normalization, tool-argument and HTML-substream components, emitting
// events to the renderer callback.
//
// All per-turn state lives in an explicit turnState owned by the assembler,
// so independent assemblers (tests, multiple threads) cannot contaminate
// each other. At most one turn is open at a time; StartTurn discards any
// previous turn's state, including a pending flush timer.
type Assembler struct {
	mu          sync.Mutex
	emit        EventFunc
	htmlTool    string
	previewable map[string]bool
	flush       time.Duration
	turn        *turnState
}

// turnState is the accumulator record for one open turn. Created fresh by
// StartTurn, mutated only while the turn is open, discarded at TurnEnded or
// TurnError.
type turnState struct {
	id string

	text         strings.Builder // current message unit
	textStreamed bool            // a TextDelta was emitted since the last ai frame

	thinking      strings.Builder // current thinking block
	thinkingBlock int
	thinkingLive  bool
	// sawNonThinking records that text or tool output intervened since the
	// last thinking emission; the next thinking chunk starts a new block
	// instead of silently merging two separate reasoning spans.
	sawNonThinking bool

	tools     map[int]*ArgAssembler
	html      *HTMLStream
	htmlIndex int // tool-call index in HTML-streaming mode, -1 when none
	htmlDone  bool

	usage wire.TokenUsage
}

// NewAssembler creates an assembler that reports events through emit.
// Zero-value Config fields take the package defaults.
func NewAssembler(cfg Config, emit EventFunc) *Assembler {
	if cfg.HTMLTool == "" {
		cfg.HTMLTool = DefaultHTMLTool
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.PreviewTools == nil {
		cfg.PreviewTools = DefaultPreviewTools
	}
	previewable := make(map[string]bool, len(cfg.PreviewTools))
	for _, name := range cfg.PreviewTools {
		previewable[name] = true
	}
	return &Assembler{
		emit:        emit,
		htmlTool:    cfg.HTMLTool,
		previewable: previewable,
		flush:       cfg.FlushInterval,
	}
}

// StartTurn discards any previous turn's state and opens a new turn,
// returning its id. Must be called when the user submits a message, before
// the first frame of the response arrives — and after a reconnect, before
// trusting frames from the new connection.
func (a *Assembler) StartTurn() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.teardownLocked()
	a.turn = &turnState{
		id:        uuid.New().String(),
		tools:     make(map[int]*ArgAssembler),
		html:      NewHTMLStream(),
		htmlIndex: -1,
	}
	return a.turn.id
}

// CurrentTurn returns the open turn's id, or "" when idle.
func (a *Assembler) CurrentTurn() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.turn == nil {
		return ""
	}
	return a.turn.id
}

// Streaming reports whether a turn is open.
func (a *Assembler) Streaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turn != nil
}

// Reset returns the assembler to idle without emitting any event. Used when
// the transport reconnects mid-turn.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.teardownLocked()
}

// teardownLocked discards per-turn state. Cancelling the pending HTML flush
// timer here is required: a stale flush must not fire into the next turn.
func (a *Assembler) teardownLocked() {
	if a.turn != nil {
		a.turn.html.Reset()
		a.turn = nil
	}
}

// HandleFrame processes one frame in arrival order. Frames received while
// idle, and frames of unrecognized shape, are logged and dropped without
// aborting anything.
func (a *Assembler) HandleFrame(f *wire.Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if f == nil || f.Type == "" {
		debugf("assembler: dropping frame with no type")
		return
	}
	if a.turn == nil {
		debugf("assembler: dropping %q frame outside a turn", f.Type)
		return
	}

	switch f.Type {
	case wire.TypeAIMessageChunk:
		a.handleChunk(f)
	case wire.TypeAI:
		a.handleFinalized(f)
	case wire.TypeTool:
		a.handleToolResult(f)
	case wire.TypeEnd:
		a.handleEnd()
	case wire.TypeError:
		a.handleError(f)
	case wire.TypeHuman:
		// Echo of the user's own message; nothing to reassemble.
	default:
		debugf("assembler: dropping unrecognized frame type %q", f.Type)
	}
}

func (a *Assembler) handleChunk(f *wire.Frame) {
	t := a.turn

	if f.TokenUsage != nil {
		t.usage.Add(*f.TokenUsage)
		a.emit(UsageUpdated{
			TurnID:       t.id,
			InputTokens:  t.usage.InputTokens,
			OutputTokens: t.usage.OutputTokens,
			TotalTokens:  t.usage.TotalTokens,
		})
	}

	// Thinking and content are mutually exclusive fields in provider frames;
	// thinking takes priority when present.
	if thinking, ok := normalize.Thinking(f.Thinking); ok {
		a.appendThinking(thinking)
		return
	}

	if content := normalize.Content(f.Content); content != "" {
		a.appendText(content)
		return
	}

	if f.BaseMessage != nil && len(f.BaseMessage.ToolCallChunks) > 0 {
		a.routeToolChunks(f.BaseMessage.ToolCallChunks)
		return
	}

	// Nothing usable on this chunk (empty keepalive or unknown shape):
	// no event, no error.
}

// appendThinking extends the current thinking block, or opens a new one if
// non-thinking output intervened since the last thinking emission.
func (a *Assembler) appendThinking(text string) {
	t := a.turn
	if !t.thinkingLive || t.sawNonThinking {
		t.thinkingBlock++
		t.thinking.Reset()
		t.thinkingLive = true
		t.sawNonThinking = false
	}
	t.thinking.WriteString(text)
	a.emit(ThinkingDelta{
		TurnID:       t.id,
		BlockID:      t.thinkingBlock,
		FullThinking: t.thinking.String(),
	})
}

// noteNonThinking finalizes any open thinking block and records that
// non-thinking output occurred. Called before every text, tool-chunk, tool
// finalization and tool-result effect.
func (a *Assembler) noteNonThinking() {
	t := a.turn
	if t.thinkingLive {
		t.thinkingLive = false
		a.emit(ThinkingFinalized{TurnID: t.id, BlockID: t.thinkingBlock})
	}
	t.sawNonThinking = true
}

func (a *Assembler) appendText(content string) {
	t := a.turn
	a.noteNonThinking()
	t.text.WriteString(content)
	t.textStreamed = true
	a.emit(TextDelta{TurnID: t.id, FullText: t.text.String()})
}

func (a *Assembler) routeToolChunks(chunks []wire.ToolCallChunk) {
	t := a.turn
	a.noteNonThinking()

	for _, c := range chunks {
		acc := t.tools[c.Index]
		if acc == nil {
			acc = NewArgAssembler(c.Name, c.ID)
			t.tools[c.Index] = acc
		} else {
			acc.SetIdentity(c.Name, c.ID)
		}
		acc.Append(c.Args)

		// At most one accumulator is in HTML-streaming mode per turn.
		if t.htmlIndex < 0 && acc.Name() == a.htmlTool {
			t.htmlIndex = c.Index
		}
		if c.Index == t.htmlIndex && !t.htmlDone {
			a.feedHTML(c.Args)
		}

		if a.previewable[acc.Name()] {
			if args := acc.TryParse(); args != nil {
				a.emit(ToolCallArgsPreview{
					TurnID:     t.id,
					ToolCallID: acc.ID(),
					Name:       acc.Name(),
					Args:       args,
				})
			}
		}
	}
}

// feedHTML routes one raw argument fragment into the HTML substream and
// drives start/end detection and the debounced flush.
func (a *Assembler) feedHTML(fragment string) {
	t := a.turn
	t.html.Append(fragment)
	t.html.CheckStart()

	if t.html.CheckEnd() {
		t.htmlDone = true
		a.emit(HTMLStreamEnded{TurnID: t.id, Document: t.html.Document()})
		return
	}

	if !t.html.Started() {
		return
	}

	turnID := t.id
	html := t.html
	html.ScheduleFlush(a.flush, func() {
		// Take-and-clear is atomic; a fragment appended concurrently either
		// rides this flush or stays buffered for the next one.
		fragment := html.TakeFragment()
		if fragment == "" {
			return
		}
		// The timer fires on its own goroutine; re-check that the turn the
		// flush was scheduled for is still the open one.
		a.mu.Lock()
		live := a.turn != nil && a.turn.id == turnID
		a.mu.Unlock()
		if live {
			a.emit(HTMLFragment{TurnID: turnID, Fragment: fragment})
		}
	})
}

// handleFinalized processes an ai frame. With tool calls present it closes
// the current message unit and announces each invocation; without them it
// only recovers text for non-streaming providers.
func (a *Assembler) handleFinalized(f *wire.Frame) {
	t := a.turn

	var toolCalls []wire.ToolCall
	if f.BaseMessage != nil {
		toolCalls = f.BaseMessage.ToolCalls
	}

	if len(toolCalls) == 0 {
		// Finalized message with no tool calls. If nothing was streamed
		// (non-streaming provider path) surface the full text now.
		if content := normalize.Content(f.Content); content != "" && !t.textStreamed {
			a.appendText(content)
		}
		return
	}

	a.noteNonThinking()

	frameText := normalize.Content(f.Content)
	pureToolTurn := !t.textStreamed

	for i, tc := range toolCalls {
		// OpenAI-style pure tool-call turns carry their text on the ai frame
		// itself; attach it to the zeroth call. When text was already
		// streamed (Claude/Gemini style) every call gets an empty
		// placeholder.
		text := ""
		if pureToolTurn && i == 0 {
			text = frameText
		}
		a.emit(ToolCallStarted{
			TurnID:          t.id,
			ToolCallID:      tc.ID,
			Name:            tc.Name,
			Text:            text,
			FirstArgPreview: firstArgPreview(tc.Args),
		})
	}

	// Close the current message unit: the next text chunk starts a new one.
	t.text.Reset()
	t.textStreamed = false
}

func (a *Assembler) handleToolResult(f *wire.Frame) {
	t := a.turn
	// A tool result counts as intervening output: a thinking chunk after it
	// starts a new block.
	a.noteNonThinking()

	status := ""
	if f.Artifact != nil {
		status = f.Artifact.Status
	}
	a.emit(ToolCallResult{
		TurnID:     t.id,
		ToolCallID: f.ToolCallID,
		Name:       f.Name,
		ResultText: normalize.Content(f.Content),
		Status:     status,
	})
}

func (a *Assembler) handleEnd() {
	t := a.turn
	if t.thinkingLive {
		t.thinkingLive = false
		a.emit(ThinkingFinalized{TurnID: t.id, BlockID: t.thinkingBlock})
	}
	id := t.id
	a.teardownLocked()
	a.emit(TurnEnded{TurnID: id})
}

func (a *Assembler) handleError(f *wire.Frame) {
	t := a.turn
	// An open thinking block is finalized on the error path too, so the
	// renderer never sees a block left live.
	if t.thinkingLive {
		t.thinkingLive = false
		a.emit(ThinkingFinalized{TurnID: t.id, BlockID: t.thinkingBlock})
	}
	id := t.id
	msg := normalize.Content(f.Content)
	a.teardownLocked()
	a.emit(TurnError{TurnID: id, Message: msg})
}

// firstArgPreview renders the leading argument of a finalized tool call for
// display next to the tool name. Keys are visited in sorted order so the
// preview is deterministic; the first string value wins, falling back to
// the first value of any type.
func firstArgPreview(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := args[k].(string); ok && s != "" {
			return s
		}
	}
	return fmt.Sprintf("%v", args[keys[0]])
}

// debugf logs through the shared debug logger when enabled.
func debugf(format string, args ...any) {
	if config.DebugLog != nil {
		config.DebugLog.Printf(format, args...)
	}
}
