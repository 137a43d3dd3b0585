package stream

// Event is a decoded, renderer-ready occurrence within a turn. The assembler
// emits events strictly in frame-arrival order; the renderer never sees raw
// frames.
//
// Events are plain structs rather than an interface hierarchy so the UI can
// switch on them the same way it switches on tea messages.
type Event interface {
	// TurnID returns the turn the event belongs to. A renderer must ignore
	// events for turns it no longer considers open (e.g. a stale debounce
	// flush racing a reset).
	Turn() string
}

// TextDelta reports new assistant text. FullText is the cumulative text of
// the current message unit, not just the delta, so a renderer can replace
// rather than append.
type TextDelta struct {
	TurnID   string
	FullText string
}

// ThinkingDelta reports new reasoning-trace text for one thinking block.
// BlockID increments each time a logically separate reasoning span starts
// (after intervening text or tool output).
type ThinkingDelta struct {
	TurnID       string
	BlockID      int
	FullThinking string
}

// ThinkingFinalized marks a thinking block as complete; no further
// ThinkingDelta will carry its BlockID.
type ThinkingFinalized struct {
	TurnID  string
	BlockID int
}

// ToolCallStarted reports a finalized tool invocation. Text carries the
// assistant text that accompanied a pure tool-call turn (OpenAI style);
// it is empty when the text was already streamed as deltas. FirstArgPreview
// is a short human-readable rendering of the leading argument.
type ToolCallStarted struct {
	TurnID          string
	ToolCallID      string
	Name            string
	Text            string
	FirstArgPreview string
}

// ToolCallArgsPreview surfaces a successful mid-stream parse of a tool
// call's partial arguments. Emitted only for tools registered as
// previewable; Args is the best-effort parse, never the source of truth.
type ToolCallArgsPreview struct {
	TurnID     string
	ToolCallID string
	Name       string
	Args       map[string]any
}

// ToolCallResult reports the outcome of a tool invocation. Status is
// "success", "error", or empty when the runtime sent no artifact status.
type ToolCallResult struct {
	TurnID     string
	ToolCallID string
	Name       string
	ResultText string
	Status     string
}

// HTMLFragment carries a cleaned, escape-decoded chunk of the HTML document
// being streamed inside a tool argument. Fragments arrive at the debounce
// cadence, not per frame.
type HTMLFragment struct {
	TurnID   string
	Fragment string
}

// HTMLStreamEnded carries the complete cleaned document once the closing
// tag has been seen. No further HTMLFragment events follow for the turn.
type HTMLStreamEnded struct {
	TurnID   string
	Document string
}

// UsageUpdated reports cumulative token usage for the turn.
type UsageUpdated struct {
	TurnID       string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// TurnEnded marks the normal end of a turn. All per-turn accumulator state
// has been discarded by the time it is emitted.
type TurnEnded struct {
	TurnID string
}

// TurnError reports a backend-declared turn failure. The turn is over; the
// assembler returns to idle as if TurnEnded had occurred.
type TurnError struct {
	TurnID  string
	Message string
}

func (e TextDelta) Turn() string           { return e.TurnID }
func (e ThinkingDelta) Turn() string       { return e.TurnID }
func (e ThinkingFinalized) Turn() string   { return e.TurnID }
func (e ToolCallStarted) Turn() string     { return e.TurnID }
func (e ToolCallArgsPreview) Turn() string { return e.TurnID }
func (e ToolCallResult) Turn() string      { return e.TurnID }
func (e HTMLFragment) Turn() string        { return e.TurnID }
func (e HTMLStreamEnded) Turn() string     { return e.TurnID }
func (e UsageUpdated) Turn() string        { return e.TurnID }
func (e TurnEnded) Turn() string           { return e.TurnID }
func (e TurnError) Turn() string           { return e.TurnID }

// EventFunc receives events from the assembler. Called on the transport
// delivery goroutine and, for HTMLFragment, on the debounce timer goroutine;
// implementations hand off to their own loop (e.g. tea.Program.Send) rather
// than doing work inline.
type EventFunc func(Event)
