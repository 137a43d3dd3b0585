// Package wire defines the frame types delivered by the agent runtime over
// the websocket connection.
//
// The runtime relays messages from heterogeneous LLM providers, so a frame's
// content payload has no single shape: OpenAI-style responses carry a plain
// string, Anthropic and Gemini responses carry arrays of content blocks, and
// reasoning models add a separate thinking payload. Frames are decoded
// tolerantly: a payload that doesn't match any known shape decodes to an
// empty value rather than failing, and the stream layer drops what it cannot
// interpret.
//
// # Frame Types
//
//   - "AIMessageChunk" — a partial assistant output frame (streaming delta)
//   - "ai"             — a finalized assistant message, carries complete tool calls
//   - "tool"           — the result of a previously-invoked tool call
//   - "human"          — echo of a user message (no reassembly semantics)
//   - "error"          — a backend-declared turn failure
//   - "end"            — end of turn
package wire

import (
	"encoding/json"
	"errors"
)

// Frame type discriminator values.
const (
	TypeAIMessageChunk = "AIMessageChunk"
	TypeAI             = "ai"
	TypeTool           = "tool"
	TypeHuman          = "human"
	TypeError          = "error"
	TypeEnd            = "end"
)

// Frame is one discrete message delivered by the transport during a turn.
// It is a tagged union discriminated by Type; which fields are populated
// depends on the frame type.
type Frame struct {
	Type string `json:"type"`

	// Content is the raw provider content payload: a JSON string, an array
	// of content blocks, or absent. Kept raw so normalization can pattern
	// match on the actual shape.
	Content json.RawMessage `json:"content,omitempty"`

	// Thinking carries reasoning-trace blocks on AIMessageChunk frames.
	Thinking json.RawMessage `json:"thinking,omitempty"`

	// BaseMessage carries tool call data: incremental argument chunks on
	// AIMessageChunk frames, finalized tool calls on ai frames.
	BaseMessage *BaseMessage `json:"base_message,omitempty"`

	// TokenUsage is reported incrementally on AIMessageChunk frames.
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`

	// Fields for tool result frames.
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Artifact   *Artifact `json:"artifact,omitempty"`

	// ThreadID identifies the conversation thread, when the runtime sets it.
	ThreadID string `json:"thread_id,omitempty"`
}

// BaseMessage holds the tool-call portion of an assistant frame.
type BaseMessage struct {
	ToolCallChunks []ToolCallChunk `json:"tool_call_chunks,omitempty"`
	ToolCalls      []ToolCall      `json:"tool_calls,omitempty"`
}

// ToolCallChunk is one incremental fragment of a tool call's JSON arguments.
// Name and ID are typically present only on the first chunk for an index.
type ToolCallChunk struct {
	Index int    `json:"index"`
	Name  string `json:"name,omitempty"`
	ID    string `json:"id,omitempty"`
	Args  string `json:"args,omitempty"`
}

// ToolCall is a finalized tool invocation as carried on ai frames. Args is
// the complete parsed argument object; it is the source of truth for a tool
// call's arguments (the streamed fragments are only used for live feedback).
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Artifact carries out-of-band metadata on tool result frames.
type Artifact struct {
	Status string `json:"status,omitempty"` // "success" or "error"
}

// TokenUsage is the runtime's token accounting for a frame.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another usage report into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ContentBlock is a structured fragment of assistant output as emitted by
// non-OpenAI providers. The shape is duck-typed per provider: Anthropic uses
// type "text" with a text field and "thinking" with a thinking field, Gemini
// uses "text_delta", and OpenAI reasoning summaries arrive as a summary
// array. All fields are optional.
type ContentBlock struct {
	Type     string         `json:"type,omitempty"`
	Text     string         `json:"text,omitempty"`
	Content  string         `json:"content,omitempty"`
	Thinking string         `json:"thinking,omitempty"`
	Summary  []SummaryBlock `json:"summary,omitempty"`
}

// SummaryBlock is one item of a reasoning summary. Providers emit summary
// items either as plain strings or as {text: ...} objects; both decode to
// the Text field.
type SummaryBlock struct {
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
}

// UnmarshalJSON accepts both a bare string and an object form.
func (s *SummaryBlock) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Text = str
		return nil
	}

	type summaryAlias SummaryBlock
	var obj summaryAlias
	if err := json.Unmarshal(data, &obj); err != nil {
		// Unknown shape decodes to an empty block rather than failing the
		// whole frame.
		*s = SummaryBlock{}
		return nil
	}
	*s = SummaryBlock(obj)
	return nil
}

// ErrMissingType is returned by DecodeFrame for frames without a type tag.
var ErrMissingType = errors.New("wire: frame has no type field")

// DecodeFrame parses one websocket text message into a Frame. Frames that
// fail to decode, or that carry no type tag, are reported as errors so the
// caller can log and drop them; a malformed frame never aborts the turn.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Type == "" {
		return nil, ErrMissingType
	}
	return &f, nil
}
