// Package model holds the application's core data state and the message
// types exchanged with the UI layer.
//
// The model is UI-framework-free: it owns the transcript, the open turn's
// identifiers and the collaborators (transport, assembler, archive), while
// the ui package owns presentation. Stream events arrive as tea messages
// wrapping stream.Event values; the UI mutates the transcript in response.
package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"agtui/config"
	"agtui/storage"
	"agtui/stream"
	"agtui/transport"
)

// Message kinds in the transcript. Tool activity and thinking traces are
// transcript entries of their own kind rather than separate data structures,
// which keeps rendering a single pass over one slice.
const (
	KindText     = "text"
	KindThinking = "thinking"
	KindToolCall = "tool_call"
	KindSystem   = "system"
)

// Message is one transcript entry.
type Message struct {
	Role      string // "user", "assistant", "system"
	Kind      string
	Content   string
	Rendered  string // cached markdown rendering
	Timestamp time.Time

	// Tool call fields (KindToolCall).
	ToolCallID string
	ToolName   string
	ToolStatus string // "", "success", "error"

	// Thinking fields (KindThinking).
	ThinkingBlock int
	ThinkingLive  bool
}

// Model holds the core application state.
type Model struct {
	Config    *config.Config
	Archive   *storage.TurnArchive
	Transport *transport.Client
	Assembler *stream.Assembler

	Messages []Message
	ThreadID string

	Streaming bool
	Connected bool
	TurnID    string

	// Cumulative token usage for the current turn.
	InputTokens  int
	OutputTokens int
}

// NewModel creates a model and replays the thread's history from the
// archive. A nil archive (e.g. storage init failed) degrades to an empty
// transcript.
func NewModel(cfg *config.Config, archive *storage.TurnArchive, client *transport.Client, asm *stream.Assembler, threadID string) *Model {
	if threadID == "" {
		threadID = uuid.New().String()
	}

	m := &Model{
		Config:    cfg,
		Archive:   archive,
		Transport: client,
		Assembler: asm,
		ThreadID:  threadID,
	}

	if archive != nil {
		history, err := archive.History(threadID)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Model] history replay failed: %v", err)
			}
			return m
		}
		for _, h := range history {
			msg := Message{
				Role:      h.Role,
				Kind:      KindText,
				Content:   h.Text,
				Rendered:  h.Text,
				Timestamp: h.Timestamp,
			}
			if h.Role == storage.RoleTool {
				msg.Role = "system"
				msg.Kind = KindToolCall
			}
			m.Messages = append(m.Messages, msg)
		}
	}

	return m
}

// BeginTurn resets per-turn assembler state and records the user message.
// Must run before the transport send, so the response's first frame lands
// in fresh accumulators.
func (m *Model) BeginTurn(text string) string {
	m.TurnID = m.Assembler.StartTurn()
	m.Streaming = true
	m.InputTokens = 0
	m.OutputTokens = 0

	m.Messages = append(m.Messages, Message{
		Role:      "user",
		Kind:      KindText,
		Content:   text,
		Rendered:  text,
		Timestamp: time.Now(),
	})

	if m.Archive != nil {
		err := m.Archive.Append(&storage.ArchivedMessage{
			ThreadID: m.ThreadID,
			TurnID:   m.TurnID,
			Role:     storage.RoleUser,
			Content:  text,
		})
		if err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[Model] failed to archive user message: %v", err)
		}
	}

	return m.TurnID
}

// EndTurn archives the finalized assistant output and returns the model to
// idle.
func (m *Model) EndTurn() {
	turnID := m.TurnID
	m.Streaming = false
	m.TurnID = ""

	if m.Archive == nil {
		return
	}

	start := m.lastUserIndex() + 1
	thinking, toolCalls := m.turnTrace(start)

	// Persist the assistant entries of the trailing turn. Content is stored
	// as a JSON string payload so replay goes through normalization like
	// any other provider payload. The turn's thinking trace and tool calls
	// ride on the first archived row.
	first := true
	for i := start; i < len(m.Messages); i++ {
		msg := m.Messages[i]
		if msg.Role != "assistant" || msg.Kind != KindText || msg.Content == "" {
			continue
		}
		payload, err := json.Marshal(msg.Content)
		if err != nil {
			continue
		}
		row := &storage.ArchivedMessage{
			ThreadID: m.ThreadID,
			TurnID:   turnID,
			Role:     storage.RoleAssistant,
			Content:  string(payload),
		}
		if first {
			row.Thinking = thinking
			row.ToolCalls = toolCalls
			first = false
		}
		if err := m.Archive.Append(row); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[Model] failed to archive assistant message: %v", err)
		}
	}
}

// turnTrace collects the turn's thinking text and finalized tool calls from
// the transcript entries at and after start.
func (m *Model) turnTrace(start int) (thinking, toolCalls string) {
	var thinkingParts []string
	type archivedCall struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status,omitempty"`
	}
	var calls []archivedCall

	for i := start; i < len(m.Messages); i++ {
		msg := m.Messages[i]
		switch msg.Kind {
		case KindThinking:
			if msg.Content != "" {
				thinkingParts = append(thinkingParts, msg.Content)
			}
		case KindToolCall:
			calls = append(calls, archivedCall{
				ID:     msg.ToolCallID,
				Name:   msg.ToolName,
				Status: msg.ToolStatus,
			})
		}
	}

	thinking = strings.Join(thinkingParts, "\n\n")
	if len(calls) > 0 {
		if data, err := json.Marshal(calls); err == nil {
			toolCalls = string(data)
		}
	}
	return thinking, toolCalls
}

func (m *Model) lastUserIndex() int {
	for i := len(m.Messages) - 1; i >= 0; i-- {
		if m.Messages[i].Role == "user" {
			return i
		}
	}
	return -1
}
