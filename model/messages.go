package model

import (
	"agtui/storage"
	"agtui/stream"
	"agtui/transport"
)

// StreamEventMsg wraps one assembler event for the tea update loop. Events
// are forwarded with tea.Program.Send from the frame-pump goroutine, which
// preserves arrival order.
type StreamEventMsg struct {
	Event stream.Event
}

// TransportStatusMsg reports a connection state change.
type TransportStatusMsg struct {
	Change transport.StatusChange
}

// SendFailedMsg reports that submitting a turn to the runtime failed.
type SendFailedMsg struct {
	Err error
}

// MarkdownRenderedMsg carries an async markdown rendering result.
type MarkdownRenderedMsg struct {
	MessageIndex int
	Rendered     string
}

// SearchResultsMsg carries archive search results for the search overlay.
type SearchResultsMsg struct {
	Query   string
	Matches []storage.MessageMatch
	Err     error
}

// FlashTickMsg drives transient status-line notices (e.g. "copied").
type FlashTickMsg struct{}
