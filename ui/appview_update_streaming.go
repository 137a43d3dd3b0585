package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"agtui/config"
	appmodel "agtui/model"
	"agtui/stream"
)

// handleStreamEvent applies one assembler event to the transcript.
//
// Events carry the turn they belong to; anything for a turn other than the
// open one is stale (a debounce flush racing a reset, or frames from a
// response the user already abandoned) and is dropped without rendering.
func (a AppView) handleStreamEvent(ev stream.Event) (tea.Model, tea.Cmd) {
	if ev.Turn() != a.dataModel.TurnID {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[UI] dropping stale event %T for turn %s", ev, ev.Turn())
		}
		return a, nil
	}

	switch ev := ev.(type) {
	case stream.TextDelta:
		a.waitingFirst = false
		a.upsertLiveText(ev.FullText)
		a.updateViewportContent(true)
		return a, nil

	case stream.ThinkingDelta:
		a.waitingFirst = false
		a.upsertThinking(ev.BlockID, ev.FullThinking)
		a.updateViewportContent(true)
		return a, nil

	case stream.ThinkingFinalized:
		for i := range a.dataModel.Messages {
			msg := &a.dataModel.Messages[i]
			if msg.Kind == appmodel.KindThinking && msg.ThinkingBlock == ev.BlockID {
				msg.ThinkingLive = false
			}
		}
		a.updateViewportContent(false)
		return a, nil

	case stream.ToolCallStarted:
		a.waitingFirst = false
		var cmds []tea.Cmd

		// Text accompanying a pure tool-call turn arrives here instead of as
		// deltas; it becomes a normal assistant message before the tool line.
		if ev.Text != "" {
			a.dataModel.Messages = append(a.dataModel.Messages, Message{
				Role:      "assistant",
				Kind:      appmodel.KindText,
				Content:   ev.Text,
				Rendered:  ev.Text,
				Timestamp: time.Now(),
			})
			cmds = append(cmds, a.renderMarkdownAsync(len(a.dataModel.Messages)-1, ev.Text))
		}

		a.dataModel.Messages = append(a.dataModel.Messages, Message{
			Role:       "system",
			Kind:       appmodel.KindToolCall,
			Content:    ev.FirstArgPreview,
			Rendered:   ev.FirstArgPreview,
			Timestamp:  time.Now(),
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.Name,
		})
		a.updateViewportContent(true)
		return a, tea.Batch(cmds...)

	case stream.ToolCallArgsPreview:
		// Best-effort mid-stream parse; refresh the pending tool line if it
		// exists, otherwise wait for ToolCallStarted.
		if idx := a.findToolMessage(ev.ToolCallID); idx >= 0 {
			preview := firstStringArg(ev.Args)
			if preview != "" {
				a.dataModel.Messages[idx].Content = preview
				a.dataModel.Messages[idx].Rendered = preview
				a.updateViewportContent(false)
			}
		}
		return a, nil

	case stream.ToolCallResult:
		idx := a.findToolMessage(ev.ToolCallID)
		if idx < 0 {
			// Result for a call we never saw started (runtime-initiated or a
			// provider that skips chunks); synthesize the line.
			a.dataModel.Messages = append(a.dataModel.Messages, Message{
				Role:       "system",
				Kind:       appmodel.KindToolCall,
				Timestamp:  time.Now(),
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.Name,
			})
			idx = len(a.dataModel.Messages) - 1
		}
		a.dataModel.Messages[idx].ToolStatus = ev.Status
		a.updateViewportContent(true)
		return a, nil

	case stream.HTMLFragment:
		if a.preview != nil {
			a.preview.AppendFragment(ev.Fragment)
		}
		return a, nil

	case stream.HTMLStreamEnded:
		if a.preview != nil {
			a.preview.SetDocument(ev.Document)
		}
		return a, a.flash("Preview updated")

	case stream.UsageUpdated:
		a.dataModel.InputTokens = ev.InputTokens
		a.dataModel.OutputTokens = ev.OutputTokens
		return a, nil

	case stream.TurnEnded:
		a.waitingFirst = false
		a.finalizeThinking()
		cmds := a.renderTurnMarkdown()
		a.dataModel.EndTurn()
		a.updateViewportContent(true)
		return a, tea.Batch(cmds...)

	case stream.TurnError:
		a.waitingFirst = false
		a.finalizeThinking()
		a.dataModel.EndTurn()
		text := ev.Message
		if text == "" {
			text = "The runtime reported an error"
		}
		a.appendSystemMessage("Error: " + text)
		a.updateViewportContent(true)
		return a, nil
	}

	return a, nil
}

// upsertLiveText replaces the open assistant text message with the cumulative
// text, or starts a new one when the previous text unit was closed off by a
// tool call. Thinking entries are skipped: they interleave with a text unit
// without closing it.
func (a *AppView) upsertLiveText(fullText string) {
	for i := len(a.dataModel.Messages) - 1; i >= 0; i-- {
		msg := &a.dataModel.Messages[i]
		if msg.Kind == appmodel.KindThinking {
			continue
		}
		if msg.Role == "assistant" && msg.Kind == appmodel.KindText {
			msg.Content = fullText
			msg.Rendered = fullText
			return
		}
		break
	}
	a.dataModel.Messages = append(a.dataModel.Messages, Message{
		Role:      "assistant",
		Kind:      appmodel.KindText,
		Content:   fullText,
		Rendered:  fullText,
		Timestamp: time.Now(),
	})
}

func (a *AppView) upsertThinking(blockID int, fullThinking string) {
	for i := len(a.dataModel.Messages) - 1; i >= 0; i-- {
		msg := &a.dataModel.Messages[i]
		if msg.Role == "user" {
			break
		}
		if msg.Kind == appmodel.KindThinking && msg.ThinkingBlock == blockID {
			msg.Content = fullThinking
			msg.Rendered = fullThinking
			return
		}
	}
	a.dataModel.Messages = append(a.dataModel.Messages, Message{
		Role:          "assistant",
		Kind:          appmodel.KindThinking,
		Content:       fullThinking,
		Rendered:      fullThinking,
		Timestamp:     time.Now(),
		ThinkingBlock: blockID,
		ThinkingLive:  true,
	})
}

func (a *AppView) finalizeThinking() {
	for i := range a.dataModel.Messages {
		if a.dataModel.Messages[i].Kind == appmodel.KindThinking {
			a.dataModel.Messages[i].ThinkingLive = false
		}
	}
}

// findToolMessage locates the transcript entry for a tool call id, searching
// from the end since the call belongs to the open turn.
func (a *AppView) findToolMessage(toolCallID string) int {
	for i := len(a.dataModel.Messages) - 1; i >= 0; i-- {
		msg := a.dataModel.Messages[i]
		if msg.Kind == appmodel.KindToolCall && msg.ToolCallID == toolCallID {
			return i
		}
		if msg.Role == "user" {
			break
		}
	}
	return -1
}

// renderTurnMarkdown queues async markdown rendering for the turn's finalized
// assistant text. Streaming keeps plain text for speed; the pretty pass runs
// once per message at turn end.
func (a *AppView) renderTurnMarkdown() []tea.Cmd {
	var cmds []tea.Cmd
	for i := len(a.dataModel.Messages) - 1; i >= 0; i-- {
		msg := a.dataModel.Messages[i]
		if msg.Role == "user" {
			break
		}
		if msg.Role == "assistant" && msg.Kind == appmodel.KindText && msg.Content != "" {
			cmds = append(cmds, a.renderMarkdownAsync(i, msg.Content))
		}
	}
	return cmds
}

func firstStringArg(args map[string]any) string {
	for _, key := range sortedKeys(args) {
		if s, ok := args[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
