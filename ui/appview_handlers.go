package ui

import (
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"agtui/config"
	appmodel "agtui/model"
	"agtui/storage"
)

func (a AppView) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.showSearch {
		return a.handleSearchKey(msg)
	}

	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit

	case "esc":
		if a.showHelp {
			a.showHelp = false
			return a, nil
		}
		return a, nil

	case "alt+h":
		a.showHelp = !a.showHelp
		return a, nil

	case "alt+s":
		a.showSearch = true
		a.searchInput.SetValue("")
		a.searchInput.Focus()
		a.searchResults = nil
		a.rankedResults = nil
		a.selectedSearchIdx = 0
		a.textarea.Blur()
		return a, nil

	case "alt+y":
		return a, a.copyLastReply()

	case "alt+enter":
		a.textarea.InsertString("\n")
		return a, nil

	case "enter":
		return a.sendMessage()
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	a.textarea, cmd = a.textarea.Update(msg)
	cmds = append(cmds, cmd)
	a.viewport, cmd = a.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return a, tea.Batch(cmds...)
}

// sendMessage submits the textarea content as a new turn. Refused while a
// turn is streaming - the input stays visible but inert, which is what keeps
// at most one turn open at a time.
func (a AppView) sendMessage() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(a.textarea.Value())
	if text == "" {
		return a, nil
	}
	if a.dataModel.Streaming {
		return a, a.flash("Still streaming - wait for the response to finish")
	}
	if !a.dataModel.Connected {
		return a, a.flash("Not connected to runtime")
	}

	// Reset assembler state BEFORE the send so the response's first frame
	// lands in fresh accumulators.
	a.dataModel.BeginTurn(text)
	if a.preview != nil {
		a.preview.Reset()
	}

	a.textarea.Reset()
	a.waitingFirst = true
	a.updateViewportContent(true)

	model := a.dataModel
	return a, tea.Batch(
		a.loadingSpinner.Tick,
		func() tea.Msg {
			err := model.Transport.SendTurn(
				text,
				model.ThreadID,
				model.Config.Agent,
				model.Config.AgentMode,
				model.Config.DefaultModel,
				nil,
			)
			if err != nil {
				return sendFailedMsg{Err: err}
			}
			return nil
		},
	)
}

// copyLastReply puts the most recent assistant text message on the system
// clipboard.
func (a *AppView) copyLastReply() tea.Cmd {
	for i := len(a.dataModel.Messages) - 1; i >= 0; i-- {
		msg := a.dataModel.Messages[i]
		if msg.Role == "assistant" && msg.Kind == appmodel.KindText && msg.Content != "" {
			if err := clipboard.WriteAll(msg.Content); err != nil {
				if config.DebugLog != nil {
					config.DebugLog.Printf("[UI] clipboard write failed: %v", err)
				}
				return a.flash("Copy failed")
			}
			return a.flash("Copied last reply")
		}
	}
	return a.flash("Nothing to copy")
}

func (a AppView) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+c":
		a.showSearch = false
		a.searchInput.Blur()
		a.textarea.Focus()
		return a, textarea.Blink

	case "enter":
		query := strings.TrimSpace(a.searchInput.Value())
		if query == "" {
			return a, nil
		}
		return a, a.searchArchiveCmd(query)

	case "up":
		if a.selectedSearchIdx > 0 {
			a.selectedSearchIdx--
		}
		return a, nil

	case "down":
		if a.selectedSearchIdx < len(a.rankedResults)-1 {
			a.selectedSearchIdx++
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.searchInput, cmd = a.searchInput.Update(msg)
	return a, cmd
}

// searchArchiveCmd queries the archive off the update loop.
func (a AppView) searchArchiveCmd(query string) tea.Cmd {
	archive := a.dataModel.Archive
	return func() tea.Msg {
		if archive == nil {
			return searchResultsMsg{Query: query}
		}
		matches, err := archive.Search(query)
		return searchResultsMsg{Query: query, Matches: matches, Err: err}
	}
}

// handleSearchResults ranks sqlite's substring candidates with fuzzy match
// scoring so the best hits surface first.
func (a AppView) handleSearchResults(msg searchResultsMsg) AppView {
	if msg.Err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[UI] archive search failed: %v", msg.Err)
		}
		a.searchResults = nil
		a.rankedResults = nil
		return a
	}

	a.searchResults = msg.Matches
	a.rankedResults = rankMatches(msg.Query, msg.Matches)
	a.selectedSearchIdx = 0
	return a
}

type matchSource []storage.MessageMatch

func (s matchSource) String(i int) string { return s[i].Text }
func (s matchSource) Len() int            { return len(s) }

func rankMatches(query string, matches []storage.MessageMatch) []storage.MessageMatch {
	if len(matches) == 0 {
		return nil
	}

	ranked := fuzzy.FindFrom(query, matchSource(matches))
	if len(ranked) == 0 {
		// Substring hit but no fuzzy score (e.g. multi-word query); keep
		// sqlite's recency order.
		return matches
	}

	out := make([]storage.MessageMatch, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, matches[r.Index])
	}
	return out
}
