// Package ui implements the terminal renderer.
//
// The app view consumes decoded stream events (never raw frames) delivered
// as tea messages, maintains the visible transcript, and owns all
// presentation state. While a turn is streaming the input is disabled,
// which upholds the single-open-turn invariant without any locking.
package ui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"agtui/config"
	appmodel "agtui/model"
	"agtui/preview"
	"agtui/storage"
	"agtui/transport"
)

type AppView struct {
	// Reference to core data model
	dataModel *appmodel.Model

	// Live HTML preview server; nil when disabled
	preview *preview.Server

	// UI Components
	viewport viewport.Model
	textarea textarea.Model

	// Window state
	width  int
	height int
	ready  bool

	showHelp bool

	// Loading spinner shown between send and first content
	loadingSpinner spinner.Model
	waitingFirst   bool

	// Transient status-line notice ("copied", errors)
	flashText  string
	flashTicks int

	// Archive search overlay
	showSearch        bool
	searchInput       textinput.Model
	searchResults     []storage.MessageMatch
	rankedResults     []storage.MessageMatch
	selectedSearchIdx int
}

func NewAppView(dataModel *appmodel.Model, previewSrv *preview.Server) AppView {
	ta := textarea.New()
	ta.Placeholder = "Type your message (Alt+Enter for newline)..."
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.SetWidth(80)
	ta.SetPromptFunc(2, func(lineIdx int) string {
		if lineIdx == 0 {
			return "> "
		}
		return "| "
	})

	vp := viewport.New(0, 0)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(accentColor)

	searchInput := textinput.New()
	searchInput.Prompt = "Search: "
	searchInput.CharLimit = 100

	return AppView{
		dataModel:      dataModel,
		preview:        previewSrv,
		viewport:       vp,
		textarea:       ta,
		loadingSpinner: sp,
		searchInput:    searchInput,
	}
}

func (a AppView) Init() tea.Cmd {
	return textarea.Blink
}

func (a AppView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return a.handleResize(msg), nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case streamEventMsg:
		return a.handleStreamEvent(msg.Event)

	case transportStatusMsg:
		return a.handleTransportStatus(msg)

	case sendFailedMsg:
		a.dataModel.Streaming = false
		a.waitingFirst = false
		a.appendSystemMessage("Failed to send message: " + msg.Err.Error())
		a.updateViewportContent(true)
		return a, nil

	case markdownRenderedMsg:
		if msg.MessageIndex >= 0 && msg.MessageIndex < len(a.dataModel.Messages) {
			a.dataModel.Messages[msg.MessageIndex].Rendered = msg.Rendered
			a.updateViewportContent(false)
		}
		return a, nil

	case searchResultsMsg:
		return a.handleSearchResults(msg), nil

	case spinner.TickMsg:
		if !a.waitingFirst {
			return a, nil
		}
		var cmd tea.Cmd
		a.loadingSpinner, cmd = a.loadingSpinner.Update(msg)
		a.updateViewportContent(false)
		return a, cmd

	case flashTickMsg:
		if a.flashTicks > 0 {
			a.flashTicks--
			if a.flashTicks == 0 {
				a.flashText = ""
				return a, nil
			}
			return a, flashTick()
		}
		return a, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	a.textarea, cmd = a.textarea.Update(msg)
	cmds = append(cmds, cmd)
	a.viewport, cmd = a.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return a, tea.Batch(cmds...)
}

func (a AppView) handleResize(msg tea.WindowSizeMsg) AppView {
	a.width = msg.Width
	a.height = msg.Height

	headerHeight := 1
	footerHeight := a.textarea.Height() + 2 // textarea + status bar + spacing

	a.viewport.Width = msg.Width
	a.viewport.Height = msg.Height - headerHeight - footerHeight
	a.textarea.SetWidth(msg.Width - 2)

	if !a.ready {
		a.ready = true
	}
	a.updateViewportContent(false)
	return a
}

func (a *AppView) flash(text string) tea.Cmd {
	a.flashText = text
	a.flashTicks = 4
	return flashTick()
}

func flashTick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg {
		return flashTickMsg{}
	})
}

func (a *AppView) appendSystemMessage(text string) {
	a.dataModel.Messages = append(a.dataModel.Messages, Message{
		Role:      "system",
		Kind:      appmodel.KindSystem,
		Content:   text,
		Rendered:  text,
		Timestamp: time.Now(),
	})
}

func (a AppView) handleTransportStatus(msg transportStatusMsg) (AppView, tea.Cmd) {
	change := msg.Change
	wasConnected := a.dataModel.Connected
	a.dataModel.Connected = change.Status == transport.StatusConnected

	if wasConnected && !a.dataModel.Connected {
		// A mid-turn disconnect orphans the turn: the reconnected session's
		// frames cannot be trusted against stale accumulator state.
		if a.dataModel.Streaming {
			a.dataModel.Assembler.Reset()
			a.dataModel.Streaming = false
			a.waitingFirst = false
			a.appendSystemMessage("Disconnected from runtime - response interrupted")
			a.updateViewportContent(true)
		}
		if change.Err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[UI] transport disconnected: %v", change.Err)
		}
	}
	return a, nil
}
