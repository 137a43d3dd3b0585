package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	markdown "github.com/MichaelMure/go-term-markdown"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
	runewidth "github.com/mattn/go-runewidth"

	"agtui/config"
	appmodel "agtui/model"
)

func (a *AppView) updateViewportContent(gotoBottom bool) {
	if len(a.dataModel.Messages) == 0 && !a.waitingFirst {
		a.viewport.SetContent(DimStyle.Render("No messages yet. Start chatting!"))
		return
	}

	var content strings.Builder

	for i, msg := range a.dataModel.Messages {
		content.WriteString(a.renderMessage(msg, i == len(a.dataModel.Messages)-1))
	}

	if a.waitingFirst {
		content.WriteString(fmt.Sprintf("%s %s\n", a.loadingSpinner.View(),
			DimStyle.Render("Waiting for response...")))
	}

	a.viewport.SetContent(content.String())
	if gotoBottom {
		a.viewport.GotoBottom()
	}
}

func (a *AppView) renderMessage(msg Message, isLast bool) string {
	timestamp := DimStyle.Render(msg.Timestamp.Format("[15:04]"))

	switch msg.Kind {
	case appmodel.KindToolCall:
		return a.renderToolCall(timestamp, msg)

	case appmodel.KindThinking:
		return a.renderThinking(timestamp, msg)

	case appmodel.KindSystem:
		return fmt.Sprintf("%s %s\n\n", timestamp, DimStyle.Render(msg.Rendered))
	}

	if msg.Role == "user" {
		return formatUserMessage(timestamp, UserStyle.Render("You"), msg.Rendered)
	}

	role := AssistantStyle.Render("Assistant")
	body := msg.Rendered
	if a.dataModel.Streaming && body != "" && isLast {
		body += "▋"
	}
	return fmt.Sprintf("%s %s\n%s\n\n", timestamp, role, body)
}

func (a *AppView) renderToolCall(timestamp string, msg Message) string {
	var icon string
	var style lipgloss.Style
	switch msg.ToolStatus {
	case "success":
		icon, style = "✓", ToolSuccessStyle
	case "error":
		icon, style = "✗", ToolErrorStyle
	default:
		icon, style = "•", ToolPendingStyle
	}

	line := msg.ToolName
	if msg.Rendered != "" {
		line = fmt.Sprintf("%s(%s)", msg.ToolName, msg.Rendered)
	}
	// Keep tool lines on one row; argument previews can be long.
	maxWidth := a.width - 12
	if maxWidth > 0 {
		line = runewidth.Truncate(line, maxWidth, "…")
	}

	return fmt.Sprintf("%s %s %s\n\n", timestamp, style.Render(icon), style.Render(line))
}

func (a *AppView) renderThinking(timestamp string, msg Message) string {
	label := "thinking"
	if msg.ThinkingLive {
		label = "thinking…"
	}
	header := fmt.Sprintf("%s %s\n", timestamp, ThinkingStyle.Render("∴ "+label))

	var body strings.Builder
	for _, line := range strings.Split(msg.Rendered, "\n") {
		body.WriteString("  " + ThinkingStyle.Render(line) + "\n")
	}
	return header + body.String() + "\n"
}

// formatUserMessage renders a user message behind a bold green vertical bar.
func formatUserMessage(timestamp, role, content string) string {
	greenBold := "\x1b[32;1m"
	reset := "\x1b[0m"
	bar := greenBold + "┃" + reset

	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s %s %s\n", bar, timestamp, role))
	for _, line := range strings.Split(content, "\n") {
		result.WriteString(fmt.Sprintf("%s %s\n", bar, line))
	}
	result.WriteString("\n")
	return result.String()
}

func (a AppView) View() string {
	if !a.ready {
		return "Initializing..."
	}

	if a.showHelp {
		return a.helpView()
	}
	if a.showSearch {
		return a.searchOverlayView()
	}

	var b strings.Builder
	b.WriteString(a.headerView())
	b.WriteString("\n")
	b.WriteString(a.viewport.View())
	b.WriteString("\n")
	b.WriteString(a.textarea.View())
	b.WriteString("\n")
	b.WriteString(a.statusView())
	return b.String()
}

func (a AppView) headerView() string {
	title := AssistantStyle.Bold(true).Render("agtui")

	conn := DimStyle.Render("○ disconnected")
	if a.dataModel.Connected {
		conn = ToolSuccessStyle.Render("● connected")
	}

	usage := ""
	if a.dataModel.InputTokens > 0 || a.dataModel.OutputTokens > 0 {
		usage = DimStyle.Render(fmt.Sprintf("  ↑%d ↓%d tokens",
			a.dataModel.InputTokens, a.dataModel.OutputTokens))
	}

	return fmt.Sprintf("%s  %s%s", title, conn, usage)
}

func (a AppView) statusView() string {
	if a.flashText != "" {
		return StatusStyle.Render(a.flashText)
	}
	return FormatFooter(
		"Enter", "Send",
		"Alt+Enter", "Newline",
		"Alt+S", "Search",
		"Alt+Y", "Copy reply",
		"Alt+H", "Help",
		"Ctrl+C", "Quit",
	)
}

func (a AppView) helpView() string {
	var b strings.Builder
	b.WriteString(AssistantStyle.Bold(true).Render("agtui - keyboard reference"))
	b.WriteString("\n\n")

	rows := [][2]string{
		{"Enter", "Send message"},
		{"Alt+Enter", "Insert newline"},
		{"Alt+S", "Search message archive"},
		{"Alt+Y", "Copy last assistant reply"},
		{"Alt+H", "Toggle this help"},
		{"Up/Down, PgUp/PgDn", "Scroll transcript"},
		{"Ctrl+C", "Quit"},
	}
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("  %-22s %s\n",
			SelectedStyle.Render(row[0]), HelpStyle.Render(row[1])))
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("Press Alt+H or Esc to close"))
	return b.String()
}

func (a AppView) searchOverlayView() string {
	var b strings.Builder
	b.WriteString(AssistantStyle.Bold(true).Render("Archive search"))
	b.WriteString("\n\n")
	b.WriteString(a.searchInput.View())
	b.WriteString("\n\n")

	if len(a.rankedResults) == 0 {
		b.WriteString(DimStyle.Render("No results"))
		b.WriteString("\n")
	}

	maxRows := a.height - 8
	if maxRows < 1 {
		maxRows = 1
	}
	for i, match := range a.rankedResults {
		if i >= maxRows {
			b.WriteString(DimStyle.Render(fmt.Sprintf("  … %d more", len(a.rankedResults)-i)))
			b.WriteString("\n")
			break
		}

		line := fmt.Sprintf("[%s] %s: %s",
			match.Timestamp.Format("2006-01-02"), match.Role,
			strings.ReplaceAll(match.Text, "\n", " "))
		if a.width > 6 {
			line = runewidth.Truncate(line, a.width-6, "…")
		}

		if i == a.selectedSearchIdx {
			b.WriteString(SelectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(FormatFooter("Enter", "Search", "Up/Down", "Navigate", "Esc", "Close"))
	return b.String()
}

// renderMarkdownAsync renders a finalized message off the update loop.
// Autolink is disabled so terminal emulators handle URL detection themselves.
func (a AppView) renderMarkdownAsync(messageIndex int, content string) tea.Cmd {
	width := a.width - 4
	if width < 20 {
		width = 80
	}
	return func() tea.Msg {
		start := time.Now()

		customExt := markdown.Extensions() &^ parser.Autolink
		p := parser.NewWithExtensions(customExt)
		r := markdown.NewRenderer(width, 0)
		doc := p.Parse([]byte(content))
		rendered := gomarkdown.Render(doc, r)

		if config.DebugLog != nil {
			config.DebugLog.Printf("[UI] markdown render for message %d took %v",
				messageIndex, time.Since(start))
		}

		return markdownRenderedMsg{
			MessageIndex: messageIndex,
			Rendered:     strings.TrimRight(string(rendered), "\n"),
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
