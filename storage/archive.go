// Package storage persists finalized turns to a local sqlite database.
//
// Only finalized messages are stored — streaming accumulator state is never
// persisted. Assistant content is stored as the raw provider payload JSON
// exactly as the runtime finalized it, and replayed through the normalize
// package on load. This keeps the historical path independent of the
// streaming state machine: replay needs only content normalization.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"agtui/normalize"
)

// Roles stored in the archive.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ArchivedMessage is one finalized message of a turn as stored.
type ArchivedMessage struct {
	ID        string
	ThreadID  string
	TurnID    string
	Role      string
	Content   string // raw provider payload JSON (plain text for user rows)
	Thinking  string
	ToolCalls string // JSON array of finalized tool calls, "" when none
	CreatedAt time.Time
}

// HistoryMessage is a replayed message with content already normalized for
// display.
type HistoryMessage struct {
	TurnID    string
	Role      string
	Text      string
	Thinking  string
	ToolCalls string
	Timestamp time.Time
}

// ThreadInfo summarizes one conversation thread.
type ThreadInfo struct {
	ThreadID     string
	MessageCount int
	UpdatedAt    time.Time
}

// MessageMatch is one search hit across the archive.
type MessageMatch struct {
	ThreadID  string
	Role      string
	Text      string
	Timestamp time.Time
}

// TurnArchive is the sqlite-backed message store.
type TurnArchive struct {
	db *sql.DB
}

// NewTurnArchive opens (or creates) the archive database under dataDir.
func NewTurnArchive(dataDir string) (*TurnArchive, error) {
	dbPath := filepath.Join(dataDir, "turns.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	a := &TurnArchive{db: db}
	if err := a.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize archive database: %w", err)
	}
	return a, nil
}

func (a *TurnArchive) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		turn_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		thinking TEXT,
		tool_calls TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Append stores one finalized message. A missing ID or timestamp is filled
// in.
func (a *TurnArchive) Append(msg *ArchivedMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	_, err := a.db.Exec(
		`INSERT INTO messages (id, thread_id, turn_id, role, content, thinking, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.TurnID, msg.Role, msg.Content,
		msg.Thinking, msg.ToolCalls, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// History replays a thread's messages in order, normalizing stored content
// payloads to display text.
func (a *TurnArchive) History(threadID string) ([]HistoryMessage, error) {
	rows, err := a.db.Query(
		`SELECT turn_id, role, content, thinking, tool_calls, created_at
		 FROM messages WHERE thread_id = ? ORDER BY created_at, id`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []HistoryMessage
	for rows.Next() {
		var turnID, role, content string
		var thinking, toolCalls sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&turnID, &role, &content, &thinking, &toolCalls, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		history = append(history, HistoryMessage{
			TurnID:    turnID,
			Role:      role,
			Text:      displayText(role, content),
			Thinking:  thinking.String,
			ToolCalls: toolCalls.String,
			Timestamp: createdAt,
		})
	}
	return history, rows.Err()
}

// displayText normalizes a stored payload for display. User rows hold plain
// text; assistant and tool rows hold the raw provider payload.
func displayText(role, content string) string {
	if role == RoleUser {
		return content
	}
	return normalize.Content(json.RawMessage(content))
}

// Threads lists known threads, most recently updated first.
func (a *TurnArchive) Threads() ([]ThreadInfo, error) {
	rows, err := a.db.Query(
		`SELECT thread_id, COUNT(*), MAX(created_at)
		 FROM messages GROUP BY thread_id ORDER BY MAX(created_at) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []ThreadInfo
	for rows.Next() {
		var t ThreadInfo
		var updatedAt string
		if err := rows.Scan(&t.ThreadID, &t.MessageCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		parsed, err := parseStoredTime(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		t.UpdatedAt = parsed
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// parseStoredTime decodes a timestamp selected through an aggregate
// expression, where the driver has no declared column type to convert it
// back to time.Time. The layouts mirror the driver's own parsing.
func parseStoredTime(s string) (time.Time, error) {
	if i := strings.Index(s, " m="); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Search returns messages whose normalized text contains the query,
// case-insensitively, across all threads. Candidate narrowing happens in
// sqlite; normalization happens here because stored assistant content is a
// raw payload.
func (a *TurnArchive) Search(query string) ([]MessageMatch, error) {
	if query == "" {
		return nil, nil
	}

	rows, err := a.db.Query(
		`SELECT thread_id, role, content, created_at
		 FROM messages WHERE content LIKE '%' || ? || '%' COLLATE NOCASE
		 ORDER BY created_at DESC LIMIT 200`,
		query,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var matches []MessageMatch
	for rows.Next() {
		var m MessageMatch
		var content string
		if err := rows.Scan(&m.ThreadID, &m.Role, &content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		m.Text = displayText(m.Role, content)
		if m.Text == "" {
			continue
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Close releases the database handle.
func (a *TurnArchive) Close() error {
	return a.db.Close()
}
