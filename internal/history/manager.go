// Package history is the persistence boundary (spec.md §6): two operations
// over opaque, role-tagged JSON message records — add_message and
// get_history — dual-written to an append-only JSONL log and a SQLite
// database with FTS5 full-text search, exactly the shape of the teacher's
// history package adapted from its chat-specific event types to the
// generic agent-loop Message/ToolCall shape.
package history

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Manager implements agent.HistoryRepository.
type Manager struct {
	db          *sql.DB
	jsonlPath   string
	searchAvail bool
	mu          sync.Mutex
}

// New opens (creating if necessary) the SQLite database at dbPath and the
// JSONL log at jsonlPath, migrating from the JSONL log on first use if the
// database is empty.
func New(dbPath, jsonlPath string) (*Manager, error) {
	db, ftsEnabled, err := initDB(dbPath)
	if err != nil {
		return nil, err
	}

	m := &Manager{db: db, jsonlPath: jsonlPath, searchAvail: ftsEnabled}
	go m.EnsureMigrated()

	return m, nil
}

func (m *Manager) Close() {
	if m.db != nil {
		m.db.Close()
	}
}

// StartSession registers a new session row, used once when an agent loop
// is created.
func (m *Manager) StartSession(sessionID, model, systemPrompt string) error {
	now := time.Now().Unix()
	_, err := m.db.Exec(
		"INSERT OR IGNORE INTO sessions(uuid, created_at, model, system_prompt, summary) VALUES(?, ?, ?, ?, ?)",
		sessionID, now, model, systemPrompt, "",
	)
	return err
}

type jsonlRecord struct {
	SessionID string          `json:"session_id"`
	TS        int64           `json:"ts"`
	Message   json.RawMessage `json:"message"`
}

// AddMessage appends message to the JSONL log and indexes it in SQLite,
// in that order (append-then-mirror, per spec.md §5's ordering discipline).
func (m *Manager) AddMessage(_ context.Context, sessionID string, message json.RawMessage) error {
	now := time.Now().Unix()
	rec := jsonlRecord{SessionID: sessionID, TS: now, Message: message}
	if err := m.appendJSONL(rec); err != nil {
		return err
	}

	var peek struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	_ = json.Unmarshal(message, &peek)

	if _, err := m.db.Exec(
		"INSERT INTO messages(session_uuid, role, content, raw, created_at) VALUES(?, ?, ?, ?, ?)",
		sessionID, peek.Role, peek.Content, string(message), now,
	); err != nil {
		return fmt.Errorf("history: index message: %w", err)
	}

	if peek.Role == "user" {
		m.fillSummaryIfEmpty(sessionID, peek.Content)
	}
	return nil
}

func (m *Manager) fillSummaryIfEmpty(sessionID, content string) {
	summary := content
	if len(summary) > 100 {
		summary = summary[:100] + "..."
	}
	m.db.Exec("UPDATE sessions SET summary = ? WHERE uuid = ? AND (summary IS NULL OR summary = '')", summary, sessionID)
}

// GetHistory returns every message persisted for sessionID, in write order.
func (m *Manager) GetHistory(_ context.Context, sessionID string) ([]json.RawMessage, error) {
	rows, err := m.db.Query("SELECT raw FROM messages WHERE session_uuid = ? ORDER BY id ASC", sessionID)
	if err != nil {
		return nil, fmt.Errorf("history: get history: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		out = append(out, json.RawMessage(raw))
	}
	return out, nil
}

func (m *Manager) appendJSONL(data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.jsonlPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("history: append jsonl: %w", err)
	}
	defer f.Close()

	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = f.Write(append(b, '\n'))
	return err
}

// EnsureMigrated imports the JSONL log into SQLite if the sessions table is
// still empty (fresh database pointed at a pre-existing log).
func (m *Manager) EnsureMigrated() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	if err := m.db.QueryRow("SELECT count(*) FROM sessions").Scan(&count); err == nil && count > 0 {
		return
	}
	if _, err := os.Stat(m.jsonlPath); os.IsNotExist(err) {
		return
	}
	m.migrate()
}

func (m *Manager) migrate() {
	f, err := os.Open(m.jsonlPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	tx, err := m.db.Begin()
	if err != nil {
		return
	}
	defer tx.Rollback()

	stmtSession, _ := tx.Prepare("INSERT OR IGNORE INTO sessions(uuid, created_at, model, system_prompt, summary) VALUES(?, ?, ?, ?, ?)")
	stmtMsg, _ := tx.Prepare("INSERT INTO messages(session_uuid, role, content, raw, created_at) VALUES(?, ?, ?, ?, ?)")
	defer stmtSession.Close()
	defer stmtMsg.Close()

	for scanner.Scan() {
		var rec jsonlRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		var peek struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		_ = json.Unmarshal(rec.Message, &peek)

		stmtSession.Exec(rec.SessionID, rec.TS, "", "", "")
		stmtMsg.Exec(rec.SessionID, peek.Role, peek.Content, string(rec.Message), rec.TS)
	}

	tx.Commit()
}

// Search runs a full-text query over indexed message content.
func (m *Manager) Search(query string) ([]SearchResult, error) {
	if !m.searchAvail {
		return nil, fmt.Errorf("history: search unavailable (sqlite3 built without FTS5)")
	}
	m.EnsureMigrated()

	ftsQuery := ParseQuery(query)
	if ftsQuery == "" {
		return nil, fmt.Errorf("history: empty query")
	}

	rows, err := m.db.Query(`
		SELECT session_uuid, role, content, highlight(messages_fts, 0, '[1;31m', '[0m')
		FROM messages_fts
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT 50`, ftsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var content string
		if err := rows.Scan(&r.SessionUUID, &r.Role, &content, &r.Preview); err != nil {
			continue
		}
		var ts int64
		m.db.QueryRow("SELECT created_at FROM sessions WHERE uuid = ?", r.SessionUUID).Scan(&ts)
		r.Timestamp = time.Unix(ts, 0)
		results = append(results, r)
	}
	return results, nil
}

// ResolveSessionUUID finds the full session id given an exact match or an
// unambiguous prefix.
func (m *Manager) ResolveSessionUUID(partial string) (string, error) {
	var full string
	if err := m.db.QueryRow("SELECT uuid FROM sessions WHERE uuid = ?", partial).Scan(&full); err == nil {
		return full, nil
	}

	rows, err := m.db.Query("SELECT uuid FROM sessions WHERE uuid LIKE ? LIMIT 2", partial+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err == nil {
			matches = append(matches, u)
		}
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("history: session not found: %s", partial)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("history: ambiguous session id %q", partial)
	}
	return matches[0], nil
}

// ListRecentSessions returns the most recently created sessions, for the
// history browser.
func (m *Manager) ListRecentSessions(limit int) ([]SessionSummary, error) {
	rows, err := m.db.Query("SELECT uuid, created_at, model, summary FROM sessions ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var ts int64
		if err := rows.Scan(&s.UUID, &ts, &s.Model, &s.Summary); err != nil {
			continue
		}
		s.Timestamp = time.Unix(ts, 0)
		sessions = append(sessions, s)
	}
	return sessions, nil
}
