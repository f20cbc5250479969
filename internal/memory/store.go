// Package memory provides conversation persistence. Conversations own
// an append-only, strictly ordered message sequence; messages are
// immutable once written.
package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/slyngg/adpilot/internal/llm"
	"github.com/slyngg/adpilot/internal/tools"
)

// ErrConversationNotFound is returned when a conversation id is unknown.
var ErrConversationNotFound = errors.New("conversation not found")

// Conversation is one chat thread owned by a user.
type Conversation struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one immutable entry in a conversation. Seq is assigned at
// append time and defines the total order within the conversation.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Seq            int64            `json:"seq"`
	Role           string           `json:"role"` // user, assistant, tool
	Content        string           `json:"content"`
	ToolCalls      []llm.ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID     string           `json:"tool_call_id,omitempty"`
	Chart          *tools.ChartSpec `json:"chart,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Store is the SQLite-backed conversation store.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the conversation database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		tool_calls      TEXT,
		tool_call_id    TEXT,
		chart           TEXT,
		created_at      TIMESTAMP NOT NULL,
		UNIQUE(conversation_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, seq);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner
		ON conversations(owner, updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateConversation starts a new conversation for a user.
func (s *Store) CreateConversation(owner, title string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(
		`INSERT INTO conversations (id, owner, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Owner, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Conversation fetches a conversation by id.
func (s *Store) Conversation(id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.QueryRow(
		`SELECT id, owner, title, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Owner, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns a user's conversations, most recent first.
func (s *Store) ListConversations(owner string) ([]Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, owner, title, created_at, updated_at
		 FROM conversations WHERE owner = ? ORDER BY updated_at DESC`, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.Owner, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// AppendMessage appends a message to a conversation, assigning the
// next sequence number inside a transaction so ordering is strict
// under concurrent writers. The stored message is returned.
func (s *Store) AppendMessage(conversationID string, m Message) (Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Message{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(1) FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err != nil {
		return Message{}, fmt.Errorf("check conversation: %w", err)
	}
	if exists == 0 {
		return Message{}, ErrConversationNotFound
	}

	var seq int64
	err = tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&seq)
	if err != nil {
		return Message{}, fmt.Errorf("next seq: %w", err)
	}

	m.ID = uuid.NewString()
	m.ConversationID = conversationID
	m.Seq = seq
	m.CreatedAt = time.Now().UTC()

	toolCalls, err := marshalNullable(m.ToolCalls)
	if err != nil {
		return Message{}, fmt.Errorf("encode tool calls: %w", err)
	}
	chart, err := marshalNullable(m.Chart)
	if err != nil {
		return Message{}, fmt.Errorf("encode chart: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO messages (id, conversation_id, seq, role, content, tool_calls, tool_call_id, chart, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Seq, m.Role, m.Content, toolCalls, nullable(m.ToolCallID), chart, m.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, m.CreatedAt, conversationID)
	if err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// Messages returns a conversation's messages in order.
func (s *Store) Messages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, seq, role, content, tool_calls, tool_call_id, chart, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m          Message
			toolCalls  sql.NullString
			toolCallID sql.NullString
			chart      sql.NullString
		)
		err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Role, &m.Content,
			&toolCalls, &toolCallID, &chart, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		m.ToolCallID = toolCallID.String
		if chart.Valid && chart.String != "" {
			if err := json.Unmarshal([]byte(chart.String), &m.Chart); err != nil {
				return nil, fmt.Errorf("decode chart: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageCount returns how many messages a conversation holds.
func (s *Store) MessageCount(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	// Typed nils (empty slice, nil pointer) also store as NULL.
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(b) == "null" || string(b) == "[]" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
