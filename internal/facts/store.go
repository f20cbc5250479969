// Package facts provides long-term memory: short durable statements
// about a user, distilled from conversations. The store is append-only
// and makes no deduplication guarantee.
package facts

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Fact is one remembered statement about a user.
type Fact struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Fact      string    `json:"fact"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages fact persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a fact store at the given database path.
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
	CREATE TABLE IF NOT EXISTS facts (
		id         TEXT PRIMARY KEY,
		user       TEXT NOT NULL,
		fact       TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append stores a new fact for a user. Existing facts are never
// updated or checked for duplicates.
func (s *Store) Append(user, fact string) (*Fact, error) {
	if fact == "" {
		return nil, fmt.Errorf("fact text is required")
	}

	f := &Fact{
		ID:        uuid.NewString(),
		User:      user,
		Fact:      fact,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO facts (id, user, fact, created_at) VALUES (?, ?, ?, ?)`,
		f.ID, f.User, f.Fact, f.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append fact: %w", err)
	}
	return f, nil
}

// Recent returns a user's newest facts, most recent first.
func (s *Store) Recent(user string, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, user, fact, created_at FROM facts
		 WHERE user = ? ORDER BY created_at DESC LIMIT ?`, user, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.User, &f.Fact, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
