// Package store is the persistence boundary: a SQLite-backed document store
// for conversations, spaces, and insights. Turn lists and member-id lists
// are JSON columns; a column that fails to decode is a data-integrity
// failure, distinct from a missing row.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when the requested document does not exist.
var ErrNotFound = errors.New("not found")

// IntegrityError marks a document whose stored shape is unusable
// (e.g. a turns column that is not a JSON sequence). The row exists, so
// this is deliberately not ErrNotFound.
type IntegrityError struct {
	Doc string
	ID  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("corrupt %s document %q: %v", e.Doc, e.ID, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// StoredTurn is one turn as persisted inside a conversation document.
// Role stays a raw string here; the context builder maps it onto the
// closed role enumeration and decides what a bad value means.
type StoredTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is a captured transcript document.
type Conversation struct {
	ID    string
	Title string
	Note  string
	Turns []StoredTurn
}

// Space groups conversations under one theme. ConversationIDs preserves
// the user's ordering.
type Space struct {
	ID              string
	Title           string
	Note            string
	ConversationIDs []string
}

// Insight is a persisted question/answer pair. Created once, never mutated.
type Insight struct {
	ID             string
	ConversationID string
	SpaceID        string
	Question       string
	Answer         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LocalStore implements the persistence boundary on SQLite.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore opens (creating if needed) the SQLite database at path.
// Use ":memory:" for tests.
func NewLocalStore(path string) (*LocalStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		note       TEXT NOT NULL DEFAULT '',
		turns      TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS spaces (
		id               TEXT PRIMARY KEY,
		title            TEXT NOT NULL DEFAULT '',
		note             TEXT NOT NULL DEFAULT '',
		conversation_ids TEXT NOT NULL DEFAULT '[]',
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS insights (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL DEFAULT '',
		space_id        TEXT NOT NULL DEFAULT '',
		question        TEXT NOT NULL,
		answer          TEXT NOT NULL,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_insights_conversation ON insights(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_insights_space ON insights(space_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// GetConversation fetches one conversation. Returns ErrNotFound when the
// row is absent and *IntegrityError when its turn list does not decode.
func (s *LocalStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, note, turns FROM conversations WHERE id = ?`, id)

	var c Conversation
	var turnsJSON string
	if err := row.Scan(&c.ID, &c.Title, &c.Note, &turnsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(turnsJSON), &c.Turns); err != nil {
		return nil, &IntegrityError{Doc: "conversation", ID: id, Err: err}
	}
	return &c, nil
}

// GetConversations is the batched read used for space aggregation. The
// result maps id to document for every member that exists and decodes;
// missing or corrupt members are simply absent, the caller decides what
// that means.
func (s *LocalStore) GetConversations(ctx context.Context, ids []string) (map[string]*Conversation, error) {
	if len(ids) == 0 {
		return map[string]*Conversation{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, title, note, turns FROM conversations WHERE id IN (?` +
		repeat(",?", len(ids)-1) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch get conversations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Conversation, len(ids))
	for rows.Next() {
		var c Conversation
		var turnsJSON string
		if err := rows.Scan(&c.ID, &c.Title, &c.Note, &turnsJSON); err != nil {
			return nil, fmt.Errorf("batch get conversations: %w", err)
		}
		if err := json.Unmarshal([]byte(turnsJSON), &c.Turns); err != nil {
			continue
		}
		out[c.ID] = &c
	}
	return out, rows.Err()
}

// GetSpace fetches one space document, ErrNotFound when absent.
func (s *LocalStore) GetSpace(ctx context.Context, id string) (*Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, note, conversation_ids FROM spaces WHERE id = ?`, id)

	var sp Space
	var idsJSON string
	if err := row.Scan(&sp.ID, &sp.Title, &sp.Note, &idsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get space %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(idsJSON), &sp.ConversationIDs); err != nil {
		return nil, &IntegrityError{Doc: "space", ID: id, Err: err}
	}
	return &sp, nil
}

// PutConversation upserts a conversation document.
func (s *LocalStore) PutConversation(ctx context.Context, c *Conversation) error {
	turnsJSON, err := json.Marshal(c.Turns)
	if err != nil {
		return fmt.Errorf("encode turns: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, note, turns) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			note = excluded.note,
			turns = excluded.turns,
			updated_at = CURRENT_TIMESTAMP`,
		c.ID, c.Title, c.Note, string(turnsJSON))
	if err != nil {
		return fmt.Errorf("put conversation %s: %w", c.ID, err)
	}
	return nil
}

// PutSpace upserts a space document.
func (s *LocalStore) PutSpace(ctx context.Context, sp *Space) error {
	idsJSON, err := json.Marshal(sp.ConversationIDs)
	if err != nil {
		return fmt.Errorf("encode conversation ids: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO spaces (id, title, note, conversation_ids) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			note = excluded.note,
			conversation_ids = excluded.conversation_ids,
			updated_at = CURRENT_TIMESTAMP`,
		sp.ID, sp.Title, sp.Note, string(idsJSON))
	if err != nil {
		return fmt.Errorf("put space %s: %w", sp.ID, err)
	}
	return nil
}

// AddInsight persists a new insight and returns it with id and timestamps
// assigned. Insights are write-once.
func (s *LocalStore) AddInsight(ctx context.Context, conversationID, spaceID, question, answer string) (*Insight, error) {
	ins := &Insight{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SpaceID:        spaceID,
		Question:       question,
		Answer:         answer,
		CreatedAt:      time.Now().UTC(),
	}
	ins.UpdatedAt = ins.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insights (id, conversation_id, space_id, question, answer, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ins.ID, ins.ConversationID, ins.SpaceID, ins.Question, ins.Answer,
		ins.CreatedAt.Format(time.RFC3339Nano), ins.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("add insight: %w", err)
	}
	return ins, nil
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
