// Package journal keeps an append-only SQLite record of finished turns
// for auditing. It is write-mostly; nothing in it feeds back into the
// conversation history.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Turn is one journaled conversation turn.
type Turn struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Language       string    `json:"language,omitempty"`
	UserText       string    `json:"user_text"`
	Reply          string    `json:"reply"`
	Topic          string    `json:"topic,omitempty"`
	Action         string    `json:"action,omitempty"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
}

// OutcomeCount is one row of a summary.
type OutcomeCount struct {
	Outcome       string  `json:"outcome"`
	Turns         int64   `json:"turns"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Store reads and writes the turns table.
type Store struct {
	db *sql.DB
}

// NewStore creates the schema on db if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS turns (
		id              TEXT PRIMARY KEY,
		timestamp       TEXT NOT NULL,
		request_id      TEXT NOT NULL,
		conversation_id TEXT,
		language        TEXT,
		user_text       TEXT NOT NULL,
		reply           TEXT NOT NULL,
		topic           TEXT,
		action          TEXT,
		outcome         TEXT NOT NULL,
		error           TEXT,
		duration_ms     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_timestamp ON turns(timestamp);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);
	`)
	return err
}

// Record appends t. A missing ID is filled with a UUIDv7 and a zero
// timestamp with the current time.
func (s *Store) Record(ctx context.Context, t Turn) error {
	if t.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate turn ID: %w", err)
		}
		t.ID = id.String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns
			(id, timestamp, request_id, conversation_id, language, user_text, reply,
			 topic, action, outcome, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Timestamp.UTC().Format(time.RFC3339),
		t.RequestID,
		t.ConversationID,
		t.Language,
		t.UserText,
		t.Reply,
		t.Topic,
		t.Action,
		t.Outcome,
		t.Error,
		t.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// Recent returns up to limit turns, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, request_id, conversation_id, language, user_text, reply,
		        topic, action, outcome, error, duration_ms
		 FROM turns ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t                              Turn
			ts                             string
			conv, lang, topic, action, msg sql.NullString
		)
		if err := rows.Scan(&t.ID, &ts, &t.RequestID, &conv, &lang, &t.UserText, &t.Reply,
			&topic, &action, &t.Outcome, &msg, &t.DurationMs); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Timestamp, _ = time.Parse(time.RFC3339, ts)
		t.ConversationID = conv.String
		t.Language = lang.String
		t.Topic = topic.String
		t.Action = action.String
		t.Error = msg.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// Summary groups turns in [start, end) by outcome.
func (s *Store) Summary(ctx context.Context, start, end time.Time) ([]OutcomeCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*), AVG(duration_ms)
		 FROM turns
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY outcome
		 ORDER BY COUNT(*) DESC, outcome`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []OutcomeCount
	for rows.Next() {
		var oc OutcomeCount
		if err := rows.Scan(&oc.Outcome, &oc.Turns, &oc.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, oc)
	}
	return out, rows.Err()
}
