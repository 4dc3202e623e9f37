package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Role is the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one stored history entry.
type Message struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// ConversationStore keeps question/answer history per thread. docqa uses
// the document ID as the thread and "" for questions over the whole
// collection. Implementations must be safe for concurrent use.
type ConversationStore interface {
	// AppendTurn stores a question and its answer together, or neither.
	AppendTurn(ctx context.Context, thread, question, answer string) error
	// Recent returns up to n of the newest messages of thread, oldest first.
	Recent(ctx context.Context, thread string, n int) ([]Message, error)
}

const insertMessage = `INSERT INTO conversations (thread, role, content, created_at) VALUES (?, ?, ?, ?)`

// Append stores one message.
func (s *SQLiteStore) Append(ctx context.Context, thread string, role Role, content string) error {
	if _, err := s.db.ExecContext(ctx, insertMessage, thread, string(role), content, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// AppendTurn stores question and answer in one transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, thread, question, answer string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append turn: begin: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, rollback(tx))
		}
	}()

	now := time.Now().Unix()
	for _, m := range []Message{{Role: RoleUser, Content: question}, {Role: RoleAssistant, Content: answer}} {
		if _, err = tx.ExecContext(ctx, insertMessage, thread, string(m.Role), m.Content, now); err != nil {
			return fmt.Errorf("store: append turn: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: append turn: commit: %w", err)
	}
	return nil
}

func rollback(tx *sql.Tx) error {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("store: rollback: %w", err)
	}
	return nil
}

// Recent returns up to n of the newest messages of thread, oldest first.
// n <= 0 returns nothing.
func (s *SQLiteStore) Recent(ctx context.Context, thread string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT role, content, created_at
FROM conversations
WHERE thread = ?
ORDER BY id DESC
LIMIT ?`, thread, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var newestFirst []Message
	for rows.Next() {
		var (
			role string
			ts   int64
			m    Message
		)
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: recent: scan: %w", err)
		}
		m.Role, m.CreatedAt = Role(role), time.Unix(ts, 0)
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	slices.Reverse(newestFirst)
	return newestFirst, nil
}

// ClearThread deletes every message of thread.
func (s *SQLiteStore) ClearThread(ctx context.Context, thread string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE thread = ?`, thread); err != nil {
		return fmt.Errorf("store: clear thread: %w", err)
	}
	return nil
}
