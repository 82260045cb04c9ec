package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"agentbuilder/api/services/llm"
)

// Querier is the subset of pgx used by PgStore.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore persists conversations in PostgreSQL. Ordering within a
// conversation comes from a BIGSERIAL column.
type PgStore struct {
	db Querier
}

// NewPgStore creates a store over db.
func NewPgStore(db Querier) *PgStore {
	return &PgStore{db: db}
}

// InitSchema creates the conversation tables if they do not exist.
func (s *PgStore) InitSchema(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			seq             BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			tool_call_id    TEXT NOT NULL DEFAULT '',
			tool_calls      JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_conversation
			ON conversation_messages (conversation_id, seq)`,
	} {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init conversation schema: %w", err)
		}
	}
	return nil
}

func (s *PgStore) Create(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `INSERT INTO conversations (id) VALUES ($1)`, id); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *PgStore) Load(ctx context.Context, id string) ([]llm.Message, error) {
	var exists int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM conversations WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT role, content, tool_call_id, tool_calls
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	msgs := []llm.Message{}
	for rows.Next() {
		var m llm.Message
		var calls []byte
		if err := rows.Scan(&m.Role, &m.Content, &m.ToolCallID, &calls); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if m.ToolCalls, err = unmarshalToolCalls(calls); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return msgs, nil
}

func (s *PgStore) Append(ctx context.Context, id string, msgs ...llm.Message) error {
	for _, m := range msgs {
		calls, err := marshalToolCalls(m.ToolCalls)
		if err != nil {
			return err
		}
		_, err = s.db.Exec(ctx, `
			INSERT INTO conversation_messages (conversation_id, role, content, tool_call_id, tool_calls)
			VALUES ($1, $2, $3, $4, $5)
		`, id, m.Role, m.Content, m.ToolCallID, calls)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return ErrConversationNotFound
			}
			return fmt.Errorf("append message: %w", err)
		}
	}
	return nil
}
