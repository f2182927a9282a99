package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Repository using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a new PostgreSQL-backed repository with a connection pool.
func NewPostgres(ctx context.Context, databaseURL string) (Repository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS tbl_chats (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		title VARCHAR(200),
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		message_count INTEGER NOT NULL DEFAULT 0,
		total_tokens_used INTEGER NOT NULL DEFAULT 0,
		last_message_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_user ON tbl_chats(user_id);

	CREATE TABLE IF NOT EXISTS tbl_chat_messages (
		id UUID PRIMARY KEY,
		chat_id UUID NOT NULL REFERENCES tbl_chats(id) ON DELETE CASCADE,
		seq BIGSERIAL,
		content TEXT NOT NULL,
		sender VARCHAR(20) NOT NULL,
		message_type VARCHAR(20) NOT NULL DEFAULT 'text',
		message_metadata JSONB,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		response_time_ms BIGINT,
		model_used VARCHAR(50),
		temperature_used DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_created ON tbl_chat_messages(chat_id, created_at);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateChat inserts a new chat record.
func (s *PostgresStore) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if chat.Status == "" {
		chat.Status = domain.ChatStatusActive
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tbl_chats (id, user_id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		chat.ID, chat.UserID, nullString(chat.Title), string(chat.Status), chat.CreatedAt, chat.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// GetChat retrieves an active chat owned by userID.
func (s *PostgresStore) GetChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	var chat domain.Chat
	var title *string
	var status string

	err := s.pool.QueryRow(ctx, `
		SELECT id::text, user_id, title, status, message_count, total_tokens_used,
		       last_message_at, created_at, updated_at
		FROM tbl_chats WHERE id::text = $1 AND user_id = $2 AND status = $3`,
		chatID, userID, string(domain.ChatStatusActive),
	).Scan(
		&chat.ID, &chat.UserID, &title, &status, &chat.MessageCount, &chat.TotalTokensUsed,
		&chat.LastMessageAt, &chat.CreatedAt, &chat.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat row: %w", err)
	}

	if title != nil {
		chat.Title = *title
	}
	chat.Status = domain.ChatStatus(status)
	return &chat, nil
}

// AppendMessage inserts a message and updates the chat aggregates.
func (s *PostgresStore) AppendMessage(ctx context.Context, userID string, msg *domain.ChatMessage) error {
	metadata, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE tbl_chats SET
			message_count = message_count + 1,
			total_tokens_used = total_tokens_used + $1,
			last_message_at = $2,
			updated_at = $2,
			title = CASE
				WHEN message_count = 0 AND $3::text = 'user' AND (title IS NULL OR title = '') THEN $4::text
				ELSE title
			END
		WHERE id::text = $5 AND user_id = $6`,
		msg.TokensUsed, msg.CreatedAt, string(msg.Sender), domain.TitleFromMessage(msg.Content),
		msg.ChatID, userID,
	)
	if err != nil {
		return fmt.Errorf("update chat metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append to %s: %w", msg.ChatID, ErrChatNotFound)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tbl_chat_messages (
			id, chat_id, content, sender, message_type, message_metadata,
			tokens_used, response_time_ms, model_used, temperature_used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.ChatID, msg.Content, string(msg.Sender), string(msg.Type), metadata,
		msg.TokensUsed, msg.ResponseTimeMs, nullString(msg.ModelUsed), msg.TemperatureUsed, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append message: %w", err)
	}
	return nil
}

// ListMessages returns a chat's messages in creation order.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]*domain.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, chat_id::text, content, sender, message_type, message_metadata::text,
		       tokens_used, response_time_ms, model_used, temperature_used, created_at
		FROM tbl_chat_messages WHERE chat_id::text = $1
		ORDER BY created_at, seq
		LIMIT $2 OFFSET $3`,
		chatID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var sender, msgType string
		var metadata, modelUsed *string
		var createdAt time.Time

		if err := rows.Scan(
			&msg.ID, &msg.ChatID, &msg.Content, &sender, &msgType, &metadata,
			&msg.TokensUsed, &msg.ResponseTimeMs, &modelUsed, &msg.TemperatureUsed, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.Sender = domain.Sender(sender)
		msg.Type = domain.MessageType(msgType)
		msg.CreatedAt = createdAt
		if modelUsed != nil {
			msg.ModelUsed = *modelUsed
		}
		if metadata != nil {
			msg.Metadata = decodeMetadata(*metadata)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
