package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/domain"
	_ "modernc.org/sqlite"
)

const sqlitePragmas = "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// modernc applies _pragma parameters to every pooled connection.
	dsn := dbPath + sqlitePragmas
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		message_count INTEGER NOT NULL DEFAULT 0,
		total_tokens_used INTEGER NOT NULL DEFAULT 0,
		last_message_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id),
		content TEXT NOT NULL,
		sender TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		message_metadata TEXT,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		response_time_ms INTEGER,
		model_used TEXT,
		temperature_used REAL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_created ON chat_messages(chat_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateChat inserts a new chat record.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if chat.Status == "" {
		chat.Status = domain.ChatStatusActive
	}
	query := `
	INSERT INTO chats (id, user_id, title, status, message_count, total_tokens_used, created_at, updated_at)
	VALUES (?, ?, ?, ?, 0, 0, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		chat.ID, chat.UserID, nullString(chat.Title), string(chat.Status),
		chat.CreatedAt.UnixMilli(), chat.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// GetChat retrieves an active chat owned by userID.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	query := `
		SELECT id, user_id, title, status, message_count, total_tokens_used,
		       last_message_at, created_at, updated_at
		FROM chats WHERE id = ? AND user_id = ? AND status = ?`

	row := s.db.QueryRowContext(ctx, query, chatID, userID, string(domain.ChatStatusActive))

	var chat domain.Chat
	var title sql.NullString
	var status string
	var lastMessageAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&chat.ID, &chat.UserID, &title, &status, &chat.MessageCount, &chat.TotalTokensUsed,
		&lastMessageAt, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat row: %w", err)
	}

	chat.Title = title.String
	chat.Status = domain.ChatStatus(status)
	chat.CreatedAt = time.UnixMilli(createdAt)
	chat.UpdatedAt = time.UnixMilli(updatedAt)
	if lastMessageAt.Valid {
		ts := time.UnixMilli(lastMessageAt.Int64)
		chat.LastMessageAt = &ts
	}

	return &chat, nil
}

// AppendMessage inserts a message and updates the chat aggregates.
func (s *SQLiteStore) AppendMessage(ctx context.Context, userID string, msg *domain.ChatMessage) error {
	metadata, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back append message", "error", rbErr, "chat_id", msg.ChatID)
		}
	}()

	now := msg.CreatedAt.UnixMilli()
	result, err := tx.ExecContext(ctx, `
		UPDATE chats SET
			message_count = message_count + 1,
			total_tokens_used = total_tokens_used + ?,
			last_message_at = ?,
			updated_at = ?,
			title = CASE
				WHEN message_count = 0 AND ? = 'user' AND (title IS NULL OR title = '') THEN ?
				ELSE title
			END
		WHERE id = ? AND user_id = ?`,
		msg.TokensUsed, now, now,
		string(msg.Sender), domain.TitleFromMessage(msg.Content),
		msg.ChatID, userID,
	)
	if err != nil {
		return fmt.Errorf("update chat metrics: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("append to %s: %w", msg.ChatID, ErrChatNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (
			id, chat_id, content, sender, message_type, message_metadata,
			tokens_used, response_time_ms, model_used, temperature_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Content, string(msg.Sender), string(msg.Type), metadata,
		msg.TokensUsed, msg.ResponseTimeMs, nullString(msg.ModelUsed), msg.TemperatureUsed, now,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append message: %w", err)
	}
	return nil
}

// ListMessages returns a chat's messages in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]*domain.ChatMessage, error) {
	query := `
		SELECT id, chat_id, content, sender, message_type, message_metadata,
		       tokens_used, response_time_ms, model_used, temperature_used, created_at
		FROM chat_messages WHERE chat_id = ?
		ORDER BY created_at, rowid
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var sender, msgType string
		var metadata, modelUsed sql.NullString
		var responseTime sql.NullInt64
		var temperature sql.NullFloat64
		var createdAt int64

		if err := rows.Scan(
			&msg.ID, &msg.ChatID, &msg.Content, &sender, &msgType, &metadata,
			&msg.TokensUsed, &responseTime, &modelUsed, &temperature, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.Sender = domain.Sender(sender)
		msg.Type = domain.MessageType(msgType)
		msg.ModelUsed = modelUsed.String
		msg.CreatedAt = time.UnixMilli(createdAt)
		if responseTime.Valid {
			v := responseTime.Int64
			msg.ResponseTimeMs = &v
		}
		if temperature.Valid {
			v := temperature.Float64
			msg.TemperatureUsed = &v
		}
		if metadata.Valid {
			msg.Metadata = decodeMetadata(metadata.String)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func encodeMetadata(m map[string]any) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		slog.Debug("ignoring malformed message metadata", "error", err)
		return nil
	}
	return m
}
