// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/domain"
)

// ErrChatNotFound is returned when a write targets a chat the user does not own.
var ErrChatNotFound = errors.New("chat not found")

// Repository defines the interface for persisting chats and their messages.
type Repository interface {
	// CreateChat inserts a new chat record.
	CreateChat(ctx context.Context, chat *domain.Chat) error

	// GetChat retrieves an active chat owned by userID.
	// Returns nil, nil when the chat does not exist, is not active, or belongs to another user.
	GetChat(ctx context.Context, chatID, userID string) (*domain.Chat, error)

	// AppendMessage inserts a message and updates the owning chat's aggregates
	// (message count, token total, last-activity timestamp) in one transaction.
	AppendMessage(ctx context.Context, userID string, msg *domain.ChatMessage) error

	// ListMessages returns a chat's messages in creation order.
	ListMessages(ctx context.Context, chatID string, limit, offset int) ([]*domain.ChatMessage, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
