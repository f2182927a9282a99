// Package domain contains core domain types for the Wey assistant backend.
package domain

import (
	"strings"
	"time"
)

// ChatStatus is the lifecycle state of a chat.
type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusArchived ChatStatus = "archived"
	ChatStatusDeleted  ChatStatus = "deleted"
)

// Chat is a conversation between a user and the assistant.
type Chat struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Title           string     `json:"title,omitempty"`
	Status          ChatStatus `json:"status"`
	MessageCount    int        `json:"message_count"`
	TotalTokensUsed int        `json:"total_tokens_used"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsActive returns true if the chat accepts new messages.
func (c *Chat) IsActive() bool {
	return c.Status == ChatStatusActive
}

// TitleFromMessage derives a chat title from its first user message.
// Up to six words are kept, capped at 50 characters.
func TitleFromMessage(first string) string {
	trimmed := strings.TrimSpace(first)
	words := strings.Fields(trimmed)
	if len(words) <= 6 {
		return trimmed
	}

	title := strings.Join(words[:6], " ")
	if runes := []rune(title); len(runes) > 50 {
		title = string(runes[:47]) + "..."
	}
	return title
}
