package domain

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// MessageType categorizes message content.
type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeImage      MessageType = "image"
	MessageTypeFile       MessageType = "file"
	MessageTypeCode       MessageType = "code"
	MessageTypeSystemInfo MessageType = "system_info"
	MessageTypeError      MessageType = "error"
)

// ChatMessage is a persisted chat turn.
type ChatMessage struct {
	ID              string         `json:"id"`
	ChatID          string         `json:"chat_id"`
	Content         string         `json:"content"`
	Sender          Sender         `json:"sender"`
	Type            MessageType    `json:"message_type"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	TokensUsed      int            `json:"tokens_used"`
	ResponseTimeMs  *int64         `json:"response_time_ms,omitempty"`
	ModelUsed       string         `json:"model_used,omitempty"`
	TemperatureUsed *float64       `json:"temperature_used,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// IsFromUser reports whether the user authored the message.
func (m *ChatMessage) IsFromUser() bool {
	return m.Sender == SenderUser
}
