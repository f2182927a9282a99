// Package agent connects chat turns to a text generation backend and adapts
// its push-style token output into a channel the stream coordinator reads.
package agent

// Role identifies the author of a conversation message.
type Role string

// Conversation roles understood by every backend.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest carries everything a backend needs for one completion.
type GenerateRequest struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
	// Stream asks the backend for incremental tokens. When false the whole
	// reply is emitted as a single token.
	Stream bool
	UserID string
}

// ChunkKind tags a Chunk.
type ChunkKind int

// Chunk kinds. Done and Error are terminal and mutually exclusive.
const (
	ChunkToken ChunkKind = iota
	ChunkDone
	ChunkError
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkToken:
		return "token"
	case ChunkDone:
		return "done"
	case ChunkError:
		return "error"
	default:
		return "unknown"
	}
}

// Chunk is one item read from a generation task.
type Chunk struct {
	Kind ChunkKind
	Text string
	Err  error
}

// TokenChunk wraps a generated token.
func TokenChunk(text string) Chunk { return Chunk{Kind: ChunkToken, Text: text} }

// DoneChunk marks normal completion.
func DoneChunk() Chunk { return Chunk{Kind: ChunkDone} }

// ErrorChunk marks a failed generation.
func ErrorChunk(err error) Chunk { return Chunk{Kind: ChunkError, Err: err} }
