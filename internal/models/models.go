package models

import "time"

// Message roles accepted by the conversation store.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MetadataSystemPrompt is the conversation metadata key holding the active
// system prompt.
const MetadataSystemPrompt = "system_prompt"

// Chunk is a single retrieval unit: a passage of text plus its embedding,
// keyed by an opaque id.
type Chunk struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]any
}

// SearchResult is one similarity-search hit, best matches first.
type SearchResult struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Conversation owns an ordered sequence of messages. Messages is only
// populated by lookups of a single conversation, never by listings.
type Conversation struct {
	ConversationID string            `json:"conversation_id"`
	Title          string            `json:"title"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Metadata       map[string]string `json:"metadata"`
	Messages       []Message         `json:"messages,omitempty"`
}

// Message is immutable once created. Timestamp is the replay ordering key.
type Message struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// UploadedFile records a processed upload, unique on Filehash.
type UploadedFile struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	Filehash string `json:"filehash"`
}
