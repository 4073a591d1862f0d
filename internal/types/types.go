package types

import (
	"context"

	"github.com/amitsx/ragbot/internal/models"
)

// Core interfaces

// Embedder maps text to fixed-length vectors. EmbedMany results are aligned
// 1:1 and order-preserving with the input.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits extracted text into retrieval-sized passages. Pure function
// of its input; output passages are trimmed and non-empty.
type Chunker interface {
	Chunk(text string) []string
}

// Extractor converts a raw uploaded file into plain text, keyed on the
// filename extension.
type Extractor interface {
	Extract(data []byte, filename string) (string, error)
}

// Generator produces a single complete answer per call. It never returns an
// error: transport failures and blank replies are absorbed into fixed
// fallback strings so the conversation pipeline always has an assistant turn
// to record.
type Generator interface {
	Answer(ctx context.Context, query, contextText, systemPrompt string, history []models.Message) string
}

// VectorStore is durable similarity-searchable chunk storage.
type VectorStore interface {
	DocumentExists(docHash string) bool
	AddDocuments(ctx context.Context, ids, texts []string, embeddings [][]float32, metadatas []map[string]any) ([]string, error)
	SimilaritySearch(ctx context.Context, query string, topK int) ([]models.SearchResult, error)
	Get(ctx context.Context, id string) (*models.SearchResult, error)
	Delete(ctx context.Context, id string) (bool, error)
	ClearAll(ctx context.Context) error
	Close()
}

// ConversationStore persists conversations, their ordered messages, and the
// uploaded-file dedup records.
type ConversationStore interface {
	Create(ctx context.Context, id, title string, metadata map[string]string) (string, error)
	AppendMessage(ctx context.Context, conversationID, role, content string) (string, error)
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)
	List(ctx context.Context, limit, offset int) ([]models.Conversation, error)
	Rename(ctx context.Context, conversationID, title string) (bool, error)
	Delete(ctx context.Context, conversationID string) (bool, error)
	SetSystemPrompt(ctx context.Context, conversationID, prompt string) error
	FileAlreadyUploaded(ctx context.Context, filehash string) (bool, error)
	RecordUploadedFile(ctx context.Context, filename, filehash string) error
	ListUploadedFiles(ctx context.Context) ([]models.UploadedFile, error)
	ClearUploadedFiles(ctx context.Context) error
	Close()
}
