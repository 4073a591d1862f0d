package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amitsx/ragbot/internal/apperr"
	"github.com/amitsx/ragbot/internal/models"
)

type ConversationStoreConfig struct {
	ConnString string
}

// ConversationStore keeps conversations, their messages, and the ledger of
// uploaded file hashes in Postgres.
type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStoreWithConfig(config ConversationStoreConfig) (*ConversationStore, error) {
	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	cs := &ConversationStore{pool: pool}
	if err := cs.initialize(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return cs, nil
}

func (cs *ConversationStore) initialize(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			metadata JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx
			ON messages (conversation_id, timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS messages_dedup_idx
			ON messages (conversation_id, role, md5(content))`,
		`CREATE TABLE IF NOT EXISTS uploaded_files (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL,
			filehash TEXT NOT NULL UNIQUE
		)`,
	}

	for _, stmt := range stmts {
		if _, err := cs.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create conversation tables: %v", err)
		}
	}
	return nil
}

// Create starts a new conversation. A blank id is replaced with a fresh UUID
// and the chosen id is returned either way.
func (cs *ConversationStore) Create(ctx context.Context, id, title string, metadata map[string]string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if title == "" {
		title = "New chat"
	}
	if metadata == nil {
		metadata = map[string]string{}
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", &apperr.StorageError{Op: "encode conversation metadata", Err: err}
	}

	_, err = cs.pool.Exec(ctx, `
		INSERT INTO conversations (conversation_id, title, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id) DO NOTHING`,
		id, title, meta)
	if err != nil {
		return "", &apperr.StorageError{Op: "create conversation", Err: err}
	}
	return id, nil
}

// AppendMessage records one turn. A (role, content) pair already present
// anywhere in the conversation is silently dropped and an empty message id
// returned, so retried requests never duplicate history.
func (cs *ConversationStore) AppendMessage(ctx context.Context, conversationID, role, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", &apperr.ValidationError{Message: "message content cannot be empty"}
	}

	tx, err := cs.pool.Begin(ctx)
	if err != nil {
		return "", &apperr.StorageError{Op: "begin append message", Err: err}
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM conversations WHERE conversation_id = $1)",
		conversationID).Scan(&exists)
	if err != nil {
		return "", &apperr.StorageError{Op: "check conversation", Err: err}
	}
	if !exists {
		return "", &apperr.NotFoundError{Resource: "conversation", ID: conversationID}
	}

	// The messages_dedup_idx unique index arbitrates duplicates, so two
	// concurrent identical appends cannot both insert.
	messageID := uuid.NewString()
	tag, err := tx.Exec(ctx, `
		INSERT INTO messages (message_id, conversation_id, role, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, role, md5(content)) DO NOTHING`,
		messageID, conversationID, role, content)
	if err != nil {
		return "", &apperr.StorageError{Op: "insert message", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return "", nil
	}

	_, err = tx.Exec(ctx,
		"UPDATE conversations SET updated_at = now() WHERE conversation_id = $1",
		conversationID)
	if err != nil {
		return "", &apperr.StorageError{Op: "touch conversation", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", &apperr.StorageError{Op: "commit append message", Err: err}
	}
	return messageID, nil
}

// Get returns a conversation with its full message history in chronological
// order.
func (cs *ConversationStore) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	var meta []byte

	err := cs.pool.QueryRow(ctx, `
		SELECT conversation_id, title, created_at, updated_at, metadata
		FROM conversations
		WHERE conversation_id = $1`,
		conversationID).Scan(&conv.ConversationID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &apperr.NotFoundError{Resource: "conversation", ID: conversationID}
	}
	if err != nil {
		return nil, &apperr.StorageError{Op: "get conversation", Err: err}
	}

	conv.Metadata = map[string]string{}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &conv.Metadata)
	}

	rows, err := cs.pool.Query(ctx, `
		SELECT message_id, conversation_id, role, content, timestamp
		FROM messages
		WHERE conversation_id = $1
		ORDER BY timestamp ASC`,
		conversationID)
	if err != nil {
		return nil, &apperr.StorageError{Op: "get messages", Err: err}
	}
	defer rows.Close()

	conv.Messages = []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.MessageID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, &apperr.StorageError{Op: "scan message", Err: err}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperr.StorageError{Op: "get messages", Err: err}
	}

	return &conv, nil
}

// List returns conversation summaries without messages, most recently
// updated first.
func (cs *ConversationStore) List(ctx context.Context, limit, offset int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := cs.pool.Query(ctx, `
		SELECT conversation_id, title, created_at, updated_at, metadata
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, &apperr.StorageError{Op: "list conversations", Err: err}
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		var conv models.Conversation
		var meta []byte
		if err := rows.Scan(&conv.ConversationID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt, &meta); err != nil {
			return nil, &apperr.StorageError{Op: "scan conversation", Err: err}
		}
		conv.Metadata = map[string]string{}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &conv.Metadata)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperr.StorageError{Op: "list conversations", Err: err}
	}

	return conversations, nil
}

// Rename updates a conversation title, reporting whether it existed.
func (cs *ConversationStore) Rename(ctx context.Context, conversationID, title string) (bool, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return false, &apperr.ValidationError{Message: "title cannot be empty"}
	}

	tag, err := cs.pool.Exec(ctx, `
		UPDATE conversations
		SET title = $2, updated_at = now()
		WHERE conversation_id = $1`,
		conversationID, title)
	if err != nil {
		return false, &apperr.StorageError{Op: "rename conversation", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a conversation and all its messages, reporting whether it
// existed.
func (cs *ConversationStore) Delete(ctx context.Context, conversationID string) (bool, error) {
	tx, err := cs.pool.Begin(ctx)
	if err != nil {
		return false, &apperr.StorageError{Op: "begin delete conversation", Err: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM messages WHERE conversation_id = $1", conversationID); err != nil {
		return false, &apperr.StorageError{Op: "delete messages", Err: err}
	}

	tag, err := tx.Exec(ctx, "DELETE FROM conversations WHERE conversation_id = $1", conversationID)
	if err != nil {
		return false, &apperr.StorageError{Op: "delete conversation", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, &apperr.StorageError{Op: "commit delete conversation", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

// SetSystemPrompt stores the per-conversation system prompt in metadata.
// The update merges into existing metadata so other keys survive.
func (cs *ConversationStore) SetSystemPrompt(ctx context.Context, conversationID, prompt string) error {
	patch, err := json.Marshal(map[string]string{models.MetadataSystemPrompt: prompt})
	if err != nil {
		return &apperr.StorageError{Op: "encode system prompt", Err: err}
	}

	tag, err := cs.pool.Exec(ctx, `
		UPDATE conversations
		SET metadata = metadata || $2::jsonb, updated_at = now()
		WHERE conversation_id = $1`,
		conversationID, patch)
	if err != nil {
		return &apperr.StorageError{Op: "set system prompt", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &apperr.NotFoundError{Resource: "conversation", ID: conversationID}
	}
	return nil
}

// FileAlreadyUploaded reports whether a file with this content hash was
// ingested before.
func (cs *ConversationStore) FileAlreadyUploaded(ctx context.Context, filehash string) (bool, error) {
	var exists bool
	err := cs.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM uploaded_files WHERE filehash = $1)",
		filehash).Scan(&exists)
	if err != nil {
		return false, &apperr.StorageError{Op: "check uploaded file", Err: err}
	}
	return exists, nil
}

func (cs *ConversationStore) RecordUploadedFile(ctx context.Context, filename, filehash string) error {
	_, err := cs.pool.Exec(ctx, `
		INSERT INTO uploaded_files (filename, filehash)
		VALUES ($1, $2)
		ON CONFLICT (filehash) DO NOTHING`,
		filename, filehash)
	if err != nil {
		return &apperr.StorageError{Op: "record uploaded file", Err: err}
	}
	return nil
}

// ListUploadedFiles returns every processed upload, newest first.
func (cs *ConversationStore) ListUploadedFiles(ctx context.Context) ([]models.UploadedFile, error) {
	rows, err := cs.pool.Query(ctx,
		"SELECT id, filename, filehash FROM uploaded_files ORDER BY id DESC")
	if err != nil {
		return nil, &apperr.StorageError{Op: "list uploaded files", Err: err}
	}
	defer rows.Close()

	files := []models.UploadedFile{}
	for rows.Next() {
		var f models.UploadedFile
		if err := rows.Scan(&f.ID, &f.Filename, &f.Filehash); err != nil {
			return nil, &apperr.StorageError{Op: "scan uploaded file", Err: err}
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperr.StorageError{Op: "list uploaded files", Err: err}
	}
	return files, nil
}

// ClearUploadedFiles empties the upload ledger so previously ingested files
// can be ingested again after the document index is wiped.
func (cs *ConversationStore) ClearUploadedFiles(ctx context.Context) error {
	if _, err := cs.pool.Exec(ctx, "DELETE FROM uploaded_files"); err != nil {
		return &apperr.StorageError{Op: "clear uploaded files", Err: err}
	}
	return nil
}

func (cs *ConversationStore) Close() {
	if cs.pool != nil {
		cs.pool.Close()
	}
}
