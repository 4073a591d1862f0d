package store_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amitsx/ragbot/internal/apperr"
	"github.com/amitsx/ragbot/pkg/store"
)

// stubEmbedder produces deterministic vectors so the tests run without an
// Ollama instance. Texts sharing a first byte land close together.
type stubEmbedder struct {
	dim int
}

func (e *stubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for i, r := range text {
		vec[i%e.dim] += float32(r) / 1000
	}
	return vec, nil
}

func (e *stubEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.EmbedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func testConnString(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_TEST_URL")
	if url == "" {
		t.Skip("DATABASE_TEST_URL not set")
	}
	return url
}

func newTestVectorStore(t *testing.T) *store.VectorStore {
	t.Helper()
	config := store.VectorStoreConfig{
		ConnString:  testConnString(t),
		TableName:   "test_documents",
		VectorDim:   8,
		SearchLimit: 5,
	}
	s, err := store.NewVectorStoreWithConfig(config, &stubEmbedder{dim: 8})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.ClearAll(context.Background())
		s.Close()
	})
	require.NoError(t, s.ClearAll(context.Background()))
	return s
}

func TestVectorStoreAddAndSearch(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	texts := []string{
		"vacation leave accrues at two days per month",
		"sick leave requires a medical certificate",
	}
	meta := []map[string]any{{
		"source":   "policy.txt",
		"doc_hash": "hash-policy",
	}}

	ids, err := s.AddDocuments(ctx, nil, texts, nil, meta)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	for _, id := range ids {
		assert.Contains(t, id, "doc_")
	}

	assert.True(t, s.DocumentExists("hash-policy"))
	assert.False(t, s.DocumentExists("hash-unknown"))

	results, err := s.SimilaritySearch(ctx, "vacation leave accrual", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "policy.txt", results[0].Metadata["source"])
}

func TestVectorStoreLengthMismatch(t *testing.T) {
	s := newTestVectorStore(t)

	_, err := s.AddDocuments(context.Background(),
		[]string{"only-one-id"},
		[]string{"text a", "text b"},
		nil, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestVectorStoreGetAndDelete(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	ids, err := s.AddDocuments(ctx, nil, []string{"delete me"}, nil,
		[]map[string]any{{"doc_hash": "hash-del"}})
	require.NoError(t, err)

	got, err := s.Get(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "delete me", got.Content)

	deleted, err := s.Delete(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, s.DocumentExists("hash-del"))

	deleted, err = s.Delete(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, deleted)

	got, err = s.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVectorStoreClearAll(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	_, err := s.AddDocuments(ctx, nil, []string{"a", "b", "c"}, nil,
		[]map[string]any{{"doc_hash": "hash-clear"}})
	require.NoError(t, err)

	require.NoError(t, s.ClearAll(ctx))
	assert.False(t, s.DocumentExists("hash-clear"))

	results, err := s.SimilaritySearch(ctx, "a", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func newTestConversationStore(t *testing.T) *store.ConversationStore {
	t.Helper()
	s, err := store.NewConversationStoreWithConfig(store.ConversationStoreConfig{
		ConnString: testConnString(t),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestConversationStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "", "What is the vacation policy?...", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgID, err := s.AppendMessage(ctx, id, "user", "What is the vacation policy?")
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	// The same turn appended again is dropped without error.
	dupID, err := s.AppendMessage(ctx, id, "user", "What is the vacation policy?")
	require.NoError(t, err)
	assert.Empty(t, dupID)

	_, err = s.AppendMessage(ctx, id, "assistant", "Two days per month.")
	require.NoError(t, err)

	conv, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "user", conv.Messages[0].Role)
	assert.Equal(t, "assistant", conv.Messages[1].Role)

	renamed, err := s.Rename(ctx, id, "Vacation policy")
	require.NoError(t, err)
	assert.True(t, renamed)

	deleted, err := s.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.Get(ctx, id)
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestAppendMessageConcurrentDuplicates(t *testing.T) {
	s := newTestConversationStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "", "t", nil)
	require.NoError(t, err)
	defer s.Delete(ctx, id)

	const writers = 8
	ids := make(chan string, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgID, err := s.AppendMessage(ctx, id, "user", "same content every time")
			assert.NoError(t, err)
			ids <- msgID
		}()
	}
	wg.Wait()
	close(ids)

	inserted := 0
	for msgID := range ids {
		if msgID != "" {
			inserted++
		}
	}
	assert.Equal(t, 1, inserted)

	conv, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)
}

func TestAppendMessageValidation(t *testing.T) {
	s := newTestConversationStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "", "t", nil)
	require.NoError(t, err)
	defer s.Delete(ctx, id)

	_, err = s.AppendMessage(ctx, id, "user", "   ")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	_, err = s.AppendMessage(ctx, "missing-conversation", "user", "hello")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestListOrdersByActivity(t *testing.T) {
	s := newTestConversationStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, "", "first", nil)
	require.NoError(t, err)
	defer s.Delete(ctx, first)
	second, err := s.Create(ctx, "", "second", nil)
	require.NoError(t, err)
	defer s.Delete(ctx, second)

	_, err = s.AppendMessage(ctx, first, "user", fmt.Sprintf("bump %s", first))
	require.NoError(t, err)

	conversations, err := s.List(ctx, 10, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(conversations), 2)
	assert.Equal(t, first, conversations[0].ConversationID)
	assert.Empty(t, conversations[0].Messages)
}

func TestSetSystemPromptMergesMetadata(t *testing.T) {
	s := newTestConversationStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "", "t", map[string]string{"origin": "test"})
	require.NoError(t, err)
	defer s.Delete(ctx, id)

	require.NoError(t, s.SetSystemPrompt(ctx, id, "You are terse."))

	conv, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "You are terse.", conv.Metadata["system_prompt"])
	assert.Equal(t, "test", conv.Metadata["origin"])

	err = s.SetSystemPrompt(ctx, "missing-conversation", "x")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestUploadedFileLedger(t *testing.T) {
	s := newTestConversationStore(t)
	ctx := context.Background()

	require.NoError(t, s.ClearUploadedFiles(ctx))

	seen, err := s.FileAlreadyUploaded(ctx, "hash-upload")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.RecordUploadedFile(ctx, "policy.txt", "hash-upload"))
	require.NoError(t, s.RecordUploadedFile(ctx, "policy.txt", "hash-upload"))

	seen, err = s.FileAlreadyUploaded(ctx, "hash-upload")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, s.RecordUploadedFile(ctx, "handbook.txt", "hash-handbook"))

	files, err := s.ListUploadedFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "handbook.txt", files[0].Filename)
	assert.Equal(t, "policy.txt", files[1].Filename)

	require.NoError(t, s.ClearUploadedFiles(ctx))
	seen, err = s.FileAlreadyUploaded(ctx, "hash-upload")
	require.NoError(t, err)
	assert.False(t, seen)
}
