package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amitsx/ragbot/internal/apperr"
	"github.com/amitsx/ragbot/internal/models"
	"github.com/amitsx/ragbot/pkg/chat"
	"github.com/amitsx/ragbot/server"
)

type fakeChat struct {
	lastReq chat.TurnRequest
}

func (f *fakeChat) HandleTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResponse, error) {
	f.lastReq = req
	if strings.TrimSpace(req.Message) == "" {
		return nil, &apperr.ValidationError{Message: "message cannot be empty"}
	}
	if req.ConversationID == "missing" {
		return nil, &apperr.NotFoundError{Resource: "conversation", ID: req.ConversationID}
	}
	return &chat.TurnResponse{Answer: "Two days per month.", ConversationID: "conv-1"}, nil
}

type fakeIngest struct {
	cleared bool
}

func (f *fakeIngest) IngestFile(ctx context.Context, filename string, data []byte) (*chat.IngestResult, error) {
	if strings.HasSuffix(filename, ".pptx") {
		return nil, &apperr.UnsupportedFormatError{Ext: ".pptx"}
	}
	if strings.HasSuffix(filename, ".dup.txt") {
		return &chat.IngestResult{Filename: filename, Skipped: true}, nil
	}
	return &chat.IngestResult{Filename: filename, FilePath: "uploads/20250101_120000_" + filename, Chunks: 2}, nil
}

func (f *fakeIngest) ListDocuments(ctx context.Context) ([]models.UploadedFile, error) {
	return []models.UploadedFile{
		{ID: 2, Filename: "handbook.txt", Filehash: "hash-2"},
		{ID: 1, Filename: "policy.txt", Filehash: "hash-1"},
	}, nil
}

func (f *fakeIngest) ClearAllDocuments(ctx context.Context) error {
	f.cleared = true
	return nil
}

type fakeStore struct {
	conversations map[string]*models.Conversation
}

func newFakeStore() *fakeStore {
	return &fakeStore{conversations: map[string]*models.Conversation{}}
}

func (f *fakeStore) Create(ctx context.Context, id, title string, metadata map[string]string) (string, error) {
	if id == "" {
		id = "conv-1"
	}
	f.conversations[id] = &models.Conversation{ConversationID: id, Title: title, Metadata: metadata}
	return id, nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, conversationID, role, content string) (string, error) {
	if _, ok := f.conversations[conversationID]; !ok {
		return "", &apperr.NotFoundError{Resource: "conversation", ID: conversationID}
	}
	if strings.TrimSpace(content) == "" {
		return "", &apperr.ValidationError{Message: "message content cannot be empty"}
	}
	return "msg-1", nil
}

func (f *fakeStore) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, ok := f.conversations[conversationID]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "conversation", ID: conversationID}
	}
	return conv, nil
}

func (f *fakeStore) List(ctx context.Context, limit, offset int) ([]models.Conversation, error) {
	out := []models.Conversation{}
	for _, conv := range f.conversations {
		out = append(out, *conv)
	}
	return out, nil
}

func (f *fakeStore) Rename(ctx context.Context, conversationID, title string) (bool, error) {
	conv, ok := f.conversations[conversationID]
	if ok {
		conv.Title = title
	}
	return ok, nil
}

func (f *fakeStore) Delete(ctx context.Context, conversationID string) (bool, error) {
	_, ok := f.conversations[conversationID]
	delete(f.conversations, conversationID)
	return ok, nil
}

func (f *fakeStore) SetSystemPrompt(ctx context.Context, conversationID, prompt string) error {
	return nil
}

func (f *fakeStore) FileAlreadyUploaded(ctx context.Context, filehash string) (bool, error) {
	return false, nil
}

func (f *fakeStore) RecordUploadedFile(ctx context.Context, filename, filehash string) error {
	return nil
}

func (f *fakeStore) ListUploadedFiles(ctx context.Context) ([]models.UploadedFile, error) {
	return []models.UploadedFile{}, nil
}

func (f *fakeStore) ClearUploadedFiles(ctx context.Context) error { return nil }

func (f *fakeStore) Close() {}

func newTestServer() (*server.Server, *fakeChat, *fakeIngest, *fakeStore) {
	chatSvc := &fakeChat{}
	ingest := &fakeIngest{}
	store := newFakeStore()
	srv := server.New(server.Config{}, chatSvc, ingest, store, nil)
	return srv, chatSvc, ingest, store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := newTestServer()
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestChatEndpoint(t *testing.T) {
	srv, chatSvc, _, _ := newTestServer()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/chat", map[string]any{
		"message":  "vacation policy?",
		"use_docs": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Two days per month.", resp["response"])
	assert.Equal(t, "conv-1", resp["chat_id"])
	assert.True(t, chatSvc.lastReq.UseDocs)
}

func TestChatEndpointValidation(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/chat", map[string]any{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestChatEndpointNotFound(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/chat", map[string]any{
		"message": "hello",
		"chat_id": "missing",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "policy.txt", []byte("1. Vacation Leave\ntext")))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Document 'policy.txt' processed and stored successfully", resp["message"])
	assert.Equal(t, "uploads/20250101_120000_policy.txt", resp["file_path"])
}

func TestUploadEndpointAlreadyProcessed(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "policy.dup.txt", []byte("same bytes")))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Document 'policy.dup.txt' has already been processed.", resp["message"])
	assert.NotContains(t, rec.Body.String(), "file_path")
}

func TestListDocumentsEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Files []models.UploadedFile `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 2)
	assert.Equal(t, "handbook.txt", resp.Files[0].Filename)
	assert.Equal(t, int64(2), resp.Files[0].ID)
}

func TestUploadEndpointUnsupportedFormat(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "slides.pptx", []byte("binary")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported file format")
}

func TestUploadEndpointMissingFile(t *testing.T) {
	srv, _, _, _ := newTestServer()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationEndpoints(t *testing.T) {
	srv, _, _, store := newTestServer()
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/conversations", map[string]any{"title": "Leave questions"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["conversation_id"]
	require.NotEmpty(t, id)

	rec = doJSON(t, handler, http.MethodGet, "/api/conversations", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/conversations/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Leave questions")

	rec = doJSON(t, handler, http.MethodPut, "/api/conversations/"+id, map[string]any{"title": "Renamed"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", store.conversations[id].Title)

	rec = doJSON(t, handler, http.MethodPost, "/api/conversations/"+id+"/messages", map[string]any{
		"role":    "user",
		"content": "hello",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodDelete, "/api/conversations/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/conversations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodPut, "/api/conversations/"+id, map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAllDocuments(t *testing.T) {
	srv, _, ingest, _ := newTestServer()

	rec := doJSON(t, srv.Handler(), http.MethodDelete, "/api/documents/delete-all", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ingest.cleared)
}
