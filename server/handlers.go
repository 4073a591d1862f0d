package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/amitsx/ragbot/internal/apperr"
	"github.com/amitsx/ragbot/pkg/chat"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 32 << 20

type chatRequest struct {
	Message      string `json:"message"`
	ChatID       string `json:"chat_id"`
	UseDocs      bool   `json:"use_docs"`
	SystemPrompt string `json:"system_prompt"`
}

type createConversationRequest struct {
	Title    string            `json:"title"`
	Metadata map[string]string `json:"metadata"`
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

type appendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type uploadResponse struct {
	Message  string `json:"message"`
	FilePath string `json:"file_path,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &apperr.ValidationError{Message: "invalid JSON body"})
		return
	}

	resp, err := s.chat.HandleTurn(r.Context(), chat.TurnRequest{
		Message:        req.Message,
		ConversationID: req.ChatID,
		SystemPrompt:   req.SystemPrompt,
		UseDocs:        req.UseDocs,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, &apperr.ValidationError{Message: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, &apperr.ValidationError{Message: "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.ingestor.IngestFile(r.Context(), header.Filename, data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if result.Skipped {
		s.writeJSON(w, http.StatusOK, uploadResponse{
			Message: fmt.Sprintf("Document '%s' has already been processed.", result.Filename),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, uploadResponse{
		Message:  fmt.Sprintf("Document '%s' processed and stored successfully", result.Filename),
		FilePath: result.FilePath,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	files, err := s.ingestor.ListDocuments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &apperr.ValidationError{Message: "invalid JSON body"})
		return
	}

	id, err := s.conversations.Create(r.Context(), "", req.Title, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"conversation_id": id})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	conversations, err := s.conversations.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.conversations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var req renameConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &apperr.ValidationError{Message: "invalid JSON body"})
		return
	}

	id := chi.URLParam(r, "id")
	renamed, err := s.conversations.Rename(r.Context(), id, req.Title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !renamed {
		s.writeError(w, &apperr.NotFoundError{Resource: "conversation", ID: id})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"conversation_id": id, "title": req.Title})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := s.conversations.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !deleted {
		s.writeError(w, &apperr.NotFoundError{Resource: "conversation", ID: id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &apperr.ValidationError{Message: "invalid JSON body"})
		return
	}

	messageID, err := s.conversations.AppendMessage(r.Context(), chi.URLParam(r, "id"), req.Role, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"message_id": messageID})
}

func (s *Server) handleDeleteAllDocuments(w http.ResponseWriter, r *http.Request) {
	if err := s.ingestor.ClearAllDocuments(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.IsValidation(err), apperr.IsUnsupportedFormat(err):
		status = http.StatusBadRequest
	case apperr.IsNotFound(err):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
