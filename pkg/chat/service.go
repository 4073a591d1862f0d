package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/amitsx/ragbot/internal/apperr"
	"github.com/amitsx/ragbot/internal/models"
	"github.com/amitsx/ragbot/internal/types"
)

// titleLimit bounds auto-generated conversation titles.
const titleLimit = 30

type ServiceConfig struct {
	DefaultSystemPrompt string
	SearchLimit         int
}

// Service runs a full chat turn: resolve the conversation, record the user
// message, retrieve document context, generate a reply, and record it.
type Service struct {
	conversations types.ConversationStore
	vectors       types.VectorStore
	generator     types.Generator
	config        ServiceConfig
	log           *zap.Logger
}

func NewService(conversations types.ConversationStore, vectors types.VectorStore, generator types.Generator, config ServiceConfig, log *zap.Logger) *Service {
	if config.DefaultSystemPrompt == "" {
		config.DefaultSystemPrompt = "You are a helpful assistant."
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		conversations: conversations,
		vectors:       vectors,
		generator:     generator,
		config:        config,
		log:           log,
	}
}

type TurnRequest struct {
	Message        string
	ConversationID string
	SystemPrompt   string
	UseDocs        bool
}

type TurnResponse struct {
	Answer         string `json:"response"`
	ConversationID string `json:"chat_id"`
}

// HandleTurn answers one user message. Retrieval and generation failures
// degrade to fallback answers rather than errors; only validation and
// storage problems surface to the caller.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, &apperr.ValidationError{Message: "message cannot be empty"}
	}

	conversationID, err := s.resolveConversation(ctx, req, message)
	if err != nil {
		return nil, err
	}

	if _, err := s.conversations.AppendMessage(ctx, conversationID, models.RoleUser, message); err != nil {
		return nil, err
	}

	systemPrompt, history, err := s.loadContext(ctx, conversationID, req.SystemPrompt)
	if err != nil {
		return nil, s.recordFailure(ctx, conversationID, err)
	}

	var contextText string
	if req.UseDocs {
		contextText = s.retrieve(ctx, message)
	}

	answer := s.generator.Answer(ctx, message, contextText, systemPrompt, history)

	if _, err := s.conversations.AppendMessage(ctx, conversationID, models.RoleAssistant, answer); err != nil {
		return nil, s.recordFailure(ctx, conversationID, err)
	}

	s.log.Info("chat turn completed",
		zap.String("conversation_id", conversationID),
		zap.Bool("use_docs", req.UseDocs),
		zap.Int("history_messages", len(history)))

	return &TurnResponse{Answer: answer, ConversationID: conversationID}, nil
}

// resolveConversation returns an existing conversation id or creates a new
// conversation titled after the opening message.
func (s *Service) resolveConversation(ctx context.Context, req TurnRequest, message string) (string, error) {
	if req.ConversationID != "" {
		if _, err := s.conversations.Get(ctx, req.ConversationID); err != nil {
			return "", err
		}
		return req.ConversationID, nil
	}

	title := message
	// Truncate on rune boundaries; a byte slice can split a multibyte
	// character and produce invalid UTF-8, which Postgres rejects.
	if runes := []rune(title); len(runes) > titleLimit {
		title = string(runes[:titleLimit]) + "..."
	}

	var metadata map[string]string
	if req.SystemPrompt != "" {
		metadata = map[string]string{models.MetadataSystemPrompt: req.SystemPrompt}
	}

	return s.conversations.Create(ctx, "", title, metadata)
}

// loadContext resolves the effective system prompt and returns the prior
// history, excluding the user turn just appended. A prompt supplied with the
// request overrides and is persisted for subsequent turns.
func (s *Service) loadContext(ctx context.Context, conversationID, requestPrompt string) (string, []models.Message, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return "", nil, err
	}

	systemPrompt := s.config.DefaultSystemPrompt
	if stored := conv.Metadata[models.MetadataSystemPrompt]; stored != "" {
		systemPrompt = stored
	}
	if requestPrompt != "" {
		systemPrompt = requestPrompt
		if err := s.conversations.SetSystemPrompt(ctx, conversationID, requestPrompt); err != nil {
			s.log.Warn("failed to persist system prompt",
				zap.String("conversation_id", conversationID),
				zap.Error(err))
		}
	}

	history := conv.Messages
	if n := len(history); n > 0 && history[n-1].Role == models.RoleUser {
		history = history[:n-1]
	}

	return systemPrompt, history, nil
}

// retrieve fetches document context for the query. An empty index or a
// retrieval failure yields no context; the turn proceeds without it.
func (s *Service) retrieve(ctx context.Context, query string) string {
	results, err := s.vectors.SimilaritySearch(ctx, query, s.config.SearchLimit)
	if err != nil {
		s.log.Warn("document retrieval failed", zap.Error(err))
		return ""
	}

	contents := make([]string, 0, len(results))
	for _, res := range results {
		contents = append(contents, res.Content)
	}
	return strings.Join(contents, "\n\n")
}

// recordFailure notes the failure inside the conversation so the history
// shows the user turn did not get a real reply, then returns the original
// error wrapped.
func (s *Service) recordFailure(ctx context.Context, conversationID string, cause error) error {
	note := fmt.Sprintf("Error generating response: %v", cause)
	if _, err := s.conversations.AppendMessage(ctx, conversationID, models.RoleSystem, note); err != nil {
		s.log.Warn("failed to record turn failure",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
	return fmt.Errorf("chat turn failed: %w", cause)
}
