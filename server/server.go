package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/amitsx/ragbot/internal/models"
	"github.com/amitsx/ragbot/internal/types"
	"github.com/amitsx/ragbot/pkg/chat"
)

type Config struct {
	Host string
	Port int
}

// ChatService answers one user turn.
type ChatService interface {
	HandleTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResponse, error)
}

// Ingestor indexes uploaded files, lists them, and wipes the document index.
type Ingestor interface {
	IngestFile(ctx context.Context, filename string, data []byte) (*chat.IngestResult, error)
	ListDocuments(ctx context.Context) ([]models.UploadedFile, error)
	ClearAllDocuments(ctx context.Context) error
}

type Server struct {
	config        Config
	chat          ChatService
	ingestor      Ingestor
	conversations types.ConversationStore
	log           *zap.Logger
	httpServer    *http.Server
}

func New(config Config, chatService ChatService, ingestor Ingestor, conversations types.ConversationStore, log *zap.Logger) *Server {
	if config.Port == 0 {
		config.Port = 8000
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		config:        config,
		chat:          chatService,
		ingestor:      ingestor,
		conversations: conversations,
		log:           log,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Post("/chat", s.handleChat)
	r.Post("/upload", s.handleUpload)

	r.Route("/api", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.handleCreateConversation)
			r.Get("/", s.handleListConversations)
			r.Get("/{id}", s.handleGetConversation)
			r.Put("/{id}", s.handleRenameConversation)
			r.Delete("/{id}", s.handleDeleteConversation)
			r.Post("/{id}/messages", s.handleAppendMessage)
		})
		r.Get("/documents", s.handleListDocuments)
		r.Delete("/documents/delete-all", s.handleDeleteAllDocuments)
	})

	return r
}

func (s *Server) ListenAndServe() error {
	s.log.Info("server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %v", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
