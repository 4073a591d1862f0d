package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/amitsx/ragbot/pkg/chat"
	"github.com/amitsx/ragbot/pkg/chunker"
	"github.com/amitsx/ragbot/pkg/config"
	"github.com/amitsx/ragbot/pkg/extractor"
	"github.com/amitsx/ragbot/pkg/llm"
	"github.com/amitsx/ragbot/pkg/logger"
	"github.com/amitsx/ragbot/pkg/store"
	"github.com/amitsx/ragbot/server"
)

func main() {
	godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s: %s", e.Field, e.Message)
		}
		os.Exit(1)
	}

	command := flag.Arg(0)
	if command == "" {
		command = "serve"
	}

	if err := run(cfg, command, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

type app struct {
	conversations *store.ConversationStore
	vectors       *store.VectorStore
	chat          *chat.Service
	ingestor      *chat.Ingestor
	log           *zap.Logger
}

func newApp(cfg *config.Config) (*app, error) {
	zlog := logger.New(cfg.Logging.Path, cfg.Logging.Debug)

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   cfg.Embedder.Model,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %v", err)
	}

	generator, err := llm.NewGeneratorWithConfig(llm.GeneratorConfig{
		Model:              cfg.LLM.Model,
		BaseURL:            cfg.LLM.BaseURL,
		Temperature:        cfg.LLM.Temperature,
		MaxTokens:          cfg.LLM.MaxTokens,
		MaxContextChars:    cfg.LLM.MaxContextChars,
		MaxHistoryMessages: cfg.LLM.MaxHistoryMessages,
		Timeout:            time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generator: %v", err)
	}

	vectors, err := store.NewVectorStoreWithConfig(store.VectorStoreConfig{
		ConnString:  cfg.Database.URL,
		TableName:   cfg.Database.TableName,
		VectorDim:   cfg.Database.VectorDim,
		SearchLimit: cfg.Database.SearchLimit,
	}, embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %v", err)
	}

	conversations, err := store.NewConversationStoreWithConfig(store.ConversationStoreConfig{
		ConnString: cfg.Database.URL,
	})
	if err != nil {
		vectors.Close()
		return nil, fmt.Errorf("failed to initialize conversation store: %v", err)
	}

	chatService := chat.NewService(conversations, vectors, generator, chat.ServiceConfig{
		DefaultSystemPrompt: cfg.Chat.SystemPrompt,
		SearchLimit:         cfg.Database.SearchLimit,
	}, zlog)

	ingestor := chat.NewIngestor(
		extractor.New(),
		chunker.NewHeadingChunker(),
		chunker.NewSizeChunkerWithConfig(chunker.SizeChunkerConfig{
			ChunkSize:    cfg.Chunker.ChunkSize,
			ChunkOverlap: cfg.Chunker.ChunkOverlap,
		}),
		embedder,
		vectors,
		conversations,
		chat.IngestorConfig{
			UploadsDir:     cfg.Uploads.Dir,
			EmbedRateLimit: cfg.Embedder.RateLimit,
		},
		zlog,
	)

	return &app{
		conversations: conversations,
		vectors:       vectors,
		chat:          chatService,
		ingestor:      ingestor,
		log:           zlog,
	}, nil
}

func (a *app) close() {
	a.conversations.Close()
	a.vectors.Close()
	a.log.Sync()
}

func run(cfg *config.Config, command string, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	switch command {
	case "serve":
		return serve(cfg, a)
	case "ingest":
		if len(args) < 2 {
			return fmt.Errorf("usage: ragbot ingest <file> [file...]")
		}
		return ingest(a, args[1:])
	case "clear":
		return clear(a)
	default:
		return fmt.Errorf("unknown command %q (expected serve, ingest, or clear)", command)
	}
}

func serve(cfg *config.Config, a *app) error {
	srv := server.New(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, a.chat, a.ingestor, a.conversations, a.log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		a.log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func ingest(a *app, paths []string) error {
	color.Blue("\nIngesting %d file(s)\n", len(paths))
	bar := getProgressBar(len(paths), "Indexing documents...")

	indexed, skipped := 0, 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %v", path, err)
		}

		result, err := a.ingestor.IngestFile(context.Background(), filepath.Base(path), data)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %v", path, err)
		}

		if result.Skipped {
			skipped++
		} else {
			indexed++
		}
		bar.Add(1)
	}
	bar.Finish()

	color.Green("\n✓ Indexed %d file(s), skipped %d already processed\n", indexed, skipped)
	return nil
}

func clear(a *app) error {
	if err := a.ingestor.ClearAllDocuments(context.Background()); err != nil {
		return err
	}
	color.Green("✓ Document index cleared\n")
	return nil
}
