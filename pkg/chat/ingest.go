package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/amitsx/ragbot/internal/models"
	"github.com/amitsx/ragbot/internal/types"
)

type IngestorConfig struct {
	UploadsDir string
	// Embedding requests per second. Zero disables throttling.
	EmbedRateLimit float64
}

// Ingestor turns an uploaded file into embedded chunks in the vector store.
// Content hashes deduplicate uploads, so the same bytes are never indexed
// twice.
type Ingestor struct {
	extractor      types.Extractor
	headingChunker types.Chunker
	sizeChunker    types.Chunker
	embedder       types.Embedder
	vectors        types.VectorStore
	conversations  types.ConversationStore
	config         IngestorConfig
	limiter        *rate.Limiter
	log            *zap.Logger
}

func NewIngestor(extractor types.Extractor, headingChunker, sizeChunker types.Chunker, embedder types.Embedder, vectors types.VectorStore, conversations types.ConversationStore, config IngestorConfig, log *zap.Logger) *Ingestor {
	if config.UploadsDir == "" {
		config.UploadsDir = "uploads"
	}
	var limiter *rate.Limiter
	if config.EmbedRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.EmbedRateLimit), 1)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{
		extractor:      extractor,
		headingChunker: headingChunker,
		sizeChunker:    sizeChunker,
		embedder:       embedder,
		vectors:        vectors,
		conversations:  conversations,
		config:         config,
		limiter:        limiter,
		log:            log,
	}
}

type IngestResult struct {
	Filename string `json:"filename"`
	FilePath string `json:"file_path,omitempty"`
	Chunks   int    `json:"chunks"`
	Skipped  bool   `json:"skipped"`
}

// IngestFile saves the upload, extracts and chunks its text, embeds every
// chunk, and persists them. A file whose content hash was seen before is
// skipped. On failure the saved copy is removed and nothing is indexed.
func (ing *Ingestor) IngestFile(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	sum := sha256.Sum256(data)
	docHash := hex.EncodeToString(sum[:])

	seen, err := ing.conversations.FileAlreadyUploaded(ctx, docHash)
	if err != nil {
		return nil, err
	}
	if seen || ing.vectors.DocumentExists(docHash) {
		ing.log.Info("skipping already processed file",
			zap.String("filename", filename),
			zap.String("doc_hash", docHash))
		return &IngestResult{Filename: filename, Skipped: true}, nil
	}

	savedPath, err := ing.saveUpload(filename, data)
	if err != nil {
		return nil, err
	}

	result, err := ing.index(ctx, filename, savedPath, docHash, data)
	if err != nil {
		os.Remove(savedPath)
		return nil, err
	}
	return result, nil
}

func (ing *Ingestor) index(ctx context.Context, filename, savedPath, docHash string, data []byte) (*IngestResult, error) {
	text, err := ing.extractor.Extract(data, filename)
	if err != nil {
		return nil, err
	}

	chunks := ing.headingChunker.Chunk(text)
	if len(chunks) <= 1 {
		chunks = ing.sizeChunker.Chunk(text)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text extracted from %s", filename)
	}

	embeddings := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		if ing.limiter != nil {
			if err := ing.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		embedding, err := ing.embedder.EmbedOne(ctx, chunk)
		if err != nil {
			return nil, err
		}
		embeddings[i] = embedding
	}

	metadata := []map[string]any{{
		"source":    filename,
		"file_path": savedPath,
		"doc_hash":  docHash,
	}}

	if _, err := ing.vectors.AddDocuments(ctx, nil, chunks, embeddings, metadata); err != nil {
		return nil, err
	}

	if err := ing.conversations.RecordUploadedFile(ctx, filename, docHash); err != nil {
		return nil, err
	}

	ing.log.Info("file ingested",
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)))

	return &IngestResult{Filename: filename, FilePath: savedPath, Chunks: len(chunks)}, nil
}

// ListDocuments returns the processed uploads on record, newest first.
func (ing *Ingestor) ListDocuments(ctx context.Context) ([]models.UploadedFile, error) {
	return ing.conversations.ListUploadedFiles(ctx)
}

// saveUpload writes the raw upload under the uploads directory with a
// timestamp prefix so repeated filenames never collide.
func (ing *Ingestor) saveUpload(filename string, data []byte) (string, error) {
	if err := os.MkdirAll(ing.config.UploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create uploads directory: %v", err)
	}

	name := fmt.Sprintf("%s_%s", time.Now().Format("20060102_150405"), filepath.Base(filename))
	path := filepath.Join(ing.config.UploadsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save upload: %v", err)
	}
	return path, nil
}

// ClearAllDocuments wipes the vector index, the upload ledger, and the saved
// upload files.
func (ing *Ingestor) ClearAllDocuments(ctx context.Context) error {
	if err := ing.vectors.ClearAll(ctx); err != nil {
		return err
	}
	if err := ing.conversations.ClearUploadedFiles(ctx); err != nil {
		return err
	}

	entries, err := os.ReadDir(ing.config.UploadsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read uploads directory: %v", err)
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(ing.config.UploadsDir, entry.Name())); err != nil {
			ing.log.Warn("failed to remove upload", zap.String("name", entry.Name()), zap.Error(err))
		}
	}
	return nil
}
